// Package statemachine implements C3: the single allowed transition of a
// Workflow out of pending, guarded by a SQL transaction so a double-click
// on the approve/reject buttons can only ever apply once.
package statemachine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/c360studio/relbot/pkg/relbot/model"
	"github.com/c360studio/relbot/pkg/sqlstore"
)

// ErrAlreadyDecided is returned when a workflow is no longer pending.
var ErrAlreadyDecided = errors.New("statemachine: workflow already decided")

// Machine applies workflow decisions.
type Machine struct {
	store *sqlstore.Store
}

// New builds a Machine over store.
func New(store *sqlstore.Store) *Machine {
	return &Machine{store: store}
}

// Decide applies an approve/reject decision to workflowID and returns the
// workflow in its new state. Calling this twice for the same workflow
// returns ErrAlreadyDecided on the second call (spec property: a workflow
// transitions out of pending exactly once).
func (m *Machine) Decide(ctx context.Context, workflowID string, approved bool, approverID, approverUsername, comment string) (*model.Workflow, error) {
	now := time.Now()
	if err := m.store.ApplyApproval(ctx, workflowID, approved, approverID, approverUsername, comment, now); err != nil {
		if errors.Is(err, sqlstore.ErrNotFound) {
			return nil, fmt.Errorf("statemachine: %w", err)
		}
		// The workflow exists: report ErrAlreadyDecided only if it has left
		// pending, and pass any other store error through unchanged.
		if wf, getErr := m.store.GetWorkflow(ctx, workflowID); getErr == nil && wf.Status != model.StatusPending {
			return nil, fmt.Errorf("%w: %s", ErrAlreadyDecided, workflowID)
		}
		return nil, fmt.Errorf("statemachine: %w", err)
	}
	wf, err := m.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("statemachine: reload after decision: %w", err)
	}
	return wf, nil
}
