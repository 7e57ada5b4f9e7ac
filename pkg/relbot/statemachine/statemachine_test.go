package statemachine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/c360studio/relbot/pkg/relbot/model"
	"github.com/c360studio/relbot/pkg/sqlstore"
)

func newStore(t *testing.T) *sqlstore.Store {
	t.Helper()
	store, err := sqlstore.Open(context.Background(), ":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestDecide_ApprovedThenRejectedFails(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	m := New(store)

	wf := &model.Workflow{WorkflowID: "WF-20260731-11111111", Timestamp: time.Now().Unix(), UserID: "1", Username: "carol", Project: "payments", SubmissionData: "{}"}
	require.NoError(t, store.CreateWorkflow(ctx, wf))

	decided, err := m.Decide(ctx, wf.WorkflowID, true, "9", "approver", "lgtm")
	require.NoError(t, err)
	require.Equal(t, model.StatusApproved, decided.Status)

	_, err = m.Decide(ctx, wf.WorkflowID, false, "9", "approver", "actually no")
	require.ErrorIs(t, err, ErrAlreadyDecided)
}

func TestDecide_UnknownWorkflow(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	m := New(store)

	_, err := m.Decide(ctx, "does-not-exist", true, "9", "approver", "")
	require.Error(t, err)
}
