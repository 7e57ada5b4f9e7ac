// Package approval implements C5: turning a completed conversation draft
// into a Workflow, posting it to every configured group with inline
// approve/reject buttons, and handling the resulting callback click —
// including the permission check that only the configured approver may
// approve it (a reject click is accepted from anyone). Grounded on commands/approve.go's shape (load state, check
// already-decided, apply decision, format a chat response) adapted from a
// single slash-command handler into a post/click pair plus a fan-out to
// the downstream orchestrators.
package approval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/c360studio/relbot/pkg/chatapi"
	"github.com/c360studio/relbot/pkg/configstore"
	"github.com/c360studio/relbot/pkg/relbot/model"
	"github.com/c360studio/relbot/pkg/relbot/notifier"
	"github.com/c360studio/relbot/pkg/relbot/statemachine"
	"github.com/c360studio/relbot/pkg/sqlstore"
	"github.com/nats-io/nats.go"
)

// DecidedSubject is the internal bus subject published whenever a workflow
// leaves pending. The SSO and Jenkins orchestrators subscribe to this to
// start work without the dispatcher waiting on them.
const DecidedSubject = "relbot.workflow.decided"

// DecidedEvent is the payload published on DecidedSubject.
type DecidedEvent struct {
	WorkflowID string `json:"workflow_id"`
	Approved   bool   `json:"approved"`
}

// dmDeadline bounds how long the best-effort direct-message notification
// to the approver may take; a slow or unreachable DM must never delay
// posting the request to its groups.
const dmDeadline = 5 * time.Second

// ErrPermissionDenied is returned when an approve click comes from someone
// other than the configured approver.
type ErrPermissionDenied struct {
	UserID int64
}

func (e *ErrPermissionDenied) Error() string {
	return fmt.Sprintf("approval: user %d is not the configured approver", e.UserID)
}

// Dispatcher is C5.
type Dispatcher struct {
	store    *sqlstore.Store
	cfg      *configstore.Store
	notifier *notifier.Notifier
	sm       *statemachine.Machine
	nc       *nats.Conn
	logger   *slog.Logger
}

// New builds a Dispatcher.
func New(store *sqlstore.Store, cfg *configstore.Store, n *notifier.Notifier, sm *statemachine.Machine, nc *nats.Conn, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{store: store, cfg: cfg, notifier: n, sm: sm, nc: nc, logger: logger}
}

// Request is the fully-formed deployment request ready to post for approval.
type Request struct {
	Project        string
	UserID         int64
	Username       string
	SubmissionData string
	TemplateType   model.TemplateType
}

// PostForApproval creates a pending Workflow and posts it to every group
// configured for Project, attaching an approve/reject keyboard. It also
// makes a best-effort attempt to DM the approver, bounded by dmDeadline so
// a slow DM never blocks the group post.
func (d *Dispatcher) PostForApproval(ctx context.Context, transport chatapi.Transport, req Request) (*model.Workflow, error) {
	opt, ok := d.cfg.Project(req.Project)
	if !ok {
		return nil, fmt.Errorf("approval: unknown project %q", req.Project)
	}

	now := time.Now()
	wf := &model.Workflow{
		WorkflowID:     model.NewWorkflowID(now),
		Timestamp:      now.Unix(),
		UserID:         fmt.Sprint(req.UserID),
		Username:       req.Username,
		Project:        req.Project,
		TemplateType:   req.TemplateType,
		SubmissionData: req.SubmissionData,
		Status:         model.StatusPending,
	}
	if err := d.store.CreateWorkflow(ctx, wf); err != nil {
		return nil, fmt.Errorf("approval: create workflow: %w", err)
	}

	text, err := d.renderRequest(ctx, wf)
	if err != nil {
		return nil, err
	}
	buttons := []chatapi.Button{
		{Text: "Approve", Data: fmt.Sprintf("%s:%s", chatapi.ActionApprove, wf.WorkflowID)},
		{Text: "Reject", Data: fmt.Sprintf("%s:%s", chatapi.ActionReject, wf.WorkflowID)},
	}

	for _, groupID := range opt.GroupIDs {
		messageID, err := d.notifier.PostRoot(ctx, groupID, text, buttons)
		if err != nil {
			d.logger.Error("approval: post to group failed", "workflow_id", wf.WorkflowID, "group_id", groupID, "error", err)
			continue
		}
		if err := d.store.AttachGroupMessage(ctx, wf.WorkflowID, groupID, messageID); err != nil {
			d.logger.Error("approval: attach group message failed", "workflow_id", wf.WorkflowID, "error", err)
		}
	}

	d.notifyApproverDM(ctx, transport, wf, text)

	return d.store.GetWorkflow(ctx, wf.WorkflowID)
}

func (d *Dispatcher) notifyApproverDM(ctx context.Context, transport chatapi.Transport, wf *model.Workflow, text string) {
	approverID, err := d.cfg.GetAppConfig(ctx, model.KeyApproverUserID, "")
	if err != nil || approverID == "" {
		return
	}
	var uid int64
	if _, err := fmt.Sscanf(approverID, "%d", &uid); err != nil {
		return
	}
	dmCtx, cancel := context.WithTimeout(ctx, dmDeadline)
	defer cancel()
	if _, err := transport.SendDirectMessage(dmCtx, uid, text); err != nil {
		d.logger.Warn("approval: approver DM failed", "workflow_id", wf.WorkflowID, "error", err)
	}
}

func (d *Dispatcher) renderRequest(ctx context.Context, wf *model.Workflow) (string, error) {
	tmpl, err := d.cfg.MessageTemplate(ctx, wf.TemplateType, wf.Project)
	if err != nil {
		return "", fmt.Errorf("approval: render request: %w", err)
	}
	r := strings.NewReplacer(
		"{{.WorkflowID}}", notifier.Escape(wf.WorkflowID),
		"{{.Username}}", notifier.Escape(wf.Username),
		"{{.Project}}", notifier.Escape(wf.Project),
		"{{.SubmissionData}}", notifier.Escape(wf.SubmissionData),
	)
	return r.Replace(tmpl), nil
}

// HandleClick applies an approve/reject callback. Only the configured
// approver (by user id, falling back to username) may approve a workflow;
// anyone else's approve click is rejected with ErrPermissionDenied and the
// callback is still acknowledged so the chat client stops spinning. A
// reject click is accepted from anyone.
func (d *Dispatcher) HandleClick(ctx context.Context, transport chatapi.Transport, cb chatapi.CallbackQuery) error {
	action, workflowID, err := chatapi.ParseCallbackData(cb.Data)
	if err != nil {
		_ = transport.AnswerCallback(ctx, cb.ID, "Invalid action.")
		return fmt.Errorf("approval: %w", err)
	}
	approved := action == chatapi.ActionApprove

	if approved {
		allowed, err := d.isApprover(ctx, cb.UserID, cb.Username)
		if err != nil {
			return err
		}
		if !allowed {
			_ = transport.AnswerCallback(ctx, cb.ID, "You are not authorized to approve deployments.")
			return &ErrPermissionDenied{UserID: cb.UserID}
		}
	}

	wf, err := d.sm.Decide(ctx, workflowID, approved, fmt.Sprint(cb.UserID), cb.Username, "")
	if err != nil {
		_ = transport.AnswerCallback(ctx, cb.ID, "This request was already decided.")
		return fmt.Errorf("approval: decide: %w", err)
	}
	_ = transport.AnswerCallback(ctx, cb.ID, "Recorded.")

	if err := d.announceDecision(ctx, wf); err != nil {
		d.logger.Error("approval: announce decision failed", "workflow_id", wf.WorkflowID, "error", err)
	}
	d.publishDecided(wf.WorkflowID, approved)
	return nil
}

func (d *Dispatcher) isApprover(ctx context.Context, userID int64, username string) (bool, error) {
	configuredID, err := d.cfg.GetAppConfig(ctx, model.KeyApproverUserID, "")
	if err != nil {
		return false, fmt.Errorf("approval: load approver id: %w", err)
	}
	if configuredID != "" && configuredID == fmt.Sprint(userID) {
		return true, nil
	}
	configuredName, err := d.cfg.GetAppConfig(ctx, model.KeyApproverUsername, "")
	if err != nil {
		return false, fmt.Errorf("approval: load approver username: %w", err)
	}
	return configuredName != "" && strings.EqualFold(strings.TrimPrefix(configuredName, "@"), strings.TrimPrefix(username, "@")), nil
}

func (d *Dispatcher) announceDecision(ctx context.Context, wf *model.Workflow) error {
	verb := "rejected"
	if wf.Status == model.StatusApproved {
		verb = "approved"
	}
	text := fmt.Sprintf("Request %s %s by %s.", notifier.Escape(wf.WorkflowID), verb, notifier.Escape(wf.ApproverUsername))
	return d.notifier.ReplyAllThreads(ctx, wf.GroupMessages, text)
}

func (d *Dispatcher) publishDecided(workflowID string, approved bool) {
	if d.nc == nil {
		return
	}
	payload := fmt.Sprintf(`{"workflow_id":%q,"approved":%t}`, workflowID, approved)
	if err := d.nc.Publish(DecidedSubject, []byte(payload)); err != nil {
		d.logger.Error("approval: publish decided event failed", "workflow_id", workflowID, "error", err)
	}
}
