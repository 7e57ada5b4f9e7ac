// Package ssoorch implements C6: once a workflow is approved, parse its
// submission data, resolve which Jenkins job ids SSO has registered for the
// requested environment, compose and submit the release ticket, then fetch
// and poll every release id the ticket produces until each reaches a
// terminal state — threading progress as replies under the original
// approval message. The submit/poll split mirrors
// llm/providers/anthropic.go's build-request/parse-response adapter shape;
// the poll loop itself replaces a hand-rolled for-with-time.Sleep with
// github.com/cenkalti/backoff/v4, the same library the teacher already
// carries as an indirect dependency.
package ssoorch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/c360studio/relbot/pkg/configstore"
	"github.com/c360studio/relbot/pkg/relbot/model"
	"github.com/c360studio/relbot/pkg/relbot/notifier"
	"github.com/c360studio/relbot/pkg/sqlstore"
	"github.com/c360studio/relbot/pkg/ssoclient"
)

// pollInterval and pollAttempts give a 10-minute polling budget per
// release id (30s * 20), matching the SSO poller's cadence in spec §4.6.
const (
	pollInterval = 30 * time.Second
	pollAttempts = 20
)

// Orchestrator is C6.
type Orchestrator struct {
	store    *sqlstore.Store
	cfg      *configstore.Store
	client   *ssoclient.Client
	notifier *notifier.Notifier
	logger   *slog.Logger
}

// New builds an Orchestrator.
func New(store *sqlstore.Store, cfg *configstore.Store, client *ssoclient.Client, n *notifier.Notifier, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{store: store, cfg: cfg, client: client, notifier: n, logger: logger}
}

// Handle runs the full SSO path for an approved workflow: parse, resolve
// job ids, compose payload, submit, then fetch and poll releases. Errors
// at any step are recorded against the submission row and reported back
// to chat rather than propagated as a crash — a bad SSO response must
// never take down the daemon.
func (o *Orchestrator) Handle(ctx context.Context, wf *model.Workflow) {
	sub := &model.SSOSubmission{SubmissionID: wf.WorkflowID, SubmitStatus: model.SubmitPending}

	details := model.ParseSubmissionData(wf.SubmissionData)
	if len(details.Services) == 0 {
		// Address-only submissions never reach SSO/Jenkins (spec §4.4.8,
		// scenario S6): nothing to resolve, submit, or poll.
		return
	}

	sub.OrderData = wf.SubmissionData
	if err := o.store.CreateSSOSubmission(ctx, sub); err != nil {
		o.logger.Error("ssoorch: create submission failed", "workflow_id", wf.WorkflowID, "error", err)
		return
	}

	opt, ok := o.cfg.Project(wf.Project)
	if !ok {
		o.fail(ctx, wf, sub, fmt.Sprintf("project %q is no longer configured", wf.Project))
		return
	}
	if len(details.Hashes) != len(details.Services) {
		o.fail(ctx, wf, sub, fmt.Sprintf("%d services but %d hashes", len(details.Services), len(details.Hashes)))
		return
	}

	matches, err := o.client.QueryOaSameJob(ctx, details.Environment, wf.Project)
	if err != nil {
		o.fail(ctx, wf, sub, fmt.Sprintf("queryOaSameJob failed: %v", err))
		return
	}
	jobIDs, err := resolveJobIDs(matches, details.Services)
	if err != nil {
		o.fail(ctx, wf, sub, err.Error())
		return
	}

	orders := make([]ssoclient.OrderItem, len(details.Services))
	for i, svc := range details.Services {
		orders[i] = ssoclient.OrderItem{
			ProjectName: wf.Project,
			Env:         details.Environment,
			JobID:       jobIDs[i],
			Name:        svc,
			Parameters: ssoclient.OrderParameters{
				CheckCommitID: details.Hashes[i],
				ActionType:    "gray",
				GitBranch:     details.Branch,
				CanRollback:   "不支持",
				RollbackVer:   "",
			},
		}
	}
	doc := ssoclient.BuildTicketDocument(wf.Project, approverEmail(opt, wf), orders, time.Now())

	resp, err := o.client.SubmitOrder(ctx, doc)
	if err != nil {
		o.fail(ctx, wf, sub, fmt.Sprintf("submit failed: %v", err))
		return
	}
	if !resp.Accepted {
		o.fail(ctx, wf, sub, fmt.Sprintf("submission rejected: %s", resp.Message))
		return
	}

	if err := o.store.UpdateSubmission(ctx, sub.SubmissionID, model.SubmitSuccess, resp.ProcessInstanceID, resp.Message, ""); err != nil {
		o.logger.Error("ssoorch: update submission failed", "workflow_id", wf.WorkflowID, "error", err)
	}
	o.notify(ctx, wf, fmt.Sprintf("SSO order submitted (instance %s).", notifier.Escape(resp.ProcessInstanceID)))

	releaseIDs, err := o.client.FetchReleaseIDs(ctx, resp.ProcessInstanceID)
	if err != nil {
		o.notify(ctx, wf, fmt.Sprintf("Failed to fetch SSO releases: %v", err))
		return
	}
	if len(releaseIDs) == 0 {
		o.notify(ctx, wf, "SSO order produced no releases to track.")
		return
	}

	for _, releaseID := range releaseIDs {
		build := &model.SSOBuildStatus{
			BuildID:      uuid.NewString(),
			SubmissionID: sub.SubmissionID,
			WorkflowID:   wf.WorkflowID,
			ReleaseID:    releaseID,
			BuildStatus:  model.BuildQueued,
		}
		if err := o.store.CreateSSOBuildStatus(ctx, build); err != nil {
			o.logger.Error("ssoorch: create build status failed", "workflow_id", wf.WorkflowID, "error", err)
			continue
		}
		go o.poll(ctx, wf, build)
	}
}

// approverEmail resolves who the ticket should list as the human approver.
// SSO wants an email-shaped identity; when the approver's chat username
// isn't one, the username is still passed through rather than left empty.
func approverEmail(opt model.ProjectOption, wf *model.Workflow) string {
	if wf.ApproverUsername != "" {
		return wf.ApproverUsername
	}
	if len(opt.OpsUsernames) > 0 {
		return opt.OpsUsernames[0]
	}
	return ""
}

// resolveJobIDs matches each requested service, in order, against the
// first queryOaSameJob entry whose job name contains it as a substring
// (spec §4.6 step 2). The whole orchestration fails if any service has no
// match, since a partial fan-out would leave one release with no job to
// track.
func resolveJobIDs(matches []ssoclient.JobMatch, services []string) ([]string, error) {
	jobIDs := make([]string, 0, len(services))
	for _, svc := range services {
		found := false
		for _, m := range matches {
			if strings.Contains(m.JobName, svc) {
				jobIDs = append(jobIDs, m.JobID)
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("ssoorch: no job id found for service %q", svc)
		}
	}
	return jobIDs, nil
}

func (o *Orchestrator) fail(ctx context.Context, wf *model.Workflow, sub *model.SSOSubmission, reason string) {
	o.logger.Error("ssoorch: submission failed", "workflow_id", wf.WorkflowID, "reason", reason)
	_ = o.store.UpdateSubmission(ctx, sub.SubmissionID, model.SubmitFailed, "", "", reason)
	o.notify(ctx, wf, fmt.Sprintf("SSO submission failed: %s", notifier.Escape(reason)))
}

func (o *Orchestrator) notify(ctx context.Context, wf *model.Workflow, text string) {
	if err := o.notifier.ReplyAllThreads(ctx, wf.GroupMessages, text); err != nil {
		o.logger.Warn("ssoorch: notify failed", "workflow_id", wf.WorkflowID, "error", err)
	}
}

// poll polls one release id until it reaches a terminal state or the
// attempt budget (30s * 20 = 10 minutes) is exhausted, at which point the
// build is marked TIMEOUT. jobName is unknown until the first successful
// buildDetail response (getReleaseId doesn't carry it), so the build row
// is updated with it the moment it becomes available.
func (o *Orchestrator) poll(ctx context.Context, wf *model.Workflow, build *model.SSOBuildStatus) {
	start := time.Now()
	policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(pollInterval), pollAttempts)

	var last *ssoclient.ReleaseDetail
	op := func() error {
		detail, err := o.client.PollRelease(ctx, build.ReleaseID)
		if err != nil {
			return err
		}
		last = detail
		if detail.JobName != "" && build.JobName == "" {
			build.JobName = detail.JobName
			if err := o.store.UpdateSSOBuildJobName(ctx, build.BuildID, detail.JobName); err != nil {
				o.logger.Warn("ssoorch: update build job name failed", "build_id", build.BuildID, "error", err)
			}
		}
		if model.BuildStatus(detail.PublishStatus).IsTerminal() {
			return nil
		}
		return fmt.Errorf("ssoorch: release %d still %s", build.ReleaseID, detail.PublishStatus)
	}

	err := backoff.Retry(op, backoff.WithContext(policy, ctx))
	end := time.Now()

	finalStatus := model.BuildTimeout
	detailJSON := ""
	if last != nil {
		finalStatus = model.BuildStatus(last.PublishStatus)
		detailJSON = string(last.Raw)
	}
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		finalStatus = model.BuildTimeout
	}
	if err := o.store.UpdateSSOBuildStatus(ctx, build.BuildID, finalStatus, detailJSON, &start, &end); err != nil {
		o.logger.Error("ssoorch: update build status failed", "build_id", build.BuildID, "error", err)
	}
	o.notify(ctx, wf, fmt.Sprintf("Release %d (%s): %s", build.ReleaseID, notifier.Escape(build.JobName), finalStatus))
	if err := o.store.MarkSSOBuildNotified(ctx, build.BuildID); err != nil {
		o.logger.Warn("ssoorch: mark notified failed", "build_id", build.BuildID, "error", err)
	}
}
