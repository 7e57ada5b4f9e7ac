// Package jenkinsorch implements C7: triggering one Jenkins build per
// requested service, resolving Jenkins's queue item to an actual build
// number (falling back to polling the job's own next build number when
// Jenkins returns no queue location), and polling each build to terminal
// state — bounded by a per-project concurrency limit so one large
// deployment request cannot starve a shared Jenkins instance. The
// semaphore pattern is grounded on processor/task-dispatcher/component.go's
// `sem chan struct{}` / select-on-ctx.Done() acquisition, generalized from
// one global semaphore to one per project, created lazily on first use.
package jenkinsorch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/c360studio/relbot/pkg/configstore"
	"github.com/c360studio/relbot/pkg/jenkinsclient"
	"github.com/c360studio/relbot/pkg/netutil"
	"github.com/c360studio/relbot/pkg/relbot/model"
	"github.com/c360studio/relbot/pkg/relbot/notifier"
	"github.com/c360studio/relbot/pkg/sqlstore"
)

const (
	// queuePollInterval/queuePollAttempts give a 60-second budget for
	// Jenkins to assign a queued item an executable build.
	queuePollInterval = 2 * time.Second
	queuePollAttempts = 30

	buildPollInterval = 10 * time.Second
	buildPollAttempts = 60 // 10 minutes
)

// Orchestrator is C7.
type Orchestrator struct {
	store    *sqlstore.Store
	cfg      *configstore.Store
	notifier *notifier.Notifier
	logger   *slog.Logger

	clientsMu sync.Mutex
	clients   map[string]*jenkinsclient.Client

	sems sync.Map // project name -> chan struct{}
}

// New builds an Orchestrator.
func New(store *sqlstore.Store, cfg *configstore.Store, n *notifier.Notifier, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{store: store, cfg: cfg, notifier: n, logger: logger, clients: map[string]*jenkinsclient.Client{}}
}

func (o *Orchestrator) clientFor(project string, opt model.ProjectOption) (*jenkinsclient.Client, error) {
	o.clientsMu.Lock()
	defer o.clientsMu.Unlock()
	if c, ok := o.clients[project]; ok {
		return c, nil
	}
	httpClient, err := netutil.NewClient(netutil.ClientOptions{
		ConnectTimeout: 10 * time.Second,
		ReadTimeout:    30 * time.Second,
		Proxy:          opt.Proxy,
	})
	if err != nil {
		return nil, fmt.Errorf("jenkinsorch: build http client for %s: %w", project, err)
	}
	c := jenkinsclient.New(opt.Jenkins.URL, opt.Jenkins.Username, opt.Jenkins.APIToken, httpClient)
	o.clients[project] = c
	return c, nil
}

// semaphore returns (creating if necessary) the per-project concurrency
// limiter, clamped to at least 1 so a misconfigured max_concurrent of 0
// or less never deadlocks every build for that project.
func (o *Orchestrator) semaphore(project string, maxConcurrent int) chan struct{} {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	v, _ := o.sems.LoadOrStore(project, make(chan struct{}, maxConcurrent))
	return v.(chan struct{})
}

// Handle triggers and polls one Jenkins build per requested service. The
// fan-out is all-or-nothing: if services and hashes don't line up 1:1, no
// build is triggered for any service (spec §4.7 step 3 / scenario S3).
func (o *Orchestrator) Handle(ctx context.Context, wf *model.Workflow) {
	details := model.ParseSubmissionData(wf.SubmissionData)
	if len(details.Services) == 0 {
		return
	}
	if len(details.Hashes) != len(details.Services) {
		o.notify(ctx, wf, fmt.Sprintf("Jenkins trigger skipped: %d services but %d hashes", len(details.Services), len(details.Hashes)))
		return
	}

	opt, ok := o.cfg.Project(wf.Project)
	if !ok || !opt.Jenkins.Enabled {
		return
	}
	envKey, ok := opt.EnvKey(details.Environment)
	if !ok {
		o.notify(ctx, wf, fmt.Sprintf("Jenkins trigger skipped: environment %q not configured", details.Environment))
		return
	}

	client, err := o.clientFor(wf.Project, opt)
	if err != nil {
		o.notify(ctx, wf, fmt.Sprintf("Jenkins trigger failed: %v", err))
		return
	}
	sem := o.semaphore(wf.Project, opt.Jenkins.MaxConcurrent)

	for i, service := range details.Services {
		jobName := fmt.Sprintf("%s/%s", envKey, service)
		go o.runOne(ctx, wf, client, sem, jobName, details.Branch, details.Hashes[i])
	}
}

func (o *Orchestrator) runOne(ctx context.Context, wf *model.Workflow, client *jenkinsclient.Client, sem chan struct{}, jobName, branch, commitID string) {
	select {
	case sem <- struct{}{}:
		defer func() { <-sem }()
	case <-ctx.Done():
		return
	}

	params := map[string]string{
		"action_type":    "gray",
		"gitBranch":      branch,
		"check_commitID": commitID,
	}
	paramsJSON, _ := json.Marshal(params)
	build := &model.JenkinsBuild{
		BuildID:         uuid.NewString(),
		WorkflowID:      wf.WorkflowID,
		JobName:         jobName,
		BuildStatus:     model.BuildQueued,
		BuildParameters: string(paramsJSON),
	}
	if err := o.store.CreateJenkinsBuild(ctx, build); err != nil {
		o.logger.Error("jenkinsorch: create build failed", "workflow_id", wf.WorkflowID, "error", err)
		return
	}

	nextBuildNumber := int64(0)
	if info, err := client.GetJobInfo(ctx, jobName); err == nil {
		nextBuildNumber = info.NextBuildNumber
	} else {
		o.logger.Warn("jenkinsorch: job info lookup failed", "job", jobName, "error", err)
	}

	queueURL, err := client.TriggerBuild(ctx, jobName, params)
	if err != nil {
		o.finishFailed(ctx, wf, build, fmt.Sprintf("trigger failed: %v", err))
		return
	}

	var number int64
	var jobURL string
	if queueURL != "" {
		number, jobURL, err = o.waitForQueue(ctx, client, queueURL)
	} else {
		number = nextBuildNumber
		err = o.waitForDirectStart(ctx, client, jobName, number)
	}
	if err != nil {
		o.finishFailed(ctx, wf, build, fmt.Sprintf("build never started: %v", err))
		return
	}
	start := time.Now()
	if err := o.store.UpdateJenkinsQueued(ctx, build.BuildID, number, jobURL, start); err != nil {
		o.logger.Error("jenkinsorch: update queued failed", "build_id", build.BuildID, "error", err)
	}
	o.notify(ctx, wf, fmt.Sprintf("Jenkins job %s started as build #%d.", notifier.Escape(jobName), number))

	o.pollBuild(ctx, wf, client, build, jobName, number, start)
}

// waitForQueue polls the Jenkins queue item until it resolves to an
// executable build, for up to one minute.
func (o *Orchestrator) waitForQueue(ctx context.Context, client *jenkinsclient.Client, queueURL string) (number int64, jobURL string, err error) {
	policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(queuePollInterval), queuePollAttempts)
	op := func() error {
		item, err := client.PollQueue(ctx, queueURL)
		if err != nil {
			return err
		}
		if item.Cancelled {
			return backoff.Permanent(fmt.Errorf("jenkinsorch: queue item was cancelled"))
		}
		if item.Executable == nil {
			return fmt.Errorf("jenkinsorch: queue item not yet scheduled")
		}
		number = item.Executable.Number
		jobURL = item.Executable.URL
		return nil
	}
	if err := backoff.Retry(op, backoff.WithContext(policy, ctx)); err != nil {
		return 0, "", err
	}
	return number, jobURL, nil
}

// waitForDirectStart polls job/number directly until Jenkins reports it
// exists, the fallback path for Jenkins configurations that omit the
// Location header on trigger (no queue item to resolve).
func (o *Orchestrator) waitForDirectStart(ctx context.Context, client *jenkinsclient.Client, jobName string, number int64) error {
	policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(queuePollInterval), queuePollAttempts)
	op := func() error {
		_, found, err := client.PollBuild(ctx, jobName, number)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("jenkinsorch: build %s#%d not started yet", jobName, number)
		}
		return nil
	}
	return backoff.Retry(op, backoff.WithContext(policy, ctx))
}

func (o *Orchestrator) pollBuild(ctx context.Context, wf *model.Workflow, client *jenkinsclient.Client, build *model.JenkinsBuild, jobName string, number int64, start time.Time) {
	policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(buildPollInterval), buildPollAttempts)

	var last *jenkinsclient.BuildInfo
	op := func() error {
		info, found, err := client.PollBuild(ctx, jobName, number)
		if err != nil {
			return err
		}
		if !found || info.Building {
			return fmt.Errorf("jenkinsorch: build %s#%d still running", jobName, number)
		}
		last = info
		return nil
	}

	err := backoff.Retry(op, backoff.WithContext(policy, ctx))
	end := time.Now()

	status := model.BuildTimeout
	duration := end.Sub(start).Milliseconds()
	if err == nil && last != nil {
		status = model.BuildStatus(last.Result)
		duration = last.Duration
	} else if ctx.Err() != nil {
		return
	}

	if err := o.store.UpdateJenkinsTerminal(ctx, build.BuildID, status, end, duration); err != nil {
		o.logger.Error("jenkinsorch: update terminal failed", "build_id", build.BuildID, "error", err)
	}
	o.notify(ctx, wf, fmt.Sprintf("Jenkins job %s build #%d: %s", notifier.Escape(jobName), number, status))
	if err := o.store.MarkJenkinsBuildNotified(ctx, build.BuildID); err != nil {
		o.logger.Warn("jenkinsorch: mark notified failed", "build_id", build.BuildID, "error", err)
	}
}

func (o *Orchestrator) finishFailed(ctx context.Context, wf *model.Workflow, build *model.JenkinsBuild, reason string) {
	o.logger.Error("jenkinsorch: build failed to start", "workflow_id", wf.WorkflowID, "job", build.JobName, "reason", reason)
	if err := o.store.UpdateJenkinsTerminal(ctx, build.BuildID, model.BuildError, time.Now(), 0); err != nil {
		o.logger.Error("jenkinsorch: update failed build failed", "build_id", build.BuildID, "error", err)
	}
	o.notify(ctx, wf, fmt.Sprintf("Jenkins job %s failed: %s", notifier.Escape(build.JobName), notifier.Escape(reason)))
}

func (o *Orchestrator) notify(ctx context.Context, wf *model.Workflow, text string) {
	if err := o.notifier.ReplyAllThreads(ctx, wf.GroupMessages, text); err != nil {
		o.logger.Warn("jenkinsorch: notify failed", "workflow_id", wf.WorkflowID, "error", err)
	}
}
