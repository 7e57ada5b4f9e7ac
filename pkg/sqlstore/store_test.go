package sqlstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/c360studio/relbot/pkg/relbot/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(context.Background(), ":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestCreateAndGetWorkflow(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	wf := &model.Workflow{
		WorkflowID:     "WF-20260731-AAAAAAAA",
		Timestamp:      time.Now().Unix(),
		UserID:         "100",
		Username:       "alice",
		Project:        "payments",
		TemplateType:   model.TemplateDefault,
		SubmissionData: `{"environment":"prod"}`,
	}
	require.NoError(t, store.CreateWorkflow(ctx, wf))

	got, err := store.GetWorkflow(ctx, wf.WorkflowID)
	require.NoError(t, err)
	require.Equal(t, model.StatusPending, got.Status)
	require.Equal(t, "alice", got.Username)
	require.Empty(t, got.GroupMessages)
}

func TestGetWorkflow_NotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.GetWorkflow(context.Background(), "does-not-exist")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestApplyApproval_OnlyOnce(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	wf := &model.Workflow{WorkflowID: "WF-20260731-BBBBBBBB", Timestamp: time.Now().Unix(), UserID: "1", Username: "bob", Project: "payments", SubmissionData: "{}"}
	require.NoError(t, store.CreateWorkflow(ctx, wf))

	require.NoError(t, store.ApplyApproval(ctx, wf.WorkflowID, true, "9", "approver", "looks good", time.Now()))

	got, err := store.GetWorkflow(ctx, wf.WorkflowID)
	require.NoError(t, err)
	require.Equal(t, model.StatusApproved, got.Status)
	require.Equal(t, "approver", got.ApproverUsername)

	err = store.ApplyApproval(ctx, wf.WorkflowID, false, "9", "approver", "too late", time.Now())
	require.Error(t, err)

	got, err = store.GetWorkflow(ctx, wf.WorkflowID)
	require.NoError(t, err)
	require.Equal(t, model.StatusApproved, got.Status, "second decision must not overwrite the first")
}

func TestAttachGroupMessage(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	wf := &model.Workflow{WorkflowID: "WF-20260731-CCCCCCCC", Timestamp: time.Now().Unix(), UserID: "1", Username: "bob", Project: "payments", SubmissionData: "{}"}
	require.NoError(t, store.CreateWorkflow(ctx, wf))

	require.NoError(t, store.AttachGroupMessage(ctx, wf.WorkflowID, 42, 1001))
	require.NoError(t, store.AttachGroupMessage(ctx, wf.WorkflowID, 43, 1002))

	got, err := store.GetWorkflow(ctx, wf.WorkflowID)
	require.NoError(t, err)
	require.Equal(t, map[int64]int64{42: 1001, 43: 1002}, got.GroupMessages)
}

func TestCleanupOldData(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	old := &model.Workflow{WorkflowID: "WF-20200101-DEADBEEF", Timestamp: time.Now().Add(-90 * 24 * time.Hour).Unix(), UserID: "1", Username: "bob", Project: "payments", SubmissionData: "{}"}
	fresh := &model.Workflow{WorkflowID: "WF-20260731-FEEDFACE", Timestamp: time.Now().Unix(), UserID: "1", Username: "bob", Project: "payments", SubmissionData: "{}"}
	require.NoError(t, store.CreateWorkflow(ctx, old))
	require.NoError(t, store.CreateWorkflow(ctx, fresh))

	n, err := store.CleanupOldData(ctx, time.Now().Add(-60*24*time.Hour))
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	_, err = store.GetWorkflow(ctx, old.WorkflowID)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = store.GetWorkflow(ctx, fresh.WorkflowID)
	require.NoError(t, err)
}

func TestAppConfigRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	v, err := store.GetAppConfig(ctx, "MISSING_KEY", "fallback")
	require.NoError(t, err)
	require.Equal(t, "fallback", v)

	require.NoError(t, store.SetAppConfig(ctx, model.KeySSOAuthToken, "tok-123", time.Now()))
	v, err = store.GetAppConfig(ctx, model.KeySSOAuthToken, "")
	require.NoError(t, err)
	require.Equal(t, "tok-123", v)
}

func TestProjectOptionsRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	opt := model.ProjectOption{
		Command:      "deploy-payments",
		Environments: []string{"staging", "prod"},
		Services:     map[string][]string{"prod": {"api", "worker"}},
		GroupIDs:     []int64{1, 2},
	}
	require.NoError(t, store.UpsertProjectOptions(ctx, "payments", opt, time.Now()))

	loaded, err := store.LoadProjectOptions(ctx)
	require.NoError(t, err)
	require.Equal(t, opt, loaded.Projects["payments"])
}
