package apisync

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/relbot/pkg/configstore"
	"github.com/c360studio/relbot/pkg/relbot/model"
	"github.com/c360studio/relbot/pkg/sqlstore"
)

func newTestSyncer(t *testing.T, apiBaseURL string) (*Syncer, *sqlstore.Store) {
	t.Helper()
	ctx := t.Context()
	store, err := sqlstore.Open(ctx, ":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cs, err := configstore.New(ctx, store)
	require.NoError(t, err)
	require.NoError(t, cs.SetAppConfig(ctx, model.KeyAPIBaseURL, apiBaseURL))
	require.NoError(t, cs.SetAppConfig(ctx, model.KeyAPIToken, "tok"))

	return New(store, cs, http.DefaultClient, nil), store
}

func decidedWorkflow(t *testing.T, store *sqlstore.Store, id string) {
	t.Helper()
	ctx := t.Context()
	require.NoError(t, store.CreateWorkflow(ctx, &model.Workflow{
		WorkflowID: id, Timestamp: time.Now().Unix(), UserID: "1", Username: "dave",
		Project: "payments", TemplateType: model.TemplateDefault, SubmissionData: "{}",
	}))
	require.NoError(t, store.ApplyApproval(ctx, id, true, "9", "approver", "", time.Now()))
}

func TestSync_PushesAndMarksSynced(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	syncer, store := newTestSyncer(t, srv.URL)
	decidedWorkflow(t, store, "WF-20260101-AAAAAAAA")

	n, err := syncer.Sync(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, hits)

	wf, err := store.GetWorkflow(t.Context(), "WF-20260101-AAAAAAAA")
	require.NoError(t, err)
	assert.True(t, wf.SyncedToAPI)
}

func TestSync_NoBaseURLIsNoop(t *testing.T) {
	syncer, store := newTestSyncer(t, "")
	decidedWorkflow(t, store, "WF-20260101-BBBBBBBB")

	n, err := syncer.Sync(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestSync_LeavesUnsyncedOnFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	syncer, store := newTestSyncer(t, srv.URL)
	decidedWorkflow(t, store, "WF-20260101-CCCCCCCC")

	n, err := syncer.Sync(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	wf, err := store.GetWorkflow(t.Context(), "WF-20260101-CCCCCCCC")
	require.NoError(t, err)
	assert.False(t, wf.SyncedToAPI)
}
