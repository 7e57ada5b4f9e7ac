package jenkinsorch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/relbot/pkg/chatapi"
	"github.com/c360studio/relbot/pkg/configstore"
	"github.com/c360studio/relbot/pkg/relbot/model"
	"github.com/c360studio/relbot/pkg/relbot/notifier"
	"github.com/c360studio/relbot/pkg/sqlstore"
)

type noopTransport struct{}

func (noopTransport) PostMessage(ctx context.Context, chatID int64, text string, buttons []chatapi.Button) (int64, error) {
	return 0, nil
}
func (noopTransport) EditMessage(ctx context.Context, chatID, messageID int64, text string, buttons []chatapi.Button) error {
	return nil
}
func (noopTransport) ReplyInThread(ctx context.Context, chatID, replyToMessageID int64, text string) (int64, error) {
	return 0, nil
}
func (noopTransport) SendDirectMessage(ctx context.Context, userID int64, text string) (int64, error) {
	return 0, nil
}
func (noopTransport) AnswerCallback(ctx context.Context, callbackID, text string) error { return nil }

func TestOrchestrator_Handle_TriggersAndPolls(t *testing.T) {
	ctx := t.Context()

	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.EscapedPath() == "/job/prod%2Fapi/api/json":
			w.Write([]byte(`{"nextBuildNumber":9}`))
		case r.Method == http.MethodPost && r.URL.EscapedPath() == "/job/prod%2Fapi/buildWithParameters":
			w.Header().Set("Location", srv.URL+"/queue/item/1")
			w.WriteHeader(http.StatusCreated)
		case r.URL.Path == "/queue/item/1/api/json":
			w.Write([]byte(`{"cancelled":false,"executable":{"number":9,"url":"` + srv.URL + `/job/prod/api/9/"}}`))
		case r.URL.EscapedPath() == "/job/prod%2Fapi/9/api/json":
			w.Write([]byte(`{"building":false,"result":"SUCCESS","duration":4200}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	store, err := sqlstore.Open(ctx, ":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cs, err := configstore.New(ctx, store)
	require.NoError(t, err)
	require.NoError(t, cs.SetProject(ctx, "payments", model.ProjectOption{
		Command:  "deploy-payments",
		Services: map[string][]string{"prod": {"api"}},
		GroupIDs: []int64{555},
		Jenkins:  model.JenkinsConfig{Enabled: true, URL: srv.URL},
	}))

	n := notifier.New(noopTransport{})
	o := New(store, cs, n, nil)

	wf := &model.Workflow{
		WorkflowID:     "WF-20260101-CCCCCCCC",
		Timestamp:      time.Now().Unix(),
		UserID:         "1",
		Username:       "dave",
		Project:        "payments",
		TemplateType:   model.TemplateDefault,
		SubmissionData: "申请时间: 2026-01-01 00:00:00\n申请项目: payments\n申请环境: prod\n申请发版分支: uat-ebpay\n申请部署服务: api\n申请发版hash: abc123\n申请发版服务内容: bugfix",
		Status:         model.StatusApproved,
	}
	require.NoError(t, store.CreateWorkflow(ctx, wf))

	o.Handle(ctx, wf)

	deadline := time.After(5 * time.Second)
	for {
		builds, err := store.ListJenkinsBuildsByWorkflow(ctx, wf.WorkflowID)
		require.NoError(t, err)
		if len(builds) == 1 && builds[0].BuildStatus.IsTerminal() {
			assert.Equal(t, model.BuildSuccess, builds[0].BuildStatus)
			require.NotNil(t, builds[0].BuildNumber)
			assert.Equal(t, int64(9), *builds[0].BuildNumber)
			break
		}
		select {
		case <-deadline:
			t.Fatal("jenkins build never reached terminal state")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestOrchestrator_Handle_DisabledProjectSkipsTrigger(t *testing.T) {
	ctx := t.Context()
	store, err := sqlstore.Open(ctx, ":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cs, err := configstore.New(ctx, store)
	require.NoError(t, err)
	require.NoError(t, cs.SetProject(ctx, "payments", model.ProjectOption{
		Command:  "deploy-payments",
		Services: map[string][]string{"prod": {"api"}},
		GroupIDs: []int64{555},
		Jenkins:  model.JenkinsConfig{Enabled: false},
	}))

	n := notifier.New(noopTransport{})
	o := New(store, cs, n, nil)

	wf := &model.Workflow{
		WorkflowID:     "WF-20260101-DDDDDDDD",
		Timestamp:      time.Now().Unix(),
		UserID:         "1",
		Username:       "dave",
		Project:        "payments",
		TemplateType:   model.TemplateDefault,
		SubmissionData: "申请时间: 2026-01-01 00:00:00\n申请项目: payments\n申请环境: prod\n申请发版分支: uat-ebpay\n申请部署服务: api\n申请发版hash: abc123\n申请发版服务内容: bugfix",
		Status:         model.StatusApproved,
	}
	require.NoError(t, store.CreateWorkflow(ctx, wf))

	o.Handle(ctx, wf)
	time.Sleep(20 * time.Millisecond)

	builds, err := store.ListJenkinsBuildsByWorkflow(ctx, wf.WorkflowID)
	require.NoError(t, err)
	assert.Empty(t, builds)
}
