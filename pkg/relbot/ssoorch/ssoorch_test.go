package ssoorch

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
	"github.com/c360studio/relbot/pkg/ssoclient"
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

const sampleSubmission = "申请时间: 2026-01-01 00:00:00\n" +
	"申请项目: payments\n" +
	"申请环境: prod\n" +
	"申请发版分支: uat-ebpay\n" +
	"申请部署服务: api\n" +
	"申请发版hash: abc123\n" +
	"申请发版服务内容: bugfix"

func TestOrchestrator_Handle_SubmitsAndPolls(t *testing.T) {
	ctx := t.Context()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/api/publish3/publish/jenkinsJob/queryOaSameJob":
			w.Write([]byte(`{"data":[{"jobId":"101","jobName":"payments-api-job"}]}`))
		case r.Method == http.MethodPost && r.URL.Path == "/api/flow/task/startnew/dcAutoReleaseProcess":
			w.Write([]byte(`{"object":{"processInstanceId":"pi-1"},"message":"ok"}`))
		case r.URL.Path == "/api/flow/publish/hisitory/getReleaseId":
			w.Write([]byte(`{"object":[1]}`))
		case r.URL.Path == "/api/flow/publish/hisitory/buildDetail":
			w.Write([]byte(`{"data":{"jobName":"payments-api-job","publishStatus":"SUCCESS"}}`))
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
	}))

	client := ssoclient.New(srv.URL, "", "", srv.Client())
	n := notifier.New(noopTransport{})
	o := New(store, cs, client, n, nil)

	wf := &model.Workflow{
		WorkflowID:     "WF-20260101-AAAAAAAA",
		Timestamp:      time.Now().Unix(),
		UserID:         "1",
		Username:       "dave",
		Project:        "payments",
		TemplateType:   model.TemplateDefault,
		SubmissionData: sampleSubmission,
		Status:         model.StatusApproved,
	}
	require.NoError(t, store.CreateWorkflow(ctx, wf))

	o.Handle(ctx, wf)

	deadline := time.After(5 * time.Second)
	for {
		builds, err := store.ListSSOBuildsBySubmission(ctx, wf.WorkflowID)
		require.NoError(t, err)
		if len(builds) == 1 && builds[0].BuildStatus.IsTerminal() {
			assert.Equal(t, model.BuildSuccess, builds[0].BuildStatus)
			assert.Equal(t, "payments-api-job", builds[0].JobName)
			break
		}
		select {
		case <-deadline:
			t.Fatal("release never reached terminal state")
		case <-time.After(10 * time.Millisecond):
		}
	}

	sub, err := store.GetSSOSubmission(ctx, wf.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, model.SubmitSuccess, sub.SubmitStatus)
	assert.Equal(t, "pi-1", sub.ProcessInstanceID)
}

func TestOrchestrator_Handle_UnresolvedServiceFails(t *testing.T) {
	ctx := t.Context()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/publish3/publish/jenkinsJob/queryOaSameJob":
			w.Write([]byte(`{"data":[{"jobId":"999","jobName":"unrelated-job"}]}`))
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
	}))

	client := ssoclient.New(srv.URL, "", "", srv.Client())
	n := notifier.New(noopTransport{})
	o := New(store, cs, client, n, nil)

	wf := &model.Workflow{
		WorkflowID:     "WF-20260101-BBBBBBBB",
		Timestamp:      time.Now().Unix(),
		UserID:         "1",
		Username:       "dave",
		Project:        "payments",
		TemplateType:   model.TemplateDefault,
		SubmissionData: sampleSubmission,
		Status:         model.StatusApproved,
	}
	require.NoError(t, store.CreateWorkflow(ctx, wf))

	o.Handle(ctx, wf)

	sub, err := store.GetSSOSubmission(ctx, wf.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, model.SubmitFailed, sub.SubmitStatus)
}

func TestOrchestrator_Handle_AddressOnlySkipsSSO(t *testing.T) {
	ctx := t.Context()

	store, err := sqlstore.Open(ctx, ":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cs, err := configstore.New(ctx, store)
	require.NoError(t, err)
	require.NoError(t, cs.SetProject(ctx, "addrs", model.ProjectOption{
		Command:     "add-address",
		Services:    map[string][]string{"prod": {"api"}},
		GroupIDs:    []int64{555},
		AddressOnly: true,
	}))

	client := ssoclient.New("http://unused.invalid", "", "", http.DefaultClient)
	n := notifier.New(noopTransport{})
	o := New(store, cs, client, n, nil)

	wf := &model.Workflow{
		WorkflowID:   "WF-20260101-CCCCCCCC",
		Timestamp:    time.Now().Unix(),
		UserID:       "1",
		Username:     "dave",
		Project:      "addrs",
		TemplateType: model.TemplateAddressOnly,
		SubmissionData: "申请时间: 2026-01-01 00:00:00\n" +
			"申请项目: addrs\n" +
			"申请环境: prod\n" +
			"申请新增地址:\n10.0.0.1\n10.0.0.2",
		Status: model.StatusApproved,
	}
	require.NoError(t, store.CreateWorkflow(ctx, wf))

	o.Handle(ctx, wf)

	_, err = store.GetSSOSubmission(ctx, wf.WorkflowID)
	assert.ErrorIs(t, err, sqlstore.ErrNotFound)
}
