package approval

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/c360studio/relbot/pkg/chatapi"
	"github.com/c360studio/relbot/pkg/configstore"
	"github.com/c360studio/relbot/pkg/relbot/model"
	"github.com/c360studio/relbot/pkg/relbot/notifier"
	"github.com/c360studio/relbot/pkg/relbot/statemachine"
	"github.com/c360studio/relbot/pkg/sqlstore"
)

type fakeTransport struct {
	nextMessageID int64
	posted        map[int64][]string
	replies       map[int64][]string
	dms           map[int64][]string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{posted: map[int64][]string{}, replies: map[int64][]string{}, dms: map[int64][]string{}}
}

func (f *fakeTransport) PostMessage(ctx context.Context, chatID int64, text string, buttons []chatapi.Button) (int64, error) {
	f.nextMessageID++
	f.posted[chatID] = append(f.posted[chatID], text)
	return f.nextMessageID, nil
}

func (f *fakeTransport) EditMessage(ctx context.Context, chatID, messageID int64, text string, buttons []chatapi.Button) error {
	return nil
}

func (f *fakeTransport) ReplyInThread(ctx context.Context, chatID, replyToMessageID int64, text string) (int64, error) {
	f.replies[replyToMessageID] = append(f.replies[replyToMessageID], text)
	return 0, nil
}

func (f *fakeTransport) SendDirectMessage(ctx context.Context, userID int64, text string) (int64, error) {
	f.dms[userID] = append(f.dms[userID], text)
	return 0, nil
}

func (f *fakeTransport) AnswerCallback(ctx context.Context, callbackID, text string) error { return nil }

func newTestDispatcher(t *testing.T) (*Dispatcher, *sqlstore.Store, *configstore.Store) {
	t.Helper()
	ctx := context.Background()
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
	require.NoError(t, cs.SetAppConfig(ctx, model.KeyApproverUserID, "9"))
	require.NoError(t, cs.SetAppConfig(ctx, model.KeyApproverUsername, "approver"))

	n := notifier.New(newFakeTransport())
	sm := statemachine.New(store)
	d := New(store, cs, n, sm, nil, nil)
	return d, store, cs
}

func TestPostForApproval_PostsToConfiguredGroups(t *testing.T) {
	ctx := context.Background()
	d, store, _ := newTestDispatcher(t)
	transport := newFakeTransport()
	d.notifier = notifier.New(transport)

	wf, err := d.PostForApproval(ctx, transport, Request{
		Project:        "payments",
		UserID:         100,
		Username:       "dave",
		SubmissionData: `{"environment":"prod","services":["api"]}`,
		TemplateType:   model.TemplateDefault,
	})
	require.NoError(t, err)
	require.Equal(t, model.StatusPending, wf.Status)
	require.Len(t, transport.posted[555], 1)

	stored, err := store.GetWorkflow(ctx, wf.WorkflowID)
	require.NoError(t, err)
	require.Equal(t, map[int64]int64{555: 1}, stored.GroupMessages)
}

func TestHandleClick_PermissionDenied(t *testing.T) {
	ctx := context.Background()
	d, _, _ := newTestDispatcher(t)
	transport := newFakeTransport()
	d.notifier = notifier.New(transport)

	wf, err := d.PostForApproval(ctx, transport, Request{
		Project: "payments", UserID: 100, Username: "dave",
		SubmissionData: `{"environment":"prod","services":["api"]}`,
	})
	require.NoError(t, err)

	err = d.HandleClick(ctx, transport, chatapi.CallbackQuery{
		ID: "cb1", ChatID: 555, UserID: 1234, Username: "random-user",
		Data: "approve:" + wf.WorkflowID,
	})
	require.Error(t, err)
	var permErr *ErrPermissionDenied
	require.ErrorAs(t, err, &permErr)
}

func TestHandleClick_ApproveThenRejectFails(t *testing.T) {
	ctx := context.Background()
	d, store, _ := newTestDispatcher(t)
	transport := newFakeTransport()
	d.notifier = notifier.New(transport)

	wf, err := d.PostForApproval(ctx, transport, Request{
		Project: "payments", UserID: 100, Username: "dave",
		SubmissionData: `{"environment":"prod","services":["api"]}`,
	})
	require.NoError(t, err)

	err = d.HandleClick(ctx, transport, chatapi.CallbackQuery{
		ID: "cb1", ChatID: 555, UserID: 9, Username: "approver",
		Data: "approve:" + wf.WorkflowID,
	})
	require.NoError(t, err)

	got, err := store.GetWorkflow(ctx, wf.WorkflowID)
	require.NoError(t, err)
	require.Equal(t, model.StatusApproved, got.Status)

	err = d.HandleClick(ctx, transport, chatapi.CallbackQuery{
		ID: "cb2", ChatID: 555, UserID: 9, Username: "approver",
		Data: "reject:" + wf.WorkflowID,
	})
	require.Error(t, err)

	require.Len(t, transport.replies[1], 1)
}
