package controlplane

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/relbot/pkg/chatapi"
	"github.com/c360studio/relbot/pkg/relbot/approval"
	"github.com/c360studio/relbot/pkg/relbot/model"
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

func TestBoot_WiresComponentsAndShutsDown(t *testing.T) {
	ctx := t.Context()
	cp, err := Boot(ctx, Config{DBPath: ":memory:"}, noopTransport{}, nil)
	require.NoError(t, err)

	assert.NotNil(t, cp.Store)
	assert.NotNil(t, cp.Config)
	assert.NotNil(t, cp.Bus)
	assert.NotNil(t, cp.Notifier)
	assert.NotNil(t, cp.Approval)
	assert.NotNil(t, cp.Conversation)
	assert.NotNil(t, cp.SSOOrch)

	cp.Shutdown(ctx)
}

func TestBoot_DecidedEventIncrementsMetric(t *testing.T) {
	ctx := t.Context()
	cp, err := Boot(ctx, Config{DBPath: ":memory:"}, noopTransport{}, nil)
	require.NoError(t, err)
	defer cp.Shutdown(ctx)

	before := testutil.ToFloat64(workflowsDecided.WithLabelValues("approved"))

	wf := &model.Workflow{
		WorkflowID:     "WF-20260101-EEEEEEEE",
		Timestamp:      time.Now().Unix(),
		UserID:         "1",
		Username:       "dave",
		Project:        "payments",
		TemplateType:   model.TemplateDefault,
		SubmissionData: "{}",
	}
	require.NoError(t, cp.Store.CreateWorkflow(ctx, wf))
	require.NoError(t, cp.Store.ApplyApproval(ctx, wf.WorkflowID, true, "9", "approver", "", time.Now()))

	evt := approval.DecidedEvent{WorkflowID: wf.WorkflowID, Approved: true}
	body, err := json.Marshal(evt)
	require.NoError(t, err)
	require.NoError(t, cp.Bus.Conn().Publish(approval.DecidedSubject, body))

	deadline := time.After(2 * time.Second)
	for testutil.ToFloat64(workflowsDecided.WithLabelValues("approved")) <= before {
		select {
		case <-deadline:
			t.Fatal("decided metric was never incremented")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
