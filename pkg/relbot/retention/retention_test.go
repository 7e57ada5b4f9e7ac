package retention

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/relbot/pkg/relbot/model"
	"github.com/c360studio/relbot/pkg/sqlstore"
)

func TestRun_DeletesOnlyOldWorkflows(t *testing.T) {
	ctx := t.Context()
	store, err := sqlstore.Open(ctx, ":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	old := time.Now().Add(-90 * 24 * time.Hour).Unix()
	recent := time.Now().Unix()

	require.NoError(t, store.CreateWorkflow(ctx, &model.Workflow{
		WorkflowID: "WF-OLD", Timestamp: old, UserID: "1", Username: "dave",
		Project: "payments", TemplateType: model.TemplateDefault, SubmissionData: "{}",
	}))
	require.NoError(t, store.CreateWorkflow(ctx, &model.Workflow{
		WorkflowID: "WF-NEW", Timestamp: recent, UserID: "1", Username: "dave",
		Project: "payments", TemplateType: model.TemplateDefault, SubmissionData: "{}",
	}))

	n, err := Run(ctx, store, nil, DefaultMaxAge)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = store.GetWorkflow(ctx, "WF-OLD")
	assert.ErrorIs(t, err, sqlstore.ErrNotFound)

	_, err = store.GetWorkflow(ctx, "WF-NEW")
	require.NoError(t, err)
}
