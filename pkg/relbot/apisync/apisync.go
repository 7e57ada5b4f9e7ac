// Package apisync implements C9: pushing decided-but-unsynced workflows to
// an external tracking API with a single authenticated POST per workflow,
// marking each one synced only after a successful response. Grounded on
// the same request/response adapter shape as llm/providers/anthropic.go,
// reduced to the single endpoint spec §4.9 requires.
package apisync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/c360studio/relbot/pkg/configstore"
	"github.com/c360studio/relbot/pkg/relbot/model"
	"github.com/c360studio/relbot/pkg/sqlstore"
)

// batchSize bounds how many unsynced workflows one Sync pass pushes, so a
// large backlog doesn't hold the single sqlite writer connection for long.
const batchSize = 50

// Syncer pushes decided workflows to the external API.
type Syncer struct {
	store      *sqlstore.Store
	cfg        *configstore.Store
	httpClient *http.Client
	logger     *slog.Logger
}

// New builds a Syncer.
func New(store *sqlstore.Store, cfg *configstore.Store, httpClient *http.Client, logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{store: store, cfg: cfg, httpClient: httpClient, logger: logger}
}

type syncPayload struct {
	WorkflowID       string `json:"workflow_id"`
	Project          string `json:"project"`
	Username         string `json:"username"`
	Status           string `json:"status"`
	ApproverUsername string `json:"approver_username"`
	ApprovalTime     *int64 `json:"approval_time"`
	ApprovalComment  string `json:"approval_comment"`
}

// Sync pushes up to batchSize unsynced decided workflows, marking each
// synced on a successful (2xx) response and leaving it for the next pass
// otherwise.
func (s *Syncer) Sync(ctx context.Context) (int, error) {
	workflows, err := s.store.ListUnsyncedDecided(ctx, batchSize)
	if err != nil {
		return 0, fmt.Errorf("apisync: list unsynced: %w", err)
	}

	baseURL, err := s.cfg.GetAppConfig(ctx, model.KeyAPIBaseURL, "")
	if err != nil {
		return 0, fmt.Errorf("apisync: load base url: %w", err)
	}
	endpoint, err := s.cfg.GetAppConfig(ctx, model.KeyAPIEndpoint, "/api/deployments")
	if err != nil {
		return 0, fmt.Errorf("apisync: load endpoint: %w", err)
	}
	token, err := s.cfg.GetAppConfig(ctx, model.KeyAPIToken, "")
	if err != nil {
		return 0, fmt.Errorf("apisync: load token: %w", err)
	}
	if baseURL == "" {
		return 0, nil
	}

	synced := 0
	for _, wf := range workflows {
		if err := s.push(ctx, baseURL+endpoint, token, wf); err != nil {
			s.logger.Error("apisync: push failed", "workflow_id", wf.WorkflowID, "error", err)
			continue
		}
		if err := s.store.MarkSynced(ctx, wf.WorkflowID); err != nil {
			s.logger.Error("apisync: mark synced failed", "workflow_id", wf.WorkflowID, "error", err)
			continue
		}
		synced++
	}
	return synced, nil
}

func (s *Syncer) push(ctx context.Context, url, token string, wf *model.Workflow) error {
	payload := syncPayload{
		WorkflowID:       wf.WorkflowID,
		Project:          wf.Project,
		Username:         wf.Username,
		Status:           string(wf.Status),
		ApproverUsername: wf.ApproverUsername,
		ApprovalTime:     wf.ApprovalTime,
		ApprovalComment:  wf.ApprovalComment,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("apisync: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("apisync: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("apisync: post: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("apisync: post returned status %d", resp.StatusCode)
	}
	return nil
}
