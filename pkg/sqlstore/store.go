// Package sqlstore is the embedded relational store for relbot. It keeps
// workflows, their SSO and Jenkins children, and configuration in a single
// WAL-mode SQLite database, opened with the pure-Go modernc.org/sqlite
// driver so the daemon and the relbotctl admin CLI never need cgo.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/c360studio/relbot/pkg/relbot/model"
)

// ErrNotFound is returned by single-row lookups that find nothing.
var ErrNotFound = errors.New("sqlstore: not found")

// Store wraps a *sql.DB configured for relbot's access pattern: one writer
// at a time under WAL, a busy timeout so concurrent orchestrator goroutines
// back off instead of failing outright, and foreign keys enforced.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open creates or opens the database at path and brings its schema up to
// date. path may be ":memory:" for tests.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dsn := path
	if path != ":memory:" {
		dsn = fmt.Sprintf("%s?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open: %w", err)
	}
	// SQLite allows only one writer; a single connection avoids
	// SQLITE_BUSY churn across the orchestrator's goroutines.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, logger: logger}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("sqlstore: apply schema: %w", err)
	}
	for _, add := range columnAdditions {
		has, err := s.hasColumn(ctx, add.table, add.column)
		if err != nil {
			return err
		}
		if has {
			continue
		}
		if _, err := s.db.ExecContext(ctx, add.ddl); err != nil {
			return fmt.Errorf("sqlstore: add column %s.%s: %w", add.table, add.column, err)
		}
		s.logger.Info("sqlstore: added column", "table", add.table, "column", add.column)
	}
	return nil
}

func (s *Store) hasColumn(ctx context.Context, table, column string) (bool, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, fmt.Errorf("sqlstore: table_info(%s): %w", table, err)
	}
	defer rows.Close()
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull int
		var dflt sql.NullString
		var pk int
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

// CreateWorkflow inserts a new pending workflow.
func (s *Store) CreateWorkflow(ctx context.Context, wf *model.Workflow) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workflows (workflow_id, timestamp, user_id, username, project, template_type, submission_data, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		wf.WorkflowID, wf.Timestamp, wf.UserID, wf.Username, wf.Project, wf.TemplateType, wf.SubmissionData, string(model.StatusPending))
	if err != nil {
		return fmt.Errorf("sqlstore: create workflow: %w", err)
	}
	return nil
}

// GetWorkflow fetches one workflow and its attached group messages.
func (s *Store) GetWorkflow(ctx context.Context, workflowID string) (*model.Workflow, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT workflow_id, timestamp, user_id, username, project, template_type, submission_data,
		       status, approver_id, approver_username, approval_time, approval_comment, synced_to_api
		FROM workflows WHERE workflow_id = ?`, workflowID)

	wf := &model.Workflow{}
	var approverID, approverUsername, approvalComment sql.NullString
	var approvalTime sql.NullInt64
	var synced int
	if err := row.Scan(&wf.WorkflowID, &wf.Timestamp, &wf.UserID, &wf.Username, &wf.Project,
		&wf.TemplateType, &wf.SubmissionData, &wf.Status, &approverID, &approverUsername,
		&approvalTime, &approvalComment, &synced); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("sqlstore: get workflow: %w", err)
	}
	wf.ApproverID = approverID.String
	wf.ApproverUsername = approverUsername.String
	wf.ApprovalComment = approvalComment.String
	wf.SyncedToAPI = synced != 0
	if approvalTime.Valid {
		wf.ApprovalTime = &approvalTime.Int64
	}

	msgs, err := s.groupMessages(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	wf.GroupMessages = msgs
	return wf, nil
}

func (s *Store) groupMessages(ctx context.Context, workflowID string) (map[int64]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT group_id, message_id FROM workflow_messages WHERE workflow_id = ?`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: group messages: %w", err)
	}
	defer rows.Close()
	out := map[int64]int64{}
	for rows.Next() {
		var g, m int64
		if err := rows.Scan(&g, &m); err != nil {
			return nil, err
		}
		out[g] = m
	}
	return out, rows.Err()
}

// AttachGroupMessage records the (group, message) pair posted for a
// workflow so later edits/replies know which message to target.
func (s *Store) AttachGroupMessage(ctx context.Context, workflowID string, groupID, messageID int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workflow_messages (workflow_id, group_id, message_id) VALUES (?, ?, ?)
		ON CONFLICT (workflow_id, group_id) DO UPDATE SET message_id = excluded.message_id`,
		workflowID, groupID, messageID)
	if err != nil {
		return fmt.Errorf("sqlstore: attach group message: %w", err)
	}
	return nil
}

// ApplyApproval performs the pending->approved/rejected transition inside a
// transaction, failing if the workflow is no longer pending. This is the
// only way callers may change workflow.status: there is no generic update
// method, so every write path is named and auditable.
func (s *Store) ApplyApproval(ctx context.Context, workflowID string, approved bool, approverID, approverUsername, comment string, at time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlstore: begin approval tx: %w", err)
	}
	defer tx.Rollback()

	var status string
	if err := tx.QueryRowContext(ctx, `SELECT status FROM workflows WHERE workflow_id = ?`, workflowID).Scan(&status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("sqlstore: read status for approval: %w", err)
	}
	if status != string(model.StatusPending) {
		return fmt.Errorf("sqlstore: workflow %s is not pending (status=%s)", workflowID, status)
	}

	newStatus := model.StatusRejected
	if approved {
		newStatus = model.StatusApproved
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE workflows SET status = ?, approver_id = ?, approver_username = ?, approval_time = ?, approval_comment = ?
		WHERE workflow_id = ?`,
		string(newStatus), approverID, approverUsername, at.Unix(), comment, workflowID)
	if err != nil {
		return fmt.Errorf("sqlstore: apply approval: %w", err)
	}
	return tx.Commit()
}

// MarkSynced flags a workflow as having been pushed to the external API.
func (s *Store) MarkSynced(ctx context.Context, workflowID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE workflows SET synced_to_api = 1 WHERE workflow_id = ?`, workflowID)
	if err != nil {
		return fmt.Errorf("sqlstore: mark synced: %w", err)
	}
	return nil
}

// ListUnsyncedDecided returns approved/rejected workflows not yet synced.
func (s *Store) ListUnsyncedDecided(ctx context.Context, limit int) ([]*model.Workflow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT workflow_id FROM workflows
		WHERE synced_to_api = 0 AND status IN ('approved', 'rejected')
		ORDER BY approval_time ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list unsynced: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	out := make([]*model.Workflow, 0, len(ids))
	for _, id := range ids {
		wf, err := s.GetWorkflow(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, wf)
	}
	return out, nil
}

// UpsertProjectOptions stores the full project configuration document.
func (s *Store) UpsertProjectOptions(ctx context.Context, project string, opt model.ProjectOption, now time.Time) error {
	data, err := json.Marshal(opt)
	if err != nil {
		return fmt.Errorf("sqlstore: marshal project options: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO project_options (project, data, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (project) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		project, string(data), now.Unix())
	if err != nil {
		return fmt.Errorf("sqlstore: upsert project options: %w", err)
	}
	return nil
}

// LoadProjectOptions returns the full project -> configuration map.
func (s *Store) LoadProjectOptions(ctx context.Context) (model.ProjectOptions, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT project, data FROM project_options`)
	if err != nil {
		return model.ProjectOptions{}, fmt.Errorf("sqlstore: load project options: %w", err)
	}
	defer rows.Close()
	out := model.ProjectOptions{Projects: map[string]model.ProjectOption{}}
	for rows.Next() {
		var project, data string
		if err := rows.Scan(&project, &data); err != nil {
			return model.ProjectOptions{}, err
		}
		var opt model.ProjectOption
		if err := json.Unmarshal([]byte(data), &opt); err != nil {
			return model.ProjectOptions{}, fmt.Errorf("sqlstore: decode project %s: %w", project, err)
		}
		out.Projects[project] = opt
	}
	return out, rows.Err()
}

// GetAppConfig returns a config value or def if the key is unset.
func (s *Store) GetAppConfig(ctx context.Context, key, def string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM app_config WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return def, nil
	}
	if err != nil {
		return "", fmt.Errorf("sqlstore: get app config %s: %w", key, err)
	}
	return value, nil
}

// SetAppConfig upserts a single config value, used by relbotctl update-token.
func (s *Store) SetAppConfig(ctx context.Context, key, value string, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_config (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, now.Unix())
	if err != nil {
		return fmt.Errorf("sqlstore: set app config %s: %w", key, err)
	}
	return nil
}

// CleanupOldData deletes workflows (and their cascading children) older
// than cutoff, in small batches so a large backlog never holds the single
// writer connection for long. Called only from the admin CLI's retention
// command, never on a timer (spec's retention Open Question: manual only).
func (s *Store) CleanupOldData(ctx context.Context, cutoff time.Time) (int64, error) {
	const batchSize = 1000
	var total int64
	for {
		res, err := s.db.ExecContext(ctx, `
			DELETE FROM workflows WHERE workflow_id IN (
				SELECT workflow_id FROM workflows WHERE timestamp < ? LIMIT ?
			)`, cutoff.Unix(), batchSize)
		if err != nil {
			return total, fmt.Errorf("sqlstore: cleanup batch: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, err
		}
		total += n
		if n < batchSize {
			return total, nil
		}
		select {
		case <-ctx.Done():
			return total, ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// DB exposes the underlying handle for callers that run their own SQL
// (relbotctl's query-db row counts and query-workflows listing).
func (s *Store) DB() *sql.DB { return s.db }
