package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/c360studio/relbot/pkg/relbot/model"
)

// CreateSSOSubmission records a new (at most one per workflow) ticket
// submission attempt.
func (s *Store) CreateSSOSubmission(ctx context.Context, sub *model.SSOSubmission) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sso_submissions (submission_id, process_instance_id, order_data, submit_status, submit_response, error_message)
		VALUES (?, ?, ?, ?, ?, ?)`,
		sub.SubmissionID, sub.ProcessInstanceID, sub.OrderData, string(sub.SubmitStatus), sub.SubmitResponse, sub.ErrorMessage)
	if err != nil {
		return fmt.Errorf("sqlstore: create sso submission: %w", err)
	}
	return nil
}

// UpdateSubmission records the result of the SSO submit call.
func (s *Store) UpdateSubmission(ctx context.Context, submissionID string, status model.SubmitStatus, processInstanceID, response, errMsg string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sso_submissions SET submit_status = ?, process_instance_id = ?, submit_response = ?, error_message = ?
		WHERE submission_id = ?`,
		string(status), processInstanceID, response, errMsg, submissionID)
	if err != nil {
		return fmt.Errorf("sqlstore: update submission: %w", err)
	}
	return nil
}

// GetSSOSubmission fetches one submission by workflow id.
func (s *Store) GetSSOSubmission(ctx context.Context, submissionID string) (*model.SSOSubmission, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT submission_id, process_instance_id, order_data, submit_status, submit_response, error_message
		FROM sso_submissions WHERE submission_id = ?`, submissionID)
	sub := &model.SSOSubmission{}
	var pid, resp, errMsg sql.NullString
	if err := row.Scan(&sub.SubmissionID, &pid, &sub.OrderData, &sub.SubmitStatus, &resp, &errMsg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("sqlstore: get sso submission: %w", err)
	}
	sub.ProcessInstanceID = pid.String
	sub.SubmitResponse = resp.String
	sub.ErrorMessage = errMsg.String
	return sub, nil
}

// CreateSSOBuildStatus records one release id discovered for a submission.
func (s *Store) CreateSSOBuildStatus(ctx context.Context, b *model.SSOBuildStatus) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sso_build_status (build_id, submission_id, workflow_id, release_id, job_name, build_status)
		VALUES (?, ?, ?, ?, ?, ?)`,
		b.BuildID, b.SubmissionID, b.WorkflowID, b.ReleaseID, b.JobName, string(b.BuildStatus))
	if err != nil {
		return fmt.Errorf("sqlstore: create sso build status: %w", err)
	}
	return nil
}

// UpdateSSOBuildJobName records the Jenkins job name a release id turned
// out to belong to, learned from the first successful buildDetail poll
// (getReleaseId's response carries no job name up front).
func (s *Store) UpdateSSOBuildJobName(ctx context.Context, buildID, jobName string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE sso_build_status SET job_name = ? WHERE build_id = ?`, jobName, buildID)
	if err != nil {
		return fmt.Errorf("sqlstore: update sso build job name: %w", err)
	}
	return nil
}

// UpdateSSOBuildStatus applies a poll result to one release row.
func (s *Store) UpdateSSOBuildStatus(ctx context.Context, buildID string, status model.BuildStatus, detail string, start, end *time.Time) error {
	var startUnix, endUnix sql.NullInt64
	if start != nil {
		startUnix = sql.NullInt64{Int64: start.Unix(), Valid: true}
	}
	if end != nil {
		endUnix = sql.NullInt64{Int64: end.Unix(), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE sso_build_status SET build_status = ?, build_detail = ?, build_start_time = ?, build_end_time = ?
		WHERE build_id = ?`, string(status), detail, startUnix, endUnix, buildID)
	if err != nil {
		return fmt.Errorf("sqlstore: update sso build status: %w", err)
	}
	return nil
}

// ListSSOBuildsBySubmission returns every release row tracked for a
// submission, used by the poller to know when all are terminal.
func (s *Store) ListSSOBuildsBySubmission(ctx context.Context, submissionID string) ([]*model.SSOBuildStatus, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT build_id, submission_id, workflow_id, release_id, job_name, build_status, notified
		FROM sso_build_status WHERE submission_id = ?`, submissionID)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list sso builds: %w", err)
	}
	defer rows.Close()
	var out []*model.SSOBuildStatus
	for rows.Next() {
		b := &model.SSOBuildStatus{}
		var notified int
		if err := rows.Scan(&b.BuildID, &b.SubmissionID, &b.WorkflowID, &b.ReleaseID, &b.JobName, &b.BuildStatus, &notified); err != nil {
			return nil, err
		}
		b.Notified = notified != 0
		out = append(out, b)
	}
	return out, rows.Err()
}

// MarkSSOBuildNotified flags that a terminal-state notification was posted.
func (s *Store) MarkSSOBuildNotified(ctx context.Context, buildID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE sso_build_status SET notified = 1 WHERE build_id = ?`, buildID)
	return err
}

// CreateJenkinsBuild records a newly triggered job.
func (s *Store) CreateJenkinsBuild(ctx context.Context, b *model.JenkinsBuild) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jenkins_builds (build_id, workflow_id, job_name, build_status, build_parameters)
		VALUES (?, ?, ?, ?, ?)`,
		b.BuildID, b.WorkflowID, b.JobName, string(b.BuildStatus), b.BuildParameters)
	if err != nil {
		return fmt.Errorf("sqlstore: create jenkins build: %w", err)
	}
	return nil
}

// UpdateJenkinsQueued attaches the Jenkins build number once the queue item
// resolves to an actual build.
func (s *Store) UpdateJenkinsQueued(ctx context.Context, buildID string, buildNumber int64, jobURL string, start time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE jenkins_builds SET build_number = ?, job_url = ?, build_status = ?, build_start_time = ?
		WHERE build_id = ?`, buildNumber, jobURL, string(model.BuildBuilding), start.Unix(), buildID)
	if err != nil {
		return fmt.Errorf("sqlstore: update jenkins queued: %w", err)
	}
	return nil
}

// UpdateJenkinsTerminal applies a poller's final result to a build row.
func (s *Store) UpdateJenkinsTerminal(ctx context.Context, buildID string, status model.BuildStatus, end time.Time, durationMS int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE jenkins_builds SET build_status = ?, build_end_time = ?, build_duration_ms = ?
		WHERE build_id = ?`, string(status), end.Unix(), durationMS, buildID)
	if err != nil {
		return fmt.Errorf("sqlstore: update jenkins terminal: %w", err)
	}
	return nil
}

// ListJenkinsBuildsByWorkflow returns every Jenkins job tracked for a workflow.
func (s *Store) ListJenkinsBuildsByWorkflow(ctx context.Context, workflowID string) ([]*model.JenkinsBuild, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT build_id, workflow_id, job_name, build_number, job_url, build_status, notified
		FROM jenkins_builds WHERE workflow_id = ?`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list jenkins builds: %w", err)
	}
	defer rows.Close()
	var out []*model.JenkinsBuild
	for rows.Next() {
		b := &model.JenkinsBuild{}
		var buildNumber sql.NullInt64
		var jobURL sql.NullString
		var notified int
		if err := rows.Scan(&b.BuildID, &b.WorkflowID, &b.JobName, &buildNumber, &jobURL, &b.BuildStatus, &notified); err != nil {
			return nil, err
		}
		if buildNumber.Valid {
			b.BuildNumber = &buildNumber.Int64
		}
		b.JobURL = jobURL.String
		b.Notified = notified != 0
		out = append(out, b)
	}
	return out, rows.Err()
}

// MarkJenkinsBuildNotified flags that a terminal-state notification was posted.
func (s *Store) MarkJenkinsBuildNotified(ctx context.Context, buildID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE jenkins_builds SET notified = 1 WHERE build_id = ?`, buildID)
	return err
}

// GetMessageTemplate returns the text for (templateType, project), falling
// back to the global row (project = "") and finally to def.
func (s *Store) GetMessageTemplate(ctx context.Context, templateType model.TemplateType, project, def string) (string, error) {
	var text string
	err := s.db.QueryRowContext(ctx, `
		SELECT text FROM message_templates WHERE template_type = ? AND project = ?`,
		string(templateType), project).Scan(&text)
	if err == nil {
		return text, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("sqlstore: get message template: %w", err)
	}
	if project != "" {
		err = s.db.QueryRowContext(ctx, `
			SELECT text FROM message_templates WHERE template_type = ? AND project = ''`,
			string(templateType)).Scan(&text)
		if err == nil {
			return text, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("sqlstore: get fallback message template: %w", err)
		}
	}
	return def, nil
}

// SeedMessageTemplate inserts a default template if none exists yet for
// (templateType, project). Used once at control-plane boot so a fresh
// database always has usable chat copy (spec §4.1 default seeding).
func (s *Store) SeedMessageTemplate(ctx context.Context, templateType model.TemplateType, project, text string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO message_templates (template_type, project, text) VALUES (?, ?, ?)
		ON CONFLICT (template_type, project) DO NOTHING`, string(templateType), project, text)
	if err != nil {
		return fmt.Errorf("sqlstore: seed message template: %w", err)
	}
	return nil
}
