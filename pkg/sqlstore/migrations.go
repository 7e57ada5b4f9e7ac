package sqlstore

// schema is the idempotent DDL applied on every startup. Tables use
// CREATE TABLE IF NOT EXISTS so a fresh database and an existing one both
// converge to the same shape; column additions to existing installs are
// handled separately in migrate via PRAGMA table_info introspection.
const schema = `
PRAGMA journal_mode = WAL;
PRAGMA busy_timeout = 5000;
PRAGMA foreign_keys = ON;

CREATE TABLE IF NOT EXISTS workflows (
	workflow_id       TEXT PRIMARY KEY,
	timestamp         INTEGER NOT NULL,
	user_id           TEXT NOT NULL,
	username          TEXT NOT NULL,
	project           TEXT NOT NULL,
	template_type     TEXT NOT NULL DEFAULT 'default',
	submission_data   TEXT NOT NULL,
	status            TEXT NOT NULL DEFAULT 'pending',
	approver_id       TEXT,
	approver_username TEXT,
	approval_time     INTEGER,
	approval_comment  TEXT,
	synced_to_api     INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_workflows_status ON workflows(status);
CREATE INDEX IF NOT EXISTS idx_workflows_project ON workflows(project);
CREATE INDEX IF NOT EXISTS idx_workflows_timestamp ON workflows(timestamp);
CREATE INDEX IF NOT EXISTS idx_workflows_synced ON workflows(synced_to_api, status);

CREATE TABLE IF NOT EXISTS workflow_messages (
	workflow_id TEXT NOT NULL REFERENCES workflows(workflow_id) ON DELETE CASCADE,
	group_id    INTEGER NOT NULL,
	message_id  INTEGER NOT NULL,
	PRIMARY KEY (workflow_id, group_id)
);

CREATE TABLE IF NOT EXISTS project_options (
	project    TEXT PRIMARY KEY,
	data       TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS app_config (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS sso_submissions (
	submission_id       TEXT PRIMARY KEY REFERENCES workflows(workflow_id) ON DELETE CASCADE,
	process_instance_id TEXT,
	order_data          TEXT NOT NULL,
	submit_status       TEXT NOT NULL DEFAULT 'pending',
	submit_response     TEXT,
	error_message       TEXT
);

CREATE TABLE IF NOT EXISTS sso_build_status (
	build_id         TEXT PRIMARY KEY,
	submission_id    TEXT NOT NULL REFERENCES sso_submissions(submission_id) ON DELETE CASCADE,
	workflow_id      TEXT NOT NULL REFERENCES workflows(workflow_id) ON DELETE CASCADE,
	release_id       INTEGER NOT NULL,
	job_name         TEXT NOT NULL,
	build_status     TEXT NOT NULL DEFAULT 'QUEUED',
	build_start_time INTEGER,
	build_end_time   INTEGER,
	build_detail     TEXT,
	notified         INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_sso_build_workflow ON sso_build_status(workflow_id);
CREATE INDEX IF NOT EXISTS idx_sso_build_pending ON sso_build_status(build_status, notified);

CREATE TABLE IF NOT EXISTS jenkins_builds (
	build_id          TEXT PRIMARY KEY,
	workflow_id       TEXT NOT NULL REFERENCES workflows(workflow_id) ON DELETE CASCADE,
	job_name          TEXT NOT NULL,
	build_number      INTEGER,
	job_url           TEXT,
	build_status      TEXT NOT NULL DEFAULT 'QUEUED',
	build_parameters  TEXT,
	build_start_time  INTEGER,
	build_end_time    INTEGER,
	build_duration_ms INTEGER,
	notified          INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_jenkins_build_workflow ON jenkins_builds(workflow_id);
CREATE INDEX IF NOT EXISTS idx_jenkins_build_pending ON jenkins_builds(build_status, notified);
CREATE INDEX IF NOT EXISTS idx_jenkins_build_job ON jenkins_builds(job_name);

CREATE TABLE IF NOT EXISTS message_templates (
	template_type TEXT NOT NULL,
	project       TEXT NOT NULL DEFAULT '',
	text          TEXT NOT NULL,
	PRIMARY KEY (template_type, project)
);
`

// columnAdditions lists columns that later revisions of this schema may need
// to add to a database created by an older build. Each entry is applied only
// if migrate finds the column missing via PRAGMA table_info.
var columnAdditions = []struct {
	table  string
	column string
	ddl    string
}{
	// Example of the pattern used when a field is added after first release:
	// {"workflows", "rollback_of", "ALTER TABLE workflows ADD COLUMN rollback_of TEXT"},
}
