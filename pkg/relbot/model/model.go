// Package model defines the core entities of the release-approval pipeline:
// workflows, their SSO and Jenkins children, project configuration, and the
// message templates rendered into chat.
package model

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of a Workflow.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// TemplateType selects which message-template family a workflow uses.
type TemplateType string

const (
	TemplateDefault     TemplateType = "default"
	TemplateAddressOnly TemplateType = "address_only"
)

// BuildStatus is the shared terminal-state vocabulary for SSO releases and
// Jenkins builds. Jenkins additionally uses QUEUED and BUILDING as
// non-terminal states; UNSTABLE is Jenkins-only.
type BuildStatus string

const (
	BuildQueued   BuildStatus = "QUEUED"
	BuildBuilding BuildStatus = "BUILDING"
	BuildSuccess  BuildStatus = "SUCCESS"
	BuildFailure  BuildStatus = "FAILURE"
	BuildAborted  BuildStatus = "ABORTED"
	BuildUnstable BuildStatus = "UNSTABLE"
	BuildTimeout  BuildStatus = "TIMEOUT"
	BuildError    BuildStatus = "ERROR"
)

// IsTerminal reports whether a build status will never transition further.
func (s BuildStatus) IsTerminal() bool {
	switch s {
	case BuildSuccess, BuildFailure, BuildAborted, BuildUnstable, BuildTimeout, BuildError:
		return true
	default:
		return false
	}
}

// SubmitStatus is the lifecycle of an SSO ticket submission.
type SubmitStatus string

const (
	SubmitPending SubmitStatus = "pending"
	SubmitSuccess SubmitStatus = "success"
	SubmitFailed  SubmitStatus = "failed"
)

// Workflow is the root aggregate: one deployment request from conversation
// through approval to downstream terminal state.
type Workflow struct {
	WorkflowID       string
	Timestamp        int64
	UserID           string
	Username         string
	Project          string
	TemplateType     TemplateType
	SubmissionData   string
	Status           Status
	ApproverID       string
	ApproverUsername string
	ApprovalTime     *int64
	ApprovalComment  string
	SyncedToAPI      bool
	GroupMessages    map[int64]int64 // group_id -> message_id
}

// IsPending reports whether the workflow has not yet been decided.
func (w *Workflow) IsPending() bool { return w.Status == StatusPending }

// SSOSubmission is the at-most-one-per-workflow ticket submission.
type SSOSubmission struct {
	SubmissionID      string // == WorkflowID
	ProcessInstanceID string
	OrderData         string
	SubmitStatus      SubmitStatus
	SubmitResponse    string
	ErrorMessage      string
}

// SSOBuildStatus tracks one release id returned by an SSO ticket.
type SSOBuildStatus struct {
	BuildID        string
	SubmissionID   string
	WorkflowID     string
	ReleaseID      int64
	JobName        string
	BuildStatus    BuildStatus
	BuildStartTime *int64
	BuildEndTime   *int64
	BuildDetail    string
	Notified       bool
}

// JenkinsBuild tracks one triggered Jenkins job for a workflow.
type JenkinsBuild struct {
	BuildID         string
	WorkflowID      string
	JobName         string // "<env-key>/<service>"
	BuildNumber     *int64
	JobURL          string
	BuildStatus     BuildStatus
	BuildParameters string
	BuildStartTime  *int64
	BuildEndTime    *int64
	BuildDurationMS *int64
	Notified        bool
}

// JenkinsConfig is the per-project Jenkins integration block.
type JenkinsConfig struct {
	Enabled       bool   `json:"enabled"`
	URL           string `json:"url"`
	Username      string `json:"username"`
	APIToken      string `json:"api_token"`
	MaxConcurrent int    `json:"max_concurrent"`
}

// ProxyConfig is the per-project or global proxy override.
type ProxyConfig struct {
	Enabled  bool   `json:"enabled"`
	Type     string `json:"type"` // socks5, socks5h, http, https
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// ProjectOption describes one project's deployment-request configuration.
type ProjectOption struct {
	Command       string              `json:"command"`
	Environments  []string            `json:"environments"`
	Services      map[string][]string `json:"services"`
	GroupIDs      []int64             `json:"group_ids"`
	OpsUsernames  []string            `json:"ops_usernames,omitempty"`
	AddressOnly   bool                `json:"address_only,omitempty"`
	DefaultBranch map[string]string   `json:"default_branch,omitempty"`
	Jenkins       JenkinsConfig       `json:"jenkins"`
	Proxy         ProxyConfig         `json:"proxy"`
}

// NormalizedCommand returns the project's slash command with a leading "/".
func (p ProjectOption) NormalizedCommand() string {
	if strings.HasPrefix(p.Command, "/") {
		return p.Command
	}
	return "/" + p.Command
}

// DefaultBranchFor resolves the configured default branch for env
// (case-insensitively), or "" if none is configured.
func (p ProjectOption) DefaultBranchFor(env string) string {
	for k, v := range p.DefaultBranch {
		if strings.EqualFold(k, env) {
			return v
		}
	}
	return ""
}

// EnvKey resolves env (case-insensitively) to the key used in Services.
// This is the single tolerant lookup shared by the SSO and Jenkins paths
// (spec Open Question #3): both orchestrators call this instead of each
// re-implementing their own matching rule.
func (p ProjectOption) EnvKey(env string) (string, bool) {
	for k := range p.Services {
		if strings.EqualFold(k, env) {
			return k, true
		}
	}
	return "", false
}

// ProjectOptions is the full `projects` document (config/options.json).
type ProjectOptions struct {
	Projects map[string]ProjectOption `json:"projects"`
}

// MessageTemplate is a (template_type, project) -> text row; Project=="" is
// the global fallback row.
type MessageTemplate struct {
	TemplateType TemplateType
	Project      string
	Text         string
}

// App config keys (spec §6).
const (
	KeyBotToken              = "BOT_TOKEN"
	KeyApproverUsername      = "APPROVER_USERNAME"
	KeyApproverUserID        = "APPROVER_USER_ID"
	KeyAPIBaseURL            = "API_BASE_URL"
	KeyAPIEndpoint           = "API_ENDPOINT"
	KeyAPIToken              = "API_TOKEN"
	KeyAPITimeout            = "API_TIMEOUT"
	KeyConnectionPoolSize    = "CONNECTION_POOL_SIZE"
	KeyHTTPReadTimeout       = "HTTP_READ_TIMEOUT"
	KeyHTTPWriteTimeout      = "HTTP_WRITE_TIMEOUT"
	KeyHTTPConnectTimeout    = "HTTP_CONNECT_TIMEOUT"
	KeySSOEnabled            = "SSO_ENABLED"
	KeySSOURL                = "SSO_URL"
	KeySSOAuthToken          = "SSO_AUTH_TOKEN"
	KeySSOAuthorization      = "SSO_AUTHORIZATION"
	KeyProxyEnabled          = "PROXY_ENABLED"
	KeyProxyType             = "PROXY_TYPE"
	KeyProxyHost             = "PROXY_HOST"
	KeyProxyPort             = "PROXY_PORT"
	KeyProxyUsername         = "PROXY_USERNAME"
	KeyProxyPassword         = "PROXY_PASSWORD"
	KeyLogLevel              = "LOG_LEVEL"
	KeyLogFile               = "LOG_FILE"
)

// NewWorkflowID allocates a human-readable workflow id of the form
// WF-YYYYMMDD-XXXXXXXX (8 uppercase hex chars), matching spec §4.2 and the
// format assertion in spec §8 property 1.
func NewWorkflowID(now time.Time) string {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand failing means the OS RNG is broken; a workflow id
		// must still be produced, so fall back to a time-derived suffix.
		ns := now.UnixNano()
		return fmt.Sprintf("WF-%s-%08X", now.Format("20060102"), uint32(ns))
	}
	suffix := strings.ToUpper(hex.EncodeToString(buf[:]))
	return fmt.Sprintf("WF-%s-%s", now.Format("20060102"), suffix)
}
