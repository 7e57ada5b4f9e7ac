// Package ssoclient is the HTTP adapter for the SSO release-ticket
// service: resolving Jenkins job ids for a project/environment, submitting
// a release ticket, and polling the release ids it produces to terminal
// state. Structured the way the teacher's llm/providers adapters build a
// request, set headers, and parse a typed response (see
// llm/providers/anthropic.go), adapted from an LLM provider to a REST
// release-ticket API.
package ssoclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Client talks to the SSO ticket service over HTTP.
type Client struct {
	baseURL    string
	authHeader string
	authToken  string
	httpClient *http.Client
}

// New builds a Client. authHeader is the header name the SSO service
// expects its bearer/token value under (spec §6 names this per deployment,
// hence it is configurable rather than hardcoded to "Authorization").
func New(baseURL, authHeader, authToken string, httpClient *http.Client) *Client {
	return &Client{baseURL: baseURL, authHeader: authHeader, authToken: authToken, httpClient: httpClient}
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.authHeader != "" && c.authToken != "" {
		req.Header.Set(c.authHeader, c.authToken)
	}
}

// JobMatch is one entry of queryOaSameJob's response: a Jenkins job id and
// the job name it is registered under.
type JobMatch struct {
	JobID   string `json:"jobId"`
	JobName string `json:"jobName"`
}

// QueryOaSameJob asks SSO which Jenkins jobs exist for project under env.
// The SSO orchestrator (§4.6 step 2) matches requested service names
// against the returned job names itself; this call only fetches the
// candidate list.
func (c *Client) QueryOaSameJob(ctx context.Context, env, project string) ([]JobMatch, error) {
	q := url.Values{"env": {env}, "projects": {project}}
	path := "/api/publish3/publish/jenkinsJob/queryOaSameJob?" + q.Encode()
	var wrapper struct {
		Data []JobMatch `json:"data"`
	}
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &wrapper); err != nil {
		return nil, err
	}
	return wrapper.Data, nil
}

// OrderParameters are the Jenkins trigger parameters embedded in one
// ticket order item (spec §4.7.3's param contract, carried through the
// SSO ticket document as a record of what will be triggered).
type OrderParameters struct {
	CheckCommitID string `json:"check_commitID"`
	ActionType    string `json:"action_type"`
	GitBranch     string `json:"gitBranch"`
	CanRollback   string `json:"canRollback"`
	RollbackVer   string `json:"rollback_ver"`
}

// OrderItem is one service's entry in the ticket's order list.
type OrderItem struct {
	ProjectName string          `json:"project_name"`
	Env         string          `json:"env"`
	JobID       string          `json:"job_id"`
	Name        string          `json:"name"`
	Parameters  OrderParameters `json:"parameters"`
}

// detailRow is one element of the ticket's "detail" array. The array mixes
// three shapes (a bare status marker, a flat id/name/value field, and the
// "application" row nesting the order list) so every field below is
// optional; exactly one combination is populated per row.
type detailRow struct {
	Status      string        `json:"status,omitempty"`
	ID          string        `json:"id,omitempty"`
	Name        string        `json:"name,omitempty"`
	Value       any           `json:"value,omitempty"`
	Children    [][]OrderItem `json:"children,omitempty"`
	AccountData []OrderItem   `json:"account_data,omitempty"`
	JobStatus   bool          `json:"job_status,omitempty"`
}

// TicketDocument is the full SSO release-ticket payload built by §4.6 step
// 3. Detail stays structured here; SubmitOrder re-serializes it to a JSON
// string on the wire, the documented peculiarity of the downstream.
type TicketDocument struct {
	Detail         [][]detailRow
	DraftID        string
	EndType        string
	ProcessStatus  string
	PublishVersion string
	Title          string
	Type           string
	UserID         string
}

// defaultSSOUserID is the fixed submitter account id the SSO downstream
// expects on every automated ticket, independent of who approved the
// workflow in chat.
const defaultSSOUserID = "10572"

// BuildTicketDocument composes the canonical release-ticket document for
// project: a fixed boilerplate detail block plus one order-list entry per
// item in orders, nested under an "application" field that also carries a
// flat account_data mirror (spec §4.6 step 3).
func BuildTicketDocument(project, approverEmail string, orders []OrderItem, releaseTime time.Time) TicketDocument {
	children := make([][]OrderItem, len(orders))
	for i, o := range orders {
		children[i] = []OrderItem{o}
	}

	return TicketDocument{
		Detail: [][]detailRow{{
			{Status: "申请详情"},
			{ID: "projectName", Name: "项目名称", Value: project},
			{ID: "releaseType", Name: "发布类型", Value: "常规发布"},
			{ID: "category", Name: "依赖业务", Value: ""},
			{ID: "environment", Name: "上线环境", Value: "预发环境"},
			{ID: "releaseTime", Name: "上线时间", Value: releaseTime.Format("2006-01-02 15:04:05")},
			{ID: "repository", Name: "仓库地址", Value: ""},
			{ID: "codeBranch", Name: "代码分支", Value: ""},
			{ID: "onlineVersion", Name: "上线版本", Value: "上线版本"},
			{ID: "onlineMD5", Name: "MD5", Value: "MD5"},
			{ID: "updateContent", Name: "更新内容", Value: "更新内容"},
			{ID: "sqlUpdate", Name: "SQL更新", Value: false},
			{ID: "configUpdate", Name: "配置文件更新", Value: false},
			{ID: "affectScope", Name: "影响范围", Value: "影响范围"},
			{ID: "rollbackInstructions", Name: "回滚说明", Value: ""},
			{ID: "releaseProcess", Name: "发布流程", Value: "发布流程"},
			{ID: "mainBusiness", Name: "是否主线业务", Value: false},
			{ID: "needTest", Name: "是否需要测试", Value: false},
			{ID: "upload", Name: "SQL脚本", Value: ""},
			{ID: "ifUploadJT", Name: "截图审批", Value: false},
			{ID: "sourceRemark", Name: "备注", Value: "备注"},
			{ID: "application", Name: "发布应用", Children: children, AccountData: orders, JobStatus: true},
			{ID: "approver", Name: "审批人", Value: approverEmail},
		}},
		DraftID:        "",
		EndType:        "0",
		ProcessStatus:  "0",
		PublishVersion: "0",
		Title:          project + "预发发版",
		Type:           "dcAutoReleaseProcess",
		UserID:         defaultSSOUserID,
	}
}

// wireTicketDocument is TicketDocument's actual JSON shape: detail
// re-serialized as a string, matching what the SSO submit endpoint
// requires.
type wireTicketDocument struct {
	Detail         string `json:"detail"`
	DraftID        string `json:"draftId"`
	EndType        string `json:"endType"`
	ProcessStatus  string `json:"processStatus"`
	PublishVersion string `json:"publishVersion"`
	Title          string `json:"title"`
	Type           string `json:"type"`
	UserID         string `json:"userId"`
}

// SubmitOrderResponse is the SSO service's acknowledgement of a submission.
type SubmitOrderResponse struct {
	ProcessInstanceID string
	Accepted          bool
	Message           string
}

// SubmitOrder posts doc and returns the process instance id used to look
// up its releases.
func (c *Client) SubmitOrder(ctx context.Context, doc TicketDocument) (*SubmitOrderResponse, error) {
	detailJSON, err := json.Marshal(doc.Detail)
	if err != nil {
		return nil, fmt.Errorf("ssoclient: marshal ticket detail: %w", err)
	}
	wire := wireTicketDocument{
		Detail:         string(detailJSON),
		DraftID:        doc.DraftID,
		EndType:        doc.EndType,
		ProcessStatus:  doc.ProcessStatus,
		PublishVersion: doc.PublishVersion,
		Title:          doc.Title,
		Type:           doc.Type,
		UserID:         doc.UserID,
	}
	body, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("ssoclient: marshal ticket document: %w", err)
	}

	var raw struct {
		Object struct {
			ProcessInstanceID string `json:"processInstanceId"`
		} `json:"object"`
		Message string `json:"message"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/api/flow/task/startnew/dcAutoReleaseProcess", body, &raw); err != nil {
		return nil, err
	}
	return &SubmitOrderResponse{
		ProcessInstanceID: raw.Object.ProcessInstanceID,
		Accepted:          raw.Object.ProcessInstanceID != "",
		Message:           raw.Message,
	}, nil
}

// FetchReleaseIDs returns every release id SSO created for processInstanceID.
func (c *Client) FetchReleaseIDs(ctx context.Context, processInstanceID string) ([]int64, error) {
	q := url.Values{"proId": {processInstanceID}}
	path := "/api/flow/publish/hisitory/getReleaseId?" + q.Encode()
	var wrapper struct {
		Object []int64 `json:"object"`
	}
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &wrapper); err != nil {
		return nil, err
	}
	return wrapper.Object, nil
}

// ReleaseDetail is one release id's current state, as reported by the SSO
// build-detail endpoint.
type ReleaseDetail struct {
	JobName       string
	PublishStatus string
	Raw           json.RawMessage
}

// PollRelease returns the current build detail for a single release id.
func (c *Client) PollRelease(ctx context.Context, releaseID int64) (*ReleaseDetail, error) {
	q := url.Values{"id": {fmt.Sprint(releaseID)}}
	path := "/api/flow/publish/hisitory/buildDetail?" + q.Encode()
	var wrapper struct {
		Data json.RawMessage `json:"data"`
	}
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &wrapper); err != nil {
		return nil, err
	}
	var detail struct {
		JobName       string `json:"jobName"`
		PublishStatus string `json:"publishStatus"`
	}
	if len(wrapper.Data) > 0 {
		if err := json.Unmarshal(wrapper.Data, &detail); err != nil {
			return nil, fmt.Errorf("ssoclient: decode build detail: %w", err)
		}
	}
	return &ReleaseDetail{JobName: detail.JobName, PublishStatus: detail.PublishStatus, Raw: wrapper.Data}, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body []byte, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("ssoclient: build request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ssoclient: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("ssoclient: read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ssoclient: %s %s: status %d: %s", method, path, resp.StatusCode, string(respBody))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("ssoclient: decode response: %w", err)
	}
	return nil
}
