// Package jenkinsclient is the HTTP adapter for Jenkins: triggering a
// parameterized build, resolving the Jenkins queue item it produces to an
// actual build number, and polling that build to terminal state. Built in
// the same request/response adapter shape as llm/providers/anthropic.go.
package jenkinsclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Client talks to one Jenkins instance. Username/APIToken are used for
// Basic auth; if Username is empty, APIToken is sent as both user and
// password, and if APIToken is empty, requests are sent unauthenticated.
type Client struct {
	baseURL    string
	username   string
	apiToken   string
	httpClient *http.Client
}

// New builds a Client for one Jenkins base URL.
func New(baseURL, username, apiToken string, httpClient *http.Client) *Client {
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), username: username, apiToken: apiToken, httpClient: httpClient}
}

func (c *Client) authenticate(req *http.Request) {
	if c.apiToken != "" {
		user := c.username
		if user == "" {
			user = c.apiToken
		}
		req.SetBasicAuth(user, c.apiToken)
	}
}

// JobInfo is the subset of a job's JSON relbot needs before triggering it.
type JobInfo struct {
	NextBuildNumber int64 `json:"nextBuildNumber"`
}

// GetJobInfo reads job's current metadata, used to capture nextBuildNumber
// before triggering so a queue-less trigger response can still be resolved
// to the build it produced.
func (c *Client) GetJobInfo(ctx context.Context, job string) (*JobInfo, error) {
	endpoint := fmt.Sprintf("%s/job/%s/api/json", c.baseURL, url.PathEscape(job))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("jenkinsclient: job info request: %w", err)
	}
	c.authenticate(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("jenkinsclient: job info %s: %w", job, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("jenkinsclient: job info %s: status %d", job, resp.StatusCode)
	}
	var info JobInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("jenkinsclient: decode job info: %w", err)
	}
	return &info, nil
}

// TriggerBuild starts a parameterized build for job and returns the queue
// item URL Jenkins responds with in its Location header. Some Jenkins
// configurations omit the header on success; callers fall back to polling
// the job's nextBuildNumber (captured via GetJobInfo before the trigger)
// when queueURL comes back empty with a nil error.
func (c *Client) TriggerBuild(ctx context.Context, job string, params map[string]string) (queueURL string, err error) {
	form := url.Values{}
	for k, v := range params {
		form.Set(k, v)
	}
	endpoint := fmt.Sprintf("%s/job/%s/buildWithParameters", c.baseURL, url.PathEscape(job))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("jenkinsclient: build trigger request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	c.authenticate(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("jenkinsclient: trigger %s: %w", job, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("jenkinsclient: trigger %s: status %d", job, resp.StatusCode)
	}
	loc := resp.Header.Get("Location")
	if loc == "" {
		return "", nil
	}
	return strings.TrimRight(loc, "/"), nil
}

// QueueItem is the subset of Jenkins's queue item JSON relbot needs.
type QueueItem struct {
	Cancelled bool `json:"cancelled"`
	Executable *struct {
		Number int64  `json:"number"`
		URL    string `json:"url"`
	} `json:"executable"`
}

// PollQueue fetches the queue item at queueURL. Executable is nil until
// Jenkins has assigned the job an executor and a build number.
func (c *Client) PollQueue(ctx context.Context, queueURL string) (*QueueItem, error) {
	endpoint := queueURL + "/api/json"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("jenkinsclient: build queue request: %w", err)
	}
	c.authenticate(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("jenkinsclient: poll queue %s: %w", queueURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("jenkinsclient: poll queue %s: status %d", queueURL, resp.StatusCode)
	}
	var item QueueItem
	if err := json.NewDecoder(resp.Body).Decode(&item); err != nil {
		return nil, fmt.Errorf("jenkinsclient: decode queue item: %w", err)
	}
	return &item, nil
}

// BuildInfo is the subset of a build's JSON relbot needs.
type BuildInfo struct {
	Building bool   `json:"building"`
	Result   string `json:"result"`
	Duration int64  `json:"duration"`
}

// PollBuild fetches build status for job/number. found is false with a nil
// error when Jenkins returns 404 — the build hasn't started executing yet,
// the expected response while the direct-poll trigger fallback is waiting.
func (c *Client) PollBuild(ctx context.Context, job string, number int64) (info *BuildInfo, found bool, err error) {
	endpoint := fmt.Sprintf("%s/job/%s/%s/api/json", c.baseURL, url.PathEscape(job), strconv.FormatInt(number, 10))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, false, fmt.Errorf("jenkinsclient: build poll request: %w", err)
	}
	c.authenticate(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, false, fmt.Errorf("jenkinsclient: poll build %s#%d: %w", job, number, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		io.Copy(io.Discard, resp.Body)
		return nil, false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, false, fmt.Errorf("jenkinsclient: poll build %s#%d: status %d", job, number, resp.StatusCode)
	}
	info = &BuildInfo{}
	if err := json.NewDecoder(resp.Body).Decode(info); err != nil {
		return nil, false, fmt.Errorf("jenkinsclient: decode build info: %w", err)
	}
	return info, true, nil
}
