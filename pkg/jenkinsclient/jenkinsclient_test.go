package jenkinsclient

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTriggerBuild(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/job/prod%2Fapi/buildWithParameters", r.URL.EscapedPath())
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "bot", user)
		assert.Equal(t, "token", pass)
		w.Header().Set("Location", "http://jenkins.example/queue/item/42/")
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := New(srv.URL, "bot", "token", srv.Client())
	queueURL, err := c.TriggerBuild(t.Context(), "prod/api", map[string]string{"WORKFLOW_ID": "WF-1"})
	require.NoError(t, err)
	assert.NotEmpty(t, queueURL)
}

func TestPollQueue(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/queue/item/42/api/json", r.URL.Path)
		w.Write([]byte(`{"cancelled":false,"executable":{"number":7,"url":"http://jenkins/job/api/7/"}}`))
	}))
	defer srv.Close()

	c := New("http://unused", "", "", srv.Client())
	item, err := c.PollQueue(t.Context(), srv.URL+"/queue/item/42")
	require.NoError(t, err)
	require.NotNil(t, item.Executable)
	assert.Equal(t, int64(7), item.Executable.Number)
}

func TestPollBuild(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/job/prod%2Fapi/7/api/json", r.URL.EscapedPath())
		w.Write([]byte(`{"building":false,"result":"SUCCESS","duration":12345}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "", "", srv.Client())
	info, err := c.PollBuild(t.Context(), "prod/api", 7)
	require.NoError(t, err)
	assert.False(t, info.Building)
	assert.Equal(t, "SUCCESS", info.Result)
}

func TestTriggerBuild_NoAuthWhenTokenEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _, ok := r.BasicAuth()
		assert.False(t, ok)
		w.Header().Set("Location", "http://jenkins/queue/item/1/")
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := New(srv.URL, "", "", srv.Client())
	_, err := c.TriggerBuild(t.Context(), "prod/api", nil)
	require.NoError(t, err)
}
