package netutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/relbot/pkg/relbot/model"
)

func TestBuildProxyURL_Socks5NormalizedToSocks5h(t *testing.T) {
	u, err := buildProxyURL(model.ProxyConfig{Type: "socks5", Host: "proxy.internal", Port: 1080})
	require.NoError(t, err)
	assert.Equal(t, "socks5h", u.Scheme)
	assert.Equal(t, "proxy.internal:1080", u.Host)
}

func TestBuildProxyURL_DefaultsToHTTP(t *testing.T) {
	u, err := buildProxyURL(model.ProxyConfig{Host: "proxy.internal", Port: 3128})
	require.NoError(t, err)
	assert.Equal(t, "http", u.Scheme)
}

func TestBuildProxyURL_IncludesCredentials(t *testing.T) {
	u, err := buildProxyURL(model.ProxyConfig{Type: "https", Host: "proxy.internal", Port: 443, Username: "bot", Password: "secret"})
	require.NoError(t, err)
	require.NotNil(t, u.User)
	assert.Equal(t, "bot", u.User.Username())
}

func TestNewClient_NoProxy(t *testing.T) {
	c, err := NewClient(ClientOptions{ConnectTimeout: time.Second, ReadTimeout: 5 * time.Second})
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, c.Timeout)
}

func TestNewClient_WithProxy(t *testing.T) {
	c, err := NewClient(ClientOptions{
		ConnectTimeout: time.Second,
		Proxy:          model.ProxyConfig{Enabled: true, Type: "socks5", Host: "proxy.internal", Port: 1080},
	})
	require.NoError(t, err)
	assert.NotNil(t, c.Transport)
}
