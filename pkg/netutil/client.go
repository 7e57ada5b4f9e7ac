// Package netutil builds the shared *http.Client used by the SSO and
// Jenkins REST clients and the external API sync, applying relbot's
// timeout and proxy conventions in one place.
package netutil

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/c360studio/relbot/pkg/relbot/model"
)

// ClientOptions configures NewClient.
type ClientOptions struct {
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	Proxy          model.ProxyConfig
}

// NewClient builds an *http.Client honoring opts. A configured proxy is
// normalized per spec §5: bare "socks5" is rewritten to "socks5h" so DNS
// resolution happens proxy-side rather than leaking the target hostname
// to a local resolver.
func NewClient(opts ClientOptions) (*http.Client, error) {
	dialer := &net.Dialer{Timeout: opts.ConnectTimeout}
	transport := &http.Transport{
		DialContext: dialer.DialContext,
	}

	if opts.Proxy.Enabled {
		proxyURL, err := buildProxyURL(opts.Proxy)
		if err != nil {
			return nil, fmt.Errorf("netutil: build proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	readWrite := opts.ReadTimeout
	if opts.WriteTimeout > readWrite {
		readWrite = opts.WriteTimeout
	}

	return &http.Client{
		Transport: transport,
		Timeout:   readWrite,
	}, nil
}

func buildProxyURL(p model.ProxyConfig) (*url.URL, error) {
	scheme := strings.ToLower(p.Type)
	if scheme == "" {
		scheme = "http"
	}
	if scheme == "socks5" {
		scheme = "socks5h"
	}
	u := &url.URL{
		Scheme: scheme,
		Host:   fmt.Sprintf("%s:%d", p.Host, p.Port),
	}
	if p.Username != "" {
		u.User = url.UserPassword(p.Username, p.Password)
	}
	return u, nil
}
