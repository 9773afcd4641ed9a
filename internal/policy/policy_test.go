// ABOUTME: Tests for the redirect decision logic
// ABOUTME: Covers whitelisting, auth bypass, preflight, probes, method split, and URLs

package policy

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

const (
	fullBrowserUA = "Mozilla/5.0 (X11; Linux x86_64) Gecko/20100101 Firefox/128.0"
	fullAccept    = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"
)

func testPolicy() *Policy {
	return New(Options{
		GatewayIP:      "192.168.1.101",
		AppPort:        5173,
		APIPort:        8080,
		WhitelistHosts: []string{"localhost", "127.0.0.1", "::1"},
		WhitelistPorts: []int{5173, 8080},
	})
}

func TestEvaluate_WhitelistAlwaysAllows(t *testing.T) {
	p := testPolicy()

	for _, host := range []string{"localhost", "127.0.0.1", "192.168.1.101", "LOCALHOST"} {
		for _, authed := range []bool{true, false} {
			d := p.Evaluate(Request{
				ClientIP: "10.0.0.5", Host: host, Port: 80,
				Path: "/", Method: http.MethodPost,
			}, authed)
			assert.Equal(t, ActionAllow, d.Action, "host=%s authed=%v", host, authed)
		}
	}
}

func TestEvaluate_WhitelistedPort(t *testing.T) {
	p := testPolicy()

	d := p.Evaluate(Request{
		ClientIP: "10.0.0.5", Host: "example.com", Port: 5173,
		Path: "/", Method: http.MethodGet,
	}, false)
	assert.Equal(t, ActionAllow, d.Action)
}

func TestEvaluate_AuthenticatedAllows(t *testing.T) {
	p := testPolicy()

	d := p.Evaluate(Request{
		ClientIP: "10.0.0.5", Host: "example.com", Port: 80,
		Path: "/anything", Method: http.MethodPost,
	}, true)
	assert.Equal(t, ActionAllow, d.Action)
}

func TestEvaluate_PreflightAllowed(t *testing.T) {
	p := testPolicy()

	d := p.Evaluate(Request{
		ClientIP: "10.0.0.5", Host: "example.com", Port: 80,
		Path: "/", Method: http.MethodOptions,
	}, false)
	assert.Equal(t, ActionAllow, d.Action)
}

func TestEvaluate_ProbeRedirects302(t *testing.T) {
	p := testPolicy()

	tests := []struct {
		name string
		host string
		path string
	}{
		{"ios captive host", "captive.apple.com", "/hotspot-detect.html"},
		{"ios probe path", "www.apple.com", "/library/test/success/hotspot-detect.html"},
		{"android host", "connectivitycheck.gstatic.com", "/generate_204"},
		{"android path", "www.google.com", "/generate_204"},
		{"windows ncsi", "www.msftconnecttest.com", "/connecttest.txt"},
		{"force root", "www.baidu.com", "/"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := p.Evaluate(Request{
				ClientIP: "10.0.0.5", Host: tt.host, Port: 80,
				Path: tt.path, Method: http.MethodGet,
				UserAgent: fullBrowserUA, Accept: fullAccept,
			}, false)
			assert.Equal(t, ActionRedirect, d.Action)
			assert.Equal(t, http.StatusFound, d.Status)
			assert.Contains(t, d.Location, "client_ip=10.0.0.5")
		})
	}
}

func TestEvaluate_UnauthenticatedGET(t *testing.T) {
	p := testPolicy()

	t.Run("full browser gets 511 to app", func(t *testing.T) {
		d := p.Evaluate(Request{
			ClientIP: "10.0.0.5", Host: "example.com", Port: 80,
			Path: "/", Method: http.MethodGet,
			UserAgent: fullBrowserUA,
			Accept:    "text/html,application/xhtml+xml",
		}, false)
		assert.Equal(t, ActionRedirect, d.Action)
		assert.Equal(t, http.StatusNetworkAuthenticationRequired, d.Status)
		assert.True(t, strings.HasPrefix(d.Location, "http://192.168.1.101:5173/"), d.Location)
		assert.Contains(t, d.Location, "client_ip=10.0.0.5")
	})

	t.Run("iphone gets 302 to fallback form", func(t *testing.T) {
		d := p.Evaluate(Request{
			ClientIP: "10.0.0.5", Host: "example.com", Port: 80,
			Path: "/", Method: http.MethodGet,
			UserAgent: "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X)",
			Accept:    fullAccept,
		}, false)
		assert.Equal(t, ActionRedirect, d.Action)
		assert.Equal(t, http.StatusFound, d.Status)
		assert.Contains(t, d.Location, "/api/auth/fallback")
		assert.Contains(t, d.Location, "client_ip=10.0.0.5")
	})
}

func TestEvaluate_UnauthenticatedPOSTRejected(t *testing.T) {
	p := testPolicy()

	for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodDelete} {
		d := p.Evaluate(Request{
			ClientIP: "10.0.0.5", Host: "example.com", Port: 80,
			Path: "/submit", Method: method,
			UserAgent: fullBrowserUA, Accept: fullAccept,
		}, false)
		assert.Equal(t, ActionReject, d.Action, "method=%s", method)
		assert.Equal(t, http.StatusForbidden, d.Status, "method=%s", method)
		assert.Empty(t, d.Location, "method=%s", method)
	}
}

func TestEvaluate_ForceFallbackOverride(t *testing.T) {
	p := New(Options{
		GatewayIP:     "192.168.1.101",
		AppPort:       5173,
		APIPort:       8080,
		ForceFallback: true,
	})

	d := p.Evaluate(Request{
		ClientIP: "10.0.0.5", Host: "example.com", Port: 80,
		Path: "/", Method: http.MethodGet,
		UserAgent: fullBrowserUA, Accept: fullAccept,
	}, false)
	assert.Equal(t, http.StatusFound, d.Status)
	assert.Contains(t, d.Location, "/api/auth/fallback")
}

func TestEvaluateConnect(t *testing.T) {
	p := testPolicy()

	assert.True(t, p.EvaluateConnect("anything.example.com", 443, true))
	assert.False(t, p.EvaluateConnect("anything.example.com", 443, false))
	assert.True(t, p.EvaluateConnect("192.168.1.101", 443, false), "gateway IP whitelisted")
	assert.True(t, p.EvaluateConnect("somehost", 8080, false), "whitelisted port")
}

func TestWhitelist_EmptyHost(t *testing.T) {
	w := NewWhitelist("192.168.1.101", []string{"localhost"}, nil)
	assert.False(t, w.Contains("", 80))
}
