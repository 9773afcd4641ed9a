// ABOUTME: Unit tests for upstream request serialization
// ABOUTME: Verifies origin-form rewrite, header policy, and forwarded-proto derivation

package proxy

import (
	"bufio"
	"bytes"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func parseProxyRequest(t *testing.T, raw string) *http.Request {
	t.Helper()
	req, err := http.ReadRequest(bufio.NewReader(strings.NewReader(raw)))
	require.NoError(t, err)
	return req
}

func TestWriteOriginRequest(t *testing.T) {
	req := parseProxyRequest(t, "GET http://example.com/path?q=1 HTTP/1.1\r\n"+
		"Host: example.com\r\n"+
		"Proxy-Connection: keep-alive\r\n"+
		"Keep-Alive: timeout=5\r\n"+
		"Accept: text/html\r\n\r\n")

	var buf bytes.Buffer
	require.NoError(t, writeOriginRequest(&buf, req, "192.168.1.50", 80))
	out := buf.String()

	require.True(t, strings.HasPrefix(out, "GET /path?q=1 HTTP/1.1\r\n"),
		"request line must be origin-form, got %q", out)
	require.Contains(t, out, "Host: example.com\r\n")
	require.Contains(t, out, "X-Forwarded-For: 192.168.1.50\r\n")
	require.Contains(t, out, "X-Real-IP: 192.168.1.50\r\n")
	require.Contains(t, out, "X-Forwarded-Proto: http\r\n")
	require.Contains(t, out, "Connection: close\r\n")
	require.Contains(t, out, "Accept: text/html\r\n")
	require.NotContains(t, out, "Proxy-Connection")
	require.NotContains(t, out, "Keep-Alive")
}

func TestWriteOriginRequest_TLSPortSetsHTTPSProto(t *testing.T) {
	req := parseProxyRequest(t, "GET http://example.com:443/ HTTP/1.1\r\n"+
		"Host: example.com:443\r\n\r\n")

	var buf bytes.Buffer
	require.NoError(t, writeOriginRequest(&buf, req, "192.168.1.50", 443))

	require.Contains(t, buf.String(), "X-Forwarded-Proto: https\r\n")
}
