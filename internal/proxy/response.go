// ABOUTME: Raw HTTP responses the gateway writes itself
// ABOUTME: Portal redirects carry Location plus X-Login-URL and an HTML fallback body

package proxy

import (
	"fmt"
	"net"
	"net/http"
	"strings"
)

// writeRedirect answers a portal redirect (302 or 511). The Location header
// does the work for compliant clients; the X-Login-URL header and the inline
// anchor cover captive-portal minibrowsers that ignore one or the other.
func writeRedirect(conn net.Conn, status int, location string) {
	body := fmt.Sprintf(`<!DOCTYPE html>
<html>
<head><title>Network Login Required</title></head>
<body>
<h1>Authentication Required</h1>
<p>You must log in to access this network.</p>
<p><a href="%s">Continue to login page</a></p>
</body>
</html>
`, location)

	var sb strings.Builder
	fmt.Fprintf(&sb, "HTTP/1.1 %d %s\r\n", status, http.StatusText(status))
	fmt.Fprintf(&sb, "Location: %s\r\n", location)
	fmt.Fprintf(&sb, "X-Login-URL: %s\r\n", location)
	sb.WriteString("Cache-Control: no-cache, no-store, must-revalidate\r\n")
	sb.WriteString("Content-Type: text/html; charset=utf-8\r\n")
	fmt.Fprintf(&sb, "Content-Length: %d\r\n", len(body))
	sb.WriteString("Connection: close\r\n\r\n")
	sb.WriteString(body)

	conn.Write([]byte(sb.String()))
}

// writeError answers a terminal status with a minimal HTML body.
func writeError(conn net.Conn, status int, message string) {
	body := fmt.Sprintf("<html><body><h1>%d %s</h1><p>%s</p></body></html>\n",
		status, http.StatusText(status), message)

	var sb strings.Builder
	fmt.Fprintf(&sb, "HTTP/1.1 %d %s\r\n", status, http.StatusText(status))
	sb.WriteString("Content-Type: text/html; charset=utf-8\r\n")
	sb.WriteString("Cache-Control: no-cache\r\n")
	fmt.Fprintf(&sb, "Content-Length: %d\r\n", len(body))
	sb.WriteString("Connection: close\r\n\r\n")
	sb.WriteString(body)

	conn.Write([]byte(sb.String()))
}
