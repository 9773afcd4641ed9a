// ABOUTME: Plain-HTTP relay leg of the gateway
// ABOUTME: Rewrites proxy-form requests to origin-form and streams the response back

package proxy

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"strings"
	"time"
)

const dialTimeout = 10 * time.Second

// hopByHopHeaders never cross the proxy boundary.
var hopByHopHeaders = []string{
	"Proxy-Connection",
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// relayHTTP forwards one request to its origin and streams the response back
// to the client verbatim. The upstream leg always runs Connection: close so
// the response body is framed by EOF regardless of what the origin supports.
func (g *Gateway) relayHTTP(clientConn net.Conn, req *http.Request, clientIP, host string, port int, logger *slog.Logger) {
	target := net.JoinHostPort(host, fmt.Sprintf("%d", port))
	upstream, err := net.DialTimeout("tcp", target, dialTimeout)
	if err != nil {
		logger.Error("upstream dial failed", "target", target, "error", err)
		writeError(clientConn, http.StatusBadGateway, "Bad Gateway: Unable to reach destination")
		return
	}
	defer upstream.Close()

	deadline := g.now().Add(g.idleTimeout)
	upstream.SetDeadline(deadline)
	clientConn.SetDeadline(deadline)

	if err := writeOriginRequest(upstream, req, clientIP, port); err != nil {
		logger.Error("writing upstream request failed", "target", target, "error", err)
		writeError(clientConn, http.StatusBadGateway, "Bad Gateway")
		return
	}

	// Stream the response until the origin closes. Per-read deadlines keep a
	// slow origin from exceeding the idle budget between chunks.
	if err := copyWithIdleTimeout(clientConn, upstream, g.idleTimeout); err != nil {
		logger.Debug("response relay ended", "target", target, "error", err)
	}
}

// writeOriginRequest serializes req for the origin server: origin-form
// request line, hop-by-hop headers stripped, forwarding headers injected.
func writeOriginRequest(w io.Writer, req *http.Request, clientIP string, port int) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s HTTP/1.1\r\n", req.Method, req.URL.RequestURI())
	fmt.Fprintf(&sb, "Host: %s\r\n", req.Host)

	proto := "http"
	if port == 443 {
		proto = "https"
	}

	headers := req.Header.Clone()
	for _, h := range hopByHopHeaders {
		headers.Del(h)
	}
	headers.Set("X-Forwarded-For", clientIP)
	headers.Del("X-Real-IP")
	// Set directly to keep the non-canonical IP casing on the wire;
	// Header.Set would rewrite the key as X-Real-Ip.
	headers["X-Real-IP"] = []string{clientIP}
	headers.Set("X-Forwarded-Proto", proto)
	headers.Set("Connection", "close")

	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, v := range headers[k] {
			fmt.Fprintf(&sb, "%s: %s\r\n", k, v)
		}
	}
	sb.WriteString("\r\n")

	if _, err := io.WriteString(w, sb.String()); err != nil {
		return err
	}

	if req.ContentLength > 0 {
		if _, err := io.CopyN(w, req.Body, req.ContentLength); err != nil {
			return fmt.Errorf("forwarding request body: %w", err)
		}
	}
	return nil
}

// copyWithIdleTimeout pipes src into dst, refreshing the read deadline before
// each chunk. It returns nil on clean EOF.
func copyWithIdleTimeout(dst, src net.Conn, idle time.Duration) error {
	buf := make([]byte, 32*1024)
	for {
		src.SetReadDeadline(time.Now().Add(idle))
		n, err := src.Read(buf)
		if n > 0 {
			dst.SetWriteDeadline(time.Now().Add(idle))
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
}
