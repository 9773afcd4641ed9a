// ABOUTME: Opaque CONNECT tunnel relay for HTTPS traffic
// ABOUTME: Bidirectional copy with half-close propagation and idle timeouts

package proxy

import (
	"bufio"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// tunnel dials the requested destination, confirms the tunnel to the client,
// and relays bytes in both directions until either side closes or stalls
// past the idle timeout.
func (g *Gateway) tunnel(clientConn net.Conn, br *bufio.Reader, host string, port int, logger *slog.Logger) {
	target := net.JoinHostPort(host, fmt.Sprintf("%d", port))
	upstream, err := net.DialTimeout("tcp", target, dialTimeout)
	if err != nil {
		logger.Warn("tunnel dial failed", "target", target, "error", err)
		writeError(clientConn, http.StatusBadGateway, "Bad Gateway: Unable to reach destination")
		return
	}
	defer upstream.Close()

	clientConn.SetWriteDeadline(g.now().Add(g.idleTimeout))
	if _, err := clientConn.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n")); err != nil {
		logger.Debug("client gone before tunnel established", "error", err)
		return
	}

	// A fast client may pipeline TLS bytes behind the CONNECT; they are
	// sitting in the bufio reader and must reach the origin first.
	if n := br.Buffered(); n > 0 {
		buffered, _ := br.Peek(n)
		if _, err := upstream.Write(buffered); err != nil {
			logger.Debug("flushing buffered tunnel bytes failed", "error", err)
			return
		}
		br.Discard(n)
	}

	done := make(chan struct{}, 2)
	go func() {
		relayHalf(upstream, clientConn, g.idleTimeout)
		done <- struct{}{}
	}()
	go func() {
		relayHalf(clientConn, upstream, g.idleTimeout)
		done <- struct{}{}
	}()
	<-done
	<-done
	logger.Debug("tunnel closed", "target", target)
}

// relayHalf copies one direction of a tunnel. On EOF it half-closes the
// write side so the peer sees end-of-stream while the reverse direction can
// still finish.
func relayHalf(dst, src net.Conn, idle time.Duration) {
	copyWithIdleTimeout(dst, src, idle)
	if tc, ok := dst.(*net.TCPConn); ok {
		tc.CloseWrite()
	} else {
		dst.Close()
	}
}
