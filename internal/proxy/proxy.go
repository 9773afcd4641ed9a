// ABOUTME: Traffic gateway orchestrating the captive-portal intercept loop
// ABOUTME: One worker per accepted connection; classifies, relays, or redirects

package proxy

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/addyya/portalgate/internal/arp"
	"github.com/addyya/portalgate/internal/policy"
)

// DefaultIdleTimeout bounds how long a stalled peer can pin a worker.
const DefaultIdleTimeout = 10 * time.Second

// shutdownGrace is how long in-flight connections get to drain before
// being force-closed.
const shutdownGrace = 5 * time.Second

// AuthChecker is the read side of the auth store the gateway depends on.
type AuthChecker interface {
	IsAuthenticated(ctx context.Context, ip string, now time.Time) (bool, error)
}

// Config assembles a Gateway.
type Config struct {
	// Addr is the host:port the proxy listens on.
	Addr string
	// Policy decides allow/redirect/reject for each request.
	Policy *policy.Policy
	// Auth answers "is this IP authenticated". Errors fail closed.
	Auth AuthChecker
	// MACs optionally annotates connection logs with hardware addresses.
	MACs *arp.Cache
	// IdleTimeout bounds socket reads/writes on both legs.
	IdleTimeout time.Duration
}

// Gateway intercepts all HTTP and HTTPS traffic from the LAN. Plain HTTP is
// classified per request and either relayed to the origin or answered with a
// portal response; CONNECT is tunneled opaquely or refused. Each accepted
// connection gets its own goroutine; the store's transactional guarantees
// cover cross-worker races.
type Gateway struct {
	addr        string
	policy      *policy.Policy
	auth        AuthChecker
	macs        *arp.Cache
	idleTimeout time.Duration
	logger      *slog.Logger

	listener net.Listener
	wg       sync.WaitGroup

	mu     sync.Mutex
	active map[net.Conn]struct{}

	// now is the clock, injectable for tests.
	now func() time.Time
}

// New creates a Gateway. It does not bind the listening socket; Start does.
func New(cfg Config) *Gateway {
	idle := cfg.IdleTimeout
	if idle <= 0 {
		idle = DefaultIdleTimeout
	}
	return &Gateway{
		addr:        cfg.Addr,
		policy:      cfg.Policy,
		auth:        cfg.Auth,
		macs:        cfg.MACs,
		idleTimeout: idle,
		logger:      slog.Default().With("component", "proxy"),
		active:      make(map[net.Conn]struct{}),
		now:         time.Now,
	}
}

// Start binds the listening socket. A bind failure is fatal to the process;
// the caller exits non-zero so a supervisor can react.
func (g *Gateway) Start() error {
	ln, err := net.Listen("tcp", g.addr)
	if err != nil {
		return fmt.Errorf("binding proxy listener on %s: %w", g.addr, err)
	}
	g.listener = ln
	g.logger.Info("proxy listening", "addr", ln.Addr().String())
	return nil
}

// Addr returns the bound listener address. Only valid after Start.
func (g *Gateway) Addr() net.Addr {
	return g.listener.Addr()
}

// Serve accepts connections until ctx is canceled, then drains in-flight
// workers for a grace period and force-closes the stragglers.
func (g *Gateway) Serve(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			g.listener.Close()
		case <-done:
		}
	}()
	defer close(done)

	for {
		conn, err := g.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			if errors.Is(err, net.ErrClosed) {
				break
			}
			return fmt.Errorf("accepting connection: %w", err)
		}

		g.track(conn)
		g.wg.Add(1)
		go g.handleConn(ctx, conn)
	}

	g.logger.Info("proxy shutting down, draining connections")
	drained := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(shutdownGrace):
		g.logger.Warn("drain grace expired, force-closing connections")
		g.closeActive()
		<-drained
	}
	return nil
}

// Run binds and serves in one call.
func (g *Gateway) Run(ctx context.Context) error {
	if err := g.Start(); err != nil {
		return err
	}
	return g.Serve(ctx)
}

func (g *Gateway) track(conn net.Conn) {
	g.mu.Lock()
	g.active[conn] = struct{}{}
	g.mu.Unlock()
}

func (g *Gateway) untrack(conn net.Conn) {
	g.mu.Lock()
	delete(g.active, conn)
	g.mu.Unlock()
}

func (g *Gateway) closeActive() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for conn := range g.active {
		conn.Close()
	}
}

// handleConn is the per-connection worker. Failures here never propagate
// beyond this connection.
func (g *Gateway) handleConn(ctx context.Context, clientConn net.Conn) {
	defer g.wg.Done()
	defer g.untrack(clientConn)
	defer clientConn.Close()

	clientIP := remoteIP(clientConn)
	logger := g.logger.With("client_ip", clientIP)
	if g.macs != nil {
		if mac, ok := g.macs.Lookup(clientIP); ok {
			logger = logger.With("mac", mac)
		}
	}

	clientConn.SetReadDeadline(g.now().Add(g.idleTimeout))
	br := bufio.NewReader(clientConn)
	req, err := http.ReadRequest(br)
	if err != nil {
		if !errors.Is(err, net.ErrClosed) && !isEOF(err) {
			logger.Warn("malformed request", "error", err)
			writeError(clientConn, http.StatusBadRequest, "Bad Request")
		}
		return
	}
	defer req.Body.Close()

	if req.Method == http.MethodConnect {
		g.handleConnect(ctx, clientConn, br, req, clientIP, logger)
		return
	}
	g.handleHTTP(ctx, clientConn, req, clientIP, logger)
}

// handleHTTP classifies one plain-HTTP request and either relays it or
// answers with the portal response the policy chose.
func (g *Gateway) handleHTTP(ctx context.Context, clientConn net.Conn, req *http.Request, clientIP string, logger *slog.Logger) {
	if req.Host == "" {
		logger.Warn("request without Host header", "method", req.Method, "path", req.URL.Path)
		writeError(clientConn, http.StatusBadRequest, "Bad Request: Missing Host header")
		return
	}

	host, port := splitHostPort(req.Host, 80)
	authed := g.isAuthenticated(ctx, clientIP)

	decision := g.policy.Evaluate(policy.Request{
		ClientIP:  clientIP,
		Host:      host,
		Port:      port,
		Path:      req.URL.Path,
		Method:    req.Method,
		UserAgent: req.Header.Get("User-Agent"),
		Accept:    req.Header.Get("Accept"),
	}, authed)

	switch decision.Action {
	case policy.ActionAllow:
		logger.Debug("relaying request", "method", req.Method, "host", req.Host, "path", req.URL.Path)
		g.relayHTTP(clientConn, req, clientIP, host, port, logger)
	case policy.ActionRedirect:
		logger.Info("redirecting to portal",
			"method", req.Method, "host", req.Host, "path", req.URL.Path, "status", decision.Status)
		writeRedirect(clientConn, decision.Status, decision.Location)
	case policy.ActionReject:
		logger.Warn("rejecting unauthenticated request", "method", req.Method, "host", req.Host)
		writeError(clientConn, decision.Status, "Forbidden")
	}
}

// handleConnect decides an HTTPS tunnel request. There is no way to redirect
// a client mid-TLS-handshake, so denial is the only recourse; the plain-HTTP
// flow is expected to have steered the user to the login page already.
func (g *Gateway) handleConnect(ctx context.Context, clientConn net.Conn, br *bufio.Reader, req *http.Request, clientIP string, logger *slog.Logger) {
	host, port := splitHostPort(req.Host, 443)
	authed := g.isAuthenticated(ctx, clientIP)

	if !g.policy.EvaluateConnect(host, port, authed) {
		logger.Info("refusing tunnel", "host", host, "port", port)
		writeError(clientConn, http.StatusServiceUnavailable, "Service Unavailable")
		return
	}

	logger.Debug("establishing tunnel", "host", host, "port", port)
	g.tunnel(clientConn, br, host, port, logger)
}

// isAuthenticated wraps the store check with the fail-closed rule: a
// malfunctioning store must deny access, not crash the worker.
func (g *Gateway) isAuthenticated(ctx context.Context, ip string) bool {
	authed, err := g.auth.IsAuthenticated(ctx, ip, g.now())
	if err != nil {
		g.logger.Error("auth check failed, failing closed", "ip", ip, "error", err)
		return false
	}
	return authed
}

func remoteIP(conn net.Conn) string {
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		return conn.RemoteAddr().String()
	}
	return host
}

// splitHostPort separates an optional port from a host, falling back to
// defaultPort when absent or unparseable.
func splitHostPort(hostport string, defaultPort int) (string, int) {
	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		return hostport, defaultPort
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return host, defaultPort
	}
	return host, port
}

// isEOF covers the ways a client can vanish before sending a full request.
func isEOF(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(err.Error(), "connection reset")
}
