// ABOUTME: Redirect-decision logic for the traffic gateway
// ABOUTME: Pure functions mapping request attributes to allow/redirect/reject verdicts

package policy

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Action is the gateway's verdict for a request.
type Action int

const (
	// ActionAllow relays the request to its origin.
	ActionAllow Action = iota
	// ActionRedirect answers with a portal redirect instead of relaying.
	ActionRedirect
	// ActionReject refuses the request outright.
	ActionReject
)

func (a Action) String() string {
	switch a {
	case ActionAllow:
		return "allow"
	case ActionRedirect:
		return "redirect"
	case ActionReject:
		return "reject"
	default:
		return fmt.Sprintf("Action(%d)", int(a))
	}
}

// Decision is the verdict plus the protocol details needed to answer a
// redirected or rejected request.
type Decision struct {
	Action   Action
	Status   int    // HTTP status for redirect/reject
	Location string // portal URL for redirect
}

// Request carries the attributes the policy decides on. Host excludes the
// port; everything else is taken verbatim from the client's request.
type Request struct {
	ClientIP  string
	Host      string
	Port      int
	Path      string
	Method    string
	UserAgent string
	Accept    string
}

// Policy decides what happens to unauthenticated traffic. It is stateless:
// the gateway IP and portal ports are resolved once at startup and injected.
type Policy struct {
	gatewayIP string
	appPort   int
	apiPort   int

	// forceFallback treats every client as a constrained portal browser,
	// bypassing the capability classifier. Deployment toggle.
	forceFallback bool

	whitelist *Whitelist
}

// Options configures a Policy.
type Options struct {
	GatewayIP      string
	AppPort        int
	APIPort        int
	ForceFallback  bool
	WhitelistHosts []string
	WhitelistPorts []int
}

// New builds a Policy from the resolved runtime options.
func New(opts Options) *Policy {
	return &Policy{
		gatewayIP:     opts.GatewayIP,
		appPort:       opts.AppPort,
		apiPort:       opts.APIPort,
		forceFallback: opts.ForceFallback,
		whitelist:     NewWhitelist(opts.GatewayIP, opts.WhitelistHosts, opts.WhitelistPorts),
	}
}

// Whitelist returns the host/port allow-list the policy was built with.
func (p *Policy) Whitelist() *Whitelist {
	return p.whitelist
}

// Evaluate decides a plain-HTTP request. The ordering is fixed: whitelist
// first so the login surfaces are always reachable, then authentication,
// then CORS preflight, probes, and finally the method split between safe
// reads (redirected) and state-changing requests (rejected, since silently
// redirecting a POST could misapply its body).
func (p *Policy) Evaluate(req Request, authenticated bool) Decision {
	if p.whitelist.Contains(req.Host, req.Port) {
		return Decision{Action: ActionAllow}
	}

	if authenticated {
		return Decision{Action: ActionAllow}
	}

	// Preflight requests carry nothing useful for auth decisions; blocking
	// them would make browsers refuse to send the real login request.
	if req.Method == http.MethodOptions {
		return Decision{Action: ActionAllow}
	}

	if IsProbe(req.Host, req.Path) || IsForceRoot(req.Host) {
		return Decision{
			Action:   ActionRedirect,
			Status:   http.StatusFound,
			Location: p.portalURL(req),
		}
	}

	if req.Method == http.MethodGet {
		status := http.StatusNetworkAuthenticationRequired
		if p.constrained(req) {
			status = http.StatusFound
		}
		return Decision{
			Action:   ActionRedirect,
			Status:   status,
			Location: p.portalURL(req),
		}
	}

	return Decision{Action: ActionReject, Status: http.StatusForbidden}
}

// EvaluateConnect decides a CONNECT request. Probe and method heuristics do
// not apply: the payload is opaque, so the verdict is whitelist or auth.
func (p *Policy) EvaluateConnect(host string, port int, authenticated bool) bool {
	return p.whitelist.Contains(host, port) || authenticated
}

// constrained reports whether the client looks like a limited in-OS portal
// browser that cannot run the rich login application.
func (p *Policy) constrained(req Request) bool {
	if p.forceFallback {
		return true
	}
	return ClassifyBrowser(req.UserAgent, req.Accept) == BrowserConstrained
}

// portalURL builds the login URL for this client: the rich application for
// capable browsers, the plain-HTML fallback form otherwise. The client IP
// rides along as a query parameter so the login flow can correlate the
// browser session back to the IP-keyed session table.
func (p *Policy) portalURL(req Request) string {
	q := url.Values{"client_ip": {req.ClientIP}}
	if p.constrained(req) {
		return fmt.Sprintf("http://%s/api/auth/fallback?%s",
			hostPort(p.gatewayIP, p.apiPort), q.Encode())
	}
	return fmt.Sprintf("http://%s/?%s", hostPort(p.gatewayIP, p.appPort), q.Encode())
}

func hostPort(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}

// Whitelist is the set of hosts and ports relayed unconditionally so the
// portal's own services stay reachable before authentication.
type Whitelist struct {
	hosts map[string]struct{}
	ports map[int]struct{}
}

// NewWhitelist builds the allow-list. The gateway's own IP is always
// included alongside the configured hosts.
func NewWhitelist(gatewayIP string, hosts []string, ports []int) *Whitelist {
	w := &Whitelist{
		hosts: make(map[string]struct{}),
		ports: make(map[int]struct{}),
	}
	if gatewayIP != "" {
		w.hosts[strings.ToLower(gatewayIP)] = struct{}{}
	}
	for _, h := range hosts {
		w.hosts[strings.ToLower(h)] = struct{}{}
	}
	for _, p := range ports {
		w.ports[p] = struct{}{}
	}
	return w
}

// Contains reports whether host (no port) or port is allow-listed.
func (w *Whitelist) Contains(host string, port int) bool {
	if host == "" {
		return false
	}
	if _, ok := w.hosts[strings.ToLower(host)]; ok {
		return true
	}
	_, ok := w.ports[port]
	return ok
}
