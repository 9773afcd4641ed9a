// ABOUTME: Table-driven classifiers for OS connectivity probes and browser capability
// ABOUTME: Ordered predicate rules so each heuristic is independently testable

package policy

import "strings"

// probeRule matches one family of OS captive-portal detection requests.
type probeRule struct {
	name  string
	match func(host, path string) bool
}

// probeRules are evaluated in order; first match wins. Host and path arrive
// already lowercased.
var probeRules = []probeRule{
	{
		name: "ios-captive",
		match: func(host, path string) bool {
			return strings.Contains(host, "captive.apple.com") ||
				strings.Contains(path, "hotspot-detect")
		},
	},
	{
		name: "android-connectivity",
		match: func(host, path string) bool {
			return strings.Contains(host, "connectivitycheck") ||
				strings.Contains(path, "generate_204") ||
				strings.Contains(host, "clients3.google.com")
		},
	},
	{
		name: "windows-ncsi",
		match: func(host, path string) bool {
			return strings.Contains(host, "msftconnecttest.com") ||
				strings.Contains(host, "msftncsi.com")
		},
	},
}

// IsProbe reports whether the request looks like an automated connectivity
// check from a client OS. Redirecting these quickly is what pops the
// system's captive-portal UI.
func IsProbe(host, path string) bool {
	if host == "" {
		return false
	}
	h := strings.ToLower(host)
	p := strings.ToLower(path)
	for _, rule := range probeRules {
		if rule.match(h, p) {
			return true
		}
	}
	return false
}

// forceRoots are root domains users commonly type first after joining a
// network. An unauthenticated plain-HTTP hit on any of them gets an
// immediate 302 to trigger the login flow early.
var forceRoots = []string{
	"apple.com", "icloud.com", "baidu.com", "qq.com", "wechat.com", "weixin.qq.com",
	"google.com", "gstatic.com", "youtube.com", "bilibili.com", "taobao.com", "tmall.com",
}

// IsForceRoot reports whether host falls under one of the common entry
// domains. Only meaningful for plain HTTP; HTTPS cannot be redirected.
func IsForceRoot(host string) bool {
	if host == "" {
		return false
	}
	h := strings.ToLower(host)
	for _, root := range forceRoots {
		if h == root || strings.HasSuffix(h, "."+root) {
			return true
		}
	}
	return false
}

// BrowserClass is the capability verdict for a client.
type BrowserClass int

const (
	// BrowserFull can follow redirects and run the login application.
	BrowserFull BrowserClass = iota
	// BrowserConstrained is a limited in-OS portal browser that needs the
	// plain-HTML fallback form to avoid a blank page.
	BrowserConstrained
)

// constrainedUAMarkers flag in-OS portal browsers and embedded webviews.
// Deliberately excludes "safari": every WebKit-derived UA carries it, which
// would classify ordinary desktop browsers as constrained.
var constrainedUAMarkers = []string{
	"captive", "cfnetwork", "wispr",
	"iphone", "ipad", "android", "dalvik",
	"micromessenger", "mqqbrowser", "alipay",
}

// ClassifyBrowser sniffs the User-Agent and Accept headers. A client is
// constrained when its UA carries a portal/webview marker, when it sends no
// UA at all, or when its Accept header lacks broad content negotiation.
func ClassifyBrowser(userAgent, accept string) BrowserClass {
	ua := strings.ToLower(userAgent)
	if ua == "" {
		return BrowserConstrained
	}
	for _, marker := range constrainedUAMarkers {
		if strings.Contains(ua, marker) {
			return BrowserConstrained
		}
	}

	// Full browsers negotiate broadly (application/xhtml+xml, */*). A bare
	// "text/html" is the signature of minimal portal renderers.
	a := strings.ToLower(accept)
	if a != "" && !strings.Contains(a, "application/xhtml") && !strings.Contains(a, "*/*") {
		return BrowserConstrained
	}

	return BrowserFull
}
