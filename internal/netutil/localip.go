// ABOUTME: LAN IP discovery for the gateway host
// ABOUTME: Prefers private IPv4 on wireless/ethernet interfaces, UDP-dial fallback

package netutil

import (
	"fmt"
	"net"
	"strings"
	"time"
)

// preferredInterfacePrefixes order the interfaces most likely to carry the
// LAN the portal serves: wireless first, then wired.
var preferredInterfacePrefixes = []string{"wlan", "wl", "wi-fi", "eth", "en"}

// DiscoverLANIP returns the host's LAN IPv4 address. It walks the network
// interfaces preferring wireless/ethernet names carrying a private address,
// then falls back to the route a UDP dial toward a public resolver would
// take. Resolved once at startup and injected into the components that need
// it, never re-queried per request.
func DiscoverLANIP() (string, error) {
	if ip, ok := scanInterfaces(); ok {
		return ip, nil
	}

	// No interface matched; the default-route trick still works when the
	// naming conventions don't. No packet is sent for UDP.
	conn, err := net.DialTimeout("udp", "8.8.8.8:80", 100*time.Millisecond)
	if err != nil {
		return "", fmt.Errorf("discovering LAN IP: %w", err)
	}
	defer conn.Close()

	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return "", fmt.Errorf("unexpected local address type %T", conn.LocalAddr())
	}
	return addr.IP.String(), nil
}

func scanInterfaces() (string, bool) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return "", false
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || !isPreferredInterface(iface.Name) {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			if ip := ipNet.IP.To4(); ip != nil && ip.IsPrivate() {
				return ip.String(), true
			}
		}
	}
	return "", false
}

func isPreferredInterface(name string) bool {
	n := strings.ToLower(name)
	for _, prefix := range preferredInterfacePrefixes {
		if strings.HasPrefix(n, prefix) {
			return true
		}
	}
	return false
}
