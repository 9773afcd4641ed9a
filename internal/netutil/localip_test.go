// ABOUTME: Tests for LAN IP discovery helpers
// ABOUTME: Covers interface name preference; discovery itself is environment-dependent

package netutil

import (
	"net"
	"testing"
)

func TestIsPreferredInterface(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"wlan0", true},
		{"wlp2s0", true},
		{"eth0", true},
		{"enp3s0", true},
		{"Wi-Fi", true},
		{"lo", false},
		{"docker0", false},
		{"tun0", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isPreferredInterface(tt.name); got != tt.want {
				t.Errorf("isPreferredInterface(%q) = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}

func TestDiscoverLANIP_ReturnsParseableAddress(t *testing.T) {
	ip, err := DiscoverLANIP()
	if err != nil {
		t.Skipf("no LAN route in test environment: %v", err)
	}
	if net.ParseIP(ip) == nil {
		t.Errorf("DiscoverLANIP returned unparseable address %q", ip)
	}
}
