// ABOUTME: Entry point for the portal-proxy traffic gateway
// ABOUTME: Intercepts LAN HTTP/HTTPS traffic and enforces captive-portal auth

package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/addyya/portalgate/internal/arp"
	"github.com/addyya/portalgate/internal/config"
	"github.com/addyya/portalgate/internal/logging"
	"github.com/addyya/portalgate/internal/netutil"
	"github.com/addyya/portalgate/internal/policy"
	"github.com/addyya/portalgate/internal/proxy"
	"github.com/addyya/portalgate/internal/store"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                    _        _             _
 _ __   ___  _ __ | |_ __ _ | | __ _  __ _| |_ ___
| '_ \ / _ \| '__|| __/ _' || |/ _' |/ _' | __/ _ \
| |_) | (_) | |   | || (_| || | (_| | (_| | ||  __/
| .__/ \___/|_|    \__\__,_||_|\__, |\__,_|\__\___|
|_|                            |___/
`

func main() {
	host := flag.String("host", "", "listen host (overrides config)")
	port := flag.Int("port", 0, "listen port (overrides config)")
	configPath := flag.String("config", os.Getenv("PORTALGATE_CONFIG"), "path to config file")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *host, *port, *configPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, host string, port int, configPath string) error {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)
	gray := color.New(color.FgHiBlack)
	gray.Printf("    proxy version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if host != "" {
		cfg.Proxy.Host = host
	}
	if port != 0 {
		cfg.Proxy.Port = port
	}

	logger := logging.Setup(cfg.Logging)

	gatewayIP := cfg.Portal.GatewayIP
	if gatewayIP == "" {
		gatewayIP, err = netutil.DiscoverLANIP()
		if err != nil {
			logger.Warn("LAN IP discovery failed, using loopback", "error", err)
			gatewayIP = "127.0.0.1"
		}
	}

	st, err := store.NewSQLiteStore(cfg.Database.Path, store.Options{
		PoolSize: cfg.Database.PoolSize,
		Lockout: store.LockoutPolicy{
			MaxAttempts:     cfg.Auth.MaxAttempts,
			FailureWindow:   cfg.Auth.FailureWindow,
			LockoutDuration: cfg.Auth.LockoutDuration,
		},
	})
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	macs := arp.New(30*time.Second, 4096, nil)
	defer macs.Close()

	pol := policy.New(policy.Options{
		GatewayIP:      gatewayIP,
		AppPort:        cfg.Portal.AppPort,
		APIPort:        addrPort(cfg.API.Addr, 8080),
		ForceFallback:  cfg.Portal.ForceFallback,
		WhitelistHosts: cfg.Portal.WhitelistHosts,
		WhitelistPorts: cfg.Portal.WhitelistPorts,
	})

	listenAddr := net.JoinHostPort(cfg.Proxy.Host, strconv.Itoa(cfg.Proxy.Port))

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Proxy:     %s\n", listenAddr)
	green.Print("    ▶ ")
	fmt.Printf("Portal:    http://%s:%d/\n", gatewayIP, cfg.Portal.AppPort)
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s\n", cfg.Database.Path)
	fmt.Println()

	logger.Info("starting portal-proxy",
		"addr", listenAddr,
		"gateway_ip", gatewayIP,
		"force_fallback", cfg.Portal.ForceFallback,
	)

	gw := proxy.New(proxy.Config{
		Addr:        listenAddr,
		Policy:      pol,
		Auth:        st,
		MACs:        macs,
		IdleTimeout: cfg.Proxy.IdleTimeout,
	})
	return gw.Run(ctx)
}

// addrPort extracts the port from a host:port address.
func addrPort(addr string, fallback int) int {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return fallback
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fallback
	}
	return port
}
