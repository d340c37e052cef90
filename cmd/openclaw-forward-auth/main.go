// ABOUTME: Entry point for openclaw-forward-auth
// ABOUTME: Validates terminal access tokens on behalf of a reverse proxy

package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/openclaw/forward-auth/internal/config"
	"github.com/openclaw/forward-auth/internal/forwardauth"
	"github.com/openclaw/forward-auth/internal/server"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                        _                    __                                _                 _   _
  ___  _ __   ___ _ __ | | __ ___      __   / _| ___  _ ____      ____ _ _ __ __| |      __ _ _   _| |_| |__
 / _ \| '_ \ / _ \ '_ \| |/ _' \ \ /\ / /  | |_ / _ \| '__\ \ /\ / / _' | '__/ _' |_____ / _' | | | | __| '_ \
| (_) | |_) |  __/ | | | | (_| |\ V  V /   |  _| (_) | |   \ V  V / (_| | | | (_| |_____| (_| | |_| | |_| | | |
 \___/| .__/ \___|_| |_|_|\__,_| \_/\_/    |_|  \___/|_|    \_/\_/ \__,_|_|  \__,_|      \__,_|\__,_|\__|_| |_|
      |_|
`

const healthTimeout = 3 * time.Second

func usage(w io.Writer) {
	fmt.Fprintln(w, "Usage: openclaw-forward-auth [command]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve     Start the forward-auth server (default)")
	fmt.Fprintln(w, "  health    Probe /healthz on the local listener")
	fmt.Fprintln(w, "  version   Print the version")
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		cancel()
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	cmd := "serve"
	if len(args) > 0 {
		cmd = args[0]
	}

	switch cmd {
	case "serve":
		return runServe(ctx, stdout)
	case "health":
		return runHealth(ctx, stdout)
	case "version", "--version", "-v":
		fmt.Fprintln(stdout, version)
		return nil
	case "help", "--help", "-h":
		usage(stdout)
		return nil
	default:
		usage(stdout)
		return fmt.Errorf("unknown command: %s", cmd)
	}
}

func runServe(ctx context.Context, stdout io.Writer) error {
	cyan := color.New(color.FgCyan)
	cyan.Fprint(stdout, banner)

	gray := color.New(color.FgHiBlack)
	gray.Fprintf(stdout, "    version: %s\n\n", version)

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging, stdout)
	for _, w := range cfg.Warnings {
		logger.Warn("config", "warning", w)
	}

	green := color.New(color.FgGreen)
	green.Fprint(stdout, "    ▶ ")
	fmt.Fprintf(stdout, "Listen:    %s\n", cfg.Server.Addr())
	green.Fprint(stdout, "    ▶ ")
	fmt.Fprintf(stdout, "TTL:       %ds\n", cfg.Auth.TTLSeconds)
	if cfg.Metrics.Enabled {
		green.Fprint(stdout, "    ▶ ")
		fmt.Fprintf(stdout, "Metrics:   %s%s\n", cfg.Metrics.Addr, cfg.Metrics.Path)
	}
	if cfg.Server.GRPCHealthAddr != "" {
		green.Fprint(stdout, "    ▶ ")
		fmt.Fprintf(stdout, "gRPC:      %s\n", cfg.Server.GRPCHealthAddr)
	}
	fmt.Fprintln(stdout)

	logger.Info("starting openclaw-forward-auth",
		"version", version,
		"addr", cfg.Server.Addr(),
		"auth", cfg.Auth,
	)

	srv, err := server.New(cfg, logger, server.WithVersion(version))
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	return srv.Run(ctx)
}

// runHealth probes the local listener. It does not need the secret, so the
// configuration is resolved without validation.
func runHealth(ctx context.Context, stdout io.Writer) error {
	cfg, err := config.Resolve()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	url := "http://" + net.JoinHostPort("127.0.0.1", strconv.Itoa(cfg.Server.Port)) + forwardauth.HealthPath
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Fprintln(stdout, "healthy")
	return nil
}
