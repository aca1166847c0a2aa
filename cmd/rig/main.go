package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rigproject/rig/pkg/audit"
	"github.com/rigproject/rig/pkg/bridge"
	"github.com/rigproject/rig/pkg/config"
	"github.com/rigproject/rig/pkg/gateway"
	"github.com/rigproject/rig/pkg/pack"
	"github.com/rigproject/rig/pkg/pack/echo"
	"github.com/rigproject/rig/pkg/policy"
	"github.com/rigproject/rig/pkg/registry"
	"github.com/rigproject/rig/pkg/rtp"
	"github.com/rigproject/rig/pkg/runtime"
	"github.com/rigproject/rig/pkg/secrets"
)

const version = "0.1.0"

// Dispatcher
func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		return runServer(stderr)
	}

	switch args[1] {
	case "server", "serve":
		return runServer(stderr)
	case "health":
		return runHealthCmd(stdout, stderr)
	case "version":
		_, _ = fmt.Fprintf(stdout, "rig %s\n", version)
		return 0
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: rig <command>")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "  server    Run the RIG gateway (default)")
	fmt.Fprintln(w, "  health    Check gateway health (HTTP)")
	fmt.Fprintln(w, "  version   Show version information")
	fmt.Fprintln(w, "  help      Show this help")
}

func runServer(stderr io.Writer) int {
	cfg := config.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	sink, closeSink, err := openSink(cfg)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "audit sink: %v\n", err)
		return 1
	}
	defer closeSink()

	reg := registry.NewToolRegistry()
	rt := runtime.New(policy.FromEnv(), secrets.NewEnvResolver(), sink).WithLogger(logger)

	packs := []pack.Pack{echo.New()}
	if cfg.BridgeURL != "" {
		bp, err := loadBridgePack(cfg.BridgeURL)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "bridge: %v\n", err)
			return 1
		}
		packs = append(packs, bp)
	}
	if err := pack.Load(reg, rt, packs...); err != nil {
		_, _ = fmt.Fprintf(stderr, "load packs: %v\n", err)
		return 1
	}

	snap, err := reg.Snapshot()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "registry snapshot: %v\n", err)
		return 1
	}
	logger.Info("registry ready",
		"tools", len(snap.Tools),
		"interface_hash", snap.InterfaceHash,
		"pack_set_version", snap.PackSetVersion,
	)

	opts := []gateway.Option{gateway.WithLogger(logger)}
	if cfg.AuthSecret != "" {
		opts = append(opts, gateway.WithAuthSecret(cfg.AuthSecret))
	}
	if cfg.RateRPS > 0 {
		opts = append(opts, gateway.WithRateLimit(cfg.RateRPS, cfg.RateBurst))
	}
	srv := gateway.NewServer(reg, rt, opts...)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Expired approval tokens are swept in the background so abandoned
	// requests do not pile up in memory.
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := rt.Approvals().Sweep(); n > 0 {
					logger.Info("swept expired approvals", "count", n)
				}
			}
		}
	}()

	httpSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("rig gateway listening", "port", cfg.Port, "audit_backend", cfg.AuditBackend)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			_, _ = fmt.Fprintf(stderr, "server: %v\n", err)
			return 1
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			_, _ = fmt.Fprintf(stderr, "shutdown: %v\n", err)
			return 1
		}
	}
	return 0
}

func openSink(cfg *config.Config) (audit.Sink, func(), error) {
	switch cfg.AuditBackend {
	case "memory":
		return audit.NewMemorySink(), func() {}, nil
	case "sqlite":
		s, err := audit.OpenSQLite(cfg.AuditDSN)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	case "postgres":
		s, err := audit.OpenPostgres(cfg.AuditDSN)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown audit backend %q", cfg.AuditBackend)
	}
}

// bridgePack presents a remote runner's tools as a loadable pack.
type bridgePack struct {
	client *bridge.Client
	defs   []rtp.ToolDef
}

func loadBridgePack(baseURL string) (pack.Pack, error) {
	client := bridge.NewClient(baseURL)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	defs, err := client.ListTools(ctx)
	if err != nil {
		return nil, err
	}
	return &bridgePack{client: client, defs: defs}, nil
}

func (p *bridgePack) Metadata() pack.Metadata {
	return pack.Metadata{Name: "rig-bridge", Version: "dev"}
}

func (p *bridgePack) Tools() []rtp.ToolDef {
	return p.defs
}

func (p *bridgePack) Impls() map[string]runtime.RegisteredTool {
	impls := make(map[string]runtime.RegisteredTool, len(p.defs))
	for _, def := range p.defs {
		impls[def.Name] = runtime.RegisteredTool{
			Tool:        def,
			Impl:        p.client.ToolFunc(def.Name),
			Pack:        "rig-bridge",
			PackVersion: "dev",
		}
	}
	return impls
}

func runHealthCmd(stdout, stderr io.Writer) int {
	cfg := config.Load()
	url := fmt.Sprintf("http://localhost:%s/v1/health", cfg.Port)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "gateway unreachable: %v\n", err)
		return 1
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		_, _ = fmt.Fprintf(stderr, "gateway unhealthy: status %d\n", resp.StatusCode)
		return 1
	}
	_, _ = fmt.Fprintln(stdout, "ok")
	return 0
}
