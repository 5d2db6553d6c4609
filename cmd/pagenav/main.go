// Command pagenav drives "next page" / "previous page" navigation.
//
// Usage:
//
//	pagenav -url https://example.com/list?page=2          # live tab, arrow keys navigate
//	pagenav -url https://example.com -http :7070 -mcp     # plus relay over HTTP and MCP on stdio
//	pagenav -file page.html -base https://example.com/ -intent next   # dry run
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/pagenav/navigator"
	"github.com/hazyhaar/pagenav/relay"
	"github.com/hazyhaar/pagenav/settings"
)

var version = "dev"

type options struct {
	configPath string
	pageURL    string
	file       string
	base       string
	intent     string
	db         string
	httpAddr   string
	mcp        bool
}

func main() {
	var o options
	flag.StringVar(&o.configPath, "config", "", "path to pagenav.yaml")
	flag.StringVar(&o.pageURL, "url", "", "open a live tab on this URL")
	flag.StringVar(&o.file, "file", "", "dry run against a saved HTML file")
	flag.StringVar(&o.base, "base", "http://localhost/", "URL the -file document was served at")
	flag.StringVar(&o.intent, "intent", "next", "dry-run intent: next or previous")
	flag.StringVar(&o.db, "db", "", "settings database (overrides the config file)")
	flag.StringVar(&o.httpAddr, "http", "", "serve the relay on this address (overrides the config file)")
	flag.BoolVar(&o.mcp, "mcp", false, "serve MCP tools on stdio")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, o); err != nil {
		logger.Error("pagenav: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, o options) error {
	cfg := navigator.DefaultConfig()
	if o.configPath != "" {
		var err error
		if cfg, err = navigator.LoadConfigFile(o.configPath); err != nil {
			return fmt.Errorf("load config: %w", err)
		}
	}
	if o.db != "" {
		cfg.Settings.DB = o.db
	}
	if o.httpAddr != "" {
		cfg.Relay.Addr = o.httpAddr
	}

	switch {
	case o.file != "":
		return runDry(ctx, logger, cfg, o)
	case o.pageURL != "":
		return runLive(ctx, logger, cfg, o)
	}
	fmt.Fprintln(os.Stderr, "usage: pagenav -url <url> | -file <path> [-base <url>] [-intent next|previous]")
	os.Exit(2)
	return nil
}

func openStore(cfg *navigator.FileConfig, logger *slog.Logger) (*settings.Store, error) {
	return settings.Open(cfg.Settings.DB, settings.Options{
		Interval: cfg.Settings.Poll,
		Debounce: cfg.Settings.Debounce,
		Logger:   logger,
	})
}

func runDry(ctx context.Context, logger *slog.Logger, cfg *navigator.FileConfig, o options) error {
	in, err := navigator.ParseIntent(o.intent)
	if err != nil {
		return err
	}
	s := settings.Defaults()
	if o.db != "" || o.configPath != "" {
		store, err := openStore(cfg, logger)
		if err != nil {
			return err
		}
		defer store.Close()
		if s, err = store.Read(ctx); err != nil {
			return err
		}
	}

	f, err := os.Open(o.file)
	if err != nil {
		return err
	}
	defer f.Close()

	out, actions, err := navigator.DryRun(ctx, f, o.base, in, s, logger)
	report := struct {
		Outcome navigator.Outcome    `json:"outcome"`
		Actions []navigator.Recorded `json:"actions"`
		Error   string               `json:"error,omitempty"`
	}{Outcome: out, Actions: actions}
	if err != nil {
		report.Error = err.Error()
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

func runLive(ctx context.Context, logger *slog.Logger, cfg *navigator.FileConfig, o options) error {
	store, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	sess, err := navigator.OpenSession(ctx, cfg, o.pageURL, store, logger)
	if err != nil {
		return err
	}
	defer sess.Close()

	errc := make(chan error, 2)
	if cfg.Relay.Addr != "" {
		srv := &http.Server{
			Addr:              cfg.Relay.Addr,
			Handler:           relay.Handler(sess.Relay),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("pagenav: relay listening", "addr", cfg.Relay.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errc <- fmt.Errorf("relay: %w", err)
			}
		}()
		defer func() {
			shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutCtx)
		}()
	}
	if o.mcp {
		srv := mcp.NewServer(&mcp.Implementation{Name: "pagenav", Version: version}, nil)
		sess.Engine.RegisterMCP(srv)
		go func() {
			if err := srv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
				errc <- fmt.Errorf("mcp: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("pagenav: shutting down")
		return nil
	case err := <-errc:
		return err
	}
}
