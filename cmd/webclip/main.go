// Command webclip is the clipping daemon: it drives a Chrome instance,
// captures selections, screenshots, pages and tabs from it, and files them
// in the note service.
//
// Usage:
//
//	webclip -config webclip.yaml        # HTTP popup API on the configured address
//	webclip -config webclip.yaml -mcp   # also serve MCP tools over stdio
package main

import (
	"context"
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

	"github.com/hazyhaar/webclip/browser"
	"github.com/hazyhaar/webclip/bus"
	"github.com/hazyhaar/webclip/httpapi"
	"github.com/hazyhaar/webclip/i18n"
	"github.com/hazyhaar/webclip/imageref"
	"github.com/hazyhaar/webclip/notesvc"
	"github.com/hazyhaar/webclip/orchestrator"
	"github.com/hazyhaar/webclip/renderer"
	"github.com/hazyhaar/webclip/scraper"
	"github.com/hazyhaar/webclip/settings"
)

// Version is reported to MCP clients.
var Version = "0.1.0"

// journalRetention is how long capture journal rows are kept.
const journalRetention = 30 * 24 * time.Hour

var _ orchestrator.Tabs = (*browser.Manager)(nil)

func main() {
	configPath := flag.String("config", "webclip.yaml", "path to the YAML config file")
	serveMCP := flag.Bool("mcp", false, "serve MCP tools on stdin/stdout")
	flag.Parse()

	cfg, err := settings.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "webclip:", err)
		os.Exit(1)
	}

	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	// stdout belongs to MCP when it is served over stdio.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, cfg, *serveMCP); err != nil {
		logger.Error("webclip: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, cfg *settings.Config, serveMCP bool) error {
	store, err := settings.Open(cfg.Database,
		settings.WithDefaults(cfg.Service),
		settings.WithLogger(logger),
	)
	if err != nil {
		return err
	}
	defer store.Close()

	if n, err := store.Prune(ctx, time.Now().Add(-journalRetention)); err != nil {
		logger.Warn("webclip: prune journal", "error", err)
	} else if n > 0 {
		logger.Info("webclip: journal pruned", "rows", n)
	}

	lang, err := store.Language(ctx)
	if err != nil {
		return err
	}
	tr, err := i18n.New(lang, cfg.Language)
	if err != nil {
		return err
	}

	b := bus.New(bus.WithLogger(logger))
	defer b.Close()

	host := renderer.NewHost(b, renderer.WithLogger(logger))
	defer host.Close()

	resolver := imageref.NewResolver(imageref.WithLogger(logger))
	svc := notesvc.New(store,
		notesvc.WithClient(&http.Client{Timeout: cfg.Timeouts.Service}),
		notesvc.WithLogger(logger),
	)

	tabs := browser.NewManager(browser.Config{
		RemoteURL:      cfg.Browser.Remote,
		Bin:            cfg.Browser.Bin,
		Headless:       cfg.Browser.Headless,
		XvfbDisplay:    cfg.Browser.XvfbDisplay,
		XvfbScreen:     cfg.Browser.XvfbScreen,
		StartURL:       cfg.Browser.StartURL,
		BlockResources: cfg.Browser.BlockResources,
		Logger:         logger,
	}, b, scraper.WithLogger(logger), scraper.WithLocalizer(tr))
	if err := tabs.Start(ctx); err != nil {
		return fmt.Errorf("start browser: %w", err)
	}
	defer tabs.Close()

	orch, err := orchestrator.New(tabs, b, svc, host, resolver,
		orchestrator.WithLogger(logger),
		orchestrator.WithLocalizer(tr),
		orchestrator.WithJournal(store),
		orchestrator.WithScraperTimeout(cfg.Timeouts.Scraper),
		orchestrator.WithRendererTimeout(cfg.Timeouts.Renderer),
	)
	if err != nil {
		return err
	}
	orch.Start()
	defer orch.Close()

	// Look for the note service now and again whenever its connection
	// settings change.
	if err := orch.TriggerSearch(ctx); err != nil {
		logger.Warn("webclip: initial search", "error", err)
	}
	go store.Watch(ctx, settings.WatchOptions{Interval: time.Second, Debounce: 500 * time.Millisecond}, orch.TriggerSearch)

	if serveMCP {
		mcpSrv := mcp.NewServer(&mcp.Implementation{Name: "webclip", Version: Version}, nil)
		orch.RegisterMCP(mcpSrv)
		go func() {
			if err := mcpSrv.Run(ctx, &mcp.StdioTransport{}); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("webclip: mcp", "error", err)
			}
		}()
	}

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           httpapi.New(orch, store, svc, b,
			httpapi.WithLogger(logger),
			httpapi.WithAllowedOrigins(cfg.AllowedOrigins...),
		),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		logger.Info("webclip: listening", "addr", cfg.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errc:
		return fmt.Errorf("http: %w", err)
	}
	logger.Info("webclip: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("webclip: shutdown", "error", err)
	}
	return nil
}
