package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"sidepanel/internal/assistant"
	"sidepanel/internal/browser"
	"sidepanel/internal/config"
	"sidepanel/internal/coordinator"
	"sidepanel/internal/logging"
	"sidepanel/internal/server"
	"sidepanel/internal/store"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the background daemon",
	Long: `Connects to (or launches) Chrome, resets the panel state, and serves the
panel ports and chat API until interrupted.

Endpoints:
  /port/{content-port|side-panel-port}  websocket message ports
  POST /api/chat                        streamed completion (SSE)
  GET  /api/models                      model discovery
  GET  /api/state                       panel session state
  GET  /api/page                        scrape the active tab`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default: server.addr from config)")
}

func browserConfig(cfg *config.Config) browser.Config {
	bc := browser.DefaultConfig()
	bc.DebuggerURL = cfg.Browser.DebuggerURL
	bc.Launch = cfg.Browser.Launch
	bc.Bin = cfg.Browser.Bin
	bc.Flags = cfg.Browser.Flags
	bc.Headless = cfg.Browser.Headless
	bc.PollInterval = cfg.PollInterval()
	return bc
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer logging.CloseAll()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	live := newLiveConfig(cfg)

	kv, err := store.OpenSQLite(cfg.StorePath())
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer kv.Close()

	mgr := browser.NewManager(browserConfig(cfg))
	if err := mgr.Start(ctx); err != nil {
		return fmt.Errorf("failed to start browser: %w", err)
	}
	defer func() {
		if err := mgr.Shutdown(context.Background()); err != nil {
			logger.Warn("Browser shutdown failed", zap.Error(err))
		}
	}()
	logger.Info("Browser connected", zap.String("control_url", mgr.ControlURL()))

	coord := coordinator.New(kv, mgr, mgr)
	if err := coord.Start(ctx); err != nil {
		return fmt.Errorf("failed to reset panel state: %w", err)
	}

	core := newStreamCore(live)
	defer core.Close()

	asst := assistant.New(assistant.Deps{
		Config:    live.Get,
		Registry:  core.registry,
		Chat:      core.chat,
		Rewriter:  core.rewriter,
		Searcher:  core.searcher,
		Discovery: core.discovery,
		Store:     kv,
		Pages:     mgr,
	})
	titles := &assistant.TitleGenerator{
		Registry: core.registry,
		Chat:     core.chat,
		HTTP:     core.http,
	}
	srv := server.NewServer(asst, coord, core.discovery, titles, live.Get)

	path := resolveConfigPath()
	go func() {
		err := config.Watch(ctx, path, func(next *config.Config) {
			if err := next.Validate(); err != nil {
				logger.Warn("Ignoring invalid config reload", zap.Error(err))
				return
			}
			logging.Configure(next.Logging.Settings())
			live.Set(next)
			logger.Info("Config reloaded", zap.String("path", path))
		})
		if err != nil {
			logger.Warn("Config watch stopped", zap.Error(err))
		}
	}()

	addr := serveAddr
	if addr == "" {
		addr = cfg.Server.Addr
	}
	logger.Info("Daemon listening", zap.String("addr", addr), zap.String("store", kv.Path()))
	return srv.Start(ctx, addr)
}
