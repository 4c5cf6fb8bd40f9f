// Command sphere runs the assistant backend: the streaming chat API,
// the tiered memory pipeline, and the nightly archive job.
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
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/spheredev/sphere/internal/agent"
	"github.com/spheredev/sphere/internal/api"
	"github.com/spheredev/sphere/internal/buildinfo"
	"github.com/spheredev/sphere/internal/config"
	"github.com/spheredev/sphere/internal/llm"
	"github.com/spheredev/sphere/internal/memory"
	"github.com/spheredev/sphere/internal/scheduler"
	"github.com/spheredev/sphere/internal/storage"
	"github.com/spheredev/sphere/internal/tools"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "sphere:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(buildinfo.String())
		return nil
	}

	// A .env next to the binary is a development convenience; absence
	// is not an error.
	_ = godotenv.Load()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	logger.Info("starting", "build", buildinfo.String())

	loc, err := time.LoadLocation(cfg.TimeZone)
	if err != nil {
		return fmt.Errorf("load timezone %q: %w", cfg.TimeZone, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := storage.NewWebDAV(cfg.Storage, logger)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}
	scopes := storage.Scopes{
		Memory:   cfg.Storage.MemoryDir,
		Sessions: cfg.Storage.SessionsDir,
		Current:  cfg.Storage.CurrentDir,
	}

	llmClient := llm.New(cfg.LLM, logger)

	manager := memory.NewManager(store, scopes, llmClient, cfg.Memory, loc, logger)
	patcher := memory.NewPatcher(store, scopes, llmClient, logger)
	archiver := memory.NewArchiver(store, scopes, llmClient, patcher, manager, logger)

	registry := tools.NewRegistry(logger)
	tools.RegisterSphereTools(registry, store, scopes, archiver, loc, logger)

	loop := agent.NewLoop(llmClient, registry, agent.Options{}, logger)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	schedStore, err := scheduler.OpenStore(filepath.Join(cfg.DataDir, "archive_runs.db"))
	if err != nil {
		return fmt.Errorf("open scheduler store: %w", err)
	}
	defer schedStore.Close()

	sched := scheduler.New(archiver, schedStore, cfg.Archive, loc, logger)
	sched.Start(ctx)
	defer sched.Stop()

	server := api.NewServer(loop, manager, sched, archiver, store, scopes, loc, logger)
	addr := fmt.Sprintf("%s:%d", cfg.Listen.Address, cfg.Listen.Port)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()
	logger.Info("listening", "addr", addr, "model", llmClient.Model(), "timezone", cfg.TimeZone)

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// loadConfig reads the YAML config when one is found and falls back to
// environment variables alone, which is how the container image runs.
func loadConfig(explicit string) (*config.Config, error) {
	path, err := config.FindConfig(explicit)
	if err != nil {
		if explicit != "" {
			return nil, err
		}
		return config.FromEnv()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}

func newLogger(level string) (*slog.Logger, error) {
	lvl, err := config.ParseLogLevel(level)
	if err != nil {
		return nil, err
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level:       lvl,
		ReplaceAttr: config.ReplaceLogLevelNames,
	})
	return slog.New(handler), nil
}
