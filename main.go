package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/room4-2/livewire/config"
	"github.com/room4-2/livewire/gemini"
	"github.com/room4-2/livewire/logx"
	"github.com/room4-2/livewire/metrics"
	"github.com/room4-2/livewire/server"
	"github.com/room4-2/livewire/session"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		logx.Log.Fatal().Err(err).Msg("failed to load config")
	}
	logx.Configure(cfg.LogLevel)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New()
	m.MustRegister(reg)

	dialer := &gemini.Dialer{
		Endpoint:  cfg.Live.Endpoint,
		APIKey:    cfg.GeminiAPIKey,
		KeepAlive: cfg.KeepAlivePeriod,
	}
	if cfg.GeminiAPIKey == "" {
		dialer.Auth = gemini.StaticToken(cfg.GoogleAccessToken)
	}

	// Create session manager
	sessionManager, err := session.NewManager(cfg, dialer.Factory(), m)
	if err != nil {
		logx.Log.Fatal().Err(err).Msg("failed to create session manager")
	}

	// Start cleanup routine
	ctx, cancel := context.WithCancel(context.Background())
	go sessionManager.StartCleanupRoutine(ctx)

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	srv := server.NewServerWebsocket(cfg, sessionManager, reg)

	go func() {
		<-sigChan
		logx.Log.Info().Msg("received shutdown signal")
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logx.Log.Error().Err(err).Msg("server shutdown error")
		}
	}()

	logx.Log.Info().Str("model", cfg.Live.Model).Bool("auto_reconnect", cfg.Live.AutoReconnect).Msg("starting livewire")
	if err := srv.Start(); err != nil {
		logx.Log.Fatal().Err(err).Msg("server error")
	}

	logx.Log.Info().Msg("server stopped")
}
