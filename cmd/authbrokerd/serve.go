package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/webadmin-gateway/authbroker/internal/audit"
	"github.com/webadmin-gateway/authbroker/internal/broker"
	"github.com/webadmin-gateway/authbroker/internal/config"
	"github.com/webadmin-gateway/authbroker/internal/logging"
	"github.com/webadmin-gateway/authbroker/internal/server"
)

// runServe loads configuration, wires a broker.State, and serves HTTP until
// a shutdown signal arrives. Mirrors the reference stack's runAgent: load
// config, init logging, start the long-running component, wait on a signal
// channel, then shut down in reverse order.
func runServe() {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		log.Error("failed to load config", logging.KeyError, err)
		os.Exit(1)
	}

	logging.Init(cfg.LogFormat, cfg.LogLevel, os.Stdout)
	log = logging.L("main")

	auditLogger, err := audit.NewLogger(cfg)
	if err != nil {
		log.Error("failed to open audit log", logging.KeyError, err)
		os.Exit(1)
	}

	state, err := broker.New(cfg, auditLogger)
	if err != nil {
		log.Error("failed to initialize broker", logging.KeyError, err)
		os.Exit(1)
	}
	auditLogger.Log(audit.EventBrokerStart, "", map[string]any{"version": version, "listen": addr})

	if cfgFile != "" {
		if err := config.WatchAndReload(cfgFile, func(reloaded *config.Config) {
			state.SetConfig(reloaded)
			auditLogger.Log(audit.EventConfigReloaded, "", nil)
		}); err != nil {
			log.Warn("config hot-reload not active", logging.KeyError, err)
		}
	}

	srv := &http.Server{
		Addr:    addr,
		Handler: server.New(state).Handler(),
	}

	go func() {
		log.Info("broker listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server error", logging.KeyError, err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Info("shutting down broker")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http server shutdown did not complete cleanly", logging.KeyError, err)
	}

	state.Close()
	log.Info("broker stopped")
}
