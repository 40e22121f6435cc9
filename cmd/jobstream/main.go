// Package main wires together the jobstream service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/taskwire/jobstream/internal/api"
	"github.com/taskwire/jobstream/internal/clock/system"
	"github.com/taskwire/jobstream/internal/config"
	idgen "github.com/taskwire/jobstream/internal/id/uuid"
	"github.com/taskwire/jobstream/internal/logging"
	"github.com/taskwire/jobstream/internal/metrics"
	"github.com/taskwire/jobstream/internal/publisher"
	"github.com/taskwire/jobstream/internal/registry"
	"github.com/taskwire/jobstream/internal/stream"
	"github.com/taskwire/jobstream/internal/worker"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush
	zap.ReplaceGlobals(logger)

	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := system.New()
	reg := registry.New(registry.Config{
		ChannelCapacity: cfg.Channel.Capacity,
		Retention:       cfg.Retention(),
		SweepInterval:   cfg.SweepInterval(),
	}, idgen.NewUUIDGenerator(), clock, logger.Named("registry"))
	pub := publisher.New(reg, clock, logger.Named("publisher"))
	runner := worker.NewRunner(pub, logger.Named("worker"))
	dispatch := stream.New(reg, logger.Named("stream"))

	apiServer := api.NewServer(ctx, reg, dispatch, runner, cfg, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("eviction sweep started")
		reg.Run(ctx)
	}()

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
}
