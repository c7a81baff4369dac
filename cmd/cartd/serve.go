package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/alfredjeanlab/carts/internal/config"
	"github.com/alfredjeanlab/carts/internal/events"
	"github.com/alfredjeanlab/carts/internal/export"
	"github.com/alfredjeanlab/carts/internal/pipeline"
	"github.com/alfredjeanlab/carts/internal/presence"
	"github.com/alfredjeanlab/carts/internal/registry"
	"github.com/alfredjeanlab/carts/internal/server"
	"github.com/alfredjeanlab/carts/internal/store"
	"github.com/alfredjeanlab/carts/internal/store/memory"
	"github.com/alfredjeanlab/carts/internal/store/postgres"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP, websocket and gRPC servers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.LoadDotEnv(envFile); err != nil {
			return err
		}
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
		slog.SetDefault(logger)

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg, logger)
	},
}

// serve runs the service until ctx is done or a listener fails.
func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error("error closing store", "err", err)
		}
	}()
	logger.Info("store ready", "backend", cfg.Store)

	// Create event publisher.
	var publisher events.Publisher
	if cfg.NATSURL != "" {
		pub, err := events.NewNATSPublisher(cfg.NATSURL)
		if err != nil {
			return err
		}
		publisher = pub
		logger.Info("bus mirror enabled", "nats_url", cfg.NATSURL)
	} else {
		publisher = &events.NoopPublisher{}
		logger.Info("bus mirror disabled (CARTS_NATS_URL not set)")
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Error("error closing publisher", "err", err)
		}
	}()

	// Create server components.
	reg := registry.New(cfg.SendTimeout, logger)
	p := pipeline.New(st, reg, publisher, logger)
	tracker := presence.New()
	p.TrackActivity(tracker)
	tracker.StartReaper(&presence.ReaperConfig{StaleThreshold: cfg.DeviceStaleAfter})
	defer tracker.Stop()

	cartsServer := server.NewCartsServer(p, st, reg, cfg.SendTimeout)
	cartsServer.Presence = tracker

	httpLis, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.HTTPAddr, err)
	}
	httpServer := &http.Server{
		Handler:           cartsServer.NewHTTPHandler(cfg.CORSOrigins),
		ReadHeaderTimeout: 10 * time.Second,
	}

	var (
		grpcServer *grpc.Server
		grpcLis    net.Listener
	)
	if cfg.GRPCAddr != "" {
		grpcLis, err = net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			_ = httpLis.Close()
			return fmt.Errorf("listen %s: %w", cfg.GRPCAddr, err)
		}
		grpcServer = server.NewGRPCServer(cartsServer)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("HTTP server listening", "addr", httpLis.Addr().String())
		if err := httpServer.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server: %w", err)
		}
		return nil
	})

	if grpcServer != nil {
		g.Go(func() error {
			logger.Info("gRPC server listening", "addr", grpcLis.Addr().String())
			if err := grpcServer.Serve(grpcLis); err != nil {
				return fmt.Errorf("gRPC server: %w", err)
			}
			return nil
		})
	}

	// Start the audit export if any destinations are configured.
	if cfg.ExportInterval > 0 {
		dests := exportDestinations(gctx, cfg, logger)
		if len(dests) > 0 {
			scheduler := export.NewScheduler(st, dests, cfg.ExportInterval, cfg.ExportS3Prefix, logger)
			scheduler.Settle = cfg.ExportSettle
			g.Go(func() error {
				scheduler.Run(gctx)
				logger.Info("export scheduler stopped")
				return nil
			})
			logger.Info("export scheduler started", "interval", cfg.ExportInterval, "settle", cfg.ExportSettle)
		}
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		// Observers first: hijacked websockets are not closed by Shutdown,
		// and event streams end once their connection is closed.
		reg.Close()

		if grpcServer != nil {
			grpcServer.GracefulStop()
			logger.Info("gRPC server stopped")
		}

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", "err", err)
		}
		logger.Info("HTTP server stopped")
		return nil
	})

	logger.Info("carts server started",
		"http_addr", cfg.HTTPAddr,
		"grpc_addr", cfg.GRPCAddr,
	)

	err = g.Wait()
	logger.Info("shutdown complete")
	return err
}

// openStore returns the configured store backend.
func openStore(cfg *config.Config) (store.Store, error) {
	switch cfg.Store {
	case config.StoreMemory:
		return memory.New(), nil
	case config.StorePostgres:
		return postgres.New(cfg.DatabaseURL)
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
}

// exportDestinations builds the configured export destinations. A
// destination that cannot be created is logged and skipped.
func exportDestinations(ctx context.Context, cfg *config.Config, logger *slog.Logger) []export.Destination {
	var dests []export.Destination

	if cfg.ExportS3Bucket != "" {
		s3Dest, err := export.NewS3Destination(ctx, cfg.ExportS3Bucket, cfg.ExportS3Region, cfg.ExportS3Endpoint)
		if err != nil {
			logger.Error("failed to create S3 export destination", "err", err)
		} else {
			dests = append(dests, s3Dest)
			logger.Info("export S3 destination enabled", "bucket", cfg.ExportS3Bucket, "prefix", cfg.ExportS3Prefix)
		}
	}

	if cfg.ExportDir != "" {
		dirDest, err := export.NewDirDestination(cfg.ExportDir)
		if err != nil {
			logger.Error("failed to create directory export destination", "err", err)
		} else {
			dests = append(dests, dirDest)
			logger.Info("export directory destination enabled", "dir", cfg.ExportDir)
		}
	}

	return dests
}
