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

	"github.com/agrathwohl/pvp/internal/config"
	"github.com/agrathwohl/pvp/internal/contentstore"
	"github.com/agrathwohl/pvp/internal/events"
	"github.com/agrathwohl/pvp/internal/hub"
	"github.com/agrathwohl/pvp/internal/idgen"
	"github.com/agrathwohl/pvp/internal/router"
	"github.com/agrathwohl/pvp/internal/server"
	"github.com/agrathwohl/pvp/internal/store"
	"github.com/agrathwohl/pvp/internal/store/postgres"
	pvpsync "github.com/agrathwohl/pvp/internal/sync"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:     "serve",
	Short:   "Run the session server",
	GroupID: "system",
	// No client connection for the server itself.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	RunE: func(cmd *cobra.Command, args []string) error {
		debug, _ := cmd.Flags().GetBool("debug")
		level := slog.LevelInfo
		if debug {
			level = slog.LevelDebug
		}
		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
		slog.SetDefault(logger)

		cfg, err := config.Load()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg, logger)
	},
}

// serve runs every component until ctx is cancelled or one of them fails.
func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	// Journal.
	var journal store.Store
	if cfg.DatabaseURL != "" {
		pg, err := postgres.New(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer pg.Close()
		journal = pg
		logger.Info("journal enabled")
	} else {
		logger.Info("journal disabled (PVP_DATABASE_URL not set)")
	}

	// Event bus.
	var publisher events.Publisher = &events.NoopPublisher{}
	if cfg.NATSURL != "" {
		pub, err := events.NewNATSPublisher(cfg.NATSURL)
		if err != nil {
			return err
		}
		publisher = pub
		logger.Info("events enabled", "nats_url", cfg.NATSURL)
	} else {
		logger.Info("events disabled (PVP_NATS_URL not set)")
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Error("error closing publisher", "err", err)
		}
	}()

	// Content store.
	var content contentstore.Store = contentstore.NewMemory()
	if cfg.ContentS3Bucket != "" {
		s3, err := contentstore.NewS3(ctx, cfg.ContentS3Bucket, cfg.ContentS3Prefix, cfg.ContentS3Region, cfg.ContentS3Endpoint)
		if err != nil {
			return err
		}
		content = s3
		logger.Info("content store: s3", "bucket", cfg.ContentS3Bucket, "prefix", cfg.ContentS3Prefix)
	}

	r := router.New(router.Options{
		IDs:            idgen.Generator{},
		Defaults:       cfg.SessionDefaults,
		GateExpiry:     cfg.GateExpiry,
		CausalHold:     cfg.CausalHold,
		DeliveredLimit: cfg.DeliveredLimit,
	})
	h := hub.New(hub.Options{
		Router:       r,
		TickInterval: cfg.TickInterval,
		Publisher:    publisher,
		Journal:      journal,
		Logger:       logger,
	})
	srv := server.New(h, server.Options{Content: content, Journal: journal, Logger: logger})

	grpcServer, healthServer := server.NewGRPCServer(cfg.AuthToken)
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		h.Close()
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: srv.NewHTTPHandler(cfg.AuthToken),
		// Streams end when the server shuts down.
		BaseContext: func(net.Listener) context.Context { return gctx },
	}

	g.Go(func() error { return h.Run(gctx) })

	g.Go(func() error {
		logger.Info("gRPC server listening", "addr", cfg.GRPCAddr)
		if err := grpcServer.Serve(lis); err != nil {
			return fmt.Errorf("gRPC server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server: %w", err)
		}
		return nil
	})

	if cfg.NATSURL != "" {
		sub, err := events.NewNATSSubscriber(cfg.NATSURL)
		if err != nil {
			logger.Error("failed to create ingress subscriber", "err", err)
		} else {
			ingress := events.NewIngress(h.Ingest, logger)
			g.Go(func() error {
				defer sub.Close()
				return ingress.Run(gctx, sub)
			})
		}
	}

	switch {
	case cfg.SyncInterval > 0 && journal == nil:
		logger.Warn("sync disabled: PVP_SYNC_INTERVAL needs a journal (PVP_DATABASE_URL)")
	case cfg.SyncInterval > 0:
		dest, err := pvpsync.NewS3Destination(ctx, cfg.SyncS3Bucket, cfg.SyncS3Key, cfg.ContentS3Region, cfg.ContentS3Endpoint)
		if err != nil {
			logger.Error("failed to create S3 sync destination", "err", err)
		} else {
			scheduler := pvpsync.NewScheduler(journal, []pvpsync.Destination{dest}, cfg.SyncInterval, logger)
			scheduler.Start()
			logger.Info("sync scheduler started", "interval", cfg.SyncInterval, "dest", dest)
			g.Go(func() error {
				<-gctx.Done()
				scheduler.Stop()
				logger.Info("sync scheduler stopped")
				return nil
			})
		}
	}

	logger.Info("pvp server started", "grpc_addr", cfg.GRPCAddr, "http_addr", cfg.HTTPAddr)

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		server.SetNotServing(healthServer)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", "err", err)
		}
		logger.Info("HTTP server stopped")

		grpcServer.GracefulStop()
		logger.Info("gRPC server stopped")
		return nil
	})

	err = g.Wait()
	logger.Info("shutdown complete")
	return err
}

func init() {
	serveCmd.Flags().Bool("debug", false, "log at debug level")
}
