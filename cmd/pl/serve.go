package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alfredjeanlab/permitlink/internal/activity"
	"github.com/alfredjeanlab/permitlink/internal/config"
	"github.com/alfredjeanlab/permitlink/internal/dispatch"
	"github.com/alfredjeanlab/permitlink/internal/events"
	"github.com/alfredjeanlab/permitlink/internal/metrics"
	"github.com/alfredjeanlab/permitlink/internal/server"
	"github.com/alfredjeanlab/permitlink/internal/sink"
	"github.com/alfredjeanlab/permitlink/internal/snapshot"
	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Short:   "Consume the CDC streams and serve the status API",
	GroupID: "engine",
	// Override PersistentPreRunE so we don't create an API client.
	PersistentPreRunE: offline,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		level, _ := config.ParseLevel(cfg.LogLevel)
		logger := newLogger(level)

		eng := newEngine(cfg.PendingLinks, cfg.AttributeStatuses)
		m := metrics.New()
		hub := server.NewHub()
		tracker := activity.New(logger)

		sinks, err := buildSinks(cfg, hub, logger)
		if err != nil {
			return err
		}

		sub, err := newSubscriber(cfg, logger)
		if err != nil {
			sinks.Close()
			return err
		}

		d := eng.dispatcher(dispatch.Options{Sink: sinks, Metrics: m, Activity: tracker, Logger: logger})
		consumer := dispatch.NewConsumer(d, cfg.AckFailures, logger)

		consumerCtx, consumerCancel := context.WithCancel(context.Background())
		consumerDone := make(chan struct{})
		go func() {
			defer close(consumerDone)
			if err := consumer.Run(consumerCtx, sub); err != nil {
				logger.Error("consumer error", "err", err)
			}
		}()

		// Start HTTP server.
		var httpServer *http.Server
		if cfg.HTTPEnabled() {
			srv := server.New(eng.store, eng.resolver, eng.attributor, server.Options{
				Metrics:  m,
				Hub:      hub,
				Activity: tracker,
				Logger:   logger,
			})
			httpServer = &http.Server{
				Addr:    cfg.HTTPAddr,
				Handler: srv.NewHTTPHandler(cfg.AuthToken),
			}
			go func() {
				logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("HTTP server error", "err", err)
				}
			}()
		} else {
			logger.Info("HTTP server disabled")
		}

		if cfg.StreamStaleAfter > 0 {
			tracker.StartWatchdog(&activity.WatchdogConfig{
				StaleAfter: cfg.StreamStaleAfter,
				OnChange:   m.SetStreamStale,
			})
		}

		// Start snapshot scheduler if any destinations are configured.
		var scheduler *snapshot.Scheduler
		if cfg.SnapshotInterval > 0 {
			dests := buildDestinations(context.Background(), cfg, logger)
			if len(dests) > 0 {
				scheduler = snapshot.NewScheduler(eng.store, dests, cfg.SnapshotInterval, logger)
				scheduler.Start()
				logger.Info("snapshot scheduler started", "interval", cfg.SnapshotInterval)
			}
		}

		logger.Info("permitlink started",
			"nats_url", cfg.NATSURL,
			"subject_prefix", cfg.SubjectPrefix,
			"jetstream_stream", cfg.JetStreamStream,
			"http_addr", cfg.HTTPAddr,
			"pending_links", cfg.PendingLinks,
		)

		// Wait for SIGINT or SIGTERM, or for the subscription to end.
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		select {
		case sig := <-sigCh:
			logger.Info("received signal, shutting down", "signal", sig)
		case <-consumerDone:
			logger.Warn("consumer exited, shutting down")
		}

		// Graceful shutdown.
		consumerCancel()
		<-consumerDone
		logger.Info("consumer stopped")

		tracker.Stop()

		if scheduler != nil {
			scheduler.Stop()
			logger.Info("snapshot scheduler stopped")
		}

		if httpServer != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.Error("HTTP server shutdown error", "err", err)
			}
			logger.Info("HTTP server stopped")
		}

		if err := sub.Close(); err != nil {
			logger.Error("error closing subscriber", "err", err)
		}
		if err := sinks.Close(); err != nil {
			logger.Error("error closing sinks", "err", err)
		}

		logger.Info("shutdown complete")
		return nil
	},
}

// newSubscriber picks JetStream when a stream is configured and core NATS
// otherwise.
func newSubscriber(cfg *config.Config, logger *slog.Logger) (events.Subscriber, error) {
	opts := []nats.Option{
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("NATS disconnected", "err", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
	}
	if cfg.JetStreamStream != "" {
		sub, err := events.NewJetStreamSubscriber(cfg.NATSURL, cfg.JetStreamStream, cfg.Durable, cfg.SubjectPrefix, opts...)
		if err != nil {
			return nil, err
		}
		logger.Info("consuming from JetStream", "stream", cfg.JetStreamStream, "durable", cfg.Durable)
		return sub, nil
	}
	sub, err := events.NewNATSSubscriber(cfg.NATSURL, cfg.SubjectPrefix, opts...)
	if err != nil {
		return nil, err
	}
	logger.Info("consuming from core NATS", "prefix", cfg.SubjectPrefix)
	return sub, nil
}

// buildSinks assembles the attribution sinks. The hub is always included so
// the event stream endpoint sees every attribution.
func buildSinks(cfg *config.Config, hub *server.Hub, logger *slog.Logger) (sink.Multi, error) {
	sinks := sink.Multi{hub}

	if cfg.DatabaseURL != "" {
		pg, err := sink.NewPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("postgres sink: %w", err)
		}
		sinks = append(sinks, pg)
		logger.Info("postgres sink enabled")
	}

	if cfg.PublishAttributions {
		pub, err := events.NewNATSPublisher(cfg.NATSURL, cfg.SubjectPrefix)
		if err != nil {
			sinks.Close()
			return nil, fmt.Errorf("nats sink: %w", err)
		}
		sinks = append(sinks, sink.NewNATS(pub))
		logger.Info("attribution publishing enabled", "topic", events.Subject(cfg.SubjectPrefix, events.TopicAttributions))
	} else {
		logger.Info("attribution publishing disabled (PERMITLINK_PUBLISH_ATTRIBUTIONS not set)")
	}
	return sinks, nil
}

// buildDestinations returns the configured snapshot destinations. A
// destination that cannot be created is logged and skipped.
func buildDestinations(ctx context.Context, cfg *config.Config, logger *slog.Logger) []snapshot.Destination {
	var dests []snapshot.Destination

	if cfg.SnapshotS3Bucket != "" {
		s3Dest, err := snapshot.NewS3Destination(ctx,
			cfg.SnapshotS3Bucket,
			cfg.SnapshotS3Key,
			cfg.SnapshotS3Region,
			cfg.SnapshotS3Endpoint,
		)
		if err != nil {
			logger.Error("failed to create S3 snapshot destination", "err", err)
		} else {
			dests = append(dests, s3Dest)
			logger.Info("snapshot S3 destination enabled", "bucket", cfg.SnapshotS3Bucket, "key", cfg.SnapshotS3Key)
		}
	}

	if cfg.SnapshotFile != "" {
		dests = append(dests, snapshot.NewFileDestination(cfg.SnapshotFile))
		logger.Info("snapshot file destination enabled", "path", cfg.SnapshotFile)
	}
	return dests
}
