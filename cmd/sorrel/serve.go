package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/Ramsey-B/sorrel/config"
	"github.com/Ramsey-B/sorrel/pkg/kafka"
	"github.com/Ramsey-B/sorrel/pkg/middleware"
	"github.com/Ramsey-B/sorrel/pkg/processor"
	"github.com/Ramsey-B/sorrel/pkg/routes"
	"github.com/Ramsey-B/sorrel/pkg/routes/duplicate"
	"github.com/Ramsey-B/sorrel/pkg/routes/health"
	"github.com/Ramsey-B/sorrel/pkg/routes/record"
	"github.com/Ramsey-B/sorrel/pkg/routes/recordtype"
	"github.com/Ramsey-B/sorrel/pkg/routes/similarity"
	"github.com/Ramsey-B/sorrel/pkg/startup"
	"github.com/Ramsey-B/sorrel/pkg/tracing"
)

const shutdownTimeout = 30 * time.Second

func newServeCommand(envFile *string) *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the Kafka import consumer",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*envFile)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, migrate)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", true, "apply pending migrations before serving")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config, migrate bool) error {
	logger, sync, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer sync()

	if cfg.TracingEnabled {
		shutdownTracing, err := tracing.Setup(ctx, tracing.ProviderConfig{
			ServiceName: cfg.AppName,
			Version:     version,
			Endpoint:    cfg.TracingEndpoint,
			Protocol:    cfg.TracingProtocol,
			Insecure:    cfg.TracingInsecure,
		}, logger)
		if err != nil {
			return fmt.Errorf("failed to set up tracing: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdownTracing(shutdownCtx)
		}()
	}

	a := newApp(cfg, logger)
	if err := a.connect(ctx, connectOptions{migrate: migrate}); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		a.close(stopCtx)
	}()
	if err := a.build(ctx); err != nil {
		return err
	}

	checker := health.NewChecker(version).Add("database", a.db.PingContext)
	if a.redis != nil {
		checker.Add("redis", a.redis.Ping)
	}
	if a.graph != nil {
		checker.Add("graph", a.graph.VerifyConnectivity)
	}

	var history record.MergeHistory
	if a.projection != nil {
		history = a.projection
	}

	e := newEcho(cfg, logger)
	routes.Register(e, routes.Handlers{
		Health:      checker,
		Records:     record.NewHandler(a.resolver, a.records, history),
		RecordTypes: recordtype.NewHandler(a.types),
		Similarity:  similarity.NewHandler(a.matcher),
		Duplicates:  duplicate.NewHandler(a.scanner, a.merger, a.cleaner),
	})

	if cfg.KafkaConsumerEnabled {
		proc := processor.NewProcessor(logger, a.resolver)
		consumer := kafka.NewConsumer(kafka.ConsumerConfig{
			Brokers:       cfg.KafkaBrokers,
			Topic:         cfg.KafkaImportTopic,
			ConsumerGroup: cfg.KafkaConsumerGroup,
		}, logger, proc.ProcessMessage)
		a.boot.Add(startup.Func{
			Name:    "kafka-consumer",
			Needs:   []string{"database"},
			StartFn: func(context.Context) error { return consumer.Start(ctx) },
			StopFn:  func(context.Context) error { return consumer.Stop() },
		})
	}

	serverErr := make(chan error, 1)
	a.boot.Add(startup.Func{
		Name:  "http",
		Needs: []string{"database"},
		StartFn: func(context.Context) error {
			go func() {
				addr := fmt.Sprintf(":%d", cfg.Port)
				logger.WithContext(ctx).WithField("addr", addr).Info("HTTP server listening")
				if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serverErr <- err
				}
			}()
			return nil
		},
		StopFn: func(ctx context.Context) error { return e.Shutdown(ctx) },
	})

	if err := a.boot.Start(ctx); err != nil {
		return err
	}
	checker.SetReady(true)

	select {
	case <-ctx.Done():
		logger.WithContext(ctx).Info("Shutting down")
	case err := <-serverErr:
		logger.WithContext(ctx).WithError(err).Error("HTTP server failed")
		checker.SetReady(false)
		return err
	}
	checker.SetReady(false)
	return nil
}

func newEcho(cfg *config.Config, logger ectologger.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.Error(logger)

	e.Server.ReadTimeout = time.Duration(cfg.HttpServerReadTimeoutSeconds) * time.Second
	e.Server.WriteTimeout = time.Duration(cfg.HttpServerWriteTimeoutSeconds) * time.Second
	e.Server.IdleTimeout = time.Duration(cfg.HttpServerIdleTimeoutSeconds) * time.Second
	e.Server.ReadHeaderTimeout = time.Duration(cfg.ReadHeaderTimeoutSeconds) * time.Second
	e.Server.MaxHeaderBytes = cfg.MaxHeaderBytes

	e.Use(
		echomw.Recover(),
		echomw.CORSWithConfig(echomw.CORSConfig{
			AllowOrigins: cfg.AllowOrigins,
			AllowMethods: cfg.AllowMethods,
		}),
		otelecho.Middleware(cfg.AppName),
		middleware.Context(),
		middleware.Logger(logger),
	)
	return e
}
