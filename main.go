package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/nsqio/go-nsq"

	"licensure/backend/internal/adapter/stripe"
	"licensure/backend/internal/app"
	"licensure/backend/internal/config"
	"licensure/backend/internal/logger"
	"licensure/backend/internal/middleware"
)

func main() {
	// Structured logger with correlation IDs pulled from context
	handler := logger.NewContextHandler(slog.NewJSONHandler(os.Stdout, nil))
	log := slog.New(handler)
	slog.SetDefault(log)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if err := run(context.Background(), cfg, log); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	deps, err := app.Bootstrap(cfg)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	defer deps.DB.Close()

	provider := stripe.NewClient(cfg.StripeAPIKey, cfg.StripeAPIURL)

	application, err := app.New(cfg, deps.DB, provider, deps.NSQProducer)
	if err != nil {
		return fmt.Errorf("wiring app: %w", err)
	}

	// NSQ consumer: provision nudges trigger a prompt processing cycle.
	nsqCfg := nsq.NewConfig()
	consumer, err := nsq.NewConsumer(config.TopicProvisionTask, "backend", nsqCfg)
	if err != nil {
		slog.Error("failed to create NSQ consumer", "error", err)
	} else {
		consumer.AddHandler(nsq.HandlerFunc(func(m *nsq.Message) error {
			return application.TickConsumer.HandleMessage(m)
		}))
		if err := consumer.ConnectToNSQLookupd(cfg.NSQLookupd); err != nil {
			slog.Error("failed to connect to NSQLookupd", "error", err)
		} else {
			slog.Info("NSQ provision consumer connected")
		}
	}

	// Periodic triggers: the processing cycle every minute, the refund sweep
	// every hour (both configurable). The claim update keeps concurrent ticks
	// from double-processing, so any number of instances may run these.
	go runPeriodic(ctx, time.Duration(cfg.ProcessIntervalSeconds)*time.Second, func(ctx context.Context) {
		summary, err := application.Processor.RunProcessingCycle(ctx, cfg.ProcessBatchLimit)
		if err != nil {
			slog.ErrorContext(ctx, "processing cycle failed", "error", err)
			return
		}
		if summary.Processed > 0 || summary.Skipped > 0 {
			slog.InfoContext(ctx, "processing cycle done",
				"processed", summary.Processed,
				"succeeded", summary.Succeeded,
				"failed", summary.Failed,
				"skipped", summary.Skipped)
		}
	})
	go runPeriodic(ctx, time.Duration(cfg.RefundSweepIntervalSeconds)*time.Second, func(ctx context.Context) {
		summary, err := application.Sweeper.RunSweep(ctx, cfg.RefundSweepLimit)
		if err != nil {
			slog.ErrorContext(ctx, "refund sweep failed", "error", err)
			return
		}
		if summary.Processed > 0 {
			slog.InfoContext(ctx, "refund sweep done",
				"processed", summary.Processed,
				"succeeded", summary.Succeeded,
				"failed", summary.Failed,
				"skipped", summary.Skipped)
		}
	})

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.ServerPort),
		Handler: application.Handler,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	log.Info("server starting", "port", cfg.ServerPort)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func runPeriodic(ctx context.Context, interval time.Duration, fn func(ctx context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tickCtx := middleware.WithCorrelationID(ctx, uuid.New().String())
			fn(tickCtx)
		}
	}
}
