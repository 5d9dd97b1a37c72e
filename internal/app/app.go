package app

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"licensure/backend/features/license"
	"licensure/backend/features/queue"
	"licensure/backend/features/refund"
	"licensure/backend/features/stats"
	"licensure/backend/features/subscription"
	"licensure/backend/internal/adapter/platform"
	"licensure/backend/internal/adapter/stripe"
	"licensure/backend/internal/config"
	"licensure/backend/internal/middleware"
	"licensure/backend/internal/processor"
)

type Database interface {
	PingContext(ctx context.Context) error
}

type TaskPublisher interface {
	Publish(topic string, body []byte) error
}

// PaymentProvider is the full outbound surface against the payment provider,
// satisfied by the stripe adapter and by mocks in tests.
type PaymentProvider interface {
	CreateSubscription(ctx context.Context, params *stripe.SubscriptionParams, idempotencyKey string) (*stripe.Subscription, error)
	GetPrice(ctx context.Context, priceID string) (*stripe.Price, error)
	GetPaymentIntent(ctx context.Context, id string) (*stripe.PaymentIntent, error)
	CreateRefund(ctx context.Context, params *stripe.RefundParams) (*stripe.Refund, error)
}

type App struct {
	Handler      http.Handler
	Processor    *processor.Processor
	Sweeper      *refund.Sweeper
	TickConsumer *processor.TickConsumer
}

func New(cfg *config.Config, db Database, provider PaymentProvider, taskPub TaskPublisher) (*App, error) {
	// Cast db to *sql.DB for repositories that require it. The interface in
	// the signature keeps the wiring mockable with sqlmock.
	sqlDB := db.(*sql.DB)

	queueRepo := queue.NewPostgresRepo(sqlDB)
	licenseRepo := license.NewPostgresRepo(sqlDB)
	subscriptionRepo := subscription.NewPostgresRepo(sqlDB)
	refundRepo := refund.NewPostgresRepo(sqlDB)

	keygen := license.NewGenerator(licenseRepo)
	detector := platform.NewDetector()

	proc := processor.New(queueRepo, licenseRepo, subscriptionRepo, keygen, provider, detector, taskPub, processor.Options{
		BackoffBase:     time.Duration(cfg.BackoffBaseSeconds) * time.Second,
		StuckJobTimeout: time.Duration(cfg.StuckJobTimeoutMinutes) * time.Minute,
		TrialPeriodDays: cfg.TrialPeriodDays,
		SiteBatchDelay:  time.Duration(cfg.SiteBatchDelayMillis) * time.Millisecond,
	})

	sweeper := refund.NewSweeper(queueRepo, refundRepo, provider, taskPub, time.Duration(cfg.RefundGraceHours)*time.Hour)

	// Feature: Queue
	producer := queue.NewProducer(queueRepo, taskPub, cfg.QueueMaxAttempts)
	queueHandler := queue.NewHandler(producer, queueRepo, proc, cfg.ProcessBatchLimit)

	// Feature: Refund
	refundHandler := refund.NewHandler(sweeper, cfg.RefundSweepLimit)

	// Feature: Stats
	statsHandler := stats.NewHandler(queueRepo, licenseRepo, refundRepo)

	// Middleware: CORS
	enableCORS := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next(w, r)
		}
	}

	mux := http.NewServeMux()
	mux.Handle("POST /webhooks/payment", middleware.CorrelationID(enableCORS(queueHandler.Webhook)))
	mux.Handle("POST /internal/queue/process", middleware.CorrelationID(enableCORS(queueHandler.Process)))
	mux.Handle("POST /internal/refunds/sweep", middleware.CorrelationID(enableCORS(refundHandler.Sweep)))
	mux.Handle("GET /queue/jobs", middleware.CorrelationID(enableCORS(queueHandler.List)))
	mux.Handle("GET /stats", middleware.CorrelationID(enableCORS(statsHandler.GetStats)))

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	return &App{
		Handler:      mux,
		Processor:    proc,
		Sweeper:      sweeper,
		TickConsumer: processor.NewTickConsumer(proc, cfg.ProcessBatchLimit),
	}, nil
}
