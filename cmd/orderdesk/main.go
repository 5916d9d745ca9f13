package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/jfeld/orderdesk/internal/config"
	"github.com/jfeld/orderdesk/internal/conversation"
	"github.com/jfeld/orderdesk/internal/events"
	"github.com/jfeld/orderdesk/internal/handshake"
	"github.com/jfeld/orderdesk/internal/lifecycle"
	"github.com/jfeld/orderdesk/internal/notify"
	"github.com/jfeld/orderdesk/internal/server"
	"github.com/jfeld/orderdesk/internal/store"
	"github.com/jfeld/orderdesk/internal/store/memory"
	"github.com/jfeld/orderdesk/internal/store/postgres"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(logrus.InfoLevel)

	cfg := config.Load()

	var (
		orders   store.OrderStore
		messages store.MessageStore
		queue    store.NotificationQueue
	)
	if cfg.DevMode {
		logger.Warn("Dev mode: using in-memory stores, nothing is durable")
		orders = memory.NewOrderStore()
		messages = memory.NewMessageStore()
		queue = memory.NewNotificationQueue()
	} else {
		db, err := postgres.Open(cfg.DSN, cfg.MigrationsDir)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to database")
		}
		defer db.Close()
		orders = postgres.NewOrderStore(db)
		messages = postgres.NewMessageStore(db)
		queue = postgres.NewNotificationQueue(db)
	}

	var publisher notify.EventPublisher
	if cfg.KafkaBrokers != "" {
		producer, err := events.NewKafkaProducer(cfg.KafkaBrokers, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to create Kafka producer")
		}
		defer producer.Close()
		publisher = producer
	} else {
		logger.Info("KAFKA_BROKERS unset, lifecycle events disabled")
	}

	conversations := conversation.NewService(orders, messages, logger)
	generator := notify.NewGenerator(conversations, queue, publisher, logger)
	lc := lifecycle.NewService(orders, generator, logger)
	hs := handshake.NewService(orders, conversations, lc, logger)
	worker := notify.NewWorker(queue, conversations, logger, cfg.NotifierInterval)

	handler := server.NewHandler(lc, conversations, hs, logger)
	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      handler.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.WithField("addr", srv.Addr).Info("Starting orderdesk")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return worker.Start(ctx)
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.WithError(err).Fatal("Service stopped")
	}
	logger.Info("Server gracefully stopped")
}
