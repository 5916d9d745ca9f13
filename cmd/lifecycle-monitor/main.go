// lifecycle-monitor tails the order.status_changed topic and logs every
// transition, giving operators a live view of order traffic without
// touching the store.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/jfeld/orderdesk/internal/config"
	"github.com/jfeld/orderdesk/internal/events"
)

type logHandler struct {
	logger *logrus.Logger
}

func (h *logHandler) HandleStatusChanged(event events.StatusChangedEvent) error {
	entry := h.logger.WithFields(logrus.Fields{
		"order_id":    event.OrderID,
		"prev_status": event.PrevStatus,
		"new_status":  event.NewStatus,
		"actor":       event.Actor,
		"occurred_at": event.OccurredAt,
	})
	if event.NewStatus.Terminal() {
		entry.Warn("Order reached terminal status")
	} else {
		entry.Info("Order transitioned")
	}
	return nil
}

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(logrus.InfoLevel)

	cfg := config.Load()
	if cfg.KafkaBrokers == "" {
		logger.Fatal("KAFKA_BROKERS is required")
	}

	consumer, err := events.NewKafkaConsumer(cfg.KafkaBrokers, cfg.KafkaGroupID, &logHandler{logger: logger}, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create Kafka consumer")
	}
	defer consumer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.WithField("topic", events.StatusChangedTopic).Info("Starting lifecycle monitor")
	if err := consumer.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Consumer stopped")
	}
	logger.Info("Lifecycle monitor stopped")
}
