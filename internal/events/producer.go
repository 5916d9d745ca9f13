package events

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"

	"github.com/jfeld/orderdesk/pkg/models"
)

const StatusChangedTopic = "order.status_changed"

// StatusChangedEvent is published after every committed transition.
// OccurredAt is the order's updated_at; EventTime is set at publish.
type StatusChangedEvent struct {
	OrderID    string        `json:"order_id"`
	PrevStatus models.Status `json:"prev_status"`
	NewStatus  models.Status `json:"new_status"`
	Actor      models.Role   `json:"actor"`
	OccurredAt time.Time     `json:"occurred_at"`
	EventTime  time.Time     `json:"event_time"`
}

type KafkaProducer struct {
	producer sarama.SyncProducer
	logger   *logrus.Logger
}

func NewKafkaProducer(brokers string, logger *logrus.Logger) (*KafkaProducer, error) {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Version = sarama.V2_6_0_0

	producer, err := sarama.NewSyncProducer(strings.Split(brokers, ","), config)
	if err != nil {
		return nil, err
	}

	return &KafkaProducer{
		producer: producer,
		logger:   logger,
	}, nil
}

func (p *KafkaProducer) PublishStatusChanged(event StatusChangedEvent) error {
	event.EventTime = time.Now()

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	// Keyed by order id so one order's events stay on one partition,
	// preserving their relative order for consumers.
	msg := &sarama.ProducerMessage{
		Topic: StatusChangedTopic,
		Key:   sarama.StringEncoder(event.OrderID),
		Value: sarama.ByteEncoder(data),
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		p.logger.WithError(err).Error("Failed to send message to Kafka")
		return err
	}

	p.logger.WithFields(logrus.Fields{
		"topic":     StatusChangedTopic,
		"partition": partition,
		"offset":    offset,
		"order_id":  event.OrderID,
	}).Info("Event published to Kafka")

	return nil
}

func (p *KafkaProducer) Close() error {
	return p.producer.Close()
}
