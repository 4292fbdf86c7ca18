package publisher

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/rl1809/checkout-payments/internal/core/domain"
)

const eventTypeStatusChanged = "payment.status_changed"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaPublisher struct {
	writer messageWriter
	topic  string
	logger *zap.Logger
}

func NewKafkaPublisher(brokers []string, topic string, logger *zap.Logger) *KafkaPublisher {
	logger = logger.With(zap.String("component", "kafka_publisher"))

	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  3,
		Logger:       zap.NewStdLog(logger.With(zap.String("kafka_component", "writer"))),
		ErrorLogger:  zap.NewStdLog(logger.With(zap.String("kafka_component", "writer_error"))),
	}

	logger.Info("kafka publisher initialized", zap.Strings("brokers", brokers), zap.String("topic", topic))
	return &KafkaPublisher{writer: writer, topic: topic, logger: logger}
}

// PublishStatusChanged writes the event keyed by transaction reference so all
// events for one order land on the same partition.
func (p *KafkaPublisher) PublishStatusChanged(ctx context.Context, event domain.PaymentStatusEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(event.TransactionRef),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(eventTypeStatusChanged)},
			{Key: "order_id", Value: []byte(event.OrderID)},
		},
		Time: event.OccurredAt,
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write message to %s: %w", p.topic, err)
	}

	p.logger.Debug("published status event",
		zap.String("transaction_ref", event.TransactionRef),
		zap.String("status", string(event.Status)),
	)
	return nil
}

func (p *KafkaPublisher) Close() error {
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("close kafka writer: %w", err)
	}
	return nil
}
