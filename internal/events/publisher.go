package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const (
	OrderCreated  = "order.created"
	OrderCanceled = "order.canceled"
	OrderMatched  = "order.matched"
)

// OrderEvent describes a committed order state change.
type OrderEvent struct {
	Type       string    `json:"type"`
	OrderID    string    `json:"order_id"`
	CustomerID string    `json:"customer_id"`
	ActorID    string    `json:"actor_id,omitempty"`
	AssetName  string    `json:"asset_name"`
	Side       string    `json:"order_side"`
	Size       string    `json:"size"`
	Price      string    `json:"price"`
	Status     string    `json:"status"`
	OccurredAt time.Time `json:"occurred_at"`
}

type Publisher interface {
	PublishOrder(ctx context.Context, event OrderEvent) error
	Close() error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaPublisher struct {
	writer messageWriter
	logger *zap.SugaredLogger
}

// New returns a Kafka publisher for brokers, or a publisher that drops
// every event when no brokers are configured.
func New(brokers []string, topic string, logger *zap.SugaredLogger) Publisher {
	if len(brokers) == 0 {
		logger.Infow("order events disabled", "reason", "no kafka brokers configured")
		return NopPublisher{}
	}
	return NewKafkaPublisher(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
		BatchTimeout: 10 * time.Millisecond,
	}, logger)
}

func NewKafkaPublisher(writer messageWriter, logger *zap.SugaredLogger) *KafkaPublisher {
	return &KafkaPublisher{writer: writer, logger: logger}
}

// PublishOrder keys messages by order id so every change of one order lands
// on the same partition in commit order.
func (p *KafkaPublisher) PublishOrder(ctx context.Context, event OrderEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		p.logger.Errorw("failed to marshal order event", "order_id", event.OrderID, "error", err)
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(event.OrderID),
		Value:   data,
		Time:    event.OccurredAt,
		Headers: []kafka.Header{{Key: "event-type", Value: []byte(event.Type)}},
	})
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

type NopPublisher struct{}

func (NopPublisher) PublishOrder(context.Context, OrderEvent) error {
	return nil
}

func (NopPublisher) Close() error {
	return nil
}
