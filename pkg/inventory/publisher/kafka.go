// Package publisher delivers committed stock changes to downstream consumers
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/nemonet1337/zaiGarment/pkg/inventory"
)

// EventTypeStockChanged is the value of the event-type header
const EventTypeStockChanged = "inventory.stock_changed"

// MessageWriter is the subset of *kafka.Writer the publisher needs
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher publishes StockChangedEvent messages keyed by inventory id,
// so all changes of one item land on the same partition in commit order.
// 在庫変動イベントをKafkaへ発行
type KafkaPublisher struct {
	writer  MessageWriter
	timeout time.Duration
	logger  *zap.Logger
}

var _ inventory.EventPublisher = (*KafkaPublisher)(nil)

// NewKafkaPublisher creates a publisher writing to topic on brokers
// Kafkaパブリッシャーを作成
func NewKafkaPublisher(brokers []string, topic string, timeout time.Duration, logger *zap.Logger) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
		WriteTimeout: timeout,
	}
	return NewKafkaPublisherWithWriter(writer, timeout, logger)
}

// NewKafkaPublisherWithWriter wraps an existing writer
func NewKafkaPublisherWithWriter(writer MessageWriter, timeout time.Duration, logger *zap.Logger) *KafkaPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaPublisher{writer: writer, timeout: timeout, logger: logger}
}

// PublishStockChanged writes one event
// 在庫変動イベントを発行
func (p *KafkaPublisher) PublishStockChanged(ctx context.Context, event inventory.StockChangedEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("イベントのシリアライズに失敗しました: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(event.InventoryID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(EventTypeStockChanged)},
			{Key: "event-id", Value: []byte(event.EventID)},
			{Key: "change-type", Value: []byte(event.ChangeType)},
		},
		Time: event.Timestamp,
	}

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("在庫イベントの発行に失敗しました (inventory_id=%s): %w", event.InventoryID, err)
	}

	p.logger.Debug("在庫イベント発行完了",
		zap.String("event_id", event.EventID),
		zap.String("inventory_id", event.InventoryID),
		zap.String("change_type", event.ChangeType),
	)
	return nil
}

// Close flushes and closes the writer
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// NopPublisher discards events; used when Kafka is disabled
type NopPublisher struct{}

var _ inventory.EventPublisher = NopPublisher{}

// PublishStockChanged does nothing
func (NopPublisher) PublishStockChanged(context.Context, inventory.StockChangedEvent) error {
	return nil
}
