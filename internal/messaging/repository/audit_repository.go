package repository

import (
	"context"
	"encoding/json"

	"profitum_messaging/internal/messaging/domain"

	"github.com/segmentio/kafka-go"
)

// AuditProducer append-only trail of mutating messaging operations
type AuditProducer interface {
	Record(ctx context.Context, ev domain.AuditEvent) error
	Close() error
}

type kafkaAuditProducer struct {
	writer *kafka.Writer
}

// NewKafkaAuditProducer create an AuditProducer
func NewKafkaAuditProducer(writer *kafka.Writer) AuditProducer {
	return &kafkaAuditProducer{writer: writer}
}

func (p *kafkaAuditProducer) Record(ctx context.Context, ev domain.AuditEvent) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.ConversationID),
		Value: value,
	})
}

func (p *kafkaAuditProducer) Close() error {
	return p.writer.Close()
}
