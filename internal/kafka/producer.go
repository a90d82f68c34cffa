package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

type Producer struct {
	brokers []string
	writer  *kafka.Writer
	logger  *logrus.Logger
}

func NewProducer(brokers []string, logger *logrus.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Async:        false,
	}

	return &Producer{
		brokers: brokers,
		writer:  writer,
		logger:  logger,
	}
}

func (p *Producer) Publish(ctx context.Context, topic, key string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	message := kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: data,
		Time:  time.Now(),
	}

	if err := p.writer.WriteMessages(ctx, message); err != nil {
		return fmt.Errorf("failed to write message to Kafka: %w", err)
	}

	p.logger.WithContext(ctx).WithFields(logrus.Fields{"topic": topic, "key": key}).Debug("published to kafka")
	return nil
}

func (p *Producer) PublishWithRetry(ctx context.Context, topic, key string, payload interface{}, maxRetries int) error {
	var lastErr error

	for i := 0; i < maxRetries; i++ {
		err := p.Publish(ctx, topic, key, payload)
		if err == nil {
			return nil
		}

		lastErr = err
		p.logger.WithContext(ctx).WithError(err).WithField("attempt", i+1).Warn("kafka publish failed")

		if i < maxRetries-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(i+1) * 500 * time.Millisecond):
			}
		}
	}

	return fmt.Errorf("failed after %d retries: %w", maxRetries, lastErr)
}

func (p *Producer) Close() error {
	if p.writer != nil {
		return p.writer.Close()
	}
	return nil
}

// CheckConnection dials the first broker and lists partitions.
func (p *Producer) CheckConnection(ctx context.Context) error {
	if len(p.brokers) == 0 {
		return fmt.Errorf("no kafka brokers configured")
	}
	conn, err := kafka.DialContext(ctx, "tcp", p.brokers[0])
	if err != nil {
		return fmt.Errorf("failed to connect to Kafka: %w", err)
	}
	defer conn.Close()

	partitions, err := conn.ReadPartitions()
	if err != nil {
		return fmt.Errorf("failed to read partitions: %w", err)
	}

	p.logger.WithContext(ctx).WithField("partitions", len(partitions)).Info("connected to kafka")
	return nil
}
