package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/segmentio/kafka-go"

	"ticketa/internal/logger"
	"ticketa/internal/models"
)

type Consumer struct {
	reader *kafka.Reader
	logger *logger.Logger
}

func NewConsumer(brokers []string, topic, groupID string, log *logger.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
	})
	return &Consumer{reader: reader, logger: log}
}

// StartScanFeed consumes scan events and hands each ticket to the handler,
// typically the SSE boarding emitter. Blocks until ctx is cancelled or the
// reader is closed.
func (c *Consumer) StartScanFeed(ctx context.Context, handler func(t models.Ticket)) {
	c.logger.Info("KAFKA", fmt.Sprintf("consumer started on %s", c.reader.Config().Topic))

	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			c.logger.Error("KAFKA", fmt.Sprintf("read failed: %v", err))
			continue
		}

		var event ScanEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			c.logger.Warn("KAFKA", fmt.Sprintf("skipping unparseable scan event: %v", err))
			continue
		}

		c.logger.LogKafka("CONSUME", msg.Topic, fmt.Sprintf("scan %s ticket %s", event.Scan.ID, event.Ticket.ID))
		handler(event.Ticket)
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
