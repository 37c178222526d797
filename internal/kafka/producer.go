package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"ticketa/internal/config"
	"ticketa/internal/logger"
	"ticketa/internal/models"
)

// Producer fans ticket lifecycle events out to their topics. One writer,
// topic set per message.
type Producer struct {
	Writer *kafka.Writer
	Topics config.TopicConfig
	Logger *logger.Logger
}

func NewProducer(brokers []string, topics config.TopicConfig, log *logger.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
	}
	return &Producer{Writer: writer, Topics: topics, Logger: log}
}

// ScanEvent pairs the consumed ticket with its audit row so downstream
// consumers never need a second lookup.
type ScanEvent struct {
	Ticket models.Ticket     `json:"ticket"`
	Scan   models.TicketScan `json:"scan"`
}

// SeatReleasedEvent is published when a Redis seat hold expires or a ticket
// is cancelled, so live seat maps can free the seat immediately.
type SeatReleasedEvent struct {
	TripID     string `json:"trip_id"`
	SeatNumber int    `json:"seat_number"`
	Reason     string `json:"reason"`
}

func (p *Producer) publish(topic, key string, payload interface{}) error {
	msgBytes, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	p.Logger.LogKafka("PUBLISH", topic, string(msgBytes))

	return p.Writer.WriteMessages(context.Background(),
		kafka.Message{
			Topic: topic,
			Key:   []byte(key),
			Value: msgBytes,
		},
	)
}

// PublishTicketBooked streams a new sale to the booked topic.
func (p *Producer) PublishTicketBooked(t models.Ticket) error {
	return p.publish(p.Topics.TicketBooked, t.TripID, t)
}

// PublishTicketCancelled streams a cancellation; the seat is free again.
func (p *Producer) PublishTicketCancelled(t models.Ticket) error {
	if err := p.publish(p.Topics.TicketCancelled, t.TripID, t); err != nil {
		return err
	}
	return p.PublishSeatReleased(t.TripID, t.SeatNumber, "cancelled")
}

// PublishTicketScanned streams a successful boarding scan.
func (p *Producer) PublishTicketScanned(t models.Ticket, scan models.TicketScan) error {
	return p.publish(p.Topics.TicketScanned, t.TripID, ScanEvent{Ticket: t, Scan: scan})
}

func (p *Producer) PublishSeatReleased(tripID string, seat int, reason string) error {
	return p.publish(p.Topics.SeatReleased, tripID, SeatReleasedEvent{
		TripID:     tripID,
		SeatNumber: seat,
		Reason:     reason,
	})
}

func (p *Producer) Close() error {
	return p.Writer.Close()
}
