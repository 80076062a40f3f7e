// Package publish fans changed article records out to Kafka.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"wxharvest/pkg/config"
	"wxharvest/pkg/errors"
	"wxharvest/pkg/harvest"
	"wxharvest/pkg/logger"
	"wxharvest/pkg/storage"
)

// Publisher delivers records to downstream consumers
type Publisher interface {
	Publish(ctx context.Context, rec harvest.Record) error
	Close() error
}

// Event is the message body written for a record
type Event struct {
	ID          string `json:"id"`
	AccountID   string `json:"account_id"`
	RemoteID    string `json:"remote_id"`
	Title       string `json:"title"`
	URL         string `json:"url"`
	Digest      string `json:"digest"`
	CoverURL    string `json:"cover_url"`
	PublishTime int64  `json:"publish_time"`
	HasContent  bool   `json:"has_content"`
	HarvestedAt int64  `json:"harvested_at"`
}

// messageWriter is the subset of *kafka.Writer the producer needs
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer writes one message per record, keyed by article id so updates of
// an article land on the same partition.
type Producer struct {
	writer messageWriter
	topic  string
	logger logger.Logger
}

// NewProducer creates a Kafka producer for the configured brokers and topic
func NewProducer(cfg config.PublishConfig, log logger.Logger) *Producer {
	if log == nil {
		log = logger.GetLogger()
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}
	p := &Producer{writer: writer, topic: cfg.Topic, logger: log.WithField("component", "publisher")}
	logger.LogComponentStart(p.logger, "publisher", map[string]interface{}{
		"brokers": cfg.Brokers,
		"topic":   cfg.Topic,
	})
	return p
}

// NewEvent builds the message body for a record
func NewEvent(rec harvest.Record, now time.Time) Event {
	return Event{
		ID:          storage.ArticleID(rec.AccountID, rec.RemoteID),
		AccountID:   rec.AccountID,
		RemoteID:    rec.RemoteID,
		Title:       rec.Title,
		URL:         rec.URL,
		Digest:      rec.Digest,
		CoverURL:    rec.CoverURL,
		PublishTime: rec.PublishTime,
		HasContent:  rec.Content != "",
		HarvestedAt: now.Unix(),
	}
}

// Publish writes rec synchronously
func (p *Producer) Publish(ctx context.Context, rec harvest.Record) error {
	event := NewEvent(rec, time.Now())
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(event.ID),
		Value: body,
		Time:  time.Now(),
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return errors.Wrap(errors.ErrorTypeNetwork, err, "failed to write message to kafka")
	}
	p.logger.WithFields(map[string]interface{}{"id": event.ID, "topic": p.topic}).Debug("Record published")
	return nil
}

// Close flushes and closes the writer
func (p *Producer) Close() error {
	logger.LogComponentStop(p.logger, "publisher", "closed")
	return p.writer.Close()
}

// Nop discards records
type Nop struct{}

func (Nop) Publish(context.Context, harvest.Record) error { return nil }
func (Nop) Close() error                                  { return nil }

// FromConfig returns a Kafka producer when brokers and topic are configured,
// Nop otherwise.
func FromConfig(cfg config.PublishConfig, log logger.Logger) Publisher {
	if !cfg.Enabled() {
		return Nop{}
	}
	return NewProducer(cfg, log)
}
