// Package events publishes reconciled captions to Kafka.
//
// The client mirrors every caption it reconciles onto two Kafka topics so
// downstream consumers (live viewers, note pipelines) see the transcript
// without touching the client's in-memory state. When Kafka is disabled the
// publisher runs in log-only mode.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/seeyonai/summit-transcribe/internal/models"
	"github.com/seeyonai/summit-transcribe/internal/observability/logging"
	"github.com/seeyonai/summit-transcribe/internal/observability/metrics"
)

// topicWriter binds one Kafka writer to the caption event type it carries.
type topicWriter struct {
	writer    *kafka.Writer
	topic     string
	eventType string
}

// Publisher publishes partial and final captions to separate Kafka topics.
type Publisher struct {
	partial   topicWriter
	final     topicWriter
	principal string
	enabled   bool
	metrics   *metrics.Metrics
	log       zerolog.Logger
}

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers      []string
	TopicPartial string
	TopicFinal   string
	Principal    string
	Enabled      bool
}

// New creates a caption publisher. A nil or disabled config, or one without
// brokers, yields a log-only publisher that accepts captions and drops them.
func New(cfg *Config) *Publisher {
	p := &Publisher{
		metrics: metrics.DefaultMetrics,
		log:     logging.WithComponent("events"),
	}
	if cfg != nil {
		p.principal = cfg.Principal
		p.partial = topicWriter{topic: cfg.TopicPartial, eventType: models.EventTypeCaptionPartial}
		p.final = topicWriter{topic: cfg.TopicFinal, eventType: models.EventTypeCaptionFinal}
	}

	if cfg == nil || !cfg.Enabled || len(cfg.Brokers) == 0 {
		p.log.Info().Msg("Kafka disabled, captions will be logged only")
		return p
	}

	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	transport := &kafka.Transport{
		Dial: dialer.DialFunc,
	}
	p.partial.writer = newCaptionWriter(cfg.Brokers, cfg.TopicPartial, transport)
	p.final.writer = newCaptionWriter(cfg.Brokers, cfg.TopicFinal, transport)
	p.enabled = true

	p.log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topicPartial", cfg.TopicPartial).
		Str("topicFinal", cfg.TopicFinal).
		Str("principal", cfg.Principal).
		Msg("Kafka caption publisher initialized")
	return p
}

func newCaptionWriter(brokers []string, topic string, transport *kafka.Transport) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Transport:    transport,
	}
}

// PublishPartial publishes an in-flight caption, keyed by session so all
// captions of one session land on one partition.
func (p *Publisher) PublishPartial(ctx context.Context, sessionID string, caption models.CaptionPartial) error {
	caption.EventType = models.EventTypeCaptionPartial
	return p.publish(ctx, p.partial, sessionID, caption)
}

// PublishFinal publishes a committed caption, keyed by session.
func (p *Publisher) PublishFinal(ctx context.Context, sessionID string, caption models.CaptionFinal) error {
	caption.EventType = models.EventTypeCaptionFinal
	return p.publish(ctx, p.final, sessionID, caption)
}

func (p *Publisher) publish(ctx context.Context, tw topicWriter, key string, caption any) error {
	start := time.Now()

	payload, err := json.Marshal(caption)
	if err != nil {
		p.log.Error().Err(err).Str("topic", tw.topic).Msg("Failed to marshal caption")
		return err
	}

	p.log.Debug().
		Str("eventType", tw.eventType).
		Str("sessionId", key).
		RawJSON("caption", payload).
		Msg("Publishing caption")

	if !p.enabled || tw.writer == nil {
		p.metrics.RecordKafkaPublish(tw.topic, tw.eventType, nil, time.Since(start).Seconds())
		return nil
	}

	err = tw.writer.WriteMessages(ctx, p.message(tw, key, payload))
	if err != nil {
		p.log.Error().
			Err(err).
			Str("topic", tw.topic).
			Str("sessionId", key).
			Msg("Failed to write caption to Kafka")
	}
	p.metrics.RecordKafkaPublish(tw.topic, tw.eventType, err, time.Since(start).Seconds())
	return err
}

// message builds the Kafka message for one caption. The eventType header
// carries the caption event type so consumers can route without decoding the
// payload.
func (p *Publisher) message(tw topicWriter, key string, payload []byte) kafka.Message {
	return kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(tw.eventType)},
			{Key: "principal", Value: []byte(p.principal)},
		},
	}
}

// Close closes both Kafka writers.
func (p *Publisher) Close() error {
	var err error
	for _, tw := range []topicWriter{p.partial, p.final} {
		if tw.writer == nil {
			continue
		}
		if e := tw.writer.Close(); e != nil {
			p.log.Error().Err(e).Str("topic", tw.topic).Msg("Error closing caption writer")
			err = e
		}
	}
	return err
}
