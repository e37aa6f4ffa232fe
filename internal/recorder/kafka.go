package recorder

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/fleetingbytes/cryptoworth/internal/model"
)

// produceTimeout bounds one synchronous produce.
const produceTimeout = 5 * time.Second

// KafkaSink publishes each frame to the topic "<prefix>.<channel>", keyed by
// symbol so frames of one market stay on one partition and in order.
type KafkaSink struct {
	client   *kgo.Client
	prefix   string
	logger   *slog.Logger
	produced atomic.Int64
	failed   atomic.Int64
}

// NewKafkaSink connects a producer to brokers.
func NewKafkaSink(brokers []string, topicPrefix string, logger *slog.Logger) (*KafkaSink, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	)
	if err != nil {
		return nil, fmt.Errorf("recorder: create kafka client: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &KafkaSink{
		client: client,
		prefix: topicPrefix,
		logger: logger.With(slog.String("component", "kafka_sink")),
	}
	s.logger.Info("producer initialized", slog.Any("brokers", brokers))
	return s, nil
}

// Topic returns the topic frames of channel are published to.
func Topic(prefix, channel string) string {
	if channel == "" {
		channel = "other"
	}
	if prefix == "" {
		return channel
	}
	return prefix + "." + channel
}

// Record produces msg synchronously. The record value is the raw frame.
func (s *KafkaSink) Record(ctx context.Context, msg model.RawMessage) error {
	rec := &kgo.Record{
		Topic:     Topic(s.prefix, msg.Channel),
		Key:       []byte(msg.Symbol),
		Value:     msg.Payload,
		Timestamp: msg.ReceivedAt,
		Headers: []kgo.RecordHeader{
			{Key: "event", Value: []byte(msg.Event)},
			{Key: "seqnum", Value: []byte(msg.Sequence)},
		},
	}

	ctx, cancel := context.WithTimeout(ctx, produceTimeout)
	defer cancel()

	if err := s.client.ProduceSync(ctx, rec).FirstErr(); err != nil {
		s.failed.Add(1)
		return fmt.Errorf("recorder: produce to %s: %w", rec.Topic, err)
	}
	s.produced.Add(1)
	return nil
}

// Close flushes pending records and closes the client.
func (s *KafkaSink) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), produceTimeout)
	defer cancel()
	err := s.client.Flush(ctx)
	s.client.Close()
	s.logger.Info("producer closed",
		slog.Int64("produced", s.produced.Load()),
		slog.Int64("failed", s.failed.Load()),
	)
	return err
}
