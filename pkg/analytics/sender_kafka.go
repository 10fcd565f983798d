package analytics

import (
	"context"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/insightflo/perfmon/pkg/types"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSender publishes each batch as one message on a topic
type KafkaSender struct {
	writer    messageWriter
	dsn       string
	projectID string
}

// NewKafkaSender creates a sender writing to cfg.KafkaTopic
func NewKafkaSender(cfg types.TransportConfig) *KafkaSender {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.KafkaBrokers...),
		Topic:                  cfg.KafkaTopic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           10 * time.Millisecond,
		WriteTimeout:           cfg.SendTimeout,
		RequiredAcks:           kafka.RequireOne,
		Compression:            kafka.Zstd,
		AllowAutoTopicCreation: false,

		// Retries happen in the transport
		MaxAttempts: 1,

		Transport: &kafka.Transport{
			DialTimeout: 10 * time.Second,
			IdleTimeout: 30 * time.Second,
			MetadataTTL: 60 * time.Second,
			ClientID:    "perfmon",
		},
	}
	return newKafkaSender(writer, cfg)
}

func newKafkaSender(writer messageWriter, cfg types.TransportConfig) *KafkaSender {
	return &KafkaSender{writer: writer, dsn: cfg.DSN, projectID: cfg.ProjectID}
}

func (s *KafkaSender) Send(ctx context.Context, batch []types.AnalyticsEvent) error {
	value, err := encodeBatch(batch, s.dsn, s.projectID)
	if err != nil {
		return err
	}

	var key []byte
	if len(batch) > 0 {
		key = []byte(batch[0].SessionID)
	}

	return s.writer.WriteMessages(ctx, kafka.Message{
		Key:   key,
		Value: value,
		Headers: []kafka.Header{
			{Key: "content-type", Value: []byte("application/json")},
			{Key: "event_count", Value: []byte(strconv.Itoa(len(batch)))},
		},
	})
}

// Close flushes and closes the writer
func (s *KafkaSender) Close() error {
	return s.writer.Close()
}
