package repository

import (
	"context"
	"time"

	pkgkafka "copperwatch/pkg/kafka"
	applogger "copperwatch/pkg/logger"
)

// RebuildEvent is the message emitted after a snapshot has been persisted.
// Consumers key rebuild notifications on the snapshot date.
type RebuildEvent struct {
	Date           string `json:"date"`
	IndicatorCount int    `json:"indicatorCount"`
	EmittedAt      string `json:"emittedAt"`
}

// KafkaPublisher emits rebuild events to a single topic.
type KafkaPublisher struct {
	producer *pkgkafka.Producer
	topic    string
	l        *applogger.Logger
}

func NewKafkaPublisher(producer *pkgkafka.Producer, topic string) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: topic}
}

// SetLogger injects a structured logger.
func (p *KafkaPublisher) SetLogger(l *applogger.Logger) { p.l = l }

func (p *KafkaPublisher) PublishRebuilt(ctx context.Context, date string, indicatorCount int) error {
	event := RebuildEvent{
		Date:           date,
		IndicatorCount: indicatorCount,
		EmittedAt:      time.Now().UTC().Format(time.RFC3339),
	}
	if err := p.producer.Publish(ctx, p.topic, []byte(date), event); err != nil {
		if p.l != nil {
			p.l.Error("rebuild event publish error",
				applogger.String("topic", p.topic),
				applogger.String("date", date),
				applogger.Error(err),
			)
		}
		return err
	}
	if p.l != nil {
		p.l.Info("rebuild event published",
			applogger.String("topic", p.topic),
			applogger.String("date", date),
			applogger.Int("indicators", indicatorCount),
		)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}
