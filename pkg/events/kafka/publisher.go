package kafka

import (
	"context"
	"encoding/json"
	"strings"

	"veilpool/pkg/config"
	"veilpool/pkg/events"

	"github.com/segmentio/kafka-go"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("events:kafka",
	fx.Provide(ProvidePublisher),
)

type Publisher struct {
	writer *kafka.Writer
}

func NewPublisher(brokers []string, topic string) *Publisher {
	return &Publisher{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.LeastBytes{},
		},
	}
}

// ProvidePublisher returns nil when kafka is not configured; event
// publishing is best-effort and optional.
func ProvidePublisher(lc fx.Lifecycle, cfg *config.Config) events.Publisher {
	if cfg.Kafka.Addrs == "" {
		zap.L().Info("[Kafka] no brokers configured, event publishing disabled")
		return nil
	}

	topic := cfg.Kafka.Topic
	if topic == "" {
		topic = "proof_transactions"
	}

	p := NewPublisher(strings.Split(cfg.Kafka.Addrs, ","), topic)

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return p.writer.Close()
		},
	})

	return p
}

func (p *Publisher) Publish(ctx context.Context, event events.TransactionEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.ProofID),
		Value: data,
	})
}
