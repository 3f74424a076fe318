package kafka

import (
	"context"

	"facecraft/internal/broker"
	"facecraft/internal/config"

	kafka "github.com/segmentio/kafka-go"
	wbkafka "github.com/wb-go/wbf/kafka"
	"github.com/wb-go/wbf/retry"
)

type ConsumerClient struct {
	consumer *wbkafka.Consumer
}

func NewConsumerClient(cfg *config.Config) *ConsumerClient {
	return &ConsumerClient{
		consumer: wbkafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.ProcessingTopic, cfg.Kafka.GroupID),
	}
}

// Start consumes in the background until ctx ends, forwarding every message
// to out. out is closed once the reader gives up.
func (c *ConsumerClient) Start(ctx context.Context, out chan<- *broker.Message, strategy retry.Strategy) {
	raw := make(chan kafka.Message, cap(out))
	go c.consumer.StartConsuming(ctx, raw, strategy)
	go forward(ctx, raw, out)
}

func forward(ctx context.Context, raw <-chan kafka.Message, out chan<- *broker.Message) {
	defer close(out)
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-raw:
			if !ok {
				return
			}
			select {
			case out <- fromKafka(m):
			case <-ctx.Done():
				return
			}
		}
	}
}

func (c *ConsumerClient) Commit(ctx context.Context, msg *broker.Message) error {
	return c.consumer.Commit(ctx, kafka.Message{
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Key:       msg.Key,
		Value:     msg.Value,
	})
}

func (c *ConsumerClient) Close() error {
	return c.consumer.Close()
}

func fromKafka(m kafka.Message) *broker.Message {
	return &broker.Message{
		Topic:     m.Topic,
		Partition: m.Partition,
		Offset:    m.Offset,
		Key:       m.Key,
		Value:     m.Value,
	}
}
