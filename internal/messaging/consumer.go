package messaging

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/serroba/campaign-attribution/internal/metrics"
	"go.uber.org/zap"
)

// ErrPermanent marks handler failures that redelivery cannot fix. Such messages are acked and dropped.
var ErrPermanent = errors.New("permanent failure")

// Handler processes a single event.
type Handler[T any] func(ctx context.Context, event *T) error

// Consumer subscribes to a topic and processes messages with a typed handler.
type Consumer[T any] struct {
	subscriber message.Subscriber
	topic      string
	handler    Handler[T]
	logger     *zap.Logger
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewConsumer creates a consumer for one topic.
func NewConsumer[T any](
	subscriber message.Subscriber,
	topic string,
	handler Handler[T],
	logger *zap.Logger,
) *Consumer[T] {
	return &Consumer[T]{
		subscriber: subscriber,
		topic:      topic,
		handler:    handler,
		logger:     logger.With(zap.String("topic", topic)),
		done:       make(chan struct{}),
	}
}

// Topic returns the topic this consumer subscribes to.
func (c *Consumer[T]) Topic() string {
	return c.topic
}

// Start subscribes and processes messages in the background until Shutdown.
func (c *Consumer[T]) Start(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)

	msgs, err := c.subscriber.Subscribe(ctx, c.topic)
	if err != nil {
		c.cancel()
		close(c.done)

		return err
	}

	go c.consumeLoop(ctx, msgs)

	return nil
}

func (c *Consumer[T]) consumeLoop(ctx context.Context, msgs <-chan *message.Message) {
	defer close(c.done)

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}

			c.handleMessage(ctx, msg)
		}
	}
}

func (c *Consumer[T]) handleMessage(ctx context.Context, msg *message.Message) {
	var event T
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		c.logger.Error("dropping undecodable event", zap.String("message_id", msg.UUID), zap.Error(err))
		c.settle(msg, "drop")

		return
	}

	err := c.handler(ctx, &event)

	switch {
	case err == nil:
		c.settle(msg, "ack")
		c.logger.Debug("processed event", zap.String("message_id", msg.UUID))
	case errors.Is(err, ErrPermanent):
		c.logger.Warn("dropping event", zap.String("message_id", msg.UUID), zap.Error(err))
		c.settle(msg, "drop")
	default:
		c.logger.Error("failed to handle event", zap.String("message_id", msg.UUID), zap.Error(err))
		c.settle(msg, "nack")
	}
}

func (c *Consumer[T]) settle(msg *message.Message, outcome string) {
	metrics.ConsumedEvents.WithLabelValues(c.topic, outcome).Inc()

	if outcome == "nack" {
		msg.Nack()

		return
	}

	msg.Ack()
}

// Shutdown stops the consumer and waits for the in-flight message to complete.
func (c *Consumer[T]) Shutdown() error {
	if c.cancel != nil {
		c.cancel()
	}

	<-c.done

	return nil
}
