package messaging

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.uber.org/zap"
)

// Runnable is a consumer the group starts and stops.
type Runnable interface {
	Topic() string
	Start(ctx context.Context) error
	Shutdown() error
}

// ConsumerGroup runs the consumers of one subscriber. Consumers stop in reverse start order and
// the subscriber is closed last.
type ConsumerGroup struct {
	subscriber message.Subscriber
	logger     *zap.Logger
	consumers  []Runnable
	running    []Runnable
}

// NewConsumerGroup creates a consumer group over subscriber.
func NewConsumerGroup(subscriber message.Subscriber, logger *zap.Logger) *ConsumerGroup {
	return &ConsumerGroup{subscriber: subscriber, logger: logger}
}

// Add registers a consumer. It must be called before Start.
func (g *ConsumerGroup) Add(consumer Runnable) {
	g.consumers = append(g.consumers, consumer)
}

// Topics lists the topics of the registered consumers.
func (g *ConsumerGroup) Topics() []string {
	topics := make([]string, 0, len(g.consumers))
	for _, c := range g.consumers {
		topics = append(topics, c.Topic())
	}

	return topics
}

// Start starts every consumer. If one fails, the ones already running are stopped.
func (g *ConsumerGroup) Start(ctx context.Context) error {
	for _, consumer := range g.consumers {
		if err := consumer.Start(ctx); err != nil {
			stopErr := g.stopRunning()

			return errors.Join(fmt.Errorf("start consumer for %s: %w", consumer.Topic(), err), stopErr)
		}

		g.running = append(g.running, consumer)
	}

	g.logger.Info("consumer group started", zap.Strings("topics", g.Topics()))

	return nil
}

func (g *ConsumerGroup) stopRunning() error {
	var errs []error

	for _, consumer := range slices.Backward(g.running) {
		if err := consumer.Shutdown(); err != nil {
			errs = append(errs, fmt.Errorf("stop consumer for %s: %w", consumer.Topic(), err))
		}
	}

	g.running = nil

	return errors.Join(errs...)
}

// Shutdown stops the running consumers and closes the subscriber. Every consumer is asked to
// stop even when an earlier one fails; all errors are returned joined.
func (g *ConsumerGroup) Shutdown() error {
	g.logger.Info("shutting down consumer group")

	err := g.stopRunning()

	if closeErr := g.subscriber.Close(); closeErr != nil {
		err = errors.Join(err, fmt.Errorf("close subscriber: %w", closeErr))
	}

	return err
}
