package container

import (
	"fmt"

	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/samber/do"
	"github.com/serroba/campaign-attribution/internal/analytics"
	"github.com/serroba/campaign-attribution/internal/messaging"
	"github.com/serroba/campaign-attribution/internal/recorder"
	"go.uber.org/zap"
)

// AccessLogConsumerGroup is the Redis Streams consumer group that records visits.
const AccessLogConsumerGroup = "access-log-recorder"

// MemoryBusPackage provides the in-process bus used when Bus is "memory".
// Publisher and subscriber share it, so the consumer group must run in the same process.
func MemoryBusPackage(i *do.Injector) {
	do.Provide(i, func(i *do.Injector) (*gochannel.GoChannel, error) {
		logger := do.MustInvoke[*zap.Logger](i)

		return gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 256}, messaging.NewZapLogger(logger)), nil
	})
}

// PublisherGroupPackage provides the publisher group and the typed access log publish function.
func PublisherGroupPackage(i *do.Injector) {
	do.Provide(i, func(i *do.Injector) (*messaging.PublisherGroup, error) {
		opts := do.MustInvoke[*Options](i)
		logger := do.MustInvoke[*zap.Logger](i)

		if opts.Bus == BusMemory {
			return messaging.NewPublisherGroup(do.MustInvoke[*gochannel.GoChannel](i)), nil
		}

		client := do.MustInvoke[*RedisClient](i)

		publisher, err := redisstream.NewPublisher(redisstream.PublisherConfig{
			Client:     client.Client,
			Marshaller: redisstream.DefaultMarshallerUnmarshaller{},
		}, messaging.NewZapLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("redis stream publisher: %w", err)
		}

		return messaging.NewPublisherGroup(publisher), nil
	})

	do.Provide(i, func(i *do.Injector) (messaging.Publish[analytics.AccessLoggedEvent], error) {
		group := do.MustInvoke[*messaging.PublisherGroup](i)

		return analytics.NewAccessLogPublisher(group.Publisher()), nil
	})
}

// ConsumerGroupPackage provides the consumer group recording gateway visits.
func ConsumerGroupPackage(i *do.Injector) {
	do.Provide(i, func(i *do.Injector) (*messaging.ConsumerGroup, error) {
		opts := do.MustInvoke[*Options](i)
		logger := do.MustInvoke[*zap.Logger](i)
		rec := do.MustInvoke[*recorder.Recorder](i)

		var subscriber message.Subscriber

		if opts.Bus == BusMemory {
			subscriber = do.MustInvoke[*gochannel.GoChannel](i)
		} else {
			client := do.MustInvoke[*RedisClient](i)

			sub, err := redisstream.NewSubscriber(redisstream.SubscriberConfig{
				Client:        client.Client,
				Unmarshaller:  redisstream.DefaultMarshallerUnmarshaller{},
				ConsumerGroup: AccessLogConsumerGroup,
			}, messaging.NewZapLogger(logger))
			if err != nil {
				return nil, fmt.Errorf("redis stream subscriber: %w", err)
			}

			subscriber = sub
		}

		group := messaging.NewConsumerGroup(subscriber, logger)
		group.Add(analytics.NewAccessLogConsumer(subscriber, rec, logger))

		return group, nil
	})
}
