package analytics

import (
	"context"
	"errors"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/serroba/campaign-attribution/internal/campaign"
	"github.com/serroba/campaign-attribution/internal/messaging"
	"go.uber.org/zap"
)

// NewAccessLogHandler appends each delivered visit to the access log.
// Visits for unknown or foreign targets are dropped instead of redelivered.
func NewAccessLogHandler(rec VisitRecorder, logger *zap.Logger) messaging.Handler[AccessLoggedEvent] {
	return func(ctx context.Context, event *AccessLoggedEvent) error {
		entry, err := rec.RecordVisit(ctx, event.visitInput())
		if err != nil {
			if errors.Is(err, campaign.ErrValidation) ||
				errors.Is(err, campaign.ErrNotFound) ||
				errors.Is(err, campaign.ErrPermission) {
				return fmt.Errorf("%w: visit %s: %w", messaging.ErrPermanent, event.ID, err)
			}

			return fmt.Errorf("visit %s: %w", event.ID, err)
		}

		logger.Debug("visit recorded",
			zap.String("id", entry.ID),
			zap.String("target_id", entry.TargetID),
			zap.String("short_code", event.ShortCode),
		)

		return nil
	}
}

// NewAccessLogConsumer subscribes the access log handler to the visit topic.
func NewAccessLogConsumer(
	subscriber message.Subscriber,
	rec VisitRecorder,
	logger *zap.Logger,
) *messaging.Consumer[AccessLoggedEvent] {
	return messaging.NewConsumer(subscriber, TopicAccessLogged, NewAccessLogHandler(rec, logger), logger)
}
