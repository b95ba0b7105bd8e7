package analytics

import (
	"context"

	"github.com/serroba/campaign-attribution/internal/campaign"
	"github.com/serroba/campaign-attribution/internal/recorder"
)

// VisitRecorder persists visits delivered by the bus.
type VisitRecorder interface {
	RecordVisit(ctx context.Context, in recorder.VisitInput) (*campaign.AccessLogEntry, error)
}
