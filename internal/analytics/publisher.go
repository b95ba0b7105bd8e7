package analytics

import (
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/serroba/campaign-attribution/internal/messaging"
)

// NewAccessLogPublisher returns a publish function for gateway visits.
func NewAccessLogPublisher(publisher message.Publisher) messaging.Publish[AccessLoggedEvent] {
	return messaging.NewPublishFunc[AccessLoggedEvent](publisher, TopicAccessLogged)
}
