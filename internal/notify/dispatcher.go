package notify

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/rdk-i/Rflix-User-Center-sub000/internal/models"
)

// Dispatcher delivers a notification over a channel. Channel fan-out and
// template rendering live behind this interface.
type Dispatcher interface {
	Deliver(ctx context.Context, channel, recipient string, kind models.NotificationKind, payload string) error
}

// LogDispatcher writes deliveries to the structured log. Used in
// development and as a safe default when no real dispatcher is configured.
type LogDispatcher struct{}

// Deliver logs the notification and reports success.
func (LogDispatcher) Deliver(_ context.Context, channel, recipient string, kind models.NotificationKind, payload string) error {
	log.Info().
		Str("channel", channel).
		Str("recipient", recipient).
		Str("kind", string(kind)).
		Str("payload", payload).
		Msg("Notification delivered (log dispatcher)")
	return nil
}
