package broadcast

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/shamsear/ssleague-api/internal/apperrors"
)

// Event is the payload handed to the notification channel when a round
// changes state.
type Event struct {
	Type     string                 `json:"type"`
	RoundID  string                 `json:"round_id"`
	SeasonID string                 `json:"season_id"`
	Payload  map[string]interface{} `json:"payload,omitempty"`
}

// Event types
const (
	EventRoundCompleted    = "round.completed"
	EventRoundStaged       = "round.staged"
	EventTiebreakerOpened  = "tiebreaker.opened"
	EventTiebreakerClosed  = "tiebreaker.closed"
)

// Notifier is the fire-and-forget delivery channel. Failures are logged,
// never propagated as finalization failures.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// LogNotifier writes events to the structured log. Stands in for the push /
// WebSocket delivery the surrounding system provides.
type LogNotifier struct{}

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Notify(_ context.Context, event Event) error {
	log.Info().
		Str("event_type", event.Type).
		Str("round_id", event.RoundID).
		Str("season_id", event.SeasonID).
		Msg("broadcast event")
	return nil
}

// Publish delivers an event in the background with a bounded timeout. A
// delivery failure after a successful allocation is a soft warning only.
func Publish(notifier Notifier, event Event) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := notifier.Notify(ctx, event); err != nil {
			downstream := &apperrors.DownstreamError{Channel: "broadcast", Err: err}
			log.Warn().Err(downstream).
				Str("event_type", event.Type).
				Str("round_id", event.RoundID).
				Msg("broadcast delivery failed")
		}
	}()
}
