package device

import (
	"context"

	"git.home.luguber.info/inful/taptrack/internal/record"
)

// TapEvent is one stabilized card read, or a read failure.
type TapEvent struct {
	UID string
	Err error
}

// CardEventSource yields stabilized taps. Debounce is the source's duty;
// the engine only ever sees a tap that held steady for the configured window.
type CardEventSource interface {
	Taps() <-chan TapEvent
}

// ClockSource yields the current wall-clock reading. The engine performs its
// own plausibility validation; the source just reports what the clock says.
type ClockSource interface {
	Read() (record.ClockReading, error)
}

// Connectivity reports and manages the network link.
type Connectivity interface {
	CheckConnectivity(ctx context.Context) bool
	Reconnect() error
}

// Outcome is a terminal per-tap result delivered to the feedback sink.
type Outcome string

const (
	OutcomeSyncing        Outcome = "syncing"
	OutcomeConfirmed      Outcome = "confirmed"
	OutcomeQueued         Outcome = "queued"
	OutcomeSuccessOffline Outcome = "success_offline"
	OutcomeDuplicate      Outcome = "duplicate"
	OutcomeUnregistered   Outcome = "error_unregistered"
	OutcomeQueueFull      Outcome = "error_queue_full"
	OutcomeInvalidClock   Outcome = "error_rtc_invalid"
	OutcomeReadError      Outcome = "error_read"
	OutcomeBusy           Outcome = "busy"
)

// FeedbackSink receives one Outcome per terminal tap result. Implementations
// map outcomes to LEDs, buzzers, log lines; the engine does not care.
type FeedbackSink interface {
	Notify(Outcome)
}

// NopFeedback discards all outcomes.
type NopFeedback struct{}

func (NopFeedback) Notify(Outcome) {}
