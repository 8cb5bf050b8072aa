package claims

import (
	"log/slog"
	"time"
)

// EventType names an engine-emitted notification.
type EventType string

const (
	EventApproved       EventType = "claim.approved"
	EventRejected       EventType = "claim.rejected"
	EventAutoRejected   EventType = "claim.auto_rejected"
	EventForwarded      EventType = "claim.forwarded"
	EventAmountAdjusted EventType = "claim.amount_adjusted"
	EventLockReleased   EventType = "claim.lock_released"
)

// Event is the payload handed to the external notification sink after
// a successful state change. Delivery mechanics are the sink's
// business.
type Event struct {
	Type    EventType `json:"type"`
	ClaimID string    `json:"claimId"`
	Summary string    `json:"summary"`
	At      time.Time `json:"at"`
}

// Notifier receives engine events. Implementations must not block the
// calling transition for long; the engine calls Notify synchronously
// after the state change is durable.
type Notifier interface {
	Notify(e Event)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(e Event)

func (f NotifierFunc) Notify(e Event) { f(e) }

// NopNotifier discards events.
type NopNotifier struct{}

func (NopNotifier) Notify(Event) {}

// LogNotifier writes events to a structured logger.
type LogNotifier struct {
	Log *slog.Logger
}

func (n LogNotifier) Notify(e Event) {
	n.Log.Info("claim event",
		"type", string(e.Type),
		"claimId", e.ClaimID,
		"summary", e.Summary,
	)
}
