package types

import "context"

type EventStatus string

const (
	EventInProgress EventStatus = "in_progress"
	EventDone       EventStatus = "done"
)

type ProcessedEvent struct {
	EventID     string      `json:"event_id"`
	Status      EventStatus `json:"status"`
	ProcessedAt string      `json:"processed_at"`
	Token       string      `json:"token,omitempty"`
}

// IdempotencyTracker guarantees an external event is acted upon at most once
// per retention window. Unlike the limiter and the cache it fails closed: any
// store failure propagates so the sender can retry the delivery later.
type IdempotencyTracker interface {
	IsProcessed(ctx context.Context, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, eventID string) error

	// Reserve atomically claims eventID for processing. acquired=false means
	// another worker holds it or it is already done. The returned token is
	// required by Complete and Release.
	Reserve(ctx context.Context, eventID string) (acquired bool, token string, err error)
	Complete(ctx context.Context, eventID, token string) error
	Release(ctx context.Context, eventID, token string) error
}
