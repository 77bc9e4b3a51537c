package idempotency

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/danribes/mystic-ecom-sub013/types"
	"github.com/danribes/mystic-ecom-sub013/utils"
)

// keyspacePrefix separates idempotency records from the other governance
// records sharing the store.
const keyspacePrefix = "idem"

const (
	defaultRetention  = 24 * time.Hour
	defaultReserveTTL = 5 * time.Minute
)

// Tracker ensures an externally-sourced event triggers its side effects at
// most once per retention window. It deliberately fails CLOSED: when the
// store cannot be consulted every operation returns the error, so the sender
// retries the delivery later instead of this service risking duplicate
// processing of a payment or a grant of paid content.
//
// Callers follow check -> process -> mark. A crash between process and mark
// yields at-least-once reprocessing on redelivery; Reserve/Complete shrinks
// that window for the most sensitive flows but cannot eliminate it.
type Tracker struct {
	logger     types.Logger
	metrics    types.MetricsManager
	store      types.StateStore
	retention  time.Duration
	reserveTTL time.Duration
}

func NewTracker(logger types.Logger, config *types.IdempotencyConfig, st types.StateStore, metrics types.MetricsManager) (types.IdempotencyTracker, error) {
	if config == nil {
		return nil, types.ErrConfigIsNil
	}

	retention := config.Retention.Std()
	if retention <= 0 {
		retention = defaultRetention
	}
	reserveTTL := config.ReserveTTL.Std()
	if reserveTTL <= 0 {
		reserveTTL = defaultReserveTTL
	}

	return &Tracker{
		logger:     logger,
		metrics:    metrics,
		store:      st,
		retention:  retention,
		reserveTTL: reserveTTL,
	}, nil
}

func (t *Tracker) IsProcessed(ctx context.Context, eventID string) (bool, error) {
	if eventID == "" {
		return false, types.ErrEventIDEmpty
	}

	data, _, err := t.store.GetWithTTL(ctx, recordKey(eventID))
	if err != nil {
		if types.IsError(err, types.ErrKeyNotFound) {
			t.count("new")
			return false, nil
		}

		t.count("store_failure")
		t.logger.Error("Idempotency check failed, refusing to guess",
			zap.String("event_id", eventID), zap.Error(err))
		return false, types.WrapError(err, "idempotency check failed")
	}

	var event types.ProcessedEvent
	if err := utils.Unmarshal(data, &event); err != nil {
		// A record we cannot read still proves the event was seen; skipping
		// is the safe direction.
		t.logger.Error("Malformed idempotency record",
			zap.String("event_id", eventID), zap.Error(err))
		t.count("duplicate")
		return true, nil
	}

	t.count("duplicate")
	t.logger.Debug("Duplicate event detected",
		zap.String("event_id", eventID), zap.String("status", string(event.Status)))

	return true, nil
}

func (t *Tracker) MarkProcessed(ctx context.Context, eventID string) error {
	if eventID == "" {
		return types.ErrEventIDEmpty
	}

	data, err := utils.Marshal(types.ProcessedEvent{
		EventID:     eventID,
		Status:      types.EventDone,
		ProcessedAt: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return types.WrapError(err, "failed to marshal processed event")
	}

	if err := t.store.SetWithTTL(ctx, recordKey(eventID), data, t.retention); err != nil {
		t.count("store_failure")
		t.logger.Error("Failed to mark event processed",
			zap.String("event_id", eventID), zap.Error(err))
		return types.WrapError(err, "failed to mark event processed")
	}

	return nil
}

// Reserve atomically claims eventID before side effects run. A false result
// means the event is already done or another worker is mid-flight; either
// way the caller skips processing and acknowledges the delivery.
func (t *Tracker) Reserve(ctx context.Context, eventID string) (bool, string, error) {
	if eventID == "" {
		return false, "", types.ErrEventIDEmpty
	}

	token := uuid.NewString()
	data, err := utils.Marshal(types.ProcessedEvent{
		EventID:     eventID,
		Status:      types.EventInProgress,
		ProcessedAt: time.Now().UTC().Format(time.RFC3339),
		Token:       token,
	})
	if err != nil {
		return false, "", types.WrapError(err, "failed to marshal reservation")
	}

	// The reservation TTL bounds how long a crashed holder can block
	// redelivery: once it lapses the sender's retry goes through.
	acquired, err := t.store.SetIfAbsent(ctx, recordKey(eventID), data, t.reserveTTL)
	if err != nil {
		t.count("store_failure")
		return false, "", types.WrapError(err, "failed to reserve event")
	}

	if !acquired {
		t.count("contended")
		return false, "", nil
	}

	t.count("reserved")
	return true, token, nil
}

func (t *Tracker) Complete(ctx context.Context, eventID, token string) error {
	if eventID == "" {
		return types.ErrEventIDEmpty
	}

	event, err := t.load(ctx, eventID)
	if err != nil && !types.IsError(err, types.ErrKeyNotFound) {
		return err
	}

	// A lapsed reservation still gets its done record; processing finished.
	if event != nil && event.Status == types.EventInProgress && event.Token != token {
		return types.ErrReserveNotOwned
	}

	return t.MarkProcessed(ctx, eventID)
}

// Release abandons a reservation so the sender's redelivery can retry
// immediately instead of waiting out the reservation TTL.
func (t *Tracker) Release(ctx context.Context, eventID, token string) error {
	if eventID == "" {
		return types.ErrEventIDEmpty
	}

	event, err := t.load(ctx, eventID)
	if err != nil {
		if types.IsError(err, types.ErrKeyNotFound) {
			return nil
		}
		return err
	}

	if event.Status != types.EventInProgress {
		return nil
	}
	if event.Token != token {
		return types.ErrReserveNotOwned
	}

	if _, err := t.store.Delete(ctx, recordKey(eventID)); err != nil {
		return types.WrapError(err, "failed to release reservation")
	}

	return nil
}

func (t *Tracker) load(ctx context.Context, eventID string) (*types.ProcessedEvent, error) {
	data, _, err := t.store.GetWithTTL(ctx, recordKey(eventID))
	if err != nil {
		if types.IsError(err, types.ErrKeyNotFound) {
			return nil, err
		}
		t.count("store_failure")
		return nil, types.WrapError(err, "failed to load idempotency record")
	}

	var event types.ProcessedEvent
	if err := utils.Unmarshal(data, &event); err != nil {
		return nil, types.WrapError(err, "malformed idempotency record")
	}

	return &event, nil
}

func (t *Tracker) count(result string) {
	counter := t.metrics.Counter("idempotency_events_total", map[string]string{
		"result": result,
	})
	counter.Inc()
}

func recordKey(eventID string) string {
	return keyspacePrefix + ":" + eventID
}
