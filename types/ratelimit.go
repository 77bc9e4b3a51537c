package types

import (
	"context"
	"time"
)

type IdentifierStrategy string

const (
	IdentifyByIP     IdentifierStrategy = "ip"
	IdentifyByUserID IdentifierStrategy = "user_id"
)

// RateLimitProfile is an immutable, named admission policy. The full set of
// profiles is built once at startup; there is no per-call configuration.
type RateLimitProfile struct {
	Name        string             `yaml:"name" json:"name" validate:"required"`
	KeyPrefix   string             `yaml:"key_prefix" json:"key_prefix" validate:"required"`
	MaxRequests int                `yaml:"max_requests" json:"max_requests" validate:"min=1"`
	Window      Duration           `yaml:"window" json:"window" validate:"min=0"`
	Strategy    IdentifierStrategy `yaml:"strategy" json:"strategy" validate:"omitempty,oneof=ip user_id"`
	FailClosed  bool               `yaml:"fail_closed" json:"fail_closed"`
}

// RateLimitVerdict is the outcome of a single admission check.
type RateLimitVerdict struct {
	Allowed    bool          `json:"allowed"`
	Limit      int           `json:"limit"`
	Remaining  int           `json:"remaining"`
	ResetAt    time.Time     `json:"reset_at"`
	RetryAfter time.Duration `json:"retry_after"`
}

type RateLimiter interface {
	LifecycleManager
	// Check consumes a slot for identifier under the named profile, or
	// rejects. Store outages fail open unless the profile says otherwise.
	Check(ctx context.Context, profileName, identifier string) (RateLimitVerdict, error)
	// Status runs the same window arithmetic without consuming a slot.
	Status(ctx context.Context, profileName, identifier string) (RateLimitVerdict, error)
	// Reset clears all markers for identifier under the named profile.
	Reset(ctx context.Context, profileName, identifier string) error
	Profile(name string) (RateLimitProfile, bool)
	Profiles() []RateLimitProfile
}
