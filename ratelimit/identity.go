package ratelimit

import (
	"github.com/danribes/mystic-ecom-sub013/types"
)

// Client carries the identity facts the transport layer extracted for one
// request. Either field may be empty.
type Client struct {
	IP     string
	UserID string
}

// Identify resolves the record identifier for a client under a profile.
// UserID-strategy profiles fall back to the IP for anonymous traffic; a
// client with neither is bucketed under "unknown" rather than waved through.
func Identify(profile types.RateLimitProfile, client Client) string {
	switch profile.Strategy {
	case types.IdentifyByUserID:
		if client.UserID != "" {
			return "user:" + client.UserID
		}
		return normalizeIdentifier(client.IP)
	default:
		return normalizeIdentifier(client.IP)
	}
}
