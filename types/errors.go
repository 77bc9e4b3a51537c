package types

import (
	"errors"
	"fmt"
)

var (
	ErrConfigNotFound       = errors.New("config not found")
	ErrConfigParseFailed    = errors.New("config parse failed")
	ErrConfigIsNil          = errors.New("config is nil")
	ErrConfigValidateFailed = errors.New("config validate failed")
	ErrLoggerConfigInvalid  = errors.New("logger config invalid")
	ErrLoggerTypeUnknown    = errors.New("logger type unknown")
)

var (
	ErrStoreUnavailable = errors.New("state store unavailable")
	ErrStoreTimeout     = errors.New("state store timeout")
	ErrStoreTypeUnknown = errors.New("state store type unknown")
	ErrKeyNotFound      = errors.New("key not found")
	ErrKeyEmpty         = errors.New("key empty")
)

var (
	ErrProfileUnknown   = errors.New("rate limit profile unknown")
	ErrProfileInvalid   = errors.New("rate limit profile invalid")
	ErrProfileDuplicate = errors.New("rate limit profile duplicate")
)

var (
	ErrNamespaceEmpty       = errors.New("cache namespace empty")
	ErrCacheValueNil        = errors.New("cache value is nil")
	ErrCacheTypeUnknown     = errors.New("cache type unknown")
	ErrCacheOperationFailed = errors.New("cache operation failed")
)

var (
	ErrEventIDEmpty     = errors.New("event id empty")
	ErrAlreadyReserved  = errors.New("event already reserved")
	ErrReserveNotOwned  = errors.New("event reservation not owned")
	ErrAlreadyProcessed = errors.New("event already processed")
)

var (
	ErrCronJobNotFound       = errors.New("cron job not found")
	ErrCronJobExists         = errors.New("cron job exists")
	ErrCronExpressionInvalid = errors.New("cron expression invalid")
	ErrCronJobNameIsEmpty    = errors.New("cron job name is empty")
	ErrCronJobIsNil          = errors.New("cron job is nil")
)

var (
	ErrMetricsTypeUnknown = errors.New("metrics type unknown")
	ErrMetricsIsDisabled  = errors.New("metrics manager is disabled")
)

var (
	ErrAlreadyRunning   = errors.New("component already running")
	ErrNotRunning       = errors.New("component not running")
	ErrInvalidParameter = errors.New("invalid parameter")
)

func Errorf(baseErr error, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", baseErr, fmt.Sprintf(format, args...))
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

func NewErrorf(format string, args ...interface{}) error {
	return fmt.Errorf(format, args...)
}

func IsError(err, target error) bool {
	return errors.Is(err, target)
}

// IsStoreFailure reports whether err is an infrastructure failure of the
// shared store, as opposed to a semantic result like ErrKeyNotFound.
func IsStoreFailure(err error) bool {
	return errors.Is(err, ErrStoreUnavailable) || errors.Is(err, ErrStoreTimeout)
}
