package channels

import (
	"fmt"
	"time"
)

// ErrRateLimited is returned when the platform throttled an outbound call.
// RetryAfter is the server's advertised wait, or zero when it gave none.
type ErrRateLimited struct {
	Op         string
	RetryAfter time.Duration
}

func (e *ErrRateLimited) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("channels: %s rate limited, retry after %s", e.Op, e.RetryAfter)
	}
	return fmt.Sprintf("channels: %s rate limited", e.Op)
}

// ErrSendFailed is returned when an outbound call failed for any reason
// other than throttling.
type ErrSendFailed struct {
	Op       string
	Platform string
	Cause    error
}

func (e *ErrSendFailed) Error() string {
	return fmt.Sprintf("channels: %s failed on %s: %v", e.Op, e.Platform, e.Cause)
}

func (e *ErrSendFailed) Unwrap() error { return e.Cause }

// ErrClosed is the cause carried by ErrSendFailed after Close.
type ErrClosed struct {
	Platform string
}

func (e *ErrClosed) Error() string {
	return fmt.Sprintf("channels: %s connection closed", e.Platform)
}
