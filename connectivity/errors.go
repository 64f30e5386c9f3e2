package connectivity

import "fmt"

// ErrRetriesExhausted is returned when a call was still rate limited after
// the policy's last attempt.
type ErrRetriesExhausted struct {
	Op       string
	Attempts int
	Last     error
}

func (e *ErrRetriesExhausted) Error() string {
	return fmt.Sprintf("connectivity: %s still rate limited after %d attempts: %v", e.Op, e.Attempts, e.Last)
}

func (e *ErrRetriesExhausted) Unwrap() error { return e.Last }
