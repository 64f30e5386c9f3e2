package delivery

import (
	"time"

	"github.com/igaboo/mark/channels"
)

// State is a step of a delivery.
type State int

const (
	StateInit            State = iota // nothing posted yet
	StatePlaceholderSent              // loading card in the channel
	StateExtracting                   // a build is running
	StateRetryPending                 // last build had no key fields
	StateRendered                     // final card built, not yet committed
	StateCommitted                    // placeholder edited into the listing card
	StateAborted                      // stopped without a listing card
)

var stateNames = [...]string{
	StateInit:            "init",
	StatePlaceholderSent: "placeholder_sent",
	StateExtracting:      "extracting",
	StateRetryPending:    "retry_pending",
	StateRendered:        "rendered",
	StateCommitted:       "committed",
	StateAborted:         "aborted",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Outcome tells how an ended delivery left the channel.
type Outcome string

const (
	OutcomeCommitted Outcome = "committed" // listing card shown
	OutcomeNotice    Outcome = "notice"    // failure notice shown in place of the card
	OutcomeFallback  Outcome = "fallback"  // placeholder removed, link sent back privately
)

// Result summarizes one delivery.
type Result struct {
	ID        string        `json:"id"`
	URL       string        `json:"url"`
	ChannelID string        `json:"channel_id"`
	Requester channels.User `json:"requester"`
	State     State         `json:"-"`
	Outcome   Outcome       `json:"outcome"`
	// Attempts counts listing builds.
	Attempts int    `json:"attempts"`
	Reason   string `json:"reason,omitempty"`
	// Notified is set when the fallback direct message went out.
	Notified bool          `json:"notified,omitempty"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration_ns"`
}
