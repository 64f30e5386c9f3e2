package listing

import (
	"errors"
	"testing"
)

func ptr(s string) *string { return &s }

func TestHasKeyFields(t *testing.T) {
	// Every combination of the four key fields: only all-nil is false.
	for mask := 0; mask < 16; mask++ {
		r := NewRecord("https://www.facebook.com/marketplace/item/1")
		r.Title = ptr("title")
		r.Location = ptr("Austin")
		if mask&1 != 0 {
			r.Price = ptr("$1")
		}
		if mask&2 != 0 {
			r.Transmission = ptr("Manual")
		}
		if mask&4 != 0 {
			r.Mileage = ptr("10")
		}
		if mask&8 != 0 {
			r.ImageURL = ptr("https://img")
		}
		if got, want := r.HasKeyFields(), mask != 0; got != want {
			t.Errorf("mask %04b: HasKeyFields = %v, want %v", mask, got, want)
		}
	}
}

func TestRecordEmpty(t *testing.T) {
	r := NewRecord("u")
	if !r.Empty() {
		t.Fatal("new record should be empty")
	}
	r.Posted = ptr("today")
	if r.Empty() {
		t.Fatal("record with posted should not be empty")
	}
	if r.HasKeyFields() {
		t.Fatal("posted is not a key field")
	}
}

func TestFailureMessages(t *testing.T) {
	cases := []struct {
		f        *Failure
		msg      string
		terminal bool
	}{
		{&Failure{Reason: ReasonLoginWall}, "Login page encountered while scraping.", true},
		{&Failure{Reason: ReasonListingRemoved}, "Listing not found.", true},
		{&Failure{Reason: ReasonTimeout}, "Timed out loading the listing.", false},
		{&Failure{Reason: ReasonUnknown, Detail: "net::ERR_NAME_NOT_RESOLVED"}, "Could not load the listing: net::ERR_NAME_NOT_RESOLVED", true},
		{&Failure{}, "Could not load the listing.", true},
	}
	for _, c := range cases {
		if got := c.f.Error(); got != c.msg {
			t.Errorf("%s: Error() = %q, want %q", c.f.Reason, got, c.msg)
		}
		if got := c.f.Terminal(); got != c.terminal {
			t.Errorf("%s: Terminal() = %v, want %v", c.f.Reason, got, c.terminal)
		}
	}
}

func TestFailureUnwrap(t *testing.T) {
	cause := errors.New("boom")
	var err error = &Failure{Reason: ReasonUnknown, Cause: cause}
	if !errors.Is(err, cause) {
		t.Fatal("Failure should unwrap to its cause")
	}
	var f *Failure
	if !errors.As(err, &f) || f.Reason != ReasonUnknown {
		t.Fatal("errors.As should recover the Failure")
	}
}

func TestReasonString(t *testing.T) {
	want := map[Reason]string{
		ReasonUnknown:        "unknown",
		ReasonLoginWall:      "login_wall",
		ReasonListingRemoved: "listing_removed",
		ReasonTimeout:        "timeout",
		Reason(42):           "unknown",
	}
	for r, s := range want {
		if r.String() != s {
			t.Errorf("Reason(%d).String() = %q, want %q", int(r), r.String(), s)
		}
	}
}
