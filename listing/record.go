// Package listing turns a marketplace listing page into a Record.
//
// Every field is an independent, best-effort probe: a selector that no longer
// matches leaves that one field nil and never aborts the others. Only two
// page states stop a build outright, the login wall and the removed-listing
// notice, and both are reported as a *Failure before any field is probed.
package listing

import "fmt"

// Record is the structured result of one extraction attempt. A nil field
// means "not found"; a non-nil field always holds real, non-blank text.
type Record struct {
	URL          string  `json:"url"`
	Title        *string `json:"title,omitempty"`
	Description  *string `json:"description,omitempty"`
	Price        *string `json:"price,omitempty"`
	Mileage      *string `json:"mileage,omitempty"`
	Transmission *string `json:"transmission,omitempty"`
	Location     *string `json:"location,omitempty"`
	Posted       *string `json:"posted,omitempty"`
	ImageURL     *string `json:"image_url,omitempty"`
}

// NewRecord returns an empty record for url.
func NewRecord(url string) Record {
	return Record{URL: url}
}

// HasKeyFields reports whether any of price, transmission, mileage or image
// was recovered. A page that yields none of them was not really parsed.
func (r Record) HasKeyFields() bool {
	return r.Price != nil || r.Transmission != nil || r.Mileage != nil || r.ImageURL != nil
}

// Empty reports whether no optional field was recovered at all.
func (r Record) Empty() bool {
	return r.Title == nil && r.Description == nil && !r.HasKeyFields() &&
		r.Location == nil && r.Posted == nil
}

// Reason classifies why a build produced no usable record.
type Reason int

const (
	ReasonUnknown        Reason = iota
	ReasonLoginWall             // login page served instead of the listing
	ReasonListingRemoved        // listing deleted or sold
	ReasonTimeout               // session or navigation deadline exceeded
)

func (r Reason) String() string {
	switch r {
	case ReasonLoginWall:
		return "login_wall"
	case ReasonListingRemoved:
		return "listing_removed"
	case ReasonTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Failure is the error returned by Builder.Build for page-level faults.
type Failure struct {
	Reason Reason
	Detail string
	Cause  error
}

func (f *Failure) Error() string {
	switch f.Reason {
	case ReasonLoginWall:
		return "Login page encountered while scraping."
	case ReasonListingRemoved:
		return "Listing not found."
	case ReasonTimeout:
		return "Timed out loading the listing."
	}
	if f.Detail != "" {
		return fmt.Sprintf("Could not load the listing: %s", f.Detail)
	}
	return "Could not load the listing."
}

func (f *Failure) Unwrap() error { return f.Cause }

// Terminal reports whether retrying against a fresh session is pointless.
func (f *Failure) Terminal() bool {
	return f.Reason != ReasonTimeout
}
