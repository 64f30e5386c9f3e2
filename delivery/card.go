package delivery

import (
	"fmt"

	"github.com/igaboo/mark/channels"
	"github.com/igaboo/mark/listing"
)

// Card colours.
const (
	BrandColor   = 0x1877f2
	FailureColor = 0xe74c3c
)

// DefaultCaptions are shown on the placeholder while a listing loads.
var DefaultCaptions = []string{
	"Checking the oil...",
	"Haggling with the seller...",
	"Checking the carfax...",
	"Test driving the car...",
	"Negotiating the price...",
	"Taking out a loan...",
	"Thinking about buying it...",
	"Checking the tires...",
	"Looking for scratches...",
	"Imagining driving it...",
}

func author(u channels.User) *channels.CardAuthor {
	if u.Name == "" {
		return nil
	}
	return &channels.CardAuthor{
		Name:    fmt.Sprintf("Look what %s found!", u.Name),
		IconURL: u.AvatarURL,
	}
}

// Placeholder is the loading card posted before extraction starts.
func Placeholder(requester channels.User, caption string) channels.Card {
	return channels.Card{
		Description: caption,
		Color:       BrandColor,
		Author:      author(requester),
	}
}

// Render builds the final card. Absent fields are left out; nothing else
// depends on them.
func Render(requester channels.User, rec listing.Record) channels.Card {
	c := channels.Card{
		URL:    rec.URL,
		Color:  BrandColor,
		Author: author(requester),
		Footer: Footer(rec),
	}
	if rec.Title != nil {
		c.Title = *rec.Title
	}
	if rec.Description != nil {
		c.Description = *rec.Description
	}
	for _, f := range []struct {
		name  string
		value *string
	}{
		{"Price", rec.Price},
		{"Mileage", rec.Mileage},
		{"Transmission", rec.Transmission},
	} {
		if f.value != nil {
			c.Fields = append(c.Fields, channels.CardField{Name: f.name, Value: *f.value, Inline: true})
		}
	}
	if rec.ImageURL != nil {
		c.ImageURL = *rec.ImageURL
	}
	return c
}

// Footer combines the posted date and location. It is empty when both are
// absent, and the card then carries no footer.
func Footer(rec listing.Record) string {
	switch {
	case rec.Posted != nil && rec.Location != nil:
		return fmt.Sprintf("Posted %s in %s", *rec.Posted, *rec.Location)
	case rec.Posted != nil:
		return fmt.Sprintf("Posted %s", *rec.Posted)
	case rec.Location != nil:
		return fmt.Sprintf("Located in %s", *rec.Location)
	}
	return ""
}

// FailureNotice replaces the placeholder when the page itself refused the
// build (login wall, removed listing).
func FailureNotice(requester channels.User, url, reason string) channels.Card {
	return channels.Card{
		Title:       "Couldn't load this listing",
		Description: fmt.Sprintf("%s\n%s", reason, url),
		URL:         url,
		Color:       FailureColor,
		Author:      author(requester),
	}
}

// FallbackText is the direct message sent when the card could not be
// delivered in the channel.
func FallbackText(url, reason string) string {
	return fmt.Sprintf("An error occurred, but [here's your link back](%s). Please try again later. (%s)", url, reason)
}
