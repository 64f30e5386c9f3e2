package delivery

import (
	"testing"

	"github.com/igaboo/mark/channels"
	"github.com/igaboo/mark/listing"
)

func TestFooter(t *testing.T) {
	cases := []struct {
		posted, location *string
		want             string
	}{
		{ptr("2 days ago"), ptr("Austin, TX"), "Posted 2 days ago in Austin, TX"},
		{ptr("2 days ago"), nil, "Posted 2 days ago"},
		{nil, ptr("Austin, TX"), "Located in Austin, TX"},
		{nil, nil, ""},
	}
	for _, c := range cases {
		r := listing.NewRecord(testURL)
		r.Posted, r.Location = c.posted, c.location
		if got := Footer(r); got != c.want {
			t.Errorf("Footer = %q, want %q", got, c.want)
		}
	}
}

func TestRender_PartialRecord(t *testing.T) {
	r := listing.NewRecord(testURL)
	r.Mileage = ptr("80,000")

	c := Render(sam, r)
	if c.URL != testURL || c.Color != BrandColor {
		t.Fatalf("card = %+v", c)
	}
	if c.Title != "" || c.Description != "" || c.ImageURL != "" || c.Footer != "" {
		t.Fatalf("absent fields rendered: %+v", c)
	}
	if len(c.Fields) != 1 || c.Fields[0] != (channels.CardField{Name: "Mileage", Value: "80,000", Inline: true}) {
		t.Fatalf("fields = %+v", c.Fields)
	}
}

func TestRender_FacetOrder(t *testing.T) {
	c := Render(sam, full())
	want := []string{"Price", "Mileage", "Transmission"}
	if len(c.Fields) != len(want) {
		t.Fatalf("fields = %+v", c.Fields)
	}
	for i, name := range want {
		if c.Fields[i].Name != name || !c.Fields[i].Inline {
			t.Errorf("field %d = %+v, want inline %s", i, c.Fields[i], name)
		}
	}
	if c.ImageURL != "https://cdn/car.jpg" || c.Description != "One owner" {
		t.Errorf("card = %+v", c)
	}
	if c.Author == nil || c.Author.IconURL != sam.AvatarURL {
		t.Errorf("author = %+v", c.Author)
	}
}

func TestPlaceholder(t *testing.T) {
	c := Placeholder(sam, "Checking the oil...")
	if c.Description != "Checking the oil..." || c.Color != BrandColor {
		t.Fatalf("placeholder = %+v", c)
	}
	if c.Author == nil || c.Author.Name != "Look what Sam found!" {
		t.Fatalf("author = %+v", c.Author)
	}
	if anon := Placeholder(channels.User{ID: "x"}, "..."); anon.Author != nil {
		t.Fatalf("anonymous author = %+v", anon.Author)
	}
}

func TestFailureNotice(t *testing.T) {
	c := FailureNotice(sam, testURL, "Listing not found.")
	if c.URL != testURL || c.Color != FailureColor {
		t.Fatalf("notice = %+v", c)
	}
	if c.Description != "Listing not found.\n"+testURL {
		t.Fatalf("description = %q", c.Description)
	}
}

func TestFallbackText(t *testing.T) {
	got := FallbackText("https://x/item/1", "Listing not found.")
	want := "An error occurred, but [here's your link back](https://x/item/1). Please try again later. (Listing not found.)"
	if got != want {
		t.Fatalf("FallbackText = %q", got)
	}
}
