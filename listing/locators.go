package listing

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/igaboo/mark/browser"
)

// Locators is the table of site-specific selectors plus the tunables of the
// extraction rules that read them. The selectors are generated class names
// and drift whenever the site redeploys; keep every one of them here.
type Locators struct {
	// Terminal page states, probed before any field.
	ListingRemoved browser.Locator
	LoginWall      browser.Locator

	Title       browser.Locator
	Description browser.Locator

	// PricePanel resolves to the element holding "$12,500 · Listed ...".
	PricePanel browser.Locator

	// AttributePanel lists vehicle facts: [0] mileage, [1] transmission.
	AttributePanel browser.Locator
	// TransmissionPanel is where non-vehicle categories render transmission.
	TransmissionPanel browser.Locator

	LocationPanel browser.Locator

	// PostedLabel matches a label repeated across the page; see PostedIndex.
	PostedLabel browser.Locator

	PrimaryImage browser.Locator
	// GalleryImage is used when the primary slot holds a video.
	GalleryImage browser.Locator

	// Currency and Separator drive the price and location splitting rules.
	Currency  string
	Separator string

	// Transmissions is the vocabulary a transmission value must belong to.
	Transmissions []string

	// PostedIndex picks the posted label when more than one matches. Observed
	// empirically on live pages; it is a heuristic, not a page contract.
	PostedIndex int
}

// DefaultLocators returns the table matching the site's current markup.
func DefaultLocators() Locators {
	return Locators{
		ListingRemoved: browser.ByCSS(`div[class="xr1yuqi xkrivgy x4ii5y1 x1gryazu xptc4dh x1l90r2v xyamay9 x4v5mdz xjfs22q"]`),
		LoginWall:      browser.ByCSS(`div[class="_9axz"]`),

		Title:       browser.ByCSS(`meta[property="og:title"]`),
		Description: browser.ByCSS(`meta[property="og:description"]`),

		PricePanel: browser.ByXPath(`//div[contains(@class, "xckqwgs x26u7qi x2j4hbs x78zum5 xnp8db0 x5yr21d x1n2onr6 xh8yej3 xzepove x1stjdt1")]//div[1]//div[1]//div[1]//*[2]`),

		AttributePanel:    browser.ByCSS(`div[class="xamitd3 x1r8uery x1iyjqo2 xs83m0k xeuugli"]`),
		TransmissionPanel: browser.ByCSS(`div[class="x78zum5 xdj266r x1emribx xat24cr x1i64zmx x1y1aw1k x1sxyh0 xwib8y2 xurb0ha"]`),

		LocationPanel: browser.ByCSS(`div[class="x78zum5 xl56j7k x1y1aw1k x1sxyh0 xwib8y2 xurb0ha"]`),

		PostedLabel: browser.ByCSS(`span[class="html-span xdj266r x11i5rnm xat24cr x1mh8g0r xexx8yu x4uap5 x18d9i69 xkhd6sd x1hl2dhg x16tdsg8 x1vvkbs x4k7w5x x1h91t0o x1h9r5lt x1jfb8zj xv2umb2 x1beo9mf xaigb6o x12ejxvf x3igimt xarpa2k xedcshv x1lytzrv x1t2pt76 x7ja8zs x1qrby5j"]`),

		PrimaryImage: browser.ByCSS(`img[class="xz74otr x168nmei x13lgxp2 x5pf9jr xo71vjh"]`),
		GalleryImage: browser.ByCSS(`img[class="x1o1ewxj x3x9cwd x1e5q0jg x13rtm0m x5yr21d xl1xv1r xh8yej3"]`),

		Currency:      "$",
		Separator:     "·",
		Transmissions: []string{"Automatic", "Manual"},
		PostedIndex:   3,
	}
}

// probe is one attempt at a field: a locator, whether to wait for it, and
// either a single-element or an element-list extraction.
type probe struct {
	loc  browser.Locator
	wait bool
	one  func(context.Context, browser.Element) (string, error)
	many func(context.Context, []browser.Element) (string, error)
}

// strategy is one row of the table: the field, its fallback chain and the
// validator the winning value must pass.
type strategy struct {
	field    string
	set      func(*Record, *string)
	probes   []probe
	validate func(string) bool
}

func (l Locators) strategies() []strategy {
	return []strategy{
		{
			field:  "title",
			set:    func(r *Record, v *string) { r.Title = v },
			probes: []probe{{loc: l.Title, one: metaContent}},
		},
		{
			field:  "description",
			set:    func(r *Record, v *string) { r.Description = v },
			probes: []probe{{loc: l.Description, one: metaContent}},
		},
		{
			field:  "price",
			set:    func(r *Record, v *string) { r.Price = v },
			probes: []probe{{loc: l.PricePanel, wait: true, one: l.price}},
		},
		{
			field:  "mileage",
			set:    func(r *Record, v *string) { r.Mileage = v },
			probes: []probe{{loc: l.AttributePanel, wait: true, many: mileage}},
		},
		{
			field:  "location",
			set:    func(r *Record, v *string) { r.Location = v },
			probes: []probe{{loc: l.LocationPanel, wait: true, one: l.location}},
		},
		{
			field:  "posted",
			set:    func(r *Record, v *string) { r.Posted = v },
			probes: []probe{{loc: l.PostedLabel, wait: true, many: l.posted}},
		},
		{
			field: "transmission",
			set:   func(r *Record, v *string) { r.Transmission = v },
			probes: []probe{
				{loc: l.AttributePanel, many: nthFirstWord(1)},
				{loc: l.TransmissionPanel, one: firstWord},
			},
			validate: OneOf(l.Transmissions...),
		},
		{
			field: "image_url",
			set:   func(r *Record, v *string) { r.ImageURL = v },
			probes: []probe{
				{loc: l.PrimaryImage, one: attr("src")},
				{loc: l.GalleryImage, many: nthAttr(1, "src")},
			},
		},
	}
}

var errNoAttr = errors.New("attribute not set")

func attr(name string) func(context.Context, browser.Element) (string, error) {
	return func(ctx context.Context, el browser.Element) (string, error) {
		v, ok, err := el.Attribute(ctx, name)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", fmt.Errorf("%s: %w", name, errNoAttr)
		}
		return v, nil
	}
}

func nthAttr(i int, name string) func(context.Context, []browser.Element) (string, error) {
	get := attr(name)
	return func(ctx context.Context, els []browser.Element) (string, error) {
		el, err := nth(els, i)
		if err != nil {
			return "", err
		}
		return get(ctx, el)
	}
}

func metaContent(ctx context.Context, el browser.Element) (string, error) {
	v, err := attr("content")(ctx, el)
	if err != nil {
		return "", err
	}
	return strings.ReplaceAll(v, "\n", " "), nil
}

// price keeps the segment between the currency symbol and the separator:
// "$12,500 · Listed 3 days ago" → "$12,500".
func (l Locators) price(ctx context.Context, el browser.Element) (string, error) {
	text, err := el.Text(ctx)
	if err != nil {
		return "", err
	}
	parts := strings.Split(text, l.Currency)
	if len(parts) < 2 {
		return "", fmt.Errorf("no %q in %q", l.Currency, text)
	}
	amount := strings.TrimSpace(strings.Split(parts[1], l.Separator)[0])
	if amount == "" {
		return "", fmt.Errorf("empty amount in %q", text)
	}
	return l.Currency + amount, nil
}

var digitsRe = regexp.MustCompile(`[\d,]+`)

func mileage(ctx context.Context, els []browser.Element) (string, error) {
	el, err := nth(els, 0)
	if err != nil {
		return "", err
	}
	text, err := el.Text(ctx)
	if err != nil {
		return "", err
	}
	m := digitsRe.FindString(text)
	if m == "" {
		return "", fmt.Errorf("no digits in %q", text)
	}
	return m, nil
}

func (l Locators) location(ctx context.Context, el browser.Element) (string, error) {
	text, err := el.Text(ctx)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(strings.Split(text, l.Separator)[0]), nil
}

func (l Locators) posted(ctx context.Context, els []browser.Element) (string, error) {
	i := l.PostedIndex
	if len(els) == 1 {
		i = 0
	}
	el, err := nth(els, i)
	if err != nil {
		return "", err
	}
	return el.Text(ctx)
}

func firstWord(ctx context.Context, el browser.Element) (string, error) {
	text, err := el.Text(ctx)
	if err != nil {
		return "", err
	}
	return strings.Split(strings.TrimSpace(text), " ")[0], nil
}

func nthFirstWord(i int) func(context.Context, []browser.Element) (string, error) {
	return func(ctx context.Context, els []browser.Element) (string, error) {
		el, err := nth(els, i)
		if err != nil {
			return "", err
		}
		return firstWord(ctx, el)
	}
}
