package channels

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
)

const discordPlatform = "discord"

// DiscordConfig configures the Discord connection.
type DiscordConfig struct {
	// BotToken is the Discord bot token, without the "Bot " prefix.
	BotToken string `yaml:"bot_token" json:"bot_token"`
	// ChannelIDs restricts listening to specific channel IDs.
	// If empty, all channels the bot can see are monitored.
	ChannelIDs []string `yaml:"channel_ids" json:"channel_ids,omitempty"`
	// Buffer is the inbound queue length. Default: 64.
	Buffer int `yaml:"buffer" json:"buffer,omitempty"`
}

// discordREST is the subset of *discordgo.Session used for outbound calls.
type discordREST interface {
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEditEmbed(channelID, messageID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageDelete(channelID, messageID string, options ...discordgo.RequestOption) error
	UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Discord implements Platform over the Discord gateway and REST API.
type Discord struct {
	session *discordgo.Session // nil when built over a bare discordREST
	rest    discordREST
	logger  *slog.Logger
	allowed map[string]bool
	inbound chan Message

	mu      sync.Mutex
	self    string
	closed  bool
	closeCh chan struct{}
	status  Status
}

// NewDiscord creates a Discord connection. The gateway is not opened until
// Open is called.
func NewDiscord(cfg DiscordConfig, logger *slog.Logger) (*Discord, error) {
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("discord: bot_token is required")
	}
	s, err := discordgo.New("Bot " + strings.TrimPrefix(cfg.BotToken, "Bot "))
	if err != nil {
		return nil, fmt.Errorf("discord: new session: %w", err)
	}
	s.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent
	// Throttles are returned to the caller's retry policy.
	s.ShouldRetryOnRateLimit = false

	d := newDiscord(cfg, s, logger)
	d.session = s
	s.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		if r.User != nil {
			d.setSelf(r.User.ID)
		}
	})
	s.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		d.receive(m)
	})
	return d, nil
}

func newDiscord(cfg DiscordConfig, rest discordREST, logger *slog.Logger) *Discord {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 64
	}
	var allowed map[string]bool
	if len(cfg.ChannelIDs) > 0 {
		allowed = make(map[string]bool, len(cfg.ChannelIDs))
		for _, id := range cfg.ChannelIDs {
			allowed[id] = true
		}
	}
	return &Discord{
		rest:    rest,
		logger:  logger,
		allowed: allowed,
		inbound: make(chan Message, cfg.Buffer),
		closeCh: make(chan struct{}),
		status:  Status{Platform: discordPlatform},
	}
}

// Open connects to the gateway.
func (d *Discord) Open() error {
	if d.session == nil {
		return fmt.Errorf("discord: no gateway session")
	}
	if err := d.session.Open(); err != nil {
		d.mu.Lock()
		d.status.Error = err.Error()
		d.mu.Unlock()
		return fmt.Errorf("discord: open gateway: %w", err)
	}
	if u := d.session.State.User; u != nil {
		d.setSelf(u.ID)
	}
	d.mu.Lock()
	d.status.Connected = true
	d.status.Error = ""
	d.mu.Unlock()
	d.logger.Info("discord: connected", "self", d.Self())
	return nil
}

func (d *Discord) setSelf(id string) {
	d.mu.Lock()
	d.self = id
	d.status.Self = id
	d.mu.Unlock()
}

func (d *Discord) Self() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.self
}

// receive queues a gateway message. It blocks while the queue is full so
// no message is dropped; Close unblocks it.
func (d *Discord) receive(m *discordgo.MessageCreate) {
	if m == nil || m.Message == nil || m.Author == nil {
		return
	}
	if d.allowed != nil && !d.allowed[m.ChannelID] {
		return
	}
	msg := fromDiscord(m)
	d.mu.Lock()
	d.status.LastMessage = time.Now()
	d.mu.Unlock()
	select {
	case d.inbound <- msg:
	case <-d.closeCh:
	}
}

func (d *Discord) Listen(ctx context.Context) <-chan Message {
	ch := make(chan Message)
	go func() {
		defer close(ch)
		for {
			select {
			case <-ctx.Done():
				return
			case <-d.closeCh:
				return
			case msg := <-d.inbound:
				select {
				case ch <- msg:
				case <-ctx.Done():
					return
				case <-d.closeCh:
					return
				}
			}
		}
	}()
	return ch
}

func (d *Discord) SendCard(ctx context.Context, channelID string, c Card) (MessageRef, error) {
	if err := d.check("send_card"); err != nil {
		return MessageRef{}, err
	}
	m, err := d.rest.ChannelMessageSendEmbed(channelID, toEmbed(c), discordgo.WithContext(ctx))
	if err != nil {
		return MessageRef{}, classify("send_card", err)
	}
	return MessageRef{ChannelID: m.ChannelID, MessageID: m.ID}, nil
}

func (d *Discord) EditCard(ctx context.Context, ref MessageRef, c Card) error {
	if err := d.check("edit_card"); err != nil {
		return err
	}
	_, err := d.rest.ChannelMessageEditEmbed(ref.ChannelID, ref.MessageID, toEmbed(c), discordgo.WithContext(ctx))
	return classify("edit_card", err)
}

func (d *Discord) Delete(ctx context.Context, ref MessageRef) error {
	if err := d.check("delete"); err != nil {
		return err
	}
	return classify("delete", d.rest.ChannelMessageDelete(ref.ChannelID, ref.MessageID, discordgo.WithContext(ctx)))
}

func (d *Discord) SendDirect(ctx context.Context, userID, text string) error {
	if err := d.check("send_direct"); err != nil {
		return err
	}
	ch, err := d.rest.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		return classify("send_direct", err)
	}
	_, err = d.rest.ChannelMessageSend(ch.ID, text, discordgo.WithContext(ctx))
	return classify("send_direct", err)
}

func (d *Discord) check(op string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return &ErrSendFailed{Op: op, Platform: discordPlatform, Cause: &ErrClosed{Platform: discordPlatform}}
	}
	return nil
}

func (d *Discord) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

func (d *Discord) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.closeCh)
	d.status.Connected = false
	d.mu.Unlock()

	if d.session != nil {
		if err := d.session.Close(); err != nil {
			return fmt.Errorf("discord: close gateway: %w", err)
		}
	}
	return nil
}

func fromDiscord(m *discordgo.MessageCreate) Message {
	name := m.Author.Username
	if m.Author.GlobalName != "" {
		name = m.Author.GlobalName
	}
	if m.Member != nil && m.Member.Nick != "" {
		name = m.Member.Nick
	}
	return Message{
		ID:        m.ID,
		ChannelID: m.ChannelID,
		GuildID:   m.GuildID,
		Author: User{
			ID:        m.Author.ID,
			Name:      name,
			AvatarURL: m.Author.AvatarURL(""),
		},
		Content:   m.Content,
		Bot:       m.Author.Bot,
		Timestamp: m.Timestamp,
	}
}

func toEmbed(c Card) *discordgo.MessageEmbed {
	e := &discordgo.MessageEmbed{
		Title:       c.Title,
		Description: c.Description,
		URL:         c.URL,
		Color:       c.Color,
	}
	if c.Author != nil {
		e.Author = &discordgo.MessageEmbedAuthor{Name: c.Author.Name, IconURL: c.Author.IconURL}
	}
	for _, f := range c.Fields {
		e.Fields = append(e.Fields, &discordgo.MessageEmbedField{Name: f.Name, Value: f.Value, Inline: f.Inline})
	}
	if c.ImageURL != "" {
		e.Image = &discordgo.MessageEmbedImage{URL: c.ImageURL}
	}
	if c.Footer != "" {
		e.Footer = &discordgo.MessageEmbedFooter{Text: c.Footer}
	}
	return e
}

// classify maps a discordgo error onto ErrRateLimited or ErrSendFailed.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var rl *discordgo.RateLimitError
	if errors.As(err, &rl) {
		var after time.Duration
		if rl.RateLimit != nil && rl.TooManyRequests != nil {
			after = rl.RetryAfter
		}
		return &ErrRateLimited{Op: op, RetryAfter: after}
	}
	var re *discordgo.RESTError
	if errors.As(err, &re) && re.Response != nil && re.Response.StatusCode == http.StatusTooManyRequests {
		return &ErrRateLimited{Op: op, RetryAfter: parseRetryAfter(re.Response.Header.Get("Retry-After"))}
	}
	return &ErrSendFailed{Op: op, Platform: discordPlatform, Cause: err}
}

// parseRetryAfter reads a Retry-After header in (possibly fractional)
// seconds. Unparseable or negative values mean "no hint".
func parseRetryAfter(v string) time.Duration {
	secs, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs * float64(time.Second))
}
