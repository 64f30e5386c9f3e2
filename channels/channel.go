// Package channels is the chat-platform boundary. A Platform delivers
// inbound messages as a stream and exposes the handful of outbound
// operations the bot needs: post a card, edit it, delete a message and
// send a direct message.
//
//	d, err := channels.NewDiscord(channels.DiscordConfig{BotToken: tok}, logger)
//	if err := d.Open(); err != nil { ... }
//	for msg := range d.Listen(ctx) { ... }
//
// Outbound calls never retry internally. A platform throttle surfaces as
// *ErrRateLimited so callers can apply their own policy; anything else is
// an *ErrSendFailed.
package channels

import (
	"context"
	"time"
)

// User is a platform account as seen by the bot.
type User struct {
	ID        string `json:"id"`
	Name      string `json:"name"` // display name: nickname, global name, then username
	AvatarURL string `json:"avatar_url,omitempty"`
}

// Message is a platform-normalized inbound chat message.
type Message struct {
	ID        string    `json:"id"`
	ChannelID string    `json:"channel_id"`
	GuildID   string    `json:"guild_id,omitempty"`
	Author    User      `json:"author"`
	Content   string    `json:"content"`
	Bot       bool      `json:"bot,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Ref returns the reference used to delete or edit this message.
func (m Message) Ref() MessageRef {
	return MessageRef{ChannelID: m.ChannelID, MessageID: m.ID}
}

// MessageRef addresses a posted message.
type MessageRef struct {
	ChannelID string `json:"channel_id"`
	MessageID string `json:"message_id"`
}

// Card is a rich message: Discord renders it as an embed.
type Card struct {
	Title       string      `json:"title,omitempty"`
	Description string      `json:"description,omitempty"`
	URL         string      `json:"url,omitempty"`
	Color       int         `json:"color,omitempty"`
	Author      *CardAuthor `json:"author,omitempty"`
	Fields      []CardField `json:"fields,omitempty"`
	ImageURL    string      `json:"image_url,omitempty"`
	Footer      string      `json:"footer,omitempty"`
}

// CardAuthor is the small header line above a card's title.
type CardAuthor struct {
	Name    string `json:"name"`
	IconURL string `json:"icon_url,omitempty"`
}

// CardField is a labelled value. Inline fields render side by side.
type CardField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

// Status describes the current state of the platform connection.
type Status struct {
	Connected   bool      `json:"connected"`
	Platform    string    `json:"platform"`
	Self        string    `json:"self,omitempty"`
	LastMessage time.Time `json:"last_message"`
	Error       string    `json:"error,omitempty"`
}

// Platform is a bidirectional connection to a chat service.
type Platform interface {
	// Self returns the bot's own user ID.
	Self() string

	// Listen returns inbound messages. The channel is closed when ctx is
	// cancelled or Close is called.
	Listen(ctx context.Context) <-chan Message

	SendCard(ctx context.Context, channelID string, c Card) (MessageRef, error)
	EditCard(ctx context.Context, ref MessageRef, c Card) error
	Delete(ctx context.Context, ref MessageRef) error

	// SendDirect sends a plain-text private message to userID.
	SendDirect(ctx context.Context, userID, text string) error

	Status() Status

	// Close shuts down the connection. After Close, Listen channels close.
	Close() error
}
