// Package events defines the inbound Slack Events API payloads and parses
// them fail-closed: unknown outer or inner event types are rejected.
package events

import (
	"context"
	"encoding/json"

	"github.com/slack-go/slack/slackevents"
)

// Outer payload types.
const (
	TypeURLVerification = string(slackevents.URLVerification)
	TypeEventCallback   = string(slackevents.CallbackEvent)
	TypeAppRateLimited  = string(slackevents.AppRateLimited)
)

// Inner event types.
const (
	TypeAppMention    = string(slackevents.AppMention)
	TypeMessage       = string(slackevents.Message)
	TypeReactionAdded = string(slackevents.ReactionAdded)
)

// Payload is one of *URLVerification, *Envelope or *AppRateLimited.
type Payload interface {
	PayloadType() string
}

// URLVerification is the handshake Slack sends when the request URL is
// configured. The challenge must be echoed back.
type URLVerification struct {
	Type      string `json:"type" validate:"required"`
	Token     string `json:"token"`
	Challenge string `json:"challenge" validate:"required"`
}

func (*URLVerification) PayloadType() string { return TypeURLVerification }

// AppRateLimited is sent when the app exceeds the events rate limit.
type AppRateLimited struct {
	Type              string `json:"type" validate:"required"`
	Token             string `json:"token"`
	TeamID            string `json:"team_id" validate:"required"`
	APIAppID          string `json:"api_app_id"`
	MinuteRateLimited int64  `json:"minute_rate_limited"`
}

func (*AppRateLimited) PayloadType() string { return TypeAppRateLimited }

// Authorization is one installation the event is visible to.
type Authorization struct {
	EnterpriseID        *string `json:"enterprise_id"`
	TeamID              string  `json:"team_id" validate:"required"`
	UserID              string  `json:"user_id" validate:"required"`
	IsBot               bool    `json:"is_bot"`
	IsEnterpriseInstall bool    `json:"is_enterprise_install"`
}

// Envelope is an event_callback delivery wrapping exactly one inner event.
type Envelope struct {
	Type           string          `json:"type" validate:"required"`
	Token          string          `json:"token" validate:"required"`
	TeamID         string          `json:"team_id" validate:"required"`
	APIAppID       string          `json:"api_app_id" validate:"required"`
	RawEvent       json.RawMessage `json:"event" validate:"required"`
	EventID        string          `json:"event_id" validate:"required"`
	EventTime      int64           `json:"event_time" validate:"gt=0"`
	EventContext   string          `json:"event_context,omitempty"`
	Authorizations []Authorization `json:"authorizations,omitempty" validate:"omitempty,dive"`

	// Event is the parsed inner event; set by ParseEnvelope.
	Event Event `json:"-"`
}

func (*Envelope) PayloadType() string { return TypeEventCallback }

// Handler receives each inner event variant. Adding a variant adds a
// method here, so every handler must handle it to compile.
type Handler interface {
	HandleAppMention(ctx context.Context, env *Envelope, ev *AppMentionEvent) error
	HandleMessage(ctx context.Context, env *Envelope, ev *MessageEvent) error
	HandleReactionAdded(ctx context.Context, env *Envelope, ev *ReactionAddedEvent) error
}

// Event is the closed set of inner events Minno understands.
type Event interface {
	Type() string
	Accept(ctx context.Context, env *Envelope, h Handler) error
	isEvent()
}

// AppMentionEvent is sent when a user mentions the app.
type AppMentionEvent struct {
	EventType string `json:"type" validate:"eq=app_mention"`
	User      string `json:"user" validate:"required"`
	Text      string `json:"text"`
	TS        string `json:"ts" validate:"required"`
	Channel   string `json:"channel" validate:"required"`
	ThreadTS  string `json:"thread_ts,omitempty"`
	EventTS   string `json:"event_ts"`
	BotID     string `json:"bot_id,omitempty"`
	Team      string `json:"team,omitempty"`
}

func (e *AppMentionEvent) Type() string { return TypeAppMention }
func (e *AppMentionEvent) Accept(ctx context.Context, env *Envelope, h Handler) error {
	return h.HandleAppMention(ctx, env, e)
}
func (*AppMentionEvent) isEvent() {}

// MessageEvent is a message posted in a channel the app is a member of.
// Bot and system messages may omit User.
type MessageEvent struct {
	EventType   string `json:"type" validate:"eq=message"`
	Subtype     string `json:"subtype,omitempty"`
	User        string `json:"user,omitempty"`
	Text        string `json:"text"`
	TS          string `json:"ts" validate:"required"`
	Channel     string `json:"channel" validate:"required"`
	ChannelType string `json:"channel_type,omitempty"`
	ThreadTS    string `json:"thread_ts,omitempty"`
	EventTS     string `json:"event_ts"`
	BotID       string `json:"bot_id,omitempty"`
	Team        string `json:"team,omitempty"`
}

func (e *MessageEvent) Type() string { return TypeMessage }
func (e *MessageEvent) Accept(ctx context.Context, env *Envelope, h Handler) error {
	return h.HandleMessage(ctx, env, e)
}
func (*MessageEvent) isEvent() {}

// ReactionItem identifies what a reaction was added to.
type ReactionItem struct {
	Type    string `json:"type" validate:"required"`
	Channel string `json:"channel,omitempty"`
	TS      string `json:"ts,omitempty"`
}

// ReactionAddedEvent is sent when a reaction is added to an item.
type ReactionAddedEvent struct {
	EventType string       `json:"type" validate:"eq=reaction_added"`
	User      string       `json:"user" validate:"required"`
	Reaction  string       `json:"reaction" validate:"required"`
	ItemUser  string       `json:"item_user,omitempty"`
	Item      ReactionItem `json:"item"`
	EventTS   string       `json:"event_ts" validate:"required"`
}

func (e *ReactionAddedEvent) Type() string { return TypeReactionAdded }
func (e *ReactionAddedEvent) Accept(ctx context.Context, env *Envelope, h Handler) error {
	return h.HandleReactionAdded(ctx, env, e)
}
func (*ReactionAddedEvent) isEvent() {}
