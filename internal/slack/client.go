// Package slack is a typed façade over the Slack Web API. Provider
// failures surface as *ProviderError; nothing is retried automatically.
package slack

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	slackapi "github.com/slack-go/slack"
)

// api abstracts the Slack Web API methods we use, enabling test mocks.
// *slackapi.Client satisfies it.
type api interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slackapi.MsgOption) (string, string, error)
	UpdateMessageContext(ctx context.Context, channelID, timestamp string, options ...slackapi.MsgOption) (string, string, string, error)
	DeleteMessageContext(ctx context.Context, channel, messageTimestamp string) (string, string, error)
	GetConversationRepliesContext(ctx context.Context, params *slackapi.GetConversationRepliesParameters) ([]slackapi.Message, bool, string, error)
	UploadFileContext(ctx context.Context, params slackapi.UploadFileParameters) (*slackapi.FileSummary, error)
	GetUserInfoContext(ctx context.Context, user string) (*slackapi.User, error)
	GetConversationInfoContext(ctx context.Context, input *slackapi.GetConversationInfoInput) (*slackapi.Channel, error)
	AddReactionContext(ctx context.Context, name string, item slackapi.ItemRef) error
	RemoveReactionContext(ctx context.Context, name string, item slackapi.ItemRef) error
}

// ProviderError is a failure reported by Slack, e.g. ok:false.
type ProviderError struct {
	Op      string
	Code    string
	Message string
	// RetryAfter is set when Code is "ratelimited".
	RetryAfter time.Duration
}

func (e *ProviderError) Error() string {
	if e.Message == "" || e.Message == e.Code {
		return fmt.Sprintf("slack: %s: %s", e.Op, e.Code)
	}
	return fmt.Sprintf("slack: %s: %s (%s)", e.Op, e.Code, e.Message)
}

// CodeRateLimited is the ProviderError code for HTTP 429 responses.
const CodeRateLimited = "ratelimited"

// Opts holds parameters for creating a Client.
type Opts struct {
	Token      string // xoxb-... bot token
	HTTPClient *http.Client
	// APIURL overrides https://slack.com/api/ (must end in a slash).
	APIURL string
	Logger *slog.Logger
	// For testing: inject a mock instead of the real Slack API.
	API api
}

// Client issues Slack Web API calls on behalf of one installation.
type Client struct {
	api api
	log *slog.Logger
}

// New creates a Client.
func New(opts Opts) (*Client, error) {
	if opts.API == nil && opts.Token == "" {
		return nil, fmt.Errorf("slack: bot token is required")
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	c := &Client{api: opts.API, log: log}
	if c.api == nil {
		var options []slackapi.Option
		if opts.HTTPClient != nil {
			options = append(options, slackapi.OptionHTTPClient(opts.HTTPClient))
		}
		if opts.APIURL != "" {
			options = append(options, slackapi.OptionAPIURL(opts.APIURL))
		}
		c.api = slackapi.New(opts.Token, options...)
	}
	return c, nil
}

// MessageRef identifies a posted message.
type MessageRef struct {
	Channel string
	TS      string
}

// PostOptions are the optional parts of a message.
type PostOptions struct {
	Blocks      []slackapi.Block
	ThreadTS    string
	Broadcast   bool
	UnfurlLinks *bool
	UnfurlMedia *bool
}

func (o PostOptions) msgOptions(text string) []slackapi.MsgOption {
	opts := []slackapi.MsgOption{slackapi.MsgOptionText(text, false)}
	if len(o.Blocks) > 0 {
		opts = append(opts, slackapi.MsgOptionBlocks(o.Blocks...))
	}
	if o.ThreadTS != "" {
		opts = append(opts, slackapi.MsgOptionTS(o.ThreadTS))
		if o.Broadcast {
			opts = append(opts, slackapi.MsgOptionBroadcast())
		}
	}
	if o.UnfurlLinks != nil {
		if *o.UnfurlLinks {
			opts = append(opts, slackapi.MsgOptionEnableLinkUnfurl())
		} else {
			opts = append(opts, slackapi.MsgOptionDisableLinkUnfurl())
		}
	}
	if o.UnfurlMedia != nil && !*o.UnfurlMedia {
		opts = append(opts, slackapi.MsgOptionDisableMediaUnfurl())
	}
	return opts
}

// PostMessage posts text (and optional blocks) to a channel.
func (c *Client) PostMessage(ctx context.Context, channel, text string, opts PostOptions) (MessageRef, error) {
	if channel == "" {
		return MessageRef{}, fmt.Errorf("slack: post message: channel is required")
	}
	ch, ts, err := c.api.PostMessageContext(ctx, channel, opts.msgOptions(text)...)
	if err != nil {
		return MessageRef{}, providerError("chat.postMessage", err)
	}
	return MessageRef{Channel: ch, TS: ts}, nil
}

// PostThreadReply posts text as a reply in the thread rooted at threadTS.
func (c *Client) PostThreadReply(ctx context.Context, channel, threadTS, text string, opts PostOptions) (MessageRef, error) {
	if threadTS == "" {
		return MessageRef{}, fmt.Errorf("slack: post thread reply: thread ts is required")
	}
	opts.ThreadTS = threadTS
	return c.PostMessage(ctx, channel, text, opts)
}

// UpdateMessage replaces the text and blocks of a posted message.
func (c *Client) UpdateMessage(ctx context.Context, ref MessageRef, text string, blocks []slackapi.Block) (MessageRef, error) {
	opts := []slackapi.MsgOption{slackapi.MsgOptionText(text, false)}
	if len(blocks) > 0 {
		opts = append(opts, slackapi.MsgOptionBlocks(blocks...))
	}
	ch, ts, _, err := c.api.UpdateMessageContext(ctx, ref.Channel, ref.TS, opts...)
	if err != nil {
		return MessageRef{}, providerError("chat.update", err)
	}
	return MessageRef{Channel: ch, TS: ts}, nil
}

// DeleteMessage deletes a posted message.
func (c *Client) DeleteMessage(ctx context.Context, ref MessageRef) error {
	if _, _, err := c.api.DeleteMessageContext(ctx, ref.Channel, ref.TS); err != nil {
		return providerError("chat.delete", err)
	}
	return nil
}

// AddReaction adds an emoji reaction (name without colons) to a message.
func (c *Client) AddReaction(ctx context.Context, ref MessageRef, name string) error {
	name = strings.Trim(name, ":")
	if err := c.api.AddReactionContext(ctx, name, slackapi.NewRefToMessage(ref.Channel, ref.TS)); err != nil {
		return providerError("reactions.add", err)
	}
	return nil
}

// RemoveReaction removes an emoji reaction from a message.
func (c *Client) RemoveReaction(ctx context.Context, ref MessageRef, name string) error {
	name = strings.Trim(name, ":")
	if err := c.api.RemoveReactionContext(ctx, name, slackapi.NewRefToMessage(ref.Channel, ref.TS)); err != nil {
		return providerError("reactions.remove", err)
	}
	return nil
}

// Upload describes a file to share.
type Upload struct {
	Content        io.Reader
	Size           int
	Filename       string
	Title          string
	Channel        string
	ThreadTS       string
	InitialComment string
}

// UploadedFile is the handle of an uploaded file.
type UploadedFile struct {
	ID    string
	Title string
}

// UploadFile uploads content and optionally shares it into a channel or
// thread.
func (c *Client) UploadFile(ctx context.Context, up Upload) (UploadedFile, error) {
	if up.Filename == "" {
		return UploadedFile{}, fmt.Errorf("slack: upload file: filename is required")
	}
	if up.Content == nil || up.Size <= 0 {
		return UploadedFile{}, fmt.Errorf("slack: upload file: content and size are required")
	}
	title := up.Title
	if title == "" {
		title = up.Filename
	}
	f, err := c.api.UploadFileContext(ctx, slackapi.UploadFileParameters{
		Reader:          up.Content,
		FileSize:        up.Size,
		Filename:        up.Filename,
		Title:           title,
		Channel:         up.Channel,
		ThreadTimestamp: up.ThreadTS,
		InitialComment:  up.InitialComment,
	})
	if err != nil {
		return UploadedFile{}, providerError("files.upload", err)
	}
	return UploadedFile{ID: f.ID, Title: f.Title}, nil
}

// User is the subset of a Slack user profile Minno uses.
type User struct {
	ID          string
	Name        string
	RealName    string
	DisplayName string
	IsBot       bool
	TZ          string
}

// UserInfo looks up a user.
func (c *Client) UserInfo(ctx context.Context, userID string) (*User, error) {
	u, err := c.api.GetUserInfoContext(ctx, userID)
	if err != nil {
		return nil, providerError("users.info", err)
	}
	return &User{
		ID:          u.ID,
		Name:        u.Name,
		RealName:    u.RealName,
		DisplayName: u.Profile.DisplayName,
		IsBot:       u.IsBot,
		TZ:          u.TZ,
	}, nil
}

// ChannelInfo describes a conversation.
type ChannelInfo struct {
	ID         string
	Name       string
	IsPrivate  bool
	IsIM       bool
	IsArchived bool
	Topic      string
	Purpose    string
}

// ChannelInfo looks up a conversation.
func (c *Client) ChannelInfo(ctx context.Context, channelID string) (*ChannelInfo, error) {
	ch, err := c.api.GetConversationInfoContext(ctx, &slackapi.GetConversationInfoInput{ChannelID: channelID})
	if err != nil {
		return nil, providerError("conversations.info", err)
	}
	return &ChannelInfo{
		ID:         ch.ID,
		Name:       ch.Name,
		IsPrivate:  ch.IsPrivate,
		IsIM:       ch.IsIM,
		IsArchived: ch.IsArchived,
		Topic:      ch.Topic.Value,
		Purpose:    ch.Purpose.Value,
	}, nil
}

// providerError converts slack-go errors into *ProviderError. Transport
// errors are wrapped unchanged.
func providerError(op string, err error) error {
	var rle *slackapi.RateLimitedError
	if errors.As(err, &rle) {
		return &ProviderError{
			Op:         op,
			Code:       CodeRateLimited,
			Message:    fmt.Sprintf("rate limited, retry after %s", rle.RetryAfter),
			RetryAfter: rle.RetryAfter,
		}
	}
	var ser slackapi.SlackErrorResponse
	if errors.As(err, &ser) {
		msg := strings.Join(ser.ResponseMetadata.Messages, "; ")
		if msg == "" {
			msg = ser.Err
		}
		return &ProviderError{Op: op, Code: ser.Err, Message: msg}
	}
	var se slackapi.StatusCodeError
	if errors.As(err, &se) {
		return &ProviderError{Op: op, Code: fmt.Sprintf("http_%d", se.Code), Message: se.Status}
	}
	return fmt.Errorf("slack: %s: %w", op, err)
}
