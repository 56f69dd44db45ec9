package slack

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	slackapi "github.com/slack-go/slack"
)

// Message is a Slack message mapped into Minno's own shape.
type Message struct {
	Channel  string
	User     string
	BotID    string
	Text     string
	TS       string
	ThreadTS string
	Subtype  string
	Time     time.Time
	Blocks   []slackapi.Block
}

// HistoryOptions narrow a thread history fetch. Zero values mean no limit
// and no time bound.
type HistoryOptions struct {
	Limit     int
	Oldest    string
	Latest    string
	Inclusive bool
	// Tail makes Limit keep the newest messages rather than the oldest.
	// Slack only pages forward, so every page in range is read.
	Tail bool
}

const historyPageSize = 200

// ThreadHistory returns the messages of a thread in chronological order,
// following pagination cursors. Malformed messages are logged and skipped
// so one bad entry never fails the whole fetch.
func (c *Client) ThreadHistory(ctx context.Context, channel, threadTS string, opts HistoryOptions) ([]Message, error) {
	if channel == "" || threadTS == "" {
		return nil, fmt.Errorf("slack: thread history: channel and thread ts are required")
	}

	pageSize := historyPageSize
	if opts.Limit > 0 && opts.Limit < pageSize && !opts.Tail {
		pageSize = opts.Limit
	}

	var out []Message
	cursor := ""
	for {
		msgs, hasMore, next, err := c.api.GetConversationRepliesContext(ctx, &slackapi.GetConversationRepliesParameters{
			ChannelID: channel,
			Timestamp: threadTS,
			Cursor:    cursor,
			Inclusive: opts.Inclusive,
			Latest:    opts.Latest,
			Oldest:    opts.Oldest,
			Limit:     pageSize,
		})
		if err != nil {
			return nil, providerError("conversations.replies", err)
		}

		for _, m := range msgs {
			msg, err := toMessage(channel, m)
			if err != nil {
				c.log.Warn("slack: skipping malformed message in thread history",
					"channel", channel, "thread_ts", threadTS, "ts", m.Timestamp, "error", err)
				continue
			}
			out = append(out, msg)
			if opts.Limit > 0 && len(out) >= opts.Limit && !opts.Tail {
				return out, nil
			}
		}
		if opts.Tail && opts.Limit > 0 && len(out) > opts.Limit {
			out = append(out[:0], out[len(out)-opts.Limit:]...)
		}

		if !hasMore || next == "" {
			return out, nil
		}
		cursor = next
	}
}

func toMessage(channel string, m slackapi.Message) (Message, error) {
	if m.Timestamp == "" {
		return Message{}, fmt.Errorf("missing ts")
	}
	t, err := ParseTimestamp(m.Timestamp)
	if err != nil {
		return Message{}, err
	}
	if m.User == "" && m.BotID == "" && m.SubType == "" {
		return Message{}, fmt.Errorf("message has no author")
	}
	ch := m.Channel
	if ch == "" {
		ch = channel
	}
	return Message{
		Channel:  ch,
		User:     m.User,
		BotID:    m.BotID,
		Text:     m.Text,
		TS:       m.Timestamp,
		ThreadTS: m.ThreadTimestamp,
		Subtype:  m.SubType,
		Time:     t,
		Blocks:   m.Blocks.BlockSet,
	}, nil
}

// ParseTimestamp converts a Slack ts ("1700000000.000100") into a time with
// microsecond precision.
func ParseTimestamp(ts string) (time.Time, error) {
	secPart, fracPart, _ := strings.Cut(ts, ".")
	sec, err := strconv.ParseInt(secPart, 10, 64)
	if err != nil || sec < 0 {
		return time.Time{}, fmt.Errorf("slack: invalid timestamp %q", ts)
	}
	var micros int64
	if fracPart != "" {
		if len(fracPart) > 6 {
			fracPart = fracPart[:6]
		}
		fracPart += strings.Repeat("0", 6-len(fracPart))
		micros, err = strconv.ParseInt(fracPart, 10, 64)
		if err != nil || micros < 0 {
			return time.Time{}, fmt.Errorf("slack: invalid timestamp %q", ts)
		}
	}
	return time.Unix(sec, micros*int64(time.Microsecond)).UTC(), nil
}
