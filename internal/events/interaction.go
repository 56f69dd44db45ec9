package events

import (
	"encoding/json"

	slackapi "github.com/slack-go/slack"
)

// ParseInteraction decodes the "payload" form field of an interactivity
// request.
func ParseInteraction(payload string) (*slackapi.InteractionCallback, error) {
	if payload == "" {
		return nil, &ValidationError{Field: "payload", Reason: "required"}
	}
	var cb slackapi.InteractionCallback
	if err := json.Unmarshal([]byte(payload), &cb); err != nil {
		return nil, prefixField("payload", decodeError(err))
	}
	if cb.Type == "" {
		return nil, &ValidationError{Field: "payload.type", Reason: "required"}
	}
	if cb.Team.ID == "" {
		return nil, &ValidationError{Field: "payload.team.id", Reason: "required"}
	}
	return &cb, nil
}

// InteractionThread returns the channel and thread ts an interaction
// happened in, or empty strings when it was not attached to a message.
func InteractionThread(cb *slackapi.InteractionCallback) (channel, thread string) {
	channel = cb.Container.ChannelID
	if channel == "" {
		channel = cb.Channel.ID
	}
	thread = cb.Container.ThreadTs
	if thread == "" {
		thread = cb.Message.ThreadTimestamp
	}
	if thread == "" {
		thread = cb.Container.MessageTs
	}
	return channel, thread
}
