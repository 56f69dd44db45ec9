package bot

import (
	"context"
	"errors"
	"fmt"

	"github.com/minno-ai/minno/internal/events"
	"github.com/minno-ai/minno/internal/models"
	"github.com/minno-ai/minno/internal/store"
	slackapi "github.com/slack-go/slack"
)

// handleInteraction records a block action against the session of the
// thread it was clicked in. Interactions outside a known thread are
// logged and dropped.
func (p *Processor) handleInteraction(ctx context.Context, cb *slackapi.InteractionCallback) error {
	channel, threadTS := events.InteractionThread(cb)
	if channel == "" || threadTS == "" {
		p.log.Info("bot: interaction outside a thread", "type", cb.Type, "team_id", cb.Team.ID)
		return nil
	}
	sess, err := p.store.GetSessionByThread(ctx, channel, threadTS)
	if errors.Is(err, store.ErrNotFound) {
		p.log.Info("bot: interaction for unknown session", "channel", channel, "thread_ts", threadTS)
		return nil
	}
	if err != nil {
		return fmt.Errorf("bot: lookup session: %w", err)
	}

	var actions []map[string]any
	content := ""
	for _, a := range cb.ActionCallback.BlockActions {
		if a == nil {
			continue
		}
		actions = append(actions, map[string]any{
			"action_id": a.ActionID,
			"block_id":  a.BlockID,
			"value":     a.Value,
		})
		if content == "" {
			content = a.Value
			if content == "" {
				content = a.ActionID
			}
		}
	}

	_, err = p.store.AppendMessage(ctx, sess.ID, store.MessageInput{
		Role:    models.RoleUser,
		Content: content,
		Metadata: map[string]any{
			"slack_user":       cb.User.ID,
			"interaction_type": string(cb.Type),
			"actions":          actions,
			"team_id":          cb.Team.ID,
		},
	})
	if err != nil {
		return fmt.Errorf("bot: append interaction: %w", err)
	}
	return nil
}
