// Package bot turns acknowledged Slack deliveries into session state:
// each thread becomes a MinnoSession and each human message a turn.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/minno-ai/minno/internal/events"
	"github.com/minno-ai/minno/internal/ingest"
	"github.com/minno-ai/minno/internal/models"
	"github.com/minno-ai/minno/internal/slack"
	"github.com/minno-ai/minno/internal/store"
)

// Store is the persistence the processor needs.
type Store interface {
	UpsertWorkspace(ctx context.Context, slackTeamID, name string, notionWorkspaceID *string) (*models.Workspace, error)
	GetWorkspaceBySlackTeamID(ctx context.Context, slackTeamID string) (*models.Workspace, error)
	GetOAuthToken(ctx context.Context, provider models.Provider, workspaceID string) (*store.Token, error)
	UpsertSession(ctx context.Context, workspaceID, channelID, threadID string, fields store.SessionFields) (*models.MinnoSession, error)
	GetSessionByThread(ctx context.Context, channelID, threadID string) (*models.MinnoSession, error)
	AppendMessage(ctx context.Context, sessionID string, in store.MessageInput) (*models.ConversationMessage, error)
	ListRecentMessages(ctx context.Context, sessionID string, limit int) ([]models.ConversationMessage, error)
}

// SlackAPI is the slice of the Slack client used while processing.
type SlackAPI interface {
	AddReaction(ctx context.Context, ref slack.MessageRef, name string) error
	ThreadHistory(ctx context.Context, channel, threadTS string, opts slack.HistoryOptions) ([]slack.Message, error)
}

// ClientFactory builds a SlackAPI for a workspace bot token.
type ClientFactory func(token string) (SlackAPI, error)

// AckReaction is added to messages that mention the app.
const AckReaction = "eyes"

// Message subtypes that carry a human turn. Every other subtype is an
// edit, deletion, join or other system notice.
var contentSubtypes = map[string]bool{
	"":                 true,
	"thread_broadcast": true,
	"file_share":       true,
	"me_message":       true,
}

// Opts configures a Processor.
type Opts struct {
	Store  Store
	Slack  ClientFactory // optional; without it no Slack calls are made
	Logger *slog.Logger
	// BackfillLimit caps how many of the newest earlier replies are copied
	// when a mention lands in a thread the session has no history for.
	BackfillLimit int
}

// Processor implements ingest.Processor and events.Handler.
type Processor struct {
	store         Store
	slack         ClientFactory
	log           *slog.Logger
	backfillLimit int
}

var (
	_ ingest.Processor = (*Processor)(nil)
	_ events.Handler   = (*Processor)(nil)
)

// New creates a Processor.
func New(opts Opts) (*Processor, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("bot: store is required")
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	limit := opts.BackfillLimit
	if limit <= 0 {
		limit = 50
	}
	return &Processor{store: opts.Store, slack: opts.Slack, log: log, backfillLimit: limit}, nil
}

// Process dispatches one delivery. Replayed dead letters arrive with only
// Payload set and are parsed here.
func (p *Processor) Process(ctx context.Context, d ingest.Delivery) error {
	switch d.Kind {
	case models.KindEvent:
		env := d.Envelope
		if env == nil {
			var err error
			if env, err = events.ParseEnvelope(d.Payload); err != nil {
				return fmt.Errorf("bot: parse stored event: %w", err)
			}
		}
		return env.Event.Accept(ctx, env, p)
	case models.KindInteraction:
		cb := d.Interaction
		if cb == nil {
			var err error
			if cb, err = events.ParseInteraction(string(d.Payload)); err != nil {
				return fmt.Errorf("bot: parse stored interaction: %w", err)
			}
		}
		return p.handleInteraction(ctx, cb)
	}
	return fmt.Errorf("bot: unknown delivery kind %q", d.Kind)
}

// HandleMessage records a human message as a user turn.
func (p *Processor) HandleMessage(ctx context.Context, env *events.Envelope, ev *events.MessageEvent) error {
	if events.IsFromAutomatedSender(ev) || !contentSubtypes[ev.Subtype] || ev.User == "" {
		p.log.Debug("bot: skipping message", "event_id", env.EventID, "subtype", ev.Subtype)
		return nil
	}
	t, err := p.openThread(ctx, env.TeamID, ev.Channel, events.ThreadKey(ev))
	if err != nil {
		return err
	}
	return p.appendTurn(ctx, t.session, env, ev.Type(), ev.User, ev.Text, ev.TS)
}

// HandleAppMention records the mention, acknowledges it with a reaction
// and, when the session holds nothing but this post, backfills earlier
// replies.
func (p *Processor) HandleAppMention(ctx context.Context, env *events.Envelope, ev *events.AppMentionEvent) error {
	if events.IsFromAutomatedSender(ev) {
		return nil
	}
	t, err := p.openThread(ctx, env.TeamID, ev.Channel, events.ThreadKey(ev))
	if err != nil {
		return err
	}

	api, botUserID := p.clientFor(ctx, t.workspace)
	if api != nil && events.IsThreadReply(ev) {
		bare, err := p.onlyHolds(ctx, t.session, ev.TS)
		if err != nil {
			return err
		}
		if bare {
			if err := p.backfill(ctx, api, botUserID, t.session, ev); err != nil {
				p.log.Warn("bot: backfill thread", "channel", ev.Channel, "thread_ts", ev.ThreadTS, "error", err)
			}
		}
	}

	if err := p.appendTurn(ctx, t.session, env, ev.Type(), ev.User, ev.Text, ev.TS); err != nil {
		return err
	}

	if api != nil {
		err := api.AddReaction(ctx, slack.MessageRef{Channel: ev.Channel, TS: ev.TS}, AckReaction)
		var pe *slack.ProviderError
		if err != nil && !(errors.As(err, &pe) && pe.Code == "already_reacted") {
			p.log.Warn("bot: add reaction", "channel", ev.Channel, "ts", ev.TS, "error", err)
		}
	}
	return nil
}

// HandleReactionAdded is observed only.
func (p *Processor) HandleReactionAdded(ctx context.Context, env *events.Envelope, ev *events.ReactionAddedEvent) error {
	p.log.Info("bot: reaction added", "team_id", env.TeamID, "reaction", ev.Reaction,
		"channel", ev.Item.Channel, "ts", ev.Item.TS, "user", ev.User)
	return nil
}

type thread struct {
	workspace *models.Workspace
	session   *models.MinnoSession
}

// openThread ensures the workspace and session for (channel, threadTS).
func (p *Processor) openThread(ctx context.Context, teamID, channel, threadTS string) (*thread, error) {
	ws, err := p.store.GetWorkspaceBySlackTeamID(ctx, teamID)
	if errors.Is(err, store.ErrNotFound) {
		// First event from a team that never ran the OAuth install.
		ws, err = p.store.UpsertWorkspace(ctx, teamID, teamID, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("bot: workspace %s: %w", teamID, err)
	}

	sess, err := p.store.UpsertSession(ctx, ws.ID, channel, threadTS, store.SessionFields{})
	if err != nil {
		return nil, fmt.Errorf("bot: upsert session: %w", err)
	}
	return &thread{workspace: ws, session: sess}, nil
}

// onlyHolds reports whether the session has no turns other than ts. The
// message event for a mention can land first, so an existing session does
// not mean the thread was already captured.
func (p *Processor) onlyHolds(ctx context.Context, sess *models.MinnoSession, ts string) (bool, error) {
	recent, err := p.store.ListRecentMessages(ctx, sess.ID, 2)
	if err != nil {
		return false, fmt.Errorf("bot: load session history: %w", err)
	}
	for _, m := range recent {
		if m.SlackMessageTS == nil || *m.SlackMessageTS != ts {
			return false, nil
		}
	}
	return true, nil
}

func (p *Processor) appendTurn(ctx context.Context, sess *models.MinnoSession, env *events.Envelope, eventType, user, text, ts string) error {
	_, err := p.store.AppendMessage(ctx, sess.ID, store.MessageInput{
		Role:    models.RoleUser,
		Content: text,
		Metadata: map[string]any{
			"slack_user": user,
			"event_id":   env.EventID,
			"event_type": eventType,
			"team_id":    env.TeamID,
		},
		SlackMessageTS: &ts,
	})
	if errors.Is(err, store.ErrDuplicateMessage) {
		// app_mention and message both fire for one post.
		return nil
	}
	if err != nil {
		return fmt.Errorf("bot: append message: %w", err)
	}
	return nil
}

// clientFor returns a Slack client for the workspace's bot token, or nil
// when the workspace has not installed the app.
func (p *Processor) clientFor(ctx context.Context, ws *models.Workspace) (SlackAPI, string) {
	if p.slack == nil {
		return nil, ""
	}
	tok, err := p.store.GetOAuthToken(ctx, models.ProviderSlack, ws.ID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			p.log.Warn("bot: load slack token", "workspace_id", ws.ID, "error", err)
		}
		return nil, ""
	}
	api, err := p.slack(tok.AccessToken)
	if err != nil {
		p.log.Warn("bot: build slack client", "workspace_id", ws.ID, "error", err)
		return nil, ""
	}
	botUserID := ""
	if tok.BotUserID != nil {
		botUserID = *tok.BotUserID
	}
	return api, botUserID
}

// backfill appends the newest replies older than ev so the session starts
// with the conversation that led to the mention.
func (p *Processor) backfill(ctx context.Context, api SlackAPI, botUserID string, sess *models.MinnoSession, ev *events.AppMentionEvent) error {
	msgs, err := api.ThreadHistory(ctx, ev.Channel, ev.ThreadTS, slack.HistoryOptions{
		Limit:  p.backfillLimit,
		Latest: ev.TS,
		Tail:   true,
	})
	if err != nil {
		return err
	}
	n := 0
	for _, m := range msgs {
		if m.TS == ev.TS {
			continue
		}
		role := models.RoleUser
		if m.BotID != "" || (botUserID != "" && m.User == botUserID) {
			role = models.RoleAssistant
		}
		ts := m.TS
		_, err := p.store.AppendMessage(ctx, sess.ID, store.MessageInput{
			Role:    role,
			Content: m.Text,
			Metadata: map[string]any{
				"slack_user": m.User,
				"backfill":   true,
			},
			SlackMessageTS: &ts,
		})
		if errors.Is(err, store.ErrDuplicateMessage) {
			continue
		}
		if err != nil {
			return err
		}
		n++
	}
	p.log.Info("bot: backfilled thread", "session_id", sess.ID, "messages", n)
	return nil
}
