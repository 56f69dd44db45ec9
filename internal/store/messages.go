package store

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/minno-ai/minno/internal/models"
	"gorm.io/gorm/clause"
)

// ErrDuplicateMessage is returned by AppendMessage when the session
// already holds a message with the same Slack ts.
var ErrDuplicateMessage = errors.New("store: message already recorded")

// MessageInput describes a message to append.
type MessageInput struct {
	Role           models.MessageRole
	Content        string
	Metadata       map[string]any
	SlackMessageTS *string
}

// AppendMessage adds a message to a session's history. It returns
// ErrNotFound when the session does not exist and ErrDuplicateMessage when
// SlackMessageTS is already recorded for it. The check is the insert
// itself, so concurrent writers of one ts cannot both succeed.
func (s *Store) AppendMessage(ctx context.Context, sessionID string, in MessageInput) (*models.ConversationMessage, error) {
	if !in.Role.Valid() {
		return nil, &models.InvalidValueError{Table: "conversation_messages", Column: "role", Value: string(in.Role)}
	}
	meta, err := marshalJSON(in.Metadata)
	if err != nil {
		return nil, fmt.Errorf("store: append message: encode metadata: %w", err)
	}
	msg := models.ConversationMessage{
		SessionID:      sessionID,
		Role:           in.Role,
		Content:        in.Content,
		Metadata:       meta,
		SlackMessageTS: in.SlackMessageTS,
		CreatedAt:      s.clock(),
	}
	tx := s.db.WithContext(ctx)
	if msg.SlackMessageTS != nil {
		tx = tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "session_id"}, {Name: "slack_message_ts"}},
			DoNothing: true,
		})
	}
	res := tx.Create(&msg)
	if res.Error != nil {
		return nil, s.fail("append message", res.Error)
	}
	if res.RowsAffected == 0 && msg.SlackMessageTS != nil {
		return nil, fmt.Errorf("store: append message %s: %w", *msg.SlackMessageTS, ErrDuplicateMessage)
	}
	return &msg, nil
}

// ListMessages returns a session's full history in chronological order.
func (s *Store) ListMessages(ctx context.Context, sessionID string) ([]models.ConversationMessage, error) {
	var out []models.ConversationMessage
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&out).Error
	if err != nil {
		return nil, s.fail("list messages", err)
	}
	return out, nil
}

// ListRecentMessages returns the last limit messages of a session in
// chronological order.
func (s *Store) ListRecentMessages(ctx context.Context, sessionID string, limit int) ([]models.ConversationMessage, error) {
	if limit <= 0 {
		return nil, nil
	}
	var out []models.ConversationMessage
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, s.fail("list recent messages", err)
	}
	slices.Reverse(out)
	return out, nil
}

// MessageExists reports whether a message with the given Slack ts is
// already recorded for the session.
func (s *Store) MessageExists(ctx context.Context, sessionID, slackTS string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.ConversationMessage{}).
		Where("session_id = ? AND slack_message_ts = ?", sessionID, slackTS).
		Count(&count).Error
	if err != nil {
		return false, s.fail("message exists", err)
	}
	return count > 0, nil
}
