package store

import (
	"context"
	"fmt"

	"github.com/minno-ai/minno/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SessionFields are the optional columns of an upsert. Nil fields leave
// the stored values untouched; Context replaces the whole document.
type SessionFields struct {
	NotionTaskID    *string
	NotionProjectID *string
	Context         map[string]any
	Status          *models.SessionStatus
}

// UpsertSession inserts or updates the session keyed on (channelID,
// threadID). New sessions start active unless fields.Status says otherwise.
// Concurrent upserts of the same key are serialized by the unique index.
func (s *Store) UpsertSession(ctx context.Context, workspaceID, channelID, threadID string, fields SessionFields) (*models.MinnoSession, error) {
	status := models.SessionActive
	if fields.Status != nil {
		if !fields.Status.Valid() {
			return nil, &models.InvalidValueError{Table: "minno_sessions", Column: "status", Value: string(*fields.Status)}
		}
		status = *fields.Status
	}
	sessCtx, err := marshalJSON(fields.Context)
	if err != nil {
		return nil, fmt.Errorf("store: upsert session: encode context: %w", err)
	}

	now := s.clock()
	sess := models.MinnoSession{
		WorkspaceID:     workspaceID,
		ChannelID:       channelID,
		ThreadID:        threadID,
		NotionTaskID:    fields.NotionTaskID,
		NotionProjectID: fields.NotionProjectID,
		Context:         sessCtx,
		Status:          status,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	assign := map[string]interface{}{
		"updated_at":        s.overwrite("updated_at"),
		"notion_task_id":    s.coalesce("minno_sessions", "notion_task_id"),
		"notion_project_id": s.coalesce("minno_sessions", "notion_project_id"),
		"context":           s.coalesce("minno_sessions", "context"),
	}
	if fields.Status != nil {
		assign["status"] = s.overwrite("status")
	}

	var out models.MinnoSession
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "channel_id"}, {Name: "thread_id"}},
			DoUpdates: clause.Assignments(assign),
		}).Create(&sess).Error
		if err != nil {
			return err
		}
		return tx.Where("channel_id = ? AND thread_id = ?", channelID, threadID).First(&out).Error
	})
	if err != nil {
		return nil, s.fail("upsert session", err)
	}
	return &out, nil
}

// GetSessionByThread returns the session bound to a Slack thread.
func (s *Store) GetSessionByThread(ctx context.Context, channelID, threadID string) (*models.MinnoSession, error) {
	var sess models.MinnoSession
	err := s.db.WithContext(ctx).
		Where("channel_id = ? AND thread_id = ?", channelID, threadID).
		First(&sess).Error
	if err != nil {
		return nil, s.fail("get session by thread", err)
	}
	return &sess, nil
}

// GetSession returns a session by id.
func (s *Store) GetSession(ctx context.Context, id string) (*models.MinnoSession, error) {
	var sess models.MinnoSession
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&sess).Error; err != nil {
		return nil, s.fail("get session", err)
	}
	return &sess, nil
}

// ListActiveSessions returns a workspace's active sessions, most recently
// updated first.
func (s *Store) ListActiveSessions(ctx context.Context, workspaceID string) ([]models.MinnoSession, error) {
	var out []models.MinnoSession
	err := s.db.WithContext(ctx).
		Where("workspace_id = ? AND status = ?", workspaceID, models.SessionActive).
		Order("updated_at DESC").
		Order("id DESC").
		Find(&out).Error
	if err != nil {
		return nil, s.fail("list active sessions", err)
	}
	return out, nil
}

// UpdateSessionStatus sets a session's status. It returns ErrNotFound when
// no session has the given id.
func (s *Store) UpdateSessionStatus(ctx context.Context, id string, status models.SessionStatus) error {
	if !status.Valid() {
		return &models.InvalidValueError{Table: "minno_sessions", Column: "status", Value: string(status)}
	}
	res := s.db.WithContext(ctx).Model(&models.MinnoSession{}).
		Where("id = ?", id).
		UpdateColumns(map[string]interface{}{"status": status, "updated_at": s.clock()})
	if res.Error != nil {
		return s.fail("update session status", res.Error)
	}
	if res.RowsAffected == 0 {
		return s.fail("update session status", gorm.ErrRecordNotFound)
	}
	return nil
}

// DeleteSession removes a session and, by cascade, its messages.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&models.MinnoSession{})
	if res.Error != nil {
		return s.fail("delete session", res.Error)
	}
	if res.RowsAffected == 0 {
		return s.fail("delete session", gorm.ErrRecordNotFound)
	}
	return nil
}
