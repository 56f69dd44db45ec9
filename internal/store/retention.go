package store

import (
	"context"
	"time"

	"github.com/minno-ai/minno/internal/models"
)

// ArchiveIdleSessions marks active sessions not updated since cutoff as
// archived and returns how many changed.
func (s *Store) ArchiveIdleSessions(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Model(&models.MinnoSession{}).
		Where("status = ? AND updated_at < ?", models.SessionActive, cutoff.UTC()).
		UpdateColumns(map[string]interface{}{"status": models.SessionArchived, "updated_at": s.clock()})
	if res.Error != nil {
		return 0, s.fail("archive idle sessions", res.Error)
	}
	return res.RowsAffected, nil
}

// PurgeArchivedSessions deletes archived sessions last touched before
// cutoff. Their messages go with them.
func (s *Store) PurgeArchivedSessions(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", models.SessionArchived, cutoff.UTC()).
		Delete(&models.MinnoSession{})
	if res.Error != nil {
		return 0, s.fail("purge archived sessions", res.Error)
	}
	return res.RowsAffected, nil
}

// PurgeEmptySessions deletes sessions created before cutoff that never
// received a message.
func (s *Store) PurgeEmptySessions(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("created_at < ?", cutoff.UTC()).
		Where("NOT EXISTS (SELECT 1 FROM conversation_messages m WHERE m.session_id = minno_sessions.id)").
		Delete(&models.MinnoSession{})
	if res.Error != nil {
		return 0, s.fail("purge empty sessions", res.Error)
	}
	return res.RowsAffected, nil
}
