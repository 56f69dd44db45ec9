package store

import (
	"context"

	"github.com/minno-ai/minno/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// FailedEventInput describes a delivery that could not be processed. When
// ID names an existing dead letter, its attempt count is bumped instead.
type FailedEventInput struct {
	ID      string
	EventID string
	TeamID  string
	Kind    models.FailedEventKind
	Payload []byte
	Err     string
}

// FailedEventFilter narrows ListFailedEvents.
type FailedEventFilter struct {
	IncludeResolved bool
	Limit           int
}

// RecordFailedEvent stores a dead letter or records another failed attempt
// of an existing one.
func (s *Store) RecordFailedEvent(ctx context.Context, in FailedEventInput) (*models.FailedEvent, error) {
	if !in.Kind.Valid() {
		return nil, &models.InvalidValueError{Table: "failed_events", Column: "kind", Value: string(in.Kind)}
	}
	now := s.clock()

	if in.ID != "" {
		var out models.FailedEvent
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			res := tx.Model(&models.FailedEvent{}).Where("id = ?", in.ID).UpdateColumns(map[string]interface{}{
				"attempts":    gorm.Expr("attempts + 1"),
				"error":       in.Err,
				"updated_at":  now,
				"resolved_at": nil,
			})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return gorm.ErrRecordNotFound
			}
			return tx.Where("id = ?", in.ID).First(&out).Error
		})
		if err != nil {
			return nil, s.fail("record failed event", err)
		}
		return &out, nil
	}

	fe := models.FailedEvent{
		EventID:   in.EventID,
		TeamID:    in.TeamID,
		Kind:      in.Kind,
		Payload:   datatypes.JSON(in.Payload),
		Error:     in.Err,
		Attempts:  1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.db.WithContext(ctx).Create(&fe).Error; err != nil {
		return nil, s.fail("record failed event", err)
	}
	return &fe, nil
}

// ListFailedEvents returns dead letters, newest first.
func (s *Store) ListFailedEvents(ctx context.Context, f FailedEventFilter) ([]models.FailedEvent, error) {
	q := s.db.WithContext(ctx).Order("created_at DESC").Order("id DESC")
	if !f.IncludeResolved {
		q = q.Where("resolved_at IS NULL")
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	var out []models.FailedEvent
	if err := q.Find(&out).Error; err != nil {
		return nil, s.fail("list failed events", err)
	}
	return out, nil
}

// GetFailedEvent returns one dead letter.
func (s *Store) GetFailedEvent(ctx context.Context, id string) (*models.FailedEvent, error) {
	var fe models.FailedEvent
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&fe).Error; err != nil {
		return nil, s.fail("get failed event", err)
	}
	return &fe, nil
}

// ResolveFailedEvent marks a dead letter as handled.
func (s *Store) ResolveFailedEvent(ctx context.Context, id string) error {
	now := s.clock()
	res := s.db.WithContext(ctx).Model(&models.FailedEvent{}).
		Where("id = ?", id).
		UpdateColumns(map[string]interface{}{"resolved_at": now, "updated_at": now})
	if res.Error != nil {
		return s.fail("resolve failed event", res.Error)
	}
	if res.RowsAffected == 0 {
		return s.fail("resolve failed event", gorm.ErrRecordNotFound)
	}
	return nil
}
