package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// FailedEvent is a dead-lettered delivery that was acknowledged to Slack
// but could not be processed. Operators replay or resolve it.
type FailedEvent struct {
	ID         string          `gorm:"primaryKey;size:36"`
	EventID    string          `gorm:"size:64;index"`
	TeamID     string          `gorm:"size:32;index"`
	Kind       FailedEventKind `gorm:"size:16;not null"`
	Payload    datatypes.JSON  `gorm:"not null"`
	Error      string          `gorm:"type:text"`
	Attempts   int             `gorm:"not null;default:1"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
	ResolvedAt *time.Time `gorm:"index"`
}

// BeforeCreate assigns a time-ordered id when none is set.
func (f *FailedEvent) BeforeCreate(tx *gorm.DB) error {
	return assignID(&f.ID)
}

// AfterFind rejects rows with an unknown kind.
func (f *FailedEvent) AfterFind(tx *gorm.DB) error {
	if !f.Kind.Valid() {
		return &InvalidValueError{Table: "failed_events", Column: "kind", Value: string(f.Kind)}
	}
	return nil
}
