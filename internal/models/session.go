package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// MinnoSession is the conversation state bound to one Slack thread. The
// pair (ChannelID, ThreadID) is unique; ThreadID is the root message ts.
type MinnoSession struct {
	ID              string         `gorm:"primaryKey;size:36"`
	WorkspaceID     string         `gorm:"size:36;not null;index"`
	ChannelID       string         `gorm:"size:32;not null;uniqueIndex:idx_session_thread,priority:1"`
	ThreadID        string         `gorm:"size:32;not null;uniqueIndex:idx_session_thread,priority:2"`
	NotionTaskID    *string        `gorm:"size:64"`
	NotionProjectID *string        `gorm:"size:64"`
	Context         datatypes.JSON
	Status          SessionStatus  `gorm:"size:16;not null;default:active;index"`
	CreatedAt       time.Time
	UpdatedAt       time.Time      `gorm:"index"`

	Workspace *Workspace `gorm:"constraint:OnDelete:CASCADE"`
}

// BeforeCreate assigns a time-ordered id when none is set.
func (s *MinnoSession) BeforeCreate(tx *gorm.DB) error {
	if s.Status == "" {
		s.Status = SessionActive
	}
	return assignID(&s.ID)
}

// AfterFind rejects rows with an unknown status.
func (s *MinnoSession) AfterFind(tx *gorm.DB) error {
	if !s.Status.Valid() {
		return &InvalidValueError{Table: "minno_sessions", Column: "status", Value: string(s.Status)}
	}
	return nil
}
