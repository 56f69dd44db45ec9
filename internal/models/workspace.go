package models

import (
	"time"

	"gorm.io/gorm"
)

// Workspace is a Slack workspace (team) that installed Minno, optionally
// linked to a Notion workspace.
type Workspace struct {
	ID                string  `gorm:"primaryKey;size:36"`
	SlackTeamID       string  `gorm:"size:32;not null;uniqueIndex"`
	Name              string  `gorm:"size:255;not null"`
	NotionWorkspaceID *string `gorm:"size:64"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// BeforeCreate assigns a time-ordered id when none is set.
func (w *Workspace) BeforeCreate(tx *gorm.DB) error {
	return assignID(&w.ID)
}
