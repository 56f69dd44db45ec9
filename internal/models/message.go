package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ConversationMessage is one turn in a session's ordered history. A Slack
// ts is recorded at most once per session; turns without one are not
// constrained.
type ConversationMessage struct {
	ID             string         `gorm:"primaryKey;size:36"`
	SessionID      string         `gorm:"size:36;not null;index:idx_message_session_created,priority:1;uniqueIndex:idx_message_session_slack_ts,priority:1"`
	Role           MessageRole    `gorm:"size:16;not null"`
	Content        string         `gorm:"type:text;not null"`
	Metadata       datatypes.JSON
	CreatedAt      time.Time      `gorm:"index:idx_message_session_created,priority:2"`
	SlackMessageTS *string        `gorm:"column:slack_message_ts;size:32;uniqueIndex:idx_message_session_slack_ts,priority:2"`

	Session *MinnoSession `gorm:"foreignKey:SessionID;constraint:OnDelete:CASCADE"`
}

// BeforeCreate assigns a time-ordered id when none is set.
func (m *ConversationMessage) BeforeCreate(tx *gorm.DB) error {
	return assignID(&m.ID)
}

// AfterFind rejects rows with an unknown role.
func (m *ConversationMessage) AfterFind(tx *gorm.DB) error {
	if !m.Role.Valid() {
		return &InvalidValueError{Table: "conversation_messages", Column: "role", Value: string(m.Role)}
	}
	return nil
}
