package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// OAuthToken holds one provider credential for a workspace. Token columns
// carry sealed ciphertext, never plaintext.
type OAuthToken struct {
	ID                    string         `gorm:"primaryKey;size:36"`
	WorkspaceID           string         `gorm:"size:36;not null;uniqueIndex:idx_oauth_workspace_provider,priority:1"`
	Provider              Provider       `gorm:"size:16;not null;uniqueIndex:idx_oauth_workspace_provider,priority:2"`
	AccessTokenEncrypted  string         `gorm:"type:text;not null"`
	RefreshTokenEncrypted *string        `gorm:"type:text"`
	ExpiresAt             *time.Time
	Scopes                datatypes.JSON
	BotUserID             *string        `gorm:"size:32"`
	TeamID                *string        `gorm:"size:64"`
	Metadata              datatypes.JSON
	CreatedAt             time.Time
	UpdatedAt             time.Time

	Workspace *Workspace `gorm:"constraint:OnDelete:CASCADE"`
}

// TableName keeps the conventional table name rather than gorm's o_auth_tokens.
func (OAuthToken) TableName() string { return "oauth_tokens" }

// BeforeCreate assigns a time-ordered id when none is set.
func (o *OAuthToken) BeforeCreate(tx *gorm.DB) error {
	return assignID(&o.ID)
}

// AfterFind rejects rows with an unknown provider.
func (o *OAuthToken) AfterFind(tx *gorm.DB) error {
	if !o.Provider.Valid() {
		return &InvalidValueError{Table: "oauth_tokens", Column: "provider", Value: string(o.Provider)}
	}
	return nil
}
