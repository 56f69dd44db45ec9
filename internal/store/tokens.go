package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/minno-ai/minno/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TokenInput is a plaintext credential to store.
type TokenInput struct {
	AccessToken  string
	RefreshToken *string
	ExpiresAt    *time.Time
	Scopes       []string
	BotUserID    *string
	TeamID       *string
	Metadata     map[string]any
}

// Token is a stored credential with its secrets opened.
type Token struct {
	ID           string
	WorkspaceID  string
	Provider     models.Provider
	AccessToken  string
	RefreshToken *string
	ExpiresAt    *time.Time
	Scopes       []string
	BotUserID    *string
	TeamID       *string
	Metadata     map[string]any
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// UpsertOAuthToken seals and stores a credential keyed on (workspaceID,
// provider), replacing any previous credential for that pair.
func (s *Store) UpsertOAuthToken(ctx context.Context, provider models.Provider, workspaceID string, in TokenInput) (*Token, error) {
	if !provider.Valid() {
		return nil, &models.InvalidValueError{Table: "oauth_tokens", Column: "provider", Value: string(provider)}
	}
	if in.AccessToken == "" {
		return nil, fmt.Errorf("store: upsert oauth token: access token is required")
	}

	access, err := s.sealer.Seal(in.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("store: upsert oauth token: %w", err)
	}
	var refresh *string
	if in.RefreshToken != nil {
		sealed, err := s.sealer.Seal(*in.RefreshToken)
		if err != nil {
			return nil, fmt.Errorf("store: upsert oauth token: %w", err)
		}
		refresh = &sealed
	}
	var scopes []byte
	if len(in.Scopes) > 0 {
		if scopes, err = json.Marshal(in.Scopes); err != nil {
			return nil, fmt.Errorf("store: upsert oauth token: encode scopes: %w", err)
		}
	}
	meta, err := marshalJSON(in.Metadata)
	if err != nil {
		return nil, fmt.Errorf("store: upsert oauth token: encode metadata: %w", err)
	}

	now := s.clock()
	row := models.OAuthToken{
		WorkspaceID:           workspaceID,
		Provider:              provider,
		AccessTokenEncrypted:  access,
		RefreshTokenEncrypted: refresh,
		ExpiresAt:             in.ExpiresAt,
		Scopes:                datatypes.JSON(scopes),
		BotUserID:             in.BotUserID,
		TeamID:                in.TeamID,
		Metadata:              meta,
		CreatedAt:             now,
		UpdatedAt:             now,
	}

	var out models.OAuthToken
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "workspace_id"}, {Name: "provider"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"access_token_encrypted", "refresh_token_encrypted", "expires_at",
				"scopes", "bot_user_id", "team_id", "metadata", "updated_at",
			}),
		}).Create(&row).Error
		if err != nil {
			return err
		}
		return tx.Where("workspace_id = ? AND provider = ?", workspaceID, provider).First(&out).Error
	})
	if err != nil {
		return nil, s.fail("upsert oauth token", err)
	}
	return s.openToken(&out)
}

// GetOAuthToken returns the opened credential for (provider, workspaceID).
func (s *Store) GetOAuthToken(ctx context.Context, provider models.Provider, workspaceID string) (*Token, error) {
	var row models.OAuthToken
	err := s.db.WithContext(ctx).
		Where("workspace_id = ? AND provider = ?", workspaceID, provider).
		First(&row).Error
	if err != nil {
		return nil, s.fail("get oauth token", err)
	}
	return s.openToken(&row)
}

func (s *Store) openToken(row *models.OAuthToken) (*Token, error) {
	access, err := s.sealer.Open(row.AccessTokenEncrypted)
	if err != nil {
		return nil, fmt.Errorf("store: open %s token for workspace %s: %w", row.Provider, row.WorkspaceID, err)
	}
	tok := &Token{
		ID:          row.ID,
		WorkspaceID: row.WorkspaceID,
		Provider:    row.Provider,
		AccessToken: access,
		ExpiresAt:   row.ExpiresAt,
		BotUserID:   row.BotUserID,
		TeamID:      row.TeamID,
		CreatedAt:   row.CreatedAt,
		UpdatedAt:   row.UpdatedAt,
	}
	if row.RefreshTokenEncrypted != nil {
		refresh, err := s.sealer.Open(*row.RefreshTokenEncrypted)
		if err != nil {
			return nil, fmt.Errorf("store: open %s refresh token for workspace %s: %w", row.Provider, row.WorkspaceID, err)
		}
		tok.RefreshToken = &refresh
	}
	if len(row.Scopes) > 0 {
		if err := json.Unmarshal(row.Scopes, &tok.Scopes); err != nil {
			return nil, fmt.Errorf("store: decode scopes: %w", err)
		}
	}
	meta, err := DecodeJSON(row.Metadata)
	if err != nil {
		return nil, err
	}
	tok.Metadata = meta
	return tok, nil
}
