package store

import (
	"context"

	"github.com/minno-ai/minno/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UpsertWorkspace inserts or updates the workspace keyed on slackTeamID.
// A nil notionWorkspaceID never erases an existing link.
func (s *Store) UpsertWorkspace(ctx context.Context, slackTeamID, name string, notionWorkspaceID *string) (*models.Workspace, error) {
	now := s.clock()
	ws := models.Workspace{
		SlackTeamID:       slackTeamID,
		Name:              name,
		NotionWorkspaceID: notionWorkspaceID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	var out models.Workspace
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "slack_team_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"name":                s.overwrite("name"),
				"updated_at":          s.overwrite("updated_at"),
				"notion_workspace_id": s.coalesce("workspaces", "notion_workspace_id"),
			}),
		}).Create(&ws).Error
		if err != nil {
			return err
		}
		return tx.Where("slack_team_id = ?", slackTeamID).First(&out).Error
	})
	if err != nil {
		return nil, s.fail("upsert workspace", err)
	}
	return &out, nil
}

// GetWorkspaceBySlackTeamID returns the workspace for a Slack team.
func (s *Store) GetWorkspaceBySlackTeamID(ctx context.Context, slackTeamID string) (*models.Workspace, error) {
	var ws models.Workspace
	if err := s.db.WithContext(ctx).Where("slack_team_id = ?", slackTeamID).First(&ws).Error; err != nil {
		return nil, s.fail("get workspace", err)
	}
	return &ws, nil
}

// GetWorkspace returns the workspace with the given id.
func (s *Store) GetWorkspace(ctx context.Context, id string) (*models.Workspace, error) {
	var ws models.Workspace
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&ws).Error; err != nil {
		return nil, s.fail("get workspace", err)
	}
	return &ws, nil
}

// DeleteWorkspace removes a workspace. Its tokens and sessions, and their
// messages, are removed by the database's ON DELETE CASCADE.
func (s *Store) DeleteWorkspace(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Workspace{})
	if res.Error != nil {
		return s.fail("delete workspace", res.Error)
	}
	if res.RowsAffected == 0 {
		return s.fail("delete workspace", gorm.ErrRecordNotFound)
	}
	return nil
}
