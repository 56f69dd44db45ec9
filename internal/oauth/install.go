package oauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/minno-ai/minno/internal/models"
	"github.com/minno-ai/minno/internal/store"
)

// ErrMissingState is returned when a Notion install or callback has no
// state, or a state is requested without a Slack team id.
var ErrMissingState = errors.New("oauth: state must carry the slack team id")

// Store is the persistence the installer needs.
type Store interface {
	UpsertWorkspace(ctx context.Context, slackTeamID, name string, notionWorkspaceID *string) (*models.Workspace, error)
	GetWorkspaceBySlackTeamID(ctx context.Context, slackTeamID string) (*models.Workspace, error)
	UpsertOAuthToken(ctx context.Context, provider models.Provider, workspaceID string, in store.TokenInput) (*store.Token, error)
}

// Installation is the outcome of a completed callback. It never carries
// the secret itself.
type Installation struct {
	Provider      models.Provider
	WorkspaceID   string
	TeamID        string
	TeamName      string
	BotUserID     string
	Scopes        []string
	NotionID      string
	NotionName    string
	HasRefresh    bool
	TokenExpiries bool
}

// Installer completes OAuth callbacks: exchange, then persist.
type Installer struct {
	registry *Registry
	store    Store
	states   *StateSigner
	log      *slog.Logger
}

// NewInstaller creates an Installer. Without states every Notion link is
// refused.
func NewInstaller(registry *Registry, st Store, states *StateSigner, log *slog.Logger) *Installer {
	if log == nil {
		log = slog.Default()
	}
	return &Installer{registry: registry, store: st, states: states, log: log}
}

// Registry returns the provider registry.
func (in *Installer) Registry() *Registry { return in.registry }

// NotionInstallURL returns an authorize URL whose state binds the Notion
// grant to slackTeamID. The workspace must already exist.
func (in *Installer) NotionInstallURL(ctx context.Context, slackTeamID string) (string, error) {
	p, err := in.registry.Get(string(models.ProviderNotion))
	if err != nil {
		return "", err
	}
	if slackTeamID == "" {
		return "", ErrMissingState
	}
	if in.states == nil {
		return "", fmt.Errorf("%w: no state signer", ErrInvalidState)
	}
	if _, err := in.store.GetWorkspaceBySlackTeamID(ctx, slackTeamID); err != nil {
		return "", err
	}
	state, err := in.states.Issue(models.ProviderNotion, slackTeamID)
	if err != nil {
		return "", err
	}
	return p.AuthCodeURL(state), nil
}

// VerifyState checks a state issued for providerName and returns the
// Slack team id it carries.
func (in *Installer) VerifyState(providerName, state string) (string, error) {
	if state == "" {
		return "", ErrMissingState
	}
	if in.states == nil {
		return "", fmt.Errorf("%w: no state signer", ErrInvalidState)
	}
	return in.states.Verify(models.Provider(providerName), state)
}

// Complete exchanges code with the named provider and stores the grant.
// For Notion, state must come from NotionInstallURL; it is checked before
// the code is spent or anything is written. store.ErrNotFound is returned
// when the bound workspace no longer exists.
func (in *Installer) Complete(ctx context.Context, providerName, code, state string) (*Installation, error) {
	p, err := in.registry.Get(providerName)
	if err != nil {
		return nil, err
	}
	var slackTeamID string
	if p.Name() == models.ProviderNotion {
		if slackTeamID, err = in.VerifyState(providerName, state); err != nil {
			return nil, err
		}
	}

	g, err := p.Exchange(ctx, code)
	if err != nil {
		return nil, err
	}

	var ws *models.Workspace
	switch g.Provider {
	case models.ProviderSlack:
		ws, err = in.store.UpsertWorkspace(ctx, g.TeamID, g.TeamName, nil)
	case models.ProviderNotion:
		ws, err = in.linkNotion(ctx, slackTeamID, g)
	default:
		return nil, fmt.Errorf("oauth: grant for unsupported provider %q", g.Provider)
	}
	if err != nil {
		return nil, err
	}

	tokIn := store.TokenInput{
		AccessToken:  g.AccessToken,
		RefreshToken: g.RefreshToken,
		ExpiresAt:    g.ExpiresAt,
		Scopes:       g.Scopes,
		Metadata:     g.Metadata,
	}
	if g.BotUserID != "" {
		tokIn.BotUserID = &g.BotUserID
	}
	if g.TeamID != "" {
		tokIn.TeamID = &g.TeamID
	}
	if _, err := in.store.UpsertOAuthToken(ctx, g.Provider, ws.ID, tokIn); err != nil {
		return nil, err
	}

	in.log.Info("oauth: installation completed",
		"provider", g.Provider, "workspace_id", ws.ID, "team_id", ws.SlackTeamID)

	return &Installation{
		Provider:      g.Provider,
		WorkspaceID:   ws.ID,
		TeamID:        ws.SlackTeamID,
		TeamName:      ws.Name,
		BotUserID:     g.BotUserID,
		Scopes:        g.Scopes,
		NotionID:      g.WorkspaceID,
		NotionName:    g.WorkspaceName,
		HasRefresh:    g.RefreshToken != nil,
		TokenExpiries: g.ExpiresAt != nil,
	}, nil
}

func (in *Installer) linkNotion(ctx context.Context, slackTeamID string, g *Grant) (*models.Workspace, error) {
	ws, err := in.store.GetWorkspaceBySlackTeamID(ctx, slackTeamID)
	if err != nil {
		return nil, err
	}
	return in.store.UpsertWorkspace(ctx, ws.SlackTeamID, ws.Name, &g.WorkspaceID)
}
