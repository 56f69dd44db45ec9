package oauth

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/minno-ai/minno/internal/models"
	"golang.org/x/oauth2"
)

// Notion public integration endpoints.
const (
	NotionAuthURL  = "https://api.notion.com/v1/oauth/authorize"
	NotionTokenURL = "https://api.notion.com/v1/oauth/token"
)

// NotionOpts configures the Notion provider.
type NotionOpts struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	HTTPClient   *http.Client

	// Endpoint overrides, for tests.
	AuthURL  string
	TokenURL string
}

// NotionProvider links a Notion workspace to an installed Slack workspace.
type NotionProvider struct {
	cfg oauth2.Config
	hc  *http.Client
}

// NewNotionProvider creates a NotionProvider.
func NewNotionProvider(opts NotionOpts) (*NotionProvider, error) {
	if opts.ClientID == "" || opts.ClientSecret == "" {
		return nil, fmt.Errorf("oauth: notion client id and secret are required")
	}
	ep := oauth2.Endpoint{
		AuthURL:   NotionAuthURL,
		TokenURL:  NotionTokenURL,
		AuthStyle: oauth2.AuthStyleInHeader,
	}
	if opts.AuthURL != "" {
		ep.AuthURL = opts.AuthURL
	}
	if opts.TokenURL != "" {
		ep.TokenURL = opts.TokenURL
	}
	return &NotionProvider{
		cfg: oauth2.Config{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			RedirectURL:  opts.RedirectURL,
			Endpoint:     ep,
		},
		hc: opts.HTTPClient,
	}, nil
}

func (p *NotionProvider) Name() models.Provider { return models.ProviderNotion }

// AuthCodeURL returns the Notion consent URL.
func (p *NotionProvider) AuthCodeURL(state string) string {
	return p.cfg.AuthCodeURL(state, oauth2.SetAuthURLParam("owner", "user"))
}

// Exchange trades the code at Notion's token endpoint. Notion returns the
// workspace and bot identity as extra token fields.
func (p *NotionProvider) Exchange(ctx context.Context, code string) (*Grant, error) {
	if p.hc != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, p.hc)
	}
	tok, err := p.cfg.Exchange(ctx, code)
	if err != nil {
		return nil, &ExchangeError{Provider: models.ProviderNotion, Err: err}
	}

	workspaceID := extraString(tok, "workspace_id")
	if workspaceID == "" {
		return nil, &ExchangeError{Provider: models.ProviderNotion, Err: fmt.Errorf("response is missing workspace_id")}
	}
	g := &Grant{
		Provider:      models.ProviderNotion,
		AccessToken:   tok.AccessToken,
		WorkspaceID:   workspaceID,
		WorkspaceName: extraString(tok, "workspace_name"),
		Metadata: map[string]any{
			"bot_id":         extraString(tok, "bot_id"),
			"workspace_icon": extraString(tok, "workspace_icon"),
		},
	}
	if tok.RefreshToken != "" {
		refresh := tok.RefreshToken
		g.RefreshToken = &refresh
	}
	if !tok.Expiry.IsZero() {
		exp := tok.Expiry.UTC().Truncate(time.Second)
		g.ExpiresAt = &exp
	}
	return g, nil
}

func extraString(tok *oauth2.Token, key string) string {
	s, _ := tok.Extra(key).(string)
	return s
}
