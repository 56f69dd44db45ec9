package oauth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/minno-ai/minno/internal/models"
	slackapi "github.com/slack-go/slack"
	"golang.org/x/oauth2"
)

// Slack OAuth v2 endpoints.
const (
	SlackAuthURL  = "https://slack.com/oauth/v2/authorize"
	SlackTokenURL = "https://slack.com/api/oauth.v2.access"
)

// SlackOpts configures the Slack provider.
type SlackOpts struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
	HTTPClient   *http.Client
	Now          func() time.Time
}

// SlackProvider installs the app into a Slack workspace.
type SlackProvider struct {
	cfg    oauth2.Config
	scopes []string
	hc     *http.Client
	now    func() time.Time
}

// NewSlackProvider creates a SlackProvider.
func NewSlackProvider(opts SlackOpts) (*SlackProvider, error) {
	if opts.ClientID == "" || opts.ClientSecret == "" {
		return nil, fmt.Errorf("oauth: slack client id and secret are required")
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &SlackProvider{
		cfg: oauth2.Config{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			RedirectURL:  opts.RedirectURL,
			Endpoint:     oauth2.Endpoint{AuthURL: SlackAuthURL, TokenURL: SlackTokenURL},
		},
		scopes: opts.Scopes,
		hc:     hc,
		now:    now,
	}, nil
}

func (p *SlackProvider) Name() models.Provider { return models.ProviderSlack }

// AuthCodeURL returns the Slack install URL. Slack expects bot scopes
// comma separated, so they are set directly rather than through
// oauth2.Config.Scopes.
func (p *SlackProvider) AuthCodeURL(state string) string {
	var opts []oauth2.AuthCodeOption
	if len(p.scopes) > 0 {
		opts = append(opts, oauth2.SetAuthURLParam("scope", strings.Join(p.scopes, ",")))
	}
	return p.cfg.AuthCodeURL(state, opts...)
}

// Exchange calls oauth.v2.access.
func (p *SlackProvider) Exchange(ctx context.Context, code string) (*Grant, error) {
	resp, err := slackapi.GetOAuthV2ResponseContext(ctx, p.hc, p.cfg.ClientID, p.cfg.ClientSecret, code, p.cfg.RedirectURL)
	if err != nil {
		return nil, &ExchangeError{Provider: models.ProviderSlack, Err: err}
	}
	if resp.AccessToken == "" || resp.Team.ID == "" {
		return nil, &ExchangeError{Provider: models.ProviderSlack, Err: fmt.Errorf("response is missing access token or team")}
	}

	g := &Grant{
		Provider:    models.ProviderSlack,
		AccessToken: resp.AccessToken,
		Scopes:      splitScopes(resp.Scope),
		TeamID:      resp.Team.ID,
		TeamName:    resp.Team.Name,
		BotUserID:   resp.BotUserID,
		Metadata: map[string]any{
			"app_id":     resp.AppID,
			"token_type": resp.TokenType,
		},
	}
	if resp.RefreshToken != "" {
		refresh := resp.RefreshToken
		g.RefreshToken = &refresh
	}
	if resp.ExpiresIn > 0 {
		exp := p.now().Add(time.Duration(resp.ExpiresIn) * time.Second).UTC()
		g.ExpiresAt = &exp
	}
	if resp.AuthedUser.ID != "" {
		g.Metadata["authed_user_id"] = resp.AuthedUser.ID
	}
	if resp.Enterprise.ID != "" {
		g.Metadata["enterprise_id"] = resp.Enterprise.ID
	}
	return g, nil
}

func splitScopes(s string) []string {
	var out []string
	for _, sc := range strings.Split(s, ",") {
		if sc = strings.TrimSpace(sc); sc != "" {
			out = append(out, sc)
		}
	}
	return out
}
