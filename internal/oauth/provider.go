// Package oauth implements the install flows for the Slack and Notion
// OAuth providers and persists the resulting grants.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/minno-ai/minno/internal/models"
)

// ErrUnknownProvider is returned for a provider name that is not
// registered, either because it does not exist or is not configured.
var ErrUnknownProvider = errors.New("oauth: unknown provider")

// ExchangeError wraps a failed authorization-code exchange.
type ExchangeError struct {
	Provider models.Provider
	Err      error
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("oauth: %s code exchange: %v", e.Provider, e.Err)
}

func (e *ExchangeError) Unwrap() error { return e.Err }

// Grant is the credential set a provider returned for an authorization code.
type Grant struct {
	Provider     models.Provider
	AccessToken  string
	RefreshToken *string
	ExpiresAt    *time.Time
	Scopes       []string

	// Slack installs.
	TeamID    string
	TeamName  string
	BotUserID string

	// Notion installs.
	WorkspaceID   string
	WorkspaceName string

	Metadata map[string]any
}

// Provider is one OAuth authorization server.
type Provider interface {
	Name() models.Provider
	// AuthCodeURL returns the URL to redirect the installing user to.
	AuthCodeURL(state string) string
	// Exchange trades an authorization code for a Grant.
	Exchange(ctx context.Context, code string) (*Grant, error)
}

// Registry maps provider names to configured providers.
type Registry struct {
	providers map[models.Provider]Provider
}

// NewRegistry builds a Registry. Nil providers are skipped so unconfigured
// providers can be passed through unconditionally.
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[models.Provider]Provider)}
	for _, p := range providers {
		if p == nil {
			continue
		}
		r.providers[p.Name()] = p
	}
	return r
}

// Get returns the provider registered under name.
func (r *Registry) Get(name string) (Provider, error) {
	p, ok := r.providers[models.Provider(name)]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownProvider, name)
	}
	return p, nil
}

// Names lists registered providers in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for n := range r.providers {
		names = append(names, string(n))
	}
	sort.Strings(names)
	return names
}
