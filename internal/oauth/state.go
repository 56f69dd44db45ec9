package oauth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/minno-ai/minno/internal/models"
)

// DefaultStateTTL is how long an issued install link stays usable.
const DefaultStateTTL = 30 * time.Minute

// ErrInvalidState is returned for a state parameter that was not issued by
// this server, was issued for another provider, or has expired.
var ErrInvalidState = errors.New("oauth: invalid state")

// StateOpts configures a StateSigner.
type StateOpts struct {
	TTL time.Duration
	Now func() time.Time
}

// StateSigner issues and checks the state parameter that binds an install
// callback to the Slack team it was started for. States are HS256 JWTs
// scoped to one provider.
type StateSigner struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

type stateClaims struct {
	Team string `json:"team"`
	jwt.RegisteredClaims
}

// NewStateSigner creates a StateSigner keyed by secret.
func NewStateSigner(secret string, opts StateOpts) (*StateSigner, error) {
	if secret == "" {
		return nil, fmt.Errorf("oauth: state secret is required")
	}
	s := &StateSigner{
		key: []byte("minno-oauth-state:" + secret),
		ttl: opts.TTL,
		now: opts.Now,
	}
	if s.ttl <= 0 {
		s.ttl = DefaultStateTTL
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// Issue returns a signed state for teamID, valid for provider only.
func (s *StateSigner) Issue(provider models.Provider, teamID string) (string, error) {
	if teamID == "" {
		return "", ErrMissingState
	}
	now := s.now()
	claims := stateClaims{
		Team: teamID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Audience:  jwt.ClaimStrings{string(provider)},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("oauth: sign state: %w", err)
	}
	return signed, nil
}

// Verify checks state and returns the Slack team id it carries.
func (s *StateSigner) Verify(provider models.Provider, state string) (string, error) {
	if state == "" {
		return "", ErrMissingState
	}
	var claims stateClaims
	_, err := jwt.ParseWithClaims(state, &claims,
		func(*jwt.Token) (any, error) { return s.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(string(provider)),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	if claims.Team == "" {
		return "", fmt.Errorf("%w: no team", ErrInvalidState)
	}
	return claims.Team, nil
}
