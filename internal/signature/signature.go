// Package signature verifies that inbound requests were signed by Slack.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Request headers carrying the signature.
const (
	HeaderSignature = "X-Slack-Signature"
	HeaderTimestamp = "X-Slack-Request-Timestamp"
)

// MaxSkew is how far a request timestamp may be from the local clock, in
// either direction.
const MaxSkew = 300 * time.Second

const version = "v0"

var (
	ErrMissingHeaders    = errors.New("signature: missing signature headers")
	ErrInvalidTimestamp  = errors.New("signature: invalid request timestamp")
	ErrStaleTimestamp    = errors.New("signature: request timestamp outside allowed window")
	ErrSignatureMismatch = errors.New("signature: signature mismatch")
)

// AuthError is a verification failure with the HTTP status to reply with.
type AuthError struct {
	Status int
	Err    error
}

func (e *AuthError) Error() string { return e.Err.Error() }

func (e *AuthError) Unwrap() error { return e.Err }

// Opts configures a Verifier.
type Opts struct {
	// Now overrides the wall clock.
	Now func() time.Time
}

// Verifier checks Slack request signatures against a signing secret.
type Verifier struct {
	secret []byte
	now    func() time.Time
}

// New creates a Verifier for the app's signing secret.
func New(signingSecret string, opts Opts) (*Verifier, error) {
	if signingSecret == "" {
		return nil, fmt.Errorf("signature: signing secret is required")
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Verifier{secret: []byte(signingSecret), now: now}, nil
}

// Verify checks the timestamp window first, then the HMAC. Missing or
// stale timestamps are 400s; a bad signature of any shape is a 401.
func (v *Verifier) Verify(h http.Header, body []byte) error {
	sig := h.Get(HeaderSignature)
	tsHeader := h.Get(HeaderTimestamp)
	if sig == "" || tsHeader == "" {
		return &AuthError{Status: http.StatusBadRequest, Err: ErrMissingHeaders}
	}

	ts, err := strconv.ParseInt(tsHeader, 10, 64)
	if err != nil {
		return &AuthError{Status: http.StatusBadRequest, Err: ErrInvalidTimestamp}
	}
	skew := v.now().Sub(time.Unix(ts, 0))
	if skew > MaxSkew || skew < -MaxSkew {
		return &AuthError{Status: http.StatusBadRequest, Err: ErrStaleTimestamp}
	}

	expected := v.Sign(tsHeader, body)
	if !hmac.Equal([]byte(expected), []byte(sig)) {
		return &AuthError{Status: http.StatusUnauthorized, Err: ErrSignatureMismatch}
	}
	return nil
}

// Sign returns the v0 signature Slack would send for timestamp and body.
func (v *Verifier) Sign(timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(version + ":" + timestamp + ":"))
	mac.Write(body)
	return version + "=" + hex.EncodeToString(mac.Sum(nil))
}

// SignRequest sets both signature headers on h for body at time t.
func (v *Verifier) SignRequest(h http.Header, body []byte, t time.Time) {
	ts := strconv.FormatInt(t.Unix(), 10)
	h.Set(HeaderTimestamp, ts)
	h.Set(HeaderSignature, v.Sign(ts, body))
}
