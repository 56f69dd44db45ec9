package slack

import (
	"log/slog"
	"net/http"
)

// Factory builds Clients for per-workspace bot tokens sharing one HTTP
// client.
type Factory struct {
	HTTPClient *http.Client
	APIURL     string
	Logger     *slog.Logger
}

// ForToken returns a Client authenticated with token.
func (f *Factory) ForToken(token string) (*Client, error) {
	return New(Opts{
		Token:      token,
		HTTPClient: f.HTTPClient,
		APIURL:     f.APIURL,
		Logger:     f.Logger,
	})
}
