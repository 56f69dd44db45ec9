// Package server is Minno's HTTP surface: Slack webhooks, OAuth install
// flows, health and the operator admin API.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/minno-ai/minno/internal/ingest"
	"github.com/minno-ai/minno/internal/models"
	"github.com/minno-ai/minno/internal/oauth"
	"github.com/minno-ai/minno/internal/signature"
	"github.com/minno-ai/minno/internal/store"
)

// DefaultMaxBodyBytes bounds webhook bodies. Slack payloads are far smaller.
const DefaultMaxBodyBytes = 1 << 20

// Queue accepts acknowledged deliveries.
type Queue interface {
	Enqueue(d ingest.Delivery) error
	DeadLetter(d ingest.Delivery, cause error)
}

// AdminStore backs the admin API.
type AdminStore interface {
	ListFailedEvents(ctx context.Context, f store.FailedEventFilter) ([]models.FailedEvent, error)
	GetFailedEvent(ctx context.Context, id string) (*models.FailedEvent, error)
}

// Opts holds the server's collaborators.
type Opts struct {
	Service      string
	APIKey       string // empty disables /admin
	Verifier     *signature.Verifier
	Queue        Queue
	Dedup        ingest.Deduper // optional
	Installer    *oauth.Installer
	Admin        AdminStore
	Logger       *slog.Logger
	Now          func() time.Time
	MaxBodyBytes int64
}

// Server holds the gin engine and its dependencies.
type Server struct {
	router    *gin.Engine
	service   string
	apiKey    string
	verifier  *signature.Verifier
	queue     Queue
	dedup     ingest.Deduper
	installer *oauth.Installer
	admin     AdminStore
	log       *slog.Logger
	now       func() time.Time
	maxBody   int64
}

// New validates opts and builds the router.
func New(opts Opts) (*Server, error) {
	if opts.Verifier == nil {
		return nil, fmt.Errorf("server: signature verifier is required")
	}
	if opts.Queue == nil {
		return nil, fmt.Errorf("server: queue is required")
	}
	if opts.Installer == nil {
		return nil, fmt.Errorf("server: oauth installer is required")
	}
	s := &Server{
		service:   opts.Service,
		apiKey:    opts.APIKey,
		verifier:  opts.Verifier,
		queue:     opts.Queue,
		dedup:     opts.Dedup,
		installer: opts.Installer,
		admin:     opts.Admin,
		log:       opts.Logger,
		now:       opts.Now,
		maxBody:   opts.MaxBodyBytes,
	}
	if s.service == "" {
		s.service = "minno"
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.maxBody <= 0 {
		s.maxBody = DefaultMaxBodyBytes
	}

	gin.SetMode(gin.ReleaseMode)
	s.router = gin.New()
	s.router.Use(gin.Recovery(), requestLogger(s.log))
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", s.handleHealth)

	sl := s.router.Group("/slack", s.verifySlackSignature)
	sl.POST("/events", s.handleEvents)
	sl.POST("/interactive", s.handleInteractive)

	s.router.GET("/oauth/:provider/install", s.handleInstall)
	s.router.GET("/oauth/:provider/callback", s.handleCallback)

	admin := s.router.Group("/admin", s.requireAPIKey)
	admin.GET("/failed-events", s.handleListFailedEvents)
	admin.POST("/failed-events/:id/replay", s.handleReplayFailedEvent)
	admin.POST("/workspaces/:team_id/notion-install", s.handleNotionInstallLink)
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("server: listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"service":   s.service,
		"timestamp": s.now().UTC().Format(time.RFC3339),
	})
}

// writeError sends the structured error body used by every non-webhook
// route.
func writeError(c *gin.Context, status int, key, message string) {
	c.AbortWithStatusJSON(status, gin.H{"error": key, "message": message})
}
