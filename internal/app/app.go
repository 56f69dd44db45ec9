// Package app wires configuration into a running Minno service: database,
// store, ingest queue, event processor, OAuth installer, HTTP server and
// retention scheduler.
package app

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/minno-ai/minno/internal/bot"
	"github.com/minno-ai/minno/internal/config"
	"github.com/minno-ai/minno/internal/db"
	"github.com/minno-ai/minno/internal/ingest"
	"github.com/minno-ai/minno/internal/oauth"
	"github.com/minno-ai/minno/internal/retention"
	"github.com/minno-ai/minno/internal/secret"
	"github.com/minno-ai/minno/internal/server"
	"github.com/minno-ai/minno/internal/signature"
	"github.com/minno-ai/minno/internal/slack"
	"github.com/minno-ai/minno/internal/store"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// errNoEncryptionKey is returned by token operations when the store was
// opened without TOKEN_ENCRYPTION_KEY.
var errNoEncryptionKey = errors.New("app: token_encryption_key is not configured")

// lockedSealer refuses every token operation. CLI commands that never touch
// credentials run with it so they do not need the encryption key.
type lockedSealer struct{}

func (lockedSealer) Seal(string) (string, error) { return "", errNoEncryptionKey }
func (lockedSealer) Open(string) (string, error) { return "", errNoEncryptionKey }

// OpenStore connects to the configured database and returns a Store. The
// caller owns the returned *gorm.DB and must close it with db.Close.
func OpenStore(ctx context.Context, cfg *config.Config, log *slog.Logger) (*gorm.DB, *store.Store, error) {
	gdb, err := db.Open(ctx, cfg.DatabaseURL, db.Opts{Logger: log})
	if err != nil {
		return nil, nil, err
	}
	var sealer secret.Sealer = lockedSealer{}
	if cfg.TokenEncryptionKey != "" {
		box, err := secret.NewBox(cfg.TokenEncryptionKey)
		if err != nil {
			db.Close(gdb)
			return nil, nil, err
		}
		sealer = box
	}
	st, err := store.New(store.Opts{DB: gdb, Sealer: sealer})
	if err != nil {
		db.Close(gdb)
		return nil, nil, err
	}
	return gdb, st, nil
}

// HTTPClient returns the outbound client shared by the Slack API and the
// OAuth token exchanges.
func HTTPClient(cfg *config.Config) *http.Client {
	client := &http.Client{Timeout: 30 * time.Second}
	if cfg.InsecureSkipTLSVerify && !cfg.IsProduction() {
		tr := http.DefaultTransport.(*http.Transport).Clone()
		tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // development only, refused in production by config
		client.Transport = tr
	}
	return client
}

// Opts holds optional overrides for New.
type Opts struct {
	// SkipMigrate leaves the schema untouched on startup.
	SkipMigrate bool
	// SlackAPIURL points Slack Web API calls at another host.
	SlackAPIURL string
}

// App is a fully wired Minno service.
type App struct {
	cfg   *config.Config
	log   *slog.Logger
	db    *gorm.DB
	redis *redis.Client

	Store     *store.Store
	Queue     *ingest.Queue
	Server    *server.Server
	Retention *retention.Scheduler

	closeOnce sync.Once
}

// New builds every component from cfg. Startup fails closed: a missing
// signing secret or encryption key is an error, not a degraded server.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger, opts Opts) (*App, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := cfg.RequireServer(); err != nil {
		return nil, err
	}

	gdb, st, err := OpenStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	a := &App{cfg: cfg, log: log, db: gdb, Store: st}

	if !opts.SkipMigrate {
		applied, err := db.Migrate(ctx, gdb)
		if err != nil {
			a.Close(ctx)
			return nil, err
		}
		if len(applied) > 0 {
			log.Info("app: migrations applied", "versions", applied)
		}
	}

	if err := a.wire(ctx, opts); err != nil {
		a.Close(ctx)
		return nil, err
	}
	return a, nil
}

func (a *App) wire(ctx context.Context, opts Opts) error {
	cfg, log := a.cfg, a.log
	httpClient := HTTPClient(cfg)

	factory := &slack.Factory{HTTPClient: httpClient, APIURL: opts.SlackAPIURL, Logger: log}
	processor, err := bot.New(bot.Opts{
		Store: a.Store,
		Slack: func(token string) (bot.SlackAPI, error) {
			return factory.ForToken(token)
		},
		Logger: log,
	})
	if err != nil {
		return err
	}

	a.Queue, err = ingest.NewQueue(ingest.QueueOpts{
		Workers:   cfg.Ingest.Workers,
		Size:      cfg.Ingest.QueueSize,
		Processor: processor,
		Recorder:  a.Store,
		Logger:    log,
	})
	if err != nil {
		return err
	}

	dedup, err := a.deduper(ctx)
	if err != nil {
		return err
	}

	registry, err := providers(cfg, httpClient)
	if err != nil {
		return err
	}
	states, err := oauth.NewStateSigner(cfg.Slack.SigningSecret, oauth.StateOpts{})
	if err != nil {
		return err
	}
	installer := oauth.NewInstaller(registry, a.Store, states, log)

	verifier, err := signature.New(cfg.Slack.SigningSecret, signature.Opts{})
	if err != nil {
		return err
	}

	a.Server, err = server.New(server.Opts{
		Service:   cfg.Service,
		APIKey:    cfg.APIKey,
		Verifier:  verifier,
		Queue:     a.Queue,
		Dedup:     dedup,
		Installer: installer,
		Admin:     a.Store,
		Logger:    log,
	})
	if err != nil {
		return err
	}

	job := &retention.Job{
		Policy: retention.Policy{
			ArchiveIdleAfter:   cfg.Retention.ArchiveIdleAfter,
			PurgeArchivedAfter: cfg.Retention.PurgeArchivedAfter,
			PurgeEmptyAfter:    cfg.Retention.PurgeEmptyAfter,
		},
		Store:  a.Store,
		Logger: log,
	}
	a.Retention, err = retention.NewScheduler(cfg.Retention.Schedule, job)
	return err
}

// deduper picks Redis when REDIS_URL is set so replicas share one window.
func (a *App) deduper(ctx context.Context) (ingest.Deduper, error) {
	ttl := a.cfg.Ingest.DedupTTL
	if a.cfg.RedisURL == "" {
		return ingest.NewMemoryDeduper(ttl, nil), nil
	}
	ropts, err := redis.ParseURL(a.cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("app: parse redis url: %w", err)
	}
	a.redis = redis.NewClient(ropts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := a.redis.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("app: redis ping: %w", err)
	}
	a.log.Info("app: redis dedup enabled", "addr", ropts.Addr)
	return ingest.NewRedisDeduper(a.redis, ttl, ""), nil
}

// providers registers every OAuth provider whose credentials are set.
func providers(cfg *config.Config, httpClient *http.Client) (*oauth.Registry, error) {
	var list []oauth.Provider
	if cfg.Slack.ClientID != "" {
		p, err := oauth.NewSlackProvider(oauth.SlackOpts{
			ClientID:     cfg.Slack.ClientID,
			ClientSecret: cfg.Slack.ClientSecret,
			RedirectURL:  cfg.Slack.RedirectURL,
			Scopes:       cfg.Slack.Scopes,
			HTTPClient:   httpClient,
		})
		if err != nil {
			return nil, err
		}
		list = append(list, p)
	}
	if cfg.Notion.ClientID != "" {
		p, err := oauth.NewNotionProvider(oauth.NotionOpts{
			ClientID:     cfg.Notion.ClientID,
			ClientSecret: cfg.Notion.ClientSecret,
			RedirectURL:  cfg.Notion.RedirectURL,
			HTTPClient:   httpClient,
		})
		if err != nil {
			return nil, err
		}
		list = append(list, p)
	}
	return oauth.NewRegistry(list...), nil
}

// Run starts the queue workers and retention scheduler, then serves HTTP
// until ctx is cancelled. Queued deliveries are drained before it returns.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	a.Queue.Start()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		a.Retention.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		a.watchFailures(ctx)
	}()

	err := a.Server.Run(ctx, a.cfg.Addr())
	cancel()

	drainCtx, drainCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer drainCancel()
	if qerr := a.Queue.Close(drainCtx); qerr != nil {
		a.log.Warn("app: queue drain incomplete", "error", qerr)
	}
	wg.Wait()
	return err
}

// watchFailures reports dead-lettered deliveries as they happen.
func (a *App) watchFailures(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-a.Queue.Failures():
			if !ok {
				return
			}
			a.log.Warn("app: delivery dead-lettered",
				"kind", f.Delivery.Kind,
				"event_id", f.Delivery.EventID,
				"team_id", f.Delivery.TeamID,
				"failed_event_id", f.DeadLetterID,
				"error", f.Err)
		}
	}
}

// Close releases the Redis client and the database connection.
func (a *App) Close(context.Context) error {
	var errs []error
	a.closeOnce.Do(func() {
		if a.redis != nil {
			if err := a.redis.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		if a.db != nil {
			if err := db.Close(a.db); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}
