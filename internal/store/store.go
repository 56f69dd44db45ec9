// Package store persists workspaces, sessions, conversation history, OAuth
// credentials and dead-lettered deliveries.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/minno-ai/minno/internal/db"
	"github.com/minno-ai/minno/internal/secret"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotFound is returned when a referenced row does not exist.
var ErrNotFound = errors.New("store: not found")

// StorageError wraps a failed database operation.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Opts holds parameters for creating a Store.
type Opts struct {
	DB     *gorm.DB
	Sealer secret.Sealer
	// Now overrides the clock used for created_at/updated_at.
	Now func() time.Time
}

// Store is the Session Store. All methods are safe for concurrent use; the
// gorm connection pool is the only shared resource.
type Store struct {
	db      *gorm.DB
	sealer  secret.Sealer
	now     func() time.Time
	dialect string
}

// New creates a Store.
func New(opts Opts) (*Store, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("store: db is required")
	}
	if opts.Sealer == nil {
		return nil, fmt.Errorf("store: sealer is required")
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Store{
		db:      opts.DB,
		sealer:  opts.Sealer,
		now:     now,
		dialect: db.Dialect(opts.DB),
	}, nil
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return s.fail("ping", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return s.fail("ping", err)
	}
	return nil
}

func (s *Store) clock() time.Time {
	return s.now().UTC()
}

// fail maps gorm errors into the store's error taxonomy.
func (s *Store) fail(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound), errors.Is(err, gorm.ErrForeignKeyViolated):
		return fmt.Errorf("store: %s: %w", op, ErrNotFound)
	}
	return &StorageError{Op: op, Err: err}
}

// proposed references the value an upsert tried to insert.
func (s *Store) proposed(col string) string {
	if s.dialect == db.DialectMySQL {
		return "VALUES(" + col + ")"
	}
	return "excluded." + col
}

// coalesce keeps the stored value when the proposed one is NULL.
func (s *Store) coalesce(table, col string) clause.Expr {
	return gorm.Expr(fmt.Sprintf("COALESCE(%s, %s.%s)", s.proposed(col), table, col))
}

// overwrite replaces the stored value with the proposed one.
func (s *Store) overwrite(col string) clause.Expr {
	return gorm.Expr(s.proposed(col))
}

// marshalJSON encodes v for a JSON column, returning nil (SQL NULL) for nil.
func marshalJSON(v any) (datatypes.JSON, error) {
	if v == nil {
		return nil, nil
	}
	if m, ok := v.(map[string]any); ok && m == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(data), nil
}

// DecodeJSON unmarshals a JSON column into a map. NULL decodes to nil.
func DecodeJSON(raw datatypes.JSON) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("store: decode json column: %w", err)
	}
	return out, nil
}
