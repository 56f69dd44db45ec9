package db

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/minno-ai/minno/internal/models"
	"gorm.io/gorm"
)

// Migration is one named, forward-only schema step. Up runs inside a
// transaction together with the schema_migrations bookkeeping insert.
type Migration struct {
	Name string
	Up   func(tx *gorm.DB) error
}

// MigrationStatus reports whether a known migration has been applied.
type MigrationStatus struct {
	Name      string
	Applied   bool
	AppliedAt *time.Time
}

// Migrations returns the ordered schema history.
func Migrations() []Migration {
	return []Migration{
		{
			Name: "0001_create_core_tables",
			Up: func(tx *gorm.DB) error {
				return tx.AutoMigrate(
					&models.Workspace{},
					&models.OAuthToken{},
					&models.MinnoSession{},
					&models.ConversationMessage{},
				)
			},
		},
		{
			Name: "0002_create_failed_events",
			Up: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&models.FailedEvent{})
			},
		},
		{
			Name: "0003_unique_message_slack_ts",
			Up:   uniqueMessageSlackTS,
		},
	}
}

// uniqueMessageSlackTS replaces the plain slack_message_ts index with a
// unique (session_id, slack_message_ts) one. Duplicates recorded before
// the constraint existed are collapsed onto the earliest row first.
func uniqueMessageSlackTS(tx *gorm.DB) error {
	const unique = "idx_message_session_slack_ts"
	m := tx.Migrator()
	msg := &models.ConversationMessage{}
	if m.HasIndex(msg, unique) {
		return nil
	}
	err := tx.Exec(`DELETE FROM conversation_messages
		WHERE slack_message_ts IS NOT NULL
		AND id NOT IN (
			SELECT id FROM (
				SELECT MIN(id) AS id FROM conversation_messages
				WHERE slack_message_ts IS NOT NULL
				GROUP BY session_id, slack_message_ts
			) AS keep
		)`).Error
	if err != nil {
		return fmt.Errorf("collapse duplicate turns: %w", err)
	}
	if legacy := "idx_conversation_messages_slack_message_ts"; m.HasIndex(msg, legacy) {
		if err := m.DropIndex(msg, legacy); err != nil {
			return err
		}
	}
	return m.CreateIndex(msg, unique)
}

// AllModels returns every table model in creation order.
func AllModels() []interface{} {
	return []interface{}{
		&models.Workspace{},
		&models.OAuthToken{},
		&models.MinnoSession{},
		&models.ConversationMessage{},
		&models.FailedEvent{},
	}
}

// Migrate applies all pending migrations and returns the names applied.
func Migrate(ctx context.Context, db *gorm.DB) ([]string, error) {
	return MigrateWith(ctx, db, Migrations())
}

// MigrateWith applies pending migrations from the given list, in order.
// Each migration and its bookkeeping row commit atomically; a failure
// stops the run and leaves earlier migrations applied.
func MigrateWith(ctx context.Context, db *gorm.DB, migrations []Migration) ([]string, error) {
	db = db.WithContext(ctx)
	if err := db.AutoMigrate(&models.SchemaMigration{}); err != nil {
		return nil, fmt.Errorf("db: create schema_migrations: %w", err)
	}

	applied, err := appliedSet(db)
	if err != nil {
		return nil, err
	}

	var ran []string
	for _, m := range migrations {
		if _, ok := applied[m.Name]; ok {
			continue
		}
		err := db.Transaction(func(tx *gorm.DB) error {
			if err := m.Up(tx); err != nil {
				return err
			}
			return tx.Create(&models.SchemaMigration{Name: m.Name, AppliedAt: time.Now().UTC()}).Error
		})
		if err != nil {
			return ran, fmt.Errorf("db: migration %s: %w", m.Name, err)
		}
		ran = append(ran, m.Name)
	}
	return ran, nil
}

// Status lists the known migrations and whether each has been applied.
func Status(ctx context.Context, db *gorm.DB) ([]MigrationStatus, error) {
	db = db.WithContext(ctx)
	if !db.Migrator().HasTable(&models.SchemaMigration{}) {
		out := make([]MigrationStatus, 0, len(Migrations()))
		for _, m := range Migrations() {
			out = append(out, MigrationStatus{Name: m.Name})
		}
		return out, nil
	}

	var rows []models.SchemaMigration
	if err := db.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("db: read schema_migrations: %w", err)
	}
	byName := make(map[string]time.Time, len(rows))
	for _, r := range rows {
		byName[r.Name] = r.AppliedAt
	}

	var out []MigrationStatus
	for _, m := range Migrations() {
		st := MigrationStatus{Name: m.Name}
		if at, ok := byName[m.Name]; ok {
			st.Applied = true
			st.AppliedAt = &at
		}
		out = append(out, st)
	}
	return out, nil
}

// Reset drops every Minno table, children first, including the migration
// history.
func Reset(ctx context.Context, db *gorm.DB) error {
	db = db.WithContext(ctx)
	tables := slices.Clone(AllModels())
	slices.Reverse(tables)
	tables = append(tables, &models.SchemaMigration{})
	for _, t := range tables {
		if err := db.Migrator().DropTable(t); err != nil {
			return fmt.Errorf("db: drop %T: %w", t, err)
		}
	}
	return nil
}

func appliedSet(db *gorm.DB) (map[string]struct{}, error) {
	var names []string
	if err := db.Model(&models.SchemaMigration{}).Pluck("name", &names).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return map[string]struct{}{}, nil
		}
		return nil, fmt.Errorf("db: read schema_migrations: %w", err)
	}
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set, nil
}
