package models

import "time"

// SchemaMigration records a named migration that has been applied.
type SchemaMigration struct {
	Name      string `gorm:"primaryKey;size:128"`
	AppliedAt time.Time
}
