// Package store provides durable persistence for the update daemon:
// keyed scheduler state and the append-only update history.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrStateNotFound is returned when a state key has never been written.
	ErrStateNotFound = errors.New("state key not found")
	// ErrStoreUnavailable wraps any backend failure. Callers are expected to
	// degrade to in-memory values instead of treating it as fatal.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// UpdateRecord is a single row of the update history. Records are immutable
// once written.
type UpdateRecord struct {
	ID              uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Timestamp       time.Time `gorm:"index" json:"timestamp"`
	CheckType       string    `json:"check_type"`
	UpdateAvailable bool      `json:"update_available"`
	UpdateExecuted  bool      `json:"update_executed"`
	Version         string    `json:"version,omitempty"`
	Success         bool      `json:"success"`
	ErrorMessage    string    `json:"error_message,omitempty"`
}

// TableName overrides the gorm default
func (UpdateRecord) TableName() string {
	return "update_history"
}

// Store persists scheduler state and update history across daemon restarts.
// State writes and history appends are serialized by the implementation;
// reads may run concurrently.
type Store interface {
	// PutState JSON-serializes value under key, overwriting any previous value.
	PutState(ctx context.Context, key string, value any) error
	// GetState loads the value stored under key into out.
	// Returns ErrStateNotFound if the key was never written or was deleted.
	GetState(ctx context.Context, key string, out any) error
	// DeleteState removes a state key. Deleting a missing key is not an error.
	DeleteState(ctx context.Context, key string) error

	// AppendHistory appends a record to the update history.
	AppendHistory(ctx context.Context, record *UpdateRecord) error
	// GetHistory returns up to limit records, most recent first.
	GetHistory(ctx context.Context, limit int) ([]UpdateRecord, error)
	// CountHistory returns the total number of history records.
	CountHistory(ctx context.Context) (int64, error)
	// PruneHistory drops all but the newest keep records.
	PruneHistory(ctx context.Context, keep int) error

	Close() error
}
