package repository

import (
	"context"

	"copperwatch/internal/domain/models"
)

// SnapshotRecord is one persisted bundle keyed by its JST calendar date.
type SnapshotRecord struct {
	Date         string
	Indicators   []models.Indicator
	SourceStatus models.SourceStatus
	UpdatedAt    string
}

// SnapshotStore persists one bundle record per calendar date with upsert
// semantics: writing twice for the same date updates the existing record.
type SnapshotStore interface {
	Init(ctx context.Context) error // ensure tables, health checks
	Upsert(ctx context.Context, rec *SnapshotRecord) error
	Latest(ctx context.Context) (*SnapshotRecord, error)
	History(ctx context.Context, limit int) ([]*SnapshotRecord, error)
	Health(ctx context.Context) error // ping
	Close() error
}

// Publisher emits a build event after a snapshot has been persisted.
type Publisher interface {
	PublishRebuilt(ctx context.Context, date string, indicatorCount int) error
	Close() error
}

type Metrics interface {
	RecordSourceFetch(source, outcome string)
	RecordIndicatorCount(source string, count int)
	RecordCacheEvent(event string)
	RecordLatency(op string, seconds float64)
}
