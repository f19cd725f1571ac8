package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"copperwatch/internal/domain/models"
	domrepo "copperwatch/internal/domain/repository"
	pkgch "copperwatch/pkg/clickhouse"
	applogger "copperwatch/pkg/logger"
)

// snapshotSchema keeps one row per JST snapshot date. ReplacingMergeTree on
// updated_at gives upsert semantics: rewriting a date supersedes the old row
// and reads use FINAL to collapse versions.
var snapshotSchema = []string{
	`CREATE DATABASE IF NOT EXISTS copperwatch`,
	`CREATE TABLE IF NOT EXISTS copperwatch.economy_snapshots (
		date          String,
		indicators    String,
		source_status String,
		updated_at    DateTime64(3)
	) ENGINE = ReplacingMergeTree(updated_at)
	ORDER BY date`,
}

// CHSnapshotStore implements SnapshotStore backed by ClickHouse.
type CHSnapshotStore struct {
	db *sql.DB
	ch *pkgch.Client
	l  *applogger.Logger
}

func NewCHSnapshotStore(ch *pkgch.Client) *CHSnapshotStore {
	return &CHSnapshotStore{db: ch.DB(), ch: ch}
}

// SetLogger injects a structured logger.
func (s *CHSnapshotStore) SetLogger(l *applogger.Logger) { s.l = l }

func (s *CHSnapshotStore) Init(ctx context.Context) error {
	return s.ch.InitSchema(ctx, snapshotSchema)
}

func (s *CHSnapshotStore) Upsert(ctx context.Context, rec *domrepo.SnapshotRecord) error {
	start := time.Now()
	indicators, err := json.Marshal(rec.Indicators)
	if err != nil {
		return fmt.Errorf("marshal indicators: %w", err)
	}
	status, err := json.Marshal(rec.SourceStatus)
	if err != nil {
		return fmt.Errorf("marshal source status: %w", err)
	}
	updatedAt, ok := parseRFC3339(rec.UpdatedAt)
	if !ok {
		updatedAt = time.Now().UTC()
	}

	const q = `
        INSERT INTO copperwatch.economy_snapshots (date, indicators, source_status, updated_at)
        VALUES (?, ?, ?, ?)
    `
	if _, err := s.db.ExecContext(ctx, q, rec.Date, string(indicators), string(status), updatedAt); err != nil {
		if s.l != nil {
			s.l.Error("clickhouse snapshot upsert error",
				applogger.String("date", rec.Date),
				applogger.Error(err),
			)
		}
		return fmt.Errorf("upsert snapshot: %w", err)
	}
	if s.l != nil {
		s.l.Info("clickhouse snapshot upsert ok",
			applogger.String("date", rec.Date),
			applogger.Int("indicators", len(rec.Indicators)),
			applogger.Duration("duration_ms", time.Since(start)),
		)
	}
	return nil
}

func (s *CHSnapshotStore) Latest(ctx context.Context) (*domrepo.SnapshotRecord, error) {
	recs, err := s.query(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, nil
	}
	return recs[0], nil
}

func (s *CHSnapshotStore) History(ctx context.Context, limit int) ([]*domrepo.SnapshotRecord, error) {
	if limit < 1 {
		limit = 1
	}
	return s.query(ctx, limit)
}

func (s *CHSnapshotStore) query(ctx context.Context, limit int) ([]*domrepo.SnapshotRecord, error) {
	start := time.Now()
	const q = `
        SELECT date, indicators, source_status, updated_at
        FROM copperwatch.economy_snapshots FINAL
        ORDER BY date DESC
        LIMIT ?
    `
	rows, err := s.db.QueryContext(ctx, q, limit)
	if err != nil {
		if s.l != nil {
			s.l.Error("clickhouse snapshot query error",
				applogger.Int("limit", limit),
				applogger.Error(err),
			)
		}
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	out := make([]*domrepo.SnapshotRecord, 0, limit)
	for rows.Next() {
		var (
			rec        domrepo.SnapshotRecord
			indicators string
			status     string
			updatedAt  time.Time
		)
		if err := rows.Scan(&rec.Date, &indicators, &status, &updatedAt); err != nil {
			if s.l != nil {
				s.l.Error("clickhouse snapshot scan error", applogger.Error(err))
			}
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		if err := json.Unmarshal([]byte(indicators), &rec.Indicators); err != nil {
			return nil, fmt.Errorf("unmarshal indicators for %s: %w", rec.Date, err)
		}
		if status != "" {
			if err := json.Unmarshal([]byte(status), &rec.SourceStatus); err != nil {
				rec.SourceStatus = models.SourceStatus{}
			}
		}
		rec.UpdatedAt = updatedAt.UTC().Format(time.RFC3339)
		out = append(out, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	if s.l != nil {
		s.l.Debug("clickhouse snapshot query ok",
			applogger.Int("limit", limit),
			applogger.Int("rows", len(out)),
			applogger.Duration("duration_ms", time.Since(start)),
		)
	}
	return out, nil
}

func (s *CHSnapshotStore) Health(ctx context.Context) error {
	return s.ch.Health(ctx)
}

func (s *CHSnapshotStore) Close() error {
	return s.ch.Close()
}

func parseRFC3339(s string) (time.Time, bool) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
