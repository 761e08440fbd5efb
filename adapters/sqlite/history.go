package sqlite

import (
	"context"
	"fmt"

	"github.com/artpar/bundlegate/ports"
)

// HistoryStore implements ports.HistoryStore.
type HistoryStore struct {
	db *DB
}

// NewHistoryStore creates a history store on a migrated database.
func NewHistoryStore(db *DB) *HistoryStore {
	return &HistoryStore{db: db}
}

// Record stores a build and its assets in one transaction.
func (s *HistoryStore) Record(ctx context.Context, b ports.BuildRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO builds (id, profile, started_at, finished_at, succeeded, error)
		VALUES (?, ?, ?, ?, ?, ?)
	`, b.ID, b.Profile, b.StartedAt.UTC(), b.FinishedAt.UTC(), b.Succeeded, b.Error)
	if err != nil {
		return fmt.Errorf("insert build %s: %w", b.ID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO build_assets (build_id, source, output, bytes) VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare asset insert: %w", err)
	}
	defer stmt.Close()

	for _, a := range b.Assets {
		if _, err := stmt.ExecContext(ctx, b.ID, a.Source, a.Output, a.Bytes); err != nil {
			return fmt.Errorf("insert asset %s: %w", a.Source, err)
		}
	}

	return tx.Commit()
}

// Latest returns up to n successful builds of profile, newest first.
func (s *HistoryStore) Latest(ctx context.Context, profile string, n int) ([]ports.BuildRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, profile, started_at, finished_at, succeeded, error
		FROM builds
		WHERE profile = ? AND succeeded = 1
		ORDER BY finished_at DESC, rowid DESC
		LIMIT ?
	`, profile, n)
	if err != nil {
		return nil, fmt.Errorf("query builds: %w", err)
	}

	var builds []ports.BuildRecord
	for rows.Next() {
		var b ports.BuildRecord
		if err := rows.Scan(&b.ID, &b.Profile, &b.StartedAt, &b.FinishedAt, &b.Succeeded, &b.Error); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan build: %w", err)
		}
		builds = append(builds, b)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range builds {
		assets, err := s.assets(ctx, builds[i].ID)
		if err != nil {
			return nil, err
		}
		builds[i].Assets = assets
	}
	return builds, nil
}

func (s *HistoryStore) assets(ctx context.Context, buildID string) ([]ports.AssetSize, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT source, output, bytes FROM build_assets WHERE build_id = ? ORDER BY source
	`, buildID)
	if err != nil {
		return nil, fmt.Errorf("query assets: %w", err)
	}
	defer rows.Close()

	var out []ports.AssetSize
	for rows.Next() {
		var a ports.AssetSize
		if err := rows.Scan(&a.Source, &a.Output, &a.Bytes); err != nil {
			return nil, fmt.Errorf("scan asset: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

var _ ports.HistoryStore = (*HistoryStore)(nil)
