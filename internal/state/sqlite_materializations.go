package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const materializationColumns = `id, run_id, step, asset_key, status, started_at, completed_at, error, metadata`

// RecordMaterialization stores the outcome of one asset. ID and StartedAt
// are filled in when empty.
func (s *SQLiteStore) RecordMaterialization(ctx context.Context, m *Materialization) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}
	if m.ID == "" {
		m.ID = generateID()
	}
	if m.StartedAt.IsZero() {
		m.StartedAt = time.Now().UTC()
	}

	var metadata *string
	if len(m.Metadata) > 0 {
		data, err := json.Marshal(m.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode metadata for %s: %w", m.AssetKey, err)
		}
		encoded := string(data)
		metadata = &encoded
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO materializations (`+materializationColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.RunID, m.Step, m.AssetKey, string(m.Status),
		formatTime(m.StartedAt), formatTimePtr(m.CompletedAt), nullString(m.Error), metadata,
	)
	if err != nil {
		return fmt.Errorf("failed to record materialization of %s: %w", m.AssetKey, err)
	}
	return nil
}

// ListMaterializations returns the materializations of a run ordered by
// start time, then asset key.
func (s *SQLiteStore) ListMaterializations(ctx context.Context, runID string) ([]*Materialization, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+materializationColumns+` FROM materializations WHERE run_id = ? ORDER BY started_at, asset_key`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list materializations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Materialization
	for rows.Next() {
		m, err := scanMaterialization(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan materialization: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// LatestMaterialization returns the most recent successful materialization
// of an asset, or nil when it has never been materialized.
func (s *SQLiteStore) LatestMaterialization(ctx context.Context, assetKey string) (*Materialization, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT `+materializationColumns+` FROM materializations
		 WHERE asset_key = ? AND status = ?
		 ORDER BY started_at DESC LIMIT 1`,
		assetKey, string(MaterializationSuccess))
	m, err := scanMaterialization(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest materialization: %w", err)
	}
	return m, nil
}

func scanMaterialization(row scanner) (*Materialization, error) {
	var (
		m           Materialization
		status      string
		startedAt   string
		completedAt sql.NullString
		errMsg      sql.NullString
		metadata    sql.NullString
	)
	if err := row.Scan(&m.ID, &m.RunID, &m.Step, &m.AssetKey, &status, &startedAt, &completedAt, &errMsg, &metadata); err != nil {
		return nil, err
	}

	var err error
	m.Status = MaterializationStatus(status)
	if m.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, err
	}
	if m.CompletedAt, err = parseNullTime(completedAt); err != nil {
		return nil, err
	}
	m.Error = errMsg.String
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &m.Metadata); err != nil {
			return nil, fmt.Errorf("invalid metadata for %s: %w", m.AssetKey, err)
		}
	}
	return &m, nil
}
