package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"soclite-backend/internal/baseline"
	"soclite-backend/internal/feature"
)

// BaselineRepo implements baseline.Store over postgres: one stats row
// per (target, feature) plus a meta row carrying the schema version and
// the applied-observation guard.
type BaselineRepo struct {
	Store *Store
}

func NewBaselineRepo(store *Store) *BaselineRepo {
	return &BaselineRepo{Store: store}
}

func (r *BaselineRepo) Read(ctx context.Context, target string) (baseline.State, error) {
	state := baseline.State{Features: map[string]baseline.Stats{}}
	row := r.Store.Pool.QueryRow(ctx, `
		SELECT schema_version, last_observation_id, updated_at
		FROM baseline_targets WHERE target=$1`, target)
	if err := row.Scan(&state.SchemaVersion, &state.LastObservationID, &state.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return baseline.State{}, nil
		}
		return baseline.State{}, err
	}
	rows, err := r.Store.Pool.Query(ctx, `
		SELECT feature, n, mean, m2 FROM baselines WHERE target=$1`, target)
	if err != nil {
		return baseline.State{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		var stats baseline.Stats
		if err := rows.Scan(&name, &stats.N, &stats.Mean, &stats.M2); err != nil {
			return baseline.State{}, err
		}
		state.Features[name] = stats
	}
	return state, rows.Err()
}

func (r *BaselineRepo) Update(ctx context.Context, target, obsID string, vec feature.Vector) (baseline.State, error) {
	tx, err := r.Store.Pool.Begin(ctx)
	if err != nil {
		return baseline.State{}, err
	}
	defer tx.Rollback(ctx)

	state := baseline.State{Features: map[string]baseline.Stats{}}
	seen := true
	row := tx.QueryRow(ctx, `
		SELECT schema_version, last_observation_id, updated_at
		FROM baseline_targets WHERE target=$1 FOR UPDATE`, target)
	if err := row.Scan(&state.SchemaVersion, &state.LastObservationID, &state.UpdatedAt); err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return baseline.State{}, err
		}
		seen = false
	}
	if seen {
		rows, err := tx.Query(ctx, `SELECT feature, n, mean, m2 FROM baselines WHERE target=$1`, target)
		if err != nil {
			return baseline.State{}, err
		}
		for rows.Next() {
			var name string
			var stats baseline.Stats
			if err := rows.Scan(&name, &stats.N, &stats.Mean, &stats.M2); err != nil {
				rows.Close()
				return baseline.State{}, err
			}
			state.Features[name] = stats
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return baseline.State{}, err
		}
	}

	if obsID != "" && state.LastObservationID == obsID {
		return state, nil
	}

	next := state.Apply(obsID, vec, time.Now().UTC())
	if seen && state.SchemaVersion != next.SchemaVersion {
		if _, err := tx.Exec(ctx, `DELETE FROM baselines WHERE target=$1`, target); err != nil {
			return baseline.State{}, err
		}
	}
	for name, stats := range next.Features {
		if _, err := tx.Exec(ctx, `
			INSERT INTO baselines (target, feature, n, mean, m2)
			VALUES ($1,$2,$3,$4,$5)
			ON CONFLICT (target, feature) DO UPDATE SET n=EXCLUDED.n, mean=EXCLUDED.mean, m2=EXCLUDED.m2`,
			target, name, stats.N, stats.Mean, stats.M2,
		); err != nil {
			return baseline.State{}, err
		}
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO baseline_targets (target, schema_version, last_observation_id, updated_at)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (target) DO UPDATE SET schema_version=EXCLUDED.schema_version, last_observation_id=EXCLUDED.last_observation_id, updated_at=EXCLUDED.updated_at`,
		target, next.SchemaVersion, next.LastObservationID, next.UpdatedAt,
	); err != nil {
		return baseline.State{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return baseline.State{}, err
	}
	return next, nil
}

func (r *BaselineRepo) Targets(ctx context.Context) ([]string, error) {
	rows, err := r.Store.Pool.Query(ctx, `SELECT target FROM baseline_targets ORDER BY target`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	targets := []string{}
	for rows.Next() {
		var target string
		if err := rows.Scan(&target); err != nil {
			return nil, err
		}
		targets = append(targets, target)
	}
	return targets, rows.Err()
}

// Close is a no-op: the pool is owned by the enclosing Store.
func (r *BaselineRepo) Close() error {
	return nil
}
