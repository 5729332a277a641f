package storage

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"

	"soclite-backend/internal/alert"
	"soclite-backend/internal/explain"
)

// AlertRepo implements alert.Store over postgres.
type AlertRepo struct {
	Store *Store
}

func NewAlertRepo(store *Store) *AlertRepo {
	return &AlertRepo{Store: store}
}

func (r *AlertRepo) Save(ctx context.Context, rec alert.Record) error {
	vector, err := json.Marshal(rec.FeatureVector)
	if err != nil {
		return err
	}
	insights, err := json.Marshal(rec.Insights)
	if err != nil {
		return err
	}
	_, err = r.Store.Pool.Exec(ctx, `
		INSERT INTO alerts (id, target, ts_utc, schema_version, feature_vector, aggregate_score, classification, severity, insights)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		rec.AlertID, rec.Target, rec.Timestamp, rec.SchemaVersion, vector, rec.AggregateScore, rec.Classification, rec.Severity, insights,
	)
	return err
}

func (r *AlertRepo) Get(ctx context.Context, id string) (alert.Record, error) {
	row := r.Store.Pool.QueryRow(ctx, `
		SELECT id, target, ts_utc, schema_version, feature_vector, aggregate_score, classification, severity, insights
		FROM alerts WHERE id=$1`, id)
	rec, err := scanAlert(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return alert.Record{}, alert.ErrNotFound
		}
		return alert.Record{}, err
	}
	return rec, nil
}

func (r *AlertRepo) List(ctx context.Context, limit int) ([]alert.Record, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := r.Store.Pool.Query(ctx, `
		SELECT id, target, ts_utc, schema_version, feature_vector, aggregate_score, classification, severity, insights
		FROM alerts ORDER BY ts_utc DESC, id LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	records := []alert.Record{}
	for rows.Next() {
		rec, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Close is a no-op: the pool is owned by the enclosing Store.
func (r *AlertRepo) Close() error {
	return nil
}

func scanAlert(row pgx.Row) (alert.Record, error) {
	var rec alert.Record
	var vector, insights []byte
	if err := row.Scan(&rec.AlertID, &rec.Target, &rec.Timestamp, &rec.SchemaVersion, &vector, &rec.AggregateScore, &rec.Classification, &rec.Severity, &insights); err != nil {
		return alert.Record{}, err
	}
	if err := json.Unmarshal(vector, &rec.FeatureVector); err != nil {
		return alert.Record{}, err
	}
	rec.Insights = []explain.Insight{}
	if err := json.Unmarshal(insights, &rec.Insights); err != nil {
		return alert.Record{}, err
	}
	return rec, nil
}
