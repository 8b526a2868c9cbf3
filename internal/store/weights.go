package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	applog "amigo.app/meal-ledger/internal/log"
)

const weightColumns = "id, weight, timestamp"

func scanWeight(row rowScanner) (Weight, error) {
	var w Weight
	err := row.Scan(&w.ID, &w.Weight, &w.Timestamp)
	return w, err
}

// Weight methods

func (s *SQLiteStore) InsertWeight(ctx context.Context, w Weight) (int64, error) {
	if err := w.Validate(); err != nil {
		return 0, err
	}

	res, err := s.db.ExecContext(ctx, "INSERT INTO weights (weight, timestamp) VALUES (?, ?)", w.Weight, w.Timestamp)
	if err != nil {
		return 0, storageErr("insert weight", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, storageErr("insert weight", err)
	}

	s.logger.InfoContext(ctx, "Weight logged", applog.FieldWeightID, id, applog.FieldOperation, applog.OpInsert)
	s.publish(EntityWeight, OpInsert, id)
	return id, nil
}

func (s *SQLiteStore) GetWeightByID(ctx context.Context, id int64) (*Weight, error) {
	w, err := scanWeight(s.db.QueryRowContext(ctx, "SELECT "+weightColumns+" FROM weights WHERE id = ?", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, storageErr("get weight", err)
	}
	return &w, nil
}

func (s *SQLiteStore) DeleteWeightByID(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM weights WHERE id = ?", id)
	if err != nil {
		return storageErr("delete weight", err)
	}
	if affected, _ := res.RowsAffected(); affected > 0 {
		s.publish(EntityWeight, OpDelete, id)
	}
	return nil
}

func (s *SQLiteStore) queryWeights(ctx context.Context, op string, query string, args ...any) ([]Weight, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr(op, err)
	}
	defer rows.Close()

	weights := make([]Weight, 0)
	for rows.Next() {
		w, err := scanWeight(rows)
		if err != nil {
			return nil, storageErr(op, fmt.Errorf("failed to scan weight row: %w", err))
		}
		weights = append(weights, w)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(op, err)
	}
	return weights, nil
}

// ListWeights returns every weight entry, newest first.
func (s *SQLiteStore) ListWeights(ctx context.Context) ([]Weight, error) {
	return s.queryWeights(ctx, "list weights",
		"SELECT "+weightColumns+" FROM weights ORDER BY timestamp DESC, id DESC")
}

// ListWeightsAscending is the chart order.
func (s *SQLiteStore) ListWeightsAscending(ctx context.Context) ([]Weight, error) {
	return s.queryWeights(ctx, "list weights",
		"SELECT "+weightColumns+" FROM weights ORDER BY timestamp ASC, id ASC")
}

// LatestWeight returns nil, nil when nothing has been logged yet.
func (s *SQLiteStore) LatestWeight(ctx context.Context) (*Weight, error) {
	w, err := scanWeight(s.db.QueryRowContext(ctx,
		"SELECT "+weightColumns+" FROM weights ORDER BY timestamp DESC, id DESC LIMIT 1"))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, storageErr("latest weight", err)
	}
	return &w, nil
}

func (s *SQLiteStore) WatchWeights(ctx context.Context) *Subscription[[]Weight] {
	return watch(ctx, s.notifier, s.logger, liveQuery[[]Weight]{
		entity: EntityWeight,
		query:  s.ListWeights,
	})
}
