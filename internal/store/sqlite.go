package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	applog "amigo.app/meal-ledger/internal/log"
	"amigo.app/meal-ledger/internal/utils"
)

const (
	defaultRecentLimit = 3

	mealColumns = "id, image_ref, calories, protein, carbs, fat, timestamp"

	// WAL lets readers proceed during writes; immediate transactions take
	// the write lock at BEGIN so read-modify-write cycles serialize.
	connParams = "_busy_timeout=5000&_journal_mode=WAL&_txlock=immediate"
)

type SQLiteStore struct {
	db       *sql.DB
	notifier *Notifier
	logger   *applog.Logger
	now      func() time.Time
	loc      *time.Location
}

type Option func(*SQLiteStore)

// WithClock overrides the time source for "today" and change event times.
func WithClock(now func() time.Time) Option {
	return func(s *SQLiteStore) { s.now = now }
}

// WithLocation sets the zone that defines local calendar days.
func WithLocation(loc *time.Location) Option {
	return func(s *SQLiteStore) { s.loc = loc }
}

func WithLogger(logger *applog.Logger) Option {
	return func(s *SQLiteStore) { s.logger = logger.WithComponent(applog.ComponentStore) }
}

// NewSQLiteStore opens (creating if needed) the ledger database and brings
// its schema up to date. Create one per process and share it.
func NewSQLiteStore(dataSourceName string, opts ...Option) (*SQLiteStore, error) {
	if dir := filepath.Dir(dataSourceName); dir != "." && dir != "" && !strings.HasPrefix(dataSourceName, "file:") {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := withConnParams(dataSourceName)
	if err := runMigrations(dsn); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &SQLiteStore{
		db:       db,
		notifier: NewNotifier(),
		logger:   applog.Default(applog.ComponentStore),
		now:      time.Now,
		loc:      time.Local,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func withConnParams(dataSourceName string) string {
	if strings.Contains(dataSourceName, "?") {
		return dataSourceName + "&" + connParams
	}
	return dataSourceName + "?" + connParams
}

// Close ends all live subscriptions and closes the database.
func (s *SQLiteStore) Close() error {
	s.notifier.Close()
	return s.db.Close()
}

func (s *SQLiteStore) Now() time.Time {
	return s.now()
}

func (s *SQLiteStore) Location() *time.Location {
	return s.loc
}

// Notifier exposes the change feed, e.g. for event forwarding.
func (s *SQLiteStore) Notifier() *Notifier {
	return s.notifier
}

func (s *SQLiteStore) publish(entity, op string, id int64) {
	s.notifier.Publish(ChangeEvent{Entity: entity, Op: op, ID: id, At: s.now()})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMeal(row rowScanner) (Meal, error) {
	var m Meal
	err := row.Scan(&m.ID, &m.ImageRef, &m.Calories, &m.Protein, &m.Carbs, &m.Fat, &m.Timestamp)
	return m, err
}

// Meal methods

// InsertMeal stores m exactly as given and returns its new id.
func (s *SQLiteStore) InsertMeal(ctx context.Context, m Meal) (int64, error) {
	if err := m.Validate(); err != nil {
		return 0, err
	}

	res, err := s.db.ExecContext(ctx,
		"INSERT INTO meals (image_ref, calories, protein, carbs, fat, timestamp) VALUES (?, ?, ?, ?, ?, ?)",
		m.ImageRef, m.Calories, m.Protein, m.Carbs, m.Fat, m.Timestamp)
	if err != nil {
		return 0, storageErr("insert meal", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, storageErr("insert meal", err)
	}

	s.logger.InfoContext(ctx, "Meal saved", applog.NewFields().WithMeal(id, m.Calories).WithOperation(applog.OpInsert).ToSlice()...)
	s.publish(EntityMeal, OpInsert, id)
	return id, nil
}

// GetMealByID returns nil, nil when no meal has that id.
func (s *SQLiteStore) GetMealByID(ctx context.Context, id int64) (*Meal, error) {
	m, err := scanMeal(s.db.QueryRowContext(ctx, "SELECT "+mealColumns+" FROM meals WHERE id = ?", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, storageErr("get meal", err)
	}
	return &m, nil
}

// DeleteMealByID is idempotent: deleting a missing meal is not an error.
func (s *SQLiteStore) DeleteMealByID(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM meals WHERE id = ?", id)
	if err != nil {
		return storageErr("delete meal", err)
	}
	if affected, _ := res.RowsAffected(); affected > 0 {
		s.logger.InfoContext(ctx, "Meal deleted", applog.FieldMealID, id, applog.FieldOperation, applog.OpDelete)
		s.publish(EntityMeal, OpDelete, id)
	}
	return nil
}

// UpdateMealMacros replaces the nutrition fields of a meal, leaving identity,
// image and timestamp untouched. A missing id is a no-op.
func (s *SQLiteStore) UpdateMealMacros(ctx context.Context, id int64, calories int, protein, carbs, fat float64) error {
	if err := (Meal{Calories: calories, Protein: protein, Carbs: carbs, Fat: fat}).Validate(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		"UPDATE meals SET calories = ?, protein = ?, carbs = ?, fat = ? WHERE id = ?",
		calories, protein, carbs, fat, id)
	if err != nil {
		return storageErr("update meal", err)
	}
	if affected, _ := res.RowsAffected(); affected > 0 {
		s.publish(EntityMeal, OpUpdate, id)
	}
	return nil
}

// ModifyMealMacros applies fn to the stored meal and writes back its
// nutrition fields inside one write transaction, so concurrent deletes and
// modifications of the same meal cannot interleave. It returns the stored
// result, or nil if the meal does not exist.
func (s *SQLiteStore) ModifyMealMacros(ctx context.Context, id int64, fn func(Meal) Meal) (*Meal, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storageErr("modify meal", err)
	}
	defer tx.Rollback()

	current, err := scanMeal(tx.QueryRowContext(ctx, "SELECT "+mealColumns+" FROM meals WHERE id = ?", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, storageErr("modify meal", err)
	}

	next := fn(current)
	next.ID, next.ImageRef, next.Timestamp = current.ID, current.ImageRef, current.Timestamp
	if err := next.Validate(); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE meals SET calories = ?, protein = ?, carbs = ?, fat = ? WHERE id = ?",
		next.Calories, next.Protein, next.Carbs, next.Fat, id); err != nil {
		return nil, storageErr("modify meal", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, storageErr("modify meal", err)
	}

	s.logger.InfoContext(ctx, "Meal macros updated", applog.NewFields().WithMeal(id, next.Calories).WithOperation(applog.OpUpdate).ToSlice()...)
	s.publish(EntityMeal, OpUpdate, id)
	return &next, nil
}

func (s *SQLiteStore) queryMeals(ctx context.Context, op string, query string, args ...any) ([]Meal, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr(op, err)
	}
	defer rows.Close()

	meals := make([]Meal, 0)
	for rows.Next() {
		m, err := scanMeal(rows)
		if err != nil {
			return nil, storageErr(op, fmt.Errorf("failed to scan meal row: %w", err))
		}
		meals = append(meals, m)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(op, err)
	}
	return meals, nil
}

// ListMeals returns every meal, newest first.
func (s *SQLiteStore) ListMeals(ctx context.Context) ([]Meal, error) {
	return s.queryMeals(ctx, "list meals",
		"SELECT "+mealColumns+" FROM meals ORDER BY timestamp DESC, id DESC")
}

// ListRecentMeals returns the n newest meals; n <= 0 means 3.
func (s *SQLiteStore) ListRecentMeals(ctx context.Context, n int) ([]Meal, error) {
	if n <= 0 {
		n = defaultRecentLimit
	}
	return s.queryMeals(ctx, "list recent meals",
		"SELECT "+mealColumns+" FROM meals ORDER BY timestamp DESC, id DESC LIMIT ?", n)
}

// ListMealsInRange returns meals with start <= timestamp <= end, newest first.
func (s *SQLiteStore) ListMealsInRange(ctx context.Context, start, end int64) ([]Meal, error) {
	return s.queryMeals(ctx, "list meals in range",
		"SELECT "+mealColumns+" FROM meals WHERE timestamp >= ? AND timestamp <= ? ORDER BY timestamp DESC, id DESC",
		start, end)
}

// ListTodayMeals returns the meals of the current local calendar day, with
// "today" evaluated at call time.
func (s *SQLiteStore) ListTodayMeals(ctx context.Context) ([]Meal, error) {
	start, end := utils.DayBounds(s.now(), s.loc)
	return s.queryMeals(ctx, "list today meals",
		"SELECT "+mealColumns+" FROM meals WHERE timestamp >= ? AND timestamp < ? ORDER BY timestamp DESC, id DESC",
		start, end)
}

func (s *SQLiteStore) CountMeals(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM meals").Scan(&n); err != nil {
		return 0, storageErr("count meals", err)
	}
	return n, nil
}

// SumMealsInRange aggregates meals with start <= timestamp <= end in a single
// statement.
func (s *SQLiteStore) SumMealsInRange(ctx context.Context, start, end int64) (Totals, error) {
	var t Totals
	err := s.db.QueryRowContext(ctx, `
        SELECT
            COALESCE(SUM(calories), 0),
            COALESCE(SUM(protein), 0.0),
            COALESCE(SUM(carbs), 0.0),
            COALESCE(SUM(fat), 0.0),
            COUNT(*)
        FROM meals
        WHERE timestamp >= ? AND timestamp <= ?
    `, start, end).Scan(&t.Calories, &t.Protein, &t.Carbs, &t.Fat, &t.MealCount)
	if err != nil {
		return Totals{}, storageErr("sum meals", err)
	}
	return t, nil
}

// WatchMeals streams the full meal list after every meal change.
func (s *SQLiteStore) WatchMeals(ctx context.Context) *Subscription[[]Meal] {
	return watch(ctx, s.notifier, s.logger, liveQuery[[]Meal]{
		entity: EntityMeal,
		query:  s.ListMeals,
	})
}

// WatchTodayMeals streams today's meals after every meal change and when the
// local day rolls over.
func (s *SQLiteStore) WatchTodayMeals(ctx context.Context) *Subscription[[]Meal] {
	return watch(ctx, s.notifier, s.logger, liveQuery[[]Meal]{
		entity: EntityMeal,
		query:  s.ListTodayMeals,
		refreshIn: func() time.Duration {
			return utils.NextMidnight(s.now(), s.loc)
		},
	})
}
