package store

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"sync"
	"testing"
	"time"

	applog "amigo.app/meal-ledger/internal/log"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func newTestStore(t *testing.T, opts ...Option) *SQLiteStore {
	t.Helper()
	opts = append([]Option{WithLogger(applog.Discard())}, opts...)
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "ledger.db"), opts...)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func mustInsertMeal(t *testing.T, s *SQLiteStore, m Meal) int64 {
	t.Helper()
	id, err := s.InsertMeal(context.Background(), m)
	if err != nil {
		t.Fatalf("InsertMeal: %v", err)
	}
	return id
}

func TestInsertAndGetMeal(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	in := Meal{ImageRef: "img/1.jpg", Calories: 450, Protein: 30.5, Carbs: 40, Fat: 15.25, Timestamp: 1_700_000_000_000}
	id := mustInsertMeal(t, s, in)
	if id <= 0 {
		t.Fatalf("expected positive id, got %d", id)
	}

	got, err := s.GetMealByID(ctx, id)
	if err != nil {
		t.Fatalf("GetMealByID: %v", err)
	}
	in.ID = id
	if got == nil || *got != in {
		t.Fatalf("got %+v, want %+v", got, in)
	}

	missing, err := s.GetMealByID(ctx, id+100)
	if err != nil || missing != nil {
		t.Fatalf("missing meal: got %+v, %v", missing, err)
	}
}

func TestInsertKeepsEpochTimestamp(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)}
	s := newTestStore(t, WithClock(clock.Now))
	ctx := context.Background()

	in := Meal{ImageRef: "epoch", Calories: 100, Protein: 1, Timestamp: 0}
	in.ID = mustInsertMeal(t, s, in)
	got, err := s.GetMealByID(ctx, in.ID)
	if err != nil || got == nil || *got != in {
		t.Fatalf("got %+v, %v; want %+v", got, err, in)
	}

	wid, err := s.InsertWeight(ctx, Weight{Weight: 70})
	if err != nil {
		t.Fatalf("InsertWeight: %v", err)
	}
	if w, _ := s.GetWeightByID(ctx, wid); w == nil || w.Timestamp != 0 {
		t.Fatalf("weight = %+v, want timestamp 0", w)
	}
}

func TestInsertMealValidation(t *testing.T) {
	s := newTestStore(t)
	tests := []struct {
		name string
		meal Meal
	}{
		{"negative calories", Meal{Calories: -1}},
		{"calories above bound", Meal{Calories: MaxMealCalories + 1}},
		{"negative protein", Meal{Protein: -0.1}},
		{"NaN carbs", Meal{Carbs: math.NaN()}},
		{"infinite fat", Meal{Fat: math.Inf(1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.InsertMeal(context.Background(), tt.meal)
			if !errors.Is(err, ErrInvalidMeal) {
				t.Fatalf("expected ErrInvalidMeal, got %v", err)
			}
		})
	}
	if n, _ := s.CountMeals(context.Background()); n != 0 {
		t.Fatalf("invalid meals were stored: %d", n)
	}
}

func TestDeleteMealIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := mustInsertMeal(t, s, Meal{Calories: 200, Timestamp: 1})

	for i := 0; i < 2; i++ {
		if err := s.DeleteMealByID(ctx, id); err != nil {
			t.Fatalf("delete #%d: %v", i+1, err)
		}
	}
	if m, _ := s.GetMealByID(ctx, id); m != nil {
		t.Fatalf("meal still present: %+v", m)
	}
}

func TestUpdateMealMacrosKeepsIdentity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := mustInsertMeal(t, s, Meal{ImageRef: "a.jpg", Calories: 100, Protein: 1, Carbs: 2, Fat: 3, Timestamp: 42})

	if err := s.UpdateMealMacros(ctx, id, 250, 10, 20, 30); err != nil {
		t.Fatalf("UpdateMealMacros: %v", err)
	}
	got, _ := s.GetMealByID(ctx, id)
	want := Meal{ID: id, ImageRef: "a.jpg", Calories: 250, Protein: 10, Carbs: 20, Fat: 30, Timestamp: 42}
	if *got != want {
		t.Fatalf("got %+v, want %+v", *got, want)
	}

	if err := s.UpdateMealMacros(ctx, id+1, 1, 1, 1, 1); err != nil {
		t.Fatalf("update of missing meal should be a no-op, got %v", err)
	}
}

func TestModifyMealMacros(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := mustInsertMeal(t, s, Meal{ImageRef: "x", Calories: 300, Protein: 10, Timestamp: 7})

	got, err := s.ModifyMealMacros(ctx, id, func(m Meal) Meal {
		m.Calories *= 2
		m.Protein *= 2
		m.ImageRef = "ignored"
		m.Timestamp = 99
		return m
	})
	if err != nil {
		t.Fatalf("ModifyMealMacros: %v", err)
	}
	if got.Calories != 600 || got.Protein != 20 || got.ImageRef != "x" || got.Timestamp != 7 {
		t.Fatalf("unexpected result %+v", got)
	}

	absent, err := s.ModifyMealMacros(ctx, id+1, func(m Meal) Meal { return m })
	if err != nil || absent != nil {
		t.Fatalf("absent meal: got %+v, %v", absent, err)
	}

	_, err = s.ModifyMealMacros(ctx, id, func(m Meal) Meal {
		m.Calories = -5
		return m
	})
	if !errors.Is(err, ErrInvalidMeal) {
		t.Fatalf("expected ErrInvalidMeal, got %v", err)
	}
	stored, _ := s.GetMealByID(ctx, id)
	if stored.Calories != 600 {
		t.Fatalf("rejected modification was written: %+v", stored)
	}
}

func TestConcurrentModifyMealMacrosSerializes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := mustInsertMeal(t, s, Meal{Calories: 1, Timestamp: 1})

	const workers = 10
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.ModifyMealMacros(ctx, id, func(m Meal) Meal {
				m.Calories *= 2
				return m
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("ModifyMealMacros: %v", err)
		}
	}

	got, _ := s.GetMealByID(ctx, id)
	if got.Calories != 1<<workers {
		t.Fatalf("calories = %d, want %d (lost update)", got.Calories, 1<<workers)
	}
}

func TestModifyRacingDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		id := mustInsertMeal(t, s, Meal{Calories: 100, Timestamp: int64(i + 1)})

		var wg sync.WaitGroup
		var modErr, delErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, modErr = s.ModifyMealMacros(ctx, id, func(m Meal) Meal {
				m.Calories *= 3
				return m
			})
		}()
		go func() {
			defer wg.Done()
			delErr = s.DeleteMealByID(ctx, id)
		}()
		wg.Wait()

		if modErr != nil || delErr != nil {
			t.Fatalf("modify: %v, delete: %v", modErr, delErr)
		}
		if m, _ := s.GetMealByID(ctx, id); m != nil {
			t.Fatalf("meal %d survived its delete: %+v", id, m)
		}
	}
}

func TestListOrderingAndRange(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := mustInsertMeal(t, s, Meal{Calories: 1, Timestamp: 1000})
	b := mustInsertMeal(t, s, Meal{Calories: 2, Timestamp: 3000})
	c := mustInsertMeal(t, s, Meal{Calories: 3, Timestamp: 2000})
	d := mustInsertMeal(t, s, Meal{Calories: 4, Timestamp: 3000})

	all, err := s.ListMeals(ctx)
	if err != nil {
		t.Fatalf("ListMeals: %v", err)
	}
	wantOrder := []int64{d, b, c, a}
	if len(all) != len(wantOrder) {
		t.Fatalf("got %d meals", len(all))
	}
	for i, id := range wantOrder {
		if all[i].ID != id {
			t.Fatalf("position %d: got id %d, want %d", i, all[i].ID, id)
		}
	}

	inRange, _ := s.ListMealsInRange(ctx, 2000, 3000)
	if len(inRange) != 3 {
		t.Fatalf("range should include both bounds, got %d meals", len(inRange))
	}

	recent, _ := s.ListRecentMeals(ctx, 0)
	if len(recent) != 3 || recent[0].ID != d {
		t.Fatalf("recent default: %+v", recent)
	}
	one, _ := s.ListRecentMeals(ctx, 1)
	if len(one) != 1 {
		t.Fatalf("recent(1) returned %d", len(one))
	}

	empty, err := s.ListMealsInRange(ctx, 10, 20)
	if err != nil || empty == nil || len(empty) != 0 {
		t.Fatalf("empty range: %v, %v", empty, err)
	}
}

func TestListTodayMeals(t *testing.T) {
	loc := time.FixedZone("UTC+1", 60*60)
	clock := &fakeClock{now: time.Date(2025, 6, 10, 12, 0, 0, 0, loc)}
	s := newTestStore(t, WithClock(clock.Now), WithLocation(loc))
	ctx := context.Background()

	yesterday := mustInsertMeal(t, s, Meal{Calories: 1, Timestamp: time.Date(2025, 6, 9, 23, 59, 0, 0, loc).UnixMilli()})
	early := mustInsertMeal(t, s, Meal{Calories: 2, Timestamp: time.Date(2025, 6, 10, 0, 1, 0, 0, loc).UnixMilli()})
	mustInsertMeal(t, s, Meal{Calories: 3, Timestamp: time.Date(2025, 6, 11, 0, 0, 0, 0, loc).UnixMilli()})

	today, err := s.ListTodayMeals(ctx)
	if err != nil {
		t.Fatalf("ListTodayMeals: %v", err)
	}
	if len(today) != 1 || today[0].ID != early {
		t.Fatalf("today = %+v, want only meal %d", today, early)
	}

	clock.Set(time.Date(2025, 6, 9, 8, 0, 0, 0, loc))
	today, _ = s.ListTodayMeals(ctx)
	if len(today) != 1 || today[0].ID != yesterday {
		t.Fatalf("today re-evaluated at call time = %+v", today)
	}
}

func TestSumMealsInRange(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	empty, err := s.SumMealsInRange(ctx, 0, 100)
	if err != nil {
		t.Fatalf("SumMealsInRange: %v", err)
	}
	if empty != (Totals{}) {
		t.Fatalf("empty range totals = %+v", empty)
	}

	mustInsertMeal(t, s, Meal{Calories: 100, Protein: 1.5, Carbs: 2, Fat: 3, Timestamp: 10})
	mustInsertMeal(t, s, Meal{Calories: 250, Protein: 2.5, Carbs: 0, Fat: 1, Timestamp: 20})
	mustInsertMeal(t, s, Meal{Calories: 999, Timestamp: 21})

	got, _ := s.SumMealsInRange(ctx, 10, 20)
	want := Totals{Calories: 350, Protein: 4, Carbs: 2, Fat: 4, MealCount: 2}
	if got != want {
		t.Fatalf("totals = %+v, want %+v", got, want)
	}
}

func TestWeights(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	latest, err := s.LatestWeight(ctx)
	if err != nil || latest != nil {
		t.Fatalf("latest on empty store: %+v, %v", latest, err)
	}

	first, _ := s.InsertWeight(ctx, Weight{Weight: 80.5, Timestamp: 100})
	second, _ := s.InsertWeight(ctx, Weight{Weight: 79.9, Timestamp: 200})

	if _, err := s.InsertWeight(ctx, Weight{Weight: -1}); !errors.Is(err, ErrInvalidWeight) {
		t.Fatalf("expected ErrInvalidWeight, got %v", err)
	}

	latest, _ = s.LatestWeight(ctx)
	if latest == nil || latest.ID != second {
		t.Fatalf("latest = %+v", latest)
	}
	desc, _ := s.ListWeights(ctx)
	asc, _ := s.ListWeightsAscending(ctx)
	if len(desc) != 2 || desc[0].ID != second || asc[0].ID != first {
		t.Fatalf("ordering: desc=%+v asc=%+v", desc, asc)
	}

	if err := s.DeleteWeightByID(ctx, first); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.DeleteWeightByID(ctx, first); err != nil {
		t.Fatalf("second delete: %v", err)
	}
	if w, _ := s.GetWeightByID(ctx, first); w != nil {
		t.Fatalf("weight still present")
	}
}

func TestMigrationsOnReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.db")
	s, err := NewSQLiteStore(path, WithLogger(applog.Discard()))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	id, err := s.InsertMeal(context.Background(), Meal{Calories: 123, Timestamp: 5})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	s.Close()

	s, err = NewSQLiteStore(path, WithLogger(applog.Discard()))
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	m, err := s.GetMealByID(context.Background(), id)
	if err != nil || m == nil || m.Calories != 123 {
		t.Fatalf("meal after reopen: %+v, %v", m, err)
	}
}

func TestStorageErrorAfterClose(t *testing.T) {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "closed.db"), WithLogger(applog.Discard()))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	s.Close()

	_, err = s.ListMeals(context.Background())
	var se *StorageError
	if !errors.As(err, &se) {
		t.Fatalf("expected *StorageError, got %T %v", err, err)
	}
	if se.Op != "list meals" {
		t.Fatalf("op = %q", se.Op)
	}
}
