package core

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"amigo.app/meal-ledger/internal/cache"
	applog "amigo.app/meal-ledger/internal/log"
	"amigo.app/meal-ledger/internal/store"
)

// NutritionAnalyzer is satisfied by *AnalysisClient.
type NutritionAnalyzer interface {
	Analyze(ctx context.Context, image []byte) (NutritionData, error)
}

// Draft is an analysis result waiting for the user to confirm it.
type Draft struct {
	ID        string        `json:"id"`
	Nutrition NutritionData `json:"nutrition"`
	ImageRef  string        `json:"image_ref"`
	CreatedAt time.Time     `json:"created_at"`
}

// MealRepository is the single entry point the UI layer talks to.
type MealRepository struct {
	store      *store.SQLiteStore
	aggregator *Aggregator
	analyzer   NutritionAnalyzer
	drafts     cache.Cache[Draft]
	logger     *applog.Logger
}

func NewMealRepository(s *store.SQLiteStore, agg *Aggregator, analyzer NutritionAnalyzer, drafts cache.Cache[Draft], logger *applog.Logger) *MealRepository {
	return &MealRepository{
		store:      s,
		aggregator: agg,
		analyzer:   analyzer,
		drafts:     drafts,
		logger:     logger.WithComponent(applog.ComponentLedger),
	}
}

// Location is the zone that defines calendar days for this ledger.
func (r *MealRepository) Location() *time.Location {
	return r.store.Location()
}

// lenient maps non-finite or non-positive multipliers to 1.
func lenient(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return 1.0
	}
	return v
}

// scaleCalories saturates just past store.MaxMealCalories so oversized
// results fail validation instead of wrapping.
func scaleCalories(calories int, m float64) int {
	v := math.Round(float64(calories) * m)
	if v > store.MaxMealCalories {
		return store.MaxMealCalories + 1
	}
	return int(v)
}

// Analysis

func (r *MealRepository) Analyze(ctx context.Context, image []byte) (NutritionData, error) {
	return r.analyzer.Analyze(ctx, image)
}

// AnalyzeDraft analyzes image and keeps the result as a draft. Nothing is
// kept unless the analysis fully succeeded.
func (r *MealRepository) AnalyzeDraft(ctx context.Context, image []byte, imageRef string) (*Draft, error) {
	data, err := r.analyzer.Analyze(ctx, image)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d := Draft{
		ID:        uuid.NewString(),
		Nutrition: data,
		ImageRef:  imageRef,
		CreatedAt: r.store.Now(),
	}
	r.drafts.Set(d.ID, d)
	r.logger.InfoContext(ctx, "Draft created", applog.FieldDraftID, d.ID, applog.FieldCalories, data.Calories)
	return &d, nil
}

// GetDraft returns nil when the draft is unknown or expired.
func (r *MealRepository) GetDraft(id string) *Draft {
	d, ok := r.drafts.Get(id)
	if !ok {
		return nil
	}
	return &d
}

// DiscardDraft reports whether a live draft was removed.
func (r *MealRepository) DiscardDraft(id string) bool {
	return r.drafts.Delete(id)
}

// Ledger writes

// Save multiplies draft by quantity (non-finite or <= 0 means 1) and stores
// it as a new meal stamped now.
func (r *MealRepository) Save(ctx context.Context, draft NutritionData, imageRef string, quantity float64) (int64, error) {
	m := lenient(quantity)
	meal := store.Meal{
		ImageRef:  imageRef,
		Calories:  scaleCalories(draft.Calories, m),
		Protein:   draft.Protein * m,
		Carbs:     draft.Carbs * m,
		Fat:       draft.Fat * m,
		Timestamp: r.store.Now().UnixMilli(),
	}
	id, err := r.store.InsertMeal(ctx, meal)
	if err != nil {
		return 0, fmt.Errorf("failed to save meal: %w", err)
	}
	return id, nil
}

// ConfirmDraft saves a draft and consumes it. A draft can be confirmed once.
func (r *MealRepository) ConfirmDraft(ctx context.Context, draftID string, quantity float64) (int64, error) {
	d, ok := r.drafts.Take(draftID)
	if !ok {
		return 0, ErrDraftNotFound
	}
	id, err := r.Save(ctx, d.Nutrition, d.ImageRef, quantity)
	if err != nil {
		// Let the user retry the confirmation.
		r.drafts.Set(d.ID, d)
		return 0, err
	}
	r.logger.InfoContext(ctx, "Draft confirmed", applog.FieldDraftID, draftID, applog.FieldMealID, id)
	return id, nil
}

// ScalePortion multiplies a stored meal's nutrition by factor atomically and
// returns the updated meal, or nil if it does not exist. A non-finite or
// non-positive factor leaves the meal as it is.
func (r *MealRepository) ScalePortion(ctx context.Context, mealID int64, factor float64) (*store.Meal, error) {
	f := lenient(factor)
	updated, err := r.store.ModifyMealMacros(ctx, mealID, func(m store.Meal) store.Meal {
		m.Calories = scaleCalories(m.Calories, f)
		m.Protein *= f
		m.Carbs *= f
		m.Fat *= f
		return m
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scale meal %d: %w", mealID, err)
	}
	if updated != nil {
		r.logger.InfoContext(ctx, "Portion scaled", applog.FieldMealID, mealID, applog.FieldFactor, f, applog.FieldOperation, applog.OpScale)
	}
	return updated, nil
}

func (r *MealRepository) DeleteMeal(ctx context.Context, id int64) error {
	return r.store.DeleteMealByID(ctx, id)
}

// Ledger reads

func (r *MealRepository) GetMeal(ctx context.Context, id int64) (*store.Meal, error) {
	return r.store.GetMealByID(ctx, id)
}

func (r *MealRepository) ListMeals(ctx context.Context) ([]store.Meal, error) {
	return r.store.ListMeals(ctx)
}

func (r *MealRepository) ListTodayMeals(ctx context.Context) ([]store.Meal, error) {
	return r.store.ListTodayMeals(ctx)
}

func (r *MealRepository) ListRecentMeals(ctx context.Context, n int) ([]store.Meal, error) {
	return r.store.ListRecentMeals(ctx, n)
}

func (r *MealRepository) ListMealsInRange(ctx context.Context, start, end int64) ([]store.Meal, error) {
	return r.store.ListMealsInRange(ctx, start, end)
}

func (r *MealRepository) WatchMeals(ctx context.Context) *store.Subscription[[]store.Meal] {
	return r.store.WatchMeals(ctx)
}

func (r *MealRepository) WatchTodayMeals(ctx context.Context) *store.Subscription[[]store.Meal] {
	return r.store.WatchTodayMeals(ctx)
}

// Summaries

func (r *MealRepository) TodaySummary(ctx context.Context) (DailySummary, error) {
	return r.aggregator.TodaySummary(ctx)
}

func (r *MealRepository) SummaryFor(ctx context.Context, start, end int64) (DailySummary, error) {
	return r.aggregator.SummaryFor(ctx, start, end)
}

func (r *MealRepository) DailySummaries(ctx context.Context, start, end int64) ([]DailySummary, error) {
	return r.aggregator.DailySummaries(ctx, start, end)
}

func (r *MealRepository) Statistics(ctx context.Context, p Period) (*Statistics, error) {
	return r.aggregator.Statistics(ctx, p)
}

// Weights

func (r *MealRepository) LogWeight(ctx context.Context, weight float64) (int64, error) {
	if math.IsNaN(weight) || math.IsInf(weight, 0) || weight <= 0 {
		return 0, errors.Join(store.ErrInvalidWeight, fmt.Errorf("weight must be a positive number, got %v", weight))
	}
	return r.store.InsertWeight(ctx, store.Weight{Weight: weight, Timestamp: r.store.Now().UnixMilli()})
}

func (r *MealRepository) ListWeights(ctx context.Context) ([]store.Weight, error) {
	return r.store.ListWeights(ctx)
}

func (r *MealRepository) ListWeightsAscending(ctx context.Context) ([]store.Weight, error) {
	return r.store.ListWeightsAscending(ctx)
}

func (r *MealRepository) LatestWeight(ctx context.Context) (*store.Weight, error) {
	return r.store.LatestWeight(ctx)
}

func (r *MealRepository) DeleteWeight(ctx context.Context, id int64) error {
	return r.store.DeleteWeightByID(ctx, id)
}

func (r *MealRepository) WatchWeights(ctx context.Context) *store.Subscription[[]store.Weight] {
	return r.store.WatchWeights(ctx)
}
