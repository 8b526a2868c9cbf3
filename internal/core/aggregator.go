package core

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	applog "amigo.app/meal-ledger/internal/log"
	"amigo.app/meal-ledger/internal/store"
	"amigo.app/meal-ledger/internal/utils"
)

// DailySummary is derived on demand and never persisted.
type DailySummary struct {
	Date          string  `json:"date"`
	DayStart      int64   `json:"day_start"`
	TotalCalories int     `json:"total_calories"`
	TotalProtein  float64 `json:"total_protein"`
	TotalCarbs    float64 `json:"total_carbs"`
	TotalFat      float64 `json:"total_fat"`
	MealCount     int     `json:"meal_count"`
}

func (d DailySummary) IsEmpty() bool {
	return d.MealCount == 0
}

// Period is a named look-back window used by Statistics.
type Period string

const (
	PeriodWeek        Period = "week"
	PeriodMonth       Period = "month"
	PeriodThreeMonths Period = "three_months"
	PeriodYear        Period = "year"
)

var periodDays = map[Period]int{
	PeriodWeek:        7,
	PeriodMonth:       30,
	PeriodThreeMonths: 90,
	PeriodYear:        365,
}

func ParsePeriod(s string) (Period, error) {
	if s == "" {
		return PeriodWeek, nil
	}
	p := Period(s)
	if _, ok := periodDays[p]; !ok {
		return "", fmt.Errorf("unknown period %q", s)
	}
	return p, nil
}

func (p Period) Days() int {
	return periodDays[p]
}

// Statistics bundles everything the statistics view needs for one period.
type Statistics struct {
	Period     Period         `json:"period"`
	Start      int64          `json:"start"`
	End        int64          `json:"end"`
	Daily      []DailySummary `json:"daily"`
	Summary    DailySummary   `json:"summary"`
	TotalMeals int            `json:"total_meals"`
}

// Aggregator sums stored meals into day buckets. It only reads.
type Aggregator struct {
	store  *store.SQLiteStore
	logger *applog.Logger
}

func NewAggregator(s *store.SQLiteStore, logger *applog.Logger) *Aggregator {
	return &Aggregator{store: s, logger: logger.WithComponent(applog.ComponentLedger)}
}

// SummaryFor totals the closed interval [start, end]. An empty range yields
// a zero summary labelled with the day of start.
func (a *Aggregator) SummaryFor(ctx context.Context, start, end int64) (DailySummary, error) {
	totals, err := a.store.SumMealsInRange(ctx, start, end)
	if err != nil {
		return DailySummary{}, fmt.Errorf("failed to sum meals: %w", err)
	}
	loc := a.store.Location()
	return DailySummary{
		Date:          utils.DayLabel(start, loc),
		DayStart:      utils.DayStart(time.UnixMilli(start), loc).UnixMilli(),
		TotalCalories: totals.Calories,
		TotalProtein:  totals.Protein,
		TotalCarbs:    totals.Carbs,
		TotalFat:      totals.Fat,
		MealCount:     totals.MealCount,
	}, nil
}

// TodaySummary totals the current local calendar day.
func (a *Aggregator) TodaySummary(ctx context.Context) (DailySummary, error) {
	start, end := utils.DayBounds(a.store.Now(), a.store.Location())
	return a.SummaryFor(ctx, start, end-1)
}

// DailySummaries returns one summary per local calendar day that has meals
// in [start, end], oldest first. All buckets come from one query.
func (a *Aggregator) DailySummaries(ctx context.Context, start, end int64) ([]DailySummary, error) {
	meals, err := a.store.ListMealsInRange(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to list meals: %w", err)
	}
	return bucketByDay(meals, a.store.Location())
}

func bucketByDay(meals []store.Meal, loc *time.Location) ([]DailySummary, error) {
	buckets := make(map[string]*DailySummary)
	for _, m := range meals {
		label := utils.DayLabel(m.Timestamp, loc)
		b, ok := buckets[label]
		if !ok {
			b = &DailySummary{Date: label}
			buckets[label] = b
		}
		b.TotalCalories += m.Calories
		b.TotalProtein += m.Protein
		b.TotalCarbs += m.Carbs
		b.TotalFat += m.Fat
		b.MealCount++
	}

	out := make([]DailySummary, 0, len(buckets))
	for label, b := range buckets {
		dayStart, err := utils.ParseDayLabel(label, loc)
		if err != nil {
			// Rejected rather than attributed to an arbitrary day.
			return nil, fmt.Errorf("failed to bucket meals: %w", err)
		}
		b.DayStart = dayStart.UnixMilli()
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DayStart < out[j].DayStart })
	return out, nil
}

// Statistics covers the last p.Days() days up to now. Summary is the sum of
// Daily, so both reflect the same read of the ledger. The range read and the
// overall meal count run concurrently; any failure fails the whole call.
func (a *Aggregator) Statistics(ctx context.Context, p Period) (*Statistics, error) {
	days := p.Days()
	if days == 0 {
		return nil, fmt.Errorf("unknown period %q", p)
	}
	now := a.store.Now()
	stats := &Statistics{
		Period: p,
		Start:  now.AddDate(0, 0, -days).UnixMilli(),
		End:    now.UnixMilli(),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		daily, err := a.DailySummaries(gctx, stats.Start, stats.End)
		stats.Daily = daily
		return err
	})
	g.Go(func() error {
		n, err := a.store.CountMeals(gctx)
		stats.TotalMeals = n
		return err
	})
	if err := g.Wait(); err != nil {
		a.logger.ErrorContext(ctx, "Statistics failed", applog.NewFields().WithOperation(applog.OpSummarize).WithError(err).ToSlice()...)
		return nil, err
	}
	stats.Summary = sumDays(stats.Daily, stats.Start, a.store.Location())
	a.logger.DebugContext(ctx, "Statistics computed",
		applog.FieldDay, stats.Summary.Date, applog.FieldCount, stats.Summary.MealCount, applog.FieldOperation, applog.OpSummarize)
	return stats, nil
}

// sumDays folds day buckets into one summary labelled with the day of start.
func sumDays(daily []DailySummary, start int64, loc *time.Location) DailySummary {
	out := DailySummary{
		Date:     utils.DayLabel(start, loc),
		DayStart: utils.DayStart(time.UnixMilli(start), loc).UnixMilli(),
	}
	for _, d := range daily {
		out.TotalCalories += d.TotalCalories
		out.TotalProtein += d.TotalProtein
		out.TotalCarbs += d.TotalCarbs
		out.TotalFat += d.TotalFat
		out.MealCount += d.MealCount
	}
	return out
}
