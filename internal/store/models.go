package store

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	ErrInvalidMeal   = errors.New("invalid meal")
	ErrInvalidWeight = errors.New("invalid weight")
)

// MaxMealCalories bounds a single meal so ledger sums stay within int64.
const MaxMealCalories = math.MaxInt32

type Meal struct {
	ID        int64   `json:"id"`
	ImageRef  string  `json:"image_ref"`
	Calories  int     `json:"calories"`
	Protein   float64 `json:"protein"`
	Carbs     float64 `json:"carbs"`
	Fat       float64 `json:"fat"`
	Timestamp int64   `json:"timestamp"` // epoch milliseconds
}

// Time returns the meal timestamp as a time.Time.
func (m Meal) Time() time.Time {
	return time.UnixMilli(m.Timestamp)
}

func (m Meal) Validate() error {
	if m.Calories < 0 {
		return errors.Join(ErrInvalidMeal, errors.New("calories must be non-negative"))
	}
	if m.Calories > MaxMealCalories {
		return errors.Join(ErrInvalidMeal, fmt.Errorf("calories must not exceed %d", MaxMealCalories))
	}
	if !validGrams(m.Protein) || !validGrams(m.Carbs) || !validGrams(m.Fat) {
		return errors.Join(ErrInvalidMeal, errors.New("macros must be finite and non-negative"))
	}
	return nil
}

type Weight struct {
	ID        int64   `json:"id"`
	Weight    float64 `json:"weight"`
	Timestamp int64   `json:"timestamp"` // epoch milliseconds
}

func (w Weight) Validate() error {
	if !validGrams(w.Weight) {
		return errors.Join(ErrInvalidWeight, errors.New("weight must be finite and non-negative"))
	}
	return nil
}

// Totals is the raw aggregate over a set of meals.
type Totals struct {
	Calories  int
	Protein   float64
	Carbs     float64
	Fat       float64
	MealCount int
}

func validGrams(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= 0
}
