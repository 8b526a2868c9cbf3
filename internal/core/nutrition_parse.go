package core

import (
	"bytes"
	"encoding/json"
	"math"
	"strings"

	"amigo.app/meal-ledger/internal/store"
)

var nutritionFields = [...]string{"calories", "protein", "carbs", "fat"}

// ParseNutrition extracts NutritionData from a free-form model reply. It
// tolerates surrounding prose and markdown code fences but never defaults a
// field: anything short of four non-negative finite numbers, with integral
// calories, is a MalformedResponse.
func ParseNutrition(text string) (NutritionData, error) {
	body := stripFences(strings.TrimSpace(text))

	start := strings.IndexByte(body, '{')
	end := strings.LastIndexByte(body, '}')
	if start < 0 || end < 0 || end < start {
		return NutritionData{}, malformed("no JSON object in response")
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(body[start : end+1])))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return NutritionData{}, malformed("invalid JSON: %v", err)
	}

	var values [len(nutritionFields)]float64
	for i, name := range nutritionFields {
		raw, ok := obj[name]
		if !ok {
			return NutritionData{}, malformed("missing field %q", name)
		}
		num, ok := raw.(json.Number)
		if !ok {
			return NutritionData{}, malformed("field %q is not a number", name)
		}
		v, err := num.Float64()
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return NutritionData{}, malformed("field %q is not a finite number", name)
		}
		if v < 0 {
			return NutritionData{}, malformed("field %q is negative", name)
		}
		values[i] = v
	}

	calories := values[0]
	if calories != math.Trunc(calories) || calories > store.MaxMealCalories {
		return NutritionData{}, malformed("calories %v is not an integer in range", calories)
	}

	return NutritionData{
		Calories: int(calories),
		Protein:  values[1],
		Carbs:    values[2],
		Fat:      values[3],
	}, nil
}

// stripFences removes a leading ``` (with optional language tag) and a
// trailing ```.
func stripFences(s string) string {
	if strings.HasPrefix(s, "```") {
		s = s[3:]
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			tag := strings.TrimSpace(s[:nl])
			if tag == "" || isLanguageTag(tag) {
				s = s[nl+1:]
			}
		} else {
			s = strings.TrimLeft(s, "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ")
		}
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func isLanguageTag(s string) bool {
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '_' || r == '+') {
			return false
		}
	}
	return true
}
