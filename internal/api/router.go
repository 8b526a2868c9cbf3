package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	applog "amigo.app/meal-ledger/internal/log"
)

func NewRouter(apiHandler *APIHandler, logger *applog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(applog.RequestLogger(logger)) // Structured request logging
	r.Use(middleware.Recoverer)         // Recover from panics
	r.Use(middleware.StripSlashes)      // Ensure consistent path handling

	// All API routes will be under /api
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"status":"ok"}`))
		})

		// Analysis and drafts
		r.Post("/meals/analyze", apiHandler.AnalyzeMealHandler)
		r.Get("/drafts/{draftID}", apiHandler.GetDraftHandler)
		r.Delete("/drafts/{draftID}", apiHandler.DiscardDraftHandler)
		r.Post("/drafts/{draftID}/confirm", apiHandler.ConfirmDraftHandler)

		// Meal ledger
		r.Post("/meals", apiHandler.SaveMealHandler)
		r.Get("/meals", apiHandler.ListMealsHandler)
		r.Get("/meals/today", apiHandler.TodayMealsHandler)
		r.Get("/meals/recent", apiHandler.RecentMealsHandler)
		r.Get("/meals/live", apiHandler.LiveMealsHandler)
		r.Get("/meals/{mealID}", apiHandler.GetMealHandler)
		r.Delete("/meals/{mealID}", apiHandler.DeleteMealHandler)
		r.Post("/meals/{mealID}/scale", apiHandler.ScaleMealHandler)

		// Summaries
		r.Get("/summary/today", apiHandler.TodaySummaryHandler)
		r.Get("/summary/daily", apiHandler.DailySummariesHandler)
		r.Get("/summary", apiHandler.SummaryHandler)
		r.Get("/statistics", apiHandler.StatisticsHandler)

		// Weights
		r.Post("/weights", apiHandler.LogWeightHandler)
		r.Get("/weights", apiHandler.ListWeightsHandler)
		r.Get("/weights/latest", apiHandler.LatestWeightHandler)
		r.Get("/weights/live", apiHandler.LiveWeightsHandler)
		r.Delete("/weights/{weightID}", apiHandler.DeleteWeightHandler)
	})

	return r
}
