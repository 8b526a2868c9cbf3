package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"amigo.app/meal-ledger/internal/core"
	applog "amigo.app/meal-ledger/internal/log"
	"amigo.app/meal-ledger/internal/store"
	"amigo.app/meal-ledger/internal/utils"
)

const maxImageBytes = 10 << 20

var (
	errBadRequest    = errors.New("bad request")
	errImageTooLarge = fmt.Errorf("image exceeds %d bytes", maxImageBytes)
)

type APIHandler struct {
	repo     *core.MealRepository
	upgrader websocket.Upgrader
}

// NewAPIHandler serves repo. Live endpoints accept same-origin WebSocket
// clients plus any of allowedOrigins.
func NewAPIHandler(repo *core.MealRepository, allowedOrigins ...string) *APIHandler {
	return &APIHandler{
		repo:     repo,
		upgrader: websocket.Upgrader{CheckOrigin: originChecker(allowedOrigins)},
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, store.ErrInvalidMeal),
		errors.Is(err, store.ErrInvalidWeight),
		errors.Is(err, core.ErrInvalidImage):
		return http.StatusBadRequest
	case errors.Is(err, errImageTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, core.ErrDraftNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrMissingCredential):
		return http.StatusServiceUnavailable
	case errors.Is(err, core.ErrTransport):
		return http.StatusBadGateway
	case errors.Is(err, core.ErrEmptyResponse), errors.Is(err, core.ErrMalformedResponse):
		return http.StatusUnprocessableEntity
	}
	// *store.StorageError and anything unexpected.
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		applog.FromContext(r.Context()).ErrorContext(r.Context(), "Request failed", applog.NewFields().WithError(err).ToSlice()...)
		msg = "internal error, please try again"
	}
	writeJSON(w, status, errorResponse{Error: msg})
}

func notFound(w http.ResponseWriter, what string) {
	writeJSON(w, http.StatusNotFound, errorResponse{Error: what + " not found"})
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, badRequest("invalid %s", name)
	}
	return id, nil
}

// parseBound accepts epoch milliseconds or a YYYY-MM-DD day label. A label
// used as an end bound means the last millisecond of that day.
func parseBound(value string, loc *time.Location, isEnd bool) (int64, error) {
	if ms, err := strconv.ParseInt(value, 10, 64); err == nil {
		return ms, nil
	}
	day, err := utils.ParseDayLabel(value, loc)
	if err != nil {
		return 0, badRequest("invalid time bound %q", value)
	}
	if isEnd {
		return day.AddDate(0, 0, 1).UnixMilli() - 1, nil
	}
	return day.UnixMilli(), nil
}

func (h *APIHandler) rangeParams(r *http.Request) (int64, int64, error) {
	q := r.URL.Query()
	if q.Get("start") == "" || q.Get("end") == "" {
		return 0, 0, badRequest("start and end are required")
	}
	loc := h.repo.Location()
	start, err := parseBound(q.Get("start"), loc, false)
	if err != nil {
		return 0, 0, err
	}
	end, err := parseBound(q.Get("end"), loc, true)
	if err != nil {
		return 0, 0, err
	}
	if end < start {
		return 0, 0, badRequest("end is before start")
	}
	return start, end, nil
}

// Analysis and drafts

func (h *APIHandler) AnalyzeMealHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxImageBytes+1<<20)
	if err := r.ParseMultipartForm(maxImageBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, errImageTooLarge)
			return
		}
		writeError(w, r, badRequest("invalid multipart form: %v", err))
		return
	}
	file, header, err := r.FormFile("image")
	if err != nil {
		writeError(w, r, badRequest("image file is required"))
		return
	}
	defer file.Close()
	if header.Size > maxImageBytes {
		writeError(w, r, errImageTooLarge)
		return
	}

	// Bound the read as well as the declared size.
	image, err := io.ReadAll(io.LimitReader(file, maxImageBytes+1))
	if err != nil {
		writeError(w, r, badRequest("failed to read image: %v", err))
		return
	}
	if len(image) > maxImageBytes {
		writeError(w, r, errImageTooLarge)
		return
	}

	draft, err := h.repo.AnalyzeDraft(r.Context(), image, r.FormValue("image_ref"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, draft)
}

func (h *APIHandler) GetDraftHandler(w http.ResponseWriter, r *http.Request) {
	draft := h.repo.GetDraft(chi.URLParam(r, "draftID"))
	if draft == nil {
		notFound(w, "draft")
		return
	}
	writeJSON(w, http.StatusOK, draft)
}

func (h *APIHandler) DiscardDraftHandler(w http.ResponseWriter, r *http.Request) {
	h.repo.DiscardDraft(chi.URLParam(r, "draftID"))
	w.WriteHeader(http.StatusNoContent)
}

type QuantityRequest struct {
	Quantity *float64 `json:"quantity"`
}

type CreatedResponse struct {
	ID int64 `json:"id"`
}

func (h *APIHandler) ConfirmDraftHandler(w http.ResponseWriter, r *http.Request) {
	var req QuantityRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, badRequest("invalid request body: %v", err))
			return
		}
	}
	quantity := 1.0
	if req.Quantity != nil {
		quantity = *req.Quantity
	}

	id, err := h.repo.ConfirmDraft(r.Context(), chi.URLParam(r, "draftID"), quantity)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, CreatedResponse{ID: id})
}

// Meals

type SaveMealRequest struct {
	Calories int      `json:"calories"`
	Protein  float64  `json:"protein"`
	Carbs    float64  `json:"carbs"`
	Fat      float64  `json:"fat"`
	ImageRef string   `json:"image_ref"`
	Quantity *float64 `json:"quantity"`
}

func (h *APIHandler) SaveMealHandler(w http.ResponseWriter, r *http.Request) {
	var req SaveMealRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, badRequest("invalid request body: %v", err))
		return
	}
	quantity := 1.0
	if req.Quantity != nil {
		quantity = *req.Quantity
	}

	data := core.NutritionData{Calories: req.Calories, Protein: req.Protein, Carbs: req.Carbs, Fat: req.Fat}
	id, err := h.repo.Save(r.Context(), data, req.ImageRef, quantity)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, CreatedResponse{ID: id})
}

func (h *APIHandler) ListMealsHandler(w http.ResponseWriter, r *http.Request) {
	var (
		meals []store.Meal
		err   error
	)
	if r.URL.Query().Has("start") || r.URL.Query().Has("end") {
		start, end, rerr := h.rangeParams(r)
		if rerr != nil {
			writeError(w, r, rerr)
			return
		}
		meals, err = h.repo.ListMealsInRange(r.Context(), start, end)
	} else {
		meals, err = h.repo.ListMeals(r.Context())
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, meals)
}

func (h *APIHandler) TodayMealsHandler(w http.ResponseWriter, r *http.Request) {
	meals, err := h.repo.ListTodayMeals(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, meals)
}

func (h *APIHandler) RecentMealsHandler(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, r, badRequest("invalid limit"))
			return
		}
		limit = n
	}
	meals, err := h.repo.ListRecentMeals(r.Context(), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, meals)
}

func (h *APIHandler) GetMealHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "mealID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	meal, err := h.repo.GetMeal(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if meal == nil {
		notFound(w, "meal")
		return
	}
	writeJSON(w, http.StatusOK, meal)
}

func (h *APIHandler) DeleteMealHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "mealID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.repo.DeleteMeal(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type ScaleRequest struct {
	Factor float64 `json:"factor"`
}

func (h *APIHandler) ScaleMealHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "mealID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req ScaleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, badRequest("invalid request body: %v", err))
		return
	}

	meal, err := h.repo.ScalePortion(r.Context(), id, req.Factor)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if meal == nil {
		notFound(w, "meal")
		return
	}
	writeJSON(w, http.StatusOK, meal)
}

// Summaries

func (h *APIHandler) TodaySummaryHandler(w http.ResponseWriter, r *http.Request) {
	summary, err := h.repo.TodaySummary(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *APIHandler) SummaryHandler(w http.ResponseWriter, r *http.Request) {
	start, end, err := h.rangeParams(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	summary, err := h.repo.SummaryFor(r.Context(), start, end)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *APIHandler) DailySummariesHandler(w http.ResponseWriter, r *http.Request) {
	start, end, err := h.rangeParams(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	daily, err := h.repo.DailySummaries(r.Context(), start, end)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, daily)
}

func (h *APIHandler) StatisticsHandler(w http.ResponseWriter, r *http.Request) {
	period, err := core.ParsePeriod(r.URL.Query().Get("period"))
	if err != nil {
		writeError(w, r, badRequest("%v", err))
		return
	}
	stats, err := h.repo.Statistics(r.Context(), period)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// Weights

type WeightRequest struct {
	Weight float64 `json:"weight"`
}

func (h *APIHandler) LogWeightHandler(w http.ResponseWriter, r *http.Request) {
	var req WeightRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, badRequest("invalid request body: %v", err))
		return
	}
	id, err := h.repo.LogWeight(r.Context(), req.Weight)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, CreatedResponse{ID: id})
}

func (h *APIHandler) ListWeightsHandler(w http.ResponseWriter, r *http.Request) {
	var (
		weights []store.Weight
		err     error
	)
	if r.URL.Query().Get("order") == "asc" {
		weights, err = h.repo.ListWeightsAscending(r.Context())
	} else {
		weights, err = h.repo.ListWeights(r.Context())
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, weights)
}

func (h *APIHandler) LatestWeightHandler(w http.ResponseWriter, r *http.Request) {
	weight, err := h.repo.LatestWeight(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if weight == nil {
		notFound(w, "weight")
		return
	}
	writeJSON(w, http.StatusOK, weight)
}

func (h *APIHandler) DeleteWeightHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "weightID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.repo.DeleteWeight(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
