package api

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	applog "amigo.app/meal-ledger/internal/log"
	"amigo.app/meal-ledger/internal/store"
)

const (
	liveWriteWait  = 10 * time.Second
	livePingPeriod = 25 * time.Second
)

// originChecker admits requests without an Origin header, same-origin
// requests and any origin listed in allowed (scheme://host[:port]).
func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[strings.ToLower(strings.TrimRight(strings.TrimSpace(o), "/"))] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		if strings.EqualFold(u.Host, r.Host) {
			return true
		}
		_, ok := set[strings.ToLower(origin)]
		return ok
	}
}

// LiveMealsHandler streams the meal list (scope=all, the default) or today's
// meals (scope=today) as a JSON array after every change.
func (h *APIHandler) LiveMealsHandler(w http.ResponseWriter, r *http.Request) {
	var watchFn func(context.Context) *store.Subscription[[]store.Meal]
	switch r.URL.Query().Get("scope") {
	case "", "all":
		watchFn = h.repo.WatchMeals
	case "today":
		watchFn = h.repo.WatchTodayMeals
	default:
		writeError(w, r, badRequest("scope must be all or today"))
		return
	}
	serveLive(w, r, &h.upgrader, watchFn)
}

// LiveWeightsHandler streams the weight log after every change.
func (h *APIHandler) LiveWeightsHandler(w http.ResponseWriter, r *http.Request) {
	serveLive(w, r, &h.upgrader, h.repo.WatchWeights)
}

func serveLive[T any](w http.ResponseWriter, r *http.Request, upgrader *websocket.Upgrader, watchFn func(context.Context) *store.Subscription[T]) {
	logger := applog.FromContext(r.Context()).WithComponent(applog.ComponentLive)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		fields := applog.NewFields().WithError(err)
		fields["origin"] = r.Header.Get("Origin")
		logger.Warn("WebSocket upgrade failed", fields.ToSlice()...)
		return
	}
	defer conn.Close()

	// The request context is not tied to the hijacked connection.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub := watchFn(ctx)
	defer sub.Cancel()

	// read loop ends on client close/error
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(livePingPeriod)
	defer ping.Stop()

	logger.Debug("Live subscription opened", applog.FieldPath, r.URL.Path)
	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-sub.Updates():
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "ledger closed"), time.Now().Add(liveWriteWait))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
			if err := conn.WriteJSON(v); err != nil {
				logger.Debug("Live subscriber gone", applog.FieldError, err)
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(liveWriteWait)); err != nil {
				return
			}
		}
	}
}
