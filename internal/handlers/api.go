// internal/handlers/api.go
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jason-s-yu/voicebattle/internal/auth"
	"github.com/jason-s-yu/voicebattle/internal/gateway"
	"github.com/jason-s-yu/voicebattle/internal/middleware"
	"github.com/jason-s-yu/voicebattle/internal/models"
	"github.com/sirupsen/logrus"
)

// HealthCheck probes one backing service.
type HealthCheck func(ctx context.Context) error

// RouterConfig collects what the HTTP surface needs.
type RouterConfig struct {
	Gateway     *gateway.Gateway
	Keys        *auth.Keys
	WS          *WSHandler
	Metrics     http.Handler
	CORSOrigins []string
	Checks      map[string]HealthCheck
	Logger      logrus.FieldLogger
}

// NewRouter mounts the socket endpoint and the operational routes.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Heartbeat("/ping"))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(middleware.LogMiddleware(cfg.Logger))

	r.Handle("/ws", cfg.WS)
	r.Get("/healthz", healthHandler(cfg.Gateway, cfg.Checks))
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics)
	}
	r.Get("/rooms", listRoomsHandler(cfg.Gateway, cfg.Keys))
	return r
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func healthHandler(gw *gateway.Gateway, checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		results := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check(ctx); err != nil {
				results[name] = err.Error()
				status = http.StatusServiceUnavailable
				continue
			}
			results[name] = "ok"
		}

		writeJSON(w, status, map[string]interface{}{
			"status":      http.StatusText(status),
			"checks":      results,
			"connections": gw.Registry().Count(),
			"rooms":       gw.Rooms().Len(),
			"queue":       gw.Queue().Len(),
		})
	}
}

type roomView struct {
	RoomID  string              `json:"room_id"`
	Status  string              `json:"status"`
	Ranked  bool                `json:"is_ranked"`
	HostID  string              `json:"host_id"`
	Players []models.PlayerInfo `json:"players"`
}

// listRoomsHandler lists in-memory rooms for an authenticated caller.
func listRoomsHandler(gw *gateway.Gateway, keys *auth.Keys) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := keys.AuthenticateRequest(r); err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		rooms := gw.Rooms().List()
		out := make([]roomView, 0, len(rooms))
		for _, rm := range rooms {
			v := roomView{
				RoomID:  rm.ID,
				Status:  string(rm.Status),
				Ranked:  rm.Ranked,
				HostID:  rm.HostID().String(),
				Players: make([]models.PlayerInfo, 0, len(rm.Members)),
			}
			for _, m := range rm.Members {
				v.Players = append(v.Players, m.Info())
			}
			out = append(out, v)
		}
		writeJSON(w, http.StatusOK, out)
	}
}
