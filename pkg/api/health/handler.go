// Package health exposes the liveness endpoint.
package health

import (
	"encoding/json"
	"net/http"
	"time"
)

type response struct {
	Status    string `json:"status"`
	Service   string `json:"service"`
	StartedAt string `json:"started_at"`
	Uptime    string `json:"uptime"`
}

// Handler reports service liveness and uptime.
type Handler struct {
	service string
	started time.Time
}

func NewHandler(service string) *Handler {
	return &Handler{service: service, started: time.Now()}
}

func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response{
		Status:    "ok",
		Service:   h.service,
		StartedAt: h.started.Format(time.RFC3339),
		Uptime:    time.Since(h.started).Round(time.Second).String(),
	})
}
