package handler

import (
	"log/slog"
	"net/http"
)

// EventHandler serves the recent protocol event feed.
type EventHandler struct {
	events EventLister
	logger *slog.Logger
}

// NewEventHandler creates an EventHandler.
func NewEventHandler(events EventLister, logger *slog.Logger) *EventHandler {
	return &EventHandler{events: events, logger: logHandler(logger, "events")}
}

// ListRecent returns the newest events across all questions and markets.
// GET /api/events?limit=50&offset=0
func (h *EventHandler) ListRecent(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	evs, err := h.events.ListRecent(r.Context(), opts)
	if err != nil {
		fail(h.logger, w, r, "recent events", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": evs, "limit": opts.Limit, "offset": opts.Offset})
}
