package http

import (
	"encoding/json"
	"net/http"

	"github.com/Wyydra/yacall/internal/adapter/driven/gateway/ws"
	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
)

const defaultMaxMessageBytes = 64 << 10

type Handler struct {
	Relay port.RelayChannel
	Hub   *ws.Hub

	// MaxMessageBytes bounds one inbound websocket message.
	MaxMessageBytes int64
}

func NewHandler(relay port.RelayChannel, hub *ws.Hub) *Handler {
	return &Handler{
		Relay:           relay,
		Hub:             hub,
		MaxMessageBytes: defaultMaxMessageBytes,
	}
}

func (h *Handler) NewRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/ws", h.ServeWS)
	r.Get("/healthz", h.Health)
	r.Get("/api/calls/{callID}", h.GetCall)

	return r
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"clients": h.Hub.Count(),
	})
}

// GetCall shows the negotiation state of one call record.
func (h *Handler) GetCall(w http.ResponseWriter, r *http.Request) {
	id := domain.CallID(chi.URLParam(r, "callID"))

	fields, err := h.Relay.GetDocument(r.Context(), domain.CallsCollection, id.String())
	if err != nil {
		log.Error().Err(err).Str("call_id", id.String()).Msg("Failed to read call")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "relay unavailable"})
		return
	}
	if fields == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "call not found"})
		return
	}
	rec, err := domain.CallRecordFromFields(id, fields)
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to write response")
	}
}
