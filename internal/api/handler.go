package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"traffic-router/internal/apperr"
	"traffic-router/internal/engine"
	"traffic-router/internal/observability"
)

// TargetStore is the catalog surface the CRUD handlers consume.
type TargetStore interface {
	List(ctx context.Context) ([]engine.Target, error)
	Get(ctx context.Context, id string) (engine.Target, error)
	Exists(ctx context.Context, id string) (bool, error)
	Create(ctx context.Context, t engine.Target) (string, error)
	Update(ctx context.Context, id string, fields map[string]string) error
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	eng   *engine.Engine
	store TargetStore
	ping  Pinger
}

func NewHandler(eng *engine.Engine, store TargetStore, ping Pinger) *Handler {
	return &Handler{eng: eng, store: store, ping: ping}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("path", r.URL.Path).Int("status", status).Msg("request failed")
	} else {
		log.Warn().Err(err).Str("path", r.URL.Path).Int("status", status).Msg("request rejected")
	}
	writeJSON(w, status, map[string]string{"error": apperr.Message(err)})
}

type routeRequest struct {
	GeoState  string `json:"geoState"`
	Timestamp string `json:"timestamp"`
}

// Route runs one routing decision. Validation happens here, before the
// engine is invoked; a reject decision is a normal 200 response.
func (h *Handler) Route(w http.ResponseWriter, r *http.Request) {
	var req routeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, apperr.New(apperr.KindValidation, "invalid JSON"))
		return
	}
	if req.GeoState == "" {
		writeError(w, r, apperr.New(apperr.KindValidation, "missing geoState"))
		return
	}
	ts, err := time.Parse(time.RFC3339, req.Timestamp)
	if err != nil {
		writeError(w, r, apperr.New(apperr.KindValidation, "invalid timestamp"))
		return
	}

	d, err := h.eng.Decide(r.Context(), engine.Visitor{GeoState: req.GeoState, Timestamp: ts})
	if err != nil {
		writeError(w, r, err)
		return
	}
	observability.Decisions.WithLabelValues(d.Decision).Inc()
	writeJSON(w, http.StatusOK, d)
}

func (h *Handler) CreateTarget(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, r, apperr.New(apperr.KindValidation, "invalid JSON"))
		return
	}
	fields := targetFields(body)
	t := engine.Target{
		URL:              fields["url"],
		Value:            fields["value"],
		MaxAcceptsPerDay: fields["maxAcceptsPerDay"],
		Accept:           fields["accept"],
	}
	id, err := h.store.Create(r.Context(), t)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id})
}

func (h *Handler) ListTargets(w http.ResponseWriter, r *http.Request) {
	targets, err := h.store.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, targets)
}

func (h *Handler) GetTarget(w http.ResponseWriter, r *http.Request) {
	t, err := h.store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *Handler) UpdateTarget(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, r, apperr.New(apperr.KindValidation, "invalid JSON"))
		return
	}
	ok, err := h.store.Exists(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !ok {
		writeError(w, r, apperr.New(apperr.KindNotFound, "target not found"))
		return
	}
	if err := h.store.Update(r.Context(), id, targetFields(body)); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id})
}

func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if err := h.ping.Ping(r.Context()); err != nil {
		log.Error().Err(err).Msg("health check failed")
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// targetFields shapes a JSON payload into storable hash fields. The id is
// never client-supplied; an accept rule given as an object is serialized to
// text; numeric values become their decimal string form.
func targetFields(body map[string]any) map[string]string {
	fields := make(map[string]string)
	for k, v := range body {
		switch k {
		case "url", "value", "maxAcceptsPerDay", "accept":
		default:
			continue
		}
		switch val := v.(type) {
		case string:
			fields[k] = val
		case float64:
			fields[k] = strconv.FormatFloat(val, 'f', -1, 64)
		default:
			b, err := json.Marshal(val)
			if err != nil {
				continue
			}
			fields[k] = string(b)
		}
	}
	return fields
}
