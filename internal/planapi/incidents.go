package planapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/aware/internal/decision"
)

const maxListLimit = 500

func (a *API) handleListIncidents(w http.ResponseWriter, r *http.Request) {
	q, err := parseIncidentQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	incidents, err := a.incidents.List(r.Context(), q)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to list incidents")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if incidents == nil {
		incidents = []decision.Incident{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"incidents": incidents})
}

func parseIncidentQuery(r *http.Request) (decision.IncidentQuery, error) {
	v := r.URL.Query()
	q := decision.IncidentQuery{
		Kind:     decision.Category(v.Get("kind")),
		AssetRef: v.Get("asset"),
	}
	switch q.Kind {
	case "", decision.CategoryLeak, decision.CategorySafety, decision.CategoryEnergy:
	default:
		return q, errors.New("invalid kind")
	}

	for _, raw := range v["state"] {
		for _, s := range strings.Split(raw, ",") {
			st := decision.IncidentState(strings.TrimSpace(s))
			switch st {
			case "":
				continue
			case decision.StateOpen, decision.StateAcknowledged, decision.StateResolved:
				q.States = append(q.States, st)
			default:
				return q, errors.New("invalid state")
			}
		}
	}

	if raw := v.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxListLimit {
			return q, errors.New("invalid limit")
		}
		q.Limit = n
	}
	return q, nil
}

func (a *API) handleGetIncident(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("aware.incident.id", id))

	inc, ok, err := a.incidents.Get(r.Context(), id)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to get incident", "id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, inc)
}

func (a *API) handleTransition(move func(context.Context, string) (*decision.Incident, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		span := trace.SpanFromContext(r.Context())
		span.SetAttributes(attribute.String("aware.incident.id", id))

		inc, err := move(r.Context(), id)
		switch {
		case errors.Is(err, decision.ErrIncidentNotFound):
			writeError(w, http.StatusNotFound, "not found")
			return
		case errors.Is(err, decision.ErrInvalidTransition):
			writeError(w, http.StatusConflict, err.Error())
			return
		case err != nil:
			a.logger.Error(r.Context(), err, "failed to change incident state", "id", id)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		span.SetAttributes(attribute.String("aware.incident.state", string(inc.State)))
		writeJSON(w, http.StatusOK, inc)
	}
}
