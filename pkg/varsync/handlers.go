package varsync

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrymomot/varkit/pkg/variable"
)

type handler struct {
	provider variable.Provider
	log      *slog.Logger
}

func (h *handler) getAll(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.provider.GetAllVariablesConfig(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (h *handler) getOne(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.provider.GetVariableConfig(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (h *handler) create(w http.ResponseWriter, r *http.Request) {
	cfg, ok := h.decodeConfig(w, r)
	if !ok {
		return
	}
	if err := h.provider.CreateVariable(r.Context(), cfg); err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, cfg)
}

func (h *handler) update(w http.ResponseWriter, r *http.Request) {
	cfg, ok := h.decodeConfig(w, r)
	if !ok {
		return
	}
	name := chi.URLParam(r, "name")
	if cfg.Name != name {
		writeError(w, http.StatusBadRequest, "body name does not match URL name")
		return
	}
	if err := h.provider.UpdateVariable(r.Context(), cfg); err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (h *handler) delete(w http.ResponseWriter, r *http.Request) {
	if err := h.provider.DeleteVariable(r.Context(), chi.URLParam(r, "name")); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) batch(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Changes map[string]*variable.VariableConfig `json:"changes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid batch payload: "+err.Error())
		return
	}
	if err := variable.BatchUpdate(r.Context(), h.provider, payload.Changes); err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"applied": len(payload.Changes)})
}

// decodeConfig parses and validates a variable configuration body.
func (h *handler) decodeConfig(w http.ResponseWriter, r *http.Request) (*variable.VariableConfig, bool) {
	cfg := &variable.VariableConfig{}
	if err := json.NewDecoder(r.Body).Decode(cfg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid variable payload: "+err.Error())
		return nil, false
	}
	if err := cfg.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	return cfg, true
}

// fail maps provider errors onto the wire contract consumed by remote
// providers and external tooling.
func (h *handler) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, variable.ErrVariableNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, variable.ErrVariableAlreadyExists):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, variable.ErrReadOnlyProvider):
		writeError(w, http.StatusMethodNotAllowed, err.Error())
	case errors.Is(err, variable.ErrInvalidConfig),
		errors.Is(err, variable.ErrInvalidVariableName),
		errors.Is(err, variable.ErrInvalidRollout),
		errors.Is(err, variable.ErrInvalidCondition),
		errors.Is(err, variable.ErrUnknownVariantKey):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.log.Error("variables request failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
