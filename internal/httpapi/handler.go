// Package httpapi wires the gateway's HTTP surface: domain routing, the
// registry API, the health endpoint, and metrics.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/astra-platform/backbone/internal/breaker"
	"github.com/astra-platform/backbone/internal/config"
	"github.com/astra-platform/backbone/internal/logging"
	"github.com/astra-platform/backbone/internal/metrics"
	"github.com/astra-platform/backbone/internal/middleware"
	"github.com/astra-platform/backbone/internal/registry"
)

// Deps are the explicit dependencies of the HTTP surface.
type Deps struct {
	Gateway  http.Handler
	Registry *registry.Registry
	Bank     *breaker.Bank
	Services *config.ServicesConfig
	Logger   *logging.Logger

	// BurstGuard is optional transport-level protection.
	BurstGuard *middleware.BurstGuard
}

type handler struct {
	deps Deps
}

// NewHandler returns the gateway's root HTTP handler.
func NewHandler(deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = logging.NewNop()
	}
	h := &handler{deps: deps}

	r := mux.NewRouter()
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/health", h.health).Methods(http.MethodGet)

	reg := r.PathPrefix("/registry").Subrouter()
	reg.HandleFunc("/register", h.register).Methods(http.MethodPost)
	reg.HandleFunc("/heartbeat", h.heartbeat).Methods(http.MethodPost)
	reg.HandleFunc("/instances/{id}", h.deregister).Methods(http.MethodDelete)
	reg.HandleFunc("/services/{name}", h.listHealthy).Methods(http.MethodGet)

	// Everything else is a domain route.
	r.PathPrefix("/").Handler(deps.Gateway)

	corr := middleware.NewCorrelationMiddleware(deps.Logger)
	var root http.Handler = r
	root = corr.Handler(root)
	if deps.BurstGuard != nil {
		root = deps.BurstGuard.Handler(root)
	}
	return metrics.InstrumentHandler(root)
}

// register adds or refreshes a service instance.
func (h *handler) register(w http.ResponseWriter, r *http.Request) {
	var reg registry.Registration
	if err := decodeJSON(r.Body, &reg); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	stored, err := h.deps.Registry.Register(reg)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusCreated, stored)
}

func (h *handler) heartbeat(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		InstanceID string `json:"instanceId"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := h.deps.Registry.Heartbeat(payload.InstanceID); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, registry.ErrNotFound) {
			status = http.StatusNotFound
		}
		writeError(w, status, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) deregister(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.deps.Registry.Deregister(id); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, registry.ErrNotFound) {
			status = http.StatusNotFound
		}
		writeError(w, status, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) listHealthy(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	writeJSON(w, http.StatusOK, h.deps.Registry.ListHealthy(name))
}

func decodeJSON(body io.Reader, target any) error {
	data, err := io.ReadAll(io.LimitReader(body, 1<<20))
	if err != nil {
		return fmt.Errorf("read request body: %w", err)
	}
	if len(data) == 0 {
		return errors.New("empty request body")
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("decode request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
