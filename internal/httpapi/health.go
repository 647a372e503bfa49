package httpapi

import (
	"net/http"
	"sort"

	"github.com/astra-platform/backbone/internal/breaker"
)

// healthResponse is the externally consumed health document.
type healthResponse struct {
	Status            string               `json:"status"`
	Dependencies      []dependencyHealth   `json:"dependencies"`
	CircuitBreakers   []breakerHealth      `json:"circuitBreakers"`
	RecentTransitions []breaker.Transition `json:"recentTransitions,omitempty"`
}

// maxHealthTransitions bounds how much breaker history the health document
// carries.
const maxHealthTransitions = 10

type dependencyHealth struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
}

type breakerHealth struct {
	Service string `json:"service"`
	State   string `json:"state"`
}

// health reports per-service availability and breaker states. A service is
// healthy when the registry has a live instance or a fallback is
// configured. Overall status degrades when any dependency is unhealthy.
func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{Status: "ok"}

	names := make([]string, 0, len(h.deps.Services.Services))
	for name := range h.deps.Services.Services {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		settings := h.deps.Services.Services[name]
		healthy := len(h.deps.Registry.ListHealthy(name)) > 0 || settings.FallbackURL != ""
		if !healthy {
			resp.Status = "degraded"
		}
		resp.Dependencies = append(resp.Dependencies, dependencyHealth{Name: name, Healthy: healthy})
	}

	for _, snap := range h.deps.Bank.Snapshots() {
		resp.CircuitBreakers = append(resp.CircuitBreakers, breakerHealth{
			Service: snap.Service,
			State:   snap.State.String(),
		})
	}
	resp.RecentTransitions = h.deps.Bank.RecentTransitions(maxHealthTransitions)

	writeJSON(w, http.StatusOK, resp)
}
