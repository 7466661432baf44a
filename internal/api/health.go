package api

import (
	"context"
	"net/http"
	"time"
)

// Dependency is one backing service checked by the readiness check. A
// failing critical dependency makes the service not ready; a failing
// non-critical one only degrades it.
type Dependency struct {
	Name     string
	Critical bool
	Ping     func(ctx context.Context) error
}

type HealthHandler struct {
	deps    []Dependency
	env     string
	version string
}

func NewHealthHandler(env, version string, deps ...Dependency) *HealthHandler {
	return &HealthHandler{
		deps:    deps,
		env:     env,
		version: version,
	}
}

type LivenessResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Env     string `json:"env,omitempty"`
}

type ReadinessResponse struct {
	Status       string            `json:"status"`
	Version      string            `json:"version,omitempty"`
	Env          string            `json:"env,omitempty"`
	Dependencies map[string]string `json:"dependencies"`
}

func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	resp := LivenessResponse{
		Status:  "ok",
		Version: h.version,
		Env:     h.env,
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	deps := make(map[string]string, len(h.deps))
	status := "ok"

	for _, dep := range h.deps {
		depCtx, depCancel := context.WithTimeout(ctx, time.Second)
		err := dep.Ping(depCtx)
		depCancel()

		if err == nil {
			deps[dep.Name] = "ok"
			continue
		}

		deps[dep.Name] = "down"
		switch {
		case dep.Critical:
			status = "error"
		case status == "ok":
			status = "degraded"
		}
	}

	resp := ReadinessResponse{
		Status:       status,
		Version:      h.version,
		Env:          h.env,
		Dependencies: deps,
	}

	httpStatus := http.StatusOK
	if status == "error" {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, resp)
}
