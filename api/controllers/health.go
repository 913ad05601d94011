package controllers

import (
	"context"
	"net/http"

	"github.com/distrohq/salesdesk/api/responses"
	"github.com/distrohq/salesdesk/pkg/config"
	"github.com/distrohq/salesdesk/pkg/logger"
)

// Pinger is anything whose liveness readiness checks can probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Salesdesk-Env", cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

func HealthReady(cfg *config.Config, logg *logger.Logger, deps map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Salesdesk-Env", cfg.App.Env)

		status := map[string]string{"status": "ready"}
		ready := true
		for name, dep := range deps {
			if dep == nil {
				continue
			}
			if err := dep.Ping(r.Context()); err != nil {
				ready = false
				status[name] = "unreachable"
				if logg != nil {
					logg.Error(r.Context(), "health.dependency_unreachable", err)
				}
				continue
			}
			status[name] = "ok"
		}

		if !ready {
			status["status"] = "degraded"
			responses.WriteSuccessStatus(w, http.StatusServiceUnavailable, status)
			return
		}
		responses.WriteSuccess(w, status)
	}
}
