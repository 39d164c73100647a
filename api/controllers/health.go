package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/angelmondragon/mealrun-backend/api/responses"
	"github.com/angelmondragon/mealrun-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/mealrun-backend/pkg/errors"
	"github.com/angelmondragon/mealrun-backend/pkg/logger"
)

const readinessTimeout = 2 * time.Second

// Pinger is any dependency the readiness probe can check.
type Pinger interface {
	Ping(ctx context.Context) error
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Mealrun-Env", cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady pings the database and redis. Nil dependencies are skipped.
func HealthReady(cfg *config.Config, logg *logger.Logger, dbP Pinger, redisP Pinger) http.HandlerFunc {
	checks := map[string]Pinger{}
	if dbP != nil {
		checks["database"] = dbP
	}
	if redisP != nil {
		checks["redis"] = redisP
	}

	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Mealrun-Env", cfg.App.Env)

		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()

		for name, p := range checks {
			if err := p.Ping(ctx); err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, name+" unavailable"))
				return
			}
		}
		responses.WriteSuccess(w, map[string]string{"status": "ready"})
	}
}
