package httpd

import (
	"context"
	"net/http"
	"time"

	"github.com/RubachokBoss/submission-analysis/internal/models"
)

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	response := models.HealthCheckResponse{
		Status:    "healthy",
		Service:   "submission-analysis",
		Checks:    make(map[string]bool, len(h.checks)),
		Timestamp: time.Now().UTC(),
	}

	status := http.StatusOK
	for name, p := range h.checks {
		err := p.Ping(ctx)
		response.Checks[name] = err == nil
		if err != nil {
			h.logger.Warn().Err(err).Str("check", name).Msg("Health check failed")
			response.Status = "unhealthy"
			status = http.StatusServiceUnavailable
		}
	}

	writeJSON(w, status, response)
}
