package httpd

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/RubachokBoss/submission-analysis/internal/models"
	"github.com/RubachokBoss/submission-analysis/internal/service"
)

// Pinger is anything the health endpoint can check.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	submissionService service.SubmissionService
	artifactService   service.ArtifactService
	checks            map[string]Pinger
	logger            zerolog.Logger
}

func NewHandler(
	submissionService service.SubmissionService,
	artifactService service.ArtifactService,
	checks map[string]Pinger,
	logger zerolog.Logger,
) *Handler {
	return &Handler{
		submissionService: submissionService,
		artifactService:   artifactService,
		checks:            checks,
		logger:            logger,
	}
}

// RegisterRoutes mounts the API. authenticate guards everything under /api/v1.
func (h *Handler) RegisterRoutes(router chi.Router, authenticate func(http.Handler) http.Handler) {
	router.Get("/health", h.HealthCheck)

	router.Route("/api/v1", func(api chi.Router) {
		api.Use(authenticate)

		api.Route("/submissions", func(r chi.Router) {
			r.Post("/", h.CreateSubmission)
			r.Delete("/{id}", h.DeleteSubmission)
			r.Get("/{id}/report", h.GetReport)
			r.Get("/{id}/highlighted", h.GetHighlighted)
		})
	})
}

func (h *Handler) handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, models.ErrSubmissionNotFound), errors.Is(err, models.ErrReportNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, models.ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, models.ErrNoFileAttached), errors.Is(err, models.ErrSubmissionGraded):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, models.ErrArtifactGeneration):
		// сбой генератора, а не наш
		writeError(w, http.StatusBadGateway, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "request cancelled")
	default:
		h.logger.Error().Err(err).Msg("Service error")
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error":   http.StatusText(status),
		"message": message,
	})
}
