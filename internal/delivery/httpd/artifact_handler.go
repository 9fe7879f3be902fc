package httpd

import (
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/RubachokBoss/submission-analysis/internal/middleware"
	"github.com/RubachokBoss/submission-analysis/internal/models"
)

func (h *Handler) GetHighlighted(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "Submission ID is required")
		return
	}

	artifact, err := h.artifactService.GetHighlighted(r.Context(), middleware.UserIDFromContext(r.Context()), id)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	contentType := artifact.ContentType
	if contentType == "" {
		contentType = models.DefaultArtifactContentType
	}
	fileName := artifact.FileName
	if fileName == "" {
		fileName = models.DefaultArtifactFileName(id)
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": fileName}))
	w.Header().Set("Content-Length", strconv.Itoa(len(artifact.Content)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(artifact.Content)
}
