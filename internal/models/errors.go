package models

import (
	"errors"
	"fmt"
)

// Типизированные ошибки для корректного маппинга на HTTP-коды в delivery-слое.
var (
	ErrValidation         = errors.New("validation failed")
	ErrSubmissionNotFound = errors.New("submission not found")
	ErrReportNotFound     = errors.New("report not found")
	ErrForbidden          = errors.New("access denied")
	ErrNoFileAttached     = errors.New("submission has no attached file")
	ErrSubmissionGraded   = errors.New("submission is already graded")

	// Ошибки внешних зависимостей.
	ErrArtifactGeneration = errors.New("artifact generation failed")
	ErrArtifactNotFound   = errors.New("artifact not found in cache")
)

// TransientCollaboratorError marks a network, timeout or non-2xx failure of the
// analysis service. The job is retried by the queue.
type TransientCollaboratorError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransientCollaboratorError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("analysis service %s returned status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("analysis service %s: %v", e.Op, e.Err)
}

func (e *TransientCollaboratorError) Unwrap() error { return e.Err }

func IsTransientCollaboratorError(err error) bool {
	var t *TransientCollaboratorError
	return errors.As(err, &t)
}
