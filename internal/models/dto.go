package models

import "time"

// Data Transfer Objects

type CreateSubmissionRequest struct {
	AssignmentID string  `json:"assignment_id" validate:"required,uuid"`
	Content      *string `json:"content,omitempty" validate:"required_without=FileURL,omitempty,max=1000000"`
	FileURL      *string `json:"file_url,omitempty" validate:"required_without=Content,omitempty,url"`
}

type CreateSubmissionResponse struct {
	ID           string       `json:"id"`
	AssignmentID string       `json:"assignment_id"`
	ReportStatus ReportStatus `json:"report_status"`
	Queued       bool         `json:"queued"`
	CreatedAt    time.Time    `json:"created_at"`
}

type ReportResponse struct {
	SubmissionID  string       `json:"submission_id"`
	Status        ReportStatus `json:"status"`
	StatusMessage string       `json:"status_message"`
	Similarity    float64      `json:"similarity"`
	AIProbability float64      `json:"ai_probability"`
	Matches       Matches      `json:"matches"`
	UpdatedAt     time.Time    `json:"updated_at"`
	CompletedAt   *time.Time   `json:"completed_at,omitempty"`
}

func NewReportResponse(r *Report) *ReportResponse {
	resp := &ReportResponse{
		SubmissionID:  r.SubmissionID,
		Status:        r.Status,
		Similarity:    r.Similarity,
		AIProbability: r.AIProbability,
		Matches:       r.Matches,
		UpdatedAt:     r.UpdatedAt,
		CompletedAt:   r.CompletedAt,
	}
	if resp.Matches == nil {
		resp.Matches = Matches{}
	}

	switch r.Status {
	case ReportStatusPending:
		resp.StatusMessage = "analysis in progress"
	case ReportStatusCompleted:
		resp.StatusMessage = "analysis completed"
	case ReportStatusFailed:
		resp.StatusMessage = "analysis failed"
	}

	return resp
}

type HealthCheckResponse struct {
	Status    string          `json:"status"`
	Service   string          `json:"service"`
	Checks    map[string]bool `json:"checks"`
	Timestamp time.Time       `json:"timestamp"`
}
