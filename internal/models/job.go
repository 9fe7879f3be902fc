package models

import "time"

// AnalyzeSubmissionJob is the queue job name for one analysis run.
const AnalyzeSubmissionJob = "analyze_submission"

type AnalyzeSubmissionPayload struct {
	SubmissionID string `json:"submission_id"`
}

type JobOutcome string

const (
	JobOutcomeCompleted JobOutcome = "completed"
	JobOutcomeFailed    JobOutcome = "failed"
)

// JobRecord is one finished job kept in the retention lists.
type JobRecord struct {
	JobID        string     `json:"job_id"`
	Name         string     `json:"name"`
	SubmissionID string     `json:"submission_id"`
	Outcome      JobOutcome `json:"outcome"`
	Attempt      int        `json:"attempt"`
	MaxAttempts  int        `json:"max_attempts"`
	Error        string     `json:"error,omitempty"`
	FinishedAt   time.Time  `json:"finished_at"`
}
