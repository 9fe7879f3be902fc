package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type ReportStatus string

const (
	ReportStatusPending   ReportStatus = "PENDING"
	ReportStatusCompleted ReportStatus = "COMPLETED"
	ReportStatusFailed    ReportStatus = "FAILED"
)

func (rs ReportStatus) String() string {
	return string(rs)
}

func (rs ReportStatus) IsTerminal() bool {
	return rs == ReportStatusCompleted || rs == ReportStatusFailed
}

// UnknownAuthorName is used for matched submissions whose author cannot be resolved.
const UnknownAuthorName = "Unknown Student"

type Report struct {
	ID            string       `json:"id" db:"id"`
	SubmissionID  string       `json:"submission_id" db:"submission_id"`
	Status        ReportStatus `json:"status" db:"status"`
	Similarity    float64      `json:"similarity" db:"similarity"`
	AIProbability float64      `json:"ai_probability" db:"ai_probability"`
	Matches       Matches      `json:"matches" db:"matches"`
	ErrorMessage  *string      `json:"error_message,omitempty" db:"error_message"`
	Attempts      int          `json:"attempts" db:"attempts"`
	CreatedAt     time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at" db:"updated_at"`
	CompletedAt   *time.Time   `json:"completed_at,omitempty" db:"completed_at"`
}

type Match struct {
	SubmissionID string  `json:"submission_id"`
	Similarity   float64 `json:"similarity"`
	AuthorName   string  `json:"author_name"`
}

// Matches хранится в колонке reports.matches (JSONB).
type Matches []Match

func (m Matches) Value() (driver.Value, error) {
	if m == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(m)
}

func (m *Matches) Scan(src interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*m = Matches{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported type for matches: %T", src)
	}

	if len(raw) == 0 {
		*m = Matches{}
		return nil
	}

	var out Matches
	if err := json.Unmarshal(raw, &out); err != nil {
		return errors.Join(errors.New("failed to decode matches"), err)
	}
	if out == nil {
		out = Matches{}
	}
	*m = out
	return nil
}

// ReportOutcome is the terminal write produced by one analysis run.
type ReportOutcome struct {
	SubmissionID  string
	Status        ReportStatus
	Similarity    float64
	AIProbability float64
	Matches       Matches
	ErrorMessage  *string
	Attempts      int
}

// Clamp01 keeps collaborator scores inside [0,1]; NaN becomes 0.
func Clamp01(v float64) float64 {
	if v != v || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
