package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/RubachokBoss/submission-analysis/internal/models"
)

type ReportRepository interface {
	// CreatePending inserts a PENDING report unless one already exists.
	CreatePending(ctx context.Context, submissionID string) (bool, error)
	// Upsert writes a terminal outcome. Rows that already left PENDING are not touched,
	// in which case applied is false.
	Upsert(ctx context.Context, outcome models.ReportOutcome) (applied bool, err error)
	GetBySubmissionID(ctx context.Context, submissionID string) (*models.Report, error)
	// MarkAttempt records that attempt is running or scheduled for a PENDING report,
	// which keeps it out of ListStalePending for another stale window.
	MarkAttempt(ctx context.Context, submissionID string, attempt int) error
	ListStalePending(ctx context.Context, updatedBefore time.Time, limit int) ([]string, error)
	Touch(ctx context.Context, submissionIDs []string) error
	Ping(ctx context.Context) error
}

type reportRepository struct {
	*PostgresRepository
}

func NewReportRepository(db *sql.DB, logger zerolog.Logger) ReportRepository {
	return &reportRepository{
		PostgresRepository: NewPostgresRepository(db, logger),
	}
}

func (r *reportRepository) CreatePending(ctx context.Context, submissionID string) (bool, error) {
	query := `
		INSERT INTO reports (id, submission_id, status, matches, created_at, updated_at)
		VALUES ($1, $2, $3, '[]'::jsonb, NOW(), NOW())
		ON CONFLICT (submission_id) DO NOTHING
	`

	result, err := r.db.ExecContext(ctx, query, uuid.New().String(), submissionID, models.ReportStatusPending)
	if IsForeignKeyViolation(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return rows > 0, nil
}

func (r *reportRepository) Upsert(ctx context.Context, outcome models.ReportOutcome) (bool, error) {
	query := `
		INSERT INTO reports (
			id, submission_id, status, similarity, ai_probability, matches,
			error_message, attempts, created_at, updated_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW(), NOW())
		ON CONFLICT (submission_id) DO UPDATE SET
			status         = EXCLUDED.status,
			similarity     = EXCLUDED.similarity,
			ai_probability = EXCLUDED.ai_probability,
			matches        = EXCLUDED.matches,
			error_message  = EXCLUDED.error_message,
			attempts       = EXCLUDED.attempts,
			updated_at     = NOW(),
			completed_at   = NOW()
		WHERE reports.status = 'PENDING'
	`

	matches := outcome.Matches
	if matches == nil {
		matches = models.Matches{}
	}

	result, err := r.db.ExecContext(ctx, query,
		uuid.New().String(),
		outcome.SubmissionID,
		outcome.Status,
		models.Clamp01(outcome.Similarity),
		models.Clamp01(outcome.AIProbability),
		matches,
		outcome.ErrorMessage,
		outcome.Attempts,
	)
	// Работу удалили во время анализа: писать отчёт некуда.
	if IsForeignKeyViolation(err) {
		r.logger.Warn().Str("submission_id", outcome.SubmissionID).Msg("Submission gone, report not written")
		return false, nil
	}
	if err != nil {
		return false, err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return rows > 0, nil
}

func (r *reportRepository) GetBySubmissionID(ctx context.Context, submissionID string) (*models.Report, error) {
	if _, err := uuid.Parse(submissionID); err != nil {
		return nil, nil
	}

	query := `
		SELECT
			id, submission_id, status, similarity, ai_probability, matches,
			error_message, attempts, created_at, updated_at, completed_at
		FROM reports
		WHERE submission_id = $1
	`

	report := &models.Report{}
	var errorMessage sql.NullString
	var completedAt sql.NullTime

	err := r.db.QueryRowContext(ctx, query, submissionID).Scan(
		&report.ID,
		&report.SubmissionID,
		&report.Status,
		&report.Similarity,
		&report.AIProbability,
		&report.Matches,
		&errorMessage,
		&report.Attempts,
		&report.CreatedAt,
		&report.UpdatedAt,
		&completedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if errorMessage.Valid {
		report.ErrorMessage = &errorMessage.String
	}
	if completedAt.Valid {
		report.CompletedAt = &completedAt.Time
	}

	return report, nil
}

func (r *reportRepository) MarkAttempt(ctx context.Context, submissionID string, attempt int) error {
	if _, err := uuid.Parse(submissionID); err != nil {
		return nil
	}

	query := `
		UPDATE reports
		SET attempts = GREATEST(attempts, $2), updated_at = NOW()
		WHERE submission_id = $1 AND status = 'PENDING'
	`

	_, err := r.db.ExecContext(ctx, query, submissionID, attempt)
	return err
}

func (r *reportRepository) ListStalePending(ctx context.Context, updatedBefore time.Time, limit int) ([]string, error) {
	query := `
		SELECT submission_id
		FROM reports
		WHERE status = 'PENDING' AND updated_at < $1
		ORDER BY updated_at ASC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, updatedBefore, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

func (r *reportRepository) Touch(ctx context.Context, submissionIDs []string) error {
	if len(submissionIDs) == 0 {
		return nil
	}

	query := `
		UPDATE reports
		SET updated_at = NOW()
		WHERE status = 'PENDING' AND submission_id = ANY($1::uuid[])
	`

	_, err := r.db.ExecContext(ctx, query, pq.Array(submissionIDs))
	return err
}
