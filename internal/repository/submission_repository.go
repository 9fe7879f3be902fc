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

type SubmissionRepository interface {
	Create(ctx context.Context, submission *models.Submission) error
	GetByID(ctx context.Context, id string) (*models.Submission, error)
	GetWithAccess(ctx context.Context, id string) (*models.SubmissionAccess, error)
	Delete(ctx context.Context, id string) (bool, error)
	// GetAuthorNames resolves submission ids to their authors' names in one query.
	// Ids that are not UUIDs or have no author are absent from the result.
	GetAuthorNames(ctx context.Context, submissionIDs []string) (map[string]string, error)
	ListWithoutReport(ctx context.Context, createdBefore time.Time, limit int) ([]string, error)
	Ping(ctx context.Context) error
}

type submissionRepository struct {
	*PostgresRepository
}

func NewSubmissionRepository(db *sql.DB, logger zerolog.Logger) SubmissionRepository {
	return &submissionRepository{
		PostgresRepository: NewPostgresRepository(db, logger),
	}
}

func (r *submissionRepository) Create(ctx context.Context, submission *models.Submission) error {
	query := `
		INSERT INTO submissions (id, student_id, assignment_id, content, file_url, graded, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.db.ExecContext(ctx, query,
		submission.ID,
		submission.StudentID,
		submission.AssignmentID,
		submission.Content,
		submission.FileURL,
		submission.Graded,
		submission.CreatedAt,
	)

	return err
}

func (r *submissionRepository) GetByID(ctx context.Context, id string) (*models.Submission, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}

	query := `
		SELECT id, student_id, assignment_id, content, file_url, graded, created_at
		FROM submissions
		WHERE id = $1
	`

	submission := &models.Submission{}
	var content, fileURL sql.NullString

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&submission.ID,
		&submission.StudentID,
		&submission.AssignmentID,
		&content,
		&fileURL,
		&submission.Graded,
		&submission.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if content.Valid {
		submission.Content = &content.String
	}
	if fileURL.Valid {
		submission.FileURL = &fileURL.String
	}

	return submission, nil
}

func (r *submissionRepository) GetWithAccess(ctx context.Context, id string) (*models.SubmissionAccess, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}

	// LEFT JOIN: оборванная цепочка даёт пустой teacher_id, а не отсутствие строки.
	query := `
		SELECT
			s.id, s.student_id, s.assignment_id, s.content, s.file_url, s.graded, s.created_at,
			COALESCE(c.teacher_id::text, '') AS teacher_id
		FROM submissions s
		LEFT JOIN assignments a ON a.id = s.assignment_id
		LEFT JOIN classes c ON c.id = a.class_id
		WHERE s.id = $1
	`

	access := &models.SubmissionAccess{}
	var content, fileURL sql.NullString

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&access.ID,
		&access.StudentID,
		&access.AssignmentID,
		&content,
		&fileURL,
		&access.Graded,
		&access.CreatedAt,
		&access.TeacherID,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if content.Valid {
		access.Content = &content.String
	}
	if fileURL.Valid {
		access.FileURL = &fileURL.String
	}

	return access, nil
}

func (r *submissionRepository) Delete(ctx context.Context, id string) (bool, error) {
	query := `DELETE FROM submissions WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return false, err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return rows > 0, nil
}

func (r *submissionRepository) GetAuthorNames(ctx context.Context, submissionIDs []string) (map[string]string, error) {
	names := make(map[string]string, len(submissionIDs))

	ids := make([]string, 0, len(submissionIDs))
	seen := make(map[string]struct{}, len(submissionIDs))
	for _, raw := range submissionIDs {
		// ключи карты совпадают с тем, как Postgres печатает uuid
		id, ok := models.CanonicalID(raw)
		if !ok {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}

	if len(ids) == 0 {
		return names, nil
	}

	query := `
		SELECT s.id, u.name
		FROM submissions s
		JOIN users u ON u.id = s.student_id
		WHERE s.id = ANY($1::uuid[])
	`

	rows, err := r.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, err
		}
		names[id] = name
	}

	return names, rows.Err()
}

func (r *submissionRepository) ListWithoutReport(ctx context.Context, createdBefore time.Time, limit int) ([]string, error) {
	query := `
		SELECT s.id
		FROM submissions s
		LEFT JOIN reports r ON r.submission_id = s.id
		WHERE r.id IS NULL AND s.created_at < $1
		ORDER BY s.created_at ASC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, createdBefore, limit)
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
