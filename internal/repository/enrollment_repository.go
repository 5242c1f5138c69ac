package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/lms-api/internal/models"
	"github.com/noah-isme/lms-api/pkg/database"
)

const enrollmentColumns = `id, student_id, degree_program_id, status, requested_at, processed_at, processed_by`

// EnrollmentRepository handles persistence of program enrollments.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

// UpsertEnrollmentParams describes the enrollment state written on approval.
type UpsertEnrollmentParams struct {
	StudentID   string
	ProgramID   string
	Status      models.EnrollmentStatus
	RequestedAt time.Time
	ProcessedBy string
	ProcessedAt time.Time
}

// Upsert inserts the (student, program) enrollment or moves the existing row to the
// given status. The unique (student_id, degree_program_id) index keeps one row per pair.
func (r *EnrollmentRepository) Upsert(ctx context.Context, tx *sqlx.Tx, params UpsertEnrollmentParams) (*models.Enrollment, error) {
	if params.RequestedAt.IsZero() {
		params.RequestedAt = time.Now().UTC()
	}
	query := `INSERT INTO enrollments (id, student_id, degree_program_id, status, requested_at, processed_at, processed_by)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (student_id, degree_program_id) DO UPDATE
	SET status = EXCLUDED.status, processed_at = EXCLUDED.processed_at, processed_by = EXCLUDED.processed_by
	RETURNING ` + enrollmentColumns
	var enrollment models.Enrollment
	err := sqlx.GetContext(ctx, database.Runner(r.db, tx), &enrollment, query,
		uuid.NewString(), params.StudentID, params.ProgramID, params.Status,
		params.RequestedAt, params.ProcessedAt, params.ProcessedBy,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert enrollment: %w", err)
	}
	return &enrollment, nil
}

// DeleteByProgram removes every enrollment of the program and returns how many went.
func (r *EnrollmentRepository) DeleteByProgram(ctx context.Context, tx *sqlx.Tx, programID string) (int64, error) {
	result, err := database.Runner(r.db, tx).ExecContext(ctx, `DELETE FROM enrollments WHERE degree_program_id = $1`, programID)
	if err != nil {
		return 0, fmt.Errorf("delete program enrollments: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("check enrollment rows: %w", err)
	}
	return rows, nil
}

// ListRoster returns the program's students joined with their directory entry.
func (r *EnrollmentRepository) ListRoster(ctx context.Context, programID string, status models.EnrollmentStatus) ([]models.RosterEntry, error) {
	query := `SELECT e.student_id, u.name, u.email, u.registration_no, e.status, e.requested_at, e.processed_at
	FROM enrollments e JOIN users u ON u.id = e.student_id
	WHERE e.degree_program_id = $1`
	args := []interface{}{programID}
	if status != "" {
		query += " AND e.status = $2"
		args = append(args, status)
	}
	query += " ORDER BY u.name, u.id"
	roster := []models.RosterEntry{}
	if err := r.db.SelectContext(ctx, &roster, query, args...); err != nil {
		return nil, fmt.Errorf("list program roster: %w", err)
	}
	return roster, nil
}
