package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/lms-api/internal/models"
	"github.com/noah-isme/lms-api/pkg/database"
)

const programColumns = `id, title, code, description, preview_image, created_by, created_at, updated_at`

// ProgramRepository manages degree programs with their lecturer set and course list.
// Methods taking a *sqlx.Tx run on it when non-nil.
type ProgramRepository struct {
	db *sqlx.DB
}

// NewProgramRepository constructs the repository.
func NewProgramRepository(db *sqlx.DB) *ProgramRepository {
	return &ProgramRepository{db: db}
}

// Create inserts a program. A duplicate code yields ErrDuplicateKey.
func (r *ProgramRepository) Create(ctx context.Context, program *models.DegreeProgram) error {
	if program.ID == "" {
		program.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	program.CreatedAt = now
	program.UpdatedAt = now
	const query = `INSERT INTO degree_programs (id, title, code, description, preview_image, created_by, created_at, updated_at)
	VALUES (:id, :title, :code, :description, :preview_image, :created_by, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, program); err != nil {
		return wrapWriteError("create program", err)
	}
	return nil
}

// Update persists mutable program fields.
func (r *ProgramRepository) Update(ctx context.Context, program *models.DegreeProgram) error {
	program.UpdatedAt = time.Now().UTC()
	const query = `UPDATE degree_programs SET title = :title, code = :code, description = :description,
	preview_image = :preview_image, updated_at = :updated_at WHERE id = :id`
	result, err := r.db.NamedExecContext(ctx, query, program)
	if err != nil {
		return wrapWriteError("update program", err)
	}
	return expectAffected(result, "update program")
}

// FindByID returns a program by id.
func (r *ProgramRepository) FindByID(ctx context.Context, tx *sqlx.Tx, id string) (*models.DegreeProgram, error) {
	query := `SELECT ` + programColumns + ` FROM degree_programs WHERE id = $1`
	var program models.DegreeProgram
	if err := sqlx.GetContext(ctx, database.Runner(r.db, tx), &program, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find program: %w", err)
	}
	return &program, nil
}

// FindByIDs returns the subset of ids that still exist.
func (r *ProgramRepository) FindByIDs(ctx context.Context, tx *sqlx.Tx, ids []string) ([]models.DegreeProgram, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT ` + programColumns + ` FROM degree_programs WHERE id = ANY($1)`
	var programs []models.DegreeProgram
	if err := sqlx.SelectContext(ctx, database.Runner(r.db, tx), &programs, query, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("find programs: %w", err)
	}
	return programs, nil
}

// List returns programs ordered by title with the total count.
func (r *ProgramRepository) List(ctx context.Context, filter models.ProgramFilter) ([]models.DegreeProgram, int, error) {
	baseQuery := `FROM degree_programs`
	var args []interface{}
	if filter.Search != "" {
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
		baseQuery += " WHERE (LOWER(title) LIKE $1 OR LOWER(code) LIKE $1)"
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}

	listQuery := fmt.Sprintf("SELECT %s %s ORDER BY title ASC, id ASC LIMIT %d OFFSET %d", programColumns, baseQuery, pageSize, (page-1)*pageSize)
	var programs []models.DegreeProgram
	if err := r.db.SelectContext(ctx, &programs, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list programs: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) "+baseQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count programs: %w", err)
	}
	return programs, total, nil
}

// Delete removes the program row. Lecturer links and course links go with it.
func (r *ProgramRepository) Delete(ctx context.Context, tx *sqlx.Tx, id string) error {
	result, err := database.Runner(r.db, tx).ExecContext(ctx, `DELETE FROM degree_programs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete program: %w", err)
	}
	return expectAffected(result, "delete program")
}

// ListLecturers returns the lecturers attached to the program in the order they were added.
func (r *ProgramRepository) ListLecturers(ctx context.Context, tx *sqlx.Tx, programID string) ([]models.UserSummary, error) {
	const query = `SELECT u.id, u.name, u.email FROM program_lecturers pl
	JOIN users u ON u.id = pl.lecturer_id
	WHERE pl.program_id = $1 ORDER BY pl.added_at, u.id`
	lecturers := []models.UserSummary{}
	if err := sqlx.SelectContext(ctx, database.Runner(r.db, tx), &lecturers, query, programID); err != nil {
		return nil, fmt.Errorf("list program lecturers: %w", err)
	}
	return lecturers, nil
}

// HasLecturer reports whether the user is in the program's lecturer set.
func (r *ProgramRepository) HasLecturer(ctx context.Context, tx *sqlx.Tx, programID, userID string) (bool, error) {
	const query = `SELECT EXISTS(SELECT 1 FROM program_lecturers WHERE program_id = $1 AND lecturer_id = $2)`
	var exists bool
	if err := sqlx.GetContext(ctx, database.Runner(r.db, tx), &exists, query, programID, userID); err != nil {
		return false, fmt.Errorf("check program lecturer: %w", err)
	}
	return exists, nil
}

// AddLecturer appends the lecturer if absent and reports whether a row was added.
func (r *ProgramRepository) AddLecturer(ctx context.Context, tx *sqlx.Tx, programID, userID string) (bool, error) {
	const query = `INSERT INTO program_lecturers (program_id, lecturer_id, added_at) VALUES ($1, $2, $3)
	ON CONFLICT (program_id, lecturer_id) DO NOTHING`
	result, err := database.Runner(r.db, tx).ExecContext(ctx, query, programID, userID, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("add program lecturer: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("check lecturer rows: %w", err)
	}
	return rows > 0, nil
}

// RemoveLecturer drops the lecturer from the program set.
func (r *ProgramRepository) RemoveLecturer(ctx context.Context, tx *sqlx.Tx, programID, userID string) error {
	result, err := database.Runner(r.db, tx).ExecContext(ctx, `DELETE FROM program_lecturers WHERE program_id = $1 AND lecturer_id = $2`, programID, userID)
	if err != nil {
		return fmt.Errorf("remove program lecturer: %w", err)
	}
	return expectAffected(result, "remove program lecturer")
}

// AppendCourse adds the course at the end of the program's course list if absent.
func (r *ProgramRepository) AppendCourse(ctx context.Context, tx *sqlx.Tx, programID, courseID string) error {
	const query = `INSERT INTO program_courses (program_id, course_id, position)
	SELECT $1, $2, COALESCE(MAX(position) + 1, 0) FROM program_courses WHERE program_id = $1
	ON CONFLICT (program_id, course_id) DO NOTHING`
	if _, err := database.Runner(r.db, tx).ExecContext(ctx, query, programID, courseID); err != nil {
		return fmt.Errorf("append program course: %w", err)
	}
	return nil
}

// ListCourses returns the program's courses in list order.
func (r *ProgramRepository) ListCourses(ctx context.Context, tx *sqlx.Tx, programID string) ([]models.Course, error) {
	const query = `SELECT c.id, c.title, c.code, c.credit, c.description, c.degree_program_id, c.created_by, c.created_at, c.updated_at
	FROM program_courses pc JOIN courses c ON c.id = pc.course_id
	WHERE pc.program_id = $1 ORDER BY pc.position`
	courses := []models.Course{}
	if err := sqlx.SelectContext(ctx, database.Runner(r.db, tx), &courses, query, programID); err != nil {
		return nil, fmt.Errorf("list program courses: %w", err)
	}
	return courses, nil
}

// ListCourseIDs returns the ids of every course listed by any of the programs.
func (r *ProgramRepository) ListCourseIDs(ctx context.Context, tx *sqlx.Tx, programIDs []string) ([]string, error) {
	if len(programIDs) == 0 {
		return nil, nil
	}
	const query = `SELECT DISTINCT course_id FROM program_courses WHERE program_id = ANY($1) ORDER BY course_id`
	var ids []string
	if err := sqlx.SelectContext(ctx, database.Runner(r.db, tx), &ids, query, pq.Array(programIDs)); err != nil {
		return nil, fmt.Errorf("list program course ids: %w", err)
	}
	return ids, nil
}

func expectAffected(result sql.Result, op string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows: %w", op, err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
