package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/lms-api/internal/models"
	"github.com/noah-isme/lms-api/pkg/database"
)

const courseColumns = `id, title, code, credit, description, degree_program_id, created_by, created_at, updated_at`

const materialColumns = `id, course_id, kind, position, url, title, storage_key, filename, mime_type, size_bytes, created_by, created_at`

// CourseRepository manages courses and their ordered materials.
type CourseRepository struct {
	db *sqlx.DB
}

// NewCourseRepository constructs the repository.
func NewCourseRepository(db *sqlx.DB) *CourseRepository {
	return &CourseRepository{db: db}
}

// Create inserts a course row.
func (r *CourseRepository) Create(ctx context.Context, tx *sqlx.Tx, course *models.Course) error {
	if course.ID == "" {
		course.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	course.CreatedAt = now
	course.UpdatedAt = now
	const query = `INSERT INTO courses (id, title, code, credit, description, degree_program_id, created_by, created_at, updated_at)
	VALUES (:id, :title, :code, :credit, :description, :degree_program_id, :created_by, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, database.Runner(r.db, tx), query, course); err != nil {
		return wrapWriteError("create course", err)
	}
	return nil
}

// Update persists mutable course fields.
func (r *CourseRepository) Update(ctx context.Context, course *models.Course) error {
	course.UpdatedAt = time.Now().UTC()
	const query = `UPDATE courses SET title = :title, code = :code, credit = :credit, description = :description,
	updated_at = :updated_at WHERE id = :id`
	result, err := r.db.NamedExecContext(ctx, query, course)
	if err != nil {
		return wrapWriteError("update course", err)
	}
	return expectAffected(result, "update course")
}

// FindByID returns a course by id.
func (r *CourseRepository) FindByID(ctx context.Context, tx *sqlx.Tx, id string) (*models.Course, error) {
	query := `SELECT ` + courseColumns + ` FROM courses WHERE id = $1`
	var course models.Course
	if err := sqlx.GetContext(ctx, database.Runner(r.db, tx), &course, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find course: %w", err)
	}
	return &course, nil
}

// FindByIDs returns the subset of ids that still exist.
func (r *CourseRepository) FindByIDs(ctx context.Context, tx *sqlx.Tx, ids []string) ([]models.Course, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT ` + courseColumns + ` FROM courses WHERE id = ANY($1)`
	var courses []models.Course
	if err := sqlx.SelectContext(ctx, database.Runner(r.db, tx), &courses, query, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("find courses: %w", err)
	}
	return courses, nil
}

// Delete removes the course. Program links and material rows cascade.
func (r *CourseRepository) Delete(ctx context.Context, tx *sqlx.Tx, id string) error {
	result, err := database.Runner(r.db, tx).ExecContext(ctx, `DELETE FROM courses WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete course: %w", err)
	}
	return expectAffected(result, "delete course")
}

// ListMaterials returns the course resources in display order.
func (r *CourseRepository) ListMaterials(ctx context.Context, tx *sqlx.Tx, courseID string) ([]models.Material, error) {
	query := `SELECT ` + materialColumns + ` FROM course_materials WHERE course_id = $1 ORDER BY position`
	materials := []models.Material{}
	if err := sqlx.SelectContext(ctx, database.Runner(r.db, tx), &materials, query, courseID); err != nil {
		return nil, fmt.Errorf("list course materials: %w", err)
	}
	return materials, nil
}

// FindMaterial returns a material by id.
func (r *CourseRepository) FindMaterial(ctx context.Context, id string) (*models.Material, error) {
	query := `SELECT ` + materialColumns + ` FROM course_materials WHERE id = $1`
	var material models.Material
	if err := r.db.GetContext(ctx, &material, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find material: %w", err)
	}
	return &material, nil
}

// AppendMaterial stores the material after the course's last resource.
func (r *CourseRepository) AppendMaterial(ctx context.Context, material *models.Material) error {
	if material.ID == "" {
		material.ID = uuid.NewString()
	}
	if material.CreatedAt.IsZero() {
		material.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO course_materials (id, course_id, kind, position, url, title, storage_key, filename, mime_type, size_bytes, created_by, created_at)
	SELECT $1, $2, $3, COALESCE(MAX(position) + 1, 0), $4, $5, $6, $7, $8, $9, $10, $11
	FROM course_materials WHERE course_id = $2
	RETURNING position`
	row := r.db.QueryRowxContext(ctx, query,
		material.ID, material.CourseID, material.Kind, material.URL, material.Title,
		material.StorageKey, material.Filename, material.MimeType, material.SizeBytes,
		material.CreatedBy, material.CreatedAt,
	)
	if err := row.Scan(&material.Position); err != nil {
		return fmt.Errorf("append course material: %w", err)
	}
	return nil
}

// DeleteMaterial removes a material belonging to the course.
func (r *CourseRepository) DeleteMaterial(ctx context.Context, courseID, materialID string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM course_materials WHERE id = $1 AND course_id = $2`, materialID, courseID)
	if err != nil {
		return fmt.Errorf("delete course material: %w", err)
	}
	return expectAffected(result, "delete course material")
}
