package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/lms-api/internal/models"
	"github.com/noah-isme/lms-api/pkg/database"
)

const (
	degreeEntryColumns = `user_id, degree_id, degree_title, degree_code, status, accepted_at, accepted_by`
	courseEntryColumns = `user_id, course_id, course_title, course_code, status, enrolled_at, assigned_by`
)

// MembershipRepository stores the DegreeUser and CourseUser rollups. Entries are keyed by
// (user_id, degree_id) and (user_id, course_id) so appends are idempotent.
type MembershipRepository struct {
	db *sqlx.DB
}

// NewMembershipRepository constructs the repository.
func NewMembershipRepository(db *sqlx.DB) *MembershipRepository {
	return &MembershipRepository{db: db}
}

// EnsureDegreeUser creates the rollup header for the user if missing.
func (r *MembershipRepository) EnsureDegreeUser(ctx context.Context, tx *sqlx.Tx, userID string, role models.UserRole) error {
	const query = `INSERT INTO degree_users (user_id, user_role, created_at, updated_at) VALUES ($1, $2, $3, $3)
	ON CONFLICT (user_id) DO NOTHING`
	if _, err := database.Runner(r.db, tx).ExecContext(ctx, query, userID, role, time.Now().UTC()); err != nil {
		return fmt.Errorf("ensure degree user: %w", err)
	}
	return nil
}

// LockDegreeUser takes a row lock on the user's degree rollup header.
func (r *MembershipRepository) LockDegreeUser(ctx context.Context, tx *sqlx.Tx, userID string) error {
	var id string
	if err := tx.GetContext(ctx, &id, `SELECT user_id FROM degree_users WHERE user_id = $1 FOR UPDATE`, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return err
		}
		return fmt.Errorf("lock degree user: %w", err)
	}
	return nil
}

// AddDegreeEntry appends the entry, or moves an existing entry for the degree to the
// entry's status when the two differ. An entry already in that status is left untouched.
// The return value reports whether a row was written.
func (r *MembershipRepository) AddDegreeEntry(ctx context.Context, tx *sqlx.Tx, entry models.DegreeEntry) (bool, error) {
	query := `INSERT INTO degree_user_entries (` + degreeEntryColumns + `)
	VALUES (:user_id, :degree_id, :degree_title, :degree_code, :status, :accepted_at, :accepted_by)
	ON CONFLICT (user_id, degree_id) DO UPDATE
	SET status = EXCLUDED.status, degree_title = EXCLUDED.degree_title, degree_code = EXCLUDED.degree_code,
		accepted_at = EXCLUDED.accepted_at, accepted_by = EXCLUDED.accepted_by
	WHERE degree_user_entries.status <> EXCLUDED.status`
	result, err := sqlx.NamedExecContext(ctx, database.Runner(r.db, tx), query, entry)
	if err != nil {
		return false, fmt.Errorf("add degree entry: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("check degree entry rows: %w", err)
	}
	return rows > 0, nil
}

// GetDegreeUser loads the rollup with its entries in (accepted_at, degree_id) order.
// sql.ErrNoRows is returned when the user has no rollup.
func (r *MembershipRepository) GetDegreeUser(ctx context.Context, tx *sqlx.Tx, userID string) (*models.DegreeUser, error) {
	runner := database.Runner(r.db, tx)
	var user models.DegreeUser
	if err := sqlx.GetContext(ctx, runner, &user, `SELECT user_id, user_role FROM degree_users WHERE user_id = $1`, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get degree user: %w", err)
	}
	entries, err := r.ListDegreeEntries(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	user.Degrees = entries
	return &user, nil
}

// ListDegreeEntries returns the user's degree entries in (accepted_at, degree_id) order.
func (r *MembershipRepository) ListDegreeEntries(ctx context.Context, tx *sqlx.Tx, userID string) ([]models.DegreeEntry, error) {
	query := `SELECT ` + degreeEntryColumns + ` FROM degree_user_entries WHERE user_id = $1 ORDER BY accepted_at, degree_id`
	entries := []models.DegreeEntry{}
	if err := sqlx.SelectContext(ctx, database.Runner(r.db, tx), &entries, query, userID); err != nil {
		return nil, fmt.Errorf("list degree entries: %w", err)
	}
	return entries, nil
}

// HasActiveDegree reports whether the user's rollup holds an active entry for the degree.
func (r *MembershipRepository) HasActiveDegree(ctx context.Context, tx *sqlx.Tx, userID, degreeID string) (bool, error) {
	const query = `SELECT EXISTS(SELECT 1 FROM degree_user_entries WHERE user_id = $1 AND degree_id = $2 AND status = $3)`
	var exists bool
	if err := sqlx.GetContext(ctx, database.Runner(r.db, tx), &exists, query, userID, degreeID, models.MembershipStatusActive); err != nil {
		return false, fmt.Errorf("check degree membership: %w", err)
	}
	return exists, nil
}

// ListActiveDegreeIDs returns the degree ids the user holds active entries for.
func (r *MembershipRepository) ListActiveDegreeIDs(ctx context.Context, userID string) ([]string, error) {
	const query = `SELECT degree_id FROM degree_user_entries WHERE user_id = $1 AND status = $2 ORDER BY accepted_at, degree_id`
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query, userID, models.MembershipStatusActive); err != nil {
		return nil, fmt.Errorf("list active degree ids: %w", err)
	}
	return ids, nil
}

// ReplaceDegreeEntries discards the user's degree entries and writes the given set.
func (r *MembershipRepository) ReplaceDegreeEntries(ctx context.Context, tx *sqlx.Tx, userID string, entries []models.DegreeEntry) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM degree_user_entries WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("clear degree entries: %w", err)
	}
	for _, entry := range entries {
		entry.UserID = userID
		if _, err := r.AddDegreeEntry(ctx, tx, entry); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, `UPDATE degree_users SET updated_at = $2 WHERE user_id = $1`, userID, time.Now().UTC()); err != nil {
		return fmt.Errorf("touch degree user: %w", err)
	}
	return nil
}

// DeleteDegreeEntriesByDegree removes the degree from every user's rollup.
func (r *MembershipRepository) DeleteDegreeEntriesByDegree(ctx context.Context, tx *sqlx.Tx, degreeID string) (int64, error) {
	return r.deleteEntries(ctx, tx, `DELETE FROM degree_user_entries WHERE degree_id = $1`, degreeID)
}

// DeleteDegreeEntry removes one degree from one user's rollup.
func (r *MembershipRepository) DeleteDegreeEntry(ctx context.Context, tx *sqlx.Tx, userID, degreeID string) (bool, error) {
	result, err := database.Runner(r.db, tx).ExecContext(ctx, `DELETE FROM degree_user_entries WHERE user_id = $1 AND degree_id = $2`, userID, degreeID)
	if err != nil {
		return false, fmt.Errorf("delete degree entry: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("check degree entry rows: %w", err)
	}
	return rows > 0, nil
}

// EnsureCourseUser creates the course rollup header for the user if missing.
func (r *MembershipRepository) EnsureCourseUser(ctx context.Context, tx *sqlx.Tx, userID string, role models.UserRole) error {
	const query = `INSERT INTO course_users (user_id, user_role, created_at, updated_at) VALUES ($1, $2, $3, $3)
	ON CONFLICT (user_id) DO NOTHING`
	if _, err := database.Runner(r.db, tx).ExecContext(ctx, query, userID, role, time.Now().UTC()); err != nil {
		return fmt.Errorf("ensure course user: %w", err)
	}
	return nil
}

// AddCourseEntry appends the entry or moves an existing one to the entry's status, and
// reports whether a row was written.
func (r *MembershipRepository) AddCourseEntry(ctx context.Context, tx *sqlx.Tx, entry models.CourseEntry) (bool, error) {
	query := `INSERT INTO course_user_entries (` + courseEntryColumns + `)
	VALUES (:user_id, :course_id, :course_title, :course_code, :status, :enrolled_at, :assigned_by)
	ON CONFLICT (user_id, course_id) DO UPDATE
	SET status = EXCLUDED.status, course_title = EXCLUDED.course_title, course_code = EXCLUDED.course_code,
		enrolled_at = EXCLUDED.enrolled_at, assigned_by = EXCLUDED.assigned_by
	WHERE course_user_entries.status <> EXCLUDED.status`
	result, err := sqlx.NamedExecContext(ctx, database.Runner(r.db, tx), query, entry)
	if err != nil {
		return false, fmt.Errorf("add course entry: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("check course entry rows: %w", err)
	}
	return rows > 0, nil
}

// ListCourseEntries returns the user's course entries in (enrolled_at, course_id) order.
func (r *MembershipRepository) ListCourseEntries(ctx context.Context, tx *sqlx.Tx, userID string) ([]models.CourseEntry, error) {
	query := `SELECT ` + courseEntryColumns + ` FROM course_user_entries WHERE user_id = $1 ORDER BY enrolled_at, course_id`
	entries := []models.CourseEntry{}
	if err := sqlx.SelectContext(ctx, database.Runner(r.db, tx), &entries, query, userID); err != nil {
		return nil, fmt.Errorf("list course entries: %w", err)
	}
	return entries, nil
}

// HasActiveCourse reports whether the user's rollup holds an active entry for the course.
func (r *MembershipRepository) HasActiveCourse(ctx context.Context, tx *sqlx.Tx, userID, courseID string) (bool, error) {
	const query = `SELECT EXISTS(SELECT 1 FROM course_user_entries WHERE user_id = $1 AND course_id = $2 AND status = $3)`
	var exists bool
	if err := sqlx.GetContext(ctx, database.Runner(r.db, tx), &exists, query, userID, courseID, models.MembershipStatusActive); err != nil {
		return false, fmt.Errorf("check course membership: %w", err)
	}
	return exists, nil
}

// ReplaceCourseEntries discards the user's course entries and writes the given set.
func (r *MembershipRepository) ReplaceCourseEntries(ctx context.Context, tx *sqlx.Tx, userID string, entries []models.CourseEntry) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM course_user_entries WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("clear course entries: %w", err)
	}
	for _, entry := range entries {
		entry.UserID = userID
		if _, err := r.AddCourseEntry(ctx, tx, entry); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, `UPDATE course_users SET updated_at = $2 WHERE user_id = $1`, userID, time.Now().UTC()); err != nil {
		return fmt.Errorf("touch course user: %w", err)
	}
	return nil
}

// DeleteCourseEntriesByCourse removes the course from every user's rollup.
func (r *MembershipRepository) DeleteCourseEntriesByCourse(ctx context.Context, tx *sqlx.Tx, courseID string) (int64, error) {
	return r.deleteEntries(ctx, tx, `DELETE FROM course_user_entries WHERE course_id = $1`, courseID)
}

func (r *MembershipRepository) deleteEntries(ctx context.Context, tx *sqlx.Tx, query, id string) (int64, error) {
	result, err := database.Runner(r.db, tx).ExecContext(ctx, query, id)
	if err != nil {
		return 0, fmt.Errorf("delete rollup entries: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("check rollup rows: %w", err)
	}
	return rows, nil
}
