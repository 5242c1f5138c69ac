package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/lms-api/internal/models"
)

type rollupStore interface {
	EnsureDegreeUser(ctx context.Context, tx *sqlx.Tx, userID string, role models.UserRole) error
	LockDegreeUser(ctx context.Context, tx *sqlx.Tx, userID string) error
	AddDegreeEntry(ctx context.Context, tx *sqlx.Tx, entry models.DegreeEntry) (bool, error)
	ReplaceDegreeEntries(ctx context.Context, tx *sqlx.Tx, userID string, entries []models.DegreeEntry) error
	DeleteDegreeEntriesByDegree(ctx context.Context, tx *sqlx.Tx, degreeID string) (int64, error)
	DeleteDegreeEntry(ctx context.Context, tx *sqlx.Tx, userID, degreeID string) (bool, error)
	EnsureCourseUser(ctx context.Context, tx *sqlx.Tx, userID string, role models.UserRole) error
	AddCourseEntry(ctx context.Context, tx *sqlx.Tx, entry models.CourseEntry) (bool, error)
	ReplaceCourseEntries(ctx context.Context, tx *sqlx.Tx, userID string, entries []models.CourseEntry) error
	DeleteCourseEntriesByCourse(ctx context.Context, tx *sqlx.Tx, courseID string) (int64, error)
}

// MembershipProjector is the only writer of the DegreeUser and CourseUser rollups.
// Every method runs on the caller's transaction. Projections lock the user's degree_users
// row, the same row SyncStudent locks, so a rebuild never discards a concurrent append.
type MembershipProjector struct {
	store  rollupStore
	logger *zap.Logger
}

// NewMembershipProjector constructs the projector.
func NewMembershipProjector(store rollupStore, logger *zap.Logger) *MembershipProjector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MembershipProjector{store: store, logger: logger}
}

// ProjectDegree records an active membership of program for the user. An inactive entry
// for the program is reactivated; an active one is left as is. The return value reports
// whether an entry was written.
func (p *MembershipProjector) ProjectDegree(ctx context.Context, tx *sqlx.Tx, userID string, role models.UserRole, program *models.DegreeProgram, acceptedBy string, at time.Time) (bool, error) {
	if err := p.store.EnsureDegreeUser(ctx, tx, userID, role); err != nil {
		return false, err
	}
	if err := p.store.LockDegreeUser(ctx, tx, userID); err != nil {
		return false, err
	}
	added, err := p.store.AddDegreeEntry(ctx, tx, models.DegreeEntry{
		UserID:      userID,
		DegreeID:    program.ID,
		DegreeTitle: program.Title,
		DegreeCode:  program.Code,
		Status:      models.MembershipStatusActive,
		AcceptedAt:  at,
		AcceptedBy:  nonEmpty(acceptedBy),
	})
	if err != nil {
		return false, err
	}
	if !added {
		p.logger.Debug("degree entry already active", zap.String("user_id", userID), zap.String("degree_id", program.ID))
	}
	return added, nil
}

// ProjectCourse records an active membership of course for the user, reactivating an
// inactive entry.
func (p *MembershipProjector) ProjectCourse(ctx context.Context, tx *sqlx.Tx, userID string, role models.UserRole, course *models.Course, assignedBy string, at time.Time) (bool, error) {
	// A user without a degree rollup has nothing for SyncStudent to rebuild.
	if err := p.store.LockDegreeUser(ctx, tx, userID); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return false, err
	}
	if err := p.store.EnsureCourseUser(ctx, tx, userID, role); err != nil {
		return false, err
	}
	added, err := p.store.AddCourseEntry(ctx, tx, models.CourseEntry{
		UserID:      userID,
		CourseID:    course.ID,
		CourseTitle: course.Title,
		CourseCode:  course.Code,
		Status:      models.MembershipStatusActive,
		EnrolledAt:  at,
		AssignedBy:  nonEmpty(assignedBy),
	})
	if err != nil {
		return false, err
	}
	if !added {
		p.logger.Debug("course entry already active", zap.String("user_id", userID), zap.String("course_id", course.ID))
	}
	return added, nil
}

// DropDegree removes the degree from every rollup.
func (p *MembershipProjector) DropDegree(ctx context.Context, tx *sqlx.Tx, degreeID string) (int64, error) {
	return p.store.DeleteDegreeEntriesByDegree(ctx, tx, degreeID)
}

// RetractDegree removes a single user's entry for the degree.
func (p *MembershipProjector) RetractDegree(ctx context.Context, tx *sqlx.Tx, userID, degreeID string) (bool, error) {
	return p.store.DeleteDegreeEntry(ctx, tx, userID, degreeID)
}

// DropCourse removes the course from every rollup.
func (p *MembershipProjector) DropCourse(ctx context.Context, tx *sqlx.Tx, courseID string) (int64, error) {
	return p.store.DeleteCourseEntriesByCourse(ctx, tx, courseID)
}

// Rebuild replaces both rollups of the user with the given entries.
func (p *MembershipProjector) Rebuild(ctx context.Context, tx *sqlx.Tx, userID string, role models.UserRole, degrees []models.DegreeEntry, courses []models.CourseEntry) error {
	if err := p.store.EnsureDegreeUser(ctx, tx, userID, role); err != nil {
		return err
	}
	if err := p.store.ReplaceDegreeEntries(ctx, tx, userID, degrees); err != nil {
		return err
	}
	if err := p.store.EnsureCourseUser(ctx, tx, userID, role); err != nil {
		return err
	}
	return p.store.ReplaceCourseEntries(ctx, tx, userID, courses)
}

func nonEmpty(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
