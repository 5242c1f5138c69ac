package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/lms-api/internal/models"
	"github.com/noah-isme/lms-api/internal/repository"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
)

// RequestApplier performs the writes that follow the acceptance of one request type.
// Applying twice against the same target leaves the same state as applying once.
type RequestApplier interface {
	Apply(ctx context.Context, tx *sqlx.Tx, request *models.Request, approverID string, at time.Time) error
}

// RequestApplierFunc allows using plain functions.
type RequestApplierFunc func(ctx context.Context, tx *sqlx.Tx, request *models.Request, approverID string, at time.Time) error

// Apply implements RequestApplier.
func (f RequestApplierFunc) Apply(ctx context.Context, tx *sqlx.Tx, request *models.Request, approverID string, at time.Time) error {
	return f(ctx, tx, request, approverID, at)
}

type rollupProjector interface {
	ProjectDegree(ctx context.Context, tx *sqlx.Tx, userID string, role models.UserRole, program *models.DegreeProgram, acceptedBy string, at time.Time) (bool, error)
	ProjectCourse(ctx context.Context, tx *sqlx.Tx, userID string, role models.UserRole, course *models.Course, assignedBy string, at time.Time) (bool, error)
}

type applierProgramStore interface {
	FindByID(ctx context.Context, tx *sqlx.Tx, id string) (*models.DegreeProgram, error)
	AddLecturer(ctx context.Context, tx *sqlx.Tx, programID, userID string) (bool, error)
}

type applierCourseReader interface {
	FindByID(ctx context.Context, tx *sqlx.Tx, id string) (*models.Course, error)
}

type enrollmentUpserter interface {
	Upsert(ctx context.Context, tx *sqlx.Tx, params repository.UpsertEnrollmentParams) (*models.Enrollment, error)
}

// DefaultRequestAppliers wires the appliers for every resolvable request type.
func DefaultRequestAppliers(programs applierProgramStore, courses applierCourseReader, enrollments enrollmentUpserter, projector rollupProjector) map[models.RequestType]RequestApplier {
	return map[models.RequestType]RequestApplier{
		models.RequestTypeEnrollment:       NewEnrollmentRequestApplier(programs, enrollments, projector),
		models.RequestTypeTeach:            NewTeachRequestApplier(programs, projector),
		models.RequestTypeCourseEnrollment: NewCourseEnrollmentRequestApplier(courses, projector),
	}
}

// EnrollmentRequestApplier activates the student's enrollment and projects the degree entry.
type EnrollmentRequestApplier struct {
	programs    applierProgramStore
	enrollments enrollmentUpserter
	projector   rollupProjector
}

// NewEnrollmentRequestApplier constructs the applier.
func NewEnrollmentRequestApplier(programs applierProgramStore, enrollments enrollmentUpserter, projector rollupProjector) *EnrollmentRequestApplier {
	return &EnrollmentRequestApplier{programs: programs, enrollments: enrollments, projector: projector}
}

// Apply implements RequestApplier.
func (a *EnrollmentRequestApplier) Apply(ctx context.Context, tx *sqlx.Tx, request *models.Request, approverID string, at time.Time) error {
	program, err := loadRequestProgram(ctx, tx, a.programs, request)
	if err != nil {
		return err
	}
	if _, err := a.enrollments.Upsert(ctx, tx, repository.UpsertEnrollmentParams{
		StudentID:   request.RequesterID,
		ProgramID:   program.ID,
		Status:      models.EnrollmentStatusActive,
		RequestedAt: request.CreatedAt,
		ProcessedBy: approverID,
		ProcessedAt: at,
	}); err != nil {
		return appErrors.Internal(err, "failed to activate enrollment")
	}
	if _, err := a.projector.ProjectDegree(ctx, tx, request.RequesterID, request.RequesterRole, program, approverID, at); err != nil {
		return appErrors.Internal(err, "failed to update degree membership")
	}
	return nil
}

// TeachRequestApplier adds the lecturer to the program and projects the degree entry.
type TeachRequestApplier struct {
	programs  applierProgramStore
	projector rollupProjector
}

// NewTeachRequestApplier constructs the applier.
func NewTeachRequestApplier(programs applierProgramStore, projector rollupProjector) *TeachRequestApplier {
	return &TeachRequestApplier{programs: programs, projector: projector}
}

// Apply implements RequestApplier.
func (a *TeachRequestApplier) Apply(ctx context.Context, tx *sqlx.Tx, request *models.Request, approverID string, at time.Time) error {
	program, err := loadRequestProgram(ctx, tx, a.programs, request)
	if err != nil {
		return err
	}
	if _, err := a.programs.AddLecturer(ctx, tx, program.ID, request.RequesterID); err != nil {
		return appErrors.Internal(err, "failed to add program lecturer")
	}
	if _, err := a.projector.ProjectDegree(ctx, tx, request.RequesterID, request.RequesterRole, program, approverID, at); err != nil {
		return appErrors.Internal(err, "failed to update degree membership")
	}
	return nil
}

// CourseEnrollmentRequestApplier projects the student's course entry.
type CourseEnrollmentRequestApplier struct {
	courses   applierCourseReader
	projector rollupProjector
}

// NewCourseEnrollmentRequestApplier constructs the applier.
func NewCourseEnrollmentRequestApplier(courses applierCourseReader, projector rollupProjector) *CourseEnrollmentRequestApplier {
	return &CourseEnrollmentRequestApplier{courses: courses, projector: projector}
}

// Apply implements RequestApplier.
func (a *CourseEnrollmentRequestApplier) Apply(ctx context.Context, tx *sqlx.Tx, request *models.Request, approverID string, at time.Time) error {
	if request.CourseID == nil {
		return appErrors.Clone(appErrors.ErrValidation, "course request has no course")
	}
	course, err := a.courses.FindByID(ctx, tx, *request.CourseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return appErrors.Upstream(err, "failed to load course")
	}
	if _, err := a.projector.ProjectCourse(ctx, tx, request.RequesterID, request.RequesterRole, course, approverID, at); err != nil {
		return appErrors.Internal(err, "failed to update course membership")
	}
	return nil
}

func loadRequestProgram(ctx context.Context, tx *sqlx.Tx, programs applierProgramStore, request *models.Request) (*models.DegreeProgram, error) {
	if request.DegreeProgramID == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "request has no degree program")
	}
	program, err := programs.FindByID(ctx, tx, *request.DegreeProgramID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "degree program not found")
		}
		return nil, appErrors.Upstream(err, "failed to load degree program")
	}
	return program, nil
}
