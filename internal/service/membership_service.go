package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/lms-api/internal/models"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
	"github.com/noah-isme/lms-api/pkg/jobs"
)

// RollupSyncJobType tags full rebuild jobs on the background queue.
const RollupSyncJobType = "rollup_sync"

type membershipRollupReader interface {
	LockDegreeUser(ctx context.Context, tx *sqlx.Tx, userID string) error
	GetDegreeUser(ctx context.Context, tx *sqlx.Tx, userID string) (*models.DegreeUser, error)
	ListCourseEntries(ctx context.Context, tx *sqlx.Tx, userID string) ([]models.CourseEntry, error)
}

type membershipProgramReader interface {
	FindByIDs(ctx context.Context, tx *sqlx.Tx, ids []string) ([]models.DegreeProgram, error)
	ListLecturers(ctx context.Context, tx *sqlx.Tx, programID string) ([]models.UserSummary, error)
	ListCourses(ctx context.Context, tx *sqlx.Tx, programID string) ([]models.Course, error)
	ListCourseIDs(ctx context.Context, tx *sqlx.Tx, programIDs []string) ([]string, error)
}

type membershipCourseReader interface {
	FindByIDs(ctx context.Context, tx *sqlx.Tx, ids []string) ([]models.Course, error)
}

type membershipUserLister interface {
	ListIDsByRole(ctx context.Context, role models.UserRole) ([]string, error)
}

type rollupRebuilder interface {
	Rebuild(ctx context.Context, tx *sqlx.Tx, userID string, role models.UserRole, degrees []models.DegreeEntry, courses []models.CourseEntry) error
}

type jobDispatcher interface {
	Enqueue(job jobs.Job) error
	Status(id string) (jobs.Status, bool)
}

// MembershipServiceOption configures the service.
type MembershipServiceOption func(*MembershipService)

// WithMembershipMetrics records rebuild outcomes.
func WithMembershipMetrics(metrics *MetricsService) MembershipServiceOption {
	return func(s *MembershipService) {
		s.metrics = metrics
	}
}

// WithMembershipQueue enables asynchronous full rebuilds.
func WithMembershipQueue(queue jobDispatcher) MembershipServiceOption {
	return func(s *MembershipService) {
		s.queue = queue
	}
}

// MembershipService rebuilds the membership rollups and assembles the "my programs"
// and "my courses" views from them.
type MembershipService struct {
	rollups   membershipRollupReader
	programs  membershipProgramReader
	courses   membershipCourseReader
	users     membershipUserLister
	projector rollupRebuilder
	tx        txProvider
	metrics   *MetricsService
	queue     jobDispatcher
	logger    *zap.Logger

	mu        sync.Mutex
	summaries map[string]*models.MigrationSummary
}

// NewMembershipService constructs MembershipService.
func NewMembershipService(
	rollups membershipRollupReader,
	programs membershipProgramReader,
	courses membershipCourseReader,
	users membershipUserLister,
	projector rollupRebuilder,
	tx txProvider,
	logger *zap.Logger,
	opts ...MembershipServiceOption,
) *MembershipService {
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &MembershipService{
		rollups:   rollups,
		programs:  programs,
		courses:   courses,
		users:     users,
		projector: projector,
		tx:        tx,
		logger:    logger,
		summaries: make(map[string]*models.MigrationSummary),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// SyncStudent rebuilds one user's rollups from the current catalog. Entries for programs
// that no longer exist are dropped, titles and codes are refreshed and course entries are
// restricted to courses listed by the remaining active programs.
func (s *MembershipService) SyncStudent(ctx context.Context, userID string) (result *models.SyncResult, err error) {
	defer func() {
		s.metrics.ObserveRollupSync(result, err)
	}()

	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	result = &models.SyncResult{UserID: userID}
	if err = s.rollups.LockDegreeUser(ctx, tx, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = tx.Rollback()
			if err != nil {
				return nil, appErrors.Internal(err, "failed to close transaction")
			}
			return result, nil
		}
		return nil, appErrors.Internal(err, "failed to lock rollup")
	}
	rollup, err := s.rollups.GetDegreeUser(ctx, tx, userID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load degree rollup")
	}
	courseEntries, err := s.rollups.ListCourseEntries(ctx, tx, userID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load course rollup")
	}

	degrees, activePrograms, err := s.resolveDegrees(ctx, tx, rollup.Degrees, result)
	if err != nil {
		return nil, err
	}
	courses, err := s.resolveCourses(ctx, tx, courseEntries, activePrograms, result)
	if err != nil {
		return nil, err
	}

	if err = s.projector.Rebuild(ctx, tx, userID, rollup.UserRole, degrees, courses); err != nil {
		return nil, appErrors.Internal(err, "failed to rebuild rollup")
	}
	if err = tx.Commit(); err != nil {
		return nil, appErrors.Internal(err, "failed to commit rollup")
	}

	s.logger.Info("rollup synced",
		zap.String("user_id", userID),
		zap.Int("degrees_kept", result.DegreesKept),
		zap.Int("degrees_dropped", result.DegreesDropped),
		zap.Int("courses_kept", result.CoursesKept),
		zap.Int("courses_dropped", result.CoursesDropped),
	)
	return result, nil
}

func (s *MembershipService) resolveDegrees(ctx context.Context, tx *sqlx.Tx, entries []models.DegreeEntry, result *models.SyncResult) ([]models.DegreeEntry, []string, error) {
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.DegreeID)
	}
	programs, err := s.programs.FindByIDs(ctx, tx, ids)
	if err != nil {
		return nil, nil, appErrors.Upstream(err, "failed to resolve degree programs")
	}
	byID := make(map[string]models.DegreeProgram, len(programs))
	for _, p := range programs {
		byID[p.ID] = p
	}

	kept := make([]models.DegreeEntry, 0, len(entries))
	var active []string
	for _, e := range entries {
		program, ok := byID[e.DegreeID]
		if !ok {
			result.DegreesDropped++
			continue
		}
		e.DegreeTitle = program.Title
		e.DegreeCode = program.Code
		kept = append(kept, e)
		if e.Status == models.MembershipStatusActive {
			active = append(active, e.DegreeID)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool {
		if !kept[i].AcceptedAt.Equal(kept[j].AcceptedAt) {
			return kept[i].AcceptedAt.Before(kept[j].AcceptedAt)
		}
		return kept[i].DegreeID < kept[j].DegreeID
	})
	result.DegreesKept = len(kept)
	return kept, active, nil
}

func (s *MembershipService) resolveCourses(ctx context.Context, tx *sqlx.Tx, entries []models.CourseEntry, programIDs []string, result *models.SyncResult) ([]models.CourseEntry, error) {
	allowedIDs, err := s.programs.ListCourseIDs(ctx, tx, programIDs)
	if err != nil {
		return nil, appErrors.Upstream(err, "failed to resolve program courses")
	}
	allowed := make(map[string]struct{}, len(allowedIDs))
	for _, id := range allowedIDs {
		allowed[id] = struct{}{}
	}

	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.CourseID)
	}
	found, err := s.courses.FindByIDs(ctx, tx, ids)
	if err != nil {
		return nil, appErrors.Upstream(err, "failed to resolve courses")
	}
	byID := make(map[string]models.Course, len(found))
	for _, c := range found {
		byID[c.ID] = c
	}

	kept := make([]models.CourseEntry, 0, len(entries))
	for _, e := range entries {
		course, ok := byID[e.CourseID]
		if _, listed := allowed[e.CourseID]; !ok || !listed {
			result.CoursesDropped++
			continue
		}
		e.CourseTitle = course.Title
		e.CourseCode = course.Code
		kept = append(kept, e)
	}
	sort.SliceStable(kept, func(i, j int) bool {
		if !kept[i].EnrolledAt.Equal(kept[j].EnrolledAt) {
			return kept[i].EnrolledAt.Before(kept[j].EnrolledAt)
		}
		return kept[i].CourseID < kept[j].CourseID
	})
	result.CoursesKept = len(kept)
	return kept, nil
}

// MigrateAll runs SyncStudent for every student. Individual failures are counted and logged;
// the run continues with the next student.
func (s *MembershipService) MigrateAll(ctx context.Context) (*models.MigrationSummary, error) {
	summary := &models.MigrationSummary{StartedAt: time.Now().UTC()}
	ids, err := s.users.ListIDsByRole(ctx, models.RoleStudent)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list students")
	}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, appErrors.Internal(err, "rollup migration cancelled")
		}
		summary.Users++
		result, err := s.SyncStudent(ctx, id)
		if err != nil {
			summary.Failed++
			s.logger.Warn("rollup sync failed", zap.String("user_id", id), zap.Error(err))
			continue
		}
		summary.DegreesKept += result.DegreesKept
		summary.DegreesDropped += result.DegreesDropped
		summary.CoursesKept += result.CoursesKept
		summary.CoursesDropped += result.CoursesDropped
	}
	summary.FinishedAt = time.Now().UTC()
	s.logger.Info("rollup migration finished",
		zap.Int("users", summary.Users),
		zap.Int("failed", summary.Failed),
		zap.Duration("took", summary.FinishedAt.Sub(summary.StartedAt)),
	)
	return summary, nil
}

// MigrateAllAsync queues a full rebuild and returns its job descriptor.
func (s *MembershipService) MigrateAllAsync(ctx context.Context) (*models.SyncJob, error) {
	if s.queue == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "background sync is not enabled")
	}
	job := jobs.Job{ID: uuid.NewString(), Type: RollupSyncJobType, Enqueued: time.Now().UTC()}
	if err := s.queue.Enqueue(job); err != nil {
		return nil, appErrors.Internal(err, "failed to queue rollup sync")
	}
	return s.SyncJob(job.ID)
}

// HandleJob is the queue handler for full rebuild jobs.
func (s *MembershipService) HandleJob(ctx context.Context, job jobs.Job) error {
	if job.Type != RollupSyncJobType {
		return fmt.Errorf("unsupported job type %q", job.Type)
	}
	summary, err := s.MigrateAll(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.summaries[job.ID] = summary
	s.mu.Unlock()
	return nil
}

// SyncJob reports the state of a queued rebuild.
func (s *MembershipService) SyncJob(id string) (*models.SyncJob, error) {
	if s.queue == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "sync job not found")
	}
	status, ok := s.queue.Status(id)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "sync job not found")
	}
	job := &models.SyncJob{
		ID:         status.ID,
		Attempts:   status.Attempts,
		Error:      status.LastError,
		EnqueuedAt: status.Enqueued,
		UpdatedAt:  status.Updated,
	}
	switch status.State {
	case jobs.StateQueued:
		job.State = models.SyncJobQueued
	case jobs.StateSucceeded:
		job.State = models.SyncJobSucceeded
	case jobs.StateFailed:
		job.State = models.SyncJobFailed
	default:
		job.State = models.SyncJobRunning
	}
	s.mu.Lock()
	job.Summary = s.summaries[id]
	s.mu.Unlock()
	return job, nil
}

// GetMyEnrolledPrograms returns the user's active program memberships with each program
// resolved to its lecturers and courses.
func (s *MembershipService) GetMyEnrolledPrograms(ctx context.Context, userID string) ([]models.EnrolledProgram, error) {
	rollup, err := s.rollups.GetDegreeUser(ctx, nil, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return []models.EnrolledProgram{}, nil
		}
		return nil, appErrors.Internal(err, "failed to load degree rollup")
	}

	ids := make([]string, 0, len(rollup.Degrees))
	for _, e := range rollup.Degrees {
		if e.Status == models.MembershipStatusActive {
			ids = append(ids, e.DegreeID)
		}
	}
	programs, err := s.programs.FindByIDs(ctx, nil, ids)
	if err != nil {
		return nil, appErrors.Upstream(err, "failed to resolve degree programs")
	}
	byID := make(map[string]models.DegreeProgram, len(programs))
	for _, p := range programs {
		byID[p.ID] = p
	}

	out := make([]models.EnrolledProgram, 0, len(ids))
	for _, e := range rollup.Degrees {
		if e.Status != models.MembershipStatusActive {
			continue
		}
		program, ok := byID[e.DegreeID]
		if !ok {
			continue
		}
		lecturers, err := s.programs.ListLecturers(ctx, nil, program.ID)
		if err != nil {
			return nil, appErrors.Upstream(err, "failed to resolve program lecturers")
		}
		courses, err := s.programs.ListCourses(ctx, nil, program.ID)
		if err != nil {
			return nil, appErrors.Upstream(err, "failed to resolve program courses")
		}
		out = append(out, models.EnrolledProgram{
			ID:            program.ID,
			DegreeProgram: models.DegreeProgramDetail{DegreeProgram: program, Lecturers: lecturers, Courses: courses},
			Status:        e.Status,
			EnrolledAt:    e.AcceptedAt,
			ProcessedBy:   e.AcceptedBy,
		})
	}
	return out, nil
}

// GetMyCourses returns the user's active course memberships with course details.
func (s *MembershipService) GetMyCourses(ctx context.Context, userID string) ([]models.EnrolledCourse, error) {
	entries, err := s.rollups.ListCourseEntries(ctx, nil, userID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load course rollup")
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Status == models.MembershipStatusActive {
			ids = append(ids, e.CourseID)
		}
	}
	found, err := s.courses.FindByIDs(ctx, nil, ids)
	if err != nil {
		return nil, appErrors.Upstream(err, "failed to resolve courses")
	}
	byID := make(map[string]models.Course, len(found))
	for _, c := range found {
		byID[c.ID] = c
	}

	out := make([]models.EnrolledCourse, 0, len(ids))
	for _, e := range entries {
		course, ok := byID[e.CourseID]
		if !ok || e.Status != models.MembershipStatusActive {
			continue
		}
		out = append(out, models.EnrolledCourse{Course: course, Status: e.Status, EnrolledAt: e.EnrolledAt, AssignedBy: e.AssignedBy})
	}
	return out, nil
}
