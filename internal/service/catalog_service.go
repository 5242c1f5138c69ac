package service

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/lms-api/internal/dto"
	"github.com/noah-isme/lms-api/internal/models"
	"github.com/noah-isme/lms-api/internal/repository"
	"github.com/noah-isme/lms-api/pkg/cache"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
)

type programStore interface {
	Create(ctx context.Context, program *models.DegreeProgram) error
	Update(ctx context.Context, program *models.DegreeProgram) error
	FindByID(ctx context.Context, tx *sqlx.Tx, id string) (*models.DegreeProgram, error)
	List(ctx context.Context, filter models.ProgramFilter) ([]models.DegreeProgram, int, error)
	Delete(ctx context.Context, tx *sqlx.Tx, id string) error
	ListLecturers(ctx context.Context, tx *sqlx.Tx, programID string) ([]models.UserSummary, error)
	HasLecturer(ctx context.Context, tx *sqlx.Tx, programID, userID string) (bool, error)
	AddLecturer(ctx context.Context, tx *sqlx.Tx, programID, userID string) (bool, error)
	RemoveLecturer(ctx context.Context, tx *sqlx.Tx, programID, userID string) error
	AppendCourse(ctx context.Context, tx *sqlx.Tx, programID, courseID string) error
	ListCourses(ctx context.Context, tx *sqlx.Tx, programID string) ([]models.Course, error)
}

type courseStore interface {
	Create(ctx context.Context, tx *sqlx.Tx, course *models.Course) error
	Update(ctx context.Context, course *models.Course) error
	FindByID(ctx context.Context, tx *sqlx.Tx, id string) (*models.Course, error)
	Delete(ctx context.Context, tx *sqlx.Tx, id string) error
	ListMaterials(ctx context.Context, tx *sqlx.Tx, courseID string) ([]models.Material, error)
}

type programEnrollmentCleaner interface {
	DeleteByProgram(ctx context.Context, tx *sqlx.Tx, programID string) (int64, error)
}

type pendingRequestCleaner interface {
	DeletePendingByProgram(ctx context.Context, tx *sqlx.Tx, programID string) (int64, error)
	DeletePendingByCourse(ctx context.Context, tx *sqlx.Tx, courseID string) (int64, error)
}

type catalogProjector interface {
	ProjectDegree(ctx context.Context, tx *sqlx.Tx, userID string, role models.UserRole, program *models.DegreeProgram, acceptedBy string, at time.Time) (bool, error)
	RetractDegree(ctx context.Context, tx *sqlx.Tx, userID, degreeID string) (bool, error)
	DropDegree(ctx context.Context, tx *sqlx.Tx, degreeID string) (int64, error)
	DropCourse(ctx context.Context, tx *sqlx.Tx, courseID string) (int64, error)
}

type catalogUserReader interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

type objectRemover interface {
	Delete(key string) error
}

type lecturerChecker interface {
	HasLecturer(ctx context.Context, tx *sqlx.Tx, programID, userID string) (bool, error)
}

// CatalogServiceOption configures the service.
type CatalogServiceOption func(*CatalogService)

// WithCatalogCache enables cached catalog reads.
func WithCatalogCache(cache *CacheService) CatalogServiceOption {
	return func(s *CatalogService) {
		s.cache = cache
	}
}

// WithCatalogFiles removes stored material files when courses are deleted.
func WithCatalogFiles(files objectRemover) CatalogServiceOption {
	return func(s *CatalogService) {
		s.files = files
	}
}

// WithCatalogAudit records destructive catalog operations.
func WithCatalogAudit(audit auditLogger) CatalogServiceOption {
	return func(s *CatalogService) {
		s.audit = audit
	}
}

// CatalogService manages degree programs and courses.
type CatalogService struct {
	programs    programStore
	courses     courseStore
	enrollments programEnrollmentCleaner
	requests    pendingRequestCleaner
	projector   catalogProjector
	users       catalogUserReader
	tx          txProvider
	cache       *CacheService
	files       objectRemover
	audit       auditLogger
	validator   *validator.Validate
	logger      *zap.Logger
	now         func() time.Time
}

// NewCatalogService constructs CatalogService.
func NewCatalogService(
	programs programStore,
	courses courseStore,
	enrollments programEnrollmentCleaner,
	requests pendingRequestCleaner,
	projector catalogProjector,
	users catalogUserReader,
	tx txProvider,
	validate *validator.Validate,
	logger *zap.Logger,
	opts ...CatalogServiceOption,
) *CatalogService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &CatalogService{
		programs:    programs,
		courses:     courses,
		enrollments: enrollments,
		requests:    requests,
		projector:   projector,
		users:       users,
		tx:          tx,
		validator:   validate,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

type programPage struct {
	Items []models.DegreeProgram `json:"items"`
	Total int                    `json:"total"`
}

// ListPrograms returns programs with pagination metadata. The boolean reports a cache hit.
func (s *CatalogService) ListPrograms(ctx context.Context, filter models.ProgramFilter) ([]models.DegreeProgram, *models.Pagination, bool, error) {
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 || filter.PageSize > 100 {
		filter.PageSize = 20
	}
	pagination := func(total int) *models.Pagination {
		return &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}
	}
	key := cache.Key("catalog", "programs", strings.ToLower(filter.Search), strconv.Itoa(filter.Page), strconv.Itoa(filter.PageSize))
	var cached programPage
	if hit, err := s.cache.Get(ctx, key, &cached); err == nil && hit {
		return cached.Items, pagination(cached.Total), true, nil
	}

	items, total, err := s.programs.List(ctx, filter)
	if err != nil {
		return nil, nil, false, appErrors.Internal(err, "failed to list degree programs")
	}
	if items == nil {
		items = []models.DegreeProgram{}
	}
	_ = s.cache.Set(ctx, key, programPage{Items: items, Total: total}, 0)
	return items, pagination(total), false, nil
}

// GetProgram returns the program with its lecturers and ordered courses.
func (s *CatalogService) GetProgram(ctx context.Context, id string) (*models.DegreeProgramDetail, bool, error) {
	key := cache.Key("catalog", "program", id)
	var cached models.DegreeProgramDetail
	if hit, err := s.cache.Get(ctx, key, &cached); err == nil && hit {
		return &cached, true, nil
	}
	detail, err := s.loadProgramDetail(ctx, id)
	if err != nil {
		return nil, false, err
	}
	_ = s.cache.Set(ctx, key, detail, 0)
	return detail, false, nil
}

// CreateProgram adds a program. Codes are unique.
func (s *CatalogService) CreateProgram(ctx context.Context, actor *models.JWTClaims, payload dto.ProgramPayload) (*models.DegreeProgram, error) {
	if err := s.validator.Struct(payload); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid program payload")
	}
	program := &models.DegreeProgram{
		Title:        strings.TrimSpace(payload.Title),
		Code:         strings.TrimSpace(payload.Code),
		Description:  payload.Description,
		PreviewImage: payload.PreviewImage,
	}
	if actor != nil {
		program.CreatedBy = &actor.UserID
	}
	if err := s.programs.Create(ctx, program); err != nil {
		if errors.Is(err, repository.ErrDuplicateKey) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "program code already exists")
		}
		return nil, appErrors.Internal(err, "failed to create degree program")
	}
	s.invalidate(ctx)
	return program, nil
}

// UpdateProgram modifies program fields.
func (s *CatalogService) UpdateProgram(ctx context.Context, id string, payload dto.ProgramPayload) (*models.DegreeProgram, error) {
	if err := s.validator.Struct(payload); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid program payload")
	}
	program, err := s.findProgram(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	program.Title = strings.TrimSpace(payload.Title)
	program.Code = strings.TrimSpace(payload.Code)
	program.Description = payload.Description
	program.PreviewImage = payload.PreviewImage
	if err := s.programs.Update(ctx, program); err != nil {
		switch {
		case errors.Is(err, repository.ErrDuplicateKey):
			return nil, appErrors.Clone(appErrors.ErrConflict, "program code already exists")
		case errors.Is(err, sql.ErrNoRows):
			return nil, appErrors.Clone(appErrors.ErrNotFound, "degree program not found")
		}
		return nil, appErrors.Internal(err, "failed to update degree program")
	}
	s.invalidate(ctx)
	return program, nil
}

// DeleteProgram removes the program together with its enrollments, rollup entries and
// pending requests in one transaction. Courses survive without a program.
func (s *CatalogService) DeleteProgram(ctx context.Context, actor *models.JWTClaims, id string) (err error) {
	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return appErrors.Internal(err, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = s.findProgram(ctx, tx, id); err != nil {
		return err
	}
	enrollments, err := s.enrollments.DeleteByProgram(ctx, tx, id)
	if err != nil {
		return appErrors.Internal(err, "failed to remove program enrollments")
	}
	entries, err := s.projector.DropDegree(ctx, tx, id)
	if err != nil {
		return appErrors.Internal(err, "failed to remove degree memberships")
	}
	requests, err := s.requests.DeletePendingByProgram(ctx, tx, id)
	if err != nil {
		return appErrors.Internal(err, "failed to remove pending requests")
	}
	if err = s.programs.Delete(ctx, tx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "degree program not found")
		}
		return appErrors.Internal(err, "failed to delete degree program")
	}
	if err = tx.Commit(); err != nil {
		return appErrors.Internal(err, "failed to commit program deletion")
	}

	s.invalidate(ctx)
	s.emitAudit(ctx, actor, models.AuditActionProgramDelete, "degree_program", id)
	s.logger.Info("degree program deleted",
		zap.String("program_id", id),
		zap.Int64("enrollments", enrollments),
		zap.Int64("rollup_entries", entries),
		zap.Int64("pending_requests", requests),
	)
	return nil
}

// AddLecturer attaches a lecturer to the program and projects their degree membership.
func (s *CatalogService) AddLecturer(ctx context.Context, actor *models.JWTClaims, programID string, payload dto.LecturerPayload) (err error) {
	if err = s.validator.Struct(payload); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid lecturer payload")
	}
	user, err := s.users.FindByID(ctx, payload.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return appErrors.Upstream(err, "failed to load user")
	}
	if user.Role != models.RoleLecturer {
		return appErrors.Clone(appErrors.ErrValidation, "user is not a lecturer")
	}

	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return appErrors.Internal(err, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	program, err := s.findProgram(ctx, tx, programID)
	if err != nil {
		return err
	}
	if _, err = s.programs.AddLecturer(ctx, tx, program.ID, user.ID); err != nil {
		return appErrors.Internal(err, "failed to add program lecturer")
	}
	actorID := ""
	if actor != nil {
		actorID = actor.UserID
	}
	if _, err = s.projector.ProjectDegree(ctx, tx, user.ID, user.Role, program, actorID, s.now()); err != nil {
		return appErrors.Internal(err, "failed to update degree membership")
	}
	if err = tx.Commit(); err != nil {
		return appErrors.Internal(err, "failed to commit lecturer assignment")
	}
	s.invalidate(ctx)
	return nil
}

// RemoveLecturer detaches a lecturer and retracts their degree membership.
func (s *CatalogService) RemoveLecturer(ctx context.Context, programID, userID string) (err error) {
	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return appErrors.Internal(err, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = s.programs.RemoveLecturer(ctx, tx, programID, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "lecturer is not assigned to this program")
		}
		return appErrors.Internal(err, "failed to remove program lecturer")
	}
	if _, err = s.projector.RetractDegree(ctx, tx, userID, programID); err != nil {
		return appErrors.Internal(err, "failed to update degree membership")
	}
	if err = tx.Commit(); err != nil {
		return appErrors.Internal(err, "failed to commit lecturer removal")
	}
	s.invalidate(ctx)
	return nil
}

// ListCourses returns the program's courses in order.
func (s *CatalogService) ListCourses(ctx context.Context, programID string) ([]models.Course, bool, error) {
	key := cache.Key("catalog", "program-courses", programID)
	var cached []models.Course
	if hit, err := s.cache.Get(ctx, key, &cached); err == nil && hit {
		return cached, true, nil
	}
	if _, err := s.findProgram(ctx, nil, programID); err != nil {
		return nil, false, err
	}
	courses, err := s.programs.ListCourses(ctx, nil, programID)
	if err != nil {
		return nil, false, appErrors.Internal(err, "failed to list program courses")
	}
	if courses == nil {
		courses = []models.Course{}
	}
	_ = s.cache.Set(ctx, key, courses, 0)
	return courses, false, nil
}

// GetCourse returns the course with its resources in order.
func (s *CatalogService) GetCourse(ctx context.Context, id string) (*models.CourseDetail, bool, error) {
	key := cache.Key("catalog", "course", id)
	var cached models.CourseDetail
	if hit, err := s.cache.Get(ctx, key, &cached); err == nil && hit {
		return &cached, true, nil
	}
	course, err := s.findCourse(ctx, nil, id)
	if err != nil {
		return nil, false, err
	}
	resources, err := s.courses.ListMaterials(ctx, nil, id)
	if err != nil {
		return nil, false, appErrors.Internal(err, "failed to list course resources")
	}
	if resources == nil {
		resources = []models.Material{}
	}
	detail := &models.CourseDetail{Course: *course, Resources: resources}
	_ = s.cache.Set(ctx, key, detail, 0)
	return detail, false, nil
}

// CreateCourse adds a course to a program the actor teaches.
func (s *CatalogService) CreateCourse(ctx context.Context, actor *models.JWTClaims, payload dto.CoursePayload) (course *models.Course, err error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if err = s.validator.Struct(payload); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid course payload")
	}
	program, err := s.findProgram(ctx, nil, payload.DegreeProgramID)
	if err != nil {
		return nil, err
	}
	if err = authorizeProgramManager(ctx, s.programs, actor, &program.ID); err != nil {
		return nil, err
	}

	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	course = &models.Course{
		Title:           strings.TrimSpace(payload.Title),
		Code:            strings.TrimSpace(payload.Code),
		Credit:          payload.Credit,
		Description:     payload.Description,
		DegreeProgramID: &program.ID,
		CreatedBy:       &actor.UserID,
	}
	if err = s.courses.Create(ctx, tx, course); err != nil {
		if errors.Is(err, repository.ErrDuplicateKey) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "course already exists")
		}
		return nil, appErrors.Internal(err, "failed to create course")
	}
	if err = s.programs.AppendCourse(ctx, tx, program.ID, course.ID); err != nil {
		return nil, appErrors.Internal(err, "failed to attach course to program")
	}
	if err = tx.Commit(); err != nil {
		return nil, appErrors.Internal(err, "failed to commit course creation")
	}
	s.invalidate(ctx)
	return course, nil
}

// UpdateCourse modifies course fields.
func (s *CatalogService) UpdateCourse(ctx context.Context, actor *models.JWTClaims, id string, payload dto.CourseUpdatePayload) (*models.Course, error) {
	if err := s.validator.Struct(payload); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid course payload")
	}
	course, err := s.findCourse(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	if err := authorizeProgramManager(ctx, s.programs, actor, course.DegreeProgramID); err != nil {
		return nil, err
	}
	course.Title = strings.TrimSpace(payload.Title)
	course.Code = strings.TrimSpace(payload.Code)
	course.Credit = payload.Credit
	course.Description = payload.Description
	if err := s.courses.Update(ctx, course); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Internal(err, "failed to update course")
	}
	s.invalidate(ctx)
	return course, nil
}

// DeleteCourse removes the course from every program and rollup, then deletes its stored files.
func (s *CatalogService) DeleteCourse(ctx context.Context, actor *models.JWTClaims, id string) (err error) {
	course, err := s.findCourse(ctx, nil, id)
	if err != nil {
		return err
	}
	if err = authorizeProgramManager(ctx, s.programs, actor, course.DegreeProgramID); err != nil {
		return err
	}

	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return appErrors.Internal(err, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	materials, err := s.courses.ListMaterials(ctx, tx, id)
	if err != nil {
		return appErrors.Internal(err, "failed to list course resources")
	}
	if _, err = s.requests.DeletePendingByCourse(ctx, tx, id); err != nil {
		return appErrors.Internal(err, "failed to remove pending requests")
	}
	entries, err := s.projector.DropCourse(ctx, tx, id)
	if err != nil {
		return appErrors.Internal(err, "failed to remove course memberships")
	}
	if err = s.courses.Delete(ctx, tx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return appErrors.Internal(err, "failed to delete course")
	}
	if err = tx.Commit(); err != nil {
		return appErrors.Internal(err, "failed to commit course deletion")
	}

	s.removeFiles(materials)
	s.invalidate(ctx)
	s.emitAudit(ctx, actor, models.AuditActionCourseDelete, "course", id)
	s.logger.Info("course deleted", zap.String("course_id", id), zap.Int64("rollup_entries", entries), zap.Int("materials", len(materials)))
	return nil
}

func (s *CatalogService) loadProgramDetail(ctx context.Context, id string) (*models.DegreeProgramDetail, error) {
	program, err := s.findProgram(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	lecturers, err := s.programs.ListLecturers(ctx, nil, id)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list program lecturers")
	}
	courses, err := s.programs.ListCourses(ctx, nil, id)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list program courses")
	}
	if lecturers == nil {
		lecturers = []models.UserSummary{}
	}
	if courses == nil {
		courses = []models.Course{}
	}
	return &models.DegreeProgramDetail{DegreeProgram: *program, Lecturers: lecturers, Courses: courses}, nil
}

func (s *CatalogService) findProgram(ctx context.Context, tx *sqlx.Tx, id string) (*models.DegreeProgram, error) {
	program, err := s.programs.FindByID(ctx, tx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "degree program not found")
		}
		return nil, appErrors.Internal(err, "failed to load degree program")
	}
	return program, nil
}

func (s *CatalogService) findCourse(ctx context.Context, tx *sqlx.Tx, id string) (*models.Course, error) {
	course, err := s.courses.FindByID(ctx, tx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Internal(err, "failed to load course")
	}
	return course, nil
}

func (s *CatalogService) removeFiles(materials []models.Material) {
	if s.files == nil {
		return
	}
	for _, m := range materials {
		if m.Kind != models.MaterialKindFile || m.StorageKey == nil {
			continue
		}
		if err := s.files.Delete(*m.StorageKey); err != nil {
			s.logger.Warn("failed to delete material file", zap.String("material_id", m.ID), zap.Error(err))
		}
	}
}

func (s *CatalogService) invalidate(ctx context.Context) {
	s.cache.InvalidateCatalog(ctx)
}

func (s *CatalogService) emitAudit(ctx context.Context, actor *models.JWTClaims, action, resource, id string) {
	if s.audit == nil {
		return
	}
	log := &models.AuditLog{
		Action:     action,
		Resource:   resource,
		ResourceID: &id,
		IPAddress:  "system",
		UserAgent:  "catalog-service",
	}
	if actor != nil {
		log.UserID = &actor.UserID
	}
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to persist audit log", zap.Error(err))
	}
}

// authorizeProgramManager allows admins and lecturers listed on the program.
func authorizeProgramManager(ctx context.Context, programs lecturerChecker, actor *models.JWTClaims, programID *string) error {
	if actor == nil {
		return appErrors.ErrUnauthorized
	}
	if actor.Role == models.RoleAdmin {
		return nil
	}
	if actor.Role != models.RoleLecturer || programID == nil {
		return appErrors.ErrForbidden
	}
	teaches, err := programs.HasLecturer(ctx, nil, *programID, actor.UserID)
	if err != nil {
		return appErrors.Internal(err, "failed to check program lecturers")
	}
	if !teaches {
		return appErrors.Clone(appErrors.ErrForbidden, "lecturer does not teach this program")
	}
	return nil
}
