package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/lms-api/internal/dto"
	"github.com/noah-isme/lms-api/internal/models"
	"github.com/noah-isme/lms-api/internal/repository"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
)

type txProvider interface {
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
}

type auditLogger interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type requestStore interface {
	Create(ctx context.Context, request *models.Request) error
	ExistsPending(ctx context.Context, requestType models.RequestType, requesterID string, programID, courseID *string) (bool, error)
	GetByID(ctx context.Context, id string) (*models.Request, error)
	LockByID(ctx context.Context, tx *sqlx.Tx, id string) (*models.Request, error)
	Resolve(ctx context.Context, tx *sqlx.Tx, params models.ResolveRequestParams) error
	List(ctx context.Context, query models.RequestQuery) ([]models.RequestDetail, error)
	Delete(ctx context.Context, id string) error
}

type requestUserReader interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

type requestProgramReader interface {
	FindByID(ctx context.Context, tx *sqlx.Tx, id string) (*models.DegreeProgram, error)
	HasLecturer(ctx context.Context, tx *sqlx.Tx, programID, userID string) (bool, error)
}

type requestCourseReader interface {
	FindByID(ctx context.Context, tx *sqlx.Tx, id string) (*models.Course, error)
}

type requestMembershipReader interface {
	HasActiveDegree(ctx context.Context, tx *sqlx.Tx, userID, degreeID string) (bool, error)
	HasActiveCourse(ctx context.Context, tx *sqlx.Tx, userID, courseID string) (bool, error)
	ListActiveDegreeIDs(ctx context.Context, userID string) ([]string, error)
}

// RequestServiceOption configures the service.
type RequestServiceOption func(*RequestService)

// WithRequestAppliers sets the applier map keyed by request type.
func WithRequestAppliers(appliers map[models.RequestType]RequestApplier) RequestServiceOption {
	return func(s *RequestService) {
		for k, v := range appliers {
			s.appliers[k] = v
		}
	}
}

// WithRequestMetrics records resolutions on the metrics registry.
func WithRequestMetrics(metrics *MetricsService) RequestServiceOption {
	return func(s *RequestService) {
		s.metrics = metrics
	}
}

// WithRequestCache invalidates catalog reads after accepted teach requests.
func WithRequestCache(cache *CacheService) RequestServiceOption {
	return func(s *RequestService) {
		s.cache = cache
	}
}

// WithRequestClock overrides the time source.
func WithRequestClock(now func() time.Time) RequestServiceOption {
	return func(s *RequestService) {
		if now != nil {
			s.now = now
		}
	}
}

// RequestService runs the cross-role request workflow.
type RequestService struct {
	store       requestStore
	users       requestUserReader
	programs    requestProgramReader
	courses     requestCourseReader
	memberships requestMembershipReader
	tx          txProvider
	audit       auditLogger
	appliers    map[models.RequestType]RequestApplier
	metrics     *MetricsService
	cache       *CacheService
	validator   *validator.Validate
	logger      *zap.Logger
	now         func() time.Time
}

// NewRequestService constructs the service with defaults.
func NewRequestService(
	store requestStore,
	users requestUserReader,
	programs requestProgramReader,
	courses requestCourseReader,
	memberships requestMembershipReader,
	tx txProvider,
	audit auditLogger,
	validate *validator.Validate,
	logger *zap.Logger,
	opts ...RequestServiceOption,
) *RequestService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	svc := &RequestService{
		store:       store,
		users:       users,
		programs:    programs,
		courses:     courses,
		memberships: memberships,
		tx:          tx,
		audit:       audit,
		appliers:    make(map[models.RequestType]RequestApplier),
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

// requestTarget is the resolved subject of a new request.
type requestTarget struct {
	programID *string
	courseID  *string
	title     string
	code      string
}

// CreateRequest opens a pending request for the actor.
func (s *RequestService) CreateRequest(ctx context.Context, actor *models.JWTClaims, in dto.CreateRequestInput) (*models.Request, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if err := s.validator.Struct(in); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid request payload")
	}
	if actor.Role != requesterRole(in.Type) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, fmt.Sprintf("only %ss may open a %s", requesterRole(in.Type), in.Type))
	}

	requester, err := s.users.FindByID(ctx, actor.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "requester not found")
		}
		return nil, appErrors.Upstream(err, "failed to load requester")
	}

	target, err := s.resolveTarget(ctx, in)
	if err != nil {
		return nil, err
	}

	pending, err := s.store.ExistsPending(ctx, in.Type, requester.ID, target.programID, target.courseID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to check pending requests")
	}
	if pending {
		return nil, appErrors.ErrDuplicateRequest
	}

	member, err := s.isMember(ctx, in.Type, requester.ID, target)
	if err != nil {
		return nil, err
	}
	if member {
		return nil, appErrors.ErrAlreadyMember
	}

	message := strings.TrimSpace(in.Message)
	if message == "" {
		message = defaultRequestMessage(in.Type, requester.Name, target)
	}
	request := &models.Request{
		Type:            in.Type,
		RequesterID:     requester.ID,
		RequesterRole:   requester.Role,
		DegreeProgramID: target.programID,
		CourseID:        target.courseID,
		Status:          models.RequestStatusPending,
		Message:         message,
		CreatedAt:       s.now(),
	}
	if err := s.store.Create(ctx, request); err != nil {
		if errors.Is(err, repository.ErrDuplicateKey) {
			return nil, appErrors.ErrDuplicateRequest
		}
		return nil, appErrors.Internal(err, "failed to create request")
	}
	s.logger.Info("request created",
		zap.String("request_id", request.ID),
		zap.String("type", string(request.Type)),
		zap.String("requester_id", request.RequesterID),
	)
	return request, nil
}

// ResolveRequest applies the approver's decision. The lock, the fan-out writes and the
// status change share one transaction.
func (s *RequestService) ResolveRequest(ctx context.Context, actor *models.JWTClaims, requestID string, decision models.Decision) (result *models.Request, err error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if decision != models.DecisionAccept && decision != models.DecisionReject {
		return nil, appErrors.Clone(appErrors.ErrValidation, "action must be accept or reject")
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

	request, err := s.store.LockByID(ctx, tx, requestID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "request not found")
		}
		return nil, appErrors.Internal(err, "failed to load request")
	}
	if request.Status != models.RequestStatusPending {
		return nil, appErrors.ErrAlreadyResolved
	}
	if err = s.authorizeResolve(ctx, tx, actor, request); err != nil {
		return nil, err
	}

	now := s.now()
	status := models.RequestStatusRejected
	if decision == models.DecisionAccept {
		status = models.RequestStatusAccepted
		applier := s.appliers[request.Type]
		if applier == nil {
			return nil, appErrors.Internal(fmt.Errorf("no applier for %s", request.Type), "request type cannot be accepted")
		}
		if err = applier.Apply(ctx, tx, request, actor.UserID, now); err != nil {
			return nil, err
		}
	}

	message := resolutionMessage(request.Type, status)
	err = s.store.Resolve(ctx, tx, models.ResolveRequestParams{
		ID:          request.ID,
		Status:      status,
		Message:     message,
		RespondedBy: actor.UserID,
		RespondedAt: now,
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrAlreadyResolved
		}
		return nil, appErrors.Internal(err, "failed to resolve request")
	}
	if err = tx.Commit(); err != nil {
		return nil, appErrors.Internal(err, "failed to commit resolution")
	}

	request.Status = status
	request.Message = message
	request.RespondedBy = &actor.UserID
	request.RespondedAt = &now

	s.metrics.ObserveRequestResolved(request.Type, decision)
	if status == models.RequestStatusAccepted && request.Type == models.RequestTypeTeach {
		s.cache.InvalidateCatalog(ctx)
	}
	s.emitAudit(ctx, actor.UserID, models.AuditActionRequestResolve, request)
	s.logger.Info("request resolved",
		zap.String("request_id", request.ID),
		zap.String("type", string(request.Type)),
		zap.String("status", string(status)),
		zap.String("approver_id", actor.UserID),
	)
	return request, nil
}

// ListForApprover returns the requests the actor may act on. Admins see program-level
// requests; lecturers see their own teach requests plus course requests in programs
// where they hold an active membership.
func (s *RequestService) ListForApprover(ctx context.Context, actor *models.JWTClaims, query dto.RequestListQuery) ([]models.RequestDetail, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	q := models.RequestQuery{Limit: query.Limit, Offset: query.Offset}
	switch actor.Role {
	case models.RoleAdmin:
		q.Any = []models.RequestFilter{{
			Types:  []models.RequestType{models.RequestTypeEnrollment, models.RequestTypeTeach},
			Status: query.Status,
		}}
	case models.RoleLecturer:
		q.Any = []models.RequestFilter{{
			Types:       []models.RequestType{models.RequestTypeTeach},
			RequesterID: actor.UserID,
			Status:      query.Status,
		}}
		scope, err := s.memberships.ListActiveDegreeIDs(ctx, actor.UserID)
		if err != nil {
			return nil, appErrors.Internal(err, "failed to load lecturer programs")
		}
		if len(scope) > 0 {
			q.Any = append(q.Any, models.RequestFilter{
				Types:      []models.RequestType{models.RequestTypeCourseEnrollment},
				ProgramIDs: scope,
				Status:     query.Status,
			})
		}
	default:
		return nil, appErrors.ErrForbidden
	}
	return s.list(ctx, q)
}

// ListCourseRequests returns course-level requests visible to the actor: a student's own,
// or those a lecturer or admin may resolve.
func (s *RequestService) ListCourseRequests(ctx context.Context, actor *models.JWTClaims, query dto.RequestListQuery) ([]models.RequestDetail, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	courseTypes := []models.RequestType{models.RequestTypeCourseEnrollment, models.RequestTypeCourseResponse}
	q := models.RequestQuery{Limit: query.Limit, Offset: query.Offset}
	switch actor.Role {
	case models.RoleStudent:
		return s.ListForRequester(ctx, actor, query, courseTypes...)
	case models.RoleAdmin:
		q.Any = []models.RequestFilter{{Types: courseTypes[:1], Status: query.Status}}
	case models.RoleLecturer:
		scope, err := s.memberships.ListActiveDegreeIDs(ctx, actor.UserID)
		if err != nil {
			return nil, appErrors.Internal(err, "failed to load lecturer programs")
		}
		if len(scope) == 0 {
			return []models.RequestDetail{}, nil
		}
		q.Any = []models.RequestFilter{{Types: courseTypes[:1], ProgramIDs: scope, Status: query.Status}}
	default:
		return nil, appErrors.ErrForbidden
	}
	return s.list(ctx, q)
}

// ListForRequester returns the actor's own requests, optionally narrowed to types.
func (s *RequestService) ListForRequester(ctx context.Context, actor *models.JWTClaims, query dto.RequestListQuery, types ...models.RequestType) ([]models.RequestDetail, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	return s.list(ctx, models.RequestQuery{
		Any: []models.RequestFilter{{
			Types:       types,
			RequesterID: actor.UserID,
			Status:      query.Status,
		}},
		Limit:  query.Limit,
		Offset: query.Offset,
	})
}

// DeleteRequest removes a request owned by the actor. Admins may delete any request.
func (s *RequestService) DeleteRequest(ctx context.Context, actor *models.JWTClaims, requestID string) error {
	if actor == nil {
		return appErrors.ErrUnauthorized
	}
	request, err := s.store.GetByID(ctx, requestID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "request not found")
		}
		return appErrors.Internal(err, "failed to load request")
	}
	if actor.Role != models.RoleAdmin && request.RequesterID != actor.UserID {
		return appErrors.ErrForbidden
	}
	if err := s.store.Delete(ctx, requestID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "request not found")
		}
		return appErrors.Internal(err, "failed to delete request")
	}
	s.emitAudit(ctx, actor.UserID, models.AuditActionRequestDelete, request)
	return nil
}

func (s *RequestService) list(ctx context.Context, q models.RequestQuery) ([]models.RequestDetail, error) {
	items, err := s.store.List(ctx, q)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list requests")
	}
	if items == nil {
		items = []models.RequestDetail{}
	}
	return items, nil
}

func (s *RequestService) resolveTarget(ctx context.Context, in dto.CreateRequestInput) (*requestTarget, error) {
	if in.Type == models.RequestTypeCourseEnrollment {
		course, err := s.courses.FindByID(ctx, nil, in.TargetID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
			}
			return nil, appErrors.Upstream(err, "failed to load course")
		}
		if course.DegreeProgramID == nil {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course is not offered by any degree program")
		}
		return &requestTarget{programID: course.DegreeProgramID, courseID: &course.ID, title: course.Title, code: course.Code}, nil
	}
	program, err := s.programs.FindByID(ctx, nil, in.TargetID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "degree program not found")
		}
		return nil, appErrors.Upstream(err, "failed to load degree program")
	}
	return &requestTarget{programID: &program.ID, title: program.Title, code: program.Code}, nil
}

func (s *RequestService) isMember(ctx context.Context, requestType models.RequestType, userID string, target *requestTarget) (bool, error) {
	var (
		member bool
		err    error
	)
	switch requestType {
	case models.RequestTypeEnrollment:
		member, err = s.memberships.HasActiveDegree(ctx, nil, userID, *target.programID)
	case models.RequestTypeTeach:
		member, err = s.programs.HasLecturer(ctx, nil, *target.programID, userID)
		if err == nil && !member {
			member, err = s.memberships.HasActiveDegree(ctx, nil, userID, *target.programID)
		}
	case models.RequestTypeCourseEnrollment:
		member, err = s.memberships.HasActiveCourse(ctx, nil, userID, *target.courseID)
	}
	if err != nil {
		return false, appErrors.Internal(err, "failed to check membership")
	}
	return member, nil
}

func (s *RequestService) authorizeResolve(ctx context.Context, tx *sqlx.Tx, actor *models.JWTClaims, request *models.Request) error {
	switch request.Type {
	case models.RequestTypeEnrollment, models.RequestTypeTeach:
		if actor.Role != models.RoleAdmin {
			return appErrors.Clone(appErrors.ErrForbidden, "only admins may resolve program requests")
		}
		return nil
	case models.RequestTypeCourseEnrollment:
		if actor.Role == models.RoleAdmin {
			return nil
		}
		if actor.Role != models.RoleLecturer || request.DegreeProgramID == nil {
			return appErrors.ErrForbidden
		}
		teaches, err := s.memberships.HasActiveDegree(ctx, tx, actor.UserID, *request.DegreeProgramID)
		if err != nil {
			return appErrors.Internal(err, "failed to check lecturer programs")
		}
		if !teaches {
			return appErrors.Clone(appErrors.ErrForbidden, "lecturer does not teach this program")
		}
		return nil
	default:
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("%s cannot be resolved", request.Type))
	}
}

func (s *RequestService) emitAudit(ctx context.Context, actorID, action string, request *models.Request) {
	if s.audit == nil || request == nil {
		return
	}
	values, _ := json.Marshal(map[string]string{
		"type":   string(request.Type),
		"status": string(request.Status),
	})
	log := &models.AuditLog{
		UserID:     &actorID,
		Action:     action,
		Resource:   "notification",
		ResourceID: &request.ID,
		NewValues:  values,
		IPAddress:  "system",
		UserAgent:  "request-service",
	}
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to persist audit log", zap.Error(err))
	}
}

func requesterRole(requestType models.RequestType) models.UserRole {
	if requestType == models.RequestTypeTeach {
		return models.RoleLecturer
	}
	return models.RoleStudent
}

func defaultRequestMessage(requestType models.RequestType, requesterName string, target *requestTarget) string {
	switch requestType {
	case models.RequestTypeTeach:
		return fmt.Sprintf("%s has requested to teach in %s (%s)", requesterName, target.title, target.code)
	case models.RequestTypeCourseEnrollment:
		return fmt.Sprintf("%s has requested to enroll in the course %s (%s)", requesterName, target.title, target.code)
	default:
		return fmt.Sprintf("%s has requested to enroll in %s (%s)", requesterName, target.title, target.code)
	}
}

func resolutionMessage(requestType models.RequestType, status models.RequestStatus) string {
	subject := "enrollment request"
	switch requestType {
	case models.RequestTypeTeach:
		subject = "request to teach"
	case models.RequestTypeCourseEnrollment:
		subject = "course enrollment request"
	}
	return fmt.Sprintf("Your %s has been %s", subject, status)
}
