package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/lms-api/internal/models"
	"github.com/noah-isme/lms-api/pkg/response"
)

type membershipService interface {
	SyncStudent(ctx context.Context, userID string) (*models.SyncResult, error)
	MigrateAll(ctx context.Context) (*models.MigrationSummary, error)
	MigrateAllAsync(ctx context.Context) (*models.SyncJob, error)
	SyncJob(id string) (*models.SyncJob, error)
	GetMyEnrolledPrograms(ctx context.Context, userID string) ([]models.EnrolledProgram, error)
	GetMyCourses(ctx context.Context, userID string) ([]models.EnrolledCourse, error)
}

// MembershipHandler serves membership reads and rollup maintenance.
type MembershipHandler struct {
	service membershipService
}

// NewMembershipHandler constructs MembershipHandler.
func NewMembershipHandler(svc membershipService) *MembershipHandler {
	return &MembershipHandler{service: svc}
}

// MyPrograms godoc
// @Summary Programs the caller is enrolled in
// @Tags Memberships
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /memberships/my-programs [get]
func (h *MembershipHandler) MyPrograms(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	programs, err := h.service.GetMyEnrolledPrograms(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, programs, nil)
}

// MyCourses godoc
// @Summary Courses the caller is enrolled in
// @Tags Enrollments
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /enrollments/my-courses [get]
func (h *MembershipHandler) MyCourses(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	courses, err := h.service.GetMyCourses(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, courses, nil)
}

// SyncAll godoc
// @Summary Rebuild every student's rollups
// @Tags Memberships
// @Produce json
// @Param async query bool false "Run on the background queue"
// @Success 200 {object} response.Envelope
// @Success 202 {object} response.Envelope
// @Router /memberships/sync [post]
func (h *MembershipHandler) SyncAll(c *gin.Context) {
	if async, _ := strconv.ParseBool(c.Query("async")); async {
		job, err := h.service.MigrateAllAsync(c.Request.Context())
		if err != nil {
			response.Error(c, err)
			return
		}
		response.Accepted(c, job)
		return
	}
	summary, err := h.service.MigrateAll(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, summary, nil)
}

// SyncStudent godoc
// @Summary Rebuild one user's rollups
// @Tags Memberships
// @Produce json
// @Param userId path string true "User ID"
// @Success 200 {object} response.Envelope
// @Router /memberships/sync/{userId} [post]
func (h *MembershipHandler) SyncStudent(c *gin.Context) {
	result, err := h.service.SyncStudent(c.Request.Context(), c.Param("userId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// SyncJob godoc
// @Summary Background sync status
// @Tags Memberships
// @Produce json
// @Param id path string true "Job ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /memberships/jobs/{id} [get]
func (h *MembershipHandler) SyncJob(c *gin.Context) {
	job, err := h.service.SyncJob(c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, job, nil)
}
