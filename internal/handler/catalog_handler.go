package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/lms-api/internal/dto"
	"github.com/noah-isme/lms-api/internal/models"
	"github.com/noah-isme/lms-api/pkg/response"
)

type catalogService interface {
	ListPrograms(ctx context.Context, filter models.ProgramFilter) ([]models.DegreeProgram, *models.Pagination, bool, error)
	GetProgram(ctx context.Context, id string) (*models.DegreeProgramDetail, bool, error)
	CreateProgram(ctx context.Context, actor *models.JWTClaims, payload dto.ProgramPayload) (*models.DegreeProgram, error)
	UpdateProgram(ctx context.Context, id string, payload dto.ProgramPayload) (*models.DegreeProgram, error)
	DeleteProgram(ctx context.Context, actor *models.JWTClaims, id string) error
	AddLecturer(ctx context.Context, actor *models.JWTClaims, programID string, payload dto.LecturerPayload) error
	RemoveLecturer(ctx context.Context, programID, userID string) error
	ListCourses(ctx context.Context, programID string) ([]models.Course, bool, error)
	GetCourse(ctx context.Context, id string) (*models.CourseDetail, bool, error)
	CreateCourse(ctx context.Context, actor *models.JWTClaims, payload dto.CoursePayload) (*models.Course, error)
	UpdateCourse(ctx context.Context, actor *models.JWTClaims, id string, payload dto.CourseUpdatePayload) (*models.Course, error)
	DeleteCourse(ctx context.Context, actor *models.JWTClaims, id string) error
}

// CatalogHandler exposes degree program and course endpoints.
type CatalogHandler struct {
	service catalogService
}

// NewCatalogHandler constructs CatalogHandler.
func NewCatalogHandler(svc catalogService) *CatalogHandler {
	return &CatalogHandler{service: svc}
}

// ListPrograms godoc
// @Summary List degree programs
// @Tags Programs
// @Produce json
// @Param search query string false "Title or code"
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /programs [get]
func (h *CatalogHandler) ListPrograms(c *gin.Context) {
	filter := models.ProgramFilter{
		Search:   c.Query("search"),
		Page:     queryInt(c, "page", 1),
		PageSize: queryInt(c, "page_size", 20),
	}
	programs, pagination, hit, err := h.service.ListPrograms(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	respondCached(c, programs, pagination, hit)
}

// GetProgram godoc
// @Summary Get degree program
// @Description Program with lecturers and ordered courses
// @Tags Programs
// @Produce json
// @Param id path string true "Program ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /programs/{id} [get]
func (h *CatalogHandler) GetProgram(c *gin.Context) {
	program, hit, err := h.service.GetProgram(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	respondCached(c, program, nil, hit)
}

// CreateProgram godoc
// @Summary Create degree program
// @Tags Programs
// @Accept json
// @Produce json
// @Param payload body dto.ProgramPayload true "Program payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /programs [post]
func (h *CatalogHandler) CreateProgram(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	var payload dto.ProgramPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, bindError(err, "invalid program payload"))
		return
	}
	program, err := h.service.CreateProgram(c.Request.Context(), claims, payload)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, program)
}

// UpdateProgram godoc
// @Summary Update degree program
// @Tags Programs
// @Accept json
// @Produce json
// @Param id path string true "Program ID"
// @Param payload body dto.ProgramPayload true "Program payload"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /programs/{id} [put]
func (h *CatalogHandler) UpdateProgram(c *gin.Context) {
	var payload dto.ProgramPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, bindError(err, "invalid program payload"))
		return
	}
	program, err := h.service.UpdateProgram(c.Request.Context(), c.Param("id"), payload)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, program, nil)
}

// DeleteProgram godoc
// @Summary Delete degree program
// @Description Removes the program with its enrollments, memberships and pending requests
// @Tags Programs
// @Param id path string true "Program ID"
// @Success 204
// @Failure 404 {object} response.Envelope
// @Router /programs/{id} [delete]
func (h *CatalogHandler) DeleteProgram(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	if err := h.service.DeleteProgram(c.Request.Context(), claims, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// AddLecturer godoc
// @Summary Attach lecturer
// @Tags Programs
// @Accept json
// @Param id path string true "Program ID"
// @Param payload body dto.LecturerPayload true "Lecturer"
// @Success 204
// @Failure 404 {object} response.Envelope
// @Router /programs/{id}/lecturers [post]
func (h *CatalogHandler) AddLecturer(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	var payload dto.LecturerPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, bindError(err, "invalid lecturer payload"))
		return
	}
	if err := h.service.AddLecturer(c.Request.Context(), claims, c.Param("id"), payload); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// RemoveLecturer godoc
// @Summary Detach lecturer
// @Tags Programs
// @Param id path string true "Program ID"
// @Param userId path string true "Lecturer ID"
// @Success 204
// @Router /programs/{id}/lecturers/{userId} [delete]
func (h *CatalogHandler) RemoveLecturer(c *gin.Context) {
	if err := h.service.RemoveLecturer(c.Request.Context(), c.Param("id"), c.Param("userId")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// ListCourses godoc
// @Summary List program courses
// @Tags Courses
// @Produce json
// @Param id path string true "Program ID"
// @Success 200 {object} response.Envelope
// @Router /programs/{id}/courses [get]
func (h *CatalogHandler) ListCourses(c *gin.Context) {
	courses, hit, err := h.service.ListCourses(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	respondCached(c, courses, nil, hit)
}

// GetCourse godoc
// @Summary Get course
// @Description Course with resources in order
// @Tags Courses
// @Produce json
// @Param id path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /courses/{id} [get]
func (h *CatalogHandler) GetCourse(c *gin.Context) {
	course, hit, err := h.service.GetCourse(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	respondCached(c, course, nil, hit)
}

// CreateCourse godoc
// @Summary Create course
// @Tags Courses
// @Accept json
// @Produce json
// @Param payload body dto.CoursePayload true "Course payload"
// @Success 201 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /courses [post]
func (h *CatalogHandler) CreateCourse(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	var payload dto.CoursePayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, bindError(err, "invalid course payload"))
		return
	}
	course, err := h.service.CreateCourse(c.Request.Context(), claims, payload)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, course)
}

// UpdateCourse godoc
// @Summary Update course
// @Tags Courses
// @Accept json
// @Produce json
// @Param id path string true "Course ID"
// @Param payload body dto.CourseUpdatePayload true "Course payload"
// @Success 200 {object} response.Envelope
// @Router /courses/{id} [put]
func (h *CatalogHandler) UpdateCourse(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	var payload dto.CourseUpdatePayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, bindError(err, "invalid course payload"))
		return
	}
	course, err := h.service.UpdateCourse(c.Request.Context(), claims, c.Param("id"), payload)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, course, nil)
}

// DeleteCourse godoc
// @Summary Delete course
// @Tags Courses
// @Param id path string true "Course ID"
// @Success 204
// @Router /courses/{id} [delete]
func (h *CatalogHandler) DeleteCourse(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	if err := h.service.DeleteCourse(c.Request.Context(), claims, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
