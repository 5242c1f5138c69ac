package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/lms-api/internal/dto"
	"github.com/noah-isme/lms-api/internal/models"
	"github.com/noah-isme/lms-api/pkg/response"
)

type requestService interface {
	CreateRequest(ctx context.Context, actor *models.JWTClaims, in dto.CreateRequestInput) (*models.Request, error)
	ResolveRequest(ctx context.Context, actor *models.JWTClaims, requestID string, decision models.Decision) (*models.Request, error)
	ListForApprover(ctx context.Context, actor *models.JWTClaims, query dto.RequestListQuery) ([]models.RequestDetail, error)
	ListCourseRequests(ctx context.Context, actor *models.JWTClaims, query dto.RequestListQuery) ([]models.RequestDetail, error)
	ListForRequester(ctx context.Context, actor *models.JWTClaims, query dto.RequestListQuery, types ...models.RequestType) ([]models.RequestDetail, error)
	DeleteRequest(ctx context.Context, actor *models.JWTClaims, requestID string) error
}

// RequestHandler serves the notification and course enrollment request endpoints.
type RequestHandler struct {
	service requestService
}

// NewRequestHandler constructs RequestHandler.
func NewRequestHandler(svc requestService) *RequestHandler {
	return &RequestHandler{service: svc}
}

// EnrollmentRequest godoc
// @Summary Request program enrollment
// @Tags Notifications
// @Accept json
// @Produce json
// @Param payload body dto.ProgramRequestPayload true "Program"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /notifications/enrollment-request [post]
func (h *RequestHandler) EnrollmentRequest(c *gin.Context) {
	h.createProgramRequest(c, models.RequestTypeEnrollment)
}

// TeachRequest godoc
// @Summary Request to teach a program
// @Tags Notifications
// @Accept json
// @Produce json
// @Param payload body dto.ProgramRequestPayload true "Program"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /notifications/teach-request [post]
func (h *RequestHandler) TeachRequest(c *gin.Context) {
	h.createProgramRequest(c, models.RequestTypeTeach)
}

func (h *RequestHandler) createProgramRequest(c *gin.Context, requestType models.RequestType) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	var payload dto.ProgramRequestPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, bindError(err, "invalid request payload"))
		return
	}
	h.create(c, claims, dto.CreateRequestInput{Type: requestType, TargetID: payload.DegreeProgramID, Message: payload.Message})
}

// CourseRequest godoc
// @Summary Request course enrollment
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param payload body dto.CourseRequestPayload true "Course"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /enrollments/course-request [post]
func (h *RequestHandler) CourseRequest(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	var payload dto.CourseRequestPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, bindError(err, "invalid request payload"))
		return
	}
	h.create(c, claims, dto.CreateRequestInput{Type: models.RequestTypeCourseEnrollment, TargetID: payload.CourseID, Message: payload.Message})
}

func (h *RequestHandler) create(c *gin.Context, claims *models.JWTClaims, in dto.CreateRequestInput) {
	request, err := h.service.CreateRequest(c.Request.Context(), claims, in)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, request)
}

// HandleRequest godoc
// @Summary Accept or reject a request
// @Tags Notifications
// @Accept json
// @Produce json
// @Param payload body dto.HandleRequestPayload true "Decision"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /notifications/handle-request [post]
func (h *RequestHandler) HandleRequest(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	var payload dto.HandleRequestPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, bindError(err, "invalid decision payload"))
		return
	}
	request, err := h.service.ResolveRequest(c.Request.Context(), claims, payload.NotificationID, payload.Action)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, request, nil)
}

// ApproverInbox godoc
// @Summary Requests awaiting the caller
// @Description Admins see enrollment and teach requests; lecturers see their teach requests and course requests in their programs
// @Tags Notifications
// @Produce json
// @Param status query string false "pending, accepted or rejected"
// @Success 200 {object} response.Envelope
// @Router /notifications/admin [get]
// @Router /notifications/lecturer [get]
func (h *RequestHandler) ApproverInbox(c *gin.Context) {
	claims, query, ok := h.listContext(c)
	if !ok {
		return
	}
	items, err := h.service.ListForApprover(c.Request.Context(), claims, query)
	h.respondList(c, items, err)
}

// RequesterInbox godoc
// @Summary Requests opened by the caller
// @Tags Notifications
// @Produce json
// @Param status query string false "pending, accepted or rejected"
// @Success 200 {object} response.Envelope
// @Router /notifications/student [get]
func (h *RequestHandler) RequesterInbox(c *gin.Context) {
	claims, query, ok := h.listContext(c)
	if !ok {
		return
	}
	items, err := h.service.ListForRequester(c.Request.Context(), claims, query)
	h.respondList(c, items, err)
}

// CourseRequests godoc
// @Summary Course enrollment requests visible to the caller
// @Tags Enrollments
// @Produce json
// @Param status query string false "pending, accepted or rejected"
// @Success 200 {object} response.Envelope
// @Router /enrollments/requests [get]
func (h *RequestHandler) CourseRequests(c *gin.Context) {
	claims, query, ok := h.listContext(c)
	if !ok {
		return
	}
	items, err := h.service.ListCourseRequests(c.Request.Context(), claims, query)
	h.respondList(c, items, err)
}

// Delete godoc
// @Summary Delete a request
// @Tags Notifications
// @Param id path string true "Request ID"
// @Success 204
// @Failure 403 {object} response.Envelope
// @Router /notifications/{id} [delete]
func (h *RequestHandler) Delete(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	if err := h.service.DeleteRequest(c.Request.Context(), claims, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

func (h *RequestHandler) listContext(c *gin.Context) (*models.JWTClaims, dto.RequestListQuery, bool) {
	var query dto.RequestListQuery
	claims, ok := requireClaims(c)
	if !ok {
		return nil, query, false
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, bindError(err, "invalid query"))
		return nil, query, false
	}
	return claims, query, true
}

func (h *RequestHandler) respondList(c *gin.Context, items []models.RequestDetail, err error) {
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, nil)
}
