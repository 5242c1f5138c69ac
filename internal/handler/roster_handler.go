package handler

import (
	"bytes"
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/lms-api/internal/models"
	"github.com/noah-isme/lms-api/internal/service"
	"github.com/noah-isme/lms-api/pkg/response"
)

type rosterService interface {
	Roster(ctx context.Context, actor *models.JWTClaims, programID string, status models.EnrollmentStatus) ([]models.RosterEntry, error)
	ExportRoster(ctx context.Context, actor *models.JWTClaims, programID string, status models.EnrollmentStatus, format service.ExportFormat) (*service.ExportResult, error)
}

// RosterHandler lists and exports program rosters.
type RosterHandler struct {
	service rosterService
}

// NewRosterHandler constructs RosterHandler.
func NewRosterHandler(svc rosterService) *RosterHandler {
	return &RosterHandler{service: svc}
}

// Roster godoc
// @Summary Program roster
// @Tags Programs
// @Produce json
// @Param id path string true "Program ID"
// @Param status query string false "Enrollment status, defaults to active"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /programs/{id}/roster [get]
func (h *RosterHandler) Roster(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	entries, err := h.service.Roster(c.Request.Context(), claims, c.Param("id"), models.EnrollmentStatus(c.Query("status")))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entries, nil)
}

// Export godoc
// @Summary Export program roster
// @Tags Programs
// @Produce text/csv
// @Produce application/pdf
// @Param id path string true "Program ID"
// @Param format query string false "csv or pdf"
// @Param status query string false "Enrollment status, defaults to active"
// @Success 200 {file} binary
// @Router /programs/{id}/roster/export [get]
func (h *RosterHandler) Export(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	format := service.ExportFormat(strings.ToLower(c.DefaultQuery("format", string(service.ExportFormatCSV))))
	result, err := h.service.ExportRoster(c.Request.Context(), claims, c.Param("id"), models.EnrollmentStatus(c.Query("status")), format)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, result.Filename, result.ContentType, int64(len(result.Body)), bytes.NewReader(result.Body))
}
