package handler

import (
	"context"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/lms-api/internal/dto"
	"github.com/noah-isme/lms-api/internal/models"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
	"github.com/noah-isme/lms-api/pkg/response"
)

type materialService interface {
	UploadFile(ctx context.Context, actor *models.JWTClaims, courseID, filename, mimeType string, r io.Reader) (*models.Material, error)
	AddLink(ctx context.Context, actor *models.JWTClaims, courseID string, payload dto.LinkPayload) (*models.Material, error)
	RemoveMaterial(ctx context.Context, actor *models.JWTClaims, courseID, materialID string) error
	DownloadURL(ctx context.Context, actor *models.JWTClaims, materialID string) (*models.MaterialLink, error)
	Download(ctx context.Context, materialID, token string) (*models.Material, *os.File, error)
}

// MaterialHandler exposes course material endpoints.
type MaterialHandler struct {
	service materialService
}

// NewMaterialHandler constructs MaterialHandler.
func NewMaterialHandler(svc materialService) *MaterialHandler {
	return &MaterialHandler{service: svc}
}

// Upload godoc
// @Summary Upload course file
// @Tags Materials
// @Accept multipart/form-data
// @Produce json
// @Param id path string true "Course ID"
// @Param file formData file true "Material file"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /courses/{id}/materials/files [post]
func (h *MaterialHandler) Upload(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "file is required"))
		return
	}
	src, err := fileHeader.Open()
	if err != nil {
		response.Error(c, appErrors.Internal(err, "failed to open file"))
		return
	}
	defer src.Close()

	mimeType := fileHeader.Header.Get("Content-Type")
	if mimeType == "" || mimeType == "application/octet-stream" {
		if guessed := mime.TypeByExtension(strings.ToLower(filepath.Ext(fileHeader.Filename))); guessed != "" {
			mimeType = guessed
		}
	}

	material, err := h.service.UploadFile(c.Request.Context(), claims, c.Param("id"), fileHeader.Filename, mimeType, src)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, material)
}

// AddLink godoc
// @Summary Attach link to course
// @Tags Materials
// @Accept json
// @Produce json
// @Param id path string true "Course ID"
// @Param payload body dto.LinkPayload true "Link"
// @Success 201 {object} response.Envelope
// @Router /courses/{id}/materials/links [post]
func (h *MaterialHandler) AddLink(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	var payload dto.LinkPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, bindError(err, "invalid link payload"))
		return
	}
	material, err := h.service.AddLink(c.Request.Context(), claims, c.Param("id"), payload)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, material)
}

// Remove godoc
// @Summary Remove course material
// @Tags Materials
// @Param id path string true "Course ID"
// @Param materialId path string true "Material ID"
// @Success 204
// @Router /courses/{id}/materials/{materialId} [delete]
func (h *MaterialHandler) Remove(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	if err := h.service.RemoveMaterial(c.Request.Context(), claims, c.Param("id"), c.Param("materialId")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// DownloadURL godoc
// @Summary Issue signed download link
// @Tags Materials
// @Produce json
// @Param id path string true "Material ID"
// @Success 200 {object} response.Envelope
// @Router /materials/{id}/download [get]
func (h *MaterialHandler) DownloadURL(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	link, err := h.service.DownloadURL(c.Request.Context(), claims, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, link, nil)
}

// Download godoc
// @Summary Download material via signed token
// @Tags Materials
// @Produce octet-stream
// @Param id path string true "Material ID"
// @Param token query string true "Signed token"
// @Success 200 {file} binary
// @Router /materials/download/{id} [get]
func (h *MaterialHandler) Download(c *gin.Context) {
	token := strings.TrimSpace(c.Query("token"))
	if token == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "token is required"))
		return
	}
	material, file, err := h.service.Download(c.Request.Context(), c.Param("id"), token)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer file.Close() //nolint:errcheck

	filename := "material"
	if material.Filename != nil && *material.Filename != "" {
		filename = *material.Filename
	}
	var contentType string
	if material.MimeType != nil {
		contentType = *material.MimeType
	}
	response.Attachment(c, filename, contentType, material.SizeBytes, file)
}
