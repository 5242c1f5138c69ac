package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/lms-api/internal/dto"
	"github.com/noah-isme/lms-api/internal/models"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
)

type materialStore interface {
	FindByID(ctx context.Context, tx *sqlx.Tx, id string) (*models.Course, error)
	FindMaterial(ctx context.Context, id string) (*models.Material, error)
	AppendMaterial(ctx context.Context, material *models.Material) error
	DeleteMaterial(ctx context.Context, courseID, materialID string) error
}

type materialFileStore interface {
	SaveStream(key string, r io.Reader) (int64, error)
	Open(key string) (*os.File, error)
	Delete(key string) error
}

type materialSigner interface {
	Generate(materialID, key string) (string, time.Time, error)
	Parse(token string) (string, string, time.Time, error)
}

type materialAccessReader interface {
	HasActiveDegree(ctx context.Context, tx *sqlx.Tx, userID, degreeID string) (bool, error)
	HasActiveCourse(ctx context.Context, tx *sqlx.Tx, userID, courseID string) (bool, error)
}

// MaterialConfig bounds uploads and shapes download URLs.
type MaterialConfig struct {
	MaxFileSizeBytes int64
	AllowedMIMEs     []string
	DownloadPath     string
}

// MaterialService stores course files and links and hands out signed download URLs.
type MaterialService struct {
	courses   materialStore
	programs  lecturerChecker
	access    materialAccessReader
	files     materialFileStore
	signer    materialSigner
	cache     *CacheService
	cfg       MaterialConfig
	allowed   map[string]struct{}
	validator *validator.Validate
	logger    *zap.Logger
}

// NewMaterialService constructs MaterialService.
func NewMaterialService(
	courses materialStore,
	programs lecturerChecker,
	access materialAccessReader,
	files materialFileStore,
	signer materialSigner,
	cache *CacheService,
	cfg MaterialConfig,
	validate *validator.Validate,
	logger *zap.Logger,
) *MaterialService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxFileSizeBytes <= 0 {
		cfg.MaxFileSizeBytes = 20 << 20
	}
	if cfg.DownloadPath == "" {
		cfg.DownloadPath = "/api/v1/materials/download"
	}
	allowed := make(map[string]struct{}, len(cfg.AllowedMIMEs))
	for _, m := range cfg.AllowedMIMEs {
		allowed[strings.ToLower(strings.TrimSpace(m))] = struct{}{}
	}
	return &MaterialService{
		courses:   courses,
		programs:  programs,
		access:    access,
		files:     files,
		signer:    signer,
		cache:     cache,
		cfg:       cfg,
		allowed:   allowed,
		validator: validate,
		logger:    logger,
	}
}

// UploadFile streams the file to storage and appends a file material to the course.
func (s *MaterialService) UploadFile(ctx context.Context, actor *models.JWTClaims, courseID, filename, mimeType string, r io.Reader) (*models.Material, error) {
	course, err := s.loadCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}
	if err := authorizeProgramManager(ctx, s.programs, actor, course.DegreeProgramID); err != nil {
		return nil, err
	}
	mediaType, err := s.checkMIME(mimeType)
	if err != nil {
		return nil, err
	}
	name := sanitizeFilename(path.Base(strings.ReplaceAll(strings.TrimSpace(filename), "\\", "/")))

	key := fmt.Sprintf("courses/%s/%s-%s", course.ID, uuid.NewString(), name)
	written, err := s.files.SaveStream(key, io.LimitReader(r, s.cfg.MaxFileSizeBytes+1))
	if err != nil {
		return nil, appErrors.Internal(err, "failed to store material")
	}
	if written > s.cfg.MaxFileSizeBytes {
		s.deleteObject(key)
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("file exceeds %d bytes", s.cfg.MaxFileSizeBytes))
	}
	if written == 0 {
		s.deleteObject(key)
		return nil, appErrors.Clone(appErrors.ErrValidation, "file is empty")
	}

	material := &models.Material{
		ID:         uuid.NewString(),
		CourseID:   course.ID,
		Kind:       models.MaterialKindFile,
		StorageKey: &key,
		Filename:   &name,
		MimeType:   &mediaType,
		SizeBytes:  written,
		CreatedBy:  actor.UserID,
	}
	material.URL = fmt.Sprintf("/materials/%s/download", material.ID)
	if err := s.courses.AppendMaterial(ctx, material); err != nil {
		s.deleteObject(key)
		return nil, appErrors.Internal(err, "failed to save material")
	}
	s.invalidate(ctx)
	s.logger.Info("material uploaded", zap.String("course_id", course.ID), zap.String("material_id", material.ID), zap.Int64("bytes", written))
	return material, nil
}

// AddLink appends an external link to the course resources.
func (s *MaterialService) AddLink(ctx context.Context, actor *models.JWTClaims, courseID string, payload dto.LinkPayload) (*models.Material, error) {
	payload.URL = strings.TrimSpace(payload.URL)
	payload.Title = strings.TrimSpace(payload.Title)
	if err := s.validator.Struct(payload); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid link payload")
	}
	if u, err := url.Parse(payload.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, appErrors.Clone(appErrors.ErrValidation, "link must use http or https")
	}
	course, err := s.loadCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}
	if err := authorizeProgramManager(ctx, s.programs, actor, course.DegreeProgramID); err != nil {
		return nil, err
	}
	title := payload.Title
	material := &models.Material{
		ID:        uuid.NewString(),
		CourseID:  course.ID,
		Kind:      models.MaterialKindLink,
		URL:       payload.URL,
		Title:     &title,
		CreatedBy: actor.UserID,
	}
	if err := s.courses.AppendMaterial(ctx, material); err != nil {
		return nil, appErrors.Internal(err, "failed to save link")
	}
	s.invalidate(ctx)
	return material, nil
}

// RemoveMaterial deletes the material row and, for files, the stored object.
func (s *MaterialService) RemoveMaterial(ctx context.Context, actor *models.JWTClaims, courseID, materialID string) error {
	course, err := s.loadCourse(ctx, courseID)
	if err != nil {
		return err
	}
	if err := authorizeProgramManager(ctx, s.programs, actor, course.DegreeProgramID); err != nil {
		return err
	}
	material, err := s.loadMaterial(ctx, materialID)
	if err != nil {
		return err
	}
	if material.CourseID != course.ID {
		return appErrors.Clone(appErrors.ErrNotFound, "material not found")
	}
	if err := s.courses.DeleteMaterial(ctx, course.ID, material.ID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "material not found")
		}
		return appErrors.Internal(err, "failed to delete material")
	}
	if material.Kind == models.MaterialKindFile && material.StorageKey != nil {
		s.deleteObject(*material.StorageKey)
	}
	s.invalidate(ctx)
	return nil
}

// DownloadURL signs a short lived download link for a file material the actor may read.
func (s *MaterialService) DownloadURL(ctx context.Context, actor *models.JWTClaims, materialID string) (*models.MaterialLink, error) {
	material, err := s.loadMaterial(ctx, materialID)
	if err != nil {
		return nil, err
	}
	if material.Kind != models.MaterialKindFile || material.StorageKey == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "only file materials can be downloaded")
	}
	course, err := s.loadCourse(ctx, material.CourseID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeReader(ctx, actor, course); err != nil {
		return nil, err
	}
	token, expiresAt, err := s.signer.Generate(material.ID, *material.StorageKey)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to sign download url")
	}
	return &models.MaterialLink{
		MaterialID: material.ID,
		URL:        fmt.Sprintf("%s/%s?token=%s", strings.TrimRight(s.cfg.DownloadPath, "/"), material.ID, url.QueryEscape(token)),
		ExpiresAt:  expiresAt,
	}, nil
}

// Download verifies the token and opens the stored file. The caller closes it.
func (s *MaterialService) Download(ctx context.Context, materialID, token string) (*models.Material, *os.File, error) {
	tokenMaterial, key, _, err := s.signer.Parse(token)
	if err != nil || tokenMaterial != materialID {
		return nil, nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid or expired download token")
	}
	material, err := s.loadMaterial(ctx, materialID)
	if err != nil {
		return nil, nil, err
	}
	if material.StorageKey == nil || *material.StorageKey != key {
		return nil, nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid or expired download token")
	}
	file, err := s.files.Open(key)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "material file missing")
		}
		return nil, nil, appErrors.Internal(err, "failed to open material")
	}
	return material, file, nil
}

func (s *MaterialService) authorizeReader(ctx context.Context, actor *models.JWTClaims, course *models.Course) error {
	if actor == nil {
		return appErrors.ErrUnauthorized
	}
	switch actor.Role {
	case models.RoleAdmin:
		return nil
	case models.RoleLecturer:
		return authorizeProgramManager(ctx, s.programs, actor, course.DegreeProgramID)
	case models.RoleStudent:
		ok, err := s.access.HasActiveCourse(ctx, nil, actor.UserID, course.ID)
		if err != nil {
			return appErrors.Internal(err, "failed to check course membership")
		}
		if !ok && course.DegreeProgramID != nil {
			ok, err = s.access.HasActiveDegree(ctx, nil, actor.UserID, *course.DegreeProgramID)
			if err != nil {
				return appErrors.Internal(err, "failed to check program membership")
			}
		}
		if ok {
			return nil
		}
	}
	return appErrors.Clone(appErrors.ErrForbidden, "not enrolled in this course")
}

func (s *MaterialService) checkMIME(raw string) (string, error) {
	mediaType, _, err := mime.ParseMediaType(raw)
	if err != nil {
		return "", appErrors.Clone(appErrors.ErrValidation, "invalid content type")
	}
	mediaType = strings.ToLower(mediaType)
	if len(s.allowed) > 0 {
		if _, ok := s.allowed[mediaType]; !ok {
			return "", appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("content type %s is not allowed", mediaType))
		}
	}
	return mediaType, nil
}

func (s *MaterialService) loadCourse(ctx context.Context, id string) (*models.Course, error) {
	course, err := s.courses.FindByID(ctx, nil, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Internal(err, "failed to load course")
	}
	return course, nil
}

func (s *MaterialService) loadMaterial(ctx context.Context, id string) (*models.Material, error) {
	material, err := s.courses.FindMaterial(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "material not found")
		}
		return nil, appErrors.Internal(err, "failed to load material")
	}
	return material, nil
}

func (s *MaterialService) deleteObject(key string) {
	if err := s.files.Delete(key); err != nil {
		s.logger.Warn("failed to delete material file", zap.String("key", key), zap.Error(err))
	}
}

func (s *MaterialService) invalidate(ctx context.Context) {
	s.cache.InvalidateCatalog(ctx)
}
