package service

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lms-api/internal/dto"
	"github.com/noah-isme/lms-api/internal/models"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
)

type memoryCache struct {
	values map[string][]byte
}

func newMemoryCache() *memoryCache {
	return &memoryCache{values: make(map[string][]byte)}
}

func (m *memoryCache) Get(ctx context.Context, key string, dest interface{}) error {
	raw, ok := m.values[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (m *memoryCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.values[key] = raw
	return nil
}

func (m *memoryCache) DeleteByPattern(ctx context.Context, pattern string) error {
	prefix := strings.TrimSuffix(pattern, "*")
	for key := range m.values {
		if strings.HasPrefix(key, prefix) {
			delete(m.values, key)
		}
	}
	return nil
}

type catalogFixture struct {
	svc         *CatalogService
	mock        sqlmock.Sqlmock
	programs    *fakePrograms
	courses     *fakeCourses
	enrollments *fakeEnrollments
	rollups     *fakeRollups
	requests    *fakeRequests
	files       *fakeFiles
	cache       *memoryCache
	audit       *fakeAudit
}

func newCatalogFixture(t *testing.T) *catalogFixture {
	t.Helper()
	users := newFakeUsers(
		models.User{ID: "u-admin", Name: "Registrar", Role: models.RoleAdmin},
		models.User{ID: "u-kasun", Name: "Kasun", Role: models.RoleStudent},
		models.User{ID: "u-perera", Name: "Dr. Perera", Email: "perera@uni.lk", Role: models.RoleLecturer},
	)
	courses := newFakeCourses(models.Course{ID: "c-gis101", Title: "GIS Fundamentals", Code: "GIS101", DegreeProgramID: strPtr("p-msgis")})
	programs := newFakePrograms(models.DegreeProgram{ID: "p-msgis", Title: "MSc in GIS", Code: "MSGIS-2024"})
	programs.catalog = courses
	programs.users = users
	programs.courses["p-msgis"] = []string{"c-gis101"}

	enrollments := newFakeEnrollments()
	rollups := newFakeRollups()
	requests := newFakeRequests()
	files := newFakeFiles()
	memCache := newMemoryCache()
	audit := &fakeAudit{}
	tx, mock := newTxProviderMock(t)

	svc := NewCatalogService(programs, courses, enrollments, requests, NewMembershipProjector(rollups, nil), users, tx, nil, nil,
		WithCatalogCache(NewCacheService(memCache, nil, time.Minute, nil, true)),
		WithCatalogFiles(files),
		WithCatalogAudit(audit),
	)
	return &catalogFixture{
		svc:         svc,
		mock:        mock,
		programs:    programs,
		courses:     courses,
		enrollments: enrollments,
		rollups:     rollups,
		requests:    requests,
		files:       files,
		cache:       memCache,
		audit:       audit,
	}
}

func TestCreateProgramRejectsDuplicateCode(t *testing.T) {
	f := newCatalogFixture(t)

	_, err := f.svc.CreateProgram(context.Background(), adminClaims, dto.ProgramPayload{Title: "Another GIS", Code: "MSGIS-2024"})
	require.ErrorIs(t, err, appErrors.ErrConflict)

	program, err := f.svc.CreateProgram(context.Background(), adminClaims, dto.ProgramPayload{Title: " BSc in CS ", Code: "BSCS2024"})
	require.NoError(t, err)
	assert.Equal(t, "BSc in CS", program.Title)
	require.NotNil(t, program.CreatedBy)
	assert.Equal(t, "u-admin", *program.CreatedBy)

	_, err = f.svc.CreateProgram(context.Background(), adminClaims, dto.ProgramPayload{Code: "X"})
	require.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestGetProgramServesFromCacheUntilMutation(t *testing.T) {
	f := newCatalogFixture(t)
	ctx := context.Background()
	f.programs.lecturers["p-msgis"] = []string{"u-perera"}

	detail, hit, err := f.svc.GetProgram(ctx, "p-msgis")
	require.NoError(t, err)
	assert.False(t, hit)
	require.Len(t, detail.Lecturers, 1)
	assert.Equal(t, "Dr. Perera", detail.Lecturers[0].Name)
	require.Len(t, detail.Courses, 1)
	assert.Equal(t, "GIS101", detail.Courses[0].Code)

	_, hit, err = f.svc.GetProgram(ctx, "p-msgis")
	require.NoError(t, err)
	assert.True(t, hit)

	_, err = f.svc.UpdateProgram(ctx, "p-msgis", dto.ProgramPayload{Title: "MSc in Geo-Informatics", Code: "MSGIS-2024"})
	require.NoError(t, err)
	assert.Empty(t, f.cache.values)

	detail, hit, err = f.svc.GetProgram(ctx, "p-msgis")
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, "MSc in Geo-Informatics", detail.Title)

	_, _, err = f.svc.GetProgram(ctx, "p-missing")
	require.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestDeleteProgramCascadesInOneTransaction(t *testing.T) {
	f := newCatalogFixture(t)
	ctx := context.Background()
	f.enrollments.rows["u-kasun/p-msgis"] = &models.Enrollment{StudentID: "u-kasun", DegreeProgramID: "p-msgis", Status: models.EnrollmentStatusActive}
	f.rollups.degrees["u-kasun"] = []models.DegreeEntry{{UserID: "u-kasun", DegreeID: "p-msgis", Status: models.MembershipStatusActive}}
	f.rollups.degrees["u-perera"] = []models.DegreeEntry{{UserID: "u-perera", DegreeID: "p-msgis", Status: models.MembershipStatusActive}}
	require.NoError(t, f.requests.Create(ctx, &models.Request{ID: "req-pending", Type: models.RequestTypeEnrollment, RequesterID: "u-other", DegreeProgramID: strPtr("p-msgis"), Status: models.RequestStatusPending}))
	require.NoError(t, f.requests.Create(ctx, &models.Request{ID: "req-done", Type: models.RequestTypeEnrollment, RequesterID: "u-kasun", DegreeProgramID: strPtr("p-msgis"), Status: models.RequestStatusAccepted}))

	f.mock.ExpectBegin()
	f.mock.ExpectCommit()
	require.NoError(t, f.svc.DeleteProgram(ctx, adminClaims, "p-msgis"))

	assert.Empty(t, f.enrollments.rows)
	assert.Empty(t, f.rollups.degrees["u-kasun"])
	assert.Empty(t, f.rollups.degrees["u-perera"])
	assert.NotContains(t, f.requests.requests, "req-pending")
	assert.Contains(t, f.requests.requests, "req-done")
	require.Contains(t, f.courses.courses, "c-gis101")
	assert.Nil(t, f.courses.courses["c-gis101"].DegreeProgramID)
	require.Len(t, f.audit.logs, 1)
	assert.Equal(t, models.AuditActionProgramDelete, f.audit.logs[0].Action)

	f.mock.ExpectBegin()
	f.mock.ExpectRollback()
	err := f.svc.DeleteProgram(ctx, adminClaims, "p-msgis")
	require.ErrorIs(t, err, appErrors.ErrNotFound)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestAddAndRemoveLecturerMaintainsRollup(t *testing.T) {
	f := newCatalogFixture(t)
	ctx := context.Background()

	err := f.svc.AddLecturer(ctx, adminClaims, "p-msgis", dto.LecturerPayload{UserID: "u-kasun"})
	require.ErrorIs(t, err, appErrors.ErrValidation)

	f.mock.ExpectBegin()
	f.mock.ExpectCommit()
	require.NoError(t, f.svc.AddLecturer(ctx, adminClaims, "p-msgis", dto.LecturerPayload{UserID: "u-perera"}))
	assert.Equal(t, []string{"u-perera"}, f.programs.lecturers["p-msgis"])
	require.Len(t, f.rollups.degrees["u-perera"], 1)
	assert.Equal(t, models.RoleLecturer, f.rollups.roles["u-perera"])

	f.mock.ExpectBegin()
	f.mock.ExpectCommit()
	require.NoError(t, f.svc.RemoveLecturer(ctx, "p-msgis", "u-perera"))
	assert.Empty(t, f.programs.lecturers["p-msgis"])
	assert.Empty(t, f.rollups.degrees["u-perera"])

	f.mock.ExpectBegin()
	f.mock.ExpectRollback()
	err = f.svc.RemoveLecturer(ctx, "p-msgis", "u-perera")
	require.ErrorIs(t, err, appErrors.ErrNotFound)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestCreateCourseRequiresProgramLecturer(t *testing.T) {
	f := newCatalogFixture(t)
	ctx := context.Background()
	payload := dto.CoursePayload{DegreeProgramID: "p-msgis", Title: "Remote Sensing", Code: "GIS201", Credit: 3}

	_, err := f.svc.CreateCourse(ctx, lecturerClaims, payload)
	require.ErrorIs(t, err, appErrors.ErrForbidden)

	_, err = f.svc.CreateCourse(ctx, studentClaims, payload)
	require.ErrorIs(t, err, appErrors.ErrForbidden)

	f.programs.lecturers["p-msgis"] = []string{"u-perera"}
	f.mock.ExpectBegin()
	f.mock.ExpectCommit()
	course, err := f.svc.CreateCourse(ctx, lecturerClaims, payload)
	require.NoError(t, err)
	assert.Equal(t, []string{"c-gis101", course.ID}, f.programs.courses["p-msgis"])
	require.NotNil(t, course.DegreeProgramID)
	assert.Equal(t, "p-msgis", *course.DegreeProgramID)

	courses, hit, err := f.svc.ListCourses(ctx, "p-msgis")
	require.NoError(t, err)
	assert.False(t, hit)
	require.Len(t, courses, 2)
	assert.Equal(t, "GIS201", courses[1].Code)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestDeleteCourseRemovesRollupsAndFiles(t *testing.T) {
	f := newCatalogFixture(t)
	ctx := context.Background()
	f.courses.materials["c-gis101"] = []models.Material{
		{ID: "m-1", CourseID: "c-gis101", Kind: models.MaterialKindFile, StorageKey: strPtr("courses/c-gis101/week1.pdf")},
		{ID: "m-2", CourseID: "c-gis101", Kind: models.MaterialKindLink, URL: "https://example.org"},
	}
	f.rollups.courses["u-kasun"] = []models.CourseEntry{{UserID: "u-kasun", CourseID: "c-gis101", Status: models.MembershipStatusActive}}
	require.NoError(t, f.requests.Create(ctx, &models.Request{ID: "req-course", Type: models.RequestTypeCourseEnrollment, RequesterID: "u-kasun", CourseID: strPtr("c-gis101"), Status: models.RequestStatusPending}))

	f.mock.ExpectBegin()
	f.mock.ExpectCommit()
	require.NoError(t, f.svc.DeleteCourse(ctx, adminClaims, "c-gis101"))

	assert.NotContains(t, f.courses.courses, "c-gis101")
	assert.Empty(t, f.rollups.courses["u-kasun"])
	assert.Empty(t, f.requests.requests)
	assert.Equal(t, []string{"courses/c-gis101/week1.pdf"}, f.files.deleted)

	_, _, err := f.svc.GetCourse(ctx, "c-gis101")
	require.ErrorIs(t, err, appErrors.ErrNotFound)
	require.NoError(t, f.mock.ExpectationsWereMet())
}
