package service

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lms-api/internal/models"
	appErrors "github.com/noah-isme/lms-api/pkg/errors"
	"github.com/noah-isme/lms-api/pkg/jobs"
)

type membershipFixture struct {
	svc      *MembershipService
	mock     sqlmock.Sqlmock
	programs *fakePrograms
	courses  *fakeCourses
	rollups  *fakeRollups
	metrics  *MetricsService
}

func newMembershipFixture(t *testing.T, opts ...MembershipServiceOption) *membershipFixture {
	t.Helper()
	users := newFakeUsers(
		models.User{ID: "u-kasun", Name: "Kasun", Role: models.RoleStudent},
		models.User{ID: "u-nimali", Name: "Nimali", Role: models.RoleStudent},
		models.User{ID: "u-perera", Name: "Dr. Perera", Email: "perera@uni.lk", Role: models.RoleLecturer},
	)
	courses := newFakeCourses(
		models.Course{ID: "c-gis101", Title: "GIS Fundamentals", Code: "GIS101", DegreeProgramID: strPtr("p-msgis")},
		models.Course{ID: "c-cs101", Title: "Programming I", Code: "CS101", DegreeProgramID: strPtr("p-bscs")},
	)
	programs := newFakePrograms(
		models.DegreeProgram{ID: "p-msgis", Title: "MSc in GIS", Code: "MSGIS-2024"},
		models.DegreeProgram{ID: "p-bscs", Title: "BSc in Computer Science", Code: "BSCS2024"},
	)
	programs.catalog = courses
	programs.users = users
	programs.courses["p-msgis"] = []string{"c-gis101"}
	programs.courses["p-bscs"] = []string{"c-cs101"}
	programs.lecturers["p-msgis"] = []string{"u-perera"}

	rollups := newFakeRollups()
	metrics := NewMetricsService()
	tx, mock := newTxProviderMock(t)
	opts = append([]MembershipServiceOption{WithMembershipMetrics(metrics)}, opts...)
	svc := NewMembershipService(rollups, programs, courses, users, NewMembershipProjector(rollups, nil), tx, nil, opts...)
	return &membershipFixture{svc: svc, mock: mock, programs: programs, courses: courses, rollups: rollups, metrics: metrics}
}

func (f *membershipFixture) seedKasun() {
	day := func(d int) time.Time { return time.Date(2024, 3, d, 9, 0, 0, 0, time.UTC) }
	f.rollups.roles["u-kasun"] = models.RoleStudent
	f.rollups.degrees["u-kasun"] = []models.DegreeEntry{
		{UserID: "u-kasun", DegreeID: "p-gone", DegreeTitle: "Deleted", DegreeCode: "OLD", Status: models.MembershipStatusActive, AcceptedAt: day(1)},
		{UserID: "u-kasun", DegreeID: "p-msgis", DegreeTitle: "stale title", DegreeCode: "MSGIS", Status: models.MembershipStatusActive, AcceptedAt: day(2)},
		{UserID: "u-kasun", DegreeID: "p-bscs", DegreeTitle: "BSc in Computer Science", DegreeCode: "BSCS2024", Status: models.MembershipStatusInactive, AcceptedAt: day(2)},
	}
	f.rollups.courses["u-kasun"] = []models.CourseEntry{
		{UserID: "u-kasun", CourseID: "c-cs101", CourseTitle: "Programming I", CourseCode: "CS101", Status: models.MembershipStatusActive, EnrolledAt: day(3)},
		{UserID: "u-kasun", CourseID: "c-gis101", CourseTitle: "old", CourseCode: "GIS101", Status: models.MembershipStatusActive, EnrolledAt: day(3)},
		{UserID: "u-kasun", CourseID: "c-gone", CourseTitle: "Gone", CourseCode: "X", Status: models.MembershipStatusActive, EnrolledAt: day(4)},
	}
}

func TestSyncStudentDropsMissingAndRefreshes(t *testing.T) {
	f := newMembershipFixture(t)
	f.seedKasun()

	f.mock.ExpectBegin()
	f.mock.ExpectCommit()
	result, err := f.svc.SyncStudent(context.Background(), "u-kasun")
	require.NoError(t, err)
	assert.Equal(t, &models.SyncResult{UserID: "u-kasun", DegreesKept: 2, DegreesDropped: 1, CoursesKept: 1, CoursesDropped: 2}, result)

	degrees := f.rollups.degrees["u-kasun"]
	require.Len(t, degrees, 2)
	assert.Equal(t, "p-bscs", degrees[0].DegreeID)
	assert.Equal(t, "p-msgis", degrees[1].DegreeID)
	assert.Equal(t, "MSc in GIS", degrees[1].DegreeTitle)
	assert.Equal(t, "MSGIS-2024", degrees[1].DegreeCode)

	courses := f.rollups.courses["u-kasun"]
	require.Len(t, courses, 1)
	assert.Equal(t, "c-gis101", courses[0].CourseID)
	assert.Equal(t, "GIS Fundamentals", courses[0].CourseTitle)
	assert.Equal(t, uint64(1), f.metrics.Snapshot().RollupSyncs)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestSyncStudentTwiceIsIdentical(t *testing.T) {
	f := newMembershipFixture(t)
	f.seedKasun()
	ctx := context.Background()

	f.mock.ExpectBegin()
	f.mock.ExpectCommit()
	_, err := f.svc.SyncStudent(ctx, "u-kasun")
	require.NoError(t, err)
	firstDegrees := append([]models.DegreeEntry(nil), f.rollups.degrees["u-kasun"]...)
	firstCourses := append([]models.CourseEntry(nil), f.rollups.courses["u-kasun"]...)

	f.mock.ExpectBegin()
	f.mock.ExpectCommit()
	second, err := f.svc.SyncStudent(ctx, "u-kasun")
	require.NoError(t, err)
	assert.Equal(t, firstDegrees, f.rollups.degrees["u-kasun"])
	assert.Equal(t, firstCourses, f.rollups.courses["u-kasun"])
	assert.Zero(t, second.DegreesDropped)
	assert.Zero(t, second.CoursesDropped)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestSyncStudentWithoutRollupIsNoop(t *testing.T) {
	f := newMembershipFixture(t)

	f.mock.ExpectBegin()
	f.mock.ExpectRollback()
	result, err := f.svc.SyncStudent(context.Background(), "u-nimali")
	require.NoError(t, err)
	assert.Equal(t, &models.SyncResult{UserID: "u-nimali"}, result)
	assert.NotContains(t, f.rollups.degrees, "u-nimali")
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestMigrateAllSummarizesStudents(t *testing.T) {
	f := newMembershipFixture(t)
	f.seedKasun()

	f.mock.ExpectBegin()
	f.mock.ExpectCommit()
	f.mock.ExpectBegin()
	f.mock.ExpectRollback()
	summary, err := f.svc.MigrateAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Users)
	assert.Zero(t, summary.Failed)
	assert.Equal(t, 2, summary.DegreesKept)
	assert.Equal(t, 1, summary.DegreesDropped)
	assert.Equal(t, 2, summary.CoursesDropped)
	assert.False(t, summary.FinishedAt.Before(summary.StartedAt))
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestMigrateAllAsyncRunsOnQueue(t *testing.T) {
	var f *membershipFixture
	queue := jobs.NewQueue("rollup-sync", func(ctx context.Context, job jobs.Job) error {
		return f.svc.HandleJob(ctx, job)
	}, jobs.QueueConfig{Workers: 1, MaxRetries: 0})
	f = newMembershipFixture(t, WithMembershipQueue(queue))
	f.seedKasun()
	queue.Start(context.Background())
	defer queue.Stop()

	f.mock.ExpectBegin()
	f.mock.ExpectCommit()
	f.mock.ExpectBegin()
	f.mock.ExpectRollback()
	job, err := f.svc.MigrateAllAsync(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, job.ID)

	require.Eventually(t, func() bool {
		current, err := f.svc.SyncJob(job.ID)
		return err == nil && current.State == models.SyncJobSucceeded && current.Summary != nil
	}, 2*time.Second, 10*time.Millisecond)

	current, err := f.svc.SyncJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, current.Summary.Users)

	_, err = f.svc.SyncJob("missing")
	require.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestMigrateAllAsyncRequiresQueue(t *testing.T) {
	f := newMembershipFixture(t)
	_, err := f.svc.MigrateAllAsync(context.Background())
	require.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestAcceptedEnrollmentAppearsInMyPrograms(t *testing.T) {
	rf := newRequestFixture(t)
	ctx := context.Background()
	rf.programs.lecturers["p-msgis"] = []string{"u-perera"}

	created, err := rf.svc.CreateRequest(ctx, studentClaims, enrollIn("p-msgis"))
	require.NoError(t, err)
	rf.mock.ExpectBegin()
	rf.mock.ExpectCommit()
	_, err = rf.svc.ResolveRequest(ctx, adminClaims, created.ID, models.DecisionAccept)
	require.NoError(t, err)

	tx, _ := newTxProviderMock(t)
	svc := NewMembershipService(rf.rollups, rf.programs, rf.courses, rf.users, NewMembershipProjector(rf.rollups, nil), tx, nil)
	programs, err := svc.GetMyEnrolledPrograms(ctx, "u-kasun")
	require.NoError(t, err)
	require.Len(t, programs, 1)

	enrolled := programs[0]
	assert.Equal(t, "p-msgis", enrolled.ID)
	assert.Equal(t, "MSGIS-2024", enrolled.DegreeProgram.Code)
	assert.Equal(t, models.MembershipStatusActive, enrolled.Status)
	assert.Equal(t, fixedNow, enrolled.EnrolledAt)
	require.NotNil(t, enrolled.ProcessedBy)
	assert.Equal(t, "u-admin", *enrolled.ProcessedBy)
	require.Len(t, enrolled.DegreeProgram.Courses, 1)
	assert.Equal(t, "GIS101", enrolled.DegreeProgram.Courses[0].Code)
	require.Len(t, enrolled.DegreeProgram.Lecturers, 1)
	assert.Equal(t, "Dr. Perera", enrolled.DegreeProgram.Lecturers[0].Name)

	none, err := svc.GetMyEnrolledPrograms(ctx, "u-perera")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestGetMyCoursesFiltersInactive(t *testing.T) {
	f := newMembershipFixture(t)
	f.rollups.courses["u-kasun"] = []models.CourseEntry{
		{UserID: "u-kasun", CourseID: "c-gis101", Status: models.MembershipStatusActive},
		{UserID: "u-kasun", CourseID: "c-cs101", Status: models.MembershipStatusInactive},
	}
	courses, err := f.svc.GetMyCourses(context.Background(), "u-kasun")
	require.NoError(t, err)
	require.Len(t, courses, 1)
	assert.Equal(t, "GIS Fundamentals", courses[0].Course.Title)
}
