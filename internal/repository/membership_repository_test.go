package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lms-api/internal/models"
)

func TestMembershipAddDegreeEntryReactivatesOnConflict(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewMembershipRepository(db)

	entry := models.DegreeEntry{
		UserID:      "stu-1",
		DegreeID:    "prog-1",
		DegreeTitle: "MSc in GIS",
		DegreeCode:  "MSGIS-2024",
		Status:      models.MembershipStatusActive,
		AcceptedAt:  time.Now(),
	}
	upsert := regexp.QuoteMeta("ON CONFLICT (user_id, degree_id) DO UPDATE") + `(?s).*` + regexp.QuoteMeta("WHERE degree_user_entries.status <> EXCLUDED.status")
	mock.ExpectExec(upsert).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(upsert).WillReturnResult(sqlmock.NewResult(0, 0))

	added, err := repo.AddDegreeEntry(context.Background(), nil, entry)
	require.NoError(t, err)
	assert.True(t, added)
	added, err = repo.AddDegreeEntry(context.Background(), nil, entry)
	require.NoError(t, err)
	assert.False(t, added)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMembershipAddCourseEntryReactivatesOnConflict(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewMembershipRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (user_id, course_id) DO UPDATE") + `(?s).*` + regexp.QuoteMeta("WHERE course_user_entries.status <> EXCLUDED.status")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	added, err := repo.AddCourseEntry(context.Background(), nil, models.CourseEntry{
		UserID:      "stu-1",
		CourseID:    "course-1",
		CourseTitle: "Remote Sensing",
		CourseCode:  "GIS102",
		Status:      models.MembershipStatusActive,
		EnrolledAt:  time.Now(),
	})
	require.NoError(t, err)
	assert.True(t, added)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMembershipGetDegreeUserOrdersEntries(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewMembershipRepository(db)

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT user_id, user_role FROM degree_users WHERE user_id = $1")).
		WithArgs("stu-1").
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "user_role"}).AddRow("stu-1", models.RoleStudent))
	mock.ExpectQuery(regexp.QuoteMeta("FROM degree_user_entries WHERE user_id = $1 ORDER BY accepted_at, degree_id")).
		WithArgs("stu-1").
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "degree_id", "degree_title", "degree_code", "status", "accepted_at", "accepted_by"}).
			AddRow("stu-1", "prog-1", "MSc in GIS", "MSGIS-2024", "active", now, "admin-1"))

	user, err := repo.GetDegreeUser(context.Background(), nil, "stu-1")
	require.NoError(t, err)
	require.Len(t, user.Degrees, 1)
	assert.Equal(t, "MSGIS-2024", user.Degrees[0].DegreeCode)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMembershipReplaceCourseEntries(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewMembershipRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM course_user_entries WHERE user_id = $1")).
		WithArgs("stu-1").
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO course_user_entries")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE course_users SET updated_at = $2 WHERE user_id = $1")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	tx, err := db.Beginx()
	require.NoError(t, err)
	err = repo.ReplaceCourseEntries(context.Background(), tx, "stu-1", []models.CourseEntry{{
		CourseID:    "course-1",
		CourseTitle: "Remote Sensing",
		CourseCode:  "GIS501",
		Status:      models.MembershipStatusActive,
		EnrolledAt:  time.Now(),
	}})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	require.NoError(t, mock.ExpectationsWereMet())
}
