package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lms-api/internal/models"
)

var enrollmentRowColumns = []string{"id", "student_id", "degree_program_id", "status", "requested_at", "processed_at", "processed_by"}

func TestEnrollmentRepositoryUpsertReactivates(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows(enrollmentRowColumns).
		AddRow("enr-1", "stu-1", "prog-1", models.EnrollmentStatusActive, now.Add(-time.Hour), now, "admin-1")
	mock.ExpectQuery(regexp.QuoteMeta("ON CONFLICT (student_id, degree_program_id) DO UPDATE")).
		WithArgs(sqlmock.AnyArg(), "stu-1", "prog-1", models.EnrollmentStatusActive, sqlmock.AnyArg(), sqlmock.AnyArg(), "admin-1").
		WillReturnRows(rows)

	enrollment, err := repo.Upsert(context.Background(), nil, UpsertEnrollmentParams{
		StudentID:   "stu-1",
		ProgramID:   "prog-1",
		Status:      models.EnrollmentStatusActive,
		ProcessedBy: "admin-1",
		ProcessedAt: now,
	})
	require.NoError(t, err)
	require.Equal(t, "enr-1", enrollment.ID)
	require.Equal(t, models.EnrollmentStatusActive, enrollment.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryRosterFiltersStatus(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	rows := sqlmock.NewRows([]string{"student_id", "name", "email", "registration_no", "status", "requested_at", "processed_at"}).
		AddRow("stu-1", "Amara", "gs2024001@uni.lk", "GS2024001", models.EnrollmentStatusActive, time.Now(), nil)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE e.degree_program_id = $1 AND e.status = $2 ORDER BY u.name, u.id")).
		WithArgs("prog-1", models.EnrollmentStatusActive).
		WillReturnRows(rows)

	roster, err := repo.ListRoster(context.Background(), "prog-1", models.EnrollmentStatusActive)
	require.NoError(t, err)
	require.Len(t, roster, 1)
	require.Equal(t, "GS2024001", roster[0].RegistrationNo)
	require.NoError(t, mock.ExpectationsWereMet())
}
