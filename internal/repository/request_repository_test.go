package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lms-api/internal/models"
)

var requestRowColumns = []string{"id", "type", "requester_id", "requester_role", "degree_program_id", "course_id", "status", "message", "created_at", "responded_at", "responded_by"}

func TestRequestRepositoryCreateDuplicatePending(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewRequestRepository(db)

	mock.ExpectExec("INSERT INTO notifications").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "uq_notifications_pending_program"})

	program := "prog-1"
	err := repo.Create(context.Background(), &models.Request{
		Type:            models.RequestTypeEnrollment,
		RequesterID:     "stu-1",
		RequesterRole:   models.RoleStudent,
		DegreeProgramID: &program,
	})
	assert.True(t, errors.Is(err, ErrDuplicateKey))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRepositoryExistsPendingForCourse(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewRequestRepository(db)

	course := "course-1"
	mock.ExpectQuery(regexp.QuoteMeta("AND status = $3 AND course_id = $4)")).
		WithArgs(models.RequestTypeCourseEnrollment, "stu-1", models.RequestStatusPending, course).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	exists, err := repo.ExistsPending(context.Background(), models.RequestTypeCourseEnrollment, "stu-1", nil, &course)
	require.NoError(t, err)
	assert.True(t, exists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRepositoryLockAndResolve(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewRequestRepository(db)

	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM notifications WHERE id = $1 FOR UPDATE")).
		WithArgs("req-1").
		WillReturnRows(sqlmock.NewRows(requestRowColumns).
			AddRow("req-1", models.RequestTypeEnrollment, "stu-1", models.RoleStudent, "prog-1", nil, models.RequestStatusPending, "", now, nil, nil))
	mock.ExpectExec(regexp.QuoteMeta("WHERE id = $5 AND status = 'pending'")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	tx, err := db.Beginx()
	require.NoError(t, err)
	request, err := repo.LockByID(context.Background(), tx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusPending, request.Status)

	err = repo.Resolve(context.Background(), tx, models.ResolveRequestParams{
		ID:          "req-1",
		Status:      models.RequestStatusAccepted,
		RespondedBy: "admin-1",
		RespondedAt: now,
	})
	assert.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, tx.Rollback())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRepositoryListOrsFilterGroups(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewRequestRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE (n.type = ANY($1) AND n.requester_id = $2) OR (n.type = ANY($3) AND n.degree_program_id = ANY($4)) ORDER BY n.created_at DESC, n.id LIMIT 100 OFFSET 0")).
		WillReturnRows(sqlmock.NewRows(append(requestRowColumns, "requester_name", "requester_email", "program_title", "program_code", "course_title", "course_code")))

	_, err := repo.List(context.Background(), models.RequestQuery{Any: []models.RequestFilter{
		{Types: []models.RequestType{models.RequestTypeTeach}, RequesterID: "lec-1"},
		{Types: []models.RequestType{models.RequestTypeCourseEnrollment}, ProgramIDs: []string{"prog-1"}},
	}})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
