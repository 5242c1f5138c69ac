package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/lms-api/internal/models"
	"github.com/noah-isme/lms-api/pkg/database"
)

const requestColumns = `id, type, requester_id, requester_role, degree_program_id, course_id, status, message, created_at, responded_at, responded_by`

// RequestRepository persists the notifications ledger.
type RequestRepository struct {
	db *sqlx.DB
}

// NewRequestRepository constructs the repository.
func NewRequestRepository(db *sqlx.DB) *RequestRepository {
	return &RequestRepository{db: db}
}

// Create inserts a pending request. A concurrent duplicate pending row yields ErrDuplicateKey.
func (r *RequestRepository) Create(ctx context.Context, request *models.Request) error {
	if request.ID == "" {
		request.ID = uuid.NewString()
	}
	if request.Status == "" {
		request.Status = models.RequestStatusPending
	}
	if request.CreatedAt.IsZero() {
		request.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO notifications
	(id, type, requester_id, requester_role, degree_program_id, course_id, status, message, created_at, responded_at, responded_by)
	VALUES (:id, :type, :requester_id, :requester_role, :degree_program_id, :course_id, :status, :message, :created_at, :responded_at, :responded_by)`
	if _, err := r.db.NamedExecContext(ctx, query, request); err != nil {
		return wrapWriteError("create request", err)
	}
	return nil
}

// ExistsPending reports whether a pending request of the type exists for the requester and target.
// courseID takes precedence over programID when both are set.
func (r *RequestRepository) ExistsPending(ctx context.Context, requestType models.RequestType, requesterID string, programID, courseID *string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM notifications WHERE type = $1 AND requester_id = $2 AND status = $3 AND `
	args := []interface{}{requestType, requesterID, models.RequestStatusPending}
	switch {
	case courseID != nil:
		query += `course_id = $4)`
		args = append(args, *courseID)
	case programID != nil:
		query += `degree_program_id = $4 AND course_id IS NULL)`
		args = append(args, *programID)
	default:
		return false, fmt.Errorf("check pending request: target required")
	}
	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, args...); err != nil {
		return false, fmt.Errorf("check pending request: %w", err)
	}
	return exists, nil
}

// GetByID fetches a request by identifier.
func (r *RequestRepository) GetByID(ctx context.Context, id string) (*models.Request, error) {
	query := `SELECT ` + requestColumns + ` FROM notifications WHERE id = $1`
	var request models.Request
	if err := r.db.GetContext(ctx, &request, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get request: %w", err)
	}
	return &request, nil
}

// LockByID reads the request with a row lock held until tx ends.
func (r *RequestRepository) LockByID(ctx context.Context, tx *sqlx.Tx, id string) (*models.Request, error) {
	query := `SELECT ` + requestColumns + ` FROM notifications WHERE id = $1 FOR UPDATE`
	var request models.Request
	if err := tx.GetContext(ctx, &request, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("lock request: %w", err)
	}
	return &request, nil
}

// Resolve moves a pending request to a terminal status. sql.ErrNoRows means the row was
// not pending anymore.
func (r *RequestRepository) Resolve(ctx context.Context, tx *sqlx.Tx, params models.ResolveRequestParams) error {
	query := fmt.Sprintf(`UPDATE notifications SET status = :status, message = :message, responded_by = :responded_by,
	responded_at = :responded_at WHERE id = :id AND status = '%s'`, models.RequestStatusPending)
	result, err := sqlx.NamedExecContext(ctx, database.Runner(r.db, tx), query, map[string]interface{}{
		"id":           params.ID,
		"status":       params.Status,
		"message":      params.Message,
		"responded_by": params.RespondedBy,
		"responded_at": params.RespondedAt,
	})
	if err != nil {
		return fmt.Errorf("resolve request: %w", err)
	}
	return expectAffected(result, "resolve request")
}

// List returns requests matching any of the query filters, newest first, with requester
// and target titles joined in.
func (r *RequestRepository) List(ctx context.Context, q models.RequestQuery) ([]models.RequestDetail, error) {
	builder := strings.Builder{}
	args := make([]interface{}, 0, 8)
	builder.WriteString(`SELECT n.id, n.type, n.requester_id, n.requester_role, n.degree_program_id, n.course_id, n.status,
       n.message, n.created_at, n.responded_at, n.responded_by,
       u.name AS requester_name, u.email AS requester_email,
       p.title AS program_title, p.code AS program_code,
       c.title AS course_title, c.code AS course_code
	FROM notifications n
	JOIN users u ON u.id = n.requester_id
	LEFT JOIN degree_programs p ON p.id = n.degree_program_id
	LEFT JOIN courses c ON c.id = n.course_id`)

	groups := make([]string, 0, len(q.Any))
	for _, filter := range q.Any {
		conditions := make([]string, 0, 4)
		if len(filter.Types) > 0 {
			types := make([]string, len(filter.Types))
			for i, t := range filter.Types {
				types[i] = string(t)
			}
			args = append(args, pq.Array(types))
			conditions = append(conditions, fmt.Sprintf("n.type = ANY($%d)", len(args)))
		}
		if filter.RequesterID != "" {
			args = append(args, filter.RequesterID)
			conditions = append(conditions, fmt.Sprintf("n.requester_id = $%d", len(args)))
		}
		if len(filter.ProgramIDs) > 0 {
			args = append(args, pq.Array(filter.ProgramIDs))
			conditions = append(conditions, fmt.Sprintf("n.degree_program_id = ANY($%d)", len(args)))
		}
		if filter.Status != "" {
			args = append(args, filter.Status)
			conditions = append(conditions, fmt.Sprintf("n.status = $%d", len(args)))
		}
		if len(conditions) == 0 {
			groups, args = nil, args[:0]
			break
		}
		groups = append(groups, "("+strings.Join(conditions, " AND ")+")")
	}
	if len(groups) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(groups, " OR "))
	}
	builder.WriteString(" ORDER BY n.created_at DESC, n.id")

	limit := q.Limit
	if limit <= 0 || limit > 200 {
		limit = 100
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}
	builder.WriteString(fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset))

	requests := []models.RequestDetail{}
	if err := r.db.SelectContext(ctx, &requests, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	return requests, nil
}

// Delete hard deletes a request.
func (r *RequestRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM notifications WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete request: %w", err)
	}
	return expectAffected(result, "delete request")
}

// DeletePendingByProgram removes pending requests that target the program or one of its courses.
func (r *RequestRepository) DeletePendingByProgram(ctx context.Context, tx *sqlx.Tx, programID string) (int64, error) {
	return r.deletePending(ctx, tx, "degree_program_id", programID)
}

// DeletePendingByCourse removes pending requests that target the course.
func (r *RequestRepository) DeletePendingByCourse(ctx context.Context, tx *sqlx.Tx, courseID string) (int64, error) {
	return r.deletePending(ctx, tx, "course_id", courseID)
}

func (r *RequestRepository) deletePending(ctx context.Context, tx *sqlx.Tx, column, id string) (int64, error) {
	query := fmt.Sprintf(`DELETE FROM notifications WHERE %s = $1 AND status = $2`, column)
	result, err := database.Runner(r.db, tx).ExecContext(ctx, query, id, models.RequestStatusPending)
	if err != nil {
		return 0, fmt.Errorf("delete pending requests: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("check pending request rows: %w", err)
	}
	return rows, nil
}
