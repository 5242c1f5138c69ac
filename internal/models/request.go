package models

import "time"

// RequestType enumerates the cross-role requests handled by the approval workflow.
type RequestType string

const (
	RequestTypeEnrollment       RequestType = "enrollment_request"
	RequestTypeTeach            RequestType = "teach_request"
	RequestTypeCourseEnrollment RequestType = "course_enrollment_request"
	// RequestTypeCourseResponse is only read from rows created before course requests
	// became single-row; nothing writes it.
	RequestTypeCourseResponse RequestType = "course_enrollment_response"
)

// RequestStatus captures the request lifecycle. Accepted and rejected are terminal.
type RequestStatus string

const (
	RequestStatusPending  RequestStatus = "pending"
	RequestStatusAccepted RequestStatus = "accepted"
	RequestStatusRejected RequestStatus = "rejected"
)

// Decision is an approver's verdict on a pending request.
type Decision string

const (
	DecisionAccept Decision = "accept"
	DecisionReject Decision = "reject"
)

// Request is a row of the notifications ledger.
type Request struct {
	ID              string        `db:"id" json:"_id"`
	Type            RequestType   `db:"type" json:"type"`
	RequesterID     string        `db:"requester_id" json:"sender"`
	RequesterRole   UserRole      `db:"requester_role" json:"senderRole"`
	DegreeProgramID *string       `db:"degree_program_id" json:"degreeProgram,omitempty"`
	CourseID        *string       `db:"course_id" json:"course,omitempty"`
	Status          RequestStatus `db:"status" json:"status"`
	Message         string        `db:"message" json:"message"`
	CreatedAt       time.Time     `db:"created_at" json:"createdAt"`
	RespondedAt     *time.Time    `db:"responded_at" json:"respondedAt,omitempty"`
	RespondedBy     *string       `db:"responded_by" json:"respondedBy,omitempty"`
}

// RequestDetail joins the requester and target titles for list views.
type RequestDetail struct {
	Request
	RequesterName  string  `db:"requester_name" json:"senderName"`
	RequesterEmail string  `db:"requester_email" json:"senderEmail"`
	ProgramTitle   *string `db:"program_title" json:"degreeProgramTitle,omitempty"`
	ProgramCode    *string `db:"program_code" json:"degreeProgramCode,omitempty"`
	CourseTitle    *string `db:"course_title" json:"courseTitle,omitempty"`
	CourseCode     *string `db:"course_code" json:"courseCode,omitempty"`
}

// RequestFilter is one AND-ed group of listing conditions. Empty fields match everything.
type RequestFilter struct {
	Types       []RequestType
	RequesterID string
	ProgramIDs  []string
	Status      RequestStatus
}

// RequestQuery ORs its filters together; no filters lists every row.
type RequestQuery struct {
	Any    []RequestFilter
	Limit  int
	Offset int
}

// ResolveRequestParams groups the columns written when a request leaves pending.
type ResolveRequestParams struct {
	ID          string
	Status      RequestStatus
	Message     string
	RespondedBy string
	RespondedAt time.Time
}
