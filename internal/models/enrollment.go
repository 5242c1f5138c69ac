package models

import "time"

// EnrollmentStatus represents the lifecycle of an enrollment.
type EnrollmentStatus string

// Possible enrollment statuses.
const (
	EnrollmentStatusPending   EnrollmentStatus = "pending"
	EnrollmentStatusActive    EnrollmentStatus = "active"
	EnrollmentStatusApproved  EnrollmentStatus = "approved"
	EnrollmentStatusRejected  EnrollmentStatus = "rejected"
	EnrollmentStatusInactive  EnrollmentStatus = "inactive"
	EnrollmentStatusCompleted EnrollmentStatus = "completed"
)

// Enrollment records that a student belongs to a degree program. At most one row exists
// per (student, program) pair.
type Enrollment struct {
	ID              string           `db:"id" json:"_id"`
	StudentID       string           `db:"student_id" json:"student"`
	DegreeProgramID string           `db:"degree_program_id" json:"degreeProgram"`
	Status          EnrollmentStatus `db:"status" json:"status"`
	RequestedAt     time.Time        `db:"requested_at" json:"requestedAt"`
	ProcessedAt     *time.Time       `db:"processed_at" json:"processedAt,omitempty"`
	ProcessedBy     *string          `db:"processed_by" json:"processedBy,omitempty"`
}

// RosterEntry is a row of a program roster listing.
type RosterEntry struct {
	StudentID      string           `db:"student_id" json:"studentId"`
	Name           string           `db:"name" json:"name"`
	Email          string           `db:"email" json:"email"`
	RegistrationNo string           `db:"registration_no" json:"registrationNo"`
	Status         EnrollmentStatus `db:"status" json:"status"`
	RequestedAt    time.Time        `db:"requested_at" json:"requestedAt"`
	ProcessedAt    *time.Time       `db:"processed_at" json:"processedAt,omitempty"`
}
