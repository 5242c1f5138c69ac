package models

import "time"

// MembershipStatus is the state of a rollup entry.
type MembershipStatus string

// The API only writes active entries. Inactive entries arrive with rollups imported from
// the previous system; SyncStudent keeps them and an accepted request reactivates them.
const (
	MembershipStatusActive   MembershipStatus = "active"
	MembershipStatusInactive MembershipStatus = "inactive"
)

// DegreeEntry is a denormalized snapshot of one program membership.
type DegreeEntry struct {
	UserID      string           `db:"user_id" json:"-"`
	DegreeID    string           `db:"degree_id" json:"degreeId"`
	DegreeTitle string           `db:"degree_title" json:"degreeTitle"`
	DegreeCode  string           `db:"degree_code" json:"degreeCode"`
	Status      MembershipStatus `db:"status" json:"status"`
	AcceptedAt  time.Time        `db:"accepted_at" json:"acceptedAt"`
	AcceptedBy  *string          `db:"accepted_by" json:"acceptedBy,omitempty"`
}

// DegreeUser is the per-user rollup of program memberships.
type DegreeUser struct {
	UserID   string        `db:"user_id" json:"userId"`
	UserRole UserRole      `db:"user_role" json:"userRole"`
	Degrees  []DegreeEntry `db:"-" json:"degrees"`
}

// CourseEntry is a denormalized snapshot of one course membership.
type CourseEntry struct {
	UserID      string           `db:"user_id" json:"-"`
	CourseID    string           `db:"course_id" json:"courseId"`
	CourseTitle string           `db:"course_title" json:"courseTitle"`
	CourseCode  string           `db:"course_code" json:"courseCode"`
	Status      MembershipStatus `db:"status" json:"status"`
	EnrolledAt  time.Time        `db:"enrolled_at" json:"enrolledAt"`
	AssignedBy  *string          `db:"assigned_by" json:"assignedBy,omitempty"`
}

// CourseUser is the per-user rollup of course memberships.
type CourseUser struct {
	UserID   string        `db:"user_id" json:"userId"`
	UserRole UserRole      `db:"user_role" json:"userRole"`
	Courses  []CourseEntry `db:"-" json:"courses"`
}

// SyncResult reports what a single rollup rebuild kept and dropped.
type SyncResult struct {
	UserID         string `json:"userId"`
	DegreesKept    int    `json:"degreesKept"`
	DegreesDropped int    `json:"degreesDropped"`
	CoursesKept    int    `json:"coursesKept"`
	CoursesDropped int    `json:"coursesDropped"`
}

// MigrationSummary aggregates the results of a full rebuild.
type MigrationSummary struct {
	Users          int       `json:"users"`
	Failed         int       `json:"failed"`
	DegreesKept    int       `json:"degreesKept"`
	DegreesDropped int       `json:"degreesDropped"`
	CoursesKept    int       `json:"coursesKept"`
	CoursesDropped int       `json:"coursesDropped"`
	StartedAt      time.Time `json:"startedAt"`
	FinishedAt     time.Time `json:"finishedAt"`
}

// EnrolledProgram is one active program membership with the program fully resolved.
type EnrolledProgram struct {
	ID            string              `json:"_id"`
	DegreeProgram DegreeProgramDetail `json:"degreeProgram"`
	Status        MembershipStatus    `json:"status"`
	EnrolledAt    time.Time           `json:"enrolledAt"`
	ProcessedBy   *string             `json:"processedBy,omitempty"`
}

// EnrolledCourse is one active course membership with the course resolved.
type EnrolledCourse struct {
	Course     Course           `json:"course"`
	Status     MembershipStatus `json:"status"`
	EnrolledAt time.Time        `json:"enrolledAt"`
	AssignedBy *string          `json:"assignedBy,omitempty"`
}

// SyncJobState is the lifecycle of an asynchronous rollup rebuild.
type SyncJobState string

const (
	SyncJobQueued    SyncJobState = "queued"
	SyncJobRunning   SyncJobState = "running"
	SyncJobSucceeded SyncJobState = "succeeded"
	SyncJobFailed    SyncJobState = "failed"
)

// SyncJob reports the progress of an asynchronous full rebuild.
type SyncJob struct {
	ID         string            `json:"id"`
	State      SyncJobState      `json:"state"`
	Attempts   int               `json:"attempts"`
	Error      string            `json:"error,omitempty"`
	Summary    *MigrationSummary `json:"summary,omitempty"`
	EnqueuedAt time.Time         `json:"enqueuedAt"`
	UpdatedAt  time.Time         `json:"updatedAt"`
}
