package models

import "time"

// Course keeps an ordered list of materials. DegreeProgramID is the program it was created
// under and becomes nil once that program is deleted.
type Course struct {
	ID              string    `db:"id" json:"_id"`
	Title           string    `db:"title" json:"title"`
	Code            string    `db:"code" json:"code"`
	Credit          int       `db:"credit" json:"credit"`
	Description     string    `db:"description" json:"description"`
	DegreeProgramID *string   `db:"degree_program_id" json:"degreeProgram,omitempty"`
	CreatedBy       *string   `db:"created_by" json:"createdBy,omitempty"`
	CreatedAt       time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt       time.Time `db:"updated_at" json:"updatedAt"`
}

// CourseDetail carries the course with its resources in display order.
type CourseDetail struct {
	Course
	Resources []Material `json:"resources"`
}

// MaterialKind tags the Material variant.
type MaterialKind string

const (
	MaterialKindFile MaterialKind = "file"
	MaterialKindLink MaterialKind = "link"
)

// Material is either an uploaded file or an external link attached to a course.
// File materials carry StorageKey, Filename and MimeType; links carry Title.
type Material struct {
	ID         string       `db:"id" json:"_id"`
	CourseID   string       `db:"course_id" json:"courseId"`
	Kind       MaterialKind `db:"kind" json:"type"`
	Position   int          `db:"position" json:"-"`
	URL        string       `db:"url" json:"url"`
	Title      *string      `db:"title" json:"title,omitempty"`
	StorageKey *string      `db:"storage_key" json:"-"`
	Filename   *string      `db:"filename" json:"filename,omitempty"`
	MimeType   *string      `db:"mime_type" json:"mimeType,omitempty"`
	SizeBytes  int64        `db:"size_bytes" json:"sizeBytes,omitempty"`
	CreatedBy  string       `db:"created_by" json:"createdBy"`
	CreatedAt  time.Time    `db:"created_at" json:"createdAt"`
}

// MaterialLink is a signed, expiring download location for a file material.
type MaterialLink struct {
	MaterialID string    `json:"materialId"`
	URL        string    `json:"url"`
	ExpiresAt  time.Time `json:"expiresAt"`
}
