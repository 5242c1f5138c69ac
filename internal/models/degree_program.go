package models

import "time"

// DegreeProgram is a catalog entry grouping courses and the lecturers who teach them.
type DegreeProgram struct {
	ID           string    `db:"id" json:"_id"`
	Title        string    `db:"title" json:"title"`
	Code         string    `db:"code" json:"code"`
	Description  string    `db:"description" json:"description"`
	PreviewImage *string   `db:"preview_image" json:"previewImage,omitempty"`
	CreatedBy    *string   `db:"created_by" json:"createdBy,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt    time.Time `db:"updated_at" json:"updatedAt"`
}

// DegreeProgramDetail nests the lecturer set and the ordered course list.
type DegreeProgramDetail struct {
	DegreeProgram
	Lecturers []UserSummary `json:"lecturers"`
	Courses   []Course      `json:"courses"`
}

// ProgramFilter captures listing criteria for programs.
type ProgramFilter struct {
	Search   string
	Page     int
	PageSize int
}
