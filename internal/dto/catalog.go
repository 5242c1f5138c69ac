package dto

// ProgramPayload creates or updates a degree program.
type ProgramPayload struct {
	Title        string  `json:"title" validate:"required,max=200"`
	Code         string  `json:"code" validate:"required,max=50"`
	Description  string  `json:"description" validate:"max=5000"`
	PreviewImage *string `json:"previewImage" validate:"omitempty,url"`
}

// CoursePayload creates a course under a program.
type CoursePayload struct {
	DegreeProgramID string `json:"degreeProgramId" validate:"required"`
	Title           string `json:"title" validate:"required,max=200"`
	Code            string `json:"code" validate:"required,max=50"`
	Credit          int    `json:"credit" validate:"min=0,max=60"`
	Description     string `json:"description" validate:"max=5000"`
}

// CourseUpdatePayload modifies course fields.
type CourseUpdatePayload struct {
	Title       string `json:"title" validate:"required,max=200"`
	Code        string `json:"code" validate:"required,max=50"`
	Credit      int    `json:"credit" validate:"min=0,max=60"`
	Description string `json:"description" validate:"max=5000"`
}

// LecturerPayload names a lecturer to attach to a program.
type LecturerPayload struct {
	UserID string `json:"userId" validate:"required"`
}

// LinkPayload attaches an external link to a course.
type LinkPayload struct {
	URL   string `json:"url" validate:"required,url"`
	Title string `json:"title" validate:"required,max=200"`
}
