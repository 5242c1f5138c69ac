package dto

import "github.com/noah-isme/lms-api/internal/models"

// CreateRequestInput is the service-level payload for opening a request.
type CreateRequestInput struct {
	Type     models.RequestType `validate:"required,oneof=enrollment_request teach_request course_enrollment_request"`
	TargetID string             `validate:"required"`
	Message  string             `validate:"max=500"`
}

// ProgramRequestPayload opens an enrollment or teach request for a degree program.
type ProgramRequestPayload struct {
	DegreeProgramID string `json:"degreeProgramId" binding:"required"`
	Message         string `json:"message"`
}

// CourseRequestPayload opens a course enrollment request.
type CourseRequestPayload struct {
	CourseID string `json:"courseId" binding:"required"`
	Message  string `json:"message"`
}

// HandleRequestPayload carries an approver's decision.
type HandleRequestPayload struct {
	NotificationID string          `json:"notificationId" binding:"required"`
	Action         models.Decision `json:"action" binding:"required,oneof=accept reject"`
}

// RequestListQuery mirrors the supported listing filters.
type RequestListQuery struct {
	Status models.RequestStatus `form:"status" binding:"omitempty,oneof=pending accepted rejected"`
	Limit  int                  `form:"limit" binding:"omitempty,min=1,max=500"`
	Offset int                  `form:"offset" binding:"omitempty,min=0"`
}
