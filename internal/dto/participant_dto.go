package dto

import (
	"time"

	"github.com/peerprep/oa-api/internal/models"
)

// SubmitSectionRequest is the payload for submitting one section's answers.
// Answers may contain nulls for skipped questions. TimeTaken is the
// client-reported elapsed time in seconds.
type SubmitSectionRequest struct {
	SectionIndex *int      `json:"sectionIndex" validate:"required"`
	Answers      []*string `json:"answers"`
	TimeTaken    int       `json:"timeTaken" validate:"gte=0"`
}

// NormalizedAnswers converts the wire answers into a flat list where a
// skipped question is an empty string.
func (r SubmitSectionRequest) NormalizedAnswers() []string {
	answers := make([]string, 0, len(r.Answers))
	for _, answer := range r.Answers {
		if answer == nil {
			answers = append(answers, "")
			continue
		}
		answers = append(answers, *answer)
	}
	return answers
}

// SubmitSectionResponse reports the outcome of a section submission.
type SubmitSectionResponse struct {
	Score             int    `json:"score"`
	TotalSections     int    `json:"totalSections"`
	SubmittedSections int    `json:"submittedSections"`
	Status            string `json:"status"`
}

// TerminateResponse reports the participant status after an end call.
type TerminateResponse struct {
	Status string `json:"status"`
}

// SectionSubmissionResponse serialises one scored section submission.
type SectionSubmissionResponse struct {
	SectionIndex     int       `json:"section_index"`
	Answers          []string  `json:"answers"`
	Score            int       `json:"score"`
	TimeTakenSeconds int       `json:"time_taken_seconds"`
	SubmittedAt      time.Time `json:"submitted_at"`
}

// ParticipantResponse serialises a participant record.
type ParticipantResponse struct {
	ID           uint                        `json:"id"`
	AssessmentID uint                        `json:"assessment_id"`
	UserID       uint                        `json:"user_id"`
	Status       string                      `json:"status"`
	StartedAt    time.Time                   `json:"started_at"`
	EndedAt      *time.Time                  `json:"ended_at,omitempty"`
	Submissions  []SectionSubmissionResponse `json:"submissions"`
}

// NewParticipantResponse converts a Participant model into a DTO.
func NewParticipantResponse(model models.Participant) ParticipantResponse {
	submissions := make([]SectionSubmissionResponse, 0, len(model.Submissions))
	for _, submission := range model.Submissions {
		submissions = append(submissions, SectionSubmissionResponse{
			SectionIndex:     submission.SectionIndex,
			Answers:          submission.AnswersSlice(),
			Score:            submission.Score,
			TimeTakenSeconds: submission.TimeTakenSeconds,
			SubmittedAt:      submission.SubmittedAt,
		})
	}

	return ParticipantResponse{
		ID:           model.ID,
		AssessmentID: model.AssessmentID,
		UserID:       model.UserID,
		Status:       model.Status,
		StartedAt:    model.StartedAt,
		EndedAt:      model.EndedAt,
		Submissions:  submissions,
	}
}
