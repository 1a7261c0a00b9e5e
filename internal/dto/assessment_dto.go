package dto

import (
	"time"

	"github.com/peerprep/oa-api/internal/models"
)

// SectionSpec describes one section requested at assessment creation.
type SectionSpec struct {
	Name             string `json:"name" validate:"required,min=1,max=255"`
	Topic            string `json:"topic" validate:"required,min=3"`
	QuestionCount    int    `json:"question_count" validate:"required,gte=1,lte=50"`
	TimeLimitMinutes int    `json:"time_limit_minutes" validate:"required,gte=1,lte=180"`
}

// AssessmentCreateRequest is the payload for creating an assessment.
type AssessmentCreateRequest struct {
	Title    string        `json:"title" validate:"required,min=3,max=255"`
	GroupID  uint          `json:"group_id" validate:"required,gt=0"`
	Sections []SectionSpec `json:"sections" validate:"required,min=1,max=10,dive"`
}

// QuestionView is a question as shown to a requester. CorrectAnswer is only
// present once the requester is allowed to see it; otherwise the field is
// omitted from the payload entirely.
type QuestionView struct {
	Position      int      `json:"position"`
	Prompt        string   `json:"prompt"`
	Options       []string `json:"options"`
	CorrectAnswer *string  `json:"correct_answer,omitempty"`
}

// SectionView is a section as shown to a requester.
type SectionView struct {
	Position         int            `json:"position"`
	Name             string         `json:"name"`
	Topic            string         `json:"topic"`
	QuestionCount    int            `json:"question_count"`
	TimeLimitMinutes int            `json:"time_limit_minutes"`
	Questions        []QuestionView `json:"questions"`
}

// AssessmentView is the visibility-filtered assessment payload.
type AssessmentView struct {
	ID          uint                 `json:"id"`
	Title       string               `json:"title"`
	GroupID     uint                 `json:"group_id"`
	CreatorID   uint                 `json:"creator_id"`
	Status      string               `json:"status"`
	CreatedAt   time.Time            `json:"created_at"`
	Sections    []SectionView        `json:"sections"`
	Participant *ParticipantResponse `json:"participant,omitempty"`
}

// SectionScore is the per-section breakdown attached to a leaderboard row.
type SectionScore struct {
	SectionIndex     int `json:"section_index"`
	Score            int `json:"score"`
	QuestionCount    int `json:"question_count"`
	TimeTakenSeconds int `json:"time_taken_seconds"`
}

// LeaderboardRow ranks one participant.
type LeaderboardRow struct {
	UserID      uint           `json:"user_id"`
	Status      string         `json:"status"`
	TotalScore  int            `json:"total_score"`
	MaxPossible int            `json:"max_possible"`
	Sections    []SectionScore `json:"sections"`
}

// ResultsResponse bundles the assessment, its leaderboard and the caller's
// own full participant record.
type ResultsResponse struct {
	Assessment  AssessmentView       `json:"assessment"`
	Leaderboard []LeaderboardRow     `json:"leaderboard"`
	Own         *ParticipantResponse `json:"own,omitempty"`
}

// NewSectionView converts a section, revealing correct answers only where
// the reveal callback allows it.
func NewSectionView(section models.Section, reveal bool) SectionView {
	questions := make([]QuestionView, 0, len(section.Questions))
	for _, question := range section.Questions {
		view := QuestionView{
			Position: question.Position,
			Prompt:   question.Prompt,
			Options:  question.OptionsSlice(),
		}
		if reveal {
			answer := question.CorrectAnswer
			view.CorrectAnswer = &answer
		}
		questions = append(questions, view)
	}

	return SectionView{
		Position:         section.Position,
		Name:             section.Name,
		Topic:            section.Topic,
		QuestionCount:    section.QuestionCount,
		TimeLimitMinutes: section.TimeLimitMinutes,
		Questions:        questions,
	}
}
