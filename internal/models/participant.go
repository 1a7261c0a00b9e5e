package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// Participant is the per-user attempt record against one assessment. Exactly
// one exists per (assessment, user); creation is idempotent.
type Participant struct {
	ID           uint                `gorm:"primaryKey" json:"id"`
	AssessmentID uint                `gorm:"not null;uniqueIndex:idx_assessment_user" json:"assessment_id"`
	UserID       uint                `gorm:"not null;uniqueIndex:idx_assessment_user" json:"user_id"`
	Status       string              `gorm:"size:16;not null" json:"status"`
	StartedAt    time.Time           `gorm:"not null" json:"started_at"`
	EndedAt      *time.Time          `json:"ended_at,omitempty"`
	Submissions  []SectionSubmission `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

const (
	// ParticipantStatusActive means the attempt is in progress.
	ParticipantStatusActive = "active"
	// ParticipantStatusCompleted means every section has been submitted.
	ParticipantStatusCompleted = "completed"
	// ParticipantStatusTerminated means the attempt was ended early and frozen.
	ParticipantStatusTerminated = "terminated"
)

// IsTerminal reports whether the participant can no longer submit.
func (p Participant) IsTerminal() bool {
	return p.Status == ParticipantStatusCompleted || p.Status == ParticipantStatusTerminated
}

// HasSubmitted reports whether a submission exists for the section index.
func (p Participant) HasSubmitted(sectionIndex int) bool {
	for _, submission := range p.Submissions {
		if submission.SectionIndex == sectionIndex {
			return true
		}
	}
	return false
}

// SubmittedSections counts distinct submitted section indices.
func (p Participant) SubmittedSections() int {
	seen := make(map[int]struct{}, len(p.Submissions))
	for _, submission := range p.Submissions {
		seen[submission.SectionIndex] = struct{}{}
	}
	return len(seen)
}

// TotalScore sums the scores of all submissions.
func (p Participant) TotalScore() int {
	total := 0
	for _, submission := range p.Submissions {
		total += submission.Score
	}
	return total
}

// SectionSubmission is the one-time scored record of a participant's answers
// for a single section. Score is computed at submission time and never
// recomputed. TimeTakenSeconds is client-reported and not cross-checked
// against server timestamps.
type SectionSubmission struct {
	ID               uint           `gorm:"primaryKey" json:"id"`
	ParticipantID    uint           `gorm:"not null;uniqueIndex:idx_participant_section" json:"participant_id"`
	SectionIndex     int            `gorm:"not null;uniqueIndex:idx_participant_section" json:"section_index"`
	Answers          datatypes.JSON `json:"answers"`
	Score            int            `gorm:"not null" json:"score"`
	TimeTakenSeconds int            `gorm:"not null" json:"time_taken_seconds"`
	SubmittedAt      time.Time      `gorm:"not null" json:"submitted_at"`
}

// AnswersSlice decodes the stored answer list. An empty string marks a
// skipped question.
func (s SectionSubmission) AnswersSlice() []string {
	if len(s.Answers) == 0 {
		return nil
	}

	var answers []string
	if err := json.Unmarshal(s.Answers, &answers); err != nil {
		return nil
	}
	return answers
}

// EncodeAnswers serialises an answer list for storage.
func EncodeAnswers(answers []string) (datatypes.JSON, error) {
	payload, err := json.Marshal(answers)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(payload), nil
}
