package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// Assessment represents a multi-section timed MCQ exam shared by a group.
// Sections and their questions are immutable once created; only participant
// state mutates afterwards.
type Assessment struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Title        string    `gorm:"size:255;not null" json:"title"`
	GroupID      uint      `gorm:"not null;index" json:"group_id"`
	CreatorID    uint      `gorm:"not null" json:"creator_id"`
	Status       string    `gorm:"size:16;not null" json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	Sections     []Section `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	Participants []Participant `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

const (
	// AssessmentStatusOpen allows new participants to start an attempt.
	AssessmentStatusOpen = "open"
	// AssessmentStatusClosed blocks new attempts; in-flight attempts continue.
	AssessmentStatusClosed = "closed"
)

// IsClosed reports whether the assessment no longer accepts new attempts.
func (a Assessment) IsClosed() bool {
	return a.Status == AssessmentStatusClosed
}

// MaxPossibleScore sums the question counts of every section.
func (a Assessment) MaxPossibleScore() int {
	total := 0
	for _, section := range a.Sections {
		total += len(section.Questions)
	}
	return total
}

// Section is a named, time-boxed block of questions within an assessment.
type Section struct {
	ID               uint       `gorm:"primaryKey" json:"id"`
	AssessmentID     uint       `gorm:"not null;index" json:"assessment_id"`
	Position         int        `gorm:"not null" json:"position"`
	Name             string     `gorm:"size:255;not null" json:"name"`
	Topic            string     `gorm:"type:text" json:"topic"`
	QuestionCount    int        `gorm:"not null" json:"question_count"`
	TimeLimitMinutes int        `gorm:"not null" json:"time_limit_minutes"`
	Questions        []Question `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// Question is a single-answer MCQ question.
type Question struct {
	ID            uint           `gorm:"primaryKey" json:"id"`
	SectionID     uint           `gorm:"not null;index" json:"section_id"`
	Position      int            `gorm:"not null" json:"position"`
	Prompt        string         `gorm:"type:text;not null" json:"prompt"`
	Options       datatypes.JSON `gorm:"not null" json:"options"`
	CorrectAnswer string         `gorm:"type:text;not null" json:"correct_answer"`
}

// OptionsSlice decodes the stored option list.
func (q Question) OptionsSlice() []string {
	if len(q.Options) == 0 {
		return nil
	}

	var options []string
	if err := json.Unmarshal(q.Options, &options); err != nil {
		return nil
	}
	return options
}

// EncodeOptions serialises an option list for storage.
func EncodeOptions(options []string) (datatypes.JSON, error) {
	payload, err := json.Marshal(options)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(payload), nil
}
