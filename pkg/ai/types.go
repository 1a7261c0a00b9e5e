package ai

import "context"

// GenerationInput describes one section's worth of questions to generate.
type GenerationInput struct {
	Topic string
	Count int
}

// GeneratedQuestion is a single MCQ produced by the generator. CorrectAnswer
// always matches one of Options exactly.
type GeneratedQuestion struct {
	Question      string   `json:"question"`
	Options       []string `json:"options"`
	CorrectAnswer string   `json:"correctAnswer"`
}

// SectionGenerator describes an AI model capable of producing MCQ sections.
type SectionGenerator interface {
	Generate(ctx context.Context, input GenerationInput) ([]GeneratedQuestion, error)
}
