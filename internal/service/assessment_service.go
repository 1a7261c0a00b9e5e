package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/peerprep/oa-api/internal/dto"
	"github.com/peerprep/oa-api/internal/models"
	"github.com/peerprep/oa-api/internal/repository"
	"github.com/peerprep/oa-api/pkg/ai"
)

// ErrNotCreator indicates the requester does not own the assessment.
var ErrNotCreator = errors.New("requester is not the assessment creator")

// ErrGenerationFailed indicates the question generator could not produce a
// usable section bank.
var ErrGenerationFailed = errors.New("question generation failed")

// AssessmentService covers assessment creation and the read paths: the
// visibility-filtered view and the ranked results.
type AssessmentService interface {
	Create(ctx context.Context, creatorID uint, payload dto.AssessmentCreateRequest) (dto.AssessmentView, error)
	GetView(ctx context.Context, assessmentID, userID uint) (dto.AssessmentView, error)
	Results(ctx context.Context, assessmentID, userID uint) (dto.ResultsResponse, error)
	Close(ctx context.Context, assessmentID, userID uint) (dto.AssessmentView, error)
}

type assessmentService struct {
	assessments  repository.AssessmentRepository
	participants repository.ParticipantRepository
	groups       repository.GroupRepository
	generator    ai.SectionGenerator
	cache        *redis.Client
	cacheTTL     time.Duration
	validator    *validator.Validate
	sanitizer    *bluemonday.Policy
	logger       zerolog.Logger
}

// NewAssessmentService constructs an AssessmentService. cache may be nil to
// disable results caching; generator may be nil when creation is not served
// by this instance.
func NewAssessmentService(assessments repository.AssessmentRepository, participants repository.ParticipantRepository, groups repository.GroupRepository, generator ai.SectionGenerator, cache *redis.Client, cacheTTL time.Duration, validate *validator.Validate, logger zerolog.Logger) AssessmentService {
	return &assessmentService{
		assessments:  assessments,
		participants: participants,
		groups:       groups,
		generator:    generator,
		cache:        cache,
		cacheTTL:     cacheTTL,
		validator:    validate,
		sanitizer:    bluemonday.StrictPolicy(),
		logger:       logger.With().Str("component", "assessment_service").Logger(),
	}
}

func (s *assessmentService) Create(ctx context.Context, creatorID uint, payload dto.AssessmentCreateRequest) (dto.AssessmentView, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.AssessmentView{}, err
	}

	member, err := s.groups.IsMember(ctx, payload.GroupID, creatorID)
	if err != nil {
		return dto.AssessmentView{}, err
	}
	if !member {
		return dto.AssessmentView{}, ErrNotGroupMember
	}

	if s.generator == nil {
		return dto.AssessmentView{}, ErrGenerationFailed
	}

	sections := make([]models.Section, 0, len(payload.Sections))
	for position, spec := range payload.Sections {
		generated, err := s.generator.Generate(ctx, ai.GenerationInput{
			Topic: spec.Topic,
			Count: spec.QuestionCount,
		})
		if err != nil {
			s.logger.Error().Err(err).Str("topic", spec.Topic).Msg("section generation failed")
			return dto.AssessmentView{}, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
		}

		questions := make([]models.Question, 0, len(generated))
		for qPosition, item := range generated {
			options, err := models.EncodeOptions(item.Options)
			if err != nil {
				return dto.AssessmentView{}, err
			}
			questions = append(questions, models.Question{
				Position:      qPosition,
				Prompt:        strings.TrimSpace(s.sanitizer.Sanitize(item.Question)),
				Options:       options,
				CorrectAnswer: item.CorrectAnswer,
			})
		}

		sections = append(sections, models.Section{
			Position:         position,
			Name:             spec.Name,
			Topic:            spec.Topic,
			QuestionCount:    len(questions),
			TimeLimitMinutes: spec.TimeLimitMinutes,
			Questions:        questions,
		})
	}

	assessment := models.Assessment{
		Title:     payload.Title,
		GroupID:   payload.GroupID,
		CreatorID: creatorID,
		Status:    models.AssessmentStatusOpen,
		Sections:  sections,
	}

	if err := s.assessments.Create(ctx, &assessment); err != nil {
		return dto.AssessmentView{}, err
	}

	s.logger.Info().
		Uint("assessment_id", assessment.ID).
		Int("sections", len(sections)).
		Msg("assessment created")

	// The creator sees the full bank.
	return buildView(assessment, nil, true), nil
}

func (s *assessmentService) GetView(ctx context.Context, assessmentID, userID uint) (dto.AssessmentView, error) {
	assessment, participant, err := s.loadForUser(ctx, assessmentID, userID)
	if err != nil {
		return dto.AssessmentView{}, err
	}

	return buildView(assessment, participant, false), nil
}

func (s *assessmentService) Results(ctx context.Context, assessmentID, userID uint) (dto.ResultsResponse, error) {
	cacheKey := fmt.Sprintf("results:assessment:%d:user:%d", assessmentID, userID)

	if s.cache != nil {
		if cached, err := s.cache.Get(ctx, cacheKey).Result(); err == nil {
			var response dto.ResultsResponse
			if unmarshalErr := json.Unmarshal([]byte(cached), &response); unmarshalErr == nil {
				s.logger.Debug().Uint("assessment_id", assessmentID).Msg("results cache hit")
				return response, nil
			}
		} else if err != redis.Nil {
			s.logger.Warn().Err(err).Msg("failed to read results cache")
		}
	}

	assessment, own, err := s.loadForUser(ctx, assessmentID, userID)
	if err != nil {
		return dto.ResultsResponse{}, err
	}

	participants, err := s.participants.ListByAssessment(ctx, assessmentID)
	if err != nil {
		return dto.ResultsResponse{}, err
	}

	response := dto.ResultsResponse{
		Assessment:  buildView(assessment, own, false),
		Leaderboard: buildLeaderboard(assessment, participants),
	}
	if own != nil {
		ownResponse := dto.NewParticipantResponse(*own)
		response.Own = &ownResponse
	}

	if s.cache != nil {
		if payload, err := json.Marshal(response); err == nil {
			if err := s.cache.Set(ctx, cacheKey, payload, s.cacheTTL).Err(); err != nil {
				s.logger.Warn().Err(err).Msg("failed to store results cache")
			}
		}
	}

	return response, nil
}

func (s *assessmentService) Close(ctx context.Context, assessmentID, userID uint) (dto.AssessmentView, error) {
	assessment, _, err := s.loadForUser(ctx, assessmentID, userID)
	if err != nil {
		return dto.AssessmentView{}, err
	}

	if assessment.CreatorID != userID {
		return dto.AssessmentView{}, ErrNotCreator
	}

	if !assessment.IsClosed() {
		if err := s.assessments.UpdateStatus(ctx, assessmentID, models.AssessmentStatusClosed); err != nil {
			return dto.AssessmentView{}, err
		}
		assessment.Status = models.AssessmentStatusClosed
	}

	return buildView(assessment, nil, true), nil
}

func (s *assessmentService) loadForUser(ctx context.Context, assessmentID, userID uint) (models.Assessment, *models.Participant, error) {
	assessment, err := s.assessments.GetByID(ctx, assessmentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Assessment{}, nil, ErrAssessmentNotFound
		}
		return models.Assessment{}, nil, err
	}

	member, err := s.groups.IsMember(ctx, assessment.GroupID, userID)
	if err != nil {
		return models.Assessment{}, nil, err
	}
	if !member {
		return models.Assessment{}, nil, ErrNotGroupMember
	}

	participant, err := s.participants.GetByAssessmentAndUser(ctx, assessmentID, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return assessment, nil, nil
		}
		return models.Assessment{}, nil, err
	}

	return assessment, &participant, nil
}

// buildView applies the visibility filter: a section's correct answers are
// revealed only when the requester has already submitted that section or has
// been terminated. The filter runs on every read and never mutates stored
// data. revealAll bypasses the filter for creator-facing responses.
func buildView(assessment models.Assessment, participant *models.Participant, revealAll bool) dto.AssessmentView {
	sections := make([]dto.SectionView, 0, len(assessment.Sections))
	for index, section := range assessment.Sections {
		reveal := revealAll
		if !reveal && participant != nil {
			reveal = participant.Status == models.ParticipantStatusTerminated || participant.HasSubmitted(index)
		}
		sections = append(sections, dto.NewSectionView(section, reveal))
	}

	view := dto.AssessmentView{
		ID:        assessment.ID,
		Title:     assessment.Title,
		GroupID:   assessment.GroupID,
		CreatorID: assessment.CreatorID,
		Status:    assessment.Status,
		CreatedAt: assessment.CreatedAt,
		Sections:  sections,
	}

	if participant != nil {
		response := dto.NewParticipantResponse(*participant)
		view.Participant = &response
	}

	return view
}

// buildLeaderboard ranks every participant with at least one submission by
// total score, descending. The sort is stable so ties keep arrival order.
func buildLeaderboard(assessment models.Assessment, participants []models.Participant) []dto.LeaderboardRow {
	maxPossible := assessment.MaxPossibleScore()

	rows := make([]dto.LeaderboardRow, 0, len(participants))
	for _, participant := range participants {
		if len(participant.Submissions) == 0 {
			continue
		}

		sections := make([]dto.SectionScore, 0, len(participant.Submissions))
		for _, submission := range participant.Submissions {
			questionCount := 0
			if submission.SectionIndex >= 0 && submission.SectionIndex < len(assessment.Sections) {
				questionCount = len(assessment.Sections[submission.SectionIndex].Questions)
			}
			sections = append(sections, dto.SectionScore{
				SectionIndex:     submission.SectionIndex,
				Score:            submission.Score,
				QuestionCount:    questionCount,
				TimeTakenSeconds: submission.TimeTakenSeconds,
			})
		}

		rows = append(rows, dto.LeaderboardRow{
			UserID:      participant.UserID,
			Status:      participant.Status,
			TotalScore:  participant.TotalScore(),
			MaxPossible: maxPossible,
			Sections:    sections,
		})
	}

	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].TotalScore > rows[j].TotalScore
	})

	return rows
}
