package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/peerprep/oa-api/internal/dto"
	"github.com/peerprep/oa-api/internal/models"
	"github.com/peerprep/oa-api/internal/observability"
	"github.com/peerprep/oa-api/internal/repository"
)

var (
	// ErrAssessmentNotFound indicates the assessment does not exist.
	ErrAssessmentNotFound = errors.New("assessment not found")
	// ErrNotGroupMember indicates the requester is not in the owning group.
	ErrNotGroupMember = errors.New("requester is not a member of the owning group")
	// ErrAssessmentClosed indicates the assessment no longer accepts new attempts.
	ErrAssessmentClosed = errors.New("assessment is closed")
	// ErrNotAParticipant indicates no attempt record exists; Start must be called first.
	ErrNotAParticipant = errors.New("not a participant")
	// ErrAlreadyCompleted indicates the attempt already finished normally.
	ErrAlreadyCompleted = errors.New("attempt already completed")
	// ErrAlreadyTerminated indicates the attempt was ended early and is frozen.
	ErrAlreadyTerminated = errors.New("attempt already terminated")
	// ErrDuplicateSubmission indicates the section already has a submission.
	ErrDuplicateSubmission = errors.New("section already submitted")
	// ErrInvalidSectionIndex indicates the section index is out of range.
	ErrInvalidSectionIndex = errors.New("invalid section index")
)

// ParticipantService is the attempt state machine: it owns every mutation of
// participant records and guarantees at-most-one submission per section.
type ParticipantService interface {
	Start(ctx context.Context, assessmentID, userID uint) (dto.ParticipantResponse, error)
	SubmitSection(ctx context.Context, assessmentID, userID uint, payload dto.SubmitSectionRequest) (dto.SubmitSectionResponse, error)
	Terminate(ctx context.Context, assessmentID, userID uint) (dto.TerminateResponse, error)
}

type participantService struct {
	participants repository.ParticipantRepository
	assessments  repository.AssessmentRepository
	groups       repository.GroupRepository
	events       EventPublisher
	validator    *validator.Validate
	logger       zerolog.Logger
	tracer       trace.Tracer
	now          func() time.Time
	locks        *attemptLocks
}

// attemptLocks serializes mutations per (assessment, user). The storage layer
// enforces uniqueness as a backstop, but holding the lock across the
// read-modify-write keeps rejections deterministic instead of surfacing as
// constraint violations.
type attemptLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (l *attemptLocks) acquire(key string) *sync.Mutex {
	l.mu.Lock()
	lock, ok := l.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[key] = lock
	}
	l.mu.Unlock()

	lock.Lock()
	return lock
}

// NewParticipantService constructs the attempt state machine.
func NewParticipantService(participants repository.ParticipantRepository, assessments repository.AssessmentRepository, groups repository.GroupRepository, events EventPublisher, validate *validator.Validate, logger zerolog.Logger) ParticipantService {
	if events == nil {
		events = NopPublisher{}
	}

	return &participantService{
		participants: participants,
		assessments:  assessments,
		groups:       groups,
		events:       events,
		validator:    validate,
		logger:       logger.With().Str("component", "participant_service").Logger(),
		tracer:       otel.Tracer("github.com/peerprep/oa-api/internal/service/participant"),
		now:          time.Now,
		locks:        &attemptLocks{locks: make(map[string]*sync.Mutex)},
	}
}

func (s *participantService) Start(ctx context.Context, assessmentID, userID uint) (dto.ParticipantResponse, error) {
	assessment, err := s.loadAuthorized(ctx, assessmentID, userID)
	if err != nil {
		return dto.ParticipantResponse{}, err
	}

	lock := s.locks.acquire(attemptKey(assessmentID, userID))
	defer lock.Unlock()

	existing, err := s.participants.GetByAssessmentAndUser(ctx, assessmentID, userID)
	if err == nil {
		// Idempotent restart: the existing record is returned unchanged.
		return dto.NewParticipantResponse(existing), nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return dto.ParticipantResponse{}, err
	}

	if assessment.IsClosed() {
		return dto.ParticipantResponse{}, ErrAssessmentClosed
	}

	participant := models.Participant{
		AssessmentID: assessmentID,
		UserID:       userID,
		Status:       models.ParticipantStatusActive,
		StartedAt:    s.now(),
	}

	if err := s.participants.Create(ctx, &participant); err != nil {
		return dto.ParticipantResponse{}, err
	}

	s.logger.Info().
		Uint("assessment_id", assessmentID).
		Uint("user_id", userID).
		Msg("participant started attempt")

	return dto.NewParticipantResponse(participant), nil
}

func (s *participantService) SubmitSection(ctx context.Context, assessmentID, userID uint, payload dto.SubmitSectionRequest) (dto.SubmitSectionResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.SubmitSectionResponse{}, err
	}

	assessment, err := s.loadAuthorized(ctx, assessmentID, userID)
	if err != nil {
		return dto.SubmitSectionResponse{}, err
	}

	sectionIndex := *payload.SectionIndex

	spanCtx, span := s.tracer.Start(ctx, "attempt.submit_section", trace.WithAttributes(
		attribute.Int64("assessment.id", int64(assessmentID)),
		attribute.Int("section.index", sectionIndex),
	))
	defer span.End()

	lock := s.locks.acquire(attemptKey(assessmentID, userID))
	defer lock.Unlock()

	participant, err := s.participants.GetByAssessmentAndUser(spanCtx, assessmentID, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.SubmitSectionResponse{}, s.reject(ErrNotAParticipant)
		}
		return dto.SubmitSectionResponse{}, err
	}

	switch participant.Status {
	case models.ParticipantStatusCompleted:
		return dto.SubmitSectionResponse{}, s.reject(ErrAlreadyCompleted)
	case models.ParticipantStatusTerminated:
		return dto.SubmitSectionResponse{}, s.reject(ErrAlreadyTerminated)
	}

	if sectionIndex < 0 || sectionIndex >= len(assessment.Sections) {
		return dto.SubmitSectionResponse{}, s.reject(ErrInvalidSectionIndex)
	}

	if participant.HasSubmitted(sectionIndex) {
		return dto.SubmitSectionResponse{}, s.reject(ErrDuplicateSubmission)
	}

	answers := payload.NormalizedAnswers()
	score := scoreSection(assessment.Sections[sectionIndex], answers)

	encoded, err := models.EncodeAnswers(answers)
	if err != nil {
		return dto.SubmitSectionResponse{}, err
	}

	submission := models.SectionSubmission{
		ParticipantID:    participant.ID,
		SectionIndex:     sectionIndex,
		Answers:          encoded,
		Score:            score,
		TimeTakenSeconds: payload.TimeTaken,
		SubmittedAt:      s.now(),
	}

	if err := s.participants.AddSubmission(spanCtx, &submission); err != nil {
		span.RecordError(err)
		return dto.SubmitSectionResponse{}, err
	}

	participant.Submissions = append(participant.Submissions, submission)

	submitted := participant.SubmittedSections()
	total := len(assessment.Sections)
	if submitted == total {
		endedAt := s.now()
		participant.Status = models.ParticipantStatusCompleted
		participant.EndedAt = &endedAt
		if err := s.participants.Update(spanCtx, &participant); err != nil {
			span.RecordError(err)
			return dto.SubmitSectionResponse{}, err
		}
	}

	observability.SectionSubmissions().WithLabelValues("accepted").Inc()
	s.events.Publish(spanCtx, AttemptEvent{
		Type:         EventSectionSubmitted,
		AssessmentID: assessmentID,
		UserID:       userID,
		SectionIndex: &sectionIndex,
		Score:        &score,
		Status:       participant.Status,
		OccurredAt:   s.now().UTC(),
	})

	s.logger.Info().
		Uint("assessment_id", assessmentID).
		Uint("user_id", userID).
		Int("section_index", sectionIndex).
		Int("score", score).
		Str("status", participant.Status).
		Msg("section submission recorded")

	return dto.SubmitSectionResponse{
		Score:             score,
		TotalSections:     total,
		SubmittedSections: submitted,
		Status:            participant.Status,
	}, nil
}

func (s *participantService) Terminate(ctx context.Context, assessmentID, userID uint) (dto.TerminateResponse, error) {
	if _, err := s.loadAuthorized(ctx, assessmentID, userID); err != nil {
		return dto.TerminateResponse{}, err
	}

	lock := s.locks.acquire(attemptKey(assessmentID, userID))
	defer lock.Unlock()

	participant, err := s.participants.GetByAssessmentAndUser(ctx, assessmentID, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.TerminateResponse{}, ErrNotAParticipant
		}
		return dto.TerminateResponse{}, err
	}

	// Termination signals arrive best-effort (beacons, retries after
	// disconnect), so terminal states are a no-op rather than an error.
	if participant.IsTerminal() {
		return dto.TerminateResponse{Status: participant.Status}, nil
	}

	endedAt := s.now()
	participant.Status = models.ParticipantStatusTerminated
	participant.EndedAt = &endedAt

	if err := s.participants.Update(ctx, &participant); err != nil {
		return dto.TerminateResponse{}, err
	}

	observability.ParticipantTerminations().Inc()
	s.events.Publish(ctx, AttemptEvent{
		Type:         EventParticipantTerminated,
		AssessmentID: assessmentID,
		UserID:       userID,
		Status:       participant.Status,
		OccurredAt:   s.now().UTC(),
	})

	s.logger.Info().
		Uint("assessment_id", assessmentID).
		Uint("user_id", userID).
		Msg("participant attempt terminated")

	return dto.TerminateResponse{Status: participant.Status}, nil
}

func (s *participantService) loadAuthorized(ctx context.Context, assessmentID, userID uint) (models.Assessment, error) {
	assessment, err := s.assessments.GetByID(ctx, assessmentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Assessment{}, ErrAssessmentNotFound
		}
		return models.Assessment{}, err
	}

	member, err := s.groups.IsMember(ctx, assessment.GroupID, userID)
	if err != nil {
		return models.Assessment{}, err
	}
	if !member {
		return models.Assessment{}, ErrNotGroupMember
	}

	return assessment, nil
}

func (s *participantService) reject(err error) error {
	observability.SectionSubmissions().WithLabelValues("rejected").Inc()
	return err
}

// scoreSection awards one point per question whose answer is present and
// exactly equals the correct option. Missing or extra answers score zero at
// their position; no normalization is applied.
func scoreSection(section models.Section, answers []string) int {
	score := 0
	for i, question := range section.Questions {
		if i >= len(answers) {
			break
		}
		if answers[i] != "" && answers[i] == question.CorrectAnswer {
			score++
		}
	}
	return score
}

func attemptKey(assessmentID, userID uint) string {
	return fmt.Sprintf("%d:%d", assessmentID, userID)
}
