package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/peerprep/oa-api/internal/models"
)

// ParticipantRepository defines data operations for participant records.
type ParticipantRepository interface {
	GetByAssessmentAndUser(ctx context.Context, assessmentID, userID uint) (models.Participant, error)
	ListByAssessment(ctx context.Context, assessmentID uint) ([]models.Participant, error)
	Create(ctx context.Context, participant *models.Participant) error
	Update(ctx context.Context, participant *models.Participant) error
	AddSubmission(ctx context.Context, submission *models.SectionSubmission) error
}

type participantRepository struct {
	db *gorm.DB
}

// NewParticipantRepository instantiates the repository.
func NewParticipantRepository(db *gorm.DB) ParticipantRepository {
	return &participantRepository{db: db}
}

func (r *participantRepository) baseQuery(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Model(&models.Participant{}).
		Preload("Submissions", func(db *gorm.DB) *gorm.DB {
			return db.Order("section_submissions.id ASC")
		})
}

func (r *participantRepository) GetByAssessmentAndUser(ctx context.Context, assessmentID, userID uint) (models.Participant, error) {
	var participant models.Participant
	if err := r.baseQuery(ctx).
		Where("assessment_id = ?", assessmentID).
		Where("user_id = ?", userID).
		First(&participant).Error; err != nil {
		return models.Participant{}, err
	}

	return participant, nil
}

func (r *participantRepository) ListByAssessment(ctx context.Context, assessmentID uint) ([]models.Participant, error) {
	var participants []models.Participant
	if err := r.baseQuery(ctx).
		Where("assessment_id = ?", assessmentID).
		Order("participants.id ASC").
		Find(&participants).Error; err != nil {
		return nil, err
	}

	return participants, nil
}

func (r *participantRepository) Create(ctx context.Context, participant *models.Participant) error {
	return r.db.WithContext(ctx).Create(participant).Error
}

func (r *participantRepository) Update(ctx context.Context, participant *models.Participant) error {
	return r.db.WithContext(ctx).
		Omit("Submissions").
		Save(participant).Error
}

func (r *participantRepository) AddSubmission(ctx context.Context, submission *models.SectionSubmission) error {
	return r.db.WithContext(ctx).Create(submission).Error
}
