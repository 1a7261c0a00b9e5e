package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/peerprep/oa-api/internal/models"
)

// AssessmentRepository defines data operations for assessments.
type AssessmentRepository interface {
	ListByGroup(ctx context.Context, groupID uint) ([]models.Assessment, error)
	GetByID(ctx context.Context, id uint) (models.Assessment, error)
	Create(ctx context.Context, assessment *models.Assessment) error
	UpdateStatus(ctx context.Context, id uint, status string) error
	Delete(ctx context.Context, id uint) error
}

type assessmentRepository struct {
	db *gorm.DB
}

// NewAssessmentRepository instantiates the repository.
func NewAssessmentRepository(db *gorm.DB) AssessmentRepository {
	return &assessmentRepository{db: db}
}

func (r *assessmentRepository) baseQuery(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Model(&models.Assessment{}).
		Preload("Sections", func(db *gorm.DB) *gorm.DB {
			return db.Order("sections.position ASC")
		}).
		Preload("Sections.Questions", func(db *gorm.DB) *gorm.DB {
			return db.Order("questions.position ASC")
		})
}

func (r *assessmentRepository) ListByGroup(ctx context.Context, groupID uint) ([]models.Assessment, error) {
	var assessments []models.Assessment
	if err := r.baseQuery(ctx).
		Where("group_id = ?", groupID).
		Order("created_at DESC").
		Find(&assessments).Error; err != nil {
		return nil, err
	}

	return assessments, nil
}

func (r *assessmentRepository) GetByID(ctx context.Context, id uint) (models.Assessment, error) {
	var assessment models.Assessment
	if err := r.baseQuery(ctx).First(&assessment, id).Error; err != nil {
		return models.Assessment{}, err
	}

	return assessment, nil
}

func (r *assessmentRepository) Create(ctx context.Context, assessment *models.Assessment) error {
	return r.db.WithContext(ctx).Create(assessment).Error
}

func (r *assessmentRepository) UpdateStatus(ctx context.Context, id uint, status string) error {
	return r.db.WithContext(ctx).Model(&models.Assessment{}).
		Where("id = ?", id).
		Update("status", status).Error
}

func (r *assessmentRepository) Delete(ctx context.Context, id uint) error {
	// Select(clause.Associations) is unnecessary: participants and sections
	// cascade at the database level.
	return r.db.WithContext(ctx).Delete(&models.Assessment{}, id).Error
}
