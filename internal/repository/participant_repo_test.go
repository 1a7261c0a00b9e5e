package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/peerprep/oa-api/internal/models"
)

func setupParticipantDB(t *testing.T, dsn string) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Participant{}, &models.SectionSubmission{}))

	return db
}

func TestParticipantRepositoryPreloadsSubmissionsInOrder(t *testing.T) {
	db := setupParticipantDB(t, "file:participant_preload?mode=memory&cache=shared")
	repo := NewParticipantRepository(db)
	ctx := context.Background()

	participant := models.Participant{
		AssessmentID: 1,
		UserID:       7,
		Status:       models.ParticipantStatusActive,
		StartedAt:    time.Now(),
	}
	require.NoError(t, repo.Create(ctx, &participant))

	for _, sectionIndex := range []int{1, 0} {
		answers, err := models.EncodeAnswers([]string{"A"})
		require.NoError(t, err)
		require.NoError(t, repo.AddSubmission(ctx, &models.SectionSubmission{
			ParticipantID: participant.ID,
			SectionIndex:  sectionIndex,
			Answers:       answers,
			Score:         1,
			SubmittedAt:   time.Now(),
		}))
	}

	stored, err := repo.GetByAssessmentAndUser(ctx, 1, 7)
	require.NoError(t, err)
	require.Len(t, stored.Submissions, 2)

	// Insertion order, not section order.
	require.Equal(t, 1, stored.Submissions[0].SectionIndex)
	require.Equal(t, 0, stored.Submissions[1].SectionIndex)
	require.Equal(t, []string{"A"}, stored.Submissions[0].AnswersSlice())
}

func TestParticipantRepositoryEnforcesOneAttemptPerUser(t *testing.T) {
	db := setupParticipantDB(t, "file:participant_unique?mode=memory&cache=shared")
	repo := NewParticipantRepository(db)
	ctx := context.Background()

	first := models.Participant{AssessmentID: 1, UserID: 7, Status: models.ParticipantStatusActive, StartedAt: time.Now()}
	require.NoError(t, repo.Create(ctx, &first))

	duplicate := models.Participant{AssessmentID: 1, UserID: 7, Status: models.ParticipantStatusActive, StartedAt: time.Now()}
	require.Error(t, repo.Create(ctx, &duplicate))
}

func TestParticipantRepositoryEnforcesOneSubmissionPerSection(t *testing.T) {
	db := setupParticipantDB(t, "file:submission_unique?mode=memory&cache=shared")
	repo := NewParticipantRepository(db)
	ctx := context.Background()

	participant := models.Participant{AssessmentID: 1, UserID: 7, Status: models.ParticipantStatusActive, StartedAt: time.Now()}
	require.NoError(t, repo.Create(ctx, &participant))

	answers, err := models.EncodeAnswers([]string{"A"})
	require.NoError(t, err)

	require.NoError(t, repo.AddSubmission(ctx, &models.SectionSubmission{
		ParticipantID: participant.ID,
		SectionIndex:  0,
		Answers:       answers,
		SubmittedAt:   time.Now(),
	}))

	require.Error(t, repo.AddSubmission(ctx, &models.SectionSubmission{
		ParticipantID: participant.ID,
		SectionIndex:  0,
		Answers:       answers,
		SubmittedAt:   time.Now(),
	}))
}

func TestParticipantRepositoryListKeepsArrivalOrder(t *testing.T) {
	db := setupParticipantDB(t, "file:participant_order?mode=memory&cache=shared")
	repo := NewParticipantRepository(db)
	ctx := context.Background()

	for _, userID := range []uint{9, 3, 5} {
		participant := models.Participant{AssessmentID: 2, UserID: userID, Status: models.ParticipantStatusActive, StartedAt: time.Now()}
		require.NoError(t, repo.Create(ctx, &participant))
	}

	participants, err := repo.ListByAssessment(ctx, 2)
	require.NoError(t, err)
	require.Len(t, participants, 3)
	require.Equal(t, uint(9), participants[0].UserID)
	require.Equal(t, uint(3), participants[1].UserID)
	require.Equal(t, uint(5), participants[2].UserID)
}

func TestParticipantRepositoryUpdateKeepsSubmissions(t *testing.T) {
	db := setupParticipantDB(t, "file:participant_update?mode=memory&cache=shared")
	repo := NewParticipantRepository(db)
	ctx := context.Background()

	participant := models.Participant{AssessmentID: 1, UserID: 7, Status: models.ParticipantStatusActive, StartedAt: time.Now()}
	require.NoError(t, repo.Create(ctx, &participant))

	answers, err := models.EncodeAnswers([]string{"B"})
	require.NoError(t, err)
	require.NoError(t, repo.AddSubmission(ctx, &models.SectionSubmission{
		ParticipantID: participant.ID,
		SectionIndex:  0,
		Answers:       answers,
		Score:         1,
		SubmittedAt:   time.Now(),
	}))

	endedAt := time.Now()
	participant.Status = models.ParticipantStatusTerminated
	participant.EndedAt = &endedAt
	require.NoError(t, repo.Update(ctx, &participant))

	stored, err := repo.GetByAssessmentAndUser(ctx, 1, 7)
	require.NoError(t, err)
	require.Equal(t, models.ParticipantStatusTerminated, stored.Status)
	require.NotNil(t, stored.EndedAt)
	require.Len(t, stored.Submissions, 1)
}
