package handler_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/peerprep/oa-api/internal/config"
	"github.com/peerprep/oa-api/internal/dto"
	"github.com/peerprep/oa-api/internal/handler"
	"github.com/peerprep/oa-api/internal/models"
	"github.com/peerprep/oa-api/internal/repository"
	"github.com/peerprep/oa-api/internal/router"
	"github.com/peerprep/oa-api/internal/service"
)

func setupAttemptApp(t *testing.T, dsn string, userID uint) (*fiber.App, *gorm.DB) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.Group{},
		&models.GroupMember{},
		&models.Assessment{},
		&models.Section{},
		&models.Question{},
		&models.Participant{},
		&models.SectionSubmission{},
	))

	validate := validator.New(validator.WithRequiredStructEnabled())
	logger := zerolog.New(io.Discard)

	groupRepo := repository.NewGroupRepository(db)
	assessmentRepo := repository.NewAssessmentRepository(db)
	participantRepo := repository.NewParticipantRepository(db)

	assessmentService := service.NewAssessmentService(assessmentRepo, participantRepo, groupRepo, nil, nil, 0, validate, logger)
	participantService := service.NewParticipantService(participantRepo, assessmentRepo, groupRepo, nil, validate, logger)

	app := fiber.New()
	router.Register(app, config.Config{AppName: "Test"}, router.Dependencies{
		AssessmentHandler: handler.NewAssessmentHandler(assessmentService, validate, logger),
		AttemptHandler:    handler.NewAttemptHandler(participantService, logger),
		JWTMiddleware: func(c *fiber.Ctx) error {
			c.Locals("user_id", userID)
			return c.Next()
		},
	})

	return app, db
}

func seedTwoSectionAssessment(t *testing.T, db *gorm.DB, userID uint) models.Assessment {
	t.Helper()

	group := models.Group{Name: "Study Group", OwnerID: userID}
	require.NoError(t, db.Create(&group).Error)
	require.NoError(t, db.Create(&models.GroupMember{GroupID: group.ID, UserID: userID, Role: models.GroupRoleOwner}).Error)

	correctBySection := [][]string{
		{"A", "B", "C", "D", "A"},
		{"B", "C", "D", "A", "B"},
	}

	sections := make([]models.Section, 0, len(correctBySection))
	for position, answers := range correctBySection {
		questions := make([]models.Question, 0, len(answers))
		for q, answer := range answers {
			options, err := models.EncodeOptions([]string{"A", "B", "C", "D"})
			require.NoError(t, err)
			questions = append(questions, models.Question{
				Position:      q,
				Prompt:        "prompt",
				Options:       options,
				CorrectAnswer: answer,
			})
		}
		sections = append(sections, models.Section{
			Position:         position,
			Name:             "Section",
			Topic:            "topic",
			QuestionCount:    len(answers),
			TimeLimitMinutes: 10,
			Questions:        questions,
		})
	}

	assessment := models.Assessment{
		Title:     "Final OA",
		GroupID:   group.ID,
		CreatorID: userID,
		Status:    models.AssessmentStatusOpen,
		Sections:  sections,
	}
	require.NoError(t, db.Create(&assessment).Error)

	return assessment
}

func doJSON(t *testing.T, app *fiber.App, method, target string, payload interface{}) (int, []byte) {
	t.Helper()

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, target, body)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, raw
}

func decodeData(t *testing.T, raw []byte, out interface{}) {
	t.Helper()

	var envelope struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Message string          `json:"message"`
	}
	require.NoError(t, json.Unmarshal(raw, &envelope))
	require.True(t, envelope.Success, string(raw))
	require.NoError(t, json.Unmarshal(envelope.Data, out))
}

func TestAttemptHandlerFullLifecycle(t *testing.T) {
	app, db := setupAttemptApp(t, "file:attempt_lifecycle?mode=memory&cache=shared", 7)
	assessment := seedTwoSectionAssessment(t, db, 7)

	base := "/api/v1/assessments/" + itoa(assessment.ID)

	status, raw := doJSON(t, app, "POST", base+"/start", nil)
	require.Equal(t, fiber.StatusOK, status)

	var participant dto.ParticipantResponse
	decodeData(t, raw, &participant)
	require.Equal(t, models.ParticipantStatusActive, participant.Status)
	require.Empty(t, participant.Submissions)

	// Starting again returns the same attempt.
	status, raw = doJSON(t, app, "POST", base+"/start", nil)
	require.Equal(t, fiber.StatusOK, status)
	var resumed dto.ParticipantResponse
	decodeData(t, raw, &resumed)
	require.Equal(t, participant.ID, resumed.ID)

	// Section 0: three of five correct, one answer left null.
	status, raw = doJSON(t, app, "POST", base+"/submit-section", map[string]interface{}{
		"sectionIndex": 0,
		"answers":      []interface{}{"A", "B", "D", nil, "A"},
		"timeTaken":    321,
	})
	require.Equal(t, fiber.StatusOK, status)

	var submit dto.SubmitSectionResponse
	decodeData(t, raw, &submit)
	require.Equal(t, 3, submit.Score)
	require.Equal(t, 2, submit.TotalSections)
	require.Equal(t, 1, submit.SubmittedSections)
	require.Equal(t, models.ParticipantStatusActive, submit.Status)

	// Resubmitting the same section is rejected.
	status, _ = doJSON(t, app, "POST", base+"/submit-section", map[string]interface{}{
		"sectionIndex": 0,
		"answers":      []interface{}{"A", "B", "C", "D", "A"},
	})
	require.Equal(t, fiber.StatusConflict, status)

	// Section 1: all correct, which completes the attempt.
	status, raw = doJSON(t, app, "POST", base+"/submit-section", map[string]interface{}{
		"sectionIndex": 1,
		"answers":      []interface{}{"B", "C", "D", "A", "B"},
		"timeTaken":    210,
	})
	require.Equal(t, fiber.StatusOK, status)
	decodeData(t, raw, &submit)
	require.Equal(t, 5, submit.Score)
	require.Equal(t, 2, submit.SubmittedSections)
	require.Equal(t, models.ParticipantStatusCompleted, submit.Status)

	// Ending a completed attempt is an idempotent no-op.
	status, raw = doJSON(t, app, "PUT", base+"/end", nil)
	require.Equal(t, fiber.StatusOK, status)
	var terminated dto.TerminateResponse
	decodeData(t, raw, &terminated)
	require.Equal(t, models.ParticipantStatusCompleted, terminated.Status)

	// Results report the combined total.
	status, raw = doJSON(t, app, "GET", base+"/results", nil)
	require.Equal(t, fiber.StatusOK, status)
	var results dto.ResultsResponse
	decodeData(t, raw, &results)
	require.Len(t, results.Leaderboard, 1)
	require.Equal(t, 8, results.Leaderboard[0].TotalScore)
	require.Equal(t, 10, results.Leaderboard[0].MaxPossible)
}

func TestAttemptHandlerTerminationFreezesAttempt(t *testing.T) {
	app, db := setupAttemptApp(t, "file:attempt_terminate?mode=memory&cache=shared", 7)
	assessment := seedTwoSectionAssessment(t, db, 7)

	base := "/api/v1/assessments/" + itoa(assessment.ID)

	status, _ := doJSON(t, app, "POST", base+"/start", nil)
	require.Equal(t, fiber.StatusOK, status)

	status, raw := doJSON(t, app, "PUT", base+"/end", nil)
	require.Equal(t, fiber.StatusOK, status)
	var terminated dto.TerminateResponse
	decodeData(t, raw, &terminated)
	require.Equal(t, models.ParticipantStatusTerminated, terminated.Status)

	status, _ = doJSON(t, app, "POST", base+"/submit-section", map[string]interface{}{
		"sectionIndex": 0,
		"answers":      []interface{}{"A", "B", "C", "D", "A"},
	})
	require.Equal(t, fiber.StatusConflict, status)

	// A terminated participant sees the full answer key.
	status, raw = doJSON(t, app, "GET", base, nil)
	require.Equal(t, fiber.StatusOK, status)
	var view dto.AssessmentView
	decodeData(t, raw, &view)
	for _, section := range view.Sections {
		for _, question := range section.Questions {
			require.NotNil(t, question.CorrectAnswer)
		}
	}
}

func TestAttemptHandlerRejectsOutsiders(t *testing.T) {
	app, db := setupAttemptApp(t, "file:attempt_outsider?mode=memory&cache=shared", 99)
	assessment := seedTwoSectionAssessment(t, db, 7)

	base := "/api/v1/assessments/" + itoa(assessment.ID)

	status, _ := doJSON(t, app, "POST", base+"/start", nil)
	require.Equal(t, fiber.StatusForbidden, status)
}

func TestAttemptHandlerRejectsInvalidSection(t *testing.T) {
	app, db := setupAttemptApp(t, "file:attempt_invalid?mode=memory&cache=shared", 7)
	assessment := seedTwoSectionAssessment(t, db, 7)

	base := "/api/v1/assessments/" + itoa(assessment.ID)

	status, _ := doJSON(t, app, "POST", base+"/start", nil)
	require.Equal(t, fiber.StatusOK, status)

	status, _ = doJSON(t, app, "POST", base+"/submit-section", map[string]interface{}{
		"sectionIndex": 9,
		"answers":      []interface{}{"A"},
	})
	require.Equal(t, fiber.StatusBadRequest, status)

	status, raw := doJSON(t, app, "POST", base+"/submit-section", map[string]interface{}{
		"sectionIndex": -1,
		"answers":      []interface{}{"A"},
	})
	require.Equal(t, fiber.StatusBadRequest, status)
	require.Contains(t, string(raw), "invalid section index")
}

func itoa(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}
