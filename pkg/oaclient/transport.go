package oaclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPTransport implements Transport against the assessment API.
type HTTPTransport struct {
	baseURL      string
	assessmentID uint
	token        string
	client       *http.Client
}

// NewHTTPTransport builds a transport for one assessment session.
func NewHTTPTransport(baseURL string, assessmentID uint, token string) *HTTPTransport {
	return &HTTPTransport{
		baseURL:      strings.TrimRight(baseURL, "/"),
		assessmentID: assessmentID,
		token:        token,
		client:       &http.Client{Timeout: 15 * time.Second},
	}
}

type apiEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

type startData struct {
	Status      string `json:"status"`
	Submissions []struct {
		SectionIndex int `json:"section_index"`
	} `json:"submissions"`
}

// Start calls the idempotent start endpoint.
func (t *HTTPTransport) Start(ctx context.Context) (ParticipantState, error) {
	var data startData
	if err := t.do(ctx, http.MethodPost, "start", nil, &data); err != nil {
		return ParticipantState{}, err
	}

	seen := make(map[int]struct{}, len(data.Submissions))
	for _, submission := range data.Submissions {
		seen[submission.SectionIndex] = struct{}{}
	}

	return ParticipantState{Status: data.Status, SubmittedSections: len(seen)}, nil
}

// SubmitSection submits one section's answers.
func (t *HTTPTransport) SubmitSection(ctx context.Context, sectionIndex int, answers []string, timeTakenSeconds int) (SubmitResult, error) {
	body := map[string]interface{}{
		"sectionIndex": sectionIndex,
		"answers":      answers,
		"timeTaken":    timeTakenSeconds,
	}

	var result SubmitResult
	var data struct {
		Score             int    `json:"score"`
		TotalSections     int    `json:"totalSections"`
		SubmittedSections int    `json:"submittedSections"`
		Status            string `json:"status"`
	}
	if err := t.do(ctx, http.MethodPost, "submit-section", body, &data); err != nil {
		return SubmitResult{}, err
	}

	result = SubmitResult{
		Score:             data.Score,
		TotalSections:     data.TotalSections,
		SubmittedSections: data.SubmittedSections,
		Status:            data.Status,
	}
	return result, nil
}

// Terminate ends the attempt. The body is intentionally ignored beyond the
// status check so the call stays safe for beacon-style delivery.
func (t *HTTPTransport) Terminate(ctx context.Context) error {
	return t.do(ctx, http.MethodPut, "end", nil, nil)
}

func (t *HTTPTransport) do(ctx context.Context, method, action string, body interface{}, out interface{}) error {
	url := fmt.Sprintf("%s/api/v1/assessments/%d/%s", t.baseURL, t.assessmentID, action)

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if t.token != "" {
		req.Header.Set("Authorization", "Bearer "+t.token)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var envelope apiEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	if !envelope.Success {
		message := envelope.Message
		if message == "" {
			message = resp.Status
		}
		return fmt.Errorf("api error: %s", message)
	}

	if out != nil && len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("decode response data: %w", err)
		}
	}

	return nil
}
