package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/RubachokBoss/submission-analysis/internal/config"
	"github.com/RubachokBoss/submission-analysis/internal/models"
)

// AnalysisClient talks to the external analysis service. It does not retry:
// checks are retried by the job queue, highlight failures surface to the caller.
type AnalysisClient interface {
	Check(ctx context.Context, req CheckRequest) (*CheckResult, error)
	Highlight(ctx context.Context, req HighlightRequest) (*models.Artifact, error)
}

type CheckRequest struct {
	SubmissionID string `json:"submission_id"`
	AssignmentID string `json:"assignment_id"`
	TextContent  string `json:"text_content"`
	FileURL      string `json:"file_url,omitempty"`
}

type CheckMatch struct {
	SubmissionID string  `json:"submission_id"`
	Similarity   float64 `json:"similarity"`
}

type CheckResult struct {
	SimilarityScore float64      `json:"similarity_score"`
	AIProbability   float64      `json:"ai_probability"`
	Matches         []CheckMatch `json:"matches"`
}

type HighlightRequest struct {
	SubmissionID string `json:"submission_id"`
	AssignmentID string `json:"assignment_id"`
	FileURL      string `json:"file_url"`
}

type analysisClient struct {
	baseURL           string
	checkEndpoint     string
	highlightEndpoint string
	maxArtifactBytes  int64
	checkClient       *http.Client
	highlightClient   *http.Client
	logger            zerolog.Logger
}

func NewAnalysisClient(cfg config.AnalysisServiceConfig, logger zerolog.Logger) AnalysisClient {
	return &analysisClient{
		baseURL:           strings.TrimRight(cfg.URL, "/"),
		checkEndpoint:     cfg.CheckEndpoint,
		highlightEndpoint: cfg.HighlightEndpoint,
		maxArtifactBytes:  cfg.MaxArtifactBytes,
		checkClient: &http.Client{
			Timeout: cfg.CheckTimeout,
		},
		highlightClient: &http.Client{
			Timeout: cfg.HighlightTimeout,
		},
		logger: logger,
	}
}

func (c *analysisClient) Check(ctx context.Context, req CheckRequest) (*CheckResult, error) {
	const op = "check"
	started := time.Now()

	resp, err := c.post(ctx, c.checkClient, c.checkEndpoint, req)
	if err != nil {
		return nil, &models.TransientCollaboratorError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &models.TransientCollaboratorError{Op: op, StatusCode: resp.StatusCode, Err: errors.New(readSnippet(resp.Body))}
	}

	var result CheckResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &models.TransientCollaboratorError{Op: op, Err: fmt.Errorf("failed to decode response: %w", err)}
	}

	result.SimilarityScore = models.Clamp01(result.SimilarityScore)
	result.AIProbability = models.Clamp01(result.AIProbability)
	for i := range result.Matches {
		result.Matches[i].Similarity = models.Clamp01(result.Matches[i].Similarity)
	}

	c.logger.Debug().
		Str("submission_id", req.SubmissionID).
		Float64("similarity", result.SimilarityScore).
		Float64("ai_probability", result.AIProbability).
		Int("matches", len(result.Matches)).
		Dur("took", time.Since(started)).
		Msg("Analysis check completed")

	return &result, nil
}

func (c *analysisClient) Highlight(ctx context.Context, req HighlightRequest) (*models.Artifact, error) {
	const op = "highlight"

	resp, err := c.post(ctx, c.highlightClient, c.highlightEndpoint, req)
	if err != nil {
		return nil, &models.TransientCollaboratorError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &models.TransientCollaboratorError{Op: op, StatusCode: resp.StatusCode, Err: errors.New(readSnippet(resp.Body))}
	}

	body := io.Reader(resp.Body)
	if c.maxArtifactBytes > 0 {
		body = io.LimitReader(resp.Body, c.maxArtifactBytes+1)
	}

	content, err := io.ReadAll(body)
	if err != nil {
		return nil, &models.TransientCollaboratorError{Op: op, Err: fmt.Errorf("failed to read artifact: %w", err)}
	}
	if c.maxArtifactBytes > 0 && int64(len(content)) > c.maxArtifactBytes {
		return nil, &models.TransientCollaboratorError{Op: op, Err: fmt.Errorf("artifact exceeds %d bytes", c.maxArtifactBytes)}
	}
	if len(content) == 0 {
		return nil, &models.TransientCollaboratorError{Op: op, Err: errors.New("empty artifact")}
	}

	artifact := &models.Artifact{
		Content:     content,
		ContentType: resp.Header.Get("Content-Type"),
		FileName:    FileNameFromDisposition(resp.Header.Get("Content-Disposition")),
	}
	if artifact.ContentType == "" {
		artifact.ContentType = models.DefaultArtifactContentType
	}
	if artifact.FileName == "" {
		artifact.FileName = models.DefaultArtifactFileName(req.SubmissionID)
	}

	c.logger.Debug().
		Str("submission_id", req.SubmissionID).
		Int("size", len(content)).
		Str("file_name", artifact.FileName).
		Msg("Artifact generated")

	return artifact, nil
}

func (c *analysisClient) post(ctx context.Context, client *http.Client, endpoint string, payload interface{}) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	return resp, nil
}

// FileNameFromDisposition returns the filename parameter or "" when absent or malformed.
func FileNameFromDisposition(header string) string {
	if header == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(header)
	if err != nil {
		return ""
	}
	name := strings.TrimSpace(params["filename"])
	// only the base name, never a path from the remote side
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	return name
}

func readSnippet(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 512))
	return strings.TrimSpace(string(b))
}
