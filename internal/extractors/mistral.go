// -----------------------------------------------------------------------
// Mistral Extractor - Hosted OCR over HTTP (priority 4, remote)
// Gated on an API key; participates in parallel_all and hybrid strategies
// -----------------------------------------------------------------------

package extractors

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/quorum/internal/common"
	"github.com/ternarybob/quorum/internal/models"
)

const (
	mistralName       = "mistral"
	mistralVersion    = "ocr-latest"
	mistralPriority   = 4
	mistralConfidence = 0.90
)

// MistralExtractor sends the document to a hosted OCR endpoint and returns
// the page markdown it reports. The request body carries the document as a
// base64 data URL; the response is one markdown string per page.
type MistralExtractor struct {
	config *common.MistralConfig
	client *http.Client
	logger arbor.ILogger
}

func NewMistralExtractor(config *common.MistralConfig, logger arbor.ILogger) *MistralExtractor {
	timeout := common.ParseDurationOr(config.Timeout, 120*time.Second)
	return &MistralExtractor{
		config: config,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

func (e *MistralExtractor) Name() string    { return mistralName }
func (e *MistralExtractor) Version() string { return mistralVersion }
func (e *MistralExtractor) Priority() int   { return mistralPriority }
func (e *MistralExtractor) Remote() bool    { return true }

func (e *MistralExtractor) Capabilities() models.Capabilities {
	return models.Capabilities{
		SupportsTables:   true,
		SupportsFormulas: true,
		SupportsImages:   true,
		SupportsOCR:      true,
		Precision:        models.LevelHigh,
		Speed:            models.SpeedMedium,
	}
}

func (e *MistralExtractor) IsAvailable() bool {
	return e.config.Enabled && e.config.APIKey != "" && e.config.Endpoint != ""
}

type mistralRequest struct {
	Model    string          `json:"model"`
	Document mistralDocument `json:"document"`
}

type mistralDocument struct {
	Type        string `json:"type"`
	DocumentURL string `json:"document_url"`
}

type mistralResponse struct {
	Pages []struct {
		Index    int    `json:"index"`
		Markdown string `json:"markdown"`
	} `json:"pages"`
}

func (e *MistralExtractor) Extract(ctx context.Context, filePath string, opts models.ExtractionOptions) models.CandidateExtraction {
	start := time.Now()

	data, err := os.ReadFile(filePath)
	if err != nil {
		return models.FailedCandidate(mistralName, mistralVersion, mistralPriority, models.ErrKindExtractorError,
			fmt.Sprintf("read input: %v", err))
	}

	reqBody := mistralRequest{
		Model: "mistral-ocr-latest",
		Document: mistralDocument{
			Type:        "document_url",
			DocumentURL: "data:application/pdf;base64," + base64.StdEncoding.EncodeToString(data),
		},
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return models.FailedCandidate(mistralName, mistralVersion, mistralPriority, models.ErrKindExtractorError, err.Error())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.config.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return models.FailedCandidate(mistralName, mistralVersion, mistralPriority, models.ErrKindExtractorError, err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.config.APIKey)

	resp, err := e.client.Do(req)
	if err != nil {
		kind := models.ErrKindExtractorError
		if ctx.Err() == context.DeadlineExceeded {
			kind = models.ErrKindExtractorTimeout
		}
		return models.FailedCandidate(mistralName, mistralVersion, mistralPriority, kind, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return models.FailedCandidate(mistralName, mistralVersion, mistralPriority, models.ErrKindExtractorError,
			fmt.Sprintf("ocr endpoint returned %d: %s", resp.StatusCode, string(body)))
	}

	var ocr mistralResponse
	if err := json.NewDecoder(resp.Body).Decode(&ocr); err != nil {
		return models.FailedCandidate(mistralName, mistralVersion, mistralPriority, models.ErrKindExtractorError,
			fmt.Sprintf("decode response: %v", err))
	}

	var builder strings.Builder
	for i, page := range ocr.Pages {
		if i > 0 {
			builder.WriteString("\n\n")
		}
		builder.WriteString(page.Markdown)
	}
	markdown := builder.String()

	elapsed := time.Since(start)
	e.logger.Debug().
		Str("extractor", mistralName).
		Int("pages", len(ocr.Pages)).
		Int("chars", len(markdown)).
		Dur("elapsed", elapsed).
		Msg("Extraction complete")

	return models.CandidateExtraction{
		ExtractorName:    mistralName,
		ExtractorVersion: mistralVersion,
		Priority:         mistralPriority,
		Markdown:         markdown,
		Confidence:       mistralConfidence,
		ElapsedMs:        elapsed.Milliseconds(),
		PageCount:        len(ocr.Pages),
		Success:          len(markdown) > 0,
	}
}
