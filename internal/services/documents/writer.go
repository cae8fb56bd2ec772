// -----------------------------------------------------------------------
// Document Writer - Per-job output artifact layout
// -----------------------------------------------------------------------

package documents

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/quorum/internal/models"
)

// Writer lays out the artifact directory for a finished job:
//
//	{base}/{job_id}/document.md
//	{base}/{job_id}/metadata.json
//	{base}/{job_id}/extraction_report.json
//	{base}/{job_id}/images/
//	{base}/{job_id}/tables/table_{n}.csv
type Writer struct {
	baseDir string
	logger  arbor.ILogger
}

func NewWriter(baseDir string, logger arbor.ILogger) *Writer {
	return &Writer{baseDir: baseDir, logger: logger}
}

type metadata struct {
	JobID       string                   `json:"job_id"`
	State       models.JobState          `json:"state"`
	Strategy    models.Strategy          `json:"strategy"`
	Pages       int                      `json:"pages"`
	Tables      int                      `json:"tables"`
	Images      []models.ImageRef        `json:"images,omitempty"`
	Complexity  *models.ComplexityReport `json:"complexity,omitempty"`
	Policy      models.MergePolicy       `json:"merge_policy,omitempty"`
	CreatedAt   time.Time                `json:"created_at"`
	CompletedAt *time.Time               `json:"completed_at,omitempty"`
}

type extractionReport struct {
	JobID       string                    `json:"job_id"`
	Aggregation *models.AggregationReport `json:"aggregation,omitempty"`
	Divergences []models.Divergence       `json:"divergences,omitempty"`
	Resolutions []models.Resolution       `json:"resolutions,omitempty"`
	Consensus   bool                      `json:"consensus"`
}

// Write persists all artifacts and returns the job's directory.
func (w *Writer) Write(ctx context.Context, job *models.Job) (string, error) {
	if job.Result == nil {
		return "", fmt.Errorf("job %s has no merged result", job.ID)
	}

	dir := filepath.Join(w.baseDir, job.ID)
	for _, sub := range []string{"", "images", "tables"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0755); err != nil {
			return "", fmt.Errorf("create output dir: %w", err)
		}
	}

	if err := os.WriteFile(filepath.Join(dir, "document.md"), []byte(job.Result.Markdown), 0644); err != nil {
		return "", fmt.Errorf("write document: %w", err)
	}

	selected := selectedCandidate(job)

	meta := metadata{
		JobID:       job.ID,
		State:       job.State,
		Strategy:    job.Strategy,
		Complexity:  job.Complexity,
		Policy:      job.Result.Policy,
		CreatedAt:   job.CreatedAt,
		CompletedAt: job.TerminalAt,
	}
	if job.Complexity != nil {
		meta.Pages = job.Complexity.PageCount
	}
	if selected != nil {
		if meta.Pages == 0 {
			meta.Pages = selected.PageCount
		}
		meta.Tables = len(selected.Tables)
		meta.Images = selected.Images
	}
	if err := writeJSON(filepath.Join(dir, "metadata.json"), meta); err != nil {
		return "", err
	}

	report := extractionReport{
		JobID:       job.ID,
		Aggregation: job.Aggregation,
		Divergences: job.Divergences,
		Resolutions: job.Result.Resolutions,
		Consensus:   len(job.Divergences) == 0,
	}
	if err := writeJSON(filepath.Join(dir, "extraction_report.json"), report); err != nil {
		return "", err
	}

	if selected != nil {
		for i, table := range selected.Tables {
			if err := writeTableCSV(filepath.Join(dir, "tables", fmt.Sprintf("table_%d.csv", i)), table); err != nil {
				return "", err
			}
		}
	}

	w.logger.Info().Str("job_id", job.ID).Str("dir", dir).Msg("Artifacts written")
	return dir, nil
}

// Artifact returns the bytes and content type of a named artifact. Names
// are resolved strictly inside the job directory.
func (w *Writer) Artifact(ctx context.Context, job *models.Job, name string) ([]byte, string, error) {
	dir := filepath.Join(w.baseDir, job.ID)

	cleaned := filepath.Clean(name)
	if cleaned == "." || strings.HasPrefix(cleaned, "..") || filepath.IsAbs(cleaned) {
		return nil, "", fmt.Errorf("invalid artifact name %q", name)
	}

	path := filepath.Join(dir, cleaned)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("read artifact %s: %w", cleaned, err)
	}
	return data, contentType(cleaned), nil
}

// Remove deletes the job's artifact directory.
func (w *Writer) Remove(ctx context.Context, jobID string) error {
	if jobID == "" {
		return fmt.Errorf("empty job id")
	}
	return os.RemoveAll(filepath.Join(w.baseDir, jobID))
}

// selectedCandidate finds the candidate the aggregation chose.
func selectedCandidate(job *models.Job) *models.CandidateExtraction {
	if job.Aggregation == nil {
		return nil
	}
	for i := range job.Candidates {
		if job.Candidates[i].ExtractorName == job.Aggregation.SelectedExtractor {
			return &job.Candidates[i]
		}
	}
	return nil
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}

func writeTableCSV(path string, table models.Table) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	if err := cw.WriteAll(table.Rows); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}

func contentType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".md":
		return "text/markdown; charset=utf-8"
	case ".json":
		return "application/json"
	case ".csv":
		return "text/csv"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	default:
		return "application/octet-stream"
	}
}
