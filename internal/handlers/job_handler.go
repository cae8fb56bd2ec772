// -----------------------------------------------------------------------
// Job Handler - Submission, status, result, review and arbitration
// -----------------------------------------------------------------------

package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/quorum/internal/common"
	"github.com/ternarybob/quorum/internal/interfaces"
	"github.com/ternarybob/quorum/internal/models"
	"github.com/ternarybob/quorum/internal/services/arbitration"
)

var pdfMagic = []byte("%PDF-")

// SubmitRequest is the job submission body. On multipart uploads it rides
// in the "request" form field next to the "file" part; on JSON submissions
// it is the body itself and must carry a source URL.
type SubmitRequest struct {
	URL             string                   `json:"url" validate:"omitempty,url"`
	Strategy        string                   `json:"strategy" validate:"omitempty,oneof=fallback parallel_local parallel_all hybrid"`
	Extractors      []string                 `json:"extractors" validate:"omitempty,dive,min=1"`
	ForceComplexity string                   `json:"force_complexity" validate:"omitempty,oneof=simple medium complex"`
	MergePolicy     string                   `json:"merge_policy"`
	CallbackURL     string                   `json:"callback_url" validate:"omitempty,url"`
	InlineResult    bool                     `json:"inline_result"`
	Options         models.ExtractionOptions `json:"options"`
}

// JobHandler serves the job control surface.
type JobHandler struct {
	tracker     interfaces.JobTracker
	queue       interfaces.QueueManager
	arbitration interfaces.ArbitrationService
	writer      interfaces.DocumentWriter
	events      interfaces.EventService
	cfg         *common.Config
	validate    *validator.Validate
	logger      arbor.ILogger
}

func NewJobHandler(
	tracker interfaces.JobTracker,
	queue interfaces.QueueManager,
	arb interfaces.ArbitrationService,
	writer interfaces.DocumentWriter,
	events interfaces.EventService,
	cfg *common.Config,
	logger arbor.ILogger,
) *JobHandler {
	return &JobHandler{
		tracker:     tracker,
		queue:       queue,
		arbitration: arb,
		writer:      writer,
		events:      events,
		cfg:         cfg,
		validate:    validator.New(),
		logger:      logger,
	}
}

// SubmitJob accepts a PDF by multipart upload or by URL reference, creates
// the pending job record and enqueues it for extraction.
func (h *JobHandler) SubmitJob(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req SubmitRequest
	var source models.SourceRef

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		path, size, err := h.acceptUpload(w, r, &req)
		if err != nil {
			WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		source = models.SourceRef{Path: path, SizeBytes: size}
	} else {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
			return
		}
		if req.URL == "" {
			WriteError(w, http.StatusBadRequest, "either a multipart file or a source url is required")
			return
		}
		source = models.SourceRef{URL: req.URL}
	}

	if err := h.validate.Struct(&req); err != nil {
		WriteError(w, http.StatusBadRequest, fmt.Sprintf("invalid submission: %v", err))
		return
	}
	if req.MergePolicy != "" && !validMergePolicy(models.MergePolicy(req.MergePolicy)) {
		WriteError(w, http.StatusBadRequest, fmt.Sprintf("unknown merge policy %q", req.MergePolicy))
		return
	}

	strategy := models.Strategy(req.Strategy)
	if req.Strategy == "" {
		strategy = models.Strategy(h.cfg.Extraction.DefaultStrategy)
	}

	job := models.NewJob(source, strategy, req.Options)
	job.RequestedExtractors = req.Extractors
	job.ForceComplexity = models.ComplexityClass(req.ForceComplexity)
	job.MergePolicy = models.MergePolicy(req.MergePolicy)
	job.CallbackURL = req.CallbackURL
	job.InlineResult = req.InlineResult

	ctx := r.Context()
	if err := h.tracker.Create(ctx, job); err != nil {
		h.logger.Error().Err(err).Msg("Failed to create job")
		WriteError(w, http.StatusInternalServerError, "failed to create job")
		return
	}

	if _, err := h.queue.Enqueue(ctx, &models.QueueMessage{
		JobID:   job.ID,
		Type:    models.MessageTypeExtraction,
		Payload: json.RawMessage(`{}`),
	}); err != nil {
		h.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to enqueue job")
		WriteError(w, http.StatusInternalServerError, "failed to enqueue job")
		return
	}

	_ = h.events.Publish(ctx, interfaces.Event{Type: interfaces.EventJobCreated, JobID: job.ID})

	h.logger.Info().
		Str("job_id", job.ID).
		Str("strategy", string(strategy)).
		Msg("Job submitted")

	WriteJSON(w, http.StatusAccepted, statusOf(job))
}

// GetJob returns the job status snapshot.
func (h *JobHandler) GetJob(w http.ResponseWriter, r *http.Request, jobID string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	job, ok := h.readJob(w, r, jobID)
	if !ok {
		return
	}
	WriteJSON(w, http.StatusOK, statusOf(job))
}

// GetResult returns the merged document of a completed job.
func (h *JobHandler) GetResult(w http.ResponseWriter, r *http.Request, jobID string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	job, ok := h.readJob(w, r, jobID)
	if !ok {
		return
	}

	switch job.State {
	case models.JobStateCompleted:
	case models.JobStateNeedsReview:
		WriteError(w, http.StatusConflict, "job needs review; fetch the review payload and arbitrate")
		return
	default:
		WriteError(w, http.StatusConflict, fmt.Sprintf("job is %s, result not available", job.State))
		return
	}
	if job.Result == nil {
		WriteError(w, http.StatusNotFound, "job has no result")
		return
	}

	result := map[string]interface{}{
		"job_id":      job.ID,
		"state":       job.State,
		"markdown":    job.Result.Markdown,
		"policy":      job.Result.Policy,
		"resolutions": job.Result.Resolutions,
		"aggregation": job.Aggregation,
		"output_dir":  job.OutputDir,
	}
	if job.Complexity != nil {
		result["complexity"] = job.Complexity
	}
	if len(job.Metadata) > 0 {
		result["metadata"] = job.Metadata
	}
	// Candidates and divergences only exist when more than one extractor ran
	if len(job.Candidates) > 1 {
		result["all_candidates"] = job.Candidates
		result["divergences"] = job.Divergences
	}
	WriteJSON(w, http.StatusOK, result)
}

// reviewOption labels one candidate a reviewer can pick for a divergence.
type reviewOption struct {
	Label     models.ResolutionChoice `json:"label"`
	Extractor string                  `json:"extractor"`
}

// GetReview returns the outstanding divergences of a NEEDS_REVIEW job with
// per-extractor excerpts and the choice labels arbitration accepts.
func (h *JobHandler) GetReview(w http.ResponseWriter, r *http.Request, jobID string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	job, ok := h.readJob(w, r, jobID)
	if !ok {
		return
	}
	if job.State != models.JobStateNeedsReview || job.Result == nil {
		WriteError(w, http.StatusConflict, fmt.Sprintf("job is %s, nothing to review", job.State))
		return
	}

	unresolved := make(map[string]bool, len(job.Result.UnresolvedIDs))
	for _, id := range job.Result.UnresolvedIDs {
		unresolved[id] = true
	}

	divergences := make([]models.Divergence, 0, len(job.Result.UnresolvedIDs))
	for _, d := range job.Divergences {
		if unresolved[d.ID] {
			divergences = append(divergences, d)
		}
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"job_id":           job.ID,
		"state":            job.State,
		"divergences":      divergences,
		"divergence_count": len(divergences),
		"options":          choiceOptions(job.Candidates),
		"draft":            job.Result.Markdown,
	})
}

// Arbitrate applies human choices to a NEEDS_REVIEW job.
func (h *JobHandler) Arbitrate(w http.ResponseWriter, r *http.Request, jobID string) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var body struct {
		Choices []models.ArbitrationChoice `json:"choices" validate:"required,min=1,dive"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if err := h.validate.Struct(&body); err != nil {
		WriteError(w, http.StatusBadRequest, fmt.Sprintf("invalid choices: %v", err))
		return
	}

	job, err := h.arbitration.Submit(r.Context(), jobID, body.Choices)
	if err != nil {
		switch {
		case errors.Is(err, interfaces.ErrKeyNotFound):
			WriteError(w, http.StatusNotFound, "job not found")
		case errors.Is(err, arbitration.ErrNotInReview),
			errors.Is(err, arbitration.ErrAlreadyClaimed):
			WriteError(w, http.StatusConflict, err.Error())
		case errors.Is(err, arbitration.ErrIncompleteChoices),
			errors.Is(err, arbitration.ErrUnknownDivergence):
			WriteError(w, http.StatusBadRequest, err.Error())
		default:
			h.logger.Error().Err(err).Str("job_id", jobID).Msg("Arbitration failed")
			WriteError(w, http.StatusInternalServerError, "arbitration failed")
		}
		return
	}

	status := statusOf(job)
	status["choices_applied"] = len(body.Choices)
	WriteJSON(w, http.StatusOK, status)
}

// artifactAliases maps the short download names onto the files the writer
// lays out in the job directory.
var artifactAliases = map[string]string{
	"markdown": "document.md",
	"metadata": "metadata.json",
	"report":   "extraction_report.json",
}

// DownloadArtifact streams one output artifact of a completed job.
func (h *JobHandler) DownloadArtifact(w http.ResponseWriter, r *http.Request, jobID, artifact string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	job, ok := h.readJob(w, r, jobID)
	if !ok {
		return
	}

	if mapped, ok := artifactAliases[artifact]; ok {
		artifact = mapped
	}

	data, contentType, err := h.writer.Artifact(r.Context(), job, artifact)
	if err != nil {
		WriteError(w, http.StatusNotFound, fmt.Sprintf("artifact %q not found", artifact))
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(artifact)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (h *JobHandler) readJob(w http.ResponseWriter, r *http.Request, jobID string) (*models.Job, bool) {
	job, err := h.tracker.Read(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, interfaces.ErrKeyNotFound) {
			WriteError(w, http.StatusNotFound, "job not found")
		} else {
			h.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to read job")
			WriteError(w, http.StatusInternalServerError, "failed to read job")
		}
		return nil, false
	}
	return job, true
}

// acceptUpload stores the multipart "file" part under the incoming
// directory and decodes the optional "request" field.
func (h *JobHandler) acceptUpload(w http.ResponseWriter, r *http.Request, req *SubmitRequest) (string, int64, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.Extraction.MaxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return "", 0, fmt.Errorf("upload exceeds %d bytes or is malformed", h.cfg.Extraction.MaxUploadBytes)
	}

	if raw := r.FormValue("request"); raw != "" {
		if err := json.Unmarshal([]byte(raw), req); err != nil {
			return "", 0, fmt.Errorf("invalid request field: %v", err)
		}
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		return "", 0, fmt.Errorf("missing file part")
	}
	defer file.Close()

	head := make([]byte, len(pdfMagic))
	if _, err := io.ReadFull(file, head); err != nil || !bytes.Equal(head, pdfMagic) {
		return "", 0, fmt.Errorf("file is not a PDF")
	}

	dir := filepath.Join(h.cfg.Storage.Output.Dir, "incoming")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", 0, fmt.Errorf("failed to prepare upload directory")
	}

	path := filepath.Join(dir, fmt.Sprintf("upload_%d.pdf", time.Now().UnixNano()))
	dst, err := os.Create(path)
	if err != nil {
		return "", 0, fmt.Errorf("failed to store upload")
	}
	defer dst.Close()

	if _, err := dst.Write(head); err != nil {
		return "", 0, fmt.Errorf("failed to store upload")
	}
	n, err := io.Copy(dst, file)
	if err != nil {
		return "", 0, fmt.Errorf("failed to store upload")
	}
	return path, n + int64(len(head)), nil
}

// statusOf projects the job record into the status payload.
func statusOf(job *models.Job) map[string]interface{} {
	status := map[string]interface{}{
		"job_id":       job.ID,
		"state":        job.State,
		"progress_pct": job.ProgressPct,
		"strategy":     job.Strategy,
		"created_at":   job.CreatedAt,
		"updated_at":   job.UpdatedAt,
	}
	if job.Complexity != nil {
		status["complexity"] = job.Complexity
	}
	if job.Aggregation != nil {
		status["aggregation"] = job.Aggregation
	}
	if job.LastError != nil {
		status["last_error"] = job.LastError
	}
	if job.OutputDir != "" {
		status["output_dir"] = job.OutputDir
	}
	if job.CallbackURL != "" {
		status["webhook_delivered"] = job.WebhookDelivered
		if job.WebhookError != "" {
			status["webhook_error"] = job.WebhookError
		}
	}
	return status
}

// choiceOptions labels the successful candidates A, B, C in rank order so
// review choices address a stable candidate list.
func choiceOptions(candidates []models.CandidateExtraction) []reviewOption {
	ranked := make([]models.CandidateExtraction, 0, len(candidates))
	for _, c := range candidates {
		if c.Success {
			ranked = append(ranked, c)
		}
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Confidence != ranked[j].Confidence {
			return ranked[i].Confidence > ranked[j].Confidence
		}
		if ranked[i].Priority != ranked[j].Priority {
			return ranked[i].Priority < ranked[j].Priority
		}
		return ranked[i].ExtractorName < ranked[j].ExtractorName
	})

	labels := []models.ResolutionChoice{models.ChoiceA, models.ChoiceB, models.ChoiceC}
	options := make([]reviewOption, 0, len(ranked))
	for i, c := range ranked {
		if i >= len(labels) {
			break
		}
		options = append(options, reviewOption{Label: labels[i], Extractor: c.ExtractorName})
	}
	return options
}

func validMergePolicy(p models.MergePolicy) bool {
	switch p {
	case models.PolicyHighestConfidence, models.PolicyAutoMergeHigh, models.PolicyManual:
		return true
	}
	return p.PreferredExtractor() != ""
}
