package orchestrator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/quorum/internal/common"
	"github.com/ternarybob/quorum/internal/executor"
	"github.com/ternarybob/quorum/internal/interfaces"
	"github.com/ternarybob/quorum/internal/models"
	"github.com/ternarybob/quorum/internal/services/compare"
	"github.com/ternarybob/quorum/internal/services/documents"
	"github.com/ternarybob/quorum/internal/services/merge"
	"github.com/ternarybob/quorum/internal/services/webhook"
	badgerstore "github.com/ternarybob/quorum/internal/storage/badger"
	"github.com/ternarybob/quorum/internal/tracker"
)

// fakeExtractor is a canned extractor for pipeline tests.
type fakeExtractor struct {
	name     string
	priority int
	remote   bool
	markdown string
	conf     float64
	fail     models.ErrorKind
	delay    time.Duration
	calls    atomic.Int32
}

func (f *fakeExtractor) Name() string                      { return f.name }
func (f *fakeExtractor) Version() string                   { return "test" }
func (f *fakeExtractor) Priority() int                     { return f.priority }
func (f *fakeExtractor) Capabilities() models.Capabilities { return models.Capabilities{} }
func (f *fakeExtractor) IsAvailable() bool                 { return true }
func (f *fakeExtractor) Remote() bool                      { return f.remote }

func (f *fakeExtractor) Extract(ctx context.Context, filePath string, opts models.ExtractionOptions) models.CandidateExtraction {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return models.FailedCandidate(f.name, "test", f.priority, models.ErrKindExtractorTimeout, ctx.Err().Error())
		}
	}
	if f.fail != "" {
		return models.FailedCandidate(f.name, "test", f.priority, f.fail, "injected failure")
	}
	return models.CandidateExtraction{
		ExtractorName:    f.name,
		ExtractorVersion: "test",
		Priority:         f.priority,
		Markdown:         f.markdown,
		Confidence:       f.conf,
		Success:          true,
		PageCount:        1,
	}
}

type fakeRegistry struct{ pool []interfaces.Extractor }

func (r *fakeRegistry) All() []interfaces.Extractor       { return r.pool }
func (r *fakeRegistry) Available() []interfaces.Extractor { return r.pool }
func (r *fakeRegistry) Get(name string) interfaces.Extractor {
	for _, e := range r.pool {
		if e.Name() == name {
			return e
		}
	}
	return nil
}

type fakeAnalyzer struct{ report models.ComplexityReport }

func (a *fakeAnalyzer) Analyze(ctx context.Context, filePath, contentHash string, opts models.ExtractionOptions, force models.ComplexityClass) (*models.ComplexityReport, error) {
	report := a.report
	if force != "" {
		report.Class = force
		report.Forced = true
	}
	return &report, nil
}

type passGate struct{}

func (passGate) Admit(s models.Strategy) (models.Strategy, string) { return s, "" }

type downgradeGate struct{}

func (downgradeGate) Admit(s models.Strategy) (models.Strategy, string) {
	if s == models.StrategyParallelAll {
		return models.StrategyParallelLocal, "free memory below floor"
	}
	return s, ""
}

type harness struct {
	orch    *Orchestrator
	tracker *tracker.Tracker
}

func newHarness(t *testing.T, pool []interfaces.Extractor, gate interfaces.ResourceGate, class models.ComplexityClass) *harness {
	t.Helper()
	logger := common.GetLogger()

	cfg := common.NewDefaultConfig()
	cfg.Storage.Badger.Path = t.TempDir()
	cfg.Storage.Output.Dir = t.TempDir()

	manager, err := badgerstore.NewManager(cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = manager.Close() })

	tr := tracker.New(manager.JobStorage(), nil, logger)
	exec := executor.New(3, 5*time.Second, logger)
	comparator := compare.New(0.90, 0.95, logger)
	merger := merge.New(logger)
	writer := documents.NewWriter(cfg.Storage.Output.Dir, logger)

	dispCfg := cfg.Webhook
	dispCfg.InitialBackoff = "1ms"
	dispatcher := webhook.NewDispatcher(&dispCfg, "http://localhost:8080", logger)

	orch := New(tr, &fakeAnalyzer{report: models.ComplexityReport{Score: 70, Class: class, PageCount: 1}},
		gate, &fakeRegistry{pool: pool}, exec, comparator, merger, writer, dispatcher, cfg, logger)

	return &harness{orch: orch, tracker: tr}
}

func pdfFixture(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "doc.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4\nfixture"), 0644))
	return path
}

func submit(t *testing.T, h *harness, strategy models.Strategy, mutate func(*models.Job)) *models.Job {
	t.Helper()
	job := models.NewJob(models.SourceRef{Path: pdfFixture(t), ContentHash: "hash"}, strategy, models.ExtractionOptions{})
	if mutate != nil {
		mutate(job)
	}
	require.NoError(t, h.tracker.Create(context.Background(), job))
	return job
}

func TestParallelConsensusCompletes(t *testing.T) {
	md := "# Title\n\nAgreed content for everyone.\n"
	h := newHarness(t, []interfaces.Extractor{
		&fakeExtractor{name: "docling", priority: 1, markdown: md, conf: 0.92},
		&fakeExtractor{name: "mineru", priority: 2, markdown: md, conf: 0.85},
	}, passGate{}, models.ComplexityComplex)

	job := submit(t, h, models.StrategyParallelLocal, nil)
	require.NoError(t, h.orch.ProcessJob(context.Background(), job.ID))

	final, err := h.tracker.Read(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStateCompleted, final.State)
	assert.Equal(t, 100, final.ProgressPct)
	assert.Empty(t, final.Divergences)
	require.NotNil(t, final.Result)
	assert.Contains(t, final.Result.Markdown, "Agreed content")
	assert.NotEmpty(t, final.OutputDir)

	_, err = os.Stat(filepath.Join(final.OutputDir, "document.md"))
	assert.NoError(t, err)
}

func TestHardDivergenceUnderManualPolicyParksForReview(t *testing.T) {
	h := newHarness(t, []interfaces.Extractor{
		&fakeExtractor{name: "docling", priority: 1, conf: 0.92, markdown: "# T\n\nRevenue grew twelve percent this quarter.\n"},
		&fakeExtractor{name: "mineru", priority: 2, conf: 0.85, markdown: "# T\n\nEntirely different text about penguin migration.\n"},
	}, passGate{}, models.ComplexityComplex)

	job := submit(t, h, models.StrategyParallelLocal, func(j *models.Job) {
		j.MergePolicy = models.PolicyManual
	})
	require.NoError(t, h.orch.ProcessJob(context.Background(), job.ID))

	final, err := h.tracker.Read(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStateNeedsReview, final.State)
	assert.Equal(t, 80, final.ProgressPct)
	assert.NotEmpty(t, final.Divergences)
	require.NotNil(t, final.Result)
	assert.True(t, final.Result.NeedsReview)
	assert.NotEmpty(t, final.Result.UnresolvedIDs)
}

func TestHardDivergenceDefaultPolicyParksForReview(t *testing.T) {
	h := newHarness(t, []interfaces.Extractor{
		&fakeExtractor{name: "docling", priority: 1, conf: 0.92, markdown: "# T\n\nRevenue grew twelve percent this quarter.\n"},
		&fakeExtractor{name: "mineru", priority: 2, conf: 0.85, markdown: "# T\n\nEntirely different text about penguin migration.\n"},
	}, passGate{}, models.ComplexityComplex)

	// No merge policy on the job: hard divergences go to a human
	job := submit(t, h, models.StrategyParallelLocal, nil)
	require.NoError(t, h.orch.ProcessJob(context.Background(), job.ID))

	final, err := h.tracker.Read(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStateNeedsReview, final.State)
	assert.Equal(t, 80, final.ProgressPct)
	assert.NotEmpty(t, final.Divergences)
	require.NotNil(t, final.Result)
	assert.True(t, final.Result.NeedsReview)
	assert.NotEmpty(t, final.Result.UnresolvedIDs)
}

func TestHardDivergenceExplicitPolicyCompletes(t *testing.T) {
	h := newHarness(t, []interfaces.Extractor{
		&fakeExtractor{name: "docling", priority: 1, conf: 0.92, markdown: "# T\n\nRevenue grew twelve percent this quarter.\n"},
		&fakeExtractor{name: "mineru", priority: 2, conf: 0.85, markdown: "# T\n\nEntirely different text about penguin migration.\n"},
	}, passGate{}, models.ComplexityComplex)

	job := submit(t, h, models.StrategyParallelLocal, func(j *models.Job) {
		j.MergePolicy = models.PolicyHighestConfidence
	})
	require.NoError(t, h.orch.ProcessJob(context.Background(), job.ID))

	final, err := h.tracker.Read(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStateCompleted, final.State)
	assert.Contains(t, final.Result.Markdown, "Revenue grew twelve percent")
}

func TestFallbackStrategyStopsAtFirstSuccess(t *testing.T) {
	second := &fakeExtractor{name: "mineru", priority: 2, conf: 0.85, markdown: "# B\n"}
	h := newHarness(t, []interfaces.Extractor{
		&fakeExtractor{name: "docling", priority: 1, conf: 0.92, markdown: "# A\n\nFirst extractor output.\n"},
		second,
	}, passGate{}, models.ComplexityComplex)

	job := submit(t, h, models.StrategyFallback, nil)
	require.NoError(t, h.orch.ProcessJob(context.Background(), job.ID))

	final, err := h.tracker.Read(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStateCompleted, final.State)
	assert.Contains(t, final.Result.Markdown, "First extractor output")
	assert.Equal(t, int32(0), second.calls.Load())
}

func TestSimpleClassForcesSequentialPipeline(t *testing.T) {
	second := &fakeExtractor{name: "mineru", priority: 2, conf: 0.85, markdown: "# B\n"}
	h := newHarness(t, []interfaces.Extractor{
		&fakeExtractor{name: "docling", priority: 1, conf: 0.92, markdown: "# A\n\nText.\n"},
		second,
	}, passGate{}, models.ComplexitySimple)

	job := submit(t, h, models.StrategyParallelLocal, nil)
	require.NoError(t, h.orch.ProcessJob(context.Background(), job.ID))

	final, err := h.tracker.Read(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStateCompleted, final.State)
	assert.Equal(t, models.StrategyFallback, final.Strategy)
	assert.Equal(t, int32(0), second.calls.Load())
}

func TestAllExtractorsFailingFailsJob(t *testing.T) {
	h := newHarness(t, []interfaces.Extractor{
		&fakeExtractor{name: "docling", priority: 1, fail: models.ErrKindExtractorError},
		&fakeExtractor{name: "mineru", priority: 2, fail: models.ErrKindExtractorError},
	}, passGate{}, models.ComplexityComplex)

	job := submit(t, h, models.StrategyParallelLocal, nil)
	require.NoError(t, h.orch.ProcessJob(context.Background(), job.ID))

	final, err := h.tracker.Read(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStateFailed, final.State)
	require.NotNil(t, final.LastError)
	assert.Equal(t, models.ErrKindExtractorError, final.LastError.Kind)
}

func TestParallelLocalFallsBackToRemote(t *testing.T) {
	remote := &fakeExtractor{name: "mistral", priority: 4, remote: true, conf: 0.9, markdown: "# R\n\nRemote rescue output.\n"}
	h := newHarness(t, []interfaces.Extractor{
		&fakeExtractor{name: "docling", priority: 1, fail: models.ErrKindExtractorError},
		remote,
	}, passGate{}, models.ComplexityComplex)

	job := submit(t, h, models.StrategyParallelLocal, nil)
	require.NoError(t, h.orch.ProcessJob(context.Background(), job.ID))

	final, err := h.tracker.Read(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStateCompleted, final.State)
	assert.Contains(t, final.Result.Markdown, "Remote rescue output")
	assert.Equal(t, int32(1), remote.calls.Load())
}

func TestGateDowngradeRecorded(t *testing.T) {
	md := "# Title\n\nShared.\n"
	h := newHarness(t, []interfaces.Extractor{
		&fakeExtractor{name: "docling", priority: 1, conf: 0.92, markdown: md},
		&fakeExtractor{name: "mineru", priority: 2, conf: 0.85, markdown: md},
		&fakeExtractor{name: "mistral", priority: 4, remote: true, conf: 0.9, markdown: md},
	}, downgradeGate{}, models.ComplexityComplex)

	job := submit(t, h, models.StrategyParallelAll, nil)
	require.NoError(t, h.orch.ProcessJob(context.Background(), job.ID))

	final, err := h.tracker.Read(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StrategyParallelLocal, final.Strategy)
	assert.Contains(t, final.Metadata["strategy_downgrade"], "free memory")
	// Remote extractor excluded after downgrade
	_, ok := final.Aggregation.Extractors["mistral"]
	assert.False(t, ok)
}

func TestInvalidSourceRejected(t *testing.T) {
	h := newHarness(t, []interfaces.Extractor{
		&fakeExtractor{name: "docling", priority: 1, conf: 0.9, markdown: "# A\n"},
	}, passGate{}, models.ComplexitySimple)

	path := filepath.Join(t.TempDir(), "not.pdf")
	require.NoError(t, os.WriteFile(path, []byte("plain text"), 0644))

	job := models.NewJob(models.SourceRef{Path: path, ContentHash: "h"}, models.StrategyFallback, models.ExtractionOptions{})
	require.NoError(t, h.tracker.Create(context.Background(), job))
	require.NoError(t, h.orch.ProcessJob(context.Background(), job.ID))

	final, err := h.tracker.Read(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStateFailed, final.State)
	require.NotNil(t, final.LastError)
	assert.Equal(t, models.ErrKindInputRejected, final.LastError.Kind)
}

func TestTerminalRedeliveryIsNoOp(t *testing.T) {
	extractor := &fakeExtractor{name: "docling", priority: 1, conf: 0.9, markdown: "# A\n\nText.\n"}
	h := newHarness(t, []interfaces.Extractor{extractor}, passGate{}, models.ComplexitySimple)

	job := submit(t, h, models.StrategyFallback, nil)
	require.NoError(t, h.orch.ProcessJob(context.Background(), job.ID))
	require.NoError(t, h.orch.ProcessJob(context.Background(), job.ID))

	assert.Equal(t, int32(1), extractor.calls.Load())
}

func TestCompletionWebhookDelivered(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	h := newHarness(t, []interfaces.Extractor{
		&fakeExtractor{name: "docling", priority: 1, conf: 0.9, markdown: "# A\n\nText.\n"},
	}, passGate{}, models.ComplexitySimple)

	job := submit(t, h, models.StrategyFallback, func(j *models.Job) {
		j.CallbackURL = server.URL
	})
	require.NoError(t, h.orch.ProcessJob(context.Background(), job.ID))

	final, err := h.tracker.Read(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load())
	assert.True(t, final.WebhookDelivered)
}

func TestWebhookFailureDoesNotRegressState(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	h := newHarness(t, []interfaces.Extractor{
		&fakeExtractor{name: "docling", priority: 1, conf: 0.9, markdown: "# A\n\nText.\n"},
	}, passGate{}, models.ComplexitySimple)

	job := submit(t, h, models.StrategyFallback, func(j *models.Job) {
		j.CallbackURL = server.URL
	})
	require.NoError(t, h.orch.ProcessJob(context.Background(), job.ID))

	final, err := h.tracker.Read(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStateCompleted, final.State)
	assert.False(t, final.WebhookDelivered)
	assert.NotEmpty(t, final.WebhookError)
}

func TestHybridEscalatesToRemoteOnHardDivergence(t *testing.T) {
	remote := &fakeExtractor{name: "mistral", priority: 4, remote: true, conf: 0.95,
		markdown: "# T\n\nRevenue grew twelve percent this quarter.\n"}
	h := newHarness(t, []interfaces.Extractor{
		&fakeExtractor{name: "docling", priority: 1, conf: 0.92, markdown: "# T\n\nRevenue grew twelve percent this quarter.\n"},
		&fakeExtractor{name: "mineru", priority: 2, conf: 0.85, markdown: "# T\n\nEntirely different text about penguin migration.\n"},
		remote,
	}, passGate{}, models.ComplexityComplex)

	job := submit(t, h, models.StrategyHybrid, nil)
	require.NoError(t, h.orch.ProcessJob(context.Background(), job.ID))

	final, err := h.tracker.Read(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStateCompleted, final.State)
	assert.Equal(t, int32(1), remote.calls.Load())
	_, ok := final.Aggregation.Extractors["mistral"]
	assert.True(t, ok)
}
