package worker

import (
	"context"

	"github.com/ternarybob/quorum/internal/orchestrator"
)

// ExtractionExecutor routes extraction messages into the orchestrator.
type ExtractionExecutor struct {
	orch *orchestrator.Orchestrator
}

func NewExtractionExecutor(orch *orchestrator.Orchestrator) *ExtractionExecutor {
	return &ExtractionExecutor{orch: orch}
}

func (e *ExtractionExecutor) Execute(ctx context.Context, jobID string, payload []byte) error {
	return e.orch.ProcessJob(ctx, jobID)
}
