// -----------------------------------------------------------------------
// Resource Gate - Advisory memory-headroom admission for parallel work
// -----------------------------------------------------------------------

package resources

import (
	"fmt"

	"github.com/pbnjay/memory"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/quorum/internal/models"
)

// Gate samples free system memory before a parallel strategy is admitted.
// Below the configured floor it downgrades parallel_all to parallel_local
// and parallel_local to fallback. Advisory only: the gate never fails a
// job, it just narrows the fan-out.
type Gate struct {
	minFreePct int
	logger     arbor.ILogger

	// freeMemory and totalMemory are swappable for tests
	freeMemory  func() uint64
	totalMemory func() uint64
}

func NewGate(minFreePct int, logger arbor.ILogger) *Gate {
	if minFreePct <= 0 {
		minFreePct = 25
	}
	return &Gate{
		minFreePct:  minFreePct,
		logger:      logger,
		freeMemory:  memory.FreeMemory,
		totalMemory: memory.TotalMemory,
	}
}

// Admit returns the strategy to run and a non-empty reason when it was
// downgraded.
func (g *Gate) Admit(strategy models.Strategy) (models.Strategy, string) {
	if strategy != models.StrategyParallelAll && strategy != models.StrategyParallelLocal {
		return strategy, ""
	}

	total := g.totalMemory()
	free := g.freeMemory()
	if total == 0 {
		return strategy, ""
	}
	freePct := int(free * 100 / total)
	if freePct >= g.minFreePct {
		return strategy, ""
	}

	downgraded := models.StrategyFallback
	if strategy == models.StrategyParallelAll {
		downgraded = models.StrategyParallelLocal
	}

	reason := fmt.Sprintf("free memory %d%% below floor %d%%, downgraded %s to %s",
		freePct, g.minFreePct, strategy, downgraded)
	g.logger.Warn().
		Int("free_pct", freePct).
		Int("floor_pct", g.minFreePct).
		Str("from", string(strategy)).
		Str("to", string(downgraded)).
		Msg("Resource gate downgraded strategy")

	return downgraded, reason
}
