package resources

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ternarybob/quorum/internal/common"
	"github.com/ternarybob/quorum/internal/models"
)

func gateWithMemory(t *testing.T, minFreePct int, free, total uint64) *Gate {
	t.Helper()
	g := NewGate(minFreePct, common.GetLogger())
	g.freeMemory = func() uint64 { return free }
	g.totalMemory = func() uint64 { return total }
	return g
}

func TestAdmitPassesWhenHeadroomOK(t *testing.T) {
	g := gateWithMemory(t, 25, 50, 100)

	strategy, reason := g.Admit(models.StrategyParallelAll)
	assert.Equal(t, models.StrategyParallelAll, strategy)
	assert.Empty(t, reason)
}

func TestAdmitDowngradesParallelAll(t *testing.T) {
	g := gateWithMemory(t, 25, 10, 100)

	strategy, reason := g.Admit(models.StrategyParallelAll)
	assert.Equal(t, models.StrategyParallelLocal, strategy)
	assert.Contains(t, reason, "below floor")
}

func TestAdmitDowngradesParallelLocal(t *testing.T) {
	g := gateWithMemory(t, 25, 10, 100)

	strategy, reason := g.Admit(models.StrategyParallelLocal)
	assert.Equal(t, models.StrategyFallback, strategy)
	assert.NotEmpty(t, reason)
}

func TestAdmitIgnoresNonParallelStrategies(t *testing.T) {
	g := gateWithMemory(t, 25, 0, 100)

	for _, s := range []models.Strategy{models.StrategyFallback, models.StrategyHybrid} {
		strategy, reason := g.Admit(s)
		assert.Equal(t, s, strategy)
		assert.Empty(t, reason)
	}
}

func TestAdmitPassesWhenTotalUnknown(t *testing.T) {
	g := gateWithMemory(t, 25, 0, 0)

	strategy, reason := g.Admit(models.StrategyParallelAll)
	assert.Equal(t, models.StrategyParallelAll, strategy)
	assert.Empty(t, reason)
}

func TestAdmitAtExactFloor(t *testing.T) {
	g := gateWithMemory(t, 25, 25, 100)

	strategy, reason := g.Admit(models.StrategyParallelAll)
	assert.Equal(t, models.StrategyParallelAll, strategy)
	assert.Empty(t, reason)
}

func TestNewGateDefaultsFloor(t *testing.T) {
	g := NewGate(0, common.GetLogger())
	assert.Equal(t, 25, g.minFreePct)
}
