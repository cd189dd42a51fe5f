package callback

import (
	"sync"

	"github.com/wadang/cua/internal/cuaerr"
	"github.com/wadang/cua/internal/schema"
)

// BudgetCap enforces the run's configured cost/token ceiling (spec.md §7
// step/budget limits). The orchestrator calls Track after every adapter
// Step with the usage it just consumed; Track returns
// *cuaerr.BudgetExceeded once the configured limit is crossed, which the
// orchestrator treats as a clean DONE (a completed run) rather than routing
// through retry/backoff.
type BudgetCap struct {
	MaxCost   float64 // 0 disables the cost ceiling
	MaxTokens int     // 0 disables the token ceiling

	mu    sync.Mutex
	spent schema.Usage
}

func NewBudgetCap(maxCost float64, maxTokens int) *BudgetCap {
	return &BudgetCap{MaxCost: maxCost, MaxTokens: maxTokens}
}

// Track accumulates usage and returns a BudgetExceeded error the first
// time either configured ceiling is crossed.
func (b *BudgetCap) Track(usage schema.Usage) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.spent = b.spent.Add(usage)

	if b.MaxCost > 0 && b.spent.ResponseCost > b.MaxCost {
		return &cuaerr.BudgetExceeded{Limit: b.MaxCost, Spent: b.spent.ResponseCost}
	}
	if b.MaxTokens > 0 && b.spent.TotalTokens > b.MaxTokens {
		return &cuaerr.BudgetExceeded{Limit: float64(b.MaxTokens), Spent: float64(b.spent.TotalTokens)}
	}
	return nil
}

// Spent returns the usage accumulated so far.
func (b *BudgetCap) Spent() schema.Usage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.spent
}
