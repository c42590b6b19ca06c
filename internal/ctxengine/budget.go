package ctxengine

// Budget is the token accounting of one context set.
type Budget struct {
	Max   int `json:"max"`   // hard ceiling
	Ideal int `json:"ideal"` // optimization threshold
	Used  int `json:"used"`  // running total
}

// Available returns the number of tokens remaining under Max.
// Returns 0 if the budget is already exceeded.
func (b Budget) Available() int {
	avail := b.Max - b.Used
	if avail < 0 {
		return 0
	}
	return avail
}

// Exceeded reports whether usage is over the hard ceiling.
func (b Budget) Exceeded() bool {
	return b.Used > b.Max
}

// OverIdeal reports whether usage is above the ideal threshold.
func (b Budget) OverIdeal() bool {
	return b.Used > b.Ideal
}

// Utilization returns Used as a fraction of Max.
func (b Budget) Utilization() float64 {
	if b.Max <= 0 {
		return 0
	}
	return float64(b.Used) / float64(b.Max)
}

// BudgetFor measures items against cfg.
func BudgetFor(cfg Config, items []Item) Budget {
	cfg = cfg.withDefaults()
	return Budget{Max: cfg.MaxTokens, Ideal: cfg.IdealTokens, Used: TotalTokens(items)}
}
