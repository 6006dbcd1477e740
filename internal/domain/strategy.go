package domain

// StrategySource is a saved strategy file: the editable source text a task
// points at via its StrategyPath.
type StrategySource struct {
	Path      string
	Source    string
	UpdatedAt int64 // unix ms
}
