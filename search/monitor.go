package search

import "github.com/poiesic/cellar/core"

// QueryKind identifies which adapter started a search.
type QueryKind string

const (
	KindDescription QueryKind = "description"
	KindFiltered    QueryKind = "filtered"
	KindFavorites   QueryKind = "favorites"
)

// SearchMonitor provides hooks to observe the search process.
// Implement this interface to track intermediate steps and results during search.
type SearchMonitor interface {
	Start(kind QueryKind, query string)
	AfterQueryVector(vec core.Vector)
	BeforeRanking(spec core.FilterSpec, k int)
	Finish(results []core.ScoredResult)
	Failed(err error)
}

// noopMonitor is a no-op implementation of SearchMonitor
type noopMonitor struct{}

var _ SearchMonitor = (*noopMonitor)(nil)

func (n *noopMonitor) Start(_ QueryKind, _ string)           {}
func (n *noopMonitor) AfterQueryVector(_ core.Vector)         {}
func (n *noopMonitor) BeforeRanking(_ core.FilterSpec, _ int) {}
func (n *noopMonitor) Finish(_ []core.ScoredResult)           {}
func (n *noopMonitor) Failed(_ error)                         {}
