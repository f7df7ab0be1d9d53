package search

import "github.com/poiesic/arbor/core"

// SearchMonitor provides hooks to observe the search process.
// Implement this interface to track intermediate steps and results during search.
type SearchMonitor interface {
	Start(query []float32)
	Visited(hash core.Hash, depth int)
	Skipped(hash core.Hash)
	Hit(result *Result)
	Finish(results []*Result)
}

// noopMonitor is a no-op implementation of SearchMonitor
type noopMonitor struct{}

var _ SearchMonitor = (*noopMonitor)(nil)

func (n *noopMonitor) Start(_ []float32)          {}
func (n *noopMonitor) Visited(_ core.Hash, _ int) {}
func (n *noopMonitor) Skipped(_ core.Hash)        {}
func (n *noopMonitor) Hit(_ *Result)              {}
func (n *noopMonitor) Finish(_ []*Result)         {}
