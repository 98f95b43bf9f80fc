package propagate

import (
	"sort"
	"sync"

	Fm "github.com/maroda/fmdrisk/model"
)

// Arena holds immutable nominal snapshots keyed by grid time.
// A snapshot is the model state right before the step at that time runs.
// Snapshots are never handed out directly, Get returns a clone.
type Arena struct {
	MU    sync.RWMutex
	snaps map[float64]*Fm.Graph
}

func NewArena() *Arena {
	return &Arena{snaps: make(map[float64]*Fm.Graph)}
}

// Put stores a clone of g at t.
func (a *Arena) Put(t float64, g *Fm.Graph) {
	c := g.Clone()
	a.MU.Lock()
	a.snaps[t] = c
	a.MU.Unlock()
}

// Get returns a private clone of the snapshot at t.
func (a *Arena) Get(t float64) (*Fm.Graph, bool) {
	if a == nil {
		return nil, false
	}
	a.MU.RLock()
	g, ok := a.snaps[t]
	a.MU.RUnlock()
	if !ok {
		return nil, false
	}
	return g.Clone(), true
}

// Len is the number of snapshots held.
func (a *Arena) Len() int {
	if a == nil {
		return 0
	}
	a.MU.RLock()
	defer a.MU.RUnlock()
	return len(a.snaps)
}

// Times lists snapshot times in order.
func (a *Arena) Times() []float64 {
	if a == nil {
		return nil
	}
	a.MU.RLock()
	defer a.MU.RUnlock()
	out := make([]float64, 0, len(a.snaps))
	for t := range a.snaps {
		out = append(out, t)
	}
	sort.Float64s(out)
	return out
}
