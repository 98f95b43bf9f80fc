package model

import (
	"fmt"
	"sort"
)

// Edge connects two blocks and is labeled with the flows they share.
type Edge struct {
	From  string
	To    string
	Flows []string
}

// Graph is the model: ordered function blocks connected by flows.
// It is built once per model definition and cloned per run.
type Graph struct {
	Name      string
	flows     map[string]*Flow
	flowOrder []string
	blocks    []*Block
	index     map[string]int
	edges     []Edge
	order     []int // execution order, recomputed when edges change
	cyclic    bool
}

// NewGraph returns an empty model graph.
func NewGraph(name string) *Graph {
	return &Graph{
		Name:  name,
		flows: make(map[string]*Flow),
		index: make(map[string]int),
	}
}

// AddFlow declares a flow. Flow names are unique.
func (g *Graph) AddFlow(f *Flow) error {
	if f == nil {
		return Configf("graph "+g.Name, "nil flow")
	}
	if _, dup := g.flows[f.Name]; dup {
		return Configf("graph "+g.Name, "duplicate flow %q", f.Name)
	}
	g.flows[f.Name] = f
	g.flowOrder = append(g.flowOrder, f.Name)
	return nil
}

// AddBlock declares a block and attaches the named flows to it.
// Declaration order is the tie-breaker for execution order.
func (g *Graph) AddBlock(b *Block, flows ...string) error {
	if b == nil {
		return Configf("graph "+g.Name, "nil block")
	}
	if _, dup := g.index[b.Name]; dup {
		return Configf("graph "+g.Name, "duplicate block %q", b.Name)
	}
	if err := b.validate(); err != nil {
		return err
	}
	for _, name := range flows {
		f, ok := g.flows[name]
		if !ok {
			return Configf("block "+b.Name, "unknown flow %q", name)
		}
		b.flows[name] = f
	}
	g.index[b.Name] = len(g.blocks)
	g.blocks = append(g.blocks, b)
	g.reorder()
	return nil
}

// Connect adds a directed edge labeled with flows that both blocks share.
func (g *Graph) Connect(from, to string, flows ...string) error {
	fi, ok := g.index[from]
	if !ok {
		return Configf("graph "+g.Name, "unknown block %q", from)
	}
	ti, ok := g.index[to]
	if !ok {
		return Configf("graph "+g.Name, "unknown block %q", to)
	}
	for _, name := range flows {
		if g.blocks[fi].flows[name] == nil || g.blocks[ti].flows[name] == nil {
			return Configf("graph "+g.Name, "flow %q is not shared by %s and %s", name, from, to)
		}
	}
	for _, name := range flows {
		g.blocks[fi].feeds[name] = struct{}{}
		g.blocks[ti].reads[name] = struct{}{}
	}
	g.edges = append(g.edges, Edge{From: from, To: to, Flows: append([]string(nil), flows...)})
	g.reorder()
	return nil
}

// Block returns a block by name.
func (g *Graph) Block(name string) (*Block, bool) {
	i, ok := g.index[name]
	if !ok {
		return nil, false
	}
	return g.blocks[i], true
}

// Flow returns a flow by name.
func (g *Graph) Flow(name string) (*Flow, bool) {
	f, ok := g.flows[name]
	return f, ok
}

// Blocks returns blocks in declaration order.
func (g *Graph) Blocks() []*Block {
	out := make([]*Block, len(g.blocks))
	copy(out, g.blocks)
	return out
}

// Flows returns flows in declaration order.
func (g *Graph) Flows() []*Flow {
	out := make([]*Flow, 0, len(g.flowOrder))
	for _, name := range g.flowOrder {
		out = append(out, g.flows[name])
	}
	return out
}

// Edges returns the declared edges.
func (g *Graph) Edges() []Edge {
	out := make([]Edge, len(g.edges))
	copy(out, g.edges)
	return out
}

// Order returns blocks in execution order: topological when the declared
// edges are acyclic, declaration order otherwise.
func (g *Graph) Order() []*Block {
	out := make([]*Block, len(g.order))
	for i, idx := range g.order {
		out[i] = g.blocks[idx]
	}
	return out
}

// Cyclic reports whether the declared edges contain a cycle.
func (g *Graph) Cyclic() bool { return g.cyclic }

// Users returns the names of blocks attached to flow, in execution order.
func (g *Graph) Users(flow string) []string {
	var out []string
	for _, idx := range g.order {
		if g.blocks[idx].flows[flow] != nil {
			out = append(out, g.blocks[idx].Name)
		}
	}
	return out
}

// Lookup resolves a (function, mode) pair against the catalog.
func (g *Graph) Lookup(function, mode string) (Mode, error) {
	b, ok := g.Block(function)
	if !ok {
		return Mode{}, Configf("scenario", "unknown function %q", function)
	}
	m, ok := b.Mode(mode)
	if !ok {
		return Mode{}, Configf("scenario", "function %q has no fault mode %q", function, mode)
	}
	return m, nil
}

// Clone returns a deep, independent copy: fresh flows, fresh block state,
// same catalog and hooks. No two clones share a mutable value, so a clone
// can grow blocks, flows and edges without touching the original.
func (g *Graph) Clone() *Graph {
	c := &Graph{
		Name:      g.Name,
		flows:     make(map[string]*Flow, len(g.flows)),
		flowOrder: append([]string(nil), g.flowOrder...),
		blocks:    make([]*Block, len(g.blocks)),
		index:     make(map[string]int, len(g.index)),
		edges:     make([]Edge, len(g.edges)),
		order:     append([]int(nil), g.order...),
		cyclic:    g.cyclic,
	}
	for name, i := range g.index {
		c.index[name] = i
	}
	for i, e := range g.edges {
		c.edges[i] = Edge{From: e.From, To: e.To, Flows: append([]string(nil), e.Flows...)}
	}
	for name, f := range g.flows {
		c.flows[name] = f.Clone()
	}
	for i, b := range g.blocks {
		c.blocks[i] = b.clone(c.flows)
	}
	return c
}

// String is a short description used in logs.
func (g *Graph) String() string {
	return fmt.Sprintf("%s (%d blocks, %d flows, %d edges)", g.Name, len(g.blocks), len(g.flows), len(g.edges))
}

// reorder runs Kahn's algorithm with declaration order as the tie-breaker.
func (g *Graph) reorder() {
	n := len(g.blocks)
	indeg := make([]int, n)
	succ := make([][]int, n)
	for _, e := range g.edges {
		f, t := g.index[e.From], g.index[e.To]
		if f == t {
			continue
		}
		succ[f] = append(succ[f], t)
		indeg[t]++
	}

	var ready []int
	for i := 0; i < n; i++ {
		if indeg[i] == 0 {
			ready = append(ready, i)
		}
	}
	order := make([]int, 0, n)
	for len(ready) > 0 {
		sort.Ints(ready)
		next := ready[0]
		ready = ready[1:]
		order = append(order, next)
		for _, s := range succ[next] {
			indeg[s]--
			if indeg[s] == 0 {
				ready = append(ready, s)
			}
		}
	}

	if len(order) < n {
		g.cyclic = true
		order = order[:0]
		for i := 0; i < n; i++ {
			order = append(order, i)
		}
	} else {
		g.cyclic = false
	}
	g.order = order
}
