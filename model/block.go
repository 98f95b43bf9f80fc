package model

import (
	"sort"
)

// Mode is a catalog entry for one fault mode of a block.
// Rate and Cost are qualitative classes resolved by lookup tables.
// PhaseRates overrides Rate for named mission phases.
// Excludes lists modes of the same block that cannot be active together with this one.
type Mode struct {
	Rate       string            `json:"rate" yaml:"rate"`
	Cost       string            `json:"rcost" yaml:"rcost"`
	PhaseRates map[string]string `json:"phase_rates,omitempty" yaml:"phase_rates,omitempty"`
	Excludes   []string          `json:"excludes,omitempty" yaml:"excludes,omitempty"`
}

// RateIn returns the qualitative rate class of the mode during phase.
func (m Mode) RateIn(phase string) string {
	if r, ok := m.PhaseRates[phase]; ok {
		return r
	}
	return m.Rate
}

// Hook is a block update function. It must be a deterministic function
// of the block's state, its flows and t.
type Hook func(b *Block, t float64) error

// Effect overrides nominal behavior while Mode is active.
// Effects run after the nominal behavior, in the order they were declared,
// so a later effect wins over an earlier one.
type Effect struct {
	Mode  string
	Apply Hook
}

// Block is a function block: a stateful node with a fault mode catalog,
// a trigger hook (condfaults) and a behavior hook.
type Block struct {
	Name     string
	modes    map[string]Mode // shared across clones, never mutated
	faults   map[string]struct{}
	states   map[string]float64
	flows    map[string]*Flow
	trigger  Hook
	behavior Hook
	effects  []Effect
	wrote    map[string]struct{} // flows written during the current Update
	reads    map[string]struct{} // flows an edge feeds into this block
	feeds    map[string]struct{} // flows this block feeds through an edge
}

type BlockOption func(*Block)

// WithModes sets the fault mode catalog.
func WithModes(modes map[string]Mode) BlockOption {
	return func(b *Block) {
		for k, v := range modes {
			b.modes[k] = v
		}
	}
}

// WithStates declares private state variables and their initial values.
func WithStates(states map[string]float64) BlockOption {
	return func(b *Block) {
		for k, v := range states {
			b.states[k] = v
		}
	}
}

// WithTrigger sets the fault-trigger hook.
func WithTrigger(h Hook) BlockOption {
	return func(b *Block) { b.trigger = h }
}

// WithBehavior sets the nominal behavior hook.
func WithBehavior(h Hook) BlockOption {
	return func(b *Block) { b.behavior = h }
}

// WithEffects appends fault effects in precedence order.
func WithEffects(effects ...Effect) BlockOption {
	return func(b *Block) { b.effects = append(b.effects, effects...) }
}

// NewBlock builds a block with no flows attached. Flows are attached by Graph.AddBlock.
func NewBlock(name string, opts ...BlockOption) *Block {
	b := &Block{
		Name:   name,
		modes:  make(map[string]Mode),
		faults: make(map[string]struct{}),
		states: make(map[string]float64),
		flows:  make(map[string]*Flow),
		wrote:  make(map[string]struct{}),
		reads:  make(map[string]struct{}),
		feeds:  make(map[string]struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// validate checks that every effect refers to a declared mode
func (b *Block) validate() error {
	for _, e := range b.effects {
		if _, ok := b.modes[e.Mode]; !ok {
			return Configf("block "+b.Name, "effect for undeclared fault mode %q", e.Mode)
		}
		if e.Apply == nil {
			return Configf("block "+b.Name, "effect for %q has no behavior", e.Mode)
		}
	}
	for name, m := range b.modes {
		for _, x := range m.Excludes {
			if _, ok := b.modes[x]; !ok {
				return Configf("block "+b.Name, "mode %q excludes undeclared mode %q", name, x)
			}
		}
	}
	return nil
}

// Mode returns the catalog entry for name.
func (b *Block) Mode(name string) (Mode, bool) {
	m, ok := b.modes[name]
	return m, ok
}

// ModeNames returns the declared fault modes, sorted.
func (b *Block) ModeNames() []string {
	out := make([]string, 0, len(b.modes))
	for k := range b.modes {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Exclusive reports whether modes a and b are declared mutually exclusive.
func (b *Block) Exclusive(x, y string) bool {
	for _, e := range b.modes[x].Excludes {
		if e == y {
			return true
		}
	}
	for _, e := range b.modes[y].Excludes {
		if e == x {
			return true
		}
	}
	return false
}

// AddFault activates a declared mode. Activation is monotonic within a run.
func (b *Block) AddFault(mode string) error {
	if _, ok := b.modes[mode]; !ok {
		return Configf("block "+b.Name, "undeclared fault mode %q", mode)
	}
	b.faults[mode] = struct{}{}
	return nil
}

// HasFault reports whether mode is active.
func (b *Block) HasFault(mode string) bool {
	_, ok := b.faults[mode]
	return ok
}

// Nominal reports whether no fault is active.
func (b *Block) Nominal() bool { return len(b.faults) == 0 }

// NumFaults is the size of the active fault set.
func (b *Block) NumFaults() int { return len(b.faults) }

// Faults returns the active fault set, sorted. Empty means nominal.
func (b *Block) Faults() []string {
	out := make([]string, 0, len(b.faults))
	for k := range b.faults {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// State returns a private state variable, Unset if undeclared.
func (b *Block) State(name string) float64 {
	v, ok := b.states[name]
	if !ok {
		return Unset
	}
	return v
}

// SetState writes a declared private state variable.
func (b *Block) SetState(name string, v float64) error {
	if _, ok := b.states[name]; !ok {
		return Configf("block "+b.Name, "undeclared state %q", name)
	}
	b.states[name] = v
	return nil
}

// RestoreStates rewinds declared state variables to the values in s.
// The engine uses it so a re-pass within one step starts from the step's state.
func (b *Block) RestoreStates(s map[string]float64) {
	for k, v := range s {
		if _, ok := b.states[k]; ok {
			b.states[k] = v
		}
	}
}

// StateNames returns the declared state variables, sorted.
func (b *Block) StateNames() []string {
	out := make([]string, 0, len(b.states))
	for k := range b.states {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// States returns a copy of the private state.
func (b *Block) States() map[string]float64 {
	out := make(map[string]float64, len(b.states))
	for k, v := range b.states {
		out[k] = v
	}
	return out
}

// Flow returns the attached flow called name, nil if not attached.
func (b *Block) Flow(name string) *Flow {
	return b.flows[name]
}

// FlowNames returns the attached flow names, sorted.
func (b *Block) FlowNames() []string {
	out := make([]string, 0, len(b.flows))
	for k := range b.flows {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Get reads flow.attr. Unattached flows read as Unset.
func (b *Block) Get(flow, attr string) float64 {
	f, ok := b.flows[flow]
	if !ok {
		return Unset
	}
	return f.Get(attr)
}

// Set writes flow.attr on an attached flow.
func (b *Block) Set(flow, attr string, v float64) error {
	f, ok := b.flows[flow]
	if !ok {
		return Configf("block "+b.Name, "flow %q is not attached", flow)
	}
	b.wrote[flow] = struct{}{}
	return f.Set(attr, v)
}

// Trigger runs the fault-trigger hook, if any.
func (b *Block) Trigger(t float64) error {
	if b.trigger == nil {
		return nil
	}
	return b.trigger(b, t)
}

// Produces reports whether the block is responsible for flow: it feeds the flow
// through an edge, or it is attached to it and no edge marks it as a reader.
func (b *Block) Produces(flow string) bool {
	if _, ok := b.flows[flow]; !ok {
		return false
	}
	if _, ok := b.feeds[flow]; ok {
		return true
	}
	_, reads := b.reads[flow]
	return !reads
}

// Update runs the nominal behavior, then the effects of active modes in precedence order,
// then checks that no flow written through Set, and no flow the block produces,
// is left with an Unset attribute.
func (b *Block) Update(t float64) error {
	clear(b.wrote)
	if b.behavior != nil {
		if err := b.behavior(b, t); err != nil {
			return err
		}
	}
	for _, e := range b.effects {
		if !b.HasFault(e.Mode) {
			continue
		}
		if err := e.Apply(b, t); err != nil {
			return err
		}
	}
	return b.checkOutputs(t)
}

// checkOutputs looks at written flows first, so the error names the flow
// the block actually touched.
func (b *Block) checkOutputs(t float64) error {
	names := b.FlowNames()
	for _, written := range []bool{true, false} {
		for _, name := range names {
			_, ok := b.wrote[name]
			if ok != written || (!ok && !b.Produces(name)) {
				continue
			}
			if unset := b.flows[name].Unsets(); len(unset) > 0 {
				return &PostConditionError{Block: b.Name, Flow: name, Attribute: unset[0], Time: t}
			}
		}
	}
	return nil
}

// clone copies the block onto the flows of a cloned graph.
func (b *Block) clone(flows map[string]*Flow) *Block {
	c := &Block{
		Name:     b.Name,
		modes:    b.modes,
		faults:   make(map[string]struct{}, len(b.faults)),
		states:   make(map[string]float64, len(b.states)),
		flows:    make(map[string]*Flow, len(b.flows)),
		trigger:  b.trigger,
		behavior: b.behavior,
		effects:  b.effects,
		wrote:    make(map[string]struct{}),
		reads:    make(map[string]struct{}, len(b.reads)),
		feeds:    make(map[string]struct{}, len(b.feeds)),
	}
	for k := range b.reads {
		c.reads[k] = struct{}{}
	}
	for k := range b.feeds {
		c.feeds[k] = struct{}{}
	}
	for k := range b.faults {
		c.faults[k] = struct{}{}
	}
	for k, v := range b.states {
		c.states[k] = v
	}
	for k := range b.flows {
		c.flows[k] = flows[k]
	}
	return c
}
