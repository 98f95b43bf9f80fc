package types

/*

	These are the "immutable" core types of fmdrisk,
	provided for cross-package use (e.g. Plugins) and testing.

	There are no functions defined here.
	Struct constructors are housed in their own packages.
	Methods taking these types should create local aliases,
	for example: type SampleSets map[string]Ft.SampleSet

*/

// ScenarioKind says how many faults a Scenario injects.
type ScenarioKind int

const (
	Nominal     ScenarioKind = iota // Nominal: nothing is injected
	SingleFault                     // SingleFault: one mode in one function
	JointFault                      // JointFault: two modes, each with its own injection time
)

// NominalID is the scenario ID reserved for the fault-free run.
const NominalID = "nominal"

// Fault names one mode of one function block and when it is injected.
// RateClass is the qualitative rate of the mode in the phase it was sampled from.
type Fault struct {
	Function  string  `json:"function"`
	Mode      string  `json:"mode"`
	RateClass string  `json:"rate"`
	Time      float64 `json:"time"`
}

// Scenario is a single case to simulate.
// Time is the earliest injection time across Faults.
// Weight is the share of the mode's mission-long occurrence mass
// this scenario stands in for (sample weight × phase duration share).
type Scenario struct {
	ID     string       `json:"id"`
	Kind   ScenarioKind `json:"kind"`
	Faults []Fault      `json:"faults,omitempty"`
	Time   float64      `json:"time"`
	Phase  string       `json:"phase,omitempty"`
	Weight float64      `json:"weight"`
}

// Phase is a named mission interval [Start, End) with its own hazard regime.
type Phase struct {
	Name  string  `json:"name" yaml:"name"`
	Start float64 `json:"start" yaml:"start"`
	End   float64 `json:"end" yaml:"end"`
}

// Sample is one injection instant and the share of the
// phase occurrence mass attributed to it.
type Sample struct {
	Time   float64 `json:"time"`
	Weight float64 `json:"weight"`
}

// SampleSet is ordered by Time, weights sum to 1.
type SampleSet []Sample

// Classification is the scored consequence of a run.
type Classification struct {
	Rate         float64 `json:"rate"`
	Cost         float64 `json:"cost"`
	ExpectedCost float64 `json:"expected cost"`
}

// Properties is the reporting view of a Scenario.
type Properties struct {
	Type      string  `json:"type"`
	Function  string  `json:"function,omitempty"`
	Mode      string  `json:"mode,omitempty"`
	RateClass string  `json:"rate,omitempty"`
	Time      float64 `json:"time"`
	Phase     string  `json:"phase,omitempty"`
	Weight    float64 `json:"weight"`
}

// EndResult is what reporting collaborators get per scenario ID.
// Error is set when the run failed and Classification is empty.
type EndResult struct {
	Properties     Properties     `json:"properties"`
	Classification Classification `json:"classification"`
	Error          string         `json:"error,omitempty"`
}

// Severity is a caller-supplied bucket. A scenario falls into the first
// Severity (in the order given) whose thresholds it meets or exceeds.
type Severity struct {
	Name    string  `json:"name" yaml:"name"`
	MinCost float64 `json:"min_cost" yaml:"min_cost"`
	MinRate float64 `json:"min_rate" yaml:"min_rate"`
}
