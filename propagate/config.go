package propagate

import "time"

// SnapshotPolicy decides which nominal states are kept for staged runs.
type SnapshotPolicy int

const (
	SnapshotNone    SnapshotPolicy = iota // SnapshotNone: every fault run starts at time zero
	SnapshotSampled                       // SnapshotSampled: only the injection times given to Prepare
	SnapshotAll                           // SnapshotAll: every grid time
)

func (p SnapshotPolicy) String() string {
	switch p {
	case SnapshotSampled:
		return "sampled"
	case SnapshotAll:
		return "all"
	default:
		return "none"
	}
}

// ParseSnapshotPolicy reads the config spelling of a policy.
func ParseSnapshotPolicy(s string) (SnapshotPolicy, bool) {
	switch s {
	case "", "none":
		return SnapshotNone, true
	case "sampled":
		return SnapshotSampled, true
	case "all":
		return SnapshotAll, true
	}
	return SnapshotNone, false
}

const (
	DefaultTolerance = 1e-9
	DefaultMaxIter   = 50
)

// Config is the engine setup shared by every run of a study.
type Config struct {
	Times      []float64      // strictly increasing simulation times
	Tolerance  float64        // largest attribute change that still counts as converged
	MaxIter    int            // re-passes allowed per step before non-convergence
	SinglePass bool           // skip re-passes, for graphs known to be acyclic
	Staged     bool           // resume fault runs from nominal snapshots
	Snapshots  SnapshotPolicy // which nominal snapshots Prepare keeps
	Workers    int            // concurrent runs in RunApproach
}

// Recorder receives run statistics. obvy.StatsInternal satisfies it.
type Recorder interface {
	RecRun(status string, elapsed time.Duration)
	RecIterations(passes int)
}
