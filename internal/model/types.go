// Package model defines the shared data types used across the watchdog:
// the per-process and per-container history records, the FSM state, the
// tuned threshold set, and the global run state.
package model

import "time"

// FSMState is the leak-detector state for a tracked record.
type FSMState int

const (
	// StateGrace is the initial observation window during which no
	// classification happens and no kill may be initiated.
	StateGrace FSMState = iota
	// StateWatch is passively classified but has not yet shown leak
	// behaviour (or has just come out of GRACE/COOLING).
	StateWatch
	// StateConfirming has seen at least one leaking classification and
	// is accumulating consecutive confirmations.
	StateConfirming
	// StateKillable has accumulated enough confirmations (or matched
	// the predictive shortcut) and is eligible for termination.
	StateKillable
	// StatePlateau means growth has stalled over a full window; it is
	// a transient state that always moves directly to COOLING.
	StatePlateau
	// StateCooling follows a failed kill or a plateau and blocks
	// reclassification until not_before elapses.
	StateCooling
)

func (s FSMState) String() string {
	switch s {
	case StateGrace:
		return "GRACE"
	case StateWatch:
		return "WATCH"
	case StateConfirming:
		return "CONFIRMING"
	case StateKillable:
		return "KILLABLE"
	case StatePlateau:
		return "PLATEAU"
	case StateCooling:
		return "COOLING"
	default:
		return "UNKNOWN"
	}
}

// Mode selects how KILLABLE records are treated.
type Mode int

const (
	// ModeProtection only kills when aggregate memory pressure has
	// crossed the leak gate.
	ModeProtection Mode = iota
	// ModeHunting kills confirmed leaks unconditionally.
	ModeHunting
)

// Sample is one (timestamp, rss) observation. Immutable once created.
type Sample struct {
	// TimestampSeconds is a monotonic clock reading in seconds, not a
	// wall-clock timestamp — history is timestamp-indexed so a long
	// tick never corrupts slope estimates.
	TimestampSeconds float64
	RSSBytes         int64
}

// Classification is the outcome of the leak detector's regression pass
// over a record's current sample window.
type Classification struct {
	SlopeMBPerMin float64
	GrowthMB      float64
	R2            float64
	Leaking       bool
	Predictive    bool
}

// TrackState is the FSM portion shared by process and container
// records: the sample ring, the detector state and its bookkeeping.
type TrackState struct {
	History      []Sample // bounded FIFO, capacity = EffectiveThresholds.HistoryLen
	State        FSMState
	Confirms     int     // consecutive-confirmation counter
	NotBefore    float64 // monotonic seconds; meaningful during GRACE/COOLING
	PlateauTicks int     // consecutive near-zero-slope full-window ticks
	LastClass    Classification
	LastSampleAt float64 // monotonic seconds of the newest sample, for gc
	Whitelisted  bool
}

// ProcessRecord tracks one live PID across ticks.
type ProcessRecord struct {
	PID          int
	Name         string // basename, used for whitelist matching
	Cmdline      string // full command line, used for fingerprinting
	CreateTime   time.Time
	PPID         int
	ChildCount   int
	FromTerminal bool // true iff an ancestor is the terminal emulator

	TrackState
}

// Fingerprint returns the normalized command-line signature used to group
// PIDs belonging to the same recurring program instance.
func (p *ProcessRecord) Fingerprint() string {
	return Fingerprint(p.Name, p.Cmdline)
}

// ContainerRecord is the container-mode analogue of ProcessRecord: same
// shape, keyed by container id, RSS sourced from the runtime's own stats
// rather than procfs, and "killing" means a graceful runtime stop.
type ContainerRecord struct {
	ID         string
	Name       string
	Image      string
	CreateTime time.Time

	TrackState
}

// FingerprintCounter holds the bounded FIFO of kill timestamps for one
// command-line fingerprint, used by the recidivism tracker.
type FingerprintCounter struct {
	Fingerprint  string
	KillTimes    []float64 // monotonic seconds, oldest first
}

// EffectiveThresholds is the per-tick output of the adaptive tuner.
type EffectiveThresholds struct {
	SlopeMBPerMin float64
	GrowthMB      float64
	HistoryLen    int
	GraceSeconds  float64
	CoolSeconds   float64
	HighPct       float64
	LowPct        float64
	LeakPct       float64
	ConfCount     int
}

// GlobalState is the scheduler's singleton run state, mutated only by the
// scheduler's own goroutine.
type GlobalState struct {
	TotalRAMBytes int64
	UsedPct       float64
	Mode          Mode
	ItermOnly     bool
	ContainersOn  bool
}

// ProcessSnapshotEntry is one process observation produced by the sampler.
type ProcessSnapshotEntry struct {
	PID          int
	Name         string
	Cmdline      string
	CreateTime   time.Time
	PPID         int
	ChildCount   int
	RSSBytes     int64
	FromTerminal bool
}

// ContainerSnapshotEntry is one container observation produced by the
// container sampler.
type ContainerSnapshotEntry struct {
	ID         string
	Name       string
	Image      string
	CreateTime time.Time
	RSSBytes   int64
}

// KillReason classifies why a kill was initiated, and is part of the
// action-log wire format.
type KillReason string

const (
	ReasonLeak       KillReason = "leak"
	ReasonPressure   KillReason = "pressure"
	ReasonPredictive KillReason = "predictive"
	ReasonRecidivist KillReason = "recidivist"
)

// KillOutcome is the result of attempting to terminate a target.
type KillOutcome int

const (
	KillSucceeded KillOutcome = iota
	KillPermissionDenied
	KillNotFound
)
