// Package scorer ranks kill candidates for the pressure-relief pass.
// The scheduler builds the candidate list (whitelist and structural
// exclusions already applied) and consumes the ranking top-down until
// used% drops under the low-water mark.
package scorer

import (
	"sort"
	"time"

	"github.com/kestrel-ops/memwatchd/internal/model"
)

// Weights are the scoring coefficients. State, slope and RSS dominate;
// the child and recency terms are the user-facing tunables.
type Weights struct {
	State    float64 // w1: KILLABLE=1, CONFIRMING=0.5, else 0
	Slope    float64 // w2: min-max-normalized slope MB/min
	RSS      float64 // w3: min-max-normalized RSS
	Children float64 // w4: min-max-normalized child count (--child-wt)
	Recency  float64 // w5: 1/max(age_seconds, 1) (--recent)
}

// DefaultWeights per the documented defaults.
func DefaultWeights() Weights {
	return Weights{State: 3, Slope: 2, RSS: 2, Children: 1, Recency: 1}
}

// Candidate pairs a record with its computed score.
type Candidate struct {
	Record *model.ProcessRecord
	Score  float64
}

// Rank scores candidates and returns them in descending score order with
// ascending PID as the tie-break, so a relief pass is deterministic
// within a tick. Normalization is min-max over this candidate set only.
func Rank(records []*model.ProcessRecord, now time.Time, w Weights) []Candidate {
	if len(records) == 0 {
		return nil
	}

	slopeLo, slopeHi := minMax(records, func(r *model.ProcessRecord) float64 { return r.LastClass.SlopeMBPerMin })
	rssLo, rssHi := minMax(records, func(r *model.ProcessRecord) float64 { return lastRSS(r) })
	childLo, childHi := minMax(records, func(r *model.ProcessRecord) float64 { return float64(r.ChildCount) })

	out := make([]Candidate, 0, len(records))
	for _, r := range records {
		var stateTerm float64
		switch r.State {
		case model.StateKillable:
			stateTerm = 1
		case model.StateConfirming:
			stateTerm = 0.5
		}

		age := now.Sub(r.CreateTime).Seconds()
		if age < 1 {
			age = 1
		}

		score := w.State*stateTerm +
			w.Slope*normalize(r.LastClass.SlopeMBPerMin, slopeLo, slopeHi) +
			w.RSS*normalize(lastRSS(r), rssLo, rssHi) +
			w.Children*normalize(float64(r.ChildCount), childLo, childHi) +
			w.Recency*(1/age)
		out = append(out, Candidate{Record: r, Score: score})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Record.PID < out[j].Record.PID
	})
	return out
}

// MaxKills is the per-tick relief ceiling: one third of the candidate
// set, rounded down.
func MaxKills(candidates int) int {
	return candidates / 3
}

func lastRSS(r *model.ProcessRecord) float64 {
	if n := len(r.History); n > 0 {
		return float64(r.History[n-1].RSSBytes)
	}
	return 0
}

func minMax(records []*model.ProcessRecord, f func(*model.ProcessRecord) float64) (lo, hi float64) {
	lo, hi = f(records[0]), f(records[0])
	for _, r := range records[1:] {
		v := f(r)
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}

func normalize(v, lo, hi float64) float64 {
	if hi <= lo {
		return 0
	}
	return (v - lo) / (hi - lo)
}
