// Package tuner turns static configuration plus the host's RAM tier and
// current memory pressure into the effective detection thresholds for
// one tick.
package tuner

import (
	"math"

	"github.com/kestrel-ops/memwatchd/internal/model"
)

const gib = int64(1) << 30

// Params carries the user-supplied tunables. A nil field means the user
// did not set the flag and the RAM-tier default applies.
type Params struct {
	SlopeMBPerMin *float64
	GrowthMB      *float64
	HistoryLen    *int
	GraceSeconds  *float64
	CoolSeconds   *float64
	HighPct       *float64
	LowPct        *float64
	LeakPct       *float64
	ConfCount     *int
}

// tier is one RAM band's detection defaults.
type tier struct {
	maxRAM  int64 // inclusive upper bound; 0 means unbounded
	slope   float64
	growth  float64
	history int
	high    float64
	low     float64
}

var tiers = []tier{
	{maxRAM: 8 * gib, slope: 10, growth: 20, history: 8, high: 85, low: 80},
	{maxRAM: 16 * gib, slope: 20, growth: 50, history: 6, high: 90, low: 85},
	{maxRAM: 32 * gib, slope: 30, growth: 100, history: 6, high: 92, low: 87},
	{maxRAM: 0, slope: 40, growth: 200, history: 6, high: 94, low: 89},
}

// Effective computes this tick's thresholds. The base comes from the RAM
// tier, user-set values override it, then pressure tightening scales
// slope and growth down when used% approaches or crosses the high-water
// mark — the tightening applies to this tick only and is recomputed
// fresh every call.
func Effective(p Params, totalRAMBytes int64, usedPct float64) model.EffectiveThresholds {
	t := tiers[len(tiers)-1]
	for _, cand := range tiers {
		if cand.maxRAM != 0 && totalRAMBytes <= cand.maxRAM {
			t = cand
			break
		}
	}

	th := model.EffectiveThresholds{
		SlopeMBPerMin: t.slope,
		GrowthMB:      t.growth,
		HistoryLen:    t.history,
		GraceSeconds:  60,
		CoolSeconds:   300,
		HighPct:       t.high,
		LowPct:        t.low,
		LeakPct:       85,
		ConfCount:     2,
	}

	if p.SlopeMBPerMin != nil {
		th.SlopeMBPerMin = *p.SlopeMBPerMin
	}
	if p.GrowthMB != nil {
		th.GrowthMB = *p.GrowthMB
	}
	if p.HistoryLen != nil {
		th.HistoryLen = *p.HistoryLen
	}
	if p.GraceSeconds != nil {
		th.GraceSeconds = *p.GraceSeconds
	}
	if p.CoolSeconds != nil {
		th.CoolSeconds = *p.CoolSeconds
	}
	if p.HighPct != nil {
		th.HighPct = *p.HighPct
	}
	if p.LowPct != nil {
		th.LowPct = *p.LowPct
	}
	if p.LeakPct != nil {
		th.LeakPct = *p.LeakPct
	}
	if p.ConfCount != nil {
		th.ConfCount = *p.ConfCount
	}

	switch {
	case usedPct > th.HighPct:
		th.SlopeMBPerMin = math.Round(th.SlopeMBPerMin * 0.5)
		th.GrowthMB = math.Round(th.GrowthMB * 0.5)
	case usedPct > th.HighPct-5:
		th.SlopeMBPerMin = math.Round(th.SlopeMBPerMin * 0.7)
		th.GrowthMB = math.Round(th.GrowthMB * 0.7)
	}
	return th
}
