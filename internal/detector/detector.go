// Package detector implements the linear-regression leak classifier and
// the per-record state machine it drives. Transitions are a pure function
// of (state, classification, now, thresholds); the detector never kills
// anything itself.
package detector

import (
	"math"

	"github.com/kestrel-ops/memwatchd/internal/model"
)

const (
	bytesPerMB = 1 << 20

	// plateauSlopeMBPerMin is the |slope| below which a full window of
	// non-decreasing RSS counts toward a plateau.
	plateauSlopeMBPerMin = 1.0

	// safetyMarginFrac of total RAM reserved by the predictive shortcut.
	safetyMarginFrac = 0.05
)

// Detector classifies records against per-tick thresholds.
type Detector struct {
	// IntervalSeconds is the scheduler tick length; the predictive
	// shortcut projects RSS two ticks ahead.
	IntervalSeconds float64
}

// New creates a Detector for the given tick interval.
func New(intervalSeconds float64) *Detector {
	return &Detector{IntervalSeconds: intervalSeconds}
}

// Classify runs ordinary least squares over the sample window and
// returns slope (MB/min), net growth (MB) and r². The Leaking flag is
// set when both slope and growth clear their thresholds; Predictive when
// the projected RSS two ticks out would breach total RAM minus the
// safety margin.
func (d *Detector) Classify(samples []model.Sample, th model.EffectiveThresholds, totalRAMBytes int64) (model.Classification, bool) {
	n := len(samples)
	if n < 2 {
		return model.Classification{}, true
	}

	var sumT, sumR, sumTT, sumTR float64
	t0 := samples[0].TimestampSeconds
	for i, s := range samples {
		if i > 0 && s.TimestampSeconds <= samples[i-1].TimestampSeconds {
			// Corrupt window: time did not advance.
			return model.Classification{}, false
		}
		t := s.TimestampSeconds - t0
		r := float64(s.RSSBytes)
		sumT += t
		sumR += r
		sumTT += t * t
		sumTR += t * r
	}

	fn := float64(n)
	denom := fn*sumTT - sumT*sumT
	if denom == 0 {
		return model.Classification{}, false
	}
	slopeBytesPerSec := (fn*sumTR - sumT*sumR) / denom
	if math.IsNaN(slopeBytesPerSec) || math.IsInf(slopeBytesPerSec, 0) {
		return model.Classification{}, false
	}

	meanR := sumR / fn
	intercept := meanR - slopeBytesPerSec*(sumT/fn)
	var ssTot, ssRes float64
	for _, s := range samples {
		t := s.TimestampSeconds - t0
		r := float64(s.RSSBytes)
		fit := intercept + slopeBytesPerSec*t
		ssTot += (r - meanR) * (r - meanR)
		ssRes += (r - fit) * (r - fit)
	}
	r2 := 1.0
	if ssTot > 0 {
		r2 = 1 - ssRes/ssTot
	}

	cls := model.Classification{
		SlopeMBPerMin: slopeBytesPerSec * 60 / bytesPerMB,
		GrowthMB:      float64(samples[n-1].RSSBytes-samples[0].RSSBytes) / bytesPerMB,
		R2:            r2,
	}
	cls.Leaking = cls.SlopeMBPerMin >= th.SlopeMBPerMin && cls.GrowthMB >= th.GrowthMB

	if cls.Leaking && totalRAMBytes > 0 {
		ceiling := float64(totalRAMBytes) * (1 - safetyMarginFrac)
		projected := float64(samples[n-1].RSSBytes) + slopeBytesPerSec*2*d.IntervalSeconds
		if projected > ceiling {
			cls.Predictive = true
		}
	}
	return cls, true
}

// Advance runs one FSM step for rec at monotonic time now. It mutates
// rec in place. The caller acts on the resulting state: KILLABLE means
// the record is eligible for termination this tick.
func (d *Detector) Advance(rec *model.TrackState, now float64, th model.EffectiveThresholds, totalRAMBytes int64) {
	switch rec.State {
	case model.StateGrace:
		if now >= rec.NotBefore {
			rec.State = model.StateWatch
		}
		return
	case model.StateCooling:
		if now >= rec.NotBefore {
			rec.State = model.StateWatch
			rec.Confirms = 0
		}
		return
	case model.StatePlateau:
		// Transient; always drains to COOLING.
		rec.State = model.StateCooling
		rec.NotBefore = now + th.CoolSeconds
		return
	}

	if len(rec.History) < th.HistoryLen {
		return
	}

	cls, ok := d.Classify(rec.History, th, totalRAMBytes)
	if !ok {
		// Corrupt window: discard and start over.
		rec.History = nil
		rec.State = model.StateWatch
		rec.Confirms = 0
		rec.PlateauTicks = 0
		return
	}
	rec.LastClass = cls

	switch rec.State {
	case model.StateWatch:
		if cls.Leaking {
			rec.PlateauTicks = 0
			rec.Confirms = 1
			rec.State = model.StateConfirming
			if cls.Predictive && !rec.Whitelisted {
				rec.State = model.StateKillable
			}
			return
		}
		d.trackPlateau(rec, cls, now, th)

	case model.StateConfirming:
		if !cls.Leaking {
			rec.Confirms = 0
			rec.State = model.StateWatch
			return
		}
		rec.Confirms++
		if rec.Whitelisted {
			// Classification stays observable but the record may never
			// become killable.
			return
		}
		if cls.Predictive || rec.Confirms >= th.ConfCount {
			rec.State = model.StateKillable
		}

	case model.StateKillable:
		// Waits for the scheduler to act; a failed kill moves it to
		// COOLING via MarkKillFailed.
	}
}

// trackPlateau counts consecutive near-zero-slope, non-shrinking full
// windows in WATCH. Only after a full history-sized run does the record
// enter PLATEAU; mid-window wobble resets the count.
func (d *Detector) trackPlateau(rec *model.TrackState, cls model.Classification, now float64, th model.EffectiveThresholds) {
	n := len(rec.History)
	flat := math.Abs(cls.SlopeMBPerMin) < plateauSlopeMBPerMin &&
		rec.History[n-1].RSSBytes >= rec.History[0].RSSBytes
	if !flat {
		rec.PlateauTicks = 0
		return
	}
	rec.PlateauTicks++
	if rec.PlateauTicks >= th.HistoryLen {
		rec.State = model.StatePlateau
		rec.PlateauTicks = 0
		rec.NotBefore = now + th.CoolSeconds
	}
}

// MarkKillFailed transitions a KILLABLE record whose kill did not take
// effect into COOLING until now + cool.
func (d *Detector) MarkKillFailed(rec *model.TrackState, now float64, th model.EffectiveThresholds) {
	rec.State = model.StateCooling
	rec.Confirms = 0
	rec.NotBefore = now + th.CoolSeconds
}
