package tuner

import (
	"testing"

	"github.com/kestrel-ops/memwatchd/internal/model"
)

const gibibyte = int64(1) << 30

func TestRAMTiers(t *testing.T) {
	tests := []struct {
		name     string
		totalRAM int64
		want     model.EffectiveThresholds
	}{
		{
			name:     "tight at 8GiB",
			totalRAM: 8 * gibibyte,
			want:     model.EffectiveThresholds{SlopeMBPerMin: 10, GrowthMB: 20, HistoryLen: 8, HighPct: 85, LowPct: 80},
		},
		{
			name:     "moderate at 16GiB",
			totalRAM: 16 * gibibyte,
			want:     model.EffectiveThresholds{SlopeMBPerMin: 20, GrowthMB: 50, HistoryLen: 6, HighPct: 90, LowPct: 85},
		},
		{
			name:     "relaxed at 32GiB",
			totalRAM: 32 * gibibyte,
			want:     model.EffectiveThresholds{SlopeMBPerMin: 30, GrowthMB: 100, HistoryLen: 6, HighPct: 92, LowPct: 87},
		},
		{
			name:     "loose above 32GiB",
			totalRAM: 64 * gibibyte,
			want:     model.EffectiveThresholds{SlopeMBPerMin: 40, GrowthMB: 200, HistoryLen: 6, HighPct: 94, LowPct: 89},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Effective(Params{}, tt.totalRAM, 50)
			if got.SlopeMBPerMin != tt.want.SlopeMBPerMin {
				t.Errorf("slope = %.0f, want %.0f", got.SlopeMBPerMin, tt.want.SlopeMBPerMin)
			}
			if got.GrowthMB != tt.want.GrowthMB {
				t.Errorf("growth = %.0f, want %.0f", got.GrowthMB, tt.want.GrowthMB)
			}
			if got.HistoryLen != tt.want.HistoryLen {
				t.Errorf("history = %d, want %d", got.HistoryLen, tt.want.HistoryLen)
			}
			if got.HighPct != tt.want.HighPct || got.LowPct != tt.want.LowPct {
				t.Errorf("high/low = %.0f/%.0f, want %.0f/%.0f",
					got.HighPct, got.LowPct, tt.want.HighPct, tt.want.LowPct)
			}
		})
	}
}

func TestUserOverridesBeatTier(t *testing.T) {
	slope := 99.0
	hist := 12
	conf := 5
	got := Effective(Params{SlopeMBPerMin: &slope, HistoryLen: &hist, ConfCount: &conf}, 8*gibibyte, 50)

	if got.SlopeMBPerMin != 99 {
		t.Errorf("slope = %.0f, want user override 99", got.SlopeMBPerMin)
	}
	if got.HistoryLen != 12 {
		t.Errorf("history = %d, want user override 12", got.HistoryLen)
	}
	if got.ConfCount != 5 {
		t.Errorf("conf = %d, want user override 5", got.ConfCount)
	}
	// Untouched fields still follow the tier.
	if got.GrowthMB != 20 {
		t.Errorf("growth = %.0f, want tier default 20", got.GrowthMB)
	}
}

func TestPressureTightening(t *testing.T) {
	// Moderate tier: slope 20, growth 50, high 90.
	total := 16 * gibibyte

	calm := Effective(Params{}, total, 50)
	if calm.SlopeMBPerMin != 20 || calm.GrowthMB != 50 {
		t.Fatalf("calm thresholds = %.0f/%.0f, want 20/50", calm.SlopeMBPerMin, calm.GrowthMB)
	}

	// Within 5 points of high: 0.7 multiplier, rounded.
	near := Effective(Params{}, total, 87)
	if near.SlopeMBPerMin != 14 || near.GrowthMB != 35 {
		t.Errorf("near-high thresholds = %.0f/%.0f, want 14/35", near.SlopeMBPerMin, near.GrowthMB)
	}

	// Over high: 0.5 multiplier.
	over := Effective(Params{}, total, 95)
	if over.SlopeMBPerMin != 10 || over.GrowthMB != 25 {
		t.Errorf("over-high thresholds = %.0f/%.0f, want 10/25", over.SlopeMBPerMin, over.GrowthMB)
	}

	// Exactly at high counts as "near", not "over".
	at := Effective(Params{}, total, 90)
	if at.SlopeMBPerMin != 14 {
		t.Errorf("at-high slope = %.0f, want 14", at.SlopeMBPerMin)
	}
}

func TestTighteningAppliesToUserValues(t *testing.T) {
	slope := 100.0
	got := Effective(Params{SlopeMBPerMin: &slope}, 16*gibibyte, 95)
	if got.SlopeMBPerMin != 50 {
		t.Errorf("slope = %.0f, want 50 (user 100 halved under pressure)", got.SlopeMBPerMin)
	}
}
