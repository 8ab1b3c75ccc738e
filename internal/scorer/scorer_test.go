package scorer

import (
	"testing"
	"time"

	"github.com/kestrel-ops/memwatchd/internal/model"
)

const mb = int64(1) << 20

func record(pid int, state model.FSMState, rssMB int64, slope float64, children int, age time.Duration, now time.Time) *model.ProcessRecord {
	return &model.ProcessRecord{
		PID:        pid,
		Name:       "p",
		CreateTime: now.Add(-age),
		ChildCount: children,
		TrackState: model.TrackState{
			State:     state,
			History:   []model.Sample{{TimestampSeconds: 0, RSSBytes: rssMB * mb}},
			LastClass: model.Classification{SlopeMBPerMin: slope},
		},
	}
}

// Five non-leaking processes of descending RSS: with equal state, slope,
// children and age, the RSS term alone must drive the ranking.
func TestRankByRSS(t *testing.T) {
	now := time.Unix(10000, 0)
	var recs []*model.ProcessRecord
	for i, rss := range []int64{500, 400, 300, 200, 100} {
		recs = append(recs, record(i+1, model.StateWatch, rss, 0, 0, time.Hour, now))
	}

	ranked := Rank(recs, now, DefaultWeights())
	for i, wantPID := range []int{1, 2, 3, 4, 5} {
		if ranked[i].Record.PID != wantPID {
			t.Errorf("rank %d: pid = %d, want %d", i, ranked[i].Record.PID, wantPID)
		}
	}
	if got := MaxKills(len(recs)); got != 1 {
		t.Errorf("MaxKills(5) = %d, want 1", got)
	}
}

// The state term dominates: a KILLABLE record outranks a bigger WATCH one.
func TestStateTermDominates(t *testing.T) {
	now := time.Unix(10000, 0)
	small := record(1, model.StateKillable, 100, 0, 0, time.Hour, now)
	big := record(2, model.StateWatch, 500, 0, 0, time.Hour, now)

	ranked := Rank([]*model.ProcessRecord{big, small}, now, DefaultWeights())
	if ranked[0].Record.PID != 1 {
		t.Errorf("top pid = %d, want KILLABLE pid 1 (w1·1 = 3 beats w3·1 = 2)", ranked[0].Record.PID)
	}
}

func TestTieBreakByPID(t *testing.T) {
	now := time.Unix(10000, 0)
	a := record(20, model.StateWatch, 100, 0, 0, time.Hour, now)
	b := record(10, model.StateWatch, 100, 0, 0, time.Hour, now)

	ranked := Rank([]*model.ProcessRecord{a, b}, now, DefaultWeights())
	if ranked[0].Record.PID != 10 {
		t.Errorf("tie-break: top pid = %d, want 10", ranked[0].Record.PID)
	}
}

func TestRecencyFavorsYoung(t *testing.T) {
	now := time.Unix(10000, 0)
	young := record(1, model.StateWatch, 100, 0, 0, 2*time.Second, now)
	old := record(2, model.StateWatch, 100, 0, 0, time.Hour, now)

	ranked := Rank([]*model.ProcessRecord{old, young}, now, DefaultWeights())
	if ranked[0].Record.PID != 1 {
		t.Errorf("top pid = %d, want younger process", ranked[0].Record.PID)
	}
}

func TestChildWeightTunable(t *testing.T) {
	now := time.Unix(10000, 0)
	parent := record(1, model.StateWatch, 100, 0, 10, time.Hour, now)
	loner := record(2, model.StateWatch, 200, 0, 0, time.Hour, now)

	// With the child weight cranked up the forking process wins even
	// against double the RSS.
	w := DefaultWeights()
	w.Children = 10
	ranked := Rank([]*model.ProcessRecord{parent, loner}, now, w)
	if ranked[0].Record.PID != 1 {
		t.Errorf("top pid = %d, want forking process under child-wt=10", ranked[0].Record.PID)
	}
}

func TestMaxKillsFloor(t *testing.T) {
	for _, tt := range []struct{ n, want int }{
		{0, 0}, {1, 0}, {2, 0}, {3, 1}, {5, 1}, {6, 2}, {9, 3},
	} {
		if got := MaxKills(tt.n); got != tt.want {
			t.Errorf("MaxKills(%d) = %d, want %d", tt.n, got, tt.want)
		}
	}
}

func TestEmptyCandidates(t *testing.T) {
	if got := Rank(nil, time.Now(), DefaultWeights()); got != nil {
		t.Errorf("Rank(nil) = %v, want nil", got)
	}
}
