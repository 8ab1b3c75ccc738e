// Package history owns the per-PID sample rings and record lifecycle.
// Single-writer: only the scheduler loop mutates the store, so no locks.
package history

import (
	"sort"

	"github.com/kestrel-ops/memwatchd/internal/model"
)

// Store maps live PIDs to their tracked records.
type Store struct {
	records map[int]*model.ProcessRecord
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{records: make(map[int]*model.ProcessRecord)}
}

// Observe folds one sampler snapshot into the store at monotonic time
// now. New PIDs enter in GRACE with not_before = now + grace; existing
// records get a sample appended and their oldest samples evicted beyond
// historyLen. Samples whose timestamp does not advance past the previous
// one are dropped, keeping the ring strictly increasing.
func (s *Store) Observe(snapshot []model.ProcessSnapshotEntry, now float64, th model.EffectiveThresholds, wl interface{ ContainsName(string) bool }) {
	for _, e := range snapshot {
		rec, ok := s.records[e.PID]
		if !ok {
			rec = &model.ProcessRecord{
				PID:        e.PID,
				Name:       e.Name,
				Cmdline:    e.Cmdline,
				CreateTime: e.CreateTime,
				TrackState: model.TrackState{
					State:     model.StateGrace,
					NotBefore: now + th.GraceSeconds,
				},
			}
			s.records[e.PID] = rec
		}

		// A PID can be reused; a changed identity means a new process.
		if rec.Name != e.Name || !rec.CreateTime.Equal(e.CreateTime) {
			rec.Name = e.Name
			rec.Cmdline = e.Cmdline
			rec.CreateTime = e.CreateTime
			rec.History = nil
			rec.State = model.StateGrace
			rec.Confirms = 0
			rec.PlateauTicks = 0
			rec.NotBefore = now + th.GraceSeconds
		}

		rec.PPID = e.PPID
		rec.ChildCount = e.ChildCount
		rec.FromTerminal = e.FromTerminal
		rec.Whitelisted = wl.ContainsName(e.Name)

		if n := len(rec.History); n == 0 || now > rec.History[n-1].TimestampSeconds {
			rec.History = append(rec.History, model.Sample{TimestampSeconds: now, RSSBytes: e.RSSBytes})
			rec.LastSampleAt = now
		}
		for len(rec.History) > th.HistoryLen {
			rec.History = rec.History[1:]
		}
	}
}

// GC drops records whose PID was absent from the latest snapshot and
// whose newest sample is older than the horizon (cool + history·interval
// seconds before now).
func (s *Store) GC(snapshot []model.ProcessSnapshotEntry, now float64, th model.EffectiveThresholds, intervalSeconds float64) {
	live := make(map[int]struct{}, len(snapshot))
	for _, e := range snapshot {
		live[e.PID] = struct{}{}
	}
	horizon := th.CoolSeconds + float64(th.HistoryLen)*intervalSeconds
	for pid, rec := range s.records {
		if _, ok := live[pid]; ok {
			continue
		}
		if now-rec.LastSampleAt > horizon {
			delete(s.records, pid)
		}
	}
}

// Get returns the record for pid, or nil.
func (s *Store) Get(pid int) *model.ProcessRecord {
	return s.records[pid]
}

// Remove deletes pid from the store (after a successful kill — the PID
// is about to vanish anyway).
func (s *Store) Remove(pid int) {
	delete(s.records, pid)
}

// Len returns the number of tracked records.
func (s *Store) Len() int {
	return len(s.records)
}

// Sorted returns all records in ascending PID order, the deterministic
// iteration order classification runs in.
func (s *Store) Sorted() []*model.ProcessRecord {
	out := make([]*model.ProcessRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PID < out[j].PID })
	return out
}
