// Package scheduler drives the watchdog's tick loop: sample, observe,
// classify, kill (hunting or protection), relieve pressure, collect
// garbage. Single goroutine, monotonic pacing; every other component is
// called from here and from nowhere else.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/kestrel-ops/memwatchd/internal/actionlog"
	"github.com/kestrel-ops/memwatchd/internal/detector"
	"github.com/kestrel-ops/memwatchd/internal/history"
	"github.com/kestrel-ops/memwatchd/internal/model"
	"github.com/kestrel-ops/memwatchd/internal/progress"
	"github.com/kestrel-ops/memwatchd/internal/recidivism"
	"github.com/kestrel-ops/memwatchd/internal/scorer"
	"github.com/kestrel-ops/memwatchd/internal/tuner"
	"github.com/kestrel-ops/memwatchd/internal/whitelist"
)

// externalErrLogInterval rate-limits transient external error reporting.
const externalErrLogInterval = 60.0

// ProcessSource produces one process snapshot per tick.
type ProcessSource interface {
	Snapshot() []model.ProcessSnapshotEntry
}

// MemorySource reports total RAM and used percent.
type MemorySource interface {
	Mem() (totalBytes int64, usedPct float64, err error)
}

// ProcessTerminator kills one PID gracefully-then-forcefully.
type ProcessTerminator interface {
	Kill(ctx context.Context, pid int) (model.KillOutcome, error)
}

// ContainerSource samples and stops containers; nil disables container
// mode entirely.
type ContainerSource interface {
	Snapshot(ctx context.Context) []model.ContainerSnapshotEntry
	Stop(ctx context.Context, id string, timeout time.Duration) error
}

// Config is the scheduler's run configuration, passed by value.
type Config struct {
	Interval  time.Duration
	Mode      model.Mode
	Params    tuner.Params
	Weights   scorer.Weights
	ItermOnly bool
}

// Scheduler owns all mutable watchdog state.
type Scheduler struct {
	cfg        Config
	procs      ProcessSource
	memory     MemorySource
	terminator ProcessTerminator
	containers ContainerSource

	store *history.Store
	det   *detector.Detector
	wl    *whitelist.Whitelist
	recid *recidivism.Tracker
	alog  *actionlog.Log
	prog  *progress.Progress

	ctrRecords map[string]*model.ContainerRecord
	state      model.GlobalState

	clock     func() float64 // monotonic seconds
	startTime time.Time

	lastExtErrAt map[string]float64
}

// New wires a Scheduler. containers may be nil.
func New(cfg Config, procs ProcessSource, memory MemorySource, terminator ProcessTerminator,
	containers ContainerSource, wl *whitelist.Whitelist, recid *recidivism.Tracker,
	alog *actionlog.Log, prog *progress.Progress) *Scheduler {
	start := time.Now()
	return &Scheduler{
		cfg:          cfg,
		state:        model.GlobalState{Mode: cfg.Mode, ItermOnly: cfg.ItermOnly, ContainersOn: containers != nil},
		procs:        procs,
		memory:       memory,
		terminator:   terminator,
		containers:   containers,
		store:        history.NewStore(),
		det:          detector.New(cfg.Interval.Seconds()),
		wl:           wl,
		recid:        recid,
		alog:         alog,
		prog:         prog,
		ctrRecords:   make(map[string]*model.ContainerRecord),
		startTime:    start,
		clock:        func() float64 { return time.Since(start).Seconds() },
		lastExtErrAt: make(map[string]float64),
	}
}

// Run ticks until ctx is cancelled, sleeping `interval − elapsed` after
// each tick so that tick start times stay `interval` apart; a tick that
// runs longer than `interval` is followed by the next one immediately.
func (s *Scheduler) Run(ctx context.Context) error {
	s.prog.Log("watchdog started, interval=%s mode=%s", s.cfg.Interval, modeName(s.cfg.Mode))
	for {
		tickStart := time.Now()
		s.Tick(ctx)
		if ctx.Err() != nil {
			s.prog.Log("shutting down")
			return nil
		}
		elapsed := time.Since(tickStart)
		sleep := s.cfg.Interval - elapsed
		if sleep < 0 {
			sleep = 0
		}
		select {
		case <-ctx.Done():
			s.prog.Log("shutting down")
			return nil
		case <-time.After(sleep):
		}
	}
}

// Tick runs one full scheduler pass. Exported so tests can drive the
// loop deterministically.
func (s *Scheduler) Tick(ctx context.Context) {
	now := s.clock()

	total, usedPct, err := s.memory.Mem()
	if err != nil {
		s.logExternalErr("meminfo", now, err)
		return
	}

	s.state.TotalRAMBytes = total
	s.state.UsedPct = usedPct

	th := tuner.Effective(s.cfg.Params, total, usedPct)

	snapshot := s.procs.Snapshot()
	s.markTerminalAncestry(snapshot)
	s.store.Observe(snapshot, now, th, s.wl)
	if ctx.Err() != nil {
		return
	}

	records := s.store.Sorted()
	for _, rec := range records {
		s.det.Advance(&rec.TrackState, now, th, total)
	}
	if ctx.Err() != nil {
		return
	}

	corrID := actionlog.NewCorrelationID()
	usedPct = s.reapKillable(ctx, records, now, th, usedPct, corrID)
	if ctx.Err() != nil {
		return
	}

	if s.containers != nil {
		s.tickContainers(ctx, now, th, total, usedPct, corrID)
	}
	if ctx.Err() != nil {
		return
	}

	if usedPct >= th.HighPct {
		s.relievePressure(ctx, snapshot, now, th, corrID)
	}

	s.store.GC(snapshot, now, th, s.cfg.Interval.Seconds())
	s.gcContainers(now, th)
}

// reapKillable walks KILLABLE records in PID order. Hunting kills
// unconditionally; protection kills only once used% has crossed the leak
// gate. Returns the (possibly re-read) used% so relief sees post-kill
// pressure.
func (s *Scheduler) reapKillable(ctx context.Context, records []*model.ProcessRecord,
	now float64, th model.EffectiveThresholds, usedPct float64, corrID string) float64 {
	killed := false
	for _, rec := range records {
		if ctx.Err() != nil {
			break
		}
		if rec.State != model.StateKillable {
			continue
		}
		if s.cfg.Mode == model.ModeProtection && usedPct < th.LeakPct {
			continue
		}
		reason := model.ReasonLeak
		if rec.LastClass.Predictive {
			reason = model.ReasonPredictive
		}
		if s.killRecord(ctx, rec, now, th, reason, corrID) {
			killed = true
		}
	}
	if killed {
		if _, pct, err := s.memory.Mem(); err == nil {
			usedPct = pct
		}
	}
	return usedPct
}

// killRecord terminates one record's PID and handles the bookkeeping:
// action log, recidivism, store removal on success, COOLING on failure.
// Returns true when the process actually died.
func (s *Scheduler) killRecord(ctx context.Context, rec *model.ProcessRecord,
	now float64, th model.EffectiveThresholds, reason model.KillReason, corrID string) bool {
	if s.wl.Protected(rec.PID, rec.Name) {
		return false
	}

	outcome, err := s.terminator.Kill(ctx, rec.PID)
	rssMB := lastRSSMB(rec)
	slope := rec.LastClass.SlopeMBPerMin

	switch outcome {
	case model.KillSucceeded:
		s.appendLog("kill", rec.PID, rec.Name, reason, rssMB, slope, corrID)
		s.prog.Log("killed pid=%d name=%s reason=%s rss=%.0fMB", rec.PID, rec.Name, reason, rssMB)
		if s.recid.RecordKill(rec.Fingerprint(), now) {
			s.appendLog("notify", rec.PID, rec.Name, model.ReasonRecidivist, rssMB, slope, corrID)
		}
		s.store.Remove(rec.PID)
		return true
	case model.KillNotFound:
		// Already gone: a no-op; the record is dropped right away.
		s.store.Remove(rec.PID)
		return false
	default:
		s.logExternalErr("kill", now, err)
		s.appendLog("kill-failed", rec.PID, rec.Name, reason, rssMB, slope, corrID)
		s.det.MarkKillFailed(&rec.TrackState, now, th)
		return false
	}
}

// relievePressure runs the scored triage pass: rank candidates, kill
// from the top, re-reading used% after each kill, stopping at the
// low-water mark or the one-third ceiling.
func (s *Scheduler) relievePressure(ctx context.Context, snapshot []model.ProcessSnapshotEntry,
	now float64, th model.EffectiveThresholds, corrID string) {
	live := make(map[int]struct{}, len(snapshot))
	for _, e := range snapshot {
		live[e.PID] = struct{}{}
	}

	var cands []*model.ProcessRecord
	for _, rec := range s.store.Sorted() {
		if _, ok := live[rec.PID]; !ok {
			continue
		}
		if s.wl.Protected(rec.PID, rec.Name) {
			continue
		}
		if s.cfg.ItermOnly && !rec.FromTerminal {
			continue
		}
		cands = append(cands, rec)
	}
	if len(cands) == 0 {
		return
	}

	ranked := scorer.Rank(cands, s.startTime.Add(time.Duration(now*float64(time.Second))), s.cfg.Weights)
	maxKills := scorer.MaxKills(len(cands))
	kills := 0
	for _, c := range ranked {
		if ctx.Err() != nil || kills >= maxKills {
			return
		}
		if !s.killRecord(ctx, c.Record, now, th, model.ReasonPressure, corrID) {
			continue
		}
		kills++
		if _, pct, err := s.memory.Mem(); err == nil && pct <= th.LowPct {
			return
		}
	}
}

// tickContainers mirrors the process path for containers: observe the
// runtime's stats into per-id records, advance the same FSM, and stop
// killable containers. Protection gating applies identically.
func (s *Scheduler) tickContainers(ctx context.Context, now float64,
	th model.EffectiveThresholds, total int64, usedPct float64, corrID string) {
	cctx, cancel := context.WithTimeout(ctx, s.cfg.Interval/2)
	snapshot := s.containers.Snapshot(cctx)
	cancel()

	for _, e := range snapshot {
		rec, ok := s.ctrRecords[e.ID]
		if !ok {
			rec = &model.ContainerRecord{
				ID:         e.ID,
				Name:       e.Name,
				Image:      e.Image,
				CreateTime: e.CreateTime,
				TrackState: model.TrackState{
					State:     model.StateGrace,
					NotBefore: now + th.GraceSeconds,
				},
			}
			s.ctrRecords[e.ID] = rec
		}
		if n := len(rec.History); n == 0 || now > rec.History[n-1].TimestampSeconds {
			rec.History = append(rec.History, model.Sample{TimestampSeconds: now, RSSBytes: e.RSSBytes})
			rec.LastSampleAt = now
		}
		for len(rec.History) > th.HistoryLen {
			rec.History = rec.History[1:]
		}

		s.det.Advance(&rec.TrackState, now, th, total)

		if rec.State != model.StateKillable {
			continue
		}
		if s.cfg.Mode == model.ModeProtection && usedPct < th.LeakPct {
			continue
		}
		reason := model.ReasonLeak
		if rec.LastClass.Predictive {
			reason = model.ReasonPredictive
		}
		stopCtx, stopCancel := context.WithTimeout(ctx, s.cfg.Interval/2)
		err := s.containers.Stop(stopCtx, e.ID, 10*time.Second)
		stopCancel()
		if err != nil {
			s.logExternalErr("container-stop", now, err)
			s.det.MarkKillFailed(&rec.TrackState, now, th)
			continue
		}
		s.appendLog("stop", 0, rec.Name, reason, lastTrackRSSMB(&rec.TrackState), rec.LastClass.SlopeMBPerMin, corrID)
		s.prog.Log("stopped container %s name=%s reason=%s", shortID(e.ID), rec.Name, reason)
		delete(s.ctrRecords, e.ID)
	}
}

// gcContainers drops container records that stopped reporting.
func (s *Scheduler) gcContainers(now float64, th model.EffectiveThresholds) {
	horizon := th.CoolSeconds + float64(th.HistoryLen)*s.cfg.Interval.Seconds()
	for id, rec := range s.ctrRecords {
		if now-rec.LastSampleAt > horizon {
			delete(s.ctrRecords, id)
		}
	}
}

// markTerminalAncestry sets FromTerminal on every snapshot entry whose
// ancestry chain reaches a terminal emulator.
func (s *Scheduler) markTerminalAncestry(snapshot []model.ProcessSnapshotEntry) {
	byPID := make(map[int]int, len(snapshot)) // pid -> index
	for i, e := range snapshot {
		byPID[e.PID] = i
	}
	for i := range snapshot {
		pid := snapshot[i].PID
		for depth := 0; depth < 64; depth++ {
			idx, ok := byPID[pid]
			if !ok {
				break
			}
			if s.wl.IsTerminal(snapshot[idx].Name) {
				snapshot[i].FromTerminal = true
				break
			}
			parent := snapshot[idx].PPID
			if parent == pid || parent <= 0 {
				break
			}
			pid = parent
		}
	}
}

func (s *Scheduler) appendLog(event string, pid int, name string, reason model.KillReason,
	rssMB, slope float64, corrID string) {
	if s.alog == nil {
		return
	}
	if err := s.alog.Append(event, pid, name, reason, rssMB, slope, corrID); err != nil {
		s.prog.Log("action log write failed: %v", err)
	}
}

// logExternalErr reports a transient external failure at most once per
// minute per subsystem. Vanished targets are not worth a line at all.
func (s *Scheduler) logExternalErr(key string, now float64, err error) {
	if err == nil || errors.Is(err, model.ErrVanished) {
		return
	}
	if last, ok := s.lastExtErrAt[key]; ok && now-last < externalErrLogInterval {
		return
	}
	s.lastExtErrAt[key] = now
	s.prog.Log("%s: %v", key, err)
}

func lastRSSMB(rec *model.ProcessRecord) float64 {
	return lastTrackRSSMB(&rec.TrackState)
}

func lastTrackRSSMB(ts *model.TrackState) float64 {
	if n := len(ts.History); n > 0 {
		return float64(ts.History[n-1].RSSBytes) / (1 << 20)
	}
	return 0
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func modeName(m model.Mode) string {
	if m == model.ModeHunting {
		return "hunting"
	}
	return "protection"
}

// SetClock replaces the monotonic clock; tests use this to drive
// deterministic tick times.
func (s *Scheduler) SetClock(clock func() float64) {
	s.clock = clock
}

// Store exposes the history store for tests and diagnostics.
func (s *Scheduler) Store() *history.Store {
	return s.store
}

// State returns the run state as of the last tick.
func (s *Scheduler) State() model.GlobalState {
	return s.state
}
