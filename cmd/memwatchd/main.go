// memwatchd — privileged memory-leak watchdog for a single host.
//
// Continuously samples every user-space process (and optionally every
// container), classifies sustained RSS growth with a sliding-window
// linear regression, and terminates confirmed leaks — proactively in
// hunting mode, or only under memory pressure in protection mode.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kestrel-ops/memwatchd/internal/actionlog"
	"github.com/kestrel-ops/memwatchd/internal/external"
	"github.com/kestrel-ops/memwatchd/internal/killer"
	"github.com/kestrel-ops/memwatchd/internal/model"
	"github.com/kestrel-ops/memwatchd/internal/privilege"
	"github.com/kestrel-ops/memwatchd/internal/progress"
	"github.com/kestrel-ops/memwatchd/internal/recidivism"
	"github.com/kestrel-ops/memwatchd/internal/sampler"
	"github.com/kestrel-ops/memwatchd/internal/scheduler"
	"github.com/kestrel-ops/memwatchd/internal/scorer"
	"github.com/kestrel-ops/memwatchd/internal/tuner"
	"github.com/kestrel-ops/memwatchd/internal/whitelist"
)

var version = "0.1.0"

// Exit codes per the external contract.
const (
	exitOK          = 0
	exitFatal       = 1
	exitNoPrivilege = 2
	exitBadFlags    = 3
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		flagInterval        int
		flagHistory         int
		flagGrowth          float64
		flagSlope           float64
		flagConf            int
		flagGrace           int
		flagCool            int
		flagHigh            float64
		flagLow             float64
		flagRecent          float64
		flagChildWt         float64
		flagNotifyThreshold int
		flagNotifyWindow    int
		flagItermOnly       bool
		flagDocker          bool
		flagProtection      bool
		flagHunting         bool
		flagLeakThreshold   float64
		flagLogFile         string
		flagQuiet           bool
		flagWhitelist       []string
	)

	exitCode := exitOK

	rootCmd := &cobra.Command{
		Use:   "memwatchd",
		Short: "Memory-leak watchdog: detect and kill leaking processes",
		Long: `memwatchd — always-on memory watchdog for a single host.

Samples every process each tick, fits a linear regression over a
sliding window of RSS readings, and walks confirmed leaks through a
grace / watch / confirm state machine before killing them. Under
global memory pressure a scored triage pass kills the most dangerous
offenders until usage drops below the low-water mark.

Modes:
  --protection-mode  kill confirmed leaks only when used% crosses
                     the leak gate (default)
  --hunting-mode     kill confirmed leaks unconditionally`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if flagProtection && flagHunting {
				exitCode = exitBadFlags
				return errors.New("--protection-mode and --hunting-mode are mutually exclusive")
			}
			if flagLow > flagHigh {
				exitCode = exitBadFlags
				return fmt.Errorf("--low (%.0f) must not exceed --high (%.0f)", flagLow, flagHigh)
			}
			if flagInterval < 1 || flagHistory < 2 || flagConf < 1 {
				exitCode = exitBadFlags
				return errors.New("--interval must be >= 1, --history >= 2, --conf >= 1")
			}

			if err := privilege.Check(); err != nil {
				exitCode = exitNoPrivilege
				return errors.New("cannot signal other users' processes; run as root or grant CAP_KILL")
			}

			mode := model.ModeProtection
			if flagHunting {
				mode = model.ModeHunting
			}

			params := tuner.Params{}
			flags := cmd.Flags()
			if flags.Changed("slope") {
				params.SlopeMBPerMin = &flagSlope
			}
			if flags.Changed("growth") {
				params.GrowthMB = &flagGrowth
			}
			if flags.Changed("history") {
				params.HistoryLen = &flagHistory
			}
			if flags.Changed("grace") {
				g := float64(flagGrace)
				params.GraceSeconds = &g
			}
			if flags.Changed("cool") {
				c := float64(flagCool)
				params.CoolSeconds = &c
			}
			if flags.Changed("high") {
				params.HighPct = &flagHigh
			}
			if flags.Changed("low") {
				params.LowPct = &flagLow
			}
			if flags.Changed("leak-threshold") {
				params.LeakPct = &flagLeakThreshold
			}
			if flags.Changed("conf") {
				params.ConfCount = &flagConf
			}

			weights := scorer.DefaultWeights()
			weights.Children = flagChildWt
			weights.Recency = flagRecent

			logPath := flagLogFile
			if logPath == "" {
				p, err := actionlog.DefaultPath()
				if err != nil {
					exitCode = exitFatal
					return err
				}
				logPath = p
			}
			alog, err := actionlog.Open(logPath)
			if err != nil {
				exitCode = exitFatal
				return err
			}
			defer alog.Close()

			prog := progress.New(!flagQuiet)
			runner := external.NewCommand()
			wl := whitelist.New(flagWhitelist, flagItermOnly)
			recid := recidivism.New(float64(flagNotifyWindow), flagNotifyThreshold,
				&recidivism.NotifySend{Runner: runner})

			var containers scheduler.ContainerSource
			if flagDocker {
				containers = sampler.NewContainerSampler(runner)
			}

			sched := scheduler.New(
				scheduler.Config{
					Interval:  time.Duration(flagInterval) * time.Second,
					Mode:      mode,
					Params:    params,
					Weights:   weights,
					ItermOnly: flagItermOnly,
				},
				sampler.NewProcessSampler("/proc"),
				sampler.NewMemoryOracle("/proc"),
				killer.New(killer.OSSignaler(), killer.DefaultGracePeriod),
				containers,
				wl,
				recid,
				alog,
				prog,
			)

			ctx, stop := signal.NotifyContext(context.Background(),
				os.Interrupt, syscall.SIGTERM)
			defer stop()
			return sched.Run(ctx)
		},
	}

	f := rootCmd.Flags()
	f.IntVar(&flagInterval, "interval", 5, "Seconds between scheduler ticks")
	f.IntVar(&flagHistory, "history", 6, "Samples per sliding window (RAM tier default when unset)")
	f.Float64Var(&flagGrowth, "growth", 50, "Minimum net RSS growth in MB over the window (RAM tier default when unset)")
	f.Float64Var(&flagSlope, "slope", 20, "Minimum RSS slope in MB/min (RAM tier default when unset)")
	f.IntVar(&flagConf, "conf", 2, "Consecutive leaking confirmations before a kill")
	f.IntVar(&flagGrace, "grace", 60, "Seconds a new process is immune after first observation")
	f.IntVar(&flagCool, "cool", 300, "Cooldown seconds after a failed kill or plateau")
	f.Float64Var(&flagHigh, "high", 90, "used%% ceiling that triggers pressure relief (RAM tier default when unset)")
	f.Float64Var(&flagLow, "low", 85, "used%% floor at which pressure relief stops (RAM tier default when unset)")
	f.Float64Var(&flagRecent, "recent", 1, "Pressure-score weight of process recency")
	f.Float64Var(&flagChildWt, "child-wt", 1, "Pressure-score weight of child count")
	f.IntVar(&flagNotifyThreshold, "notify-threshold", 3, "Kills of one fingerprint before a desktop notification")
	f.IntVar(&flagNotifyWindow, "notify-window", 600, "Rolling window seconds for the recidivism counter")
	f.BoolVar(&flagItermOnly, "iterm-only", false, "Only consider processes descended from the terminal emulator")
	f.BoolVar(&flagDocker, "docker", false, "Also watch containers via docker/podman")
	f.BoolVar(&flagProtection, "protection-mode", false, "Kill leaks only under memory pressure (default)")
	f.BoolVar(&flagHunting, "hunting-mode", false, "Kill confirmed leaks unconditionally")
	f.Float64Var(&flagLeakThreshold, "leak-threshold", 85, "used%% gate for leak kills in protection mode")
	f.StringVar(&flagLogFile, "log-file", "", "Action log path (default ~/"+actionlog.DefaultFileName+")")
	f.BoolVarP(&flagQuiet, "quiet", "q", false, "Suppress progress output")
	f.StringSliceVar(&flagWhitelist, "whitelist", nil, "Extra process basenames that may never be killed")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "memwatchd: %v\n", err)
		if exitCode == exitOK {
			exitCode = exitFatal
		}
	}
	return exitCode
}
