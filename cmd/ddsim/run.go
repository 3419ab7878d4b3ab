package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/dd0wney/cluso-disloc/pkg/config"
	"github.com/dd0wney/cluso-disloc/pkg/geom"
	"github.com/dd0wney/cluso-disloc/pkg/logging"
	"github.com/dd0wney/cluso-disloc/pkg/metrics"
	"github.com/dd0wney/cluso-disloc/pkg/network"
	"github.com/dd0wney/cluso-disloc/pkg/server"
	"github.com/dd0wney/cluso-disloc/pkg/sim"
)

type runOptions struct {
	configPath  string
	in          string
	out         string
	steps       int
	workers     int
	metricsAddr string
	resume      bool
	progress    bool
}

// runStatus is the document served at /status.
type runStatus struct {
	RunID    string  `json:"run_id"`
	Step     uint64  `json:"step"`
	Time     float64 `json:"time"`
	Dt       float64 `json:"dt"`
	Nodes    int     `json:"nodes"`
	Segments int     `json:"segments"`
	Length   float64 `json:"line_length"`
}

func newRunCmd() *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Advance a network snapshot by a number of steps",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulation(cmd, opts)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&opts.configPath, "config", "c", "", "YAML run file (default: built-in defaults)")
	f.StringVarP(&opts.in, "in", "i", "", "input snapshot")
	f.StringVarP(&opts.out, "out", "o", "", "output snapshot (default: overwrite input)")
	f.IntVarP(&opts.steps, "steps", "n", -1, "number of steps (default: run.steps)")
	f.IntVarP(&opts.workers, "workers", "w", -1, "kernel workers (default: run.workers, 0 for all CPUs)")
	f.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve /metrics on this address (default: run.metrics_addr)")
	f.BoolVar(&opts.resume, "resume", false, "continue the run state stored in the input snapshot")
	f.BoolVar(&opts.progress, "progress", true, "show a progress bar")
	_ = cmd.MarkFlagRequired("in")
	return cmd
}

func (o *runOptions) load() (*config.File, error) {
	file := config.Default()
	if o.configPath != "" {
		var err error
		if file, err = config.Load(o.configPath); err != nil {
			return nil, err
		}
	}
	if o.steps >= 0 {
		file.Run.Steps = o.steps
	}
	if o.workers >= 0 {
		file.Run.Workers = o.workers
	}
	if o.metricsAddr != "" {
		file.Run.MetricsAddr = o.metricsAddr
	}
	if err := file.Validate(); err != nil {
		return nil, err
	}
	return file, nil
}

func runSimulation(cmd *cobra.Command, opts *runOptions) error {
	file, err := opts.load()
	if err != nil {
		return err
	}
	cfg, err := file.Sim()
	if err != nil {
		return err
	}
	logger := file.Logger(cmd.ErrOrStderr())
	logging.SetDefaultLogger(logger)

	snap, err := readSnapshot(opts.in)
	if err != nil {
		return err
	}
	net, err := network.FromSnapshot(snap)
	if err != nil {
		return err
	}

	state := sim.NewContext(cfg.InitialDt)
	if opts.resume {
		saved, ok, err := sim.UnmarshalState(snap.Meta)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%s: no run state to resume", opts.in)
		}
		if err := state.Resume(saved); err != nil {
			return err
		}
	}

	out := opts.out
	if out == "" {
		out = opts.in
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := metrics.NewRegistry()
	var status atomic.Pointer[runStatus]
	// applied stress from a reloaded run file, taken up between steps
	var pending atomic.Pointer[geom.Tensor]
	status.Store(&runStatus{RunID: state.RunID.String(), Step: state.Step, Time: state.Time, Dt: state.Dt})

	var srv *server.GracefulServer
	if file.Run.MetricsAddr != "" {
		srv = server.NewGracefulServer(file.Run.MetricsAddr, reg,
			server.WithLogger(logger.With(logging.Component("server"))),
			server.WithStatus(func() any { return status.Load() }))
		if err := srv.Listen(); err != nil {
			return err
		}
		srv.SetConfigReloadFunc(func() error {
			if opts.configPath == "" {
				return nil
			}
			reloaded, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			applied := geom.Tensor(reloaded.Force.Applied)
			pending.Store(&applied)
			return nil
		})
		srv.WatchSignals(ctx, stop)
		go func() {
			if err := srv.Start(); err != nil {
				logger.Error("metrics server failed", logging.Error(err))
			}
		}()
		defer func() {
			_ = srv.Shutdown(file.Run.ShutdownTimeout)
		}()
	}

	bar := newProgress(cmd.ErrOrStderr(), file.Run.Steps, opts.progress)
	var snapErr error
	var d *sim.Driver
	observe := func(r *sim.StepResult) {
		status.Store(&runStatus{
			RunID:    state.RunID.String(),
			Step:     r.Step,
			Time:     r.Time,
			Dt:       r.NextDt,
			Nodes:    r.Stats.NumNodes,
			Segments: r.Stats.NumSegments,
			Length:   r.Stats.LineLength,
		})
		reg.UpdateSystemMetrics()
		if s := pending.Swap(nil); s != nil {
			d.SetApplied(*s)
			logger.Info("applied stress updated", logging.Step(r.Step))
		}
		_ = bar.Add(1)
		if every := file.Run.SnapshotEvery; every > 0 && r.Step%uint64(every) == 0 && snapErr == nil {
			snapErr = saveRun(d, out, file.Run.Compress)
		}
	}

	d, err = sim.New(net, cfg,
		sim.WithRunner(file.Runner()),
		sim.WithLogger(logger),
		sim.WithMetrics(reg),
		sim.WithContext(state),
		sim.WithObserver(observe),
	)
	if err != nil {
		return err
	}

	logger.Info("run starting",
		logging.String("in", opts.in),
		logging.String("out", out),
		logging.Int("steps", file.Run.Steps),
		logging.Int("workers", file.Runner().Workers()),
		logging.Int("nodes", net.NumNodes()),
		logging.Int("segments", net.NumSegments()),
	)

	runErr := d.Run(ctx, file.Run.Steps)
	_ = bar.Finish()
	if errors.Is(runErr, context.Canceled) {
		logger.Warn("run interrupted", logging.Step(d.Context().Step))
		runErr = nil
	}

	// a failed step leaves the network at the last accepted state
	if err := saveRun(d, out, file.Run.Compress); err != nil {
		return err
	}
	if snapErr != nil {
		return snapErr
	}
	if runErr != nil {
		return runErr
	}
	return printStats(cmd.OutOrStdout(), net.Stats(), d.Context().State(), true, 1)
}

func saveRun(d *sim.Driver, path string, compress bool) error {
	s, err := d.Snapshot()
	if err != nil {
		return err
	}
	return writeSnapshot(path, s, compress)
}

func newProgress(w io.Writer, steps int, show bool) *progressbar.ProgressBar {
	if !show {
		w = io.Discard
	}
	return progressbar.NewOptions(steps,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription("stepping"),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("steps"),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
}
