package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/yardcam/internal/api"
	"github.com/roach88/yardcam/internal/config"
	"github.com/roach88/yardcam/internal/dispatch"
	"github.com/roach88/yardcam/internal/engine"
	"github.com/roach88/yardcam/internal/observability"
	"github.com/roach88/yardcam/internal/store"
	"github.com/roach88/yardcam/internal/supervisor"
)

// idlePoll is how often --once checks whether the engine has gone quiet.
const idlePoll = 50 * time.Millisecond

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Journal string
	Addr    string
	NoHTTP  bool
	Once    bool
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <config>",
		Short: "Run the dispatch service",
		Long: `Start one worker per camera, feed their observations through the
matching engine, and send work orders for confirmed pairings.

The status API serves /health, /ready, /status and /metrics unless
--no-http is given. With --once the service exits after every camera
source has finished and pending dispatches have settled; use it to replay
recorded observation files.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runService(opts, cmd, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.Journal, "journal", "", "journal database path (overrides journal.path)")
	cmd.Flags().StringVar(&opts.Addr, "addr", "", "status API listen address (overrides http.addr)")
	cmd.Flags().BoolVar(&opts.NoHTTP, "no-http", false, "do not start the status API")
	cmd.Flags().BoolVar(&opts.Once, "once", false, "exit when all camera sources have finished")

	return cmd
}

func runService(opts *RunOptions, cmd *cobra.Command, path string) error {
	logger, err := opts.logger(cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	cfg, err := config.Load(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if opts.Journal != "" {
		cfg.Journal.Path = opts.Journal
	}
	if opts.Addr != "" {
		cfg.HTTP.Addr = opts.Addr
	}
	if strings.TrimSpace(cfg.Dispatch.URL) == "" {
		return NewExitError(ExitCommandError, "dispatch.url is required to run")
	}
	if len(cfg.Cameras) == 0 {
		return NewExitError(ExitCommandError, "no cameras configured")
	}

	topo, err := cfg.Topology()
	if err != nil {
		return WrapExitError(ExitFailure, "config invalid", err)
	}
	client, err := dispatch.NewHTTPClient(cfg.DispatchClientConfig())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create dispatch client", err)
	}

	observability.RegisterMetrics()

	engOpts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithGracePeriod(cfg.GracePeriod.Std()),
		engine.WithThreshold(cfg.DebounceThreshold),
	}
	if cfg.Journal.Path != "" {
		st, err := store.Open(cfg.Journal.Path)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open journal", err)
		}
		defer st.Close()
		last, err := st.LastSeq(cmd.Context())
		if err != nil {
			return WrapExitError(ExitFailure, "failed to read journal", err)
		}
		logger.Info("journal open", "path", cfg.Journal.Path, "run_id", st.RunID(), "resume_seq", last)
		engOpts = append(engOpts, engine.WithJournal(st), engine.WithClock(engine.ResumeClock(last)))
	}

	eng := engine.New(topo, client, engOpts...)
	defer eng.Close()

	sup := supervisor.New(eng, buildCameras(cfg, logger), supervisor.Config{
		SampleEvery:    cfg.SampleEvery,
		InitialBackoff: cfg.Supervisor.InitialBackoff.Std(),
		MaxBackoff:     cfg.Supervisor.MaxBackoff.Std(),
		MaxRetries:     cfg.Supervisor.MaxRetries,
	}, supervisor.WithLogger(logger))

	ctx, cancel := signalContext(cmd.Context(), logger)
	defer cancel()

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		errs   []error
		record = func(err error) {
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		}
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := eng.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			record(fmt.Errorf("engine: %w", err))
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		err := sup.Run(ctx)
		if err != nil && ctx.Err() == nil {
			logger.Error("camera workers failed", "error", err)
			if opts.Once {
				record(fmt.Errorf("supervisor: %w", err))
			}
		}
		if !opts.Once || ctx.Err() != nil {
			return
		}
		logger.Info("all camera sources finished, waiting for pending dispatches")
		waitIdle(ctx, eng, cfg.GracePeriod.Std()+cfg.Dispatch.Timeout.Std()+time.Second)
		cancel()
	}()

	if !opts.NoHTTP {
		srvOpts := []api.Option{api.WithLogger(logger), api.WithVersion(Version)}
		if len(cfg.HTTP.CORSOrigins) > 0 {
			srvOpts = append(srvOpts, api.WithCORSOrigins(cfg.HTTP.CORSOrigins...))
		}
		srv := api.New(eng, sup, srvOpts...)

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Serve(ctx, cfg.HTTP.Addr); err != nil {
				record(fmt.Errorf("status api: %w", err))
				cancel()
			}
		}()
	}

	wg.Wait()
	logger.Info("yardcam stopped", "seq", eng.Clock().Current())

	if err := errors.Join(errs...); err != nil {
		return WrapExitError(ExitFailure, "run failed", err)
	}
	return nil
}

// buildCameras turns the camera config into supervised sources.
func buildCameras(cfg *config.Config, logger *slog.Logger) []supervisor.Camera {
	owned := cfg.CameraRegions()

	cams := make([]supervisor.Camera, 0, len(cfg.Cameras))
	for _, c := range cfg.Cameras {
		id := strings.TrimSpace(c.ID)

		var src supervisor.Source
		switch c.Source.Kind {
		case config.SourceMQTT:
			src = &supervisor.MQTTSource{
				Broker:   cfg.MQTT.Broker,
				ClientID: cfg.MQTT.ClientID + "-" + id,
				Topic:    cfg.TopicFor(c),
				QoS:      byte(cfg.MQTT.QoS),
				Logger:   logger.With("camera", id),
			}
		case config.SourceLines:
			src = &supervisor.LineSource{
				Path:     c.Source.Path,
				Interval: c.Source.Interval.Std(),
				Logger:   logger.With("camera", id),
			}
		}

		cams = append(cams, supervisor.Camera{ID: id, Regions: owned[id], Source: src})
	}
	return cams
}

// waitIdle blocks until the engine has an empty queue, every End is idle and
// the logical clock held still across two polls, or until limit passes
// without any progress.
func waitIdle(ctx context.Context, eng *engine.Engine, limit time.Duration) {
	ticker := time.NewTicker(idlePoll)
	defer ticker.Stop()

	lastSeq := int64(-1)
	deadline := time.Now().Add(limit)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		st := eng.Status()
		if st.Seq != lastSeq {
			lastSeq = st.Seq
			deadline = time.Now().Add(limit)
			continue
		}
		if st.QueueLen == 0 && allIdle(st.Ends) {
			return
		}
		if time.Now().After(deadline) {
			return
		}
	}
}

func allIdle(ends []engine.EndStatus) bool {
	for _, e := range ends {
		if e.Phase != engine.PhaseIdle {
			return false
		}
	}
	return true
}
