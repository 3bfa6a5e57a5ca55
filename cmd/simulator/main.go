package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/signalsfoundry/pipenet-simulator/internal/audio"
	"github.com/signalsfoundry/pipenet-simulator/internal/config"
	"github.com/signalsfoundry/pipenet-simulator/internal/logging"
	"github.com/signalsfoundry/pipenet-simulator/internal/observability"
	sim "github.com/signalsfoundry/pipenet-simulator/internal/sim/state"
	"github.com/signalsfoundry/pipenet-simulator/timectrl"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, prometheus.DefaultRegisterer); err != nil {
		fmt.Fprintf(os.Stderr, "simulator: %v\n", err)
		os.Exit(1)
	}
}

// run parses args, builds the simulation and drives it until the
// configured duration elapses or ctx is cancelled.
func run(ctx context.Context, args []string, stdout io.Writer, reg prometheus.Registerer) error {
	fs := flag.NewFlagSet("simulator", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to a YAML simulator config")
	scenario := fs.String("scenario", "", "path to a JSON pipe scenario (overrides config)")
	duration := fs.Duration("duration", 0, "total simulated duration; 0 keeps the config value")
	tick := fs.Duration("tick", 0, "frame length; 0 keeps the config value")
	accelerated := fs.Bool("accelerated", true, "run in accelerated mode (vs real-time)")
	metricsAddr := fs.String("metrics-addr", "", "HTTP address for Prometheus /metrics (overrides config)")
	openIDs := fs.String("open", "", "comma-separated valve IDs to open before the first tick")
	closeIDs := fs.String("close", "", "comma-separated valve IDs to close before the first tick")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "scenario":
			cfg.Simulation.Scenario = *scenario
		case "duration":
			cfg.Simulation.Duration = *duration
		case "tick":
			cfg.Simulation.Tick = *tick
		case "accelerated":
			cfg.Simulation.Accelerated = *accelerated
		case "metrics-addr":
			cfg.Metrics.Addr = *metricsAddr
		}
	})
	if err := cfg.Validate(); err != nil {
		return err
	}

	logCfg := cfg.Logging
	logCfg.Output = stdout
	log := logging.New(logCfg)
	ctx = logging.ContextWithLogger(ctx, log)

	shutdownTracing, err := observability.InitTracing(ctx, cfg.Tracing, log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	collector, err := observability.NewAtmosCollector(reg)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	metricsSrv := serveMetrics(cfg.Metrics.Addr, collector, log)

	sink := audio.NewMemorySink()
	state := sim.NewScenarioState(log,
		sim.WithMetricsRecorder(collector),
		sim.WithValveMetrics(collector),
		sim.WithAudioSink(audio.Multi(sink, audio.NewLoggingSink(log))),
		sim.WithEqualization(cfg.Simulation.Equalize),
	)

	f, err := os.Open(cfg.Simulation.Scenario)
	if err != nil {
		return fmt.Errorf("failed to open pipe scenario %q: %w", cfg.Simulation.Scenario, err)
	}
	sc, err := state.LoadScenario(ctx, f)
	f.Close()
	if err != nil {
		return fmt.Errorf("failed to load pipe scenario: %w", err)
	}
	fmt.Fprintf(stdout, "Loaded pipe scenario: %d devices, %d valves, %d pipes\n",
		len(sc.DeviceIDs), len(sc.ValveIDs), len(sc.PipeIDs))

	applyStartupCommands(ctx, state, log, splitIDs(*openIDs), true)
	applyStartupCommands(ctx, state, log, splitIDs(*closeIDs), false)

	mode := timectrl.RealTime
	if cfg.Simulation.Accelerated {
		mode = timectrl.Accelerated
	}
	start := time.Now().UTC()
	tc := timectrl.NewTimeController(start, cfg.Simulation.Tick, mode)

	tc.AddListener(func(simTime time.Time, frameTime time.Duration) {
		frame := state.RunSimTick(ctx, simTime, frameTime)
		printFrame(stdout, frame, simTime, state.Snapshot(), sink)
	})

	fmt.Fprintf(stdout, "Starting simulation: duration=%s, tick=%s, mode=%v\n",
		cfg.Simulation.Duration, cfg.Simulation.Tick, mode)
	<-tc.Start(ctx, cfg.Simulation.Duration)
	fmt.Fprintln(stdout, "Simulation complete.")

	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	return nil
}

func applyStartupCommands(ctx context.Context, state *sim.ScenarioState, log logging.Logger, ids []string, open bool) {
	for _, id := range ids {
		if err := state.SetValve(ctx, id, open); err != nil {
			log.Warn(ctx, "startup valve command failed",
				logging.String("valve", id),
				logging.Bool("open", open),
				logging.Err(err),
			)
		}
	}
}

func printFrame(w io.Writer, frame uint64, simTime time.Time, snap *sim.ScenarioSnapshot, sink *audio.MemorySink) {
	fmt.Fprintf(w, "[%s] frame %d, %d pipe nets\n", simTime.Format(time.RFC3339), frame, snap.PipeNets)
	for _, v := range snap.Valves {
		inlet, wired := snap.Node(v.ID, v.InletName)
		st, _ := sink.State(v.ID)
		if !wired {
			fmt.Fprintf(w, "↳ Valve %-16s open=%-5v (not wired)\n", v.ID, v.Open)
			continue
		}
		fmt.Fprintf(w, "↳ Valve %-16s open=%-5v inlet=%8.2f kPa ambience=%-5v volume=%5.2f\n",
			v.ID, v.Open, inlet.Pressure, st.Ambience, st.Volume)
	}
}

func serveMetrics(addr string, collector *observability.AtmosCollector, log logging.Logger) *http.Server {
	if collector == nil || addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn(context.Background(), "metrics server exited", logging.Err(err))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}

func splitIDs(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if id := strings.TrimSpace(part); id != "" {
			out = append(out, id)
		}
	}
	return out
}
