// internal/sim/state/state.go
package state

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/pipenet-simulator/core"
	"github.com/signalsfoundry/pipenet-simulator/internal/logging"
	"github.com/signalsfoundry/pipenet-simulator/internal/observability"
	"github.com/signalsfoundry/pipenet-simulator/kb"
	"github.com/signalsfoundry/pipenet-simulator/model"
)

// Re-export sentinel errors so callers can depend on state.* instead of
// core.* / kb.* directly if they want to.
var (
	// ErrNotWired indicates a device or port has no pipe node.
	ErrNotWired = core.ErrNotWired
	// ErrDeviceExists indicates a device is already wired.
	ErrDeviceExists = core.ErrDeviceExists
	// ErrValveExists indicates a valve is already registered.
	ErrValveExists = kb.ErrValveExists
	// ErrValveNotFound indicates a requested valve was not found.
	ErrValveNotFound = kb.ErrValveNotFound
	// ErrDeviceNotFound indicates a device is neither wired nor a registered valve.
	ErrDeviceNotFound = errors.New("device not found")
)

// ScenarioState coordinates the valve registry, the pipe network index
// and the simulation engine behind one coarse lock.
//
// Every mutation of node reachability or gas state happens while mu is
// held for writing, so a tick never observes half of a Connect.
type ScenarioState struct {
	mu sync.RWMutex

	valves *kb.KnowledgeBase
	index  *core.NetworkIndex
	system *core.ValveSystem
	engine *core.SimulationEngine

	audio        core.AudioSink
	valveMetrics core.ValveMetricsRecorder
	equalize     bool

	// log is an optional structured logger for state-level events.
	log logging.Logger

	// metrics is an optional recorder for Prometheus-friendly gauges.
	metrics ScenarioMetricsRecorder

	tracer trace.Tracer
}

// ScenarioMetricsRecorder receives network size and tick timing updates.
type ScenarioMetricsRecorder interface {
	SetNetworkCounts(valves, openValves, nodes, nets int)
	ObserveTick(d time.Duration)
}

// NodeSnapshot is a read-only copy of one pipe node.
type NodeSnapshot struct {
	ID        core.NodeID
	DeviceID  string
	Port      string
	Pressure  float64
	Reachable []string // "device:port" keys, sorted
}

// ScenarioSnapshot captures a consistent view of the scenario.
type ScenarioSnapshot struct {
	Frame    uint64
	Valves   []model.ValveDefinition
	Nodes    []NodeSnapshot
	PipeNets int
}

// Node returns the snapshot of deviceID's port, if present.
func (s *ScenarioSnapshot) Node(deviceID, port string) (NodeSnapshot, bool) {
	for _, n := range s.Nodes {
		if n.DeviceID == deviceID && n.Port == port {
			return n, true
		}
	}
	return NodeSnapshot{}, false
}

// Valve returns the snapshot of a valve, if present.
func (s *ScenarioSnapshot) Valve(id string) (model.ValveDefinition, bool) {
	for _, v := range s.Valves {
		if v.ID == id {
			return v, true
		}
	}
	return model.ValveDefinition{}, false
}

// ScenarioStateOption customises ScenarioState construction.
type ScenarioStateOption func(*ScenarioState)

// WithMetricsRecorder attaches an optional metrics recorder for network counts.
func WithMetricsRecorder(m ScenarioMetricsRecorder) ScenarioStateOption {
	return func(s *ScenarioState) {
		s.metrics = m
	}
}

// WithValveMetrics attaches an optional recorder for valve activity.
func WithValveMetrics(m core.ValveMetricsRecorder) ScenarioStateOption {
	return func(s *ScenarioState) {
		s.valveMetrics = m
	}
}

// WithAudioSink sets where valve ambience and volume go.
func WithAudioSink(a core.AudioSink) ScenarioStateOption {
	return func(s *ScenarioState) {
		s.audio = a
	}
}

// WithEqualization toggles the pressure equalisation gas step (on by default).
func WithEqualization(enabled bool) ScenarioStateOption {
	return func(s *ScenarioState) {
		s.equalize = enabled
	}
}

// WithTracer overrides the tracer used for tick spans.
func WithTracer(t trace.Tracer) ScenarioStateOption {
	return func(s *ScenarioState) {
		s.tracer = t
	}
}

// NewScenarioState builds an empty pipe network with its valve registry,
// valve system and simulation engine.
func NewScenarioState(log logging.Logger, opts ...ScenarioStateOption) *ScenarioState {
	s := &ScenarioState{
		valves:   kb.NewKnowledgeBase(),
		index:    core.NewNetworkIndex(),
		log:      logging.OrNoop(log),
		equalize: true,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.tracer == nil {
		s.tracer = observability.Tracer()
	}

	s.system = core.NewValveSystem(s.index, s.valves, s.audio,
		core.WithValveLogger(s.log),
		core.WithValveMetrics(s.valveMetrics),
	)
	s.engine = core.NewSimulationEngine(s.index, s.system)
	s.engine.Equalize = s.equalize

	s.updateMetricsLocked()
	return s
}

// Valves exposes the valve registry, mainly for event subscriptions.
func (s *ScenarioState) Valves() *kb.KnowledgeBase {
	return s.valves
}

// WithReadLock executes fn while holding the ScenarioState read lock.
// Callers must not invoke other ScenarioState methods that also take the lock
// from inside fn to avoid self-deadlock.
func (s *ScenarioState) WithReadLock(fn func(index *core.NetworkIndex) error) error {
	if fn == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(s.index)
}

// LoadScenario reads a JSON pipe scenario into the state and applies the
// initial open flag of every valve declared open.
func (s *ScenarioState) LoadScenario(ctx context.Context, r io.Reader) (*core.PipeScenario, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sc, err := core.LoadPipeScenario(s.index, s.valves, r)
	if err != nil {
		return nil, err
	}
	for _, id := range sc.OpenValveIDs {
		if err := s.system.Set(ctx, id, true); err != nil {
			return nil, fmt.Errorf("open valve %q: %w", id, err)
		}
	}

	s.log.Info(ctx, "pipe scenario loaded",
		logging.Int("devices", len(sc.DeviceIDs)),
		logging.Int("valves", len(sc.ValveIDs)),
		logging.Int("pipes", len(sc.PipeIDs)),
		logging.Int("open_valves", len(sc.OpenValveIDs)),
	)
	s.updateMetricsLocked()
	return sc, nil
}

// WireDevice creates pipe nodes for a device's ports.
func (s *ScenarioState) WireDevice(deviceID string, ports ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.index.WireDevice(deviceID, ports...); err != nil {
		return err
	}
	s.updateMetricsLocked()
	return nil
}

// Connect joins two device ports with a permanent pipe.
func (s *ScenarioState) Connect(a, b model.PortRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	na, err := s.index.Node(a.Device, a.Port)
	if err != nil {
		return err
	}
	nb, err := s.index.Node(b.Device, b.Port)
	if err != nil {
		return err
	}
	core.Connect(na, nb)
	return nil
}

// AddValve registers a valve and, when wire is true, creates its inlet
// and outlet nodes. An initially open valve is applied through Set.
func (s *ScenarioState) AddValve(ctx context.Context, def model.ValveDefinition, wire bool) (model.ValveDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, err := s.valves.AddValve(def)
	if err != nil {
		return model.ValveDefinition{}, err
	}
	if wire {
		if _, err := s.index.WireDevice(v.ID, v.Ports()...); err != nil {
			_ = s.valves.RemoveValve(v.ID)
			return model.ValveDefinition{}, err
		}
	}
	if v.Open {
		if err := s.system.Set(ctx, v.ID, true); err != nil {
			return model.ValveDefinition{}, err
		}
	}
	s.updateMetricsLocked()
	return v, nil
}

// RemoveDevice unwires a device, excising its nodes from the network, and
// drops its valve registration if it has one. A removed open valve has
// its ambience switched off.
func (s *ScenarioState) RemoveDevice(ctx context.Context, deviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if v, err := s.valves.GetValve(deviceID); err == nil {
		s.system.Release(ctx, v)
	}
	unwireErr := s.index.RemoveDevice(deviceID)
	valveErr := s.valves.RemoveValve(deviceID)
	if unwireErr != nil && valveErr != nil {
		return fmt.Errorf("%w: %q", ErrDeviceNotFound, deviceID)
	}

	s.log.Info(ctx, "device removed",
		logging.String("device", deviceID),
		logging.Bool("was_wired", unwireErr == nil),
		logging.Bool("was_valve", valveErr == nil),
	)
	s.updateMetricsLocked()
	return nil
}

// SetNodePressure overwrites the gas pressure behind a device port.
func (s *ScenarioState) SetNodePressure(deviceID, port string, pressure float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.index.Node(deviceID, port)
	if err != nil {
		return err
	}
	n.Air.SetPressure(pressure)
	return nil
}

// SetValve is the command entry point for opening or closing a valve. It
// is safe to call between ticks and before the valve is wired.
func (s *ScenarioState) SetValve(ctx context.Context, deviceID string, open bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.system.Set(ctx, deviceID, open); err != nil {
		return err
	}
	s.log.Info(ctx, "valve set",
		logging.String("valve", deviceID),
		logging.Bool("open", open),
	)
	s.updateMetricsLocked()
	return nil
}

// RunSimTick executes one simulation frame under the write lock and
// returns the frame number.
func (s *ScenarioState) RunSimTick(ctx context.Context, simTime time.Time, frameTime time.Duration) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, span := s.tracer.Start(ctx, "atmos.tick")
	defer span.End()

	start := time.Now()
	s.engine.Step(ctx, frameTime)
	elapsed := time.Since(start)

	frame := s.engine.Frame()
	span.SetAttributes(
		attribute.Int64("atmos.frame", int64(frame)),
		attribute.String("atmos.sim_time", simTime.UTC().Format(time.RFC3339Nano)),
		attribute.Int("atmos.valves", s.valves.Len()),
		attribute.Int("atmos.pipe_nets", s.engine.PipeNets()),
	)

	if s.metrics != nil {
		s.metrics.ObserveTick(elapsed)
	}
	s.updateMetricsLocked()
	logging.WithTick(s.log, frame).Debug(ctx, "tick complete", logging.Duration("elapsed", elapsed))
	return frame
}

// Snapshot returns a coherent view of the current scenario state.
func (s *ScenarioState) Snapshot() *ScenarioSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	nodes := s.index.AllNodes()
	out := &ScenarioSnapshot{
		Frame:    s.engine.Frame(),
		Valves:   s.valves.ListValves(),
		Nodes:    make([]NodeSnapshot, 0, len(nodes)),
		PipeNets: len(core.PipeNets(nodes)),
	}
	for _, n := range nodes {
		reach := n.Reachable()
		keys := make([]string, 0, len(reach))
		for _, r := range reach {
			keys = append(keys, r.Key())
		}
		out.Nodes = append(out.Nodes, NodeSnapshot{
			ID:        n.ID,
			DeviceID:  n.DeviceID,
			Port:      n.Port,
			Pressure:  n.Pressure(),
			Reachable: keys,
		})
	}
	return out
}

// ClearScenario drops every valve and node, silences open valves and
// resets the frame counter.
func (s *ScenarioState) ClearScenario(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, v := range s.valves.ListValves() {
		s.system.Release(ctx, v)
	}
	s.valves.Clear()
	s.index.Clear()
	s.engine.Reset()
	s.log.Info(ctx, "scenario cleared")
	s.updateMetricsLocked()
}

// NOTE: caller must hold s.mu (or be the constructor).
func (s *ScenarioState) updateMetricsLocked() {
	if s.metrics == nil {
		return
	}
	nodes := s.index.AllNodes()
	s.metrics.SetNetworkCounts(s.valves.Len(), s.valves.CountOpen(), len(nodes), len(core.PipeNets(nodes)))
}
