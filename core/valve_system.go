package core

import (
	"context"
	"errors"

	"github.com/signalsfoundry/pipenet-simulator/internal/logging"
	"github.com/signalsfoundry/pipenet-simulator/model"
)

// AudioSink receives ambient sound feedback for devices. Calls are
// fire-and-forget; the sink owns any debouncing or mixing.
type AudioSink interface {
	SetAmbience(deviceID string, enabled bool)
	SetVolume(deviceID string, level float64)
}

// ValveStore is the registry the valve system reads valves from and
// writes the open flag to. kb.KnowledgeBase implements it.
type ValveStore interface {
	SetValveOpen(id string, open bool) (v model.ValveDefinition, changed bool, err error)
	ListValves() []model.ValveDefinition
}

// ValveMetricsRecorder receives valve activity. All methods must be safe
// to call on every tick.
type ValveMetricsRecorder interface {
	// ObserveValveToggle is called when a Set flips the open flag.
	ObserveValveToggle(deviceID string, open bool)
	ObserveAmbientVolume(deviceID string, volume float64)
	IncUnresolvedPorts(operation string)
	// ForgetValve drops any per-valve series for a removed valve.
	ForgetValve(deviceID string)
}

// Operation labels passed to IncUnresolvedPorts.
const (
	OperationSet    = "set"
	OperationUpdate = "update"
)

// ValveSystem opens and closes valves in the pipe network and keeps the
// ambient sound of open valves in step with their inlet pressure.
type ValveSystem struct {
	Index  *NetworkIndex
	Valves ValveStore

	audio   AudioSink
	metrics ValveMetricsRecorder
	log     logging.Logger
}

// ValveSystemOption customises ValveSystem construction.
type ValveSystemOption func(*ValveSystem)

// WithValveMetrics attaches a metrics recorder.
func WithValveMetrics(m ValveMetricsRecorder) ValveSystemOption {
	return func(vs *ValveSystem) {
		vs.metrics = m
	}
}

// WithValveLogger attaches a structured logger.
func WithValveLogger(l logging.Logger) ValveSystemOption {
	return func(vs *ValveSystem) {
		vs.log = logging.OrNoop(l)
	}
}

// NewValveSystem wires a valve system to an index, a valve registry and
// an audio sink. A nil sink discards audio feedback.
func NewValveSystem(index *NetworkIndex, valves ValveStore, audio AudioSink, opts ...ValveSystemOption) *ValveSystem {
	if audio == nil {
		audio = noopAudio{}
	}
	vs := &ValveSystem{
		Index:  index,
		Valves: valves,
		audio:  audio,
		log:    logging.Noop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(vs)
		}
	}
	return vs
}

// Set stores the open flag for deviceID and applies it to the network.
//
// The flag is updated even when the valve's ports are not wired yet; in
// that case the connectivity and audio effects are skipped. Calling Set
// with the current state re-applies the effects, which is safe because
// Connect and Disconnect are idempotent.
//
// Toggle metrics only count calls that flip the flag. The only error is
// the registry's ErrValveNotFound-style error for an unknown device.
func (vs *ValveSystem) Set(ctx context.Context, deviceID string, open bool) error {
	valve, changed, err := vs.Valves.SetValveOpen(deviceID, open)
	if err != nil {
		return err
	}
	if changed && vs.metrics != nil {
		vs.metrics.ObserveValveToggle(valve.ID, valve.Open)
	}

	inlet, outlet, ok := vs.resolve(ctx, valve, OperationSet)
	if !ok {
		return nil
	}

	if valve.Open {
		Connect(inlet, outlet)
		vs.audio.SetAmbience(valve.ID, true)
		vs.emitVolume(valve.ID, inlet)
		vs.log.Debug(ctx, "valve opened",
			logging.String("valve", valve.ID),
			logging.String("inlet", inlet.Key()),
			logging.String("outlet", outlet.Key()),
		)
		return nil
	}

	Disconnect(inlet, outlet)
	vs.audio.SetAmbience(valve.ID, false)
	vs.log.Debug(ctx, "valve closed",
		logging.String("valve", valve.ID),
		logging.String("inlet", inlet.Key()),
		logging.String("outlet", outlet.Key()),
	)
	return nil
}

// Release silences a valve that is about to leave the network. An open
// valve gets its ambience switched off; per-valve metrics are dropped
// either way. The registry and the index are left to the caller.
func (vs *ValveSystem) Release(ctx context.Context, valve model.ValveDefinition) {
	if valve.Open {
		vs.audio.SetAmbience(valve.ID, false)
	}
	if vs.metrics != nil {
		vs.metrics.ForgetValve(valve.ID)
	}
	vs.log.Debug(ctx, "valve released",
		logging.String("valve", valve.ID),
		logging.Bool("was_open", valve.Open),
	)
}

// Update refreshes the ambient volume of every open, wired valve from its
// inlet pressure. Valves whose ports do not resolve are skipped for this
// frame.
func (vs *ValveSystem) Update(ctx context.Context) {
	for _, valve := range vs.Valves.ListValves() {
		vs.UpdateValve(ctx, valve)
	}
}

// UpdateValve runs the per-tick step for one valve.
func (vs *ValveSystem) UpdateValve(ctx context.Context, valve model.ValveDefinition) {
	inlet, _, ok := vs.resolve(ctx, valve, OperationUpdate)
	if !ok {
		return
	}
	if !valve.Open {
		return
	}
	vs.emitVolume(valve.ID, inlet)
}

func (vs *ValveSystem) resolve(ctx context.Context, valve model.ValveDefinition, op string) (*PipeNode, *PipeNode, bool) {
	valve = valve.WithDefaults()
	inlet, outlet, err := vs.Index.Resolve(valve.ID, valve.InletName, valve.OutletName)
	if err == nil {
		return inlet, outlet, true
	}
	if errors.Is(err, ErrNotWired) {
		if vs.metrics != nil {
			vs.metrics.IncUnresolvedPorts(op)
		}
		vs.log.Debug(ctx, "valve ports not wired; skipping",
			logging.String("valve", valve.ID),
			logging.String("operation", op),
			logging.Err(err),
		)
		return nil, nil, false
	}
	vs.log.Warn(ctx, "valve port lookup failed",
		logging.String("valve", valve.ID),
		logging.String("operation", op),
		logging.Err(err),
	)
	return nil, nil, false
}

func (vs *ValveSystem) emitVolume(deviceID string, inlet *PipeNode) {
	volume := AmbientVolume(inlet.Pressure())
	vs.audio.SetVolume(deviceID, volume)
	if vs.metrics != nil {
		vs.metrics.ObserveAmbientVolume(deviceID, volume)
	}
}

type noopAudio struct{}

func (noopAudio) SetAmbience(string, bool)  {}
func (noopAudio) SetVolume(string, float64) {}
