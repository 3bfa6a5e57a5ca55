package core

import (
	"context"
	"time"
)

// SimulationEngine runs one atmos frame at a time: the gas step, then the
// valve feedback step, then any registered tick listeners.
type SimulationEngine struct {
	Index  *NetworkIndex
	Valves *ValveSystem

	// Equalize enables the pressure equalisation gas step. When false the
	// engine leaves node pressures to whoever else is driving them.
	Equalize bool

	frame         uint64
	elapsed       time.Duration
	pipeNets      int
	tickListeners []func(uint64)
}

func NewSimulationEngine(index *NetworkIndex, valves *ValveSystem) *SimulationEngine {
	return &SimulationEngine{
		Index:    index,
		Valves:   valves,
		Equalize: true,
	}
}

func (se *SimulationEngine) RegisterTickListener(fn func(uint64)) {
	if fn == nil {
		return
	}
	se.tickListeners = append(se.tickListeners, fn)
}

// Frame returns the number of completed frames.
func (se *SimulationEngine) Frame() uint64 {
	return se.frame
}

// Elapsed returns the simulated time covered by completed frames.
func (se *SimulationEngine) Elapsed() time.Duration {
	return se.elapsed
}

// PipeNets returns the pipe net count seen by the last equalisation step.
func (se *SimulationEngine) PipeNets() int {
	return se.pipeNets
}

// Reset zeroes the frame counter, elapsed time and pipe net count.
// Tick listeners stay registered.
func (se *SimulationEngine) Reset() {
	se.frame = 0
	se.elapsed = 0
	se.pipeNets = 0
}

// Step advances the simulation by one frame of length frameTime. The
// equalisation step is instantaneous, so frameTime only feeds Elapsed.
func (se *SimulationEngine) Step(ctx context.Context, frameTime time.Duration) {
	if se.Equalize && se.Index != nil {
		se.pipeNets = EqualizePressure(se.Index.AllNodes())
	}
	if se.Valves != nil {
		se.Valves.Update(ctx)
	}

	se.frame++
	se.elapsed += frameTime
	for _, fn := range se.tickListeners {
		fn(se.frame)
	}
}

// Run executes up to ticks frames, stopping early when ctx is done. It
// returns the number of frames run.
func (se *SimulationEngine) Run(ctx context.Context, ticks int, frameTime time.Duration) int {
	ran := 0
	for ran < ticks {
		if ctx.Err() != nil {
			break
		}
		se.Step(ctx, frameTime)
		ran++
	}
	return ran
}
