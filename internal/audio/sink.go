// Package audio provides ambient-sound sinks for the valve system. The
// real mixer is out of process; these sinks log, record or fan out the
// SetAmbience / SetVolume calls it would receive.
package audio

import (
	"context"
	"sort"
	"sync"

	"github.com/signalsfoundry/pipenet-simulator/internal/logging"
)

// Sink mirrors core.AudioSink so this package does not import core.
type Sink interface {
	SetAmbience(deviceID string, enabled bool)
	SetVolume(deviceID string, level float64)
}

// LoggingSink writes every audio change to a structured logger. Volume
// updates are logged at debug level since they arrive every frame.
type LoggingSink struct {
	log logging.Logger
}

// NewLoggingSink returns a sink backed by l (Noop when nil).
func NewLoggingSink(l logging.Logger) *LoggingSink {
	return &LoggingSink{log: logging.OrNoop(l)}
}

func (s *LoggingSink) SetAmbience(deviceID string, enabled bool) {
	s.log.Info(context.Background(), "ambience changed",
		logging.String("device", deviceID),
		logging.Bool("enabled", enabled),
	)
}

func (s *LoggingSink) SetVolume(deviceID string, level float64) {
	s.log.Debug(context.Background(), "ambient volume",
		logging.String("device", deviceID),
		logging.Float64("volume", level),
	)
}

// State is the last audio state reported for one device.
type State struct {
	Ambience    bool
	Volume      float64
	VolumeCalls int
}

// MemorySink keeps the latest ambience flag and volume per device. It is
// safe for concurrent use.
type MemorySink struct {
	mu     sync.RWMutex
	states map[string]State
}

// NewMemorySink returns an empty sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{states: make(map[string]State)}
}

func (m *MemorySink) SetAmbience(deviceID string, enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.states[deviceID]
	st.Ambience = enabled
	m.states[deviceID] = st
}

func (m *MemorySink) SetVolume(deviceID string, level float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.states[deviceID]
	st.Volume = level
	st.VolumeCalls++
	m.states[deviceID] = st
}

// State returns the recorded state for deviceID and whether any call was
// seen for it.
func (m *MemorySink) State(deviceID string) (State, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.states[deviceID]
	return st, ok
}

// Devices returns the IDs with recorded state, sorted.
func (m *MemorySink) Devices() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.states))
	for id := range m.states {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Multi fans every call out to each non-nil sink in order.
func Multi(sinks ...Sink) Sink {
	out := make(multiSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

type multiSink []Sink

func (m multiSink) SetAmbience(deviceID string, enabled bool) {
	for _, s := range m {
		s.SetAmbience(deviceID, enabled)
	}
}

func (m multiSink) SetVolume(deviceID string, level float64) {
	for _, s := range m {
		s.SetVolume(deviceID, level)
	}
}
