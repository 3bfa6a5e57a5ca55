package observability

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// AtmosCollector bundles Prometheus metrics for the pipe network and its
// valves. It satisfies core.ValveMetricsRecorder and
// state.ScenarioMetricsRecorder.
type AtmosCollector struct {
	gatherer prometheus.Gatherer

	ValveToggles    *prometheus.CounterVec
	AmbientVolume   *prometheus.GaugeVec
	UnresolvedPorts *prometheus.CounterVec
	TickDuration    prometheus.Histogram

	Valves     prometheus.Gauge
	OpenValves prometheus.Gauge
	PipeNodes  prometheus.Gauge
	PipeNets   prometheus.Gauge
}

// NewAtmosCollector registers atmos Prometheus metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewAtmosCollector(reg prometheus.Registerer) (*AtmosCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	toggles, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "atmos_valve_toggles_total",
		Help: "Valve state changes, labeled by the new state.",
	}, []string{"state"}), "atmos_valve_toggles_total")
	if err != nil {
		return nil, err
	}

	volume, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "atmos_valve_ambient_volume",
		Help: "Last ambient volume emitted for each open valve.",
	}, []string{"valve"}), "atmos_valve_ambient_volume")
	if err != nil {
		return nil, err
	}

	unresolved, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "atmos_unresolved_ports_total",
		Help: "Valve operations skipped because the valve's ports were not wired.",
	}, []string{"operation"}), "atmos_unresolved_ports_total")
	if err != nil {
		return nil, err
	}

	tick, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "atmos_tick_duration_seconds",
		Help:    "Wall-clock duration of one atmos simulation frame.",
		Buckets: []float64{0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1},
	}), "atmos_tick_duration_seconds")
	if err != nil {
		return nil, err
	}

	valves, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "atmos_valves",
		Help: "Current number of registered valves.",
	}), "atmos_valves")
	if err != nil {
		return nil, err
	}
	open, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "atmos_valves_open",
		Help: "Current number of open valves.",
	}), "atmos_valves_open")
	if err != nil {
		return nil, err
	}
	nodes, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "atmos_pipe_nodes",
		Help: "Current number of wired pipe nodes.",
	}), "atmos_pipe_nodes")
	if err != nil {
		return nil, err
	}
	nets, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "atmos_pipe_nets",
		Help: "Number of connected pipe nets after the last frame.",
	}), "atmos_pipe_nets")
	if err != nil {
		return nil, err
	}

	return &AtmosCollector{
		gatherer:        gatherer,
		ValveToggles:    toggles,
		AmbientVolume:   volume,
		UnresolvedPorts: unresolved,
		TickDuration:    tick,
		Valves:          valves,
		OpenValves:      open,
		PipeNodes:       nodes,
		PipeNets:        nets,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *AtmosCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// Handler exposes a ready-to-use /metrics handler.
func (c *AtmosCollector) Handler() http.Handler {
	gatherer := c.Gatherer()
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// ObserveValveToggle counts a valve state change.
func (c *AtmosCollector) ObserveValveToggle(deviceID string, open bool) {
	if c == nil || c.ValveToggles == nil {
		return
	}
	state := "closed"
	if open {
		state = "open"
	}
	c.ValveToggles.WithLabelValues(state).Inc()
	if !open && c.AmbientVolume != nil {
		c.AmbientVolume.DeleteLabelValues(deviceID)
	}
}

// ForgetValve drops the volume series of a removed valve.
func (c *AtmosCollector) ForgetValve(deviceID string) {
	if c == nil || c.AmbientVolume == nil {
		return
	}
	c.AmbientVolume.DeleteLabelValues(deviceID)
}

// ObserveAmbientVolume records the volume last sent to the audio sink.
func (c *AtmosCollector) ObserveAmbientVolume(deviceID string, volume float64) {
	if c == nil || c.AmbientVolume == nil {
		return
	}
	c.AmbientVolume.WithLabelValues(deviceID).Set(volume)
}

// IncUnresolvedPorts counts a skipped valve operation.
func (c *AtmosCollector) IncUnresolvedPorts(operation string) {
	if c == nil || c.UnresolvedPorts == nil {
		return
	}
	c.UnresolvedPorts.WithLabelValues(operation).Inc()
}

// ObserveTick records one frame's wall-clock duration.
func (c *AtmosCollector) ObserveTick(d time.Duration) {
	if c == nil || c.TickDuration == nil {
		return
	}
	c.TickDuration.Observe(d.Seconds())
}

// SetNetworkCounts drives the size gauges from ScenarioState.
func (c *AtmosCollector) SetNetworkCounts(valves, openValves, nodes, nets int) {
	if c == nil {
		return
	}
	if c.Valves != nil {
		c.Valves.Set(float64(valves))
	}
	if c.OpenValves != nil {
		c.OpenValves.Set(float64(openValves))
	}
	if c.PipeNodes != nil {
		c.PipeNodes.Set(float64(nodes))
	}
	if c.PipeNets != nil {
		c.PipeNets.Set(float64(nets))
	}
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
