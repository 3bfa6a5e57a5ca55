// core/scenario_loader.go
package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/go-playground/validator/v10"
	"github.com/signalsfoundry/pipenet-simulator/model"
)

// ErrScenarioInvalid wraps every structural problem found while loading a
// pipe scenario.
var ErrScenarioInvalid = errors.New("invalid pipe scenario")

var scenarioValidator = validator.New()

// ValveRegistrar is the subset of the valve registry the loader needs.
type ValveRegistrar interface {
	AddValve(v model.ValveDefinition) (model.ValveDefinition, error)
	RemoveValve(id string) error
}

// PipeScenario is a small summary of what was loaded from JSON.
type PipeScenario struct {
	DeviceIDs []string
	ValveIDs  []string
	PipeIDs   []string

	// OpenValveIDs lists valves declared open. The loader only records the
	// flag; callers apply it through ValveSystem.Set so the network and
	// audio side effects happen the same way as for a live command.
	OpenValveIDs []string
}

// JSON shapes for the scenario document.
type pipeScenarioJSON struct {
	Devices []model.PipeDevice `json:"devices" validate:"dive"`
	Valves  []valveJSON        `json:"valves" validate:"dive"`
	Pipes   []pipeJSON         `json:"pipes" validate:"dive"`
}

type valveJSON struct {
	model.ValveDefinition
	Pressure map[string]float64 `json:"pressure,omitempty" validate:"omitempty,dive,gte=0"`

	// Unwired registers the valve without creating its port nodes, as for a
	// valve placed before its piping exists.
	Unwired bool `json:"unwired,omitempty"`
}

type pipeJSON struct {
	ID string        `json:"id,omitempty"`
	A  model.PortRef `json:"a"`
	B  model.PortRef `json:"b"`
}

// LoadPipeScenario reads a JSON scenario from r, wires devices into index,
// registers valves, connects pipes and returns a summary.
//
// Devices are wired before valves and pipes so pipe endpoints may refer
// to either. A pipe to an unwired port fails the load.
//
// A failed load leaves index and valves as they were: devices wired and
// valves registered by this call are removed again, and pipes it added
// between pre-existing nodes are disconnected.
func LoadPipeScenario(index *NetworkIndex, valves ValveRegistrar, r io.Reader) (_ *PipeScenario, err error) {
	if index == nil {
		return nil, fmt.Errorf("LoadPipeScenario: index is nil")
	}
	if valves == nil {
		return nil, fmt.Errorf("LoadPipeScenario: valve registry is nil")
	}

	var payload pipeScenarioJSON
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: decode failed: %v", ErrScenarioInvalid, err)
	}
	if err := scenarioValidator.Struct(&payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrScenarioInvalid, err)
	}

	var (
		wired      []string
		registered []string
		piped      [][2]*PipeNode
	)
	defer func() {
		if err == nil {
			return
		}
		for _, p := range piped {
			Disconnect(p[0], p[1])
		}
		for _, id := range wired {
			_ = index.RemoveDevice(id)
		}
		for _, id := range registered {
			_ = valves.RemoveValve(id)
		}
	}()

	result := &PipeScenario{
		DeviceIDs: make([]string, 0, len(payload.Devices)),
		ValveIDs:  make([]string, 0, len(payload.Valves)),
		PipeIDs:   make([]string, 0, len(payload.Pipes)),
	}

	// 1) Devices
	for _, dev := range payload.Devices {
		nodes, err := index.WireDevice(dev.ID, dev.Ports...)
		if err != nil {
			return nil, fmt.Errorf("%w: device %q: %v", ErrScenarioInvalid, dev.ID, err)
		}
		wired = append(wired, dev.ID)
		if err := seedPressure(dev.ID, nodes, dev.Pressure); err != nil {
			return nil, err
		}
		result.DeviceIDs = append(result.DeviceIDs, dev.ID)
	}

	// 2) Valves
	for _, v := range payload.Valves {
		def, err := valves.AddValve(v.ValveDefinition)
		if err != nil {
			return nil, fmt.Errorf("%w: valve %q: %v", ErrScenarioInvalid, v.ID, err)
		}
		registered = append(registered, def.ID)
		if !v.Unwired {
			nodes, err := index.WireDevice(def.ID, def.Ports()...)
			if err != nil {
				return nil, fmt.Errorf("%w: valve %q: %v", ErrScenarioInvalid, def.ID, err)
			}
			wired = append(wired, def.ID)
			if err := seedPressure(def.ID, nodes, v.Pressure); err != nil {
				return nil, err
			}
		}
		result.ValveIDs = append(result.ValveIDs, def.ID)
		if def.Open {
			result.OpenValveIDs = append(result.OpenValveIDs, def.ID)
		}
	}

	// 3) Pipes
	for i, p := range payload.Pipes {
		id := p.ID
		if id == "" {
			id = fmt.Sprintf("pipe-%d", i)
		}
		a, err := index.Node(p.A.Device, p.A.Port)
		if err != nil {
			return nil, fmt.Errorf("%w: pipe %q end a (%s): %v", ErrScenarioInvalid, id, p.A, err)
		}
		b, err := index.Node(p.B.Device, p.B.Port)
		if err != nil {
			return nil, fmt.Errorf("%w: pipe %q end b (%s): %v", ErrScenarioInvalid, id, p.B, err)
		}
		if !a.IsReachable(b) || !b.IsReachable(a) {
			piped = append(piped, [2]*PipeNode{a, b})
		}
		Connect(a, b)
		result.PipeIDs = append(result.PipeIDs, id)
	}

	return result, nil
}

func seedPressure(deviceID string, nodes []*PipeNode, pressure map[string]float64) error {
	if len(pressure) == 0 {
		return nil
	}
	byPort := make(map[string]*PipeNode, len(nodes))
	for _, n := range nodes {
		byPort[n.Port] = n
	}
	for port, p := range pressure {
		n, ok := byPort[port]
		if !ok {
			return fmt.Errorf("%w: pressure set for unknown port %q on %q", ErrScenarioInvalid, port, deviceID)
		}
		n.Air.SetPressure(p)
	}
	return nil
}
