package core

import (
	"context"
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/signalsfoundry/pipenet-simulator/kb"
	"github.com/signalsfoundry/pipenet-simulator/model"
)

func TestValveInvariants(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping property-based test in short mode")
	}

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50

	properties := gopter.NewProperties(parameters)

	// Edges between the ports follow the last command, both ways.
	properties.Property("ports are connected iff the valve is open", prop.ForAll(
		func(commands []bool) bool {
			index := NewNetworkIndex()
			valves := kb.NewKnowledgeBase()
			_, _ = valves.AddValve(model.ValveDefinition{ID: "v"})
			nodes, _ := index.WireDevice("v", model.DefaultInletName, model.DefaultOutletName)
			sys := NewValveSystem(index, valves, nil)

			for _, open := range commands {
				if err := sys.Set(context.Background(), "v", open); err != nil {
					return false
				}
				in, out := nodes[0], nodes[1]
				if in.IsReachable(out) != open || out.IsReachable(in) != open {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.Bool()),
	))

	// Several valves sharing a hub: toggling one never disturbs another.
	properties.Property("valves on a shared network stay independent", prop.ForAll(
		func(targets []int, states []bool) bool {
			const count = 4
			index := NewNetworkIndex()
			valves := kb.NewKnowledgeBase()
			hub, _ := index.WireDevice("hub", "a", "b", "c", "d")
			ports := make([][]*PipeNode, count)
			for i := range count {
				id := fmt.Sprintf("v%d", i)
				_, _ = valves.AddValve(model.ValveDefinition{ID: id})
				ports[i], _ = index.WireDevice(id, model.DefaultInletName, model.DefaultOutletName)
				Connect(hub[i], ports[i][0])
			}
			sys := NewValveSystem(index, valves, nil)

			want := make([]bool, count)
			for i, target := range targets {
				if i >= len(states) {
					break
				}
				v := target % count
				if err := sys.Set(context.Background(), fmt.Sprintf("v%d", v), states[i]); err != nil {
					return false
				}
				want[v] = states[i]
			}
			for i := range count {
				in, out := ports[i][0], ports[i][1]
				if in.IsReachable(out) != want[i] || out.IsReachable(in) != want[i] {
					return false
				}
				// The pipe edge to the hub is never touched by the valve.
				if !in.IsReachable(hub[i]) || !hub[i].IsReachable(in) {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 1000)),
		gen.SliceOf(gen.Bool()),
	))

	properties.Property("ambient volume preserves pressure order", prop.ForAll(
		func(a, b float64) bool {
			va, vb := AmbientVolume(a), AmbientVolume(b)
			switch {
			case a < b:
				return va <= vb
			case a > b:
				return va >= vb
			default:
				return va == vb
			}
		},
		gen.Float64Range(0, 1e7),
		gen.Float64Range(0, 1e7),
	))

	properties.TestingRun(t)
}
