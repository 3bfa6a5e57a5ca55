package core

import (
	"errors"
	"strings"
	"testing"

	"github.com/signalsfoundry/pipenet-simulator/kb"
)

const testScenario = `{
  "devices": [
    {"id": "tank-1", "ports": ["out"], "pressure": {"out": 4500}},
    {"id": "vent-1", "ports": ["in"]}
  ],
  "valves": [
    {"id": "valve-1"},
    {"id": "valve-2", "inlet": "in", "outlet": "out", "open": true, "pressure": {"in": 12}},
    {"id": "valve-3", "unwired": true}
  ],
  "pipes": [
    {"id": "p-tank", "a": {"device": "tank-1", "port": "out"}, "b": {"device": "valve-1", "port": "inlet"}},
    {"a": {"device": "valve-1", "port": "outlet"}, "b": {"device": "vent-1", "port": "in"}}
  ]
}`

func TestLoadPipeScenario(t *testing.T) {
	index := NewNetworkIndex()
	valves := kb.NewKnowledgeBase()

	sc, err := LoadPipeScenario(index, valves, strings.NewReader(testScenario))
	if err != nil {
		t.Fatalf("LoadPipeScenario error: %v", err)
	}

	if len(sc.DeviceIDs) != 2 || len(sc.ValveIDs) != 3 || len(sc.PipeIDs) != 2 {
		t.Fatalf("summary = %+v, want 2 devices, 3 valves, 2 pipes", sc)
	}
	if sc.PipeIDs[0] != "p-tank" || sc.PipeIDs[1] != "pipe-1" {
		t.Fatalf("PipeIDs = %v, want [p-tank pipe-1]", sc.PipeIDs)
	}
	if len(sc.OpenValveIDs) != 1 || sc.OpenValveIDs[0] != "valve-2" {
		t.Fatalf("OpenValveIDs = %v, want [valve-2]", sc.OpenValveIDs)
	}

	tank, err := index.Node("tank-1", "out")
	if err != nil {
		t.Fatalf("tank node: %v", err)
	}
	if tank.Pressure() != 4500 {
		t.Fatalf("tank pressure = %v, want 4500", tank.Pressure())
	}
	inlet, _ := index.Node("valve-1", "inlet")
	if !tank.IsReachable(inlet) || !inlet.IsReachable(tank) {
		t.Fatalf("pipe p-tank not connected both ways")
	}
	v2in, _ := index.Node("valve-2", "in")
	if v2in.Pressure() != 12 {
		t.Fatalf("valve-2 inlet pressure = %v, want 12", v2in.Pressure())
	}

	// The loader records the open flag but leaves the ports alone.
	v2out, _ := index.Node("valve-2", "out")
	if v2in.IsReachable(v2out) {
		t.Fatalf("loader must not apply open valves")
	}

	if _, err := index.Node("valve-3", "inlet"); !errors.Is(err, ErrNotWired) {
		t.Fatalf("unwired valve node error = %v, want ErrNotWired", err)
	}
	v1, err := valves.GetValve("valve-1")
	if err != nil || v1.InletName != "inlet" || v1.OutletName != "outlet" {
		t.Fatalf("valve-1 = %+v (%v), want default port names", v1, err)
	}
}

func TestLoadPipeScenarioRejectsBadInput(t *testing.T) {
	cases := map[string]string{
		"malformed json":           `{"devices": [`,
		"unknown field":            `{"devices": [], "tanks": []}`,
		"device without ports":     `{"devices": [{"id": "d", "ports": []}]}`,
		"negative pressure":        `{"devices": [{"id": "d", "ports": ["p"], "pressure": {"p": -1}}]}`,
		"pressure on unknown port": `{"devices": [{"id": "d", "ports": ["p"], "pressure": {"q": 1}}]}`,
		"valve without id":         `{"valves": [{"open": true}]}`,
		"valve with same ports":    `{"valves": [{"id": "v", "inlet": "x", "outlet": "x"}]}`,
		"duplicate device": `{"devices": [{"id": "d", "ports": ["p"]}],
			"valves": [{"id": "d"}]}`,
		"pipe to unwired port": `{"devices": [{"id": "d", "ports": ["p"]}],
			"pipes": [{"a": {"device": "d", "port": "p"}, "b": {"device": "d", "port": "nope"}}]}`,
		"pipe missing endpoint": `{"devices": [{"id": "d", "ports": ["p"]}],
			"pipes": [{"a": {"device": "d", "port": "p"}, "b": {"device": ""}}]}`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadPipeScenario(NewNetworkIndex(), kb.NewKnowledgeBase(), strings.NewReader(payload))
			if !errors.Is(err, ErrScenarioInvalid) {
				t.Fatalf("error = %v, want ErrScenarioInvalid", err)
			}
		})
	}
}

func TestLoadPipeScenarioNilArguments(t *testing.T) {
	if _, err := LoadPipeScenario(nil, kb.NewKnowledgeBase(), strings.NewReader("{}")); err == nil {
		t.Fatalf("expected error for nil index")
	}
	if _, err := LoadPipeScenario(NewNetworkIndex(), nil, strings.NewReader("{}")); err == nil {
		t.Fatalf("expected error for nil registry")
	}
}

func TestFailedLoadLeavesNetworkUntouched(t *testing.T) {
	index := NewNetworkIndex()
	valves := kb.NewKnowledgeBase()
	existing, _ := index.WireDevice("hub", "a", "b")
	other, _ := index.WireDevice("spur", "x")

	bad := `{
  "devices": [{"id": "tank", "ports": ["out"]}],
  "valves": [{"id": "v"}],
  "pipes": [
    {"a": {"device": "hub", "port": "a"}, "b": {"device": "spur", "port": "x"}},
    {"a": {"device": "tank", "port": "out"}, "b": {"device": "hub", "port": "b"}},
    {"a": {"device": "tank", "port": "nope"}, "b": {"device": "v", "port": "inlet"}}
  ]
}`
	if _, err := LoadPipeScenario(index, valves, strings.NewReader(bad)); !errors.Is(err, ErrScenarioInvalid) {
		t.Fatalf("bad load error = %v, want ErrScenarioInvalid", err)
	}

	if index.Len() != 2 || valves.Len() != 0 {
		t.Fatalf("after failed load: devices=%v valves=%d, want hub and spur only", index.DeviceIDs(), valves.Len())
	}
	if existing[0].IsReachable(other[0]) || other[0].IsReachable(existing[0]) {
		t.Fatalf("pipe between existing devices survived the failed load")
	}
	if len(existing[1].Reachable()) != 0 {
		t.Fatalf("existing node still reaches %v", existing[1].Reachable())
	}

	good := strings.Replace(bad, `"nope"`, `"out"`, 1)
	sc, err := LoadPipeScenario(index, valves, strings.NewReader(good))
	if err != nil {
		t.Fatalf("retry with corrected scenario: %v", err)
	}
	if len(sc.PipeIDs) != 3 || valves.Len() != 1 || index.Len() != 4 {
		t.Fatalf("retry summary = %+v, devices=%d valves=%d", sc, index.Len(), valves.Len())
	}
}

func TestFailedLoadKeepsPreexistingPipes(t *testing.T) {
	index := NewNetworkIndex()
	a, _ := index.WireDevice("a", "p")
	b, _ := index.WireDevice("b", "p")
	Connect(a[0], b[0])

	bad := `{"pipes": [
    {"a": {"device": "a", "port": "p"}, "b": {"device": "b", "port": "p"}},
    {"a": {"device": "a", "port": "p"}, "b": {"device": "c", "port": "p"}}
  ]}`
	if _, err := LoadPipeScenario(index, kb.NewKnowledgeBase(), strings.NewReader(bad)); err == nil {
		t.Fatalf("expected error for pipe to unknown device")
	}
	if !a[0].IsReachable(b[0]) || !b[0].IsReachable(a[0]) {
		t.Fatalf("rollback removed a pipe that existed before the load")
	}
}
