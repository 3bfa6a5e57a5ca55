package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

const smallScenario = `{
  "devices": [
    {"id": "tank", "ports": ["out"], "pressure": {"out": 300}},
    {"id": "vent", "ports": ["in"]}
  ],
  "valves": [{"id": "v1"}, {"id": "v2", "unwired": true}],
  "pipes": [
    {"a": {"device": "tank", "port": "out"}, "b": {"device": "v1", "port": "inlet"}},
    {"a": {"device": "v1", "port": "outlet"}, "b": {"device": "vent", "port": "in"}}
  ]
}`

func writeScenario(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.json")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write scenario: %v", err)
	}
	return path
}

// TestRunAccelerated drives a short accelerated simulation end to end.
func TestRunAccelerated(t *testing.T) {
	var out bytes.Buffer
	reg := prometheus.NewRegistry()
	args := []string{
		"-scenario", writeScenario(t, smallScenario),
		"-duration", "2s",
		"-tick", "500ms",
		"-metrics-addr", "",
		"-open", "v1, v2",
	}

	if err := run(context.Background(), args, &out, reg); err != nil {
		t.Fatalf("run: %v", err)
	}

	got := out.String()
	for _, want := range []string{
		"Loaded pipe scenario: 2 devices, 2 valves, 2 pipes",
		"frame 4,",
		"(not wired)",
		"Simulation complete.",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("output missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "frame 5,") {
		t.Fatalf("ran past the configured duration:\n%s", got)
	}

	// v1 was opened, so tank, valve and vent share 300 kPa over 4 nodes.
	if !strings.Contains(got, "inlet=   75.00 kPa ambience=true") {
		t.Fatalf("valve v1 line not as expected:\n%s", got)
	}

	n, err := testutil.GatherAndCount(reg, "atmos_tick_duration_seconds")
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if n != 1 {
		t.Fatalf("tick histogram series = %d, want 1", n)
	}
}

func TestRunShippedScenario(t *testing.T) {
	var out bytes.Buffer
	args := []string{
		"-scenario", filepath.Join("..", "..", "configs", "pipe_scenario.json"),
		"-duration", "1s",
		"-tick", "1s",
		"-metrics-addr", "",
		"-close", "valve-2",
	}
	if err := run(context.Background(), args, &out, prometheus.NewRegistry()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out.String(), "frame 1,") {
		t.Fatalf("expected one frame:\n%s", out.String())
	}
}

func TestRunRejectsBadInput(t *testing.T) {
	cases := map[string][]string{
		"unknown flag":     {"-bogus"},
		"missing scenario": {"-scenario", filepath.Join(t.TempDir(), "missing.json"), "-metrics-addr", ""},
		"bad scenario":     {"-scenario", writeScenario(t, `{"devices": 1}`), "-metrics-addr", ""},
		"zero tick":        {"-scenario", writeScenario(t, smallScenario), "-tick", "0s", "-metrics-addr", ""},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			var out bytes.Buffer
			if err := run(context.Background(), args, &out, prometheus.NewRegistry()); err == nil {
				t.Fatalf("expected error, output:\n%s", out.String())
			}
		})
	}
}

func TestSplitIDs(t *testing.T) {
	got := splitIDs(" a, ,b,")
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("splitIDs = %v, want [a b]", got)
	}
	if splitIDs("") != nil {
		t.Fatalf("splitIDs(\"\") should be nil")
	}
}
