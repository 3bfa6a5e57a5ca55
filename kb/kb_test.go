package kb

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/signalsfoundry/pipenet-simulator/model"
)

func TestAddAndGetValve(t *testing.T) {
	store := NewKnowledgeBase()
	got, err := store.AddValve(model.ValveDefinition{ID: "v1"})
	if err != nil {
		t.Fatalf("AddValve error: %v", err)
	}
	if got.InletName != model.DefaultInletName || got.OutletName != model.DefaultOutletName {
		t.Fatalf("AddValve returned %#v, want default port names", got)
	}

	stored, err := store.GetValve("v1")
	if err != nil {
		t.Fatalf("GetValve error: %v", err)
	}
	if stored != got {
		t.Fatalf("GetValve = %#v, want %#v", stored, got)
	}
}

func TestAddValveValidation(t *testing.T) {
	store := NewKnowledgeBase()
	if _, err := store.AddValve(model.ValveDefinition{}); !errors.Is(err, ErrValveInvalid) {
		t.Fatalf("empty ID error = %v, want ErrValveInvalid", err)
	}
	if _, err := store.AddValve(model.ValveDefinition{ID: "v", InletName: "outlet"}); !errors.Is(err, ErrValveInvalid) {
		t.Fatalf("same port error = %v, want ErrValveInvalid", err)
	}

	if _, err := store.AddValve(model.ValveDefinition{ID: "v"}); err != nil {
		t.Fatalf("AddValve error: %v", err)
	}
	if _, err := store.AddValve(model.ValveDefinition{ID: "v"}); !errors.Is(err, ErrValveExists) {
		t.Fatalf("duplicate error = %v, want ErrValveExists", err)
	}
}

func TestGetValveReturnsCopy(t *testing.T) {
	store := NewKnowledgeBase()
	_, _ = store.AddValve(model.ValveDefinition{ID: "v"})

	v, _ := store.GetValve("v")
	v.Open = true
	again, _ := store.GetValve("v")
	if again.Open {
		t.Fatalf("mutating a returned valve leaked into the KB")
	}
}

func TestSetValveOpen(t *testing.T) {
	store := NewKnowledgeBase()
	_, _ = store.AddValve(model.ValveDefinition{ID: "v"})

	v, changed, err := store.SetValveOpen("v", true)
	if err != nil {
		t.Fatalf("SetValveOpen error: %v", err)
	}
	if !v.Open || !changed {
		t.Fatalf("SetValveOpen = %#v, changed=%v; want open and changed", v, changed)
	}
	if _, changed, _ := store.SetValveOpen("v", true); changed {
		t.Fatalf("re-opening an open valve reported a change")
	}
	if store.CountOpen() != 1 {
		t.Fatalf("CountOpen = %d, want 1", store.CountOpen())
	}

	if _, _, err := store.SetValveOpen("missing", true); !errors.Is(err, ErrValveNotFound) {
		t.Fatalf("missing valve error = %v, want ErrValveNotFound", err)
	}
}

func TestListValvesSortedAndRemove(t *testing.T) {
	store := NewKnowledgeBase()
	for _, id := range []string{"c", "a", "b"} {
		if _, err := store.AddValve(model.ValveDefinition{ID: id}); err != nil {
			t.Fatalf("AddValve(%s) error: %v", id, err)
		}
	}

	list := store.ListValves()
	if len(list) != 3 || list[0].ID != "a" || list[1].ID != "b" || list[2].ID != "c" {
		t.Fatalf("ListValves = %v, want a, b, c", list)
	}

	if err := store.RemoveValve("b"); err != nil {
		t.Fatalf("RemoveValve error: %v", err)
	}
	if err := store.RemoveValve("b"); !errors.Is(err, ErrValveNotFound) {
		t.Fatalf("second RemoveValve error = %v, want ErrValveNotFound", err)
	}
	if store.Len() != 2 {
		t.Fatalf("Len = %d, want 2", store.Len())
	}

	store.Clear()
	if store.Len() != 0 {
		t.Fatalf("Len after Clear = %d, want 0", store.Len())
	}
}

func TestSubscribeReceivesEvents(t *testing.T) {
	store := NewKnowledgeBase()
	var got []EventType
	var changes []bool
	unsubscribe := store.Subscribe(func(ev Event) {
		got = append(got, ev.Type)
		if ev.Type == EventValveToggled {
			changes = append(changes, ev.Changed)
		}
		// Subscribers run outside the lock and may read the KB.
		_ = store.Len()
	})

	_, _ = store.AddValve(model.ValveDefinition{ID: "v"})
	_, _, _ = store.SetValveOpen("v", true)
	_, _, _ = store.SetValveOpen("v", true)
	_ = store.RemoveValve("v")

	want := []EventType{EventValveAdded, EventValveToggled, EventValveToggled, EventValveRemoved}
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d = %s, want %s", i, got[i], want[i])
		}
	}

	if len(changes) != 2 || !changes[0] || changes[1] {
		t.Fatalf("toggle Changed flags = %v, want [true false]", changes)
	}

	unsubscribe()
	_, _ = store.AddValve(model.ValveDefinition{ID: "w"})
	if len(got) != len(want) {
		t.Fatalf("received event after unsubscribe")
	}
}

func TestConcurrentToggles(t *testing.T) {
	store := NewKnowledgeBase()
	for i := range 8 {
		_, _ = store.AddValve(model.ValveDefinition{ID: fmt.Sprintf("v-%d", i)})
	}

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("v-%d", i)
			for j := range 100 {
				if _, _, err := store.SetValveOpen(id, j%2 == 0); err != nil {
					t.Errorf("SetValveOpen(%s) error: %v", id, err)
					return
				}
				_ = store.ListValves()
			}
		}(i)
	}
	wg.Wait()

	// 100 iterations end on j == 99, which closes every valve.
	if store.CountOpen() != 0 {
		t.Fatalf("CountOpen = %d, want 0", store.CountOpen())
	}
}
