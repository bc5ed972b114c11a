package state

import (
	"reflect"
	"testing"
)

func populated(t *testing.T) *Store {
	t.Helper()
	s := NewStore()
	if !s.AddRouter(1, "Main", RouterTypeAudio) {
		t.Fatal("AddRouter failed")
	}
	s.AddRouter(2, "Relay", RouterTypeGPIO)
	return s
}

func TestStoreAddRouterDuplicate(t *testing.T) {
	s := populated(t)
	if s.AddRouter(1, "Other", RouterTypeAudio) {
		t.Error("duplicate AddRouter returned true")
	}
	r, ok := s.Router(1)
	if !ok || r.Name != "Main" {
		t.Errorf("router 1 = %+v, duplicate must not overwrite", r)
	}
}

func TestStoreRoutersSorted(t *testing.T) {
	s := NewStore()
	for _, n := range []int{5, 1, 3} {
		s.AddRouter(n, "r", RouterTypeAudio)
	}
	var nums []int
	for _, r := range s.Routers() {
		nums = append(nums, r.Number)
	}
	if !reflect.DeepEqual(nums, []int{1, 3, 5}) {
		t.Errorf("order = %v", nums)
	}
}

func TestStoreEndpointUpsert(t *testing.T) {
	s := populated(t)

	isNew, ok := s.UpsertInput(1, Endpoint{Number: 4, Name: "Mic"})
	if !ok || !isNew {
		t.Fatalf("first upsert = %v,%v", isNew, ok)
	}
	isNew, ok = s.UpsertInput(1, Endpoint{Number: 4, Name: "Mic (new)"})
	if !ok || isNew {
		t.Fatalf("second upsert = %v,%v, want replace", isNew, ok)
	}
	ep, ok := s.Input(1, 4)
	if !ok || ep.Name != "Mic (new)" {
		t.Errorf("input = %+v", ep)
	}

	if _, ok := s.UpsertInput(99, Endpoint{Number: 1}); ok {
		t.Error("upsert for unknown router succeeded")
	}
}

func TestStoreReturnsCopies(t *testing.T) {
	s := populated(t)
	s.UpsertInput(1, Endpoint{Number: 1, Name: "A"})

	ins := s.Inputs(1)
	ins[0].Name = "mutated"
	if ep, _ := s.Input(1, 1); ep.Name != "A" {
		t.Error("accessor leaked internal state")
	}
}

func TestStoreActionsGlobalIndex(t *testing.T) {
	s := populated(t)
	s.UpsertAction(Action{ID: 10, Router: 1, Time: "06:00:00"})
	s.UpsertAction(Action{ID: 11, Router: 2, Time: "07:00:00"})

	if n := len(s.Actions()); n != 2 {
		t.Fatalf("actions = %d", n)
	}
	if n := len(s.RouterActions(1)); n != 1 {
		t.Errorf("router 1 actions = %d", n)
	}

	a, ok := s.RemoveAction(11)
	if !ok || a.Router != 2 {
		t.Fatalf("RemoveAction = %+v,%v", a, ok)
	}
	if n := len(s.RouterActions(2)); n != 0 {
		t.Errorf("router 2 actions after delete = %d", n)
	}
	if _, ok := s.RemoveAction(11); ok {
		t.Error("second delete succeeded")
	}
}

func TestStoreActionUpsertReportsChange(t *testing.T) {
	s := populated(t)

	changed, ok := s.UpsertAction(Action{ID: 7, Router: 1, Time: "06:00:00"})
	if !ok || !changed {
		t.Fatalf("first upsert = %v,%v", changed, ok)
	}
	changed, ok = s.UpsertAction(Action{ID: 7, Router: 1, Time: "06:00:00"})
	if !ok || changed {
		t.Errorf("duplicate upsert = %v,%v, want unchanged", changed, ok)
	}
	changed, ok = s.UpsertAction(Action{ID: 7, Router: 1, Time: "06:30:00"})
	if !ok || !changed {
		t.Errorf("modified upsert = %v,%v, want changed", changed, ok)
	}
	if a, _ := s.Action(7); a.Time != "06:30:00" {
		t.Errorf("action = %+v", a)
	}
	if _, ok := s.UpsertAction(Action{ID: 1, Router: 99}); ok {
		t.Error("upsert for unknown router succeeded")
	}
}

func TestStoreActionMovesRouter(t *testing.T) {
	s := populated(t)
	s.UpsertAction(Action{ID: 5, Router: 1})
	s.UpsertAction(Action{ID: 5, Router: 2})

	if n := len(s.RouterActions(1)); n != 0 {
		t.Errorf("stale index entry on router 1: %d", n)
	}
	if n := len(s.RouterActions(2)); n != 1 {
		t.Errorf("router 2 actions = %d", n)
	}
}

func TestStoreNextActionsDiff(t *testing.T) {
	s := populated(t)

	changed, ok := s.SetNextActions(1, []int{4, 7})
	if !ok || !reflect.DeepEqual(changed, []int{4, 7}) {
		t.Fatalf("first set: changed = %v,%v", changed, ok)
	}
	changed, _ = s.SetNextActions(1, []int{7, 9})
	if !reflect.DeepEqual(changed, []int{4, 9}) {
		t.Errorf("diff = %v, want [4 9]", changed)
	}
	changed, _ = s.SetNextActions(1, []int{9, 7})
	if len(changed) != 0 {
		t.Errorf("unchanged set reported %v", changed)
	}
	if _, ok := s.SetNextActions(42, []int{1}); ok {
		t.Error("SetNextActions for unknown router succeeded")
	}
}

func TestStoreCrosspointsAndGPIO(t *testing.T) {
	s := populated(t)

	s.SetCrosspoint(1, 2, 7)
	s.SetCrosspoint(1, 1, -1)
	got := s.Crosspoints(1)
	want := []Crosspoint{{Output: 1, Input: -1}, {Output: 2, Input: 7}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("crosspoints = %v, want %v", got, want)
	}

	s.SetGPIState(2, 1, "hlhhl")
	s.SetGPOState(2, 1, "lllll")
	if code, ok := s.GPIState(2, 1); !ok || code != "hlhhl" {
		t.Errorf("gpi = %q,%v", code, ok)
	}
	if states := s.GPOStates(2); len(states) != 1 || states[0].Code != "lllll" {
		t.Errorf("gpo states = %+v", states)
	}
}

func TestStoreClear(t *testing.T) {
	s := populated(t)
	s.UpsertInput(1, Endpoint{Number: 1, Name: "A"})
	s.UpsertAction(Action{ID: 1, Router: 1})
	s.AddSnapshot(1, "morning")
	s.SetCrosspoint(1, 1, 1)

	s.Clear()

	if len(s.Routers()) != 0 || len(s.Actions()) != 0 {
		t.Error("Clear left data behind")
	}
	if s.HasRouter(1) {
		t.Error("router survived Clear")
	}

	// The store must be reusable for the next bootstrap.
	if !s.AddRouter(1, "Main", RouterTypeAudio) {
		t.Error("AddRouter after Clear failed")
	}
}
