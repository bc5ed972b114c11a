package state

import (
	"sort"
	"sync"
)

// Store holds the derived view of every router the session knows about.
//
// The protocol dispatcher is the only writer; readers (web handlers, the MQTT
// bridge, automation scripts) run on their own goroutines, so every accessor
// returns copies rather than aliases into the maps. All contents are dropped
// on disconnect: the next bootstrap rebuilds the view from scratch.
type Store struct {
	mu      sync.RWMutex
	routers map[int]*Router

	// Actions are global. The per-router index only speeds up listing.
	actions         map[int]Action
	actionsByRouter map[int]map[int]struct{}
}

// NewStore creates an empty store.
func NewStore() *Store {
	s := &Store{}
	s.reset()
	return s
}

func (s *Store) reset() {
	s.routers = make(map[int]*Router)
	s.actions = make(map[int]Action)
	s.actionsByRouter = make(map[int]map[int]struct{})
}

// Clear drops all derived state. Called on disconnect.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
}

// AddRouter registers a directory entry. Returns true if the router was not
// known before; a duplicate entry leaves the existing state untouched.
func (s *Store) AddRouter(number int, name string, typ RouterType) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.routers[number]; ok {
		return false
	}
	s.routers[number] = newRouter(number, name, typ)
	return true
}

// HasRouter reports whether the router is registered.
func (s *Store) HasRouter(number int) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.routers[number]
	return ok
}

// Routers lists registered routers ordered by number.
func (s *Store) Routers() []RouterInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]RouterInfo, 0, len(s.routers))
	for _, r := range s.routers {
		out = append(out, RouterInfo{Number: r.Number, Name: r.Name, Type: r.Type})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out
}

// Router returns the directory entry for one router.
func (s *Store) Router(number int) (RouterInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.routers[number]
	if !ok {
		return RouterInfo{}, false
	}
	return RouterInfo{Number: r.Number, Name: r.Name, Type: r.Type}, true
}

// UpsertInput inserts or replaces an input endpoint. The second return value
// is false when the router is unknown; the first reports whether the endpoint
// number was new.
func (s *Store) UpsertInput(router int, ep Endpoint) (isNew, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, found := s.routers[router]
	if !found {
		return false, false
	}
	_, exists := r.inputs[ep.Number]
	r.inputs[ep.Number] = ep
	return !exists, true
}

// UpsertOutput inserts or replaces an output endpoint.
func (s *Store) UpsertOutput(router int, ep Endpoint) (isNew, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, found := s.routers[router]
	if !found {
		return false, false
	}
	_, exists := r.outputs[ep.Number]
	r.outputs[ep.Number] = ep
	return !exists, true
}

// Inputs lists a router's inputs ordered by number.
func (s *Store) Inputs(router int) []Endpoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.routers[router]
	if !ok {
		return nil
	}
	return sortedEndpoints(r.inputs)
}

// Outputs lists a router's outputs ordered by number.
func (s *Store) Outputs(router int) []Endpoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.routers[router]
	if !ok {
		return nil
	}
	return sortedEndpoints(r.outputs)
}

// Input returns one input endpoint by number.
func (s *Store) Input(router, number int) (Endpoint, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.routers[router]
	if !ok {
		return Endpoint{}, false
	}
	ep, ok := r.inputs[number]
	return ep, ok
}

// Output returns one output endpoint by number.
func (s *Store) Output(router, number int) (Endpoint, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.routers[router]
	if !ok {
		return Endpoint{}, false
	}
	ep, ok := r.outputs[number]
	return ep, ok
}

// AddSnapshot appends a snapshot in arrival order. Returns false when the
// router is unknown.
func (s *Store) AddSnapshot(router int, name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.routers[router]
	if !ok {
		return false
	}
	r.snapshots = append(r.snapshots, Snapshot{Name: name})
	return true
}

// Snapshots lists a router's snapshots in arrival order.
func (s *Store) Snapshots(router int) []Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.routers[router]
	if !ok {
		return nil
	}
	out := make([]Snapshot, len(r.snapshots))
	copy(out, r.snapshots)
	return out
}

// UpsertAction inserts or replaces an action by id. The second return value
// is false when the action's router is unknown; the first reports whether the
// stored action differs from what was there before, so a re-announced
// duplicate does not look like a change.
func (s *Store) UpsertAction(a Action) (changed, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, found := s.routers[a.Router]; !found {
		return false, false
	}
	prev, exists := s.actions[a.ID]
	if exists && prev.Router != a.Router {
		// Same id re-announced under a different router: move the index entry.
		delete(s.actionsByRouter[prev.Router], a.ID)
	}
	s.actions[a.ID] = a
	idx := s.actionsByRouter[a.Router]
	if idx == nil {
		idx = make(map[int]struct{})
		s.actionsByRouter[a.Router] = idx
	}
	idx[a.ID] = struct{}{}
	return !exists || prev != a, true
}

// RemoveAction deletes an action by id regardless of router. Returns the
// removed action and whether it existed.
func (s *Store) RemoveAction(id int) (Action, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.actions[id]
	if !ok {
		return Action{}, false
	}
	delete(s.actions, id)
	delete(s.actionsByRouter[a.Router], id)
	if r, ok := s.routers[a.Router]; ok {
		delete(r.nextActions, id)
	}
	return a, true
}

// Action returns one action by id.
func (s *Store) Action(id int) (Action, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.actions[id]
	return a, ok
}

// Actions lists all actions ordered by id.
func (s *Store) Actions() []Action {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Action, 0, len(s.actions))
	for _, a := range s.actions {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RouterActions lists one router's actions ordered by id.
func (s *Store) RouterActions(router int) []Action {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.actionsByRouter[router]
	out := make([]Action, 0, len(ids))
	for id := range ids {
		out = append(out, s.actions[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SetNextActions replaces a router's next-to-fire highlight set and returns
// the ids whose membership changed. Returns nil, false for unknown routers.
func (s *Store) SetNextActions(router int, ids []int) (changed []int, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, found := s.routers[router]
	if !found {
		return nil, false
	}
	next := make(map[int]struct{}, len(ids))
	for _, id := range ids {
		next[id] = struct{}{}
		if _, was := r.nextActions[id]; !was {
			changed = append(changed, id)
		}
	}
	for id := range r.nextActions {
		if _, still := next[id]; !still {
			changed = append(changed, id)
		}
	}
	r.nextActions = next
	sort.Ints(changed)
	return changed, true
}

// IsNextAction reports whether an action is in its router's highlight set.
func (s *Store) IsNextAction(router, id int) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.routers[router]
	if !ok {
		return false
	}
	_, ok = r.nextActions[id]
	return ok
}

// SetCrosspoint records the active input of an output. Returns false when the
// router is unknown.
func (s *Store) SetCrosspoint(router, output, input int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.routers[router]
	if !ok {
		return false
	}
	r.crosspoints[output] = input
	return true
}

// Crosspoint returns the input currently feeding an output. The second result
// is false when the assignment has never been reported.
func (s *Store) Crosspoint(router, output int) (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.routers[router]
	if !ok {
		return 0, false
	}
	in, ok := r.crosspoints[output]
	return in, ok
}

// Crosspoints lists a router's known assignments ordered by output.
func (s *Store) Crosspoints(router int) []Crosspoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.routers[router]
	if !ok {
		return nil
	}
	out := make([]Crosspoint, 0, len(r.crosspoints))
	for o, in := range r.crosspoints {
		out = append(out, Crosspoint{Output: o, Input: in})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Output < out[j].Output })
	return out
}

// SetGPIState records the level code of a GPI line bundle.
func (s *Store) SetGPIState(router, line int, code string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.routers[router]
	if !ok {
		return false
	}
	r.gpiStates[line] = code
	return true
}

// SetGPOState records the level code of a GPO line bundle.
func (s *Store) SetGPOState(router, line int, code string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.routers[router]
	if !ok {
		return false
	}
	r.gpoStates[line] = code
	return true
}

// GPIState returns the last reported code of a GPI line bundle.
func (s *Store) GPIState(router, line int) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.routers[router]
	if !ok {
		return "", false
	}
	code, ok := r.gpiStates[line]
	return code, ok
}

// GPOState returns the last reported code of a GPO line bundle.
func (s *Store) GPOState(router, line int) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.routers[router]
	if !ok {
		return "", false
	}
	code, ok := r.gpoStates[line]
	return code, ok
}

// GPIStates lists a router's GPI codes ordered by line.
func (s *Store) GPIStates(router int) []GPIOState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.routers[router]
	if !ok {
		return nil
	}
	return sortedGPIO(r.gpiStates)
}

// GPOStates lists a router's GPO codes ordered by line.
func (s *Store) GPOStates(router int) []GPIOState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.routers[router]
	if !ok {
		return nil
	}
	return sortedGPIO(r.gpoStates)
}

func sortedEndpoints(m map[int]Endpoint) []Endpoint {
	out := make([]Endpoint, 0, len(m))
	for _, ep := range m {
		out = append(out, ep)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out
}

func sortedGPIO(m map[int]string) []GPIOState {
	out := make([]GPIOState, 0, len(m))
	for line, code := range m {
		out = append(out, GPIOState{Line: line, Code: code})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Line < out[j].Line })
	return out
}
