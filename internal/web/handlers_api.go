package web

import (
	"encoding/json"
	"net/http"
	"strconv"

	"drouter-control/internal/protoj"
)

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"session": s.control.State().String(),
		"routers": len(s.store.Routers()),
		"version": s.version,
	})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}

func (s *Server) handleListRouters(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.store.Routers())
}

func (s *Server) handleGetRouter(w http.ResponseWriter, r *http.Request) {
	router, ok := s.routerParam(w, r)
	if !ok {
		return
	}
	info, found := s.store.Router(router)
	if !found {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "router not found"})
		return
	}
	s.writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleListInputs(w http.ResponseWriter, r *http.Request) {
	router, ok := s.knownRouter(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, s.store.Inputs(router))
}

func (s *Server) handleListOutputs(w http.ResponseWriter, r *http.Request) {
	router, ok := s.knownRouter(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, s.store.Outputs(router))
}

func (s *Server) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	router, ok := s.knownRouter(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, s.store.Snapshots(router))
}

func (s *Server) handleListCrosspoints(w http.ResponseWriter, r *http.Request) {
	router, ok := s.knownRouter(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, s.store.Crosspoints(router))
}

func (s *Server) handleListGPIs(w http.ResponseWriter, r *http.Request) {
	router, ok := s.knownRouter(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, s.store.GPIStates(router))
}

func (s *Server) handleListGPOs(w http.ResponseWriter, r *http.Request) {
	router, ok := s.knownRouter(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, s.store.GPOStates(router))
}

func (s *Server) handleListRouterActions(w http.ResponseWriter, r *http.Request) {
	router, ok := s.knownRouter(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, s.store.RouterActions(router))
}

func (s *Server) handleListActions(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.store.Actions())
}

type setCrosspointRequest struct {
	Output int `json:"output"`
	Input  int `json:"input"`
}

func (s *Server) handleSetCrosspoint(w http.ResponseWriter, r *http.Request) {
	router, ok := s.knownRouter(w, r)
	if !ok {
		return
	}
	var req setCrosspointRequest
	if !s.readJSON(w, r, &req) {
		return
	}
	if err := s.control.SetOutputCrosspoint(router, req.Output, req.Input); err != nil {
		s.commandFailed(w, "activate route", err)
		return
	}
	// Confirmation arrives asynchronously as a routestat push.
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
}

type activateSnapshotRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleActivateSnapshot(w http.ResponseWriter, r *http.Request) {
	router, ok := s.knownRouter(w, r)
	if !ok {
		return
	}
	var req activateSnapshotRequest
	if !s.readJSON(w, r, &req) {
		return
	}
	if req.Name == "" {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "snapshot name required"})
		return
	}
	if err := s.control.ActivateSnapshot(router, req.Name); err != nil {
		s.commandFailed(w, "activate snapshot", err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
}

type triggerGPIORequest struct {
	Code     string `json:"code"`
	Duration int    `json:"duration"` // milliseconds; 0 latches
}

func (s *Server) handleTriggerGPI(w http.ResponseWriter, r *http.Request) {
	s.handleTriggerGPIO(w, r, s.control.SetGPIState)
}

func (s *Server) handleTriggerGPO(w http.ResponseWriter, r *http.Request) {
	s.handleTriggerGPIO(w, r, s.control.SetGPOState)
}

func (s *Server) handleTriggerGPIO(w http.ResponseWriter, r *http.Request, set func(router, line int, code string, duration int) error) {
	router, ok := s.knownRouter(w, r)
	if !ok {
		return
	}
	line, err := strconv.Atoi(r.PathValue("line"))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid line number"})
		return
	}
	var req triggerGPIORequest
	if !s.readJSON(w, r, &req) {
		return
	}
	if !validGPIOCode(req.Code) {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "code must be h/l/x per line"})
		return
	}
	if err := set(router, line, req.Code, req.Duration); err != nil {
		s.commandFailed(w, "trigger gpio", err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
}

// validGPIOCode accepts level codes like "hlhhl": h drives high, l drives
// low, x leaves the line alone.
func validGPIOCode(code string) bool {
	if code == "" {
		return false
	}
	for _, c := range code {
		switch c {
		case 'h', 'l', 'x', 'H', 'L', 'X':
		default:
			return false
		}
	}
	return true
}

func (s *Server) handleSaveAction(w http.ResponseWriter, r *http.Request) {
	var edit protoj.ActionEdit
	if !s.readJSON(w, r, &edit) {
		return
	}
	if !s.store.HasRouter(edit.Router) {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "router not found"})
		return
	}
	if err := s.control.SaveAction(edit); err != nil {
		s.commandFailed(w, "save action", err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
}

func (s *Server) handleDeleteAction(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid action id"})
		return
	}
	if _, ok := s.store.Action(id); !ok {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "action not found"})
		return
	}
	if err := s.control.RemoveAction(id); err != nil {
		s.commandFailed(w, "delete action", err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
}

func (s *Server) handleRecentEvents(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "journal disabled"})
		return
	}
	limit := 100
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n <= 0 || n > 1000 {
			s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be 1..1000"})
			return
		}
		limit = n
	}
	entries, err := s.journal.Recent(limit)
	if err != nil {
		s.logger.Error("journal query", "err", err)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	s.writeJSON(w, http.StatusOK, entries)
}

// routerParam parses the {router} path segment.
func (s *Server) routerParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	n, err := strconv.Atoi(r.PathValue("router"))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid router number"})
		return 0, false
	}
	return n, true
}

// knownRouter parses the {router} segment and 404s for unregistered ones.
func (s *Server) knownRouter(w http.ResponseWriter, r *http.Request) (int, bool) {
	n, ok := s.routerParam(w, r)
	if !ok {
		return 0, false
	}
	if !s.store.HasRouter(n) {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "router not found"})
		return 0, false
	}
	return n, true
}

func (s *Server) commandFailed(w http.ResponseWriter, what string, err error) {
	s.logger.Error(what, "err", err)
	s.writeJSON(w, http.StatusBadGateway, map[string]string{"error": "router connection unavailable"})
}

func (s *Server) readJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("writeJSON encode failed", "err", err)
	}
}
