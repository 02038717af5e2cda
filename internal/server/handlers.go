package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tensionos/tensiond/internal/agent"
	"github.com/tensionos/tensiond/internal/events"
	"github.com/tensionos/tensiond/internal/reasoning"
	"github.com/tensionos/tensiond/internal/tension"
)

// maxBatchSize bounds one batch request
const maxBatchSize = 100

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// agentStats is implemented by every agent built on BaseAgent
type agentStats interface {
	Stats() agent.PerformanceCounters
	PerformanceHistory() []agent.PerformanceRecord
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// tensionBody is the wire form of a tension in requests
type tensionBody struct {
	ID          string `json:"id,omitempty"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Type        string `json:"tension_type,omitempty"`
	Priority    int    `json:"priority,omitempty"`
	TopK        int    `json:"top_k,omitempty"`
}

func (b *tensionBody) toTension() *tension.Tension {
	t := tension.New(b.Title, b.Description, tension.Type(b.Type))
	if t.Type == "" {
		t.Type = tension.TypeUnknown
	}
	if b.ID != "" {
		t.ID = b.ID
	}
	if p := tension.Priority(b.Priority); p > tension.PriorityLow && p <= tension.PriorityCritical {
		t.Priority = p
	}
	return t
}

func (s *Server) handleReason(w http.ResponseWriter, r *http.Request) {
	var req reasoning.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := s.coordinator.Process(r.Context(), &req)
	if err != nil {
		if errors.Is(err, reasoning.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.hub.BroadcastResult(result)
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleReasonBatch(w http.ResponseWriter, r *http.Request) {
	var requests []*reasoning.Request
	if err := json.NewDecoder(r.Body).Decode(&requests); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(requests) == 0 {
		writeError(w, http.StatusBadRequest, "empty batch")
		return
	}
	if len(requests) > maxBatchSize {
		writeError(w, http.StatusBadRequest, "batch exceeds limit")
		return
	}

	results := s.coordinator.ProcessBatch(r.Context(), requests)
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"templates": s.registry.AvailableTemplates(),
		"stats":     s.registry.GetPerformanceStats(),
	})
}

func (s *Server) handleGetTemplate(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	meta, ok := s.registry.GetTemplateMetadata(name)
	if !ok {
		writeError(w, http.StatusNotFound, "template not found")
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

func (s *Server) handleMatchTemplates(w http.ResponseWriter, r *http.Request) {
	var body tensionBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Title == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}

	matches := s.registry.MatchTensionToTemplates(body.toTension(), body.TopK)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"matches": matches,
		"count":   len(matches),
	})
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	ids := s.registry.ActiveAgents()
	agents := make([]map[string]interface{}, 0, len(ids))
	for _, id := range ids {
		a, ok := s.registry.GetAgent(id)
		if !ok {
			continue
		}
		agents = append(agents, map[string]interface{}{
			"agent_id": id,
			"template": a.Metadata().TemplateName,
			"domain":   a.Metadata().PrimaryDomain,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"agents": agents,
		"count":  len(agents),
	})
}

func (s *Server) handleCreateAgent(w http.ResponseWriter, r *http.Request) {
	var body struct {
		TemplateName string `json:"template_name"`
		AgentID      string `json:"agent_id,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	a, err := s.registry.CreateAgentFromTemplate(body.TemplateName, body.AgentID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{
		"agent_id": a.ID(),
		"template": body.TemplateName,
	})
}

func (s *Server) handleCreateComposite(w http.ResponseWriter, r *http.Request) {
	var body struct {
		BaseTemplates []string               `json:"base_templates"`
		Requirements  map[string]interface{} `json:"requirements,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	composite, err := s.creator.CreateCompositeAgent(body.BaseTemplates, body.Requirements)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"agent_id":       composite.ID(),
		"base_templates": composite.BaseTemplates(),
		"capabilities":   len(composite.Capabilities()),
	})
}

func (s *Server) handleCreateCustom(w http.ResponseWriter, r *http.Request) {
	var requirements agent.CustomRequirements
	if err := json.NewDecoder(r.Body).Decode(&requirements); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	custom, err := s.creator.CreateCustomAgent(requirements)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"agent_id":     custom.ID(),
		"name":         requirements.Name,
		"capabilities": len(custom.Capabilities()),
	})
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	a, ok := s.registry.GetAgent(id)
	if !ok {
		writeError(w, http.StatusNotFound, "agent not found")
		return
	}

	view := map[string]interface{}{
		"agent_id":     id,
		"metadata":     a.Metadata(),
		"capabilities": a.Capabilities(),
	}
	if withStats, ok := a.(agentStats); ok {
		view["stats"] = withStats.Stats()
		view["history"] = withStats.PerformanceHistory()
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleStopAgent(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !s.registry.StopAgent(id) {
		writeError(w, http.StatusNotFound, "agent not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"agent_id": id, "status": "stopped"})
}

func (s *Server) handleRunCycle(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	a, ok := s.registry.GetAgent(id)
	if !ok {
		writeError(w, http.StatusNotFound, "agent not found")
		return
	}

	var body tensionBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Title == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}

	result, err := a.RunQuantumCycle(r.Context(), body.toTension())
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"error":  err.Error(),
			"result": result,
		})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleEvolveAgent(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	a, ok := s.registry.GetAgent(id)
	if !ok {
		writeError(w, http.StatusNotFound, "agent not found")
		return
	}

	var body struct {
		Performance agent.PerformanceData   `json:"performance"`
		Historical  []agent.PerformanceData `json:"historical,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	gaps := s.evolver.AnalyzePerformanceGaps(a, body.Performance, body.Historical)
	result := s.evolver.EvolveAgentCapabilities(a, gaps)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"gaps":   gaps,
		"result": result,
	})
}

func (s *Server) handleListTensions(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "persistence is disabled")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	tensions, err := s.store.ListTensions(r.URL.Query().Get("status"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tensions": tensions,
		"count":    len(tensions),
	})
}

func (s *Server) handleCreateTension(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "persistence is disabled")
		return
	}
	var body tensionBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Title == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}

	t := body.toTension()
	if err := s.store.SaveTension(t); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if s.bus != nil {
		s.bus.Publish(events.NewForTension(events.EventTensionCreated, "api", events.TargetAll, t.ID,
			events.PriorityNormal, map[string]interface{}{
				"title":        t.Title,
				"description":  t.Description,
				"tension_type": string(t.Type),
			}))
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) handleGetTension(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "persistence is disabled")
		return
	}
	id := mux.Vars(r)["id"]
	t, err := s.store.GetTension(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if t == nil {
		writeError(w, http.StatusNotFound, "tension not found")
		return
	}

	view := map[string]interface{}{"tension": t}
	if analysis, err := s.store.GetAnalysis(id); err == nil && analysis != nil {
		view["analysis"] = analysis
	}
	if solutions, err := s.store.GetSolutions(id); err == nil && len(solutions) > 0 {
		view["solutions"] = solutions
	}
	if priority, err := s.store.GetPriority(id); err == nil && priority != nil {
		view["priority_calculation"] = priority
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleMatchStoredTension(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "persistence is disabled")
		return
	}
	id := mux.Vars(r)["id"]
	t, err := s.store.GetTension(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if t == nil {
		writeError(w, http.StatusNotFound, "tension not found")
		return
	}

	topK, _ := strconv.Atoi(r.URL.Query().Get("top_k"))
	matches := s.registry.MatchTensionToTemplates(t, topK)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tension_id": id,
		"matches":    matches,
		"count":      len(matches),
	})
}

func (s *Server) handleRulesSummary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.coordinator.Rules().Summary())
}

func (s *Server) handleAddRule(w http.ResponseWriter, r *http.Request) {
	var rule reasoning.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	if err := s.coordinator.Rules().AddRule(&rule); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"rule_id": rule.ID})
}

func (s *Server) handleRuleConflicts(w http.ResponseWriter, r *http.Request) {
	conflicts := s.coordinator.Rules().DetectConflicts()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"conflicts": conflicts,
		"count":     len(conflicts),
	})
}

func (s *Server) handleRemoveRule(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !s.coordinator.Rules().RemoveRule(id) {
		writeError(w, http.StatusNotFound, "rule not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"rule_id": id, "status": "removed"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"coordinator":       s.coordinator.GetPerformanceStats(),
		"templates":         s.registry.GetPerformanceStats(),
		"active_agents":     len(s.registry.ActiveAgents()),
		"connected_clients": s.hub.ClientCount(),
		"uptime_seconds":    time.Since(s.startTime).Seconds(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	components := s.coordinator.ValidateComponents(r.Context())
	registryHealth := s.registry.HealthCheck(r.Context())

	healthy := registryHealth.Overall == agent.HealthHealthy
	for _, c := range components {
		if !c.OK {
			healthy = false
		}
	}
	status := "ok"
	code := http.StatusOK
	if !healthy {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]interface{}{
		"status":     status,
		"components": components,
		"registry":   registryHealth,
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	client := &wsClient{
		hub:  s.hub,
		conn: conn,
		send: make(chan []byte, wsBufferSize),
	}
	s.hub.register <- client

	go client.writePump()
	go client.readPump()
}
