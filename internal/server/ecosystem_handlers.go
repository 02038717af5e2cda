package server

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/tensionos/tensiond/internal/ecosystem"
)

func (s *Server) ecosystemOr404(w http.ResponseWriter, r *http.Request) (*ecosystem.Ecosystem, bool) {
	eco, ok := s.optimizer.GetEcosystem(mux.Vars(r)["id"])
	if !ok {
		writeError(w, http.StatusNotFound, "ecosystem not found")
	}
	return eco, ok
}

func (s *Server) handleCreateEcosystem(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name        string `json:"name"`
		Description string `json:"description,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	eco := s.optimizer.CreateEcosystem(body.Name, body.Description)
	writeJSON(w, http.StatusCreated, map[string]string{
		"ecosystem_id": eco.ID,
		"name":         eco.Name,
	})
}

func (s *Server) handleEcosystemAddAgent(w http.ResponseWriter, r *http.Request) {
	eco, ok := s.ecosystemOr404(w, r)
	if !ok {
		return
	}

	var body struct {
		AgentID string `json:"agent_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	a, found := s.registry.GetAgent(body.AgentID)
	if !found {
		writeError(w, http.StatusNotFound, "agent not found")
		return
	}

	eco.AddAgent(a)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ecosystem_id": eco.ID,
		"agent_id":     body.AgentID,
		"agent_count":  eco.AgentCount(),
	})
}

func (s *Server) handleEcosystemAddTension(w http.ResponseWriter, r *http.Request) {
	eco, ok := s.ecosystemOr404(w, r)
	if !ok {
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
	eco.AddTension(t)
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) handleEcosystemHealth(w http.ResponseWriter, r *http.Request) {
	eco, ok := s.ecosystemOr404(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.optimizer.AnalyzeHealth(eco))
}

func (s *Server) handleEcosystemOptimize(w http.ResponseWriter, r *http.Request) {
	eco, ok := s.ecosystemOr404(w, r)
	if !ok {
		return
	}
	plan := s.optimizer.OptimizeAgentDistribution(eco.ActiveTensions(), eco.Agents())
	writeJSON(w, http.StatusOK, plan)
}

func (s *Server) handleEcosystemBalance(w http.ResponseWriter, r *http.Request) {
	eco, ok := s.ecosystemOr404(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.optimizer.BalanceWorkload(eco.Workload()))
}
