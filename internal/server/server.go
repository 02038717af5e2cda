// Package server exposes the reasoning pipeline and agent management
// over HTTP and websockets.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/tensionos/tensiond/internal/agent"
	"github.com/tensionos/tensiond/internal/ecosystem"
	"github.com/tensionos/tensiond/internal/events"
	"github.com/tensionos/tensiond/internal/persistence"
	"github.com/tensionos/tensiond/internal/reasoning"
)

// hubTarget is the bus subscription name the server registers for
// websocket mirroring
const hubTarget = "ws-hub"

// Deps are the components the server fronts. Store may be nil; the
// tension endpoints then answer 503.
type Deps struct {
	Coordinator *reasoning.Coordinator
	Registry    *agent.Registry
	Creator     *agent.Creator
	Evolver     *agent.Evolver
	Optimizer   *ecosystem.Optimizer
	Store       *persistence.Store
	Bus         *events.Bus
	Logger      *zap.Logger
}

// Server is the tensiond HTTP surface
type Server struct {
	httpServer *http.Server
	router     *mux.Router
	hub        *Hub

	coordinator *reasoning.Coordinator
	registry    *agent.Registry
	creator     *agent.Creator
	evolver     *agent.Evolver
	optimizer   *ecosystem.Optimizer
	store       *persistence.Store
	bus         *events.Bus
	logger      *zap.Logger

	startTime time.Time
	busCh     <-chan events.Event
	stopChan  chan struct{}
}

// NewServer wires the HTTP surface. All Deps except Store and Bus are
// required.
func NewServer(deps Deps) (*Server, error) {
	if deps.Coordinator == nil || deps.Registry == nil || deps.Creator == nil || deps.Evolver == nil || deps.Optimizer == nil {
		return nil, fmt.Errorf("coordinator, registry, creator, evolver and optimizer are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("server")

	s := &Server{
		hub:         NewHub(logger),
		coordinator: deps.Coordinator,
		registry:    deps.Registry,
		creator:     deps.Creator,
		evolver:     deps.Evolver,
		optimizer:   deps.Optimizer,
		store:       deps.Store,
		bus:         deps.Bus,
		logger:      logger,
		startTime:   time.Now(),
		stopChan:    make(chan struct{}),
	}
	s.setupRoutes()
	return s, nil
}

func (s *Server) setupRoutes() {
	s.router = mux.NewRouter()
	s.router.Use(securityHeaders)
	s.router.Use(requestLogger(s.logger))

	api := s.router.PathPrefix("/api").Subrouter()

	// Reasoning pipeline
	api.HandleFunc("/reason", s.handleReason).Methods("POST")
	api.HandleFunc("/reason/batch", s.handleReasonBatch).Methods("POST")

	// Template catalog
	api.HandleFunc("/templates", s.handleListTemplates).Methods("GET")
	api.HandleFunc("/templates/match", s.handleMatchTemplates).Methods("POST")
	api.HandleFunc("/templates/{name}", s.handleGetTemplate).Methods("GET")

	// Agents
	api.HandleFunc("/agents", s.handleListAgents).Methods("GET")
	api.HandleFunc("/agents", s.handleCreateAgent).Methods("POST")
	api.HandleFunc("/agents/composite", s.handleCreateComposite).Methods("POST")
	api.HandleFunc("/agents/custom", s.handleCreateCustom).Methods("POST")
	api.HandleFunc("/agents/{id}", s.handleGetAgent).Methods("GET")
	api.HandleFunc("/agents/{id}", s.handleStopAgent).Methods("DELETE")
	api.HandleFunc("/agents/{id}/stop", s.handleStopAgent).Methods("POST")
	api.HandleFunc("/agents/{id}/cycle", s.handleRunCycle).Methods("POST")
	api.HandleFunc("/agents/{id}/evolve", s.handleEvolveAgent).Methods("POST")

	// Tensions (persisted)
	api.HandleFunc("/tensions", s.handleListTensions).Methods("GET")
	api.HandleFunc("/tensions", s.handleCreateTension).Methods("POST")
	api.HandleFunc("/tensions/{id}", s.handleGetTension).Methods("GET")
	api.HandleFunc("/tensions/{id}/match", s.handleMatchStoredTension).Methods("POST")

	// Ecosystems
	api.HandleFunc("/ecosystems", s.handleCreateEcosystem).Methods("POST")
	api.HandleFunc("/ecosystems/{id}/agents", s.handleEcosystemAddAgent).Methods("POST")
	api.HandleFunc("/ecosystems/{id}/tensions", s.handleEcosystemAddTension).Methods("POST")
	api.HandleFunc("/ecosystems/{id}/health", s.handleEcosystemHealth).Methods("GET")
	api.HandleFunc("/ecosystems/{id}/optimize", s.handleEcosystemOptimize).Methods("POST")
	api.HandleFunc("/ecosystems/{id}/balance", s.handleEcosystemBalance).Methods("POST")

	// Business rules
	api.HandleFunc("/rules", s.handleRulesSummary).Methods("GET")
	api.HandleFunc("/rules", s.handleAddRule).Methods("POST")
	api.HandleFunc("/rules/conflicts", s.handleRuleConflicts).Methods("GET")
	api.HandleFunc("/rules/{id}", s.handleRemoveRule).Methods("DELETE")

	// Operational surface
	api.HandleFunc("/stats", s.handleStats).Methods("GET")
	api.HandleFunc("/health", s.handleHealth).Methods("GET")

	s.router.HandleFunc("/ws", s.handleWebSocket)
}

// Handler exposes the router for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start runs the hub, the bus mirror, and the HTTP listener. Blocks
// until the listener exits.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.router,
	}

	go s.hub.Run()

	if s.bus != nil {
		s.busCh = s.bus.Subscribe(hubTarget, nil)
		go s.mirrorEvents()
	}

	s.logger.Info("listening", zap.String("addr", addr))
	return s.httpServer.ListenAndServe()
}

// Shutdown stops the listener and the bus mirror
func (s *Server) Shutdown(ctx context.Context) error {
	close(s.stopChan)
	if s.bus != nil && s.busCh != nil {
		s.bus.Unsubscribe(hubTarget, s.busCh)
	}
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// mirrorEvents forwards every bus event to the websocket hub
func (s *Server) mirrorEvents() {
	for {
		select {
		case ev, ok := <-s.busCh:
			if !ok {
				return
			}
			s.hub.BroadcastEvent(ev)
		case <-s.stopChan:
			return
		}
	}
}
