// Package api exposes the engine over HTTP and WebSocket: status and
// snapshot queries, the recommendation stream, and the feedback and
// shutdown controls.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/kiwi-quant/adaptive-engine/internal/engine"
	"github.com/kiwi-quant/adaptive-engine/pkg/types"
)

// recentLimit bounds the recommendation ring served over HTTP.
const recentLimit = 100

// Server is the HTTP/WebSocket front end for one engine instance.
type Server struct {
	logger     *zap.Logger
	config     types.ServerConfig
	engine     *engine.Engine
	router     *mux.Router
	httpServer *http.Server
	hub        *Hub

	mu     sync.RWMutex
	recent []types.Recommendation
}

// NewServer creates the API server for an engine.
func NewServer(logger *zap.Logger, config types.ServerConfig, eng *engine.Engine) *Server {
	s := &Server{
		logger: logger.Named("api"),
		config: config,
		engine: eng,
		router: mux.NewRouter(),
		hub:    NewHub(logger),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/api/v1/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/api/v1/status", s.handleStatus).Methods("GET")
	s.router.HandleFunc("/api/v1/snapshot", s.handleSnapshot).Methods("GET")
	s.router.HandleFunc("/api/v1/recommendations", s.handleRecommendations).Methods("GET")
	s.router.HandleFunc("/api/v1/performance", s.handlePerformance).Methods("GET")
	s.router.HandleFunc("/api/v1/control/feedback", s.handleFeedback).Methods("POST")
	s.router.HandleFunc("/api/v1/control/stop", s.handleStop).Methods("POST")
	if s.config.EnableMetrics {
		s.router.Handle("/metrics", promhttp.Handler())
	}
	s.router.HandleFunc(s.config.WebSocketPath, s.handleWebSocket)
}

// Run starts the WebSocket hub and the engine stream pump without the
// HTTP listener. Start calls it; tests serve Handler directly.
func (s *Server) Run(ctx context.Context) {
	go s.hub.Run(ctx)
	go s.pump(ctx)
}

// Handler returns the fully assembled HTTP handler, CORS included.
func (s *Server) Handler() http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler(s.router)
}

// Start runs the hub, the engine stream pump, and the HTTP listener.
// It blocks until the listener exits.
func (s *Server) Start(ctx context.Context) error {
	s.Run(ctx)

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}
	s.logger.Info("Starting API server", zap.String("addr", addr))
	return s.httpServer.ListenAndServe()
}

// Stop shuts the listener down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// pump drains the engine's outbound streams into the ring buffer and
// the WebSocket hub. The server is the single consumer of both.
func (s *Server) pump(ctx context.Context) {
	recs := s.engine.Recommendations()
	status := s.engine.Status()
	for recs != nil || status != nil {
		select {
		case <-ctx.Done():
			return
		case rec, ok := <-recs:
			if !ok {
				recs = nil
				continue
			}
			s.remember(rec)
			s.hub.BroadcastEvent(MsgTypeRecommendation, rec)
		case ev, ok := <-status:
			if !ok {
				status = nil
				continue
			}
			s.hub.BroadcastEvent(MsgTypeStatus, ev)
		}
	}
}

func (s *Server) remember(rec types.Recommendation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recent = append(s.recent, rec)
	if len(s.recent) > recentLimit {
		s.recent = s.recent[len(s.recent)-recentLimit:]
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, map[string]interface{}{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap, err := s.snapshot(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	s.writeJSON(w, map[string]interface{}{
		"running":        snap.Running,
		"mode":           snap.Mode,
		"symbols":        snap.Symbols,
		"activeStrategy": snap.ActiveStrategy,
		"stoppedReason":  snap.StoppedReason,
		"at":             snap.At,
	})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := s.snapshot(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	s.writeJSON(w, snap)
}

func (s *Server) snapshot(r *http.Request) (engine.Snapshot, error) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	return s.engine.Snapshot(ctx)
}

func (s *Server) handleRecommendations(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	out := make([]types.Recommendation, len(s.recent))
	copy(out, s.recent)
	s.mu.RUnlock()
	s.writeJSON(w, map[string]interface{}{
		"recommendations": out,
		"count":           len(out),
	})
}

func (s *Server) handlePerformance(w http.ResponseWriter, _ *http.Request) {
	mon := s.engine.Monitor()
	s.writeJSON(w, map[string]interface{}{
		"metrics":    mon.Metrics(0),
		"state":      mon.State(0),
		"tradeCount": mon.TradeCount(),
	})
}

type feedbackRequest struct {
	SignalID string `json:"signalId"`
	Accepted bool   `json:"accepted"`
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.SignalID == "" {
		http.Error(w, "signalId is required", http.StatusBadRequest)
		return
	}
	if err := s.engine.ApplyFeedback(req.SignalID, req.Accepted); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	s.writeJSON(w, map[string]interface{}{
		"signalId": req.SignalID,
		"accepted": req.Accepted,
	})
}

func (s *Server) handleStop(w http.ResponseWriter, _ *http.Request) {
	go func() {
		if err := s.engine.Stop(10 * time.Second); err != nil {
			s.logger.Warn("Engine stop returned error", zap.Error(err))
		}
	}()
	s.writeJSON(w, map[string]interface{}{"stopping": true})
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("Response encoding failed", zap.Error(err))
	}
}
