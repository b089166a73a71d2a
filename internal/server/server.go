// Package server exposes the board over WebSocket and a small REST
// surface used for initial page loads.
//
// Every connection is one session with its own read and write
// goroutines; a central hub owns the registry, presence, heartbeat,
// and broadcast fan-out. Mutations go through the board controller, so
// the usual rules apply: first committer wins, losers get the
// authoritative record back.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/tandem/internal/board"
	"github.com/roach88/tandem/internal/config"
	"github.com/roach88/tandem/internal/protocol"
	"github.com/roach88/tandem/internal/task"
)

const shutdownGrace = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Server ties the hub, the board, and the HTTP routes together.
type Server struct {
	cfg    config.ServerConfig
	board  *board.Controller
	hub    *Hub
	ids    task.IDGenerator
	router *mux.Router
	http   *http.Server
}

// New builds a server from the given configuration and board.
func New(cfg config.ServerConfig, ctrl *board.Controller) *Server {
	s := &Server{
		cfg:   cfg,
		board: ctrl,
		hub:   NewHub(ctrl, cfg.HeartbeatInterval.Std()),
		ids:   task.UUIDv7Generator{},
	}

	r := mux.NewRouter()
	r.Use(logRequests)
	r.HandleFunc("/ws", s.handleWS)
	r.Methods(http.MethodGet).Path("/api/tasks").HandlerFunc(s.handleListTasks)
	r.Methods(http.MethodPost).Path("/api/tasks").HandlerFunc(s.handleCreateTask)
	s.router = r
	s.http = &http.Server{Addr: cfg.Addr, Handler: r}
	return s
}

// Hub returns the connection hub. It must be running for any handler
// to make progress.
func (s *Server) Hub() *Hub { return s.hub }

// Handler returns the HTTP handler, useful for serving over a test
// listener.
func (s *Server) Handler() http.Handler { return s.router }

// Run serves until ctx is canceled, then shuts down: the listener
// stops accepting, WebSocket connections are closed by the hub, and
// in-flight store transactions run to completion or roll back.
func (s *Server) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.hub.Run(ctx)
	})
	g.Go(func() error {
		slog.Info("listening", "addr", s.cfg.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// handleWS upgrades the connection and runs the session read loop on
// this goroutine. Clients pass their identity as ?clientId=; one is
// assigned if they do not.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	clientID := r.URL.Query().Get("clientId")
	if clientID == "" {
		clientID = s.ids.Generate()
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade", "err", err)
		return
	}

	sess := newSession(s.hub, conn, clientID)
	select {
	case s.hub.register <- sess:
	case <-s.hub.stopped:
		conn.Close()
		return
	}
	go sess.writeLoop()
	sess.readLoop(r.Context())
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.board.Snapshot(r.Context())
	if err != nil {
		slog.Error("listing tasks", "err", err)
		writeJSONError(w, http.StatusInternalServerError, "listing tasks failed")
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var p protocol.CreatePayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	created, err := s.board.Create(r.Context(), board.CreateParams{
		Title:       p.Title,
		Description: p.Description,
		Column:      p.Column,
	})
	if err != nil {
		if task.IsValidation(err) {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		slog.Error("creating task", "err", err)
		writeJSONError(w, http.StatusInternalServerError, "creating task failed")
		return
	}

	// Connected clients learn about REST-created tasks the same way
	// they learn about anyone else's: a task:create delta.
	s.hub.broadcastAll(protocol.TypeTaskCreate, created)
	writeJSON(w, http.StatusCreated, created)
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m := httpsnoop.CaptureMetrics(next, w, r)
		slog.Info("handled", "method", r.Method, "url", r.URL, "duration", m.Duration, "status", m.Code)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("writing response", "err", err)
	}
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
