// Package httpapi exposes the daemon's local HTTP API: panel status, camera
// devices, arm/disarm commands, short-lived stream URLs, and a WebSocket
// feed of state events.
package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/trymwestin/nexecur/internal/core/state"
)

// PanelController is the command surface the API drives. The poll loop
// implements it and serializes calls onto the backend client.
type PanelController interface {
	ArmHome(ctx context.Context) error
	ArmAway(ctx context.Context) error
	Disarm(ctx context.Context) error
	StreamURL(ctx context.Context, serial string) (string, error)
}

// Server is the HTTP API server.
type Server struct {
	ctrl    PanelController
	store   state.Reader
	bus     *state.EventBus
	corsAll bool
	log     *slog.Logger
	mux     *http.ServeMux
	up      websocket.Upgrader
}

// NewServer creates a new HTTP API server.
func NewServer(ctrl PanelController, store state.Reader, bus *state.EventBus, corsAll bool, log *slog.Logger) *Server {
	s := &Server{
		ctrl:    ctrl,
		store:   store,
		bus:     bus,
		corsAll: corsAll,
		log:     log,
		mux:     http.NewServeMux(),
		up: websocket.Upgrader{
			HandshakeTimeout: 10 * time.Second,
			CheckOrigin:      func(*http.Request) bool { return true },
		},
	}
	s.routes()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	if !s.corsAll {
		return s.mux
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		s.mux.ServeHTTP(w, r)
	})
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/status", s.handleGetStatus)
	s.mux.HandleFunc("GET /api/devices", s.handleGetDevices)
	s.mux.HandleFunc("GET /api/stream-url", s.handleGetStreamURL)
	s.mux.HandleFunc("GET /api/ws", s.handleWS)

	s.mux.HandleFunc("POST /api/arm", s.handleArm)
	s.mux.HandleFunc("POST /api/disarm", s.handleDisarm)
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("failed to encode JSON response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (s *Server) readJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// --- Handlers ---

func (s *Server) handleGetStatus(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, s.store.Snapshot())
}

func (s *Server) handleGetDevices(w http.ResponseWriter, _ *http.Request) {
	snap := s.store.Snapshot()
	s.writeJSON(w, map[string]any{"devices": snap.Devices})
}

func (s *Server) handleGetStreamURL(w http.ResponseWriter, r *http.Request) {
	serial := r.URL.Query().Get("serial")
	if serial == "" {
		s.writeError(w, http.StatusBadRequest, "serial is required")
		return
	}

	url, err := s.ctrl.StreamURL(r.Context(), serial)
	if err != nil {
		s.writeError(w, http.StatusBadGateway, "failed to fetch stream URL: "+err.Error())
		return
	}
	if url == "" {
		s.writeJSON(w, map[string]any{"serial": serial, "url": nil})
		return
	}
	// The URL expires within seconds server-side; clients must re-fetch
	// on each use.
	s.writeJSON(w, map[string]any{"serial": serial, "url": url})
}

type armBody struct {
	Mode string `json:"mode"`
}

func (s *Server) handleArm(w http.ResponseWriter, r *http.Request) {
	var body armBody
	if err := s.readJSON(r, &body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}

	var err error
	switch body.Mode {
	case "home":
		err = s.ctrl.ArmHome(r.Context())
	case "away", "":
		err = s.ctrl.ArmAway(r.Context())
	default:
		s.writeError(w, http.StatusBadRequest, "mode must be \"home\" or \"away\"")
		return
	}
	if err != nil {
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleDisarm(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.Disarm(r.Context()); err != nil {
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.writeJSON(w, map[string]string{"status": "ok"})
}

// handleWS upgrades to a WebSocket and streams EventBus events as JSON until
// the client goes away.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.up.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	evtCh, unsub := s.bus.Subscribe(64)
	defer unsub()

	// Reader goroutine: we never expect client frames, but reading is the
	// only way to notice a closed peer.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	// Seed the client with the current snapshot.
	seed := state.Event{Type: state.EventPanelUpdate, Timestamp: time.Now(), Data: s.store.Snapshot()}
	if err := conn.WriteJSON(seed); err != nil {
		return
	}

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case evt, ok := <-evtCh:
			if !ok {
				return
			}
			if err := conn.WriteJSON(evt); err != nil {
				return
			}
		}
	}
}
