package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	DefaultEchoMinDelay = 1 * time.Second
	DefaultEchoMaxDelay = 6 * time.Second

	maxFrameBytes = 1 << 20
	idleTimeout   = 60 * time.Second
	pingInterval  = 30 * time.Second
	writeTimeout  = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // peers are not browsers bound to an origin
	},
}

// ServerConfig configures the signaling relay.
type ServerConfig struct {
	// POST /echo answers after a random delay in [EchoMinDelay, EchoMaxDelay)
	EchoMinDelay time.Duration
	EchoMaxDelay time.Duration
	Logger       *slog.Logger
}

// Server is the signaling relay: a websocket hub at GET /ws and an
// echo-with-delay endpoint at POST /echo.
type Server struct {
	hub    *Hub
	mux    *http.ServeMux
	config ServerConfig
	logger *slog.Logger
}

func NewServer(config ServerConfig) *Server {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.EchoMaxDelay < config.EchoMinDelay {
		config.EchoMaxDelay = config.EchoMinDelay
	}
	s := &Server{
		hub:    NewHub(config.Logger),
		mux:    http.NewServeMux(),
		config: config,
		logger: config.Logger.With("component", "relay"),
	}
	s.registerRoutes()
	return s
}

// ServeHTTP allows the Server struct to satisfy the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) Hub() *Hub {
	return s.hub
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /ws", s.WebSocketHandler)
	s.mux.HandleFunc("POST /echo", s.EchoHandler)
}

func sendError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// WebSocketHandler joins the caller to ?room= as ?peer= and forwards every
// text frame it sends to the other peer in the room.
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	room := r.URL.Query().Get("room")
	peerID := r.URL.Query().Get("peer")
	if room == "" || peerID == "" {
		sendError(w, http.StatusBadRequest, "room and peer are required")
		return
	}
	if !s.hub.CanJoin(room, peerID) {
		sendError(w, http.StatusConflict, ErrRoomFull.Error())
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxFrameBytes)

	var writeMu sync.Mutex
	send := func(frame []byte) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		return conn.WriteMessage(websocket.TextMessage, frame)
	}

	remove, err := s.hub.Join(room, peerID, uuid.NewString(), send)
	if err != nil {
		// lost a race for the last seat
		writeMu.Lock()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()),
			time.Now().Add(writeTimeout))
		writeMu.Unlock()
		return
	}
	defer remove()

	log := s.logger.With("room", room, "peer", peerID)
	log.Info("peer joined")
	defer log.Info("peer left")

	conn.SetReadDeadline(time.Now().Add(idleTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(idleTimeout))
		return nil
	})

	stopPing := make(chan struct{})
	defer close(stopPing)
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stopPing:
				return
			case <-ticker.C:
				writeMu.Lock()
				err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
				writeMu.Unlock()
				if err != nil {
					return
				}
			}
		}
	}()

	for {
		messageType, frame, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("websocket read error", "error", err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(idleTimeout))
		if messageType != websocket.TextMessage {
			continue
		}
		if n := s.hub.Forward(room, peerID, frame); n == 0 {
			log.Debug("no peer to forward to")
		}
	}
}

// EchoHandler returns the posted JSON body after a random delay, so a single
// page can relay messages between two in-process peers.
func (s *Server) EchoHandler(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxFrameBytes+1))
	if err != nil {
		sendError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	if len(body) > maxFrameBytes {
		sendError(w, http.StatusRequestEntityTooLarge, "body too large")
		return
	}
	if !json.Valid(body) {
		sendError(w, http.StatusBadRequest, "body must be JSON")
		return
	}

	timer := time.NewTimer(s.echoDelay())
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-r.Context().Done():
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(body); err != nil && !errors.Is(err, http.ErrHandlerTimeout) {
		s.logger.Warn("failed to write echo response", "error", err)
	}
}

func (s *Server) echoDelay() time.Duration {
	lo, hi := s.config.EchoMinDelay, s.config.EchoMaxDelay
	if hi <= lo {
		return lo
	}
	return lo + rand.N(hi-lo)
}
