package api

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// MaxPeersPerRoom is the number of peers a room accepts.
const MaxPeersPerRoom = 2

var ErrRoomFull = errors.New("room is full")

// hubPeer is one websocket connection joined to a room. Frames for it are
// queued on send and written by a dedicated goroutine.
type hubPeer struct {
	peerID string
	connID string
	send   chan []byte
	done   chan struct{}
}

// Hub tracks rooms of at most two peers and forwards frames between them.
// A peer rejoining with the same id replaces its previous connection.
type Hub struct {
	mu     sync.Mutex
	rooms  map[string]map[string]*hubPeer // room -> peerID -> peer
	logger *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		rooms:  make(map[string]map[string]*hubPeer),
		logger: logger,
	}
}

// CanJoin reports whether peerID would be admitted to room right now.
func (h *Hub) CanJoin(room, peerID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	peers := h.rooms[room]
	if _, rejoin := peers[peerID]; rejoin {
		return true
	}
	return len(peers) < MaxPeersPerRoom
}

// Join adds a peer to room. send writes one frame to the peer's connection.
// The returned remove function is safe to call more than once.
func (h *Hub) Join(room, peerID, connID string, send func([]byte) error) (remove func(), err error) {
	p := &hubPeer{
		peerID: peerID,
		connID: connID,
		send:   make(chan []byte, 256),
		done:   make(chan struct{}),
	}

	h.mu.Lock()
	peers := h.rooms[room]
	if peers == nil {
		peers = make(map[string]*hubPeer)
		h.rooms[room] = peers
	}
	old, rejoin := peers[peerID]
	if !rejoin && len(peers) >= MaxPeersPerRoom {
		h.mu.Unlock()
		return nil, ErrRoomFull
	}
	if rejoin {
		close(old.send)
	}
	peers[peerID] = p
	h.mu.Unlock()

	go func() {
		defer close(p.done)
		for frame := range p.send {
			if err := send(frame); err != nil {
				h.logger.Warn("failed to write to peer", "room", room, "peer", peerID, "error", err)
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() { h.remove(room, p) })
	}, nil
}

func (h *Hub) remove(room string, p *hubPeer) {
	h.mu.Lock()
	peers := h.rooms[room]
	current, ok := peers[p.peerID]
	if !ok || current.connID != p.connID {
		// already replaced by a newer connection
		h.mu.Unlock()
		return
	}
	delete(peers, p.peerID)
	if len(peers) == 0 {
		delete(h.rooms, room)
	}
	close(p.send)
	h.mu.Unlock()

	select {
	case <-p.done:
	case <-time.After(time.Second):
	}
}

// Forward queues frame for every other peer in room and returns how many
// peers it was queued for. A peer whose queue is full misses the frame.
func (h *Hub) Forward(room, fromPeerID string, frame []byte) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	delivered := 0
	for id, p := range h.rooms[room] {
		if id == fromPeerID {
			continue
		}
		select {
		case p.send <- frame:
			delivered++
		default:
			h.logger.Warn("dropping frame for slow peer", "room", room, "peer", id)
		}
	}
	return delivered
}

// Peers returns the ids of the peers in room.
func (h *Hub) Peers(room string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	ids := make([]string, 0, len(h.rooms[room]))
	for id := range h.rooms[room] {
		ids = append(ids, id)
	}
	return ids
}
