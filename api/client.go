package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rescp17/peerSplice/pkg/webrtc"
)

const peerIDHeader = "X-Peer-ID"

var ErrRelayClosed = errors.New("relay connection closed")

var dialer = websocket.Dialer{
	HandshakeTimeout: 5 * time.Second,
}

// BuildWebSocketURL turns a relay base URL (http, https, ws or wss) into the
// websocket URL for room and peerID.
func BuildWebSocketURL(relayURL, room, peerID string) (string, error) {
	u, err := url.Parse(relayURL)
	if err != nil {
		return "", err
	}
	scheme := u.Scheme
	switch scheme {
	case "http":
		scheme = "ws"
	case "https":
		scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported relay scheme %q", u.Scheme)
	}

	query := url.Values{}
	query.Set("room", room)
	query.Set("peer", peerID)
	wsURL := url.URL{
		Scheme:   scheme,
		Host:     u.Host,
		Path:     strings.TrimSuffix(u.Path, "/") + "/ws",
		RawQuery: query.Encode(),
	}
	return wsURL.String(), nil
}

// RelayClient is a websocket connection to the relay hub. It implements
// webrtc.Signaler; writes are serialized through a single goroutine.
type RelayClient struct {
	conn    *websocket.Conn
	logger  *slog.Logger
	send    chan []byte
	closing chan struct{}
	done    chan struct{}
	writeMu sync.Mutex
	once    sync.Once
}

// DialRelay joins room on the relay at relayURL as peerID.
func DialRelay(ctx context.Context, relayURL, room, peerID string, logger *slog.Logger) (*RelayClient, error) {
	if logger == nil {
		logger = slog.Default()
	}
	wsURL, err := BuildWebSocketURL(relayURL, room, peerID)
	if err != nil {
		return nil, err
	}

	headers := http.Header{}
	headers.Set(peerIDHeader, peerID)
	conn, resp, err := dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil {
			body, _ := io.ReadAll(resp.Body)
			_ = resp.Body.Close()
			if len(body) > 0 {
				return nil, fmt.Errorf("websocket upgrade failed (%d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
			}
			return nil, fmt.Errorf("websocket upgrade failed (%d)", resp.StatusCode)
		}
		return nil, err
	}

	c := &RelayClient{
		conn:    conn,
		logger:  logger.With("component", "relay-client", "room", room, "peer", peerID),
		send:    make(chan []byte, 256),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
	go c.writeLoop()
	return c, nil
}

// SendSignal queues msg for the remote peer. A nil error only means the
// frame was queued. It fails with ErrRelayClosed once the client is closed
// or a write has failed.
func (c *RelayClient) SendSignal(msg webrtc.SignalMessage) error {
	frame, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode signal: %w", err)
	}
	select {
	case <-c.closing:
		return ErrRelayClosed
	case <-c.done:
		return ErrRelayClosed
	default:
	}
	select {
	case c.send <- frame:
		return nil
	case <-c.closing:
		return ErrRelayClosed
	case <-c.done:
		// the write loop stopped on an error
		return ErrRelayClosed
	}
}

// ReadLoop hands every signal from the remote peer to onSignal until the
// connection closes or ctx is cancelled. Malformed frames are skipped.
func (c *RelayClient) ReadLoop(ctx context.Context, onSignal func(webrtc.SignalMessage)) error {
	c.conn.SetReadDeadline(time.Now().Add(idleTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(idleTimeout))
		return nil
	})

	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.done:
				return
			case <-ticker.C:
				c.writeMu.Lock()
				err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
				c.writeMu.Unlock()
				if err != nil {
					return
				}
			}
		}
	}()

	stop := context.AfterFunc(ctx, func() {
		// unblocks ReadMessage
		c.conn.Close()
	})
	defer stop()

	for {
		messageType, frame, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		c.conn.SetReadDeadline(time.Now().Add(idleTimeout))
		if messageType != websocket.TextMessage {
			continue
		}

		var msg webrtc.SignalMessage
		if err := json.Unmarshal(frame, &msg); err != nil {
			c.logger.Warn("invalid signal frame", "error", err)
			continue
		}
		onSignal(msg)
	}
}

func (c *RelayClient) writeLoop() {
	defer close(c.done)
	for {
		select {
		case frame := <-c.send:
			if err := c.write(frame); err != nil {
				c.logger.Error("websocket write error", "error", err)
				return
			}
		case <-c.closing:
			// flush what was queued before Close
			for {
				select {
				case frame := <-c.send:
					if err := c.write(frame); err != nil {
						return
					}
				default:
					return
				}
			}
		}
	}
}

func (c *RelayClient) write(frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

// Close flushes queued signals and closes the connection.
func (c *RelayClient) Close() error {
	var err error
	c.once.Do(func() {
		close(c.closing)
		<-c.done
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}
