package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/rescp17/peerSplice/pkg/webrtc"
)

const serviceIDHeader = "X-Service-ID"

// serviceIDInjector is a custom http.RoundTripper that injects a service ID into each request.
type serviceIDInjector struct {
	serviceID string
	next      http.RoundTripper
}

// RoundTrip intercepts the request, adds the service ID header, and passes it to the next transport.
func (t *serviceIDInjector) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set(serviceIDHeader, t.serviceID)
	return t.next.RoundTrip(req)
}

// Client is a stateless HTTP client for the relay's HTTP endpoints.
type Client struct {
	HttpClient *http.Client
	relayURL   string
}

// NewClient creates a new API client, configured to automatically inject the provided serviceID.
func NewClient(relayURL, serviceID string) *Client {
	transport := &serviceIDInjector{
		serviceID: serviceID,
		next:      http.DefaultTransport,
	}
	return &Client{
		HttpClient: &http.Client{
			Timeout:   30 * time.Second,
			Transport: transport,
		},
		relayURL: strings.TrimSuffix(relayURL, "/"),
	}
}

// Echo posts body to /echo and returns the echoed body.
func (c *Client) Echo(ctx context.Context, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.relayURL+"/echo", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create echo request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HttpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send echo request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("echo responded with non-OK status: %s", resp.Status)
	}
	return io.ReadAll(resp.Body)
}

// EchoSignaler relays signals through the echo endpoint: each signal makes
// a round trip to the relay and is then handed to deliver, which belongs to
// the other peer in this process.
type EchoSignaler struct {
	client  *Client
	deliver func(webrtc.SignalMessage)
	ctx     context.Context
	logger  *slog.Logger
}

func NewEchoSignaler(ctx context.Context, client *Client, deliver func(webrtc.SignalMessage), logger *slog.Logger) *EchoSignaler {
	if logger == nil {
		logger = slog.Default()
	}
	return &EchoSignaler{client: client, deliver: deliver, ctx: ctx, logger: logger}
}

// SendSignal is fire-and-forget; echo failures are logged, not returned.
func (s *EchoSignaler) SendSignal(msg webrtc.SignalMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode signal: %w", err)
	}
	go func() {
		echoed, err := s.client.Echo(s.ctx, body)
		if err != nil {
			s.logger.Warn("echo relay failed", "kind", msg.Kind(), "error", err)
			return
		}
		var out webrtc.SignalMessage
		if err := json.Unmarshal(echoed, &out); err != nil {
			s.logger.Warn("echo relay returned invalid signal", "error", err)
			return
		}
		s.deliver(out)
	}()
	return nil
}
