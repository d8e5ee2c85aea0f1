package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/spf13/pflag"

	"github.com/rescp17/peerSplice/api"
	"github.com/rescp17/peerSplice/pkg/transfer"
	prtc "github.com/rescp17/peerSplice/pkg/webrtc"
)

const envPrefix = "PEERSPLICE_"

// RelayConfig holds configuration for the relay subcommand.
type RelayConfig struct {
	Addr         string
	LogLevel     string
	EchoMinDelay time.Duration
	EchoMaxDelay time.Duration
	// Announce advertises the relay over mDNS
	Announce bool

	envErrs []error
}

// ClientConfig holds configuration for the send and receive subcommands.
type ClientConfig struct {
	RelayURL           string
	Room               string
	PeerID             string
	LogLevel           string
	ChunkSize          int
	Serializer         string
	OutputDir          string
	NegotiationTimeout time.Duration
	STUNServers        []string
	// Plain disables the TUI and prints a progress bar instead
	Plain bool
	// Discover looks the relay up over mDNS instead of using RelayURL
	Discover        bool
	DiscoverTimeout time.Duration

	envErrs []error
}

// BindRelayFlags registers relay flags on fs.
// Environment variables set the defaults; flags override them.
func BindRelayFlags(fs *pflag.FlagSet) *RelayConfig {
	cfg := &RelayConfig{
		Addr:         ":8080",
		LogLevel:     "info",
		EchoMinDelay: api.DefaultEchoMinDelay,
		EchoMaxDelay: api.DefaultEchoMaxDelay,
	}

	cfg.Addr = envString("ADDR", cfg.Addr)
	cfg.LogLevel = envString("LOG_LEVEL", cfg.LogLevel)
	cfg.EchoMinDelay = envDuration("ECHO_MIN_DELAY", cfg.EchoMinDelay, &cfg.envErrs)
	cfg.EchoMaxDelay = envDuration("ECHO_MAX_DELAY", cfg.EchoMaxDelay, &cfg.envErrs)
	cfg.Announce = envBool("ANNOUNCE", cfg.Announce, &cfg.envErrs)

	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "listen address")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	fs.DurationVar(&cfg.EchoMinDelay, "echo-min-delay", cfg.EchoMinDelay, "minimum delay before /echo answers")
	fs.DurationVar(&cfg.EchoMaxDelay, "echo-max-delay", cfg.EchoMaxDelay, "maximum delay before /echo answers")
	fs.BoolVar(&cfg.Announce, "announce", cfg.Announce, "advertise the relay over mDNS")

	return cfg
}

func (c *RelayConfig) Validate() error {
	if err := errors.Join(c.envErrs...); err != nil {
		return err
	}
	if c.Addr == "" {
		return errors.New("addr must not be empty")
	}
	if c.EchoMinDelay < 0 || c.EchoMaxDelay < c.EchoMinDelay {
		return fmt.Errorf("invalid echo delay range [%s, %s]", c.EchoMinDelay, c.EchoMaxDelay)
	}
	return nil
}

// BindClientFlags registers client flags on fs.
// Environment variables set the defaults; flags override them.
func BindClientFlags(fs *pflag.FlagSet) *ClientConfig {
	cfg := &ClientConfig{
		RelayURL:           "http://localhost:8080",
		Room:               "default",
		PeerID:             generatePeerID(),
		LogLevel:           "info",
		ChunkSize:          transfer.DefaultChunkSize,
		Serializer:         transfer.DefaultSerializer,
		OutputDir:          ".",
		NegotiationTimeout: prtc.DefaultNegotiationTime,
		STUNServers:        []string{prtc.DefaultSTUNServer},
		DiscoverTimeout:    5 * time.Second,
	}

	cfg.RelayURL = envString("RELAY_URL", cfg.RelayURL)
	cfg.Room = envString("ROOM", cfg.Room)
	cfg.PeerID = envString("PEER_ID", cfg.PeerID)
	cfg.LogLevel = envString("LOG_LEVEL", cfg.LogLevel)
	cfg.ChunkSize = envInt("CHUNK_SIZE", cfg.ChunkSize, &cfg.envErrs)
	cfg.Serializer = envString("SERIALIZER", cfg.Serializer)
	cfg.OutputDir = envString("OUTPUT_DIR", cfg.OutputDir)
	cfg.NegotiationTimeout = envDuration("NEGOTIATION_TIMEOUT", cfg.NegotiationTimeout, &cfg.envErrs)
	if v := envString("STUN_SERVERS", ""); v != "" {
		cfg.STUNServers = splitList(v)
	}
	cfg.Plain = envBool("PLAIN", cfg.Plain, &cfg.envErrs)
	cfg.Discover = envBool("DISCOVER", cfg.Discover, &cfg.envErrs)

	fs.StringVar(&cfg.RelayURL, "relay", cfg.RelayURL, "signaling relay URL")
	fs.StringVar(&cfg.Room, "room", cfg.Room, "room shared by both peers")
	fs.StringVar(&cfg.PeerID, "peer-id", cfg.PeerID, "peer identifier")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	fs.IntVar(&cfg.ChunkSize, "chunk-size", cfg.ChunkSize, "segment size in bytes")
	fs.StringVar(&cfg.Serializer, "serializer", cfg.Serializer, "wire format (json, binary)")
	fs.StringVarP(&cfg.OutputDir, "output", "o", cfg.OutputDir, "directory for received files")
	fs.DurationVar(&cfg.NegotiationTimeout, "negotiation-timeout", cfg.NegotiationTimeout, "give up on a negotiation round after this long (0 disables)")
	fs.StringSliceVar(&cfg.STUNServers, "stun", cfg.STUNServers, "STUN server URLs (repeatable)")
	fs.BoolVar(&cfg.Plain, "plain", cfg.Plain, "print plain progress instead of the TUI")
	fs.BoolVar(&cfg.Discover, "discover", cfg.Discover, "find the relay over mDNS")
	fs.DurationVar(&cfg.DiscoverTimeout, "discover-timeout", cfg.DiscoverTimeout, "how long to browse for a relay")

	return cfg
}

func (c *ClientConfig) Validate() error {
	if err := errors.Join(c.envErrs...); err != nil {
		return err
	}
	if c.Room == "" {
		return errors.New("room must not be empty")
	}
	if c.PeerID == "" {
		return errors.New("peer id must not be empty")
	}
	if !c.Discover && c.RelayURL == "" {
		return errors.New("relay URL must not be empty")
	}
	if c.NegotiationTimeout < 0 {
		return fmt.Errorf("negotiation timeout must not be negative: %s", c.NegotiationTimeout)
	}
	_, err := c.TransferConfig()
	return err
}

// TransferConfig returns the validated transfer settings.
func (c *ClientConfig) TransferConfig() (*transfer.TransferConfig, error) {
	tc := transfer.DefaultTransferConfig()
	tc.ChunkSize = c.ChunkSize
	tc.Serializer = c.Serializer
	if err := tc.Validate(); err != nil {
		return nil, err
	}
	return tc, nil
}

// WebRTCConfig returns the connection settings for this client.
func (c *ClientConfig) WebRTCConfig(logger *slog.Logger) prtc.Config {
	cfg := prtc.DefaultConfig()
	cfg.NegotiationTimeout = c.NegotiationTimeout
	cfg.Logger = logger
	if len(c.STUNServers) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: c.STUNServers}}
	}
	return cfg
}

// generatePeerID returns a short random identifier.
func generatePeerID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:10]
}

func envString(key, def string) string {
	if v := os.Getenv(envPrefix + key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int, errs *[]error) int {
	v := os.Getenv(envPrefix + key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
		return def
	}
	return n
}

func envBool(key string, def bool, errs *[]error) bool {
	v := os.Getenv(envPrefix + key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
		return def
	}
	return b
}

func envDuration(key string, def time.Duration, errs *[]error) time.Duration {
	v := os.Getenv(envPrefix + key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
		return def
	}
	return d
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
