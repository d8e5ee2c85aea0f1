package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"
)

const (
	DefaultServerType = "_peersplice._tcp"
	DefaultDomain     = "local"
	// ProtocolVersion is announced by relays; clients skip other versions
	ProtocolVersion = "1"
)

var ErrNoRelayFound = errors.New("no relay found on the local network")

type ServiceInfo struct {
	Name   string // hostname or instance name
	Type   string // service name, e.g., "_peersplice._tcp"
	Domain string // domain, e.g., "local"
	Addr   net.IP
	Port   int
	// Path is the relay's base path, without a trailing slash
	Path string
}

// RelayURL returns the HTTP base URL of a relay announced as s.
func (s ServiceInfo) RelayURL() string {
	return "http://" + net.JoinHostPort(s.Addr.String(), strconv.Itoa(s.Port)) + s.Path
}

// key identifies a service instance across browse events.
func (s ServiceInfo) key() string {
	return fmt.Sprintf("%s:%s:%s", s.Name, s.Type, s.Domain)
}

// DiscoveryResult carries either a snapshot of the services seen so far or an error.
type DiscoveryResult struct {
	Services []ServiceInfo
	Error    error
}

type Adapter interface {
	Announce(ctx context.Context, service ServiceInfo) error
	Discover(ctx context.Context, service string) <-chan DiscoveryResult
}

// ServiceName returns the fully qualified name browsed for relays.
func ServiceName() string {
	return fmt.Sprintf("%s.%s.", DefaultServerType, DefaultDomain)
}

// FindRelay browses for relays and returns the URL of the first one seen.
func FindRelay(ctx context.Context, adapter Adapter, timeout time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for result := range adapter.Discover(ctx, ServiceName()) {
		if result.Error != nil {
			return "", result.Error
		}
		for _, s := range result.Services {
			if s.Addr != nil {
				return s.RelayURL(), nil
			}
		}
	}
	if err := ctx.Err(); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return "", err
	}
	return "", ErrNoRelayFound
}
