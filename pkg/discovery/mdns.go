package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"slices"
	"strings"
	"sync"

	"github.com/brutella/dnssd"
)

// TXT record keys of a relay announcement.
const (
	txtRole    = "role"
	txtVersion = "v"
	txtPath    = "path"

	relayRole = "relay"
)

// MDNSAdapter announces and browses relays over multicast DNS.
type MDNSAdapter struct {
	Logger *slog.Logger
}

func (m *MDNSAdapter) logger() *slog.Logger {
	if m.Logger == nil {
		return slog.Default()
	}
	return m.Logger
}

// relayText is the TXT record published for a relay.
func relayText(s ServiceInfo) map[string]string {
	path := s.Path
	if path == "" {
		path = "/"
	}
	return map[string]string{
		txtRole:    relayRole,
		txtVersion: ProtocolVersion,
		txtPath:    path,
	}
}

// Announce publishes the relay until ctx is done.
func (m *MDNSAdapter) Announce(ctx context.Context, relay ServiceInfo) error {
	service, err := dnssd.NewService(dnssd.Config{
		Name:   relay.Name,
		Type:   relay.Type,
		Domain: relay.Domain,
		Text:   relayText(relay),
		Port:   relay.Port,
	})
	if err != nil {
		return fmt.Errorf("failed to create mDNS service: %w", err)
	}

	rp, err := dnssd.NewResponder()
	if err != nil {
		return fmt.Errorf("failed to create mDNS responder: %w", err)
	}
	if _, err = rp.Add(service); err != nil {
		return fmt.Errorf("failed to add mDNS service: %w", err)
	}

	m.logger().Info("announcing relay", "name", relay.Name, "type", relay.Type, "port", relay.Port)
	if err = rp.Respond(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("failed to respond to mDNS queries: %w", err)
	}
	m.logger().Info("stopped announcing relay", "name", relay.Name)
	return nil
}

// relayFromEntry turns a browse entry into a relay. Entries that are not
// relays of this protocol version, or that carry no usable address, are
// skipped.
func relayFromEntry(e dnssd.BrowseEntry) (ServiceInfo, bool) {
	if e.Text[txtRole] != relayRole || e.Text[txtVersion] != ProtocolVersion {
		return ServiceInfo{}, false
	}
	addr := pickAddr(e.IPs)
	if addr == nil {
		return ServiceInfo{}, false
	}
	return ServiceInfo{
		Name:   e.Name,
		Type:   e.Type,
		Domain: e.Domain,
		Addr:   addr,
		Port:   e.Port,
		Path:   strings.TrimSuffix(e.Text[txtPath], "/"),
	}, true
}

// pickAddr prefers a routable IPv4 address, then any IPv4, then the first
// IPv6 address that is not link-local. Link-local IPv6 needs a zone that a
// plain URL cannot carry.
func pickAddr(ips []net.IP) net.IP {
	var v4, v6 net.IP
	for _, ip := range ips {
		switch {
		case ip.To4() != nil && !ip.IsLinkLocalUnicast() && !ip.IsLoopback():
			return ip
		case ip.To4() != nil:
			if v4 == nil {
				v4 = ip
			}
		case !ip.IsLinkLocalUnicast():
			if v6 == nil {
				v6 = ip
			}
		}
	}
	if v4 != nil {
		return v4
	}
	return v6
}

// Discover browses for relays of type service. Each time a relay appears
// or goes away it sends the full set, sorted by name. The channel is
// closed when ctx is done.
func (m *MDNSAdapter) Discover(ctx context.Context, service string) <-chan DiscoveryResult {
	var (
		mu     sync.Mutex
		relays = make(map[string]ServiceInfo)
		outCh  = make(chan DiscoveryResult, 10)
	)
	logger := m.logger().With("service", service)

	publish := func(result DiscoveryResult) {
		select {
		case outCh <- result:
		default:
			logger.Debug("dropping relay update, consumer is behind")
		}
	}

	snapshot := func() DiscoveryResult {
		mu.Lock()
		defer mu.Unlock()
		found := make([]ServiceInfo, 0, len(relays))
		for _, r := range relays {
			found = append(found, r)
		}
		slices.SortFunc(found, func(a, b ServiceInfo) int { return strings.Compare(a.Name, b.Name) })
		return DiscoveryResult{Services: found}
	}

	added := func(e dnssd.BrowseEntry) {
		relay, ok := relayFromEntry(e)
		if !ok {
			logger.Debug("ignoring mDNS entry", "name", e.Name, "ips", e.IPs, "text", e.Text)
			return
		}
		logger.Debug("relay appeared", "name", relay.Name, "url", relay.RelayURL())
		mu.Lock()
		relays[relay.key()] = relay
		mu.Unlock()
		publish(snapshot())
	}

	removed := func(e dnssd.BrowseEntry) {
		key := ServiceInfo{Name: e.Name, Type: e.Type, Domain: e.Domain}.key()
		mu.Lock()
		_, known := relays[key]
		delete(relays, key)
		mu.Unlock()
		if known {
			logger.Debug("relay went away", "name", e.Name)
			publish(snapshot())
		}
	}

	go func() {
		defer close(outCh)
		if err := dnssd.LookupType(ctx, service, added, removed); err != nil && ctx.Err() == nil {
			publish(DiscoveryResult{Error: fmt.Errorf("mDNS lookup failed: %w", err)})
		}
	}()

	return outCh
}
