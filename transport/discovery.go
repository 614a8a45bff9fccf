// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"slices"
	"strconv"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/modelsync/lib/clock"
	"github.com/bureau-foundation/modelsync/lib/netutil"
	"github.com/bureau-foundation/modelsync/protocol"
)

// DiscoveryExpiry is how long a server stays listed after its last
// announcement.
const DiscoveryExpiry = 30 * time.Second

// DiscoveredServer is one server seen by a DiscoveryListener.
type DiscoveredServer struct {
	protocol.Announcement

	// Sender is the address the last datagram came from.
	Sender net.Addr

	// LastSeen is when the last announcement arrived.
	LastSeen time.Time
}

// DiscoveryOptions configures a DiscoveryListener.
type DiscoveryOptions struct {
	// Port to listen on. Zero means protocol.BroadcastPort.
	Port int

	// Expiry overrides DiscoveryExpiry.
	Expiry time.Duration

	Clock  clock.Clock
	Logger *slog.Logger
}

// DiscoveryListener collects server announcements.
type DiscoveryListener struct {
	conn   net.PacketConn
	expiry time.Duration
	clock  clock.Clock
	logger *slog.Logger

	mu      sync.Mutex
	servers map[string]*DiscoveredServer
	changed chan struct{}
}

// ListenDiscovery binds the broadcast port. The port is bound with
// SO_REUSEADDR and SO_REUSEPORT so several listeners on one host each
// receive every broadcast.
func ListenDiscovery(ctx context.Context, options DiscoveryOptions) (*DiscoveryListener, error) {
	port := options.Port
	if port == 0 {
		port = protocol.BroadcastPort
	}
	config := net.ListenConfig{
		Control: func(network, address string, raw syscall.RawConn) error {
			return setSocketOption(raw, unix.SO_REUSEADDR, unix.SO_REUSEPORT)
		},
	}
	conn, err := config.ListenPacket(ctx, "udp4", net.JoinHostPort("", strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("listen for announcements on port %d: %w", port, err)
	}
	return newDiscoveryListener(conn, options), nil
}

func newDiscoveryListener(conn net.PacketConn, options DiscoveryOptions) *DiscoveryListener {
	listener := &DiscoveryListener{
		conn:    conn,
		expiry:  options.Expiry,
		clock:   options.Clock,
		logger:  options.Logger,
		servers: make(map[string]*DiscoveredServer),
		changed: make(chan struct{}, 1),
	}
	if listener.expiry <= 0 {
		listener.expiry = DiscoveryExpiry
	}
	if listener.clock == nil {
		listener.clock = clock.Real()
	}
	if listener.logger == nil {
		listener.logger = slog.Default()
	}
	return listener
}

// Addr returns the bound address.
func (l *DiscoveryListener) Addr() net.Addr { return l.conn.LocalAddr() }

// Run reads announcements until ctx is done or the listener is closed.
func (l *DiscoveryListener) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		l.conn.Close()
	}()

	buffer := make([]byte, 2048)
	for {
		n, sender, err := l.conn.ReadFrom(buffer)
		if err != nil {
			if ctx.Err() != nil || netutil.IsExpectedCloseError(err) {
				return nil
			}
			return fmt.Errorf("reading announcement: %w", err)
		}
		l.handleDatagram(buffer[:n], sender)
	}
}

// Close stops Run.
func (l *DiscoveryListener) Close() error { return l.conn.Close() }

// Changed is signalled (without blocking, capacity one) whenever a
// server is added or its announcement changes.
func (l *DiscoveryListener) Changed() <-chan struct{} { return l.changed }

func (l *DiscoveryListener) handleDatagram(datagram []byte, sender net.Addr) {
	var announcement protocol.Announcement
	if err := announcement.UnmarshalBinary(datagram); err != nil {
		if errors.Is(err, protocol.ErrIncompatibleAnnouncement) {
			l.logger.Debug("dropping announcement", "sender", sender.String(), "error", err)
		} else {
			l.logger.Warn("malformed announcement", "sender", sender.String(), "error", err)
		}
		return
	}
	announcement.URL = rewriteHost(announcement.URL, sender)

	l.mu.Lock()
	existing, ok := l.servers[announcement.URL]
	if !ok {
		existing = &DiscoveredServer{}
		l.servers[announcement.URL] = existing
	}
	changed := !ok || existing.Announcement != announcement
	existing.Announcement = announcement
	existing.Sender = sender
	existing.LastSeen = l.clock.Now()
	l.mu.Unlock()

	if changed {
		l.logger.Debug("server announced", "url", announcement.URL, "label", announcement.Label)
		select {
		case l.changed <- struct{}{}:
		default:
		}
	}
}

// rewriteHost replaces the host of a tcp URL with the sender's IP,
// keeping the port. The announcing server only knows its own view of
// its address, which may not be the one this host can route to.
func rewriteHost(rawURL string, sender net.Addr) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Scheme != SchemeTCP {
		return rawURL
	}
	var ip net.IP
	switch a := sender.(type) {
	case *net.UDPAddr:
		ip = a.IP
	case *net.IPAddr:
		ip = a.IP
	default:
		return rawURL
	}
	port := parsed.Port()
	if port == "" {
		port = strconv.Itoa(protocol.DefaultPort)
	}
	parsed.Host = net.JoinHostPort(ip.String(), port)
	return parsed.String()
}

// Servers returns the servers announced within the expiry window,
// sorted by URL. Expired entries are forgotten.
func (l *DiscoveryListener) Servers() []DiscoveredServer {
	now := l.clock.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	servers := make([]DiscoveredServer, 0, len(l.servers))
	for key, server := range l.servers {
		if now.Sub(server.LastSeen) > l.expiry {
			delete(l.servers, key)
			continue
		}
		servers = append(servers, *server)
	}
	slices.SortFunc(servers, func(a, b DiscoveredServer) int {
		return cmp.Compare(a.URL, b.URL)
	})
	return servers
}
