// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"

	"github.com/bureau-foundation/modelsync/protocol"
)

// ErrUnsupportedScheme is returned for URLs whose scheme names no
// known device.
var ErrUnsupportedScheme = errors.New("unsupported transport scheme")

// URL schemes understood by NewDevice and Dial.
const (
	SchemeTCP   = "tcp"
	SchemeLocal = "local"
)

// Device is the listening end of a modelsync connection.
type Device interface {
	// Listen binds the device. On failure the error is returned and
	// also recorded for ErrorString.
	Listen() error

	// Accept waits for the next client connection.
	Accept() (net.Conn, error)

	// Close releases the listener and any companion sockets. Close is
	// idempotent.
	Close() error

	// ErrorString describes the last bind or accept failure, or is
	// empty.
	ErrorString() string

	// ExternalURL is the URL a client on another host (or, for local
	// sockets, this host) should connect to. Valid after Listen.
	ExternalURL() *url.URL

	// Broadcast sends a discovery datagram. Devices without a
	// broadcast channel ignore it and return nil.
	Broadcast(datagram []byte) error
}

// Options configures a Device.
type Options struct {
	// BroadcastPort is the UDP port announcements are sent to. Zero
	// means protocol.BroadcastPort.
	BroadcastPort int

	// DisableBroadcast suppresses the companion UDP socket of TCP
	// devices even when bound to a non-loopback address.
	DisableBroadcast bool

	// Logger receives device lifecycle messages. Nil means
	// slog.Default().
	Logger *slog.Logger
}

func (o Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

func (o Options) broadcastPort() int {
	if o.BroadcastPort > 0 {
		return o.BroadcastPort
	}
	return protocol.BroadcastPort
}

// NewDevice parses rawURL and returns the device for its scheme. The
// device is not yet listening.
func NewDevice(rawURL string, options Options) (Device, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse device URL %q: %w", rawURL, err)
	}
	switch parsed.Scheme {
	case SchemeTCP:
		return newTCPDevice(parsed, options)
	case SchemeLocal:
		return newLocalDevice(parsed, options)
	default:
		return nil, fmt.Errorf("%q: %w", parsed.Scheme, ErrUnsupportedScheme)
	}
}

// Dial connects to the server at rawURL.
func Dial(ctx context.Context, rawURL string) (net.Conn, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse server URL %q: %w", rawURL, err)
	}
	var dialer net.Dialer
	switch parsed.Scheme {
	case SchemeTCP:
		address, err := tcpAddress(parsed)
		if err != nil {
			return nil, err
		}
		return dialer.DialContext(ctx, "tcp", address)
	case SchemeLocal:
		path, err := socketPath(parsed)
		if err != nil {
			return nil, err
		}
		return dialer.DialContext(ctx, "unix", path)
	default:
		return nil, fmt.Errorf("%q: %w", parsed.Scheme, ErrUnsupportedScheme)
	}
}

// tcpAddress returns host:port for a tcp URL, filling in the default
// port when the URL has none.
func tcpAddress(u *url.URL) (string, error) {
	host := u.Hostname()
	port := u.Port()
	if port == "" {
		port = strconv.Itoa(protocol.DefaultPort)
	} else if _, err := strconv.ParseUint(port, 10, 16); err != nil {
		return "", fmt.Errorf("invalid port %q in %s: %w", port, u, err)
	}
	return net.JoinHostPort(host, port), nil
}

// socketPath returns the filesystem path of a local URL. Both
// local:///abs/path and local://relative/path are accepted.
func socketPath(u *url.URL) (string, error) {
	path := u.Host + u.Path
	if path == "" {
		path = u.Opaque
	}
	if path == "" {
		return "", fmt.Errorf("local URL %q has no socket path", u.String())
	}
	return path, nil
}
