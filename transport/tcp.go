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
	"strings"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// Compile-time interface checks.
var (
	_ Device = (*TCPDevice)(nil)
	_ Device = (*LocalDevice)(nil)
)

// TCPDevice listens on TCP and broadcasts discovery datagrams over a
// companion UDP socket.
type TCPDevice struct {
	address       string
	broadcastPort int
	broadcast     bool
	logger        *slog.Logger

	mu        sync.Mutex
	listener  net.Listener
	udp       *net.UDPConn
	errString string
}

func newTCPDevice(u *url.URL, options Options) (*TCPDevice, error) {
	address, err := tcpAddress(u)
	if err != nil {
		return nil, err
	}
	return &TCPDevice{
		address:       address,
		broadcastPort: options.broadcastPort(),
		broadcast:     !options.DisableBroadcast,
		logger:        options.logger(),
	}, nil
}

// Listen binds the TCP listener and, for non-loopback addresses, the
// broadcast socket. A broadcast socket failure is logged and leaves
// the device listening without discovery.
func (d *TCPDevice) Listen() error {
	listener, err := net.Listen("tcp", d.address)
	if err != nil {
		d.setError(err)
		return fmt.Errorf("listen on %s: %w", d.address, err)
	}

	d.mu.Lock()
	d.listener = listener
	d.errString = ""
	d.mu.Unlock()

	bound := listener.Addr().(*net.TCPAddr)
	d.logger.Info("listening", "url", d.ExternalURL().String(), "address", bound.String())

	if !d.broadcast {
		return nil
	}
	if bound.IP.IsLoopback() {
		d.logger.Debug("bound to loopback, discovery broadcast disabled", "address", bound.String())
		return nil
	}
	udp, err := listenBroadcast()
	if err != nil {
		d.logger.Warn("discovery broadcast unavailable", "error", err)
		return nil
	}
	d.mu.Lock()
	d.udp = udp
	d.mu.Unlock()
	return nil
}

// listenBroadcast opens an unbound IPv4 UDP socket allowed to send to
// the limited broadcast address.
func listenBroadcast() (*net.UDPConn, error) {
	config := net.ListenConfig{
		Control: func(network, address string, raw syscall.RawConn) error {
			return setSocketOption(raw, unix.SO_BROADCAST)
		},
	}
	packet, err := config.ListenPacket(context.Background(), "udp4", ":0")
	if err != nil {
		return nil, fmt.Errorf("open broadcast socket: %w", err)
	}
	return packet.(*net.UDPConn), nil
}

// setSocketOption enables a boolean SOL_SOCKET option on a socket
// before it is bound.
func setSocketOption(raw syscall.RawConn, options ...int) error {
	var optionErr error
	err := raw.Control(func(fd uintptr) {
		for _, option := range options {
			if optionErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, option, 1); optionErr != nil {
				return
			}
		}
	})
	if err != nil {
		return err
	}
	return optionErr
}

func (d *TCPDevice) Accept() (net.Conn, error) {
	d.mu.Lock()
	listener := d.listener
	d.mu.Unlock()
	if listener == nil {
		return nil, net.ErrClosed
	}
	conn, err := listener.Accept()
	if err != nil {
		if !errors.Is(err, net.ErrClosed) {
			d.setError(err)
		}
		return nil, err
	}
	return conn, nil
}

func (d *TCPDevice) Close() error {
	d.mu.Lock()
	listener, udp := d.listener, d.udp
	d.listener, d.udp = nil, nil
	d.mu.Unlock()

	var errs []error
	if listener != nil {
		errs = append(errs, listener.Close())
	}
	if udp != nil {
		errs = append(errs, udp.Close())
	}
	return errors.Join(errs...)
}

func (d *TCPDevice) ErrorString() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.errString
}

func (d *TCPDevice) setError(err error) {
	d.mu.Lock()
	d.errString = err.Error()
	d.mu.Unlock()
}

// ExternalURL returns tcp://host:port with the bound port. A wildcard
// bind is replaced by ExternalAddress. Before Listen the configured
// address is returned unchanged.
func (d *TCPDevice) ExternalURL() *url.URL {
	d.mu.Lock()
	listener := d.listener
	d.mu.Unlock()
	if listener == nil {
		return &url.URL{Scheme: SchemeTCP, Host: d.address}
	}
	bound := listener.Addr().(*net.TCPAddr)
	host := bound.IP
	if host.IsUnspecified() {
		// An empty host binds dual-stack; advertise IPv4 unless an
		// IPv6 wildcard was asked for explicitly.
		configured, _, _ := net.SplitHostPort(d.address)
		host = ExternalAddress(strings.Contains(configured, ":"))
	}
	return &url.URL{Scheme: SchemeTCP, Host: net.JoinHostPort(host.String(), strconv.Itoa(bound.Port))}
}

// BroadcastEnabled reports whether the device owns a broadcast socket.
func (d *TCPDevice) BroadcastEnabled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.udp != nil
}

// Broadcast sends datagram to 255.255.255.255 on the broadcast port.
func (d *TCPDevice) Broadcast(datagram []byte) error {
	d.mu.Lock()
	udp := d.udp
	d.mu.Unlock()
	if udp == nil {
		return nil
	}
	target := &net.UDPAddr{IP: net.IPv4bcast, Port: d.broadcastPort}
	if _, err := udp.WriteToUDP(datagram, target); err != nil {
		return fmt.Errorf("broadcast to %s: %w", target, err)
	}
	return nil
}
