// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/bureau-foundation/modelsync/lib/clock"
	"github.com/bureau-foundation/modelsync/lib/testutil"
	"github.com/bureau-foundation/modelsync/protocol"
)

func encodeAnnouncement(t *testing.T, announcement protocol.Announcement) []byte {
	t.Helper()
	datagram, err := announcement.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}
	return datagram
}

func newTestDiscoveryListener(t *testing.T, fake *clock.FakeClock) *DiscoveryListener {
	t.Helper()
	conn, err := net.ListenPacket("udp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenPacket: %v", err)
	}
	listener := newDiscoveryListener(conn, DiscoveryOptions{Clock: fake})
	t.Cleanup(func() { listener.Close() })
	return listener
}

func TestDiscoveryListener_RewritesHostAndExpires(t *testing.T) {
	t.Parallel()

	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	listener := newTestDiscoveryListener(t, fake)
	sender := &net.UDPAddr{IP: net.ParseIP("192.168.7.9"), Port: 40000}

	listener.handleDatagram(encodeAnnouncement(t, protocol.Announcement{
		ProtocolVersion: protocol.Version,
		URL:             "tcp://0.0.0.0:11800",
		Label:           "editor",
		Instance:        "a",
	}), sender)

	servers := listener.Servers()
	if len(servers) != 1 {
		t.Fatalf("Servers() = %d entries, want 1", len(servers))
	}
	if servers[0].URL != "tcp://192.168.7.9:11800" {
		t.Errorf("URL = %q, want host rewritten to sender", servers[0].URL)
	}
	if !servers[0].Compatible() {
		t.Error("announcement of the current version is not Compatible")
	}
	testutil.RequireReceive(t, listener.Changed(), time.Second, "change notification")

	fake.Advance(DiscoveryExpiry)
	if got := len(listener.Servers()); got != 1 {
		t.Fatalf("Servers() after exactly the expiry = %d, want 1", got)
	}

	// A repeat announcement refreshes the entry without a change
	// notification.
	listener.handleDatagram(encodeAnnouncement(t, protocol.Announcement{
		ProtocolVersion: protocol.Version,
		URL:             "tcp://0.0.0.0:11800",
		Label:           "editor",
		Instance:        "a",
	}), sender)
	select {
	case <-listener.Changed():
		t.Error("unchanged announcement signalled Changed")
	default:
	}

	fake.Advance(DiscoveryExpiry + time.Second)
	if got := len(listener.Servers()); got != 0 {
		t.Fatalf("Servers() after expiry = %d, want 0", got)
	}
}

func TestDiscoveryListener_DropsBadDatagrams(t *testing.T) {
	t.Parallel()

	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	listener := newTestDiscoveryListener(t, fake)
	sender := &net.UDPAddr{IP: net.ParseIP("10.1.1.1"), Port: 1}

	future := protocol.NewPayloadEncoder()
	future.Int32(protocol.BroadcastFormatVersion + 1)
	future.Int32(protocol.Version)
	future.String("tcp://10.1.1.1:11732")
	future.String("future")
	future.String("x")

	listener.handleDatagram(future.Bytes(), sender)
	listener.handleDatagram([]byte{0, 0}, sender)

	if got := len(listener.Servers()); got != 0 {
		t.Errorf("Servers() = %d entries, want 0", got)
	}
}

func TestDiscoveryListener_KeepsIncompatibleProtocol(t *testing.T) {
	t.Parallel()

	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	listener := newTestDiscoveryListener(t, fake)

	listener.handleDatagram(encodeAnnouncement(t, protocol.Announcement{
		ProtocolVersion: protocol.Version - 1,
		URL:             "local:///run/probe.sock",
		Label:           "old",
	}), &net.UDPAddr{IP: net.ParseIP("10.0.0.2"), Port: 1})

	servers := listener.Servers()
	if len(servers) != 1 {
		t.Fatalf("Servers() = %d entries, want 1", len(servers))
	}
	if servers[0].Compatible() {
		t.Error("older protocol reported Compatible")
	}
	if servers[0].URL != "local:///run/probe.sock" {
		t.Errorf("local URL rewritten to %q", servers[0].URL)
	}
}

func TestDiscoveryListener_Run(t *testing.T) {
	t.Parallel()

	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	listener := newTestDiscoveryListener(t, fake)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- listener.Run(ctx) }()

	sender, err := net.Dial("udp4", listener.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer sender.Close()
	if _, err := sender.Write(encodeAnnouncement(t, protocol.Announcement{
		ProtocolVersion: protocol.Version,
		URL:             "tcp://203.0.113.1:11732",
		Label:           "probe",
	})); err != nil {
		t.Fatalf("Write: %v", err)
	}

	testutil.RequireReceive(t, listener.Changed(), 5*time.Second, "announcement over UDP")
	servers := listener.Servers()
	if len(servers) != 1 || servers[0].URL != "tcp://127.0.0.1:11732" {
		t.Fatalf("Servers() = %+v, want one server at tcp://127.0.0.1:11732", servers)
	}

	cancel()
	if err := testutil.RequireReceive(t, done, 5*time.Second, "Run returning"); err != nil {
		t.Errorf("Run: %v", err)
	}
}

// recordingDevice is a Device whose Broadcast records datagrams.
type recordingDevice struct {
	LocalDevice
	broadcasts chan []byte
}

func (d *recordingDevice) ExternalURL() *url.URL {
	return &url.URL{Scheme: SchemeTCP, Host: "198.51.100.4:11732"}
}

func (d *recordingDevice) Broadcast(datagram []byte) error {
	d.broadcasts <- append([]byte(nil), datagram...)
	return nil
}

func TestAnnouncer_Run(t *testing.T) {
	t.Parallel()

	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	device := &recordingDevice{broadcasts: make(chan []byte, 4)}
	announcer := NewAnnouncer(device, AnnouncerOptions{
		Label:    "probe",
		Instance: "run-1",
		Interval: 5 * time.Second,
		Clock:    fake,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		announcer.Run(ctx)
		close(done)
	}()

	first := testutil.RequireReceive(t, device.broadcasts, 5*time.Second, "immediate announcement")
	var announcement protocol.Announcement
	if err := announcement.UnmarshalBinary(first); err != nil {
		t.Fatalf("UnmarshalBinary: %v", err)
	}
	want := protocol.Announcement{
		ProtocolVersion: protocol.Version,
		URL:             "tcp://198.51.100.4:11732",
		Label:           "probe",
		Instance:        "run-1",
	}
	if announcement != want {
		t.Errorf("announcement = %+v, want %+v", announcement, want)
	}

	fake.WaitForTimers(1)
	fake.Advance(5 * time.Second)
	testutil.RequireReceive(t, device.broadcasts, 5*time.Second, "announcement after one interval")

	cancel()
	testutil.RequireClosed(t, done, 5*time.Second, "announcer stopping")
}

// failingDevice is a Device whose Broadcast always fails with err.
type failingDevice struct {
	recordingDevice
	err      error
	attempts chan struct{}
}

func (d *failingDevice) Broadcast([]byte) error {
	d.attempts <- struct{}{}
	return fmt.Errorf("broadcast to 255.255.255.255:13325: %w", d.err)
}

func TestAnnouncer_LogLevelFollowsFailure(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want string
	}{
		{"no network", &net.OpError{Op: "write", Net: "udp", Err: syscall.ENETUNREACH}, `"level":"DEBUG"`},
		{"other failure", errors.New("socket closed by peer"), `"level":"WARN"`},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			var logs bytes.Buffer
			device := &failingDevice{err: test.err, attempts: make(chan struct{}, 1)}
			announcer := NewAnnouncer(device, AnnouncerOptions{
				Clock:  clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)),
				Logger: slog.New(slog.NewJSONHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug})),
			})

			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan struct{})
			go func() {
				announcer.Run(ctx)
				close(done)
			}()
			testutil.RequireReceive(t, device.attempts, 5*time.Second, "broadcast attempt")
			cancel()
			testutil.RequireClosed(t, done, 5*time.Second, "announcer stopping")

			if got := logs.String(); !strings.Contains(got, test.want) {
				t.Errorf("log = %s, want a record with %s", got, test.want)
			}
		})
	}
}

func TestRewriteHost(t *testing.T) {
	t.Parallel()

	sender := &net.UDPAddr{IP: net.ParseIP("10.9.8.7"), Port: 5000}
	tests := []struct {
		in, want string
	}{
		{"tcp://0.0.0.0:1234", "tcp://10.9.8.7:1234"},
		{"tcp://example.internal", "tcp://10.9.8.7:11732"},
		{"local:///tmp/x.sock", "local:///tmp/x.sock"},
		{"::not a url", "::not a url"},
	}
	for _, test := range tests {
		if got := rewriteHost(test.in, sender); got != test.want {
			t.Errorf("rewriteHost(%q) = %q, want %q", test.in, got, test.want)
		}
	}
}
