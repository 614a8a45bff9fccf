// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bureau-foundation/modelsync/lib/testutil"
)

func TestNewDevice_Scheme(t *testing.T) {
	t.Parallel()

	tests := []struct {
		url     string
		want    string
		wantErr error
	}{
		{url: "tcp://127.0.0.1:0", want: "tcp"},
		{url: "tcp://0.0.0.0", want: "tcp"},
		{url: "local:///tmp/modelsync.sock", want: "local"},
		{url: "http://127.0.0.1:80", wantErr: ErrUnsupportedScheme},
		{url: "udp://127.0.0.1:9", wantErr: ErrUnsupportedScheme},
	}
	for _, test := range tests {
		t.Run(test.url, func(t *testing.T) {
			device, err := NewDevice(test.url, Options{})
			if test.wantErr != nil {
				if !errors.Is(err, test.wantErr) {
					t.Fatalf("NewDevice(%q) error = %v, want %v", test.url, err, test.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewDevice(%q): %v", test.url, err)
			}
			var got string
			switch device.(type) {
			case *TCPDevice:
				got = "tcp"
			case *LocalDevice:
				got = "local"
			}
			if got != test.want {
				t.Errorf("NewDevice(%q) = %T, want %s device", test.url, device, test.want)
			}
		})
	}
}

func TestNewDevice_InvalidPort(t *testing.T) {
	t.Parallel()
	if _, err := NewDevice("tcp://127.0.0.1:99999", Options{}); err == nil {
		t.Fatal("NewDevice accepted port 99999")
	}
}

func TestLocalURLWithoutPath(t *testing.T) {
	t.Parallel()
	if _, err := NewDevice("local://", Options{}); err == nil {
		t.Fatal("NewDevice accepted a local URL without a path")
	}
}

// roundTrip dials device, accepts the connection, and checks that bytes
// flow in both directions.
func roundTrip(t *testing.T, device Device) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := device.Accept()
		if err != nil {
			close(accepted)
			return
		}
		accepted <- conn
	}()

	client, err := Dial(ctx, device.ExternalURL().String())
	if err != nil {
		t.Fatalf("Dial(%s): %v", device.ExternalURL(), err)
	}
	defer client.Close()

	server := testutil.RequireReceive(t, accepted, 5*time.Second, "accepting connection")
	defer server.Close()

	if _, err := client.Write([]byte("ping")); err != nil {
		t.Fatalf("client write: %v", err)
	}
	buffer := make([]byte, 4)
	if _, err := io.ReadFull(server, buffer); err != nil {
		t.Fatalf("server read: %v", err)
	}
	if string(buffer) != "ping" {
		t.Errorf("server read %q, want %q", buffer, "ping")
	}
}

func TestTCPDevice_Loopback(t *testing.T) {
	t.Parallel()

	device, err := NewDevice("tcp://127.0.0.1:0", Options{})
	if err != nil {
		t.Fatalf("NewDevice: %v", err)
	}
	if err := device.Listen(); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer device.Close()

	tcp := device.(*TCPDevice)
	if tcp.BroadcastEnabled() {
		t.Error("broadcast enabled on a loopback bind")
	}
	external := device.ExternalURL()
	if external.Hostname() != "127.0.0.1" {
		t.Errorf("ExternalURL host = %q, want 127.0.0.1", external.Hostname())
	}
	if external.Port() == "0" || external.Port() == "" {
		t.Errorf("ExternalURL port = %q, want the bound port", external.Port())
	}
	// Broadcast without a socket is a silent no-op.
	if err := device.Broadcast([]byte("announce")); err != nil {
		t.Errorf("Broadcast on loopback device: %v", err)
	}
	if device.ErrorString() != "" {
		t.Errorf("ErrorString = %q after successful Listen", device.ErrorString())
	}

	roundTrip(t, device)
}

func TestTCPDevice_ListenFailure(t *testing.T) {
	t.Parallel()

	occupied, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}
	defer occupied.Close()

	device, err := NewDevice("tcp://"+occupied.Addr().String(), Options{})
	if err != nil {
		t.Fatalf("NewDevice: %v", err)
	}
	if err := device.Listen(); err == nil {
		device.Close()
		t.Fatal("Listen succeeded on an occupied port")
	}
	if device.ErrorString() == "" {
		t.Error("ErrorString is empty after a failed Listen")
	}
}

func TestTCPDevice_AcceptAfterClose(t *testing.T) {
	t.Parallel()

	device, err := NewDevice("tcp://127.0.0.1:0", Options{})
	if err != nil {
		t.Fatalf("NewDevice: %v", err)
	}
	if err := device.Listen(); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	if err := device.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := device.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if _, err := device.Accept(); !errors.Is(err, net.ErrClosed) {
		t.Errorf("Accept after Close error = %v, want net.ErrClosed", err)
	}
	if device.ErrorString() != "" {
		t.Errorf("ErrorString = %q, closing is not an error", device.ErrorString())
	}
}

func TestLocalDevice_StaleSocket(t *testing.T) {
	t.Parallel()

	path := filepath.Join(testutil.SocketDir(t), "probe.sock")
	if err := os.WriteFile(path, []byte("stale"), 0o600); err != nil {
		t.Fatalf("writing stale file: %v", err)
	}

	device, err := NewDevice("local://"+path, Options{})
	if err != nil {
		t.Fatalf("NewDevice: %v", err)
	}
	if err := device.Listen(); err != nil {
		t.Fatalf("Listen over stale file: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat socket: %v", err)
	}
	if info.Mode()&os.ModeSocket == 0 {
		t.Errorf("%s mode = %v, want a socket", path, info.Mode())
	}
	if perm := info.Mode().Perm(); perm != 0o777 {
		t.Errorf("socket permissions = %o, want 777", perm)
	}
	if got := device.ExternalURL().String(); got != "local://"+path {
		t.Errorf("ExternalURL = %q, want %q", got, "local://"+path)
	}

	roundTrip(t, device)

	if err := device.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("socket still present after Close (stat error %v)", err)
	}
}

func TestSelectExternalAddress(t *testing.T) {
	t.Parallel()

	ipnet := func(s string) net.Addr {
		ip, network, err := net.ParseCIDR(s)
		if err != nil {
			t.Fatalf("ParseCIDR(%q): %v", s, err)
		}
		network.IP = ip
		return network
	}
	up := net.FlagUp | net.FlagBroadcast
	loopbackInterface := interfaceAddresses{
		flags:     net.FlagUp | net.FlagLoopback,
		addresses: []net.Addr{ipnet("127.0.0.1/8"), ipnet("::1/128")},
	}

	tests := []struct {
		name       string
		candidates []interfaceAddresses
		ipv6       bool
		want       string
	}{
		{
			name:       "only loopback falls back",
			candidates: []interfaceAddresses{loopbackInterface},
			want:       "127.0.0.1",
		},
		{
			name:       "only loopback falls back ipv6",
			candidates: []interfaceAddresses{loopbackInterface},
			ipv6:       true,
			want:       "::1",
		},
		{
			name: "first up ipv4",
			candidates: []interfaceAddresses{
				loopbackInterface,
				{flags: 0, addresses: []net.Addr{ipnet("10.0.0.5/24")}},
				{flags: up, addresses: []net.Addr{ipnet("fe80::1/64"), ipnet("192.168.1.20/24")}},
			},
			want: "192.168.1.20",
		},
		{
			name: "ipv6 skips link local",
			candidates: []interfaceAddresses{
				{flags: up, addresses: []net.Addr{ipnet("192.168.1.20/24"), ipnet("fe80::1/64"), ipnet("2001:db8::7/64")}},
			},
			ipv6: true,
			want: "2001:db8::7",
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got := selectExternalAddress(test.candidates, test.ipv6)
			if !got.Equal(net.ParseIP(test.want)) {
				t.Errorf("selectExternalAddress = %v, want %s", got, test.want)
			}
		})
	}
}
