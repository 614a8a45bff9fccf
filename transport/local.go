// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/url"
	"os"
	"sync"
)

// LocalDevice listens on a Unix domain socket.
type LocalDevice struct {
	path   string
	url    *url.URL
	logger *slog.Logger

	mu        sync.Mutex
	listener  net.Listener
	errString string
}

func newLocalDevice(u *url.URL, options Options) (*LocalDevice, error) {
	path, err := socketPath(u)
	if err != nil {
		return nil, err
	}
	return &LocalDevice{
		path:   path,
		url:    &url.URL{Scheme: SchemeLocal, Path: path},
		logger: options.logger(),
	}, nil
}

// Path returns the socket path.
func (d *LocalDevice) Path() string { return d.path }

// Listen removes any stale socket file, binds, and opens the socket to
// every local user.
func (d *LocalDevice) Listen() error {
	if err := os.Remove(d.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		d.setError(err)
		return fmt.Errorf("removing stale socket %s: %w", d.path, err)
	}
	listener, err := net.Listen("unix", d.path)
	if err != nil {
		d.setError(err)
		return fmt.Errorf("listen on %s: %w", d.path, err)
	}
	if err := os.Chmod(d.path, 0o777); err != nil {
		listener.Close()
		d.setError(err)
		return fmt.Errorf("chmod socket %s: %w", d.path, err)
	}

	d.mu.Lock()
	d.listener = listener
	d.errString = ""
	d.mu.Unlock()

	d.logger.Info("listening", "url", d.url.String())
	return nil
}

func (d *LocalDevice) Accept() (net.Conn, error) {
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

// Close closes the listener and removes the socket file.
func (d *LocalDevice) Close() error {
	d.mu.Lock()
	listener := d.listener
	d.listener = nil
	d.mu.Unlock()
	if listener == nil {
		return nil
	}
	err := listener.Close()
	if removeErr := os.Remove(d.path); removeErr != nil && !errors.Is(removeErr, fs.ErrNotExist) {
		err = errors.Join(err, removeErr)
	}
	return err
}

func (d *LocalDevice) ErrorString() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.errString
}

func (d *LocalDevice) setError(err error) {
	d.mu.Lock()
	d.errString = err.Error()
	d.mu.Unlock()
}

func (d *LocalDevice) ExternalURL() *url.URL {
	clone := *d.url
	return &clone
}

// Broadcast is a no-op: local sockets are not discoverable.
func (d *LocalDevice) Broadcast([]byte) error { return nil }
