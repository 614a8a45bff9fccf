// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bureau-foundation/modelsync/lib/clock"
	"github.com/bureau-foundation/modelsync/lib/netutil"
	"github.com/bureau-foundation/modelsync/protocol"
)

// DefaultAnnounceInterval is how often an Announcer broadcasts when
// no interval is configured.
const DefaultAnnounceInterval = 5 * time.Second

// AnnouncerOptions configures an Announcer.
type AnnouncerOptions struct {
	// Label and Instance are copied into every announcement.
	Label    string
	Instance string

	// Interval between broadcasts. Zero means DefaultAnnounceInterval.
	Interval time.Duration

	// Clock drives the broadcast ticker. Nil means clock.Real().
	Clock clock.Clock

	Logger *slog.Logger
}

// Announcer periodically broadcasts a server's Announcement through
// its Device.
type Announcer struct {
	device   Device
	label    string
	instance string
	interval time.Duration
	clock    clock.Clock
	logger   *slog.Logger
}

// NewAnnouncer returns an Announcer for device. Nothing is sent until
// Run is called.
func NewAnnouncer(device Device, options AnnouncerOptions) *Announcer {
	announcer := &Announcer{
		device:   device,
		label:    options.Label,
		instance: options.Instance,
		interval: options.Interval,
		clock:    options.Clock,
		logger:   options.Logger,
	}
	if announcer.interval <= 0 {
		announcer.interval = DefaultAnnounceInterval
	}
	if announcer.clock == nil {
		announcer.clock = clock.Real()
	}
	if announcer.logger == nil {
		announcer.logger = slog.Default()
	}
	return announcer
}

// Announcement returns the datagram content as of now. The URL is read
// from the device each time so a rebound device is announced
// correctly.
func (a *Announcer) Announcement() protocol.Announcement {
	return protocol.Announcement{
		ProtocolVersion: protocol.Version,
		URL:             a.device.ExternalURL().String(),
		Label:           a.label,
		Instance:        a.instance,
	}
}

// AnnounceOnce encodes and broadcasts a single announcement.
func (a *Announcer) AnnounceOnce() error {
	datagram, err := a.Announcement().MarshalBinary()
	if err != nil {
		return fmt.Errorf("encoding announcement: %w", err)
	}
	return a.device.Broadcast(datagram)
}

// Run announces immediately and then once per interval until ctx is
// done. Send failures are logged and do not stop the loop; a host
// without a usable network logs them at debug level.
func (a *Announcer) Run(ctx context.Context) {
	ticker := a.clock.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		if err := a.AnnounceOnce(); err != nil {
			if netutil.IsUnreachable(err) {
				a.logger.Debug("no network for discovery announcement", "error", err)
			} else {
				a.logger.Warn("discovery announcement failed", "error", err)
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
