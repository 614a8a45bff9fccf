// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/modelsync/protocol"
	"github.com/bureau-foundation/modelsync/transport"
)

func runDiscover(ctx context.Context, env *environment, args []string) error {
	var (
		duration time.Duration
		port     int
	)
	flagSet := pflag.NewFlagSet("discover", pflag.ContinueOnError)
	flagSet.DurationVar(&duration, "duration", 6*time.Second, "how long to listen; probes announce every few seconds")
	flagSet.IntVar(&port, "port", 0, "UDP port to listen on (default: broadcast.port from the config)")
	env, err := parse(flagSet, env, args)
	if env == nil || err != nil {
		return err
	}
	if port == 0 {
		port = env.config.Broadcast.Port
	}

	listener, err := transport.ListenDiscovery(ctx, transport.DiscoveryOptions{Port: port, Logger: env.logger})
	if err != nil {
		return err
	}
	defer listener.Close()

	ctx, cancel := context.WithTimeout(ctx, duration)
	defer cancel()
	env.logger.Debug("listening for announcements", "address", listener.Addr().String(), "duration", duration)
	if err := listener.Run(ctx); err != nil {
		return err
	}
	printServers(env.stdout, listener.Servers())
	return nil
}

// printServers writes one line per discovered server.
func printServers(w io.Writer, servers []transport.DiscoveredServer) {
	if len(servers) == 0 {
		fmt.Fprintln(w, "no probes found")
		return
	}
	for _, server := range servers {
		compatible := ""
		if server.ProtocolVersion != protocol.Version {
			compatible = fmt.Sprintf("  (protocol %d, incompatible)", server.ProtocolVersion)
		}
		fmt.Fprintf(w, "%-32s %-24s %s%s\n", server.URL, server.Label, server.Instance, compatible)
	}
}
