// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"slices"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/modelsync/endpoint"
	"github.com/bureau-foundation/modelsync/protocol"
)

// connectFlags are the flags of commands that talk to one probe.
type connectFlags struct {
	url string
}

func (c *connectFlags) register(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&c.url, "url", "tcp://127.0.0.1:11732", "probe URL, tcp://host:port or local://path")
}

func (c *connectFlags) dial(ctx context.Context, env *environment) (*endpoint.Client, error) {
	tag, err := protocol.ParseCompressionTag(env.config.Compression.Algorithm)
	if err != nil {
		return nil, err
	}
	client, err := endpoint.Dial(ctx, c.url, endpoint.ClientOptions{
		Compression: protocol.Compression{Tag: tag, Threshold: env.config.Compression.Threshold},
		Logger:      env.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", c.url, err)
	}
	env.logger.Debug("connected", "url", c.url, "label", client.ServerLabel(), "instance", client.ServerInstance())
	return client, nil
}

func runObjects(ctx context.Context, env *environment, args []string) error {
	var connect connectFlags
	flagSet := pflag.NewFlagSet("objects", pflag.ContinueOnError)
	connect.register(flagSet)
	env, err := parse(flagSet, env, args)
	if env == nil || err != nil {
		return err
	}

	client, err := connect.dial(ctx, env)
	if err != nil {
		return err
	}
	defer client.Close()
	printObjects(env.stdout, client.ServerLabel(), client.Objects())
	return nil
}

// printObjects writes the object table sorted by address.
func printObjects(w io.Writer, label string, objects []endpoint.ObjectInfo) {
	objects = slices.Clone(objects)
	slices.SortFunc(objects, func(a, b endpoint.ObjectInfo) int { return cmp.Compare(a.Address, b.Address) })
	fmt.Fprintf(w, "%s: %d objects\n", label, len(objects))
	for _, object := range objects {
		fmt.Fprintf(w, "%6d  %s\n", object.Address, object.Name)
	}
}
