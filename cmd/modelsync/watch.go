// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/modelsync/lib/process"
	"github.com/bureau-foundation/modelsync/protocol"
	"github.com/bureau-foundation/modelsync/remotemodel"
	"github.com/bureau-foundation/modelsync/selection"
)

func runWatch(ctx context.Context, env *environment, args []string) error {
	var (
		connect       connectFlags
		name          string
		duration      time.Duration
		withSelection bool
	)
	flagSet := pflag.NewFlagSet("watch", pflag.ContinueOnError)
	connect.register(flagSet)
	flagSet.StringVar(&name, "model", "", "name of the model object (required)")
	flagSet.DurationVar(&duration, "duration", 0, "stop after this long (default: until interrupted)")
	flagSet.BoolVar(&withSelection, "selection", false, "also follow the model's selection")
	env, err := parse(flagSet, env, args)
	if env == nil || err != nil {
		return err
	}
	if name == "" {
		return process.Usagef("--model is required")
	}
	if duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	client, err := connect.dial(ctx, env)
	if err != nil {
		return err
	}
	defer client.Close()

	mirror, err := remotemodel.NewClient(client, name, remotemodel.ClientOptions{Logger: env.logger})
	if err != nil {
		return err
	}
	defer mirror.Close()
	mirror.Subscribe(func(change remotemodel.Change) {
		env.logger.Info("model changed", changeAttributes(change)...)
	})
	if err := mirror.FetchAll(ctx); err != nil {
		return fmt.Errorf("mirroring %s: %w", name, err)
	}
	env.logger.Info("watching", "model", name, "rows", mirror.RowCount(protocol.RootIndex))

	if withSelection {
		selectionMirror, err := selection.NewClient(client, mirror, selection.ClientOptions{Logger: env.logger})
		if err != nil {
			return err
		}
		defer selectionMirror.Close()
		selectionMirror.Subscribe(func(event selection.Event) {
			env.logger.Info("selection changed", selectionAttributes(event)...)
		})
	}

	select {
	case <-ctx.Done():
		return nil
	case <-client.Done():
		if err := client.Err(); err != nil {
			return fmt.Errorf("connection lost: %w", err)
		}
		return nil
	}
}

// changeAttributes returns the log attributes that describe change,
// leaving out the fields its type does not use.
func changeAttributes(change remotemodel.Change) []any {
	attributes := []any{slog.String("type", change.Type.String())}
	switch change.Type {
	case protocol.ModelRowsAdded, protocol.ModelRowsRemoved, protocol.ModelColumnsAdded, protocol.ModelColumnsRemoved:
		attributes = append(attributes,
			slog.String("parent", change.Parent.String()),
			slog.Int("first", change.First),
			slog.Int("last", change.Last))
	case protocol.ModelRowsMoved, protocol.ModelColumnsMoved:
		attributes = append(attributes,
			slog.String("parent", change.Parent.String()),
			slog.Int("first", change.First),
			slog.Int("last", change.Last),
			slog.String("destination", change.Destination.String()),
			slog.Int("destination_index", change.DestinationIndex))
	case protocol.ModelContentChanged:
		attributes = append(attributes,
			slog.String("top_left", change.Parent.String()),
			slog.String("bottom_right", change.BottomRight.String()),
			slog.Any("roles", change.Roles))
	case protocol.ModelHeaderChanged:
		attributes = append(attributes,
			slog.String("orientation", change.Orientation.String()),
			slog.Int("first", change.First),
			slog.Int("last", change.Last))
	}
	return attributes
}

func selectionAttributes(event selection.Event) []any {
	attributes := []any{slog.String("type", event.Type.String())}
	if event.Type == protocol.SelectionModelCurrent {
		return append(attributes,
			slog.String("current", event.Current.String()),
			slog.String("previous", event.Previous.String()))
	}
	return append(attributes,
		slog.Any("selected", pathStrings(event.Selected)),
		slog.Any("deselected", pathStrings(event.Deselected)))
}

func pathStrings(paths []protocol.ModelIndex) []string {
	out := make([]string, len(paths))
	for i, path := range paths {
		out[i] = path.String()
	}
	return out
}
