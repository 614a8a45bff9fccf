// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"log/slog"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/pflag"

	"github.com/bureau-foundation/modelsync/endpoint"
	"github.com/bureau-foundation/modelsync/lib/modelview"
	"github.com/bureau-foundation/modelsync/lib/process"
	"github.com/bureau-foundation/modelsync/remotemodel"
	"github.com/bureau-foundation/modelsync/selection"
)

func runView(ctx context.Context, env *environment, args []string) error {
	var (
		connect connectFlags
		name    string
	)
	flagSet := pflag.NewFlagSet("view", pflag.ContinueOnError)
	connect.register(flagSet)
	flagSet.StringVar(&name, "model", "", "name of the model object (required)")
	env, err := parse(flagSet, env, args)
	if env == nil || err != nil {
		return err
	}
	if name == "" {
		return process.Usagef("--model is required")
	}

	// The terminal belongs to the browser once it starts, so records
	// go to its status bar.
	level, err := process.ParseLevel(env.config.LogLevel)
	if err != nil {
		return err
	}
	handler := modelview.NewLogHandler(max(level, slog.LevelInfo))
	env.logger = slog.New(handler)

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

	changes := make(chan struct{}, 1)
	notify := func() {
		select {
		case changes <- struct{}{}:
		default:
		}
	}
	mirror.Subscribe(func(remotemodel.Change) { notify() })

	options := modelview.Options{Title: name, Changes: changes}
	selectionMirror, err := selection.NewClient(client, mirror, selection.ClientOptions{Logger: env.logger})
	switch {
	case err == nil:
		defer selectionMirror.Close()
		selectionMirror.Subscribe(func(selection.Event) { notify() })
		options.Selector = selectionMirror
	case errors.Is(err, endpoint.ErrUnknownObject):
		// Models without a selection model are browsed read-only.
	default:
		return err
	}

	program := tea.NewProgram(modelview.New(mirror, options), tea.WithAltScreen(), tea.WithContext(ctx))
	handler.SetProgram(program)
	go func() {
		select {
		case <-client.Done():
			env.logger.Error("connection lost", "error", client.Err())
		case <-ctx.Done():
		}
	}()
	if _, err := program.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return err
	}
	return nil
}
