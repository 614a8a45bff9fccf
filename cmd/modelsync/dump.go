// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/tree"
	"github.com/spf13/pflag"

	"github.com/bureau-foundation/modelsync/lib/modelview"
	"github.com/bureau-foundation/modelsync/lib/process"
	"github.com/bureau-foundation/modelsync/model"
	"github.com/bureau-foundation/modelsync/protocol"
	"github.com/bureau-foundation/modelsync/remotemodel"
)

// modelSource is the read side of a mirrored model.
type modelSource interface {
	RowCount(path protocol.ModelIndex) int
	ColumnCount(path protocol.ModelIndex) int
	Data(path protocol.ModelIndex, role model.Role) any
	HeaderData(section int, orientation model.Orientation, role model.Role) any
}

var (
	titleStyle      = lipgloss.NewStyle().Bold(true)
	enumeratorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	valueStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
)

func runDump(ctx context.Context, env *environment, args []string) error {
	var (
		connect connectFlags
		name    string
		timeout time.Duration
	)
	flagSet := pflag.NewFlagSet("dump", pflag.ContinueOnError)
	connect.register(flagSet)
	flagSet.StringVar(&name, "model", "", "name of the model object (required)")
	flagSet.DurationVar(&timeout, "timeout", 30*time.Second, "give up if the model is not fully mirrored in time")
	env, err := parse(flagSet, env, args)
	if env == nil || err != nil {
		return err
	}
	if name == "" {
		return process.Usagef("--model is required")
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

	fetchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	started := time.Now()
	if err := mirror.FetchAll(fetchCtx); err != nil {
		return fmt.Errorf("mirroring %s: %w", name, err)
	}
	env.logger.Debug("model mirrored", "model", name, "elapsed", time.Since(started))

	fmt.Fprintln(env.stdout, renderTree(mirror, name))
	return nil
}

// renderTree draws every row of source below a title naming the
// model and its column headers. Each row shows its column values
// separated by two spaces.
func renderTree(source modelSource, title string) string {
	root := tree.Root(titleStyle.Render(title + headerSuffix(source))).
		Enumerator(tree.RoundedEnumerator).
		EnumeratorStyle(enumeratorStyle)
	addRows(root, source, protocol.RootIndex)
	return root.String()
}

func headerSuffix(source modelSource) string {
	columns := source.ColumnCount(protocol.RootIndex)
	if columns == 0 {
		return ""
	}
	headers := make([]string, columns)
	for section := range columns {
		headers[section] = modelview.FormatValue(source.HeaderData(section, model.Horizontal, model.DisplayRole))
	}
	return " [" + strings.Join(headers, ", ") + "]"
}

func addRows(parent *tree.Tree, source modelSource, path protocol.ModelIndex) {
	rows := source.RowCount(path)
	columns := source.ColumnCount(path)
	for row := range rows {
		first := path.Child(int32(row), 0)
		label := rowLabel(source, path, row, columns)
		if source.RowCount(first) == 0 {
			parent.Child(label)
			continue
		}
		child := tree.Root(label)
		addRows(child, source, first)
		parent.Child(child)
	}
}

func rowLabel(source modelSource, path protocol.ModelIndex, row, columns int) string {
	var builder strings.Builder
	builder.WriteString(modelview.FormatValue(source.Data(path.Child(int32(row), 0), model.DisplayRole)))
	for column := 1; column < columns; column++ {
		value := source.Data(path.Child(int32(row), int32(column)), model.DisplayRole)
		if value == nil {
			continue
		}
		builder.WriteString("  ")
		builder.WriteString(valueStyle.Render(modelview.FormatValue(value)))
	}
	return builder.String()
}
