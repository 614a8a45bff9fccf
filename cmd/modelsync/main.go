// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// modelsync is the client CLI for modelsync probes.
//
//	modelsync discover [--duration 6s]
//	modelsync objects --url tcp://host:11732
//	modelsync dump --url tcp://host:11732 --model environment
//	modelsync watch --url tcp://host:11732 --model ticks [--selection]
//	modelsync view --url tcp://host:11732 --model environment
//
// discover listens for probe announcements. objects prints a probe's
// object table. dump mirrors a whole model and prints it as a tree.
// watch logs every change the probe pushes for a model until
// interrupted. view browses a model in the terminal and makes the
// row under the cursor current in the probe's selection.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/modelsync/lib/config"
	"github.com/bureau-foundation/modelsync/lib/process"
	"github.com/bureau-foundation/modelsync/lib/version"
)

// command is one subcommand.
type command struct {
	name    string
	summary string
	run     func(ctx context.Context, env *environment, args []string) error
}

var commands = []command{
	{"discover", "list probes announcing on the local network", runDiscover},
	{"objects", "print a probe's object table", runObjects},
	{"dump", "mirror a model and print it as a tree", runDump},
	{"watch", "log the changes a probe pushes for a model", runWatch},
	{"view", "browse a model interactively", runView},
}

// environment is what every subcommand gets: configuration, a logger
// and the output stream.
type environment struct {
	config *config.Config
	logger *slog.Logger
	stdout io.Writer
}

// commonFlags are accepted by every subcommand.
type commonFlags struct {
	configPath string
	logLevel   string
}

func (c *commonFlags) register(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&c.configPath, "config", "", "path to a YAML or JSONC config file (default: $"+config.EnvironmentVariable+")")
	flagSet.StringVar(&c.logLevel, "log-level", "", "debug, info, warn or error (overrides the config file)")
}

// load builds the environment once the subcommand parsed its flags.
func (c *commonFlags) load() (*environment, error) {
	var cfg *config.Config
	var err error
	if c.configPath != "" {
		cfg, err = config.LoadFile(c.configPath)
	} else {
		cfg, err = config.Load()
		if errors.Is(err, config.ErrNoConfig) {
			cfg, err = config.Default(), nil
		}
	}
	if err != nil {
		return nil, err
	}
	if c.logLevel != "" {
		cfg.LogLevel = c.logLevel
	}
	level, err := process.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	return &environment{config: cfg, logger: process.NewLogger(level), stdout: os.Stdout}, nil
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		process.Fatal(err)
	}
}

func run(args []string) error {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		printUsage(os.Stderr)
		return nil
	}
	if args[0] == "--version" {
		fmt.Printf("modelsync %s\n", version.Full())
		return nil
	}
	index := slices.IndexFunc(commands, func(c command) bool { return c.name == args[0] })
	if index < 0 {
		printUsage(os.Stderr)
		return process.Usagef("unknown command %q", args[0])
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return commands[index].run(ctx, nil, args[1:])
}

// parse parses a subcommand's flags and loads the environment. A
// nil environment with a nil error means --help was shown.
func parse(flagSet *pflag.FlagSet, env *environment, args []string) (*environment, error) {
	var common commonFlags
	common.register(flagSet)
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil, nil
		}
		return nil, process.Usagef("%v", err)
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		return nil, process.Usagef("unexpected argument: %s", rest[0])
	}
	if env != nil {
		return env, nil
	}
	return common.load()
}

func printUsage(w io.Writer) {
	fmt.Fprintf(w, "modelsync - inspect modelsync probes\n\nUsage:\n  modelsync <command> [flags]\n\nCommands:\n")
	for _, c := range commands {
		fmt.Fprintf(w, "  %-10s %s\n", c.name, c.summary)
	}
	fmt.Fprintf(w, "\nRun 'modelsync <command> --help' for the flags of a command.\n")
}
