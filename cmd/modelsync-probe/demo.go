// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"os"
	"runtime"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/bureau-foundation/modelsync/broker"
	"github.com/bureau-foundation/modelsync/endpoint"
	"github.com/bureau-foundation/modelsync/lib/clock"
	"github.com/bureau-foundation/modelsync/model"
)

const (
	// maxTickRows bounds the tick log; the oldest row is dropped once
	// it is full.
	maxTickRows = 100

	tickInterval    = time.Second
	runtimeInterval = 2 * time.Second
)

// swatch is a solid-color decoration.
type swatch color.NRGBA

func (s swatch) Image(size int) image.Image {
	picture := image.NewNRGBA(image.Rect(0, 0, size, size))
	for y := range size {
		for x := range size {
			picture.SetNRGBA(x, y, color.NRGBA(s))
		}
	}
	return picture
}

var (
	evenSwatch = swatch{R: 0x2e, G: 0x8b, B: 0x57, A: 0xff}
	oddSwatch  = swatch{R: 0x46, G: 0x82, B: 0xb4, A: 0xff}
)

// Signal indexes of counter.
const (
	signalTicked = iota
	signalReset
)

// counter is the demo object: it counts ticks, emits a signal per
// tick and exposes its state as properties.
type counter struct {
	endpoint.SignalTable

	mu        sync.Mutex
	count     int64
	label     string
	observers []*propertyObserver
}

type propertyObserver struct {
	fn func(name string, value any)
}

func (c *counter) Describe() endpoint.Description {
	return endpoint.Description{
		Signals:    []string{"ticked(int64)", "reset()"},
		Properties: []string{"count", "label"},
		Methods:    []string{"reset", "setLabel"},
	}
}

func (c *counter) Properties() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return map[string]any{"count": c.count, "label": c.label}
}

func (c *counter) NotifyPropertyChanges(fn func(name string, value any)) func() {
	entry := &propertyObserver{fn: fn}
	c.mu.Lock()
	c.observers = append(c.observers, entry)
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.observers = slices.DeleteFunc(c.observers, func(candidate *propertyObserver) bool { return candidate == entry })
	}
}

func (c *counter) changed(name string, value any) {
	c.mu.Lock()
	observers := slices.Clone(c.observers)
	c.mu.Unlock()
	for _, observer := range observers {
		observer.fn(name, value)
	}
}

func (c *counter) tick() int64 {
	c.mu.Lock()
	c.count++
	count := c.count
	c.mu.Unlock()
	c.Emit(signalTicked, count)
	c.changed("count", count)
	return count
}

func (c *counter) Invoke(method string, args []any) error {
	switch method {
	case "reset":
		c.mu.Lock()
		c.count = 0
		c.mu.Unlock()
		c.Emit(signalReset)
		c.changed("count", int64(0))
		return nil
	case "setLabel":
		if len(args) != 1 {
			return fmt.Errorf("setLabel takes 1 argument, got %d", len(args))
		}
		label, ok := args[0].(string)
		if !ok {
			return fmt.Errorf("setLabel argument is %T, want string", args[0])
		}
		c.mu.Lock()
		c.label = label
		c.mu.Unlock()
		c.changed("label", label)
		return nil
	}
	return fmt.Errorf("unknown method %q", method)
}

// demo publishes the sample content and keeps it changing.
type demo struct {
	locker  sync.Locker
	clock   clock.Clock
	logger  *slog.Logger
	ticks   *model.Tree
	stats   *model.Tree
	counter *counter
}

// newDemo registers the sample collections and the counter object.
func newDemo(b *broker.Broker, logger *slog.Logger) (*demo, error) {
	d := &demo{
		locker:  b.Server().Locker(),
		clock:   clock.Real(),
		logger:  logger,
		ticks:   model.NewTree("time", "message"),
		counter: &counter{label: "demo"},
	}

	environment := environmentTree()
	if _, err := b.RegisterModel("environment", environment); err != nil {
		return nil, err
	}
	if _, err := b.RegisterModel("ticks", d.ticks); err != nil {
		return nil, err
	}
	b.SetModelFactory(func(name string) model.Collection {
		if name != "runtime" {
			return nil
		}
		d.stats = runtimeTree()
		return d.stats
	})
	if _, ok := b.Model("runtime"); !ok {
		return nil, fmt.Errorf("runtime model not created")
	}

	b.SetSelectionFactory(model.NewSelectionModel)
	for _, collection := range []model.Collection{environment, d.ticks} {
		if _, ok := b.SelectionModel(collection); !ok {
			return nil, fmt.Errorf("selection model not created")
		}
	}

	if _, err := b.RegisterObject("counter", d.counter, endpoint.ExportBoth); err != nil {
		return nil, err
	}
	return d, nil
}

// environmentTree lists the process environment, grouped by the
// variable name's prefix up to the first underscore. Values are
// editable.
func environmentTree() *model.Tree {
	tree := model.NewTree("name", "value")
	groups := make(map[string]model.Index)
	variables := os.Environ()
	slices.Sort(variables)
	for _, variable := range variables {
		name, value, _ := strings.Cut(variable, "=")
		prefix, _, found := strings.Cut(name, "_")
		parent := model.Index{}
		if found {
			group, ok := groups[prefix]
			if !ok {
				group = tree.AppendRow(model.Index{}, prefix)
				groups[prefix] = group
			}
			parent = group
		}
		row := tree.AppendRow(parent, name, value)
		valueIndex := tree.Index(row.Row(), 1, parent)
		tree.SetFlags(valueIndex, tree.Flags(valueIndex)|model.ItemIsEditable)
	}
	return tree
}

// runtimeTree holds Go runtime statistics, refreshed in place.
func runtimeTree() *model.Tree {
	tree := model.NewTree("statistic", "value")
	memory := tree.AppendRow(model.Index{}, "memory")
	for _, name := range []string{"heap_alloc", "heap_objects", "num_gc"} {
		tree.AppendRow(memory, name, uint64(0))
	}
	scheduler := tree.AppendRow(model.Index{}, "scheduler")
	for _, name := range []string{"goroutines", "gomaxprocs"} {
		tree.AppendRow(scheduler, name, int64(0))
	}
	return tree
}

// run keeps the demo content changing until ctx is done.
func (d *demo) run(ctx context.Context) {
	ticks := d.clock.NewTicker(tickInterval)
	defer ticks.Stop()
	refresh := d.clock.NewTicker(runtimeInterval)
	defer refresh.Stop()
	d.refreshRuntime()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticks.C:
			count := d.counter.tick()
			d.appendTick(now, count)
		case <-refresh.C:
			d.refreshRuntime()
		}
	}
}

func (d *demo) appendTick(now time.Time, count int64) {
	d.locker.Lock()
	defer d.locker.Unlock()
	decoration := evenSwatch
	if count%2 != 0 {
		decoration = oddSwatch
	}
	d.ticks.InsertRowData(model.Index{}, d.ticks.RowCount(model.Index{}), []map[model.Role]any{
		{model.DisplayRole: now.Format(time.TimeOnly), model.DecorationRole: decoration},
		{model.DisplayRole: fmt.Sprintf("tick %d", count)},
	})
	if excess := d.ticks.RowCount(model.Index{}) - maxTickRows; excess > 0 {
		d.ticks.RemoveRows(model.Index{}, 0, excess)
	}
}

func (d *demo) refreshRuntime() {
	if d.stats == nil {
		return
	}
	var memory runtime.MemStats
	runtime.ReadMemStats(&memory)
	values := map[string]any{
		"heap_alloc":   memory.HeapAlloc,
		"heap_objects": memory.HeapObjects,
		"num_gc":       uint64(memory.NumGC),
		"goroutines":   int64(runtime.NumGoroutine()),
		"gomaxprocs":   int64(runtime.GOMAXPROCS(0)),
	}

	d.locker.Lock()
	defer d.locker.Unlock()
	for group := range d.stats.RowCount(model.Index{}) {
		parent := d.stats.Index(group, 0, model.Index{})
		for row := range d.stats.RowCount(parent) {
			name, _ := d.stats.Data(d.stats.Index(row, 0, parent), model.DisplayRole).(string)
			value, ok := values[name]
			if !ok {
				continue
			}
			if !d.stats.Set(d.stats.Index(row, 1, parent), value, model.DisplayRole) {
				d.logger.Debug("runtime statistic vanished", "statistic", name)
			}
		}
	}
}
