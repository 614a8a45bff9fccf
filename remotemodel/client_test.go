// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package remotemodel

import (
	"context"
	"errors"
	"image"
	"image/color"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/modelsync/endpoint"
	"github.com/bureau-foundation/modelsync/lib/clock"
	"github.com/bureau-foundation/modelsync/lib/testutil"
	"github.com/bureau-foundation/modelsync/model"
	"github.com/bureau-foundation/modelsync/protocol"
)

func (h *harness) requireMirrored(mirror *Client, step string) {
	h.t.Helper()
	// Pushes sent before this point are applied once the checkpoint
	// returns; FetchAll then loads whatever they invalidated.
	h.checkpoint(mirror)
	h.fetchAll(mirror)
	var want []string
	h.locked(func() { want = treeLines(h.tree) })
	got := mirrorLines(mirror)
	if !slices.Equal(got, want) {
		h.t.Fatalf("%s: mirror differs from tree\nmirror:\n  %s\ntree:\n  %s",
			step, strings.Join(got, "\n  "), strings.Join(want, "\n  "))
	}
}

func TestClient_LazyQueries(t *testing.T) {
	h := newHarness(t, sampleTree(), ServerOptions{})
	mirror := h.mirror(ClientOptions{})

	if got := mirror.RowCount(nil); got != 0 {
		t.Fatalf("RowCount before any reply = %d, want 0", got)
	}
	h.checkpoint(mirror)
	if got := mirror.RowCount(nil); got != 3 {
		t.Fatalf("RowCount = %d, want 3", got)
	}
	if got := mirror.ColumnCount(nil); got != 2 {
		t.Fatalf("ColumnCount = %d, want 2", got)
	}

	cell := path(2, 0)
	if mirror.IsLoaded(cell) {
		t.Fatal("cell loaded before it was requested")
	}
	if got := mirror.Data(cell, model.DisplayRole); got != nil {
		t.Fatalf("Data before reply = %v, want nil", got)
	}
	h.checkpoint(mirror)
	if got := mirror.Data(cell, model.DisplayRole); got != "gamma" {
		t.Fatalf("Data = %v, want gamma", got)
	}
	if got := mirror.Flags(cell); got != model.DefaultItemFlags {
		t.Fatalf("Flags = %#x, want %#x", got, model.DefaultItemFlags)
	}
	if got := mirror.RowCount(path(2, 1)); got != 0 {
		t.Fatalf("RowCount below column 1 = %d, want 0", got)
	}
}

func TestClient_MirrorFollowsMutations(t *testing.T) {
	tree := sampleTree()
	h := newHarness(t, tree, ServerOptions{})
	mirror := h.mirror(ClientOptions{})
	h.requireMirrored(mirror, "initial")

	root := model.Index{}
	row := func(rowNumber int, parent model.Index) model.Index { return tree.Index(rowNumber, 0, parent) }
	steps := []struct {
		name   string
		mutate func()
	}{
		{"append row", func() { tree.AppendRow(root, "delta", 4) }},
		{"insert child at front", func() { tree.InsertRow(row(0, root), 0, "alpha.zero", 10) }},
		{"remove rows", func() { tree.RemoveRows(root, 1, 1) }},
		{"change data", func() { tree.Set(tree.Index(0, 1, root), 100, model.DisplayRole) }},
		{"move rows within parent", func() { tree.MoveRows(root, 0, 1, root, 3) }},
		{"move rows across parents", func() { tree.MoveRows(row(2, root), 0, 2, row(1, root), 0) }},
		{"insert columns", func() { tree.InsertColumns(1, 2) }},
		{"set new column", func() { tree.Set(tree.Index(1, 2, root), "fresh", model.DisplayRole) }},
		{"move columns", func() { tree.MoveColumns(0, 1, 4) }},
		{"remove columns", func() { tree.RemoveColumns(0, 2) }},
		{"sort", func() { tree.Sort(1, model.DescendingOrder) }},
		{"reset", func() {
			tree.Reset(func() {
				for _, name := range []string{"one", "two"} {
					parent := tree.AppendRow(root, name, nil)
					tree.AppendRow(parent, name+".child", nil)
				}
			})
		}},
	}
	for _, step := range steps {
		h.locked(step.mutate)
		h.requireMirrored(mirror, step.name)
	}
}

func TestClient_FreshMirrorAfterUnwatchedHistory(t *testing.T) {
	tree := sampleTree()
	h := newHarness(t, tree, ServerOptions{})
	h.locked(func() {
		tree.MoveRows(model.Index{}, 2, 1, model.Index{}, 0)
		tree.AppendRow(tree.Index(1, 0, model.Index{}), "alpha.three", 13)
		tree.InsertColumns(0, 1)
	})
	mirror := h.mirror(ClientOptions{})
	h.requireMirrored(mirror, "mirrored")
}

func TestClient_ReportsChanges(t *testing.T) {
	tree := sampleTree()
	h := newHarness(t, tree, ServerOptions{})
	mirror := h.mirror(ClientOptions{})
	h.requireMirrored(mirror, "mirrored")

	type observed struct {
		change Change
		rows   int
	}
	changes := make(chan observed, 16)
	unsubscribe := mirror.Subscribe(func(change Change) {
		changes <- observed{change, mirror.RowCount(nil)}
	})
	defer unsubscribe()

	h.locked(func() { tree.AppendRow(model.Index{}, "delta", 4) })
	got := testutil.RequireReceive(t, changes, testTimeout, "RowsAdded change")
	if got.change.Type != protocol.ModelRowsAdded || !got.change.Parent.IsRoot() || got.change.First != 3 || got.change.Last != 3 {
		t.Fatalf("change = %+v, want RowsAdded(/, 3, 3)", got.change)
	}
	if got.rows != 4 {
		t.Fatalf("RowCount inside the subscriber = %d, want 4", got.rows)
	}

	h.locked(func() { tree.Set(tree.Index(1, 1, model.Index{}), 20, model.DisplayRole) })
	got = testutil.RequireReceive(t, changes, testTimeout, "ContentChanged change")
	if got.change.Type != protocol.ModelContentChanged || got.change.Parent.String() != "/1,1" ||
		!slices.Equal(got.change.Roles, []model.Role{model.DisplayRole}) {
		t.Fatalf("change = %+v, want ContentChanged(/1,1, [display])", got.change)
	}
	if mirror.IsLoaded(path(1, 1)) {
		t.Fatal("changed cell still reported as loaded")
	}
}

func TestClient_ResetDiscardsEarlierReplies(t *testing.T) {
	tree := sampleTree()
	h := newHarness(t, tree, ServerOptions{})
	mirror := h.mirror(ClientOptions{})

	// The count request reaches the server after the reset, so its
	// reply sits between ModelReset and the echo of the client's reset
	// barrier and must be dropped.
	h.locked(func() {
		mirror.RowCount(nil)
		if err := mirror.Flush(); err != nil {
			t.Fatalf("Flush: %v", err)
		}
		tree.Reset(func() { tree.AppendRow(model.Index{}, "only", nil) })
	})
	h.checkpoint(mirror)

	mirror.mu.Lock()
	rows := mirror.root.rows
	mirror.mu.Unlock()
	if rows != countUnknown {
		t.Fatalf("root rows after reset = %d, want unknown", rows)
	}

	mirror.RowCount(nil)
	h.checkpoint(mirror)
	if got := mirror.RowCount(nil); got != 1 {
		t.Fatalf("RowCount after refetch = %d, want 1", got)
	}
}

func TestClient_Headers(t *testing.T) {
	tree := sampleTree()
	h := newHarness(t, tree, ServerOptions{})
	mirror := h.mirror(ClientOptions{})

	if got := mirror.HeaderData(1, model.Horizontal, model.DisplayRole); got != nil {
		t.Fatalf("header before reply = %v, want nil", got)
	}
	h.checkpoint(mirror)
	if got := mirror.HeaderData(1, model.Horizontal, model.DisplayRole); got != "value" {
		t.Fatalf("header = %v, want value", got)
	}

	h.locked(func() { tree.SetHeaderData(1, model.Horizontal, "amount", model.DisplayRole) })
	h.checkpoint(mirror)
	if got := mirror.HeaderData(1, model.Horizontal, model.DisplayRole); got != nil {
		t.Fatalf("changed header before refetch = %v, want nil", got)
	}
	h.checkpoint(mirror)
	if got := mirror.HeaderData(1, model.Horizontal, model.DisplayRole); got != "amount" {
		t.Fatalf("header after refetch = %v, want amount", got)
	}
}

func TestClient_SetDataAndSort(t *testing.T) {
	tree := sampleTree()
	editable := model.DefaultItemFlags | model.ItemIsEditable
	tree.SetFlags(tree.Index(1, 1, model.Index{}), editable)
	h := newHarness(t, tree, ServerOptions{})
	mirror := h.mirror(ClientOptions{})
	h.requireMirrored(mirror, "mirrored")

	if err := mirror.SetData(path(1, 1), 20, model.EditRole); err != nil {
		t.Fatalf("SetData: %v", err)
	}
	if err := mirror.SetData(path(1, 0), "renamed", model.EditRole); err != nil {
		t.Fatalf("SetData on read-only cell: %v", err)
	}
	h.requireMirrored(mirror, "mirrored")
	if got := mirror.Data(path(1, 1), model.DisplayRole); got != int64(20) {
		t.Fatalf("edited cell = %v, want 20", got)
	}
	if got := mirror.Data(path(1, 0), model.DisplayRole); got != "beta" {
		t.Fatalf("read-only cell = %v, want beta", got)
	}

	if err := mirror.Sort(0, model.DescendingOrder); err != nil {
		t.Fatalf("Sort: %v", err)
	}
	h.requireMirrored(mirror, "mirrored")
	if got := mirror.Data(path(0, 0), model.DisplayRole); got != "gamma" {
		t.Fatalf("first row after sort = %v, want gamma", got)
	}
}

type solidIcon struct{ fill color.NRGBA }

func (i solidIcon) Image(size int) image.Image {
	picture := image.NewNRGBA(image.Rect(0, 0, size*2, size*2))
	for offset := 0; offset < len(picture.Pix); offset += 4 {
		picture.Pix[offset] = i.fill.R
		picture.Pix[offset+1] = i.fill.G
		picture.Pix[offset+2] = i.fill.B
		picture.Pix[offset+3] = i.fill.A
	}
	return picture
}

func TestClient_IconsArriveAsImages(t *testing.T) {
	tree := model.NewTree("name")
	tree.InsertRowData(model.Index{}, 0, []map[model.Role]any{{
		model.DisplayRole:    "with icon",
		model.DecorationRole: solidIcon{color.NRGBA{R: 255, A: 255}},
	}})
	h := newHarness(t, tree, ServerOptions{})
	mirror := h.mirror(ClientOptions{})

	mirror.Data(path(0, 0), model.DecorationRole)
	h.checkpoint(mirror)
	picture, ok := protocol.ImageFromValue(mirror.Data(path(0, 0), model.DecorationRole))
	if !ok {
		t.Fatalf("decoration = %#v, want an image", mirror.Data(path(0, 0), model.DecorationRole))
	}
	if picture.Format != protocol.ImageFormatPNG || picture.Width != IconSize || picture.Height != IconSize {
		t.Fatalf("image = %s %dx%d, want png %dx%d", picture.Format, picture.Width, picture.Height, IconSize, IconSize)
	}
}

func TestClient_BatchTimer(t *testing.T) {
	h := newHarness(t, sampleTree(), ServerOptions{})
	fake := clock.Fake(time.Unix(0, 0))
	mirror := h.mirror(ClientOptions{Clock: fake, BatchInterval: 5 * time.Millisecond})

	replies := make(chan Change, 4)
	mirror.Subscribe(func(change Change) {
		if change.Type == protocol.ModelRowColumnCountReply {
			replies <- change
		}
	})

	mirror.RowCount(nil)
	mirror.ColumnCount(nil)
	if got := fake.PendingCount(); got != 1 {
		t.Fatalf("pending timers = %d, want one batch timer", got)
	}
	select {
	case change := <-replies:
		t.Fatalf("reply %+v before the batch interval elapsed", change)
	case <-time.After(50 * time.Millisecond):
	}

	fake.Advance(5 * time.Millisecond)
	change := testutil.RequireReceive(t, replies, testTimeout, "count reply")
	if !change.Parent.IsRoot() || change.Last != 2 {
		t.Fatalf("count change = %+v, want root with rows 0..2", change)
	}
	if got := mirror.RowCount(nil); got != 3 {
		t.Fatalf("RowCount = %d, want 3", got)
	}
}

func TestNewClient_UnknownModel(t *testing.T) {
	h := newHarness(t, sampleTree(), ServerOptions{})
	if _, err := NewClient(h.client, "missing", ClientOptions{}); !errors.Is(err, endpoint.ErrUnknownObject) {
		t.Fatalf("NewClient(missing) error = %v, want ErrUnknownObject", err)
	}
}

func TestClient_CheckpointAfterClose(t *testing.T) {
	h := newHarness(t, sampleTree(), ServerOptions{})
	mirror := h.mirror(ClientOptions{})
	if err := mirror.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := mirror.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := mirror.Checkpoint(context.Background()); !errors.Is(err, endpoint.ErrNotConnected) {
		t.Fatalf("Checkpoint after Close = %v, want ErrNotConnected", err)
	}
	h.wire().sync()
	h.locked(func() {
		if h.model.IsMonitored() {
			t.Error("server still monitored after the client closed")
		}
	})
}

func TestClient_CheckpointAfterDisconnect(t *testing.T) {
	h := newHarness(t, sampleTree(), ServerOptions{})
	mirror := h.mirror(ClientOptions{})
	h.disconnect()
	if err := mirror.Checkpoint(context.Background()); err == nil {
		t.Fatal("Checkpoint on a disconnected client succeeded")
	}
}
