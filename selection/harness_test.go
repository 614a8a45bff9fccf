// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package selection

import (
	"context"
	"testing"
	"time"

	"github.com/bureau-foundation/modelsync/endpoint"
	"github.com/bureau-foundation/modelsync/lib/clock"
	"github.com/bureau-foundation/modelsync/lib/testutil"
	"github.com/bureau-foundation/modelsync/model"
	"github.com/bureau-foundation/modelsync/protocol"
	"github.com/bureau-foundation/modelsync/remotemodel"
)

const testTimeout = 5 * time.Second

// harness serves a tree as "tree" with its selection as
// "tree.selection". The debounce runs on a fake clock. A model mirror
// is attached so tests can use its barrier to wait for everything the
// server sent earlier.
type harness struct {
	t         *testing.T
	server    *endpoint.Server
	tree      *model.Tree
	selection *model.SelectionModel
	remote    *Server
	clock     *clock.FakeClock
	client    *endpoint.Client
	mirror    *remotemodel.Client
	served    chan struct{}
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	server := endpoint.NewServer(endpoint.ServerOptions{Label: "test"})
	tree := sampleTree()
	selectionModel := model.NewSelectionModel(tree)
	fake := clock.Fake(time.Unix(0, 0))

	models, err := remotemodel.NewServer(server, "tree", remotemodel.ServerOptions{})
	if err != nil {
		t.Fatalf("remotemodel.NewServer: %v", err)
	}
	remote, err := NewServer(server, "tree", selectionModel, ServerOptions{Clock: fake})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	h := &harness{
		t:         t,
		server:    server,
		tree:      tree,
		selection: selectionModel,
		remote:    remote,
		clock:     fake,
		served:    make(chan struct{}),
	}
	h.locked(func() { models.SetModel(tree) })

	serverConn, clientConn := testutil.SocketPair(t)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		server.ServeConn(ctx, serverConn)
		close(h.served)
	}()
	client, err := endpoint.Connect(ctx, clientConn, endpoint.ClientOptions{})
	if err != nil {
		cancel()
		t.Fatalf("Connect: %v", err)
	}
	h.client = client
	t.Cleanup(func() {
		client.Close()
		cancel()
		testutil.RequireClosed(t, h.served, testTimeout, "ServeConn returning")
	})

	mirror, err := remotemodel.NewClient(client, "tree", remotemodel.ClientOptions{BatchInterval: -1})
	if err != nil {
		t.Fatalf("remotemodel.NewClient: %v", err)
	}
	h.mirror = mirror
	h.checkpoint()
	return h
}

func (h *harness) locked(fn func()) {
	locker := h.server.Locker()
	locker.Lock()
	defer locker.Unlock()
	fn()
}

// checkpoint waits until every message the server sent so far has
// been dispatched on the client.
func (h *harness) checkpoint() {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	if err := h.mirror.Checkpoint(ctx); err != nil {
		h.t.Fatalf("Checkpoint: %v", err)
	}
}

func (h *harness) disconnect() {
	h.client.Close()
	testutil.RequireClosed(h.t, h.served, testTimeout, "ServeConn returning")
}

// index returns the server-side index of a path of rows, column 0 at
// every level except the last.
func (h *harness) index(column int, rows ...int) model.Index {
	var index model.Index
	for i, row := range rows {
		c := 0
		if i == len(rows)-1 {
			c = column
		}
		index = h.tree.Index(row, c, index)
	}
	return index
}

// wire receives the raw selection messages.
type wire struct {
	h        *harness
	address  protocol.Address
	messages chan protocol.Message
}

func (h *harness) wire() *wire {
	h.t.Helper()
	w := &wire{
		h:        h,
		address:  h.client.ObjectAddress(ObjectName("tree")),
		messages: make(chan protocol.Message, 256),
	}
	if err := h.client.RegisterMessageHandler(w.address, func(message protocol.Message) {
		w.messages <- message
	}); err != nil {
		h.t.Fatalf("RegisterMessageHandler: %v", err)
	}
	return w
}

func (w *wire) send(messageType protocol.MessageType, payload *protocol.PayloadEncoder) {
	w.h.t.Helper()
	if err := w.h.client.Send(protocol.NewMessage(w.address, messageType, payload)); err != nil {
		w.h.t.Fatalf("sending %s: %v", messageType, err)
	}
}

func (w *wire) monitor(monitored bool) {
	w.h.t.Helper()
	if err := w.h.client.MonitorObject(w.address, monitored); err != nil {
		w.h.t.Fatalf("MonitorObject: %v", err)
	}
}

// drain waits for the server to catch up and returns the selection
// messages received meanwhile.
func (w *wire) drain() []protocol.Message {
	w.h.t.Helper()
	w.h.checkpoint()
	var out []protocol.Message
	for {
		select {
		case message := <-w.messages:
			out = append(out, message)
		default:
			return out
		}
	}
}

// selectMessage is a decoded SelectionModelSelect.
type selectMessage struct {
	flags      model.SelectionFlags
	selected   []string
	deselected []string
}

func decodeSelect(t *testing.T, message protocol.Message) selectMessage {
	t.Helper()
	if message.Type != protocol.SelectionModelSelect {
		t.Fatalf("received %s, want %s", message.Type, protocol.SelectionModelSelect)
	}
	decoder := message.Decoder()
	out := selectMessage{flags: model.SelectionFlags(decoder.Uint32())}
	for _, r := range readRanges(decoder) {
		out.selected = append(out.selected, r.String())
	}
	for _, r := range readRanges(decoder) {
		out.deselected = append(out.deselected, r.String())
	}
	if err := decoder.Err(); err != nil {
		t.Fatalf("decoding select: %v", err)
	}
	return out
}

func decodeCurrent(t *testing.T, message protocol.Message) string {
	t.Helper()
	if message.Type != protocol.SelectionModelCurrent {
		t.Fatalf("received %s, want %s", message.Type, protocol.SelectionModelCurrent)
	}
	decoder := message.Decoder()
	decoder.Uint32()
	current := decoder.Index()
	if err := decoder.Err(); err != nil {
		t.Fatalf("decoding current: %v", err)
	}
	return current.String()
}

func path(steps ...int32) protocol.ModelIndex {
	var index protocol.ModelIndex
	for i := 0; i+1 < len(steps); i += 2 {
		index = index.Child(steps[i], steps[i+1])
	}
	return index
}

func sampleTree() *model.Tree {
	tree := model.NewTree("name", "value")
	alpha := tree.AppendRow(model.Index{}, "alpha", 1)
	tree.AppendRow(alpha, "alpha.one", 11)
	tree.AppendRow(alpha, "alpha.two", 12)
	tree.AppendRow(model.Index{}, "beta", 2)
	tree.AppendRow(model.Index{}, "gamma", 3)
	return tree
}
