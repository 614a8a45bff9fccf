// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package remotemodel

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bureau-foundation/modelsync/endpoint"
	"github.com/bureau-foundation/modelsync/lib/testutil"
	"github.com/bureau-foundation/modelsync/model"
	"github.com/bureau-foundation/modelsync/protocol"
)

const testTimeout = 5 * time.Second

// harness is a probe serving one tree under the name "tree", with a
// connected endpoint client.
type harness struct {
	t      *testing.T
	server *endpoint.Server
	tree   *model.Tree
	model  *Server
	client *endpoint.Client
	served chan struct{}
}

func newHarness(t *testing.T, tree *model.Tree, options ServerOptions) *harness {
	t.Helper()
	server := endpoint.NewServer(endpoint.ServerOptions{Label: "test"})
	remote, err := NewServer(server, "tree", options)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	h := &harness{t: t, server: server, tree: tree, model: remote, served: make(chan struct{})}
	h.locked(func() { remote.SetModel(tree) })

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
	return h
}

// locked runs fn holding the server's dispatch lock, as probe code
// mutating a served collection must.
func (h *harness) locked(fn func()) {
	locker := h.server.Locker()
	locker.Lock()
	defer locker.Unlock()
	fn()
}

// disconnect closes the client and waits for the server to notice.
func (h *harness) disconnect() {
	h.client.Close()
	testutil.RequireClosed(h.t, h.served, testTimeout, "ServeConn returning")
}

func (h *harness) mirror(options ClientOptions) *Client {
	h.t.Helper()
	if options.BatchInterval == 0 {
		options.BatchInterval = -1
	}
	mirror, err := NewClient(h.client, "tree", options)
	if err != nil {
		h.t.Fatalf("NewClient: %v", err)
	}
	h.t.Cleanup(func() { mirror.Close() })
	h.checkpoint(mirror)
	return mirror
}

func (h *harness) checkpoint(mirror *Client) {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	if err := mirror.Checkpoint(ctx); err != nil {
		h.t.Fatalf("Checkpoint: %v", err)
	}
}

func (h *harness) fetchAll(mirror *Client) {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	if err := mirror.FetchAll(ctx); err != nil {
		h.t.Fatalf("FetchAll: %v", err)
	}
}

// wire speaks the model protocol directly, for tests that assert on
// individual messages.
type wire struct {
	t        *testing.T
	client   *endpoint.Client
	address  protocol.Address
	messages chan protocol.Message
	barrier  uint32
}

func (h *harness) wire() *wire {
	h.t.Helper()
	w := &wire{
		t:        h.t,
		client:   h.client,
		address:  h.client.ObjectAddress("tree"),
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
	w.t.Helper()
	if err := w.client.Send(protocol.NewMessage(w.address, messageType, payload)); err != nil {
		w.t.Fatalf("sending %s: %v", messageType, err)
	}
}

func (w *wire) next() protocol.Message {
	w.t.Helper()
	return testutil.RequireReceive(w.t, w.messages, testTimeout, "model message")
}

func (w *wire) expect(messageType protocol.MessageType) *protocol.PayloadDecoder {
	w.t.Helper()
	message := w.next()
	if message.Type != messageType {
		w.t.Fatalf("received %s, want %s", message.Type, messageType)
	}
	return message.Decoder()
}

// monitor starts watching the model and consumes the reset that
// follows.
func (w *wire) monitor(monitored bool) {
	w.t.Helper()
	if err := w.client.MonitorObject(w.address, monitored); err != nil {
		w.t.Fatalf("MonitorObject: %v", err)
	}
	if monitored {
		w.expect(protocol.ModelReset)
	}
}

// sync sends a barrier and returns every message received before its
// echo.
func (w *wire) sync() []protocol.Message {
	w.t.Helper()
	w.barrier++
	payload := protocol.NewPayloadEncoder()
	payload.Uint32(w.barrier)
	w.send(protocol.ModelSyncBarrier, payload)
	var before []protocol.Message
	for {
		message := w.next()
		if message.Type == protocol.ModelSyncBarrier {
			if got := message.Decoder().Uint32(); got != w.barrier {
				w.t.Fatalf("barrier echo %d, want %d", got, w.barrier)
			}
			return before
		}
		before = append(before, message)
	}
}

type counts struct {
	path          string
	rows, columns int32
}

// requestCounts sends one count request and decodes the reply.
func (w *wire) requestCounts(paths ...protocol.ModelIndex) []counts {
	w.t.Helper()
	payload := protocol.NewPayloadEncoder()
	payload.Indexes(paths)
	w.send(protocol.ModelRowColumnCountRequest, payload)
	decoder := w.expect(protocol.ModelRowColumnCountReply)
	var out []counts
	for range decoder.Count(12) {
		path := decoder.Index()
		out = append(out, counts{path: path.String(), rows: decoder.Int32(), columns: decoder.Int32()})
	}
	if err := decoder.Err(); err != nil {
		w.t.Fatalf("decoding count reply: %v", err)
	}
	return out
}

type content struct {
	path  string
	data  map[int]any
	flags uint32
}

func (w *wire) requestContent(paths ...protocol.ModelIndex) []content {
	w.t.Helper()
	payload := protocol.NewPayloadEncoder()
	payload.Indexes(paths)
	w.send(protocol.ModelContentRequest, payload)
	decoder := w.expect(protocol.ModelContentReply)
	var out []content
	for range decoder.Count(12) {
		entry := content{path: decoder.Index().String()}
		decoder.ValueInto(&entry.data)
		entry.flags = decoder.Uint32()
		out = append(out, entry)
	}
	if err := decoder.Err(); err != nil {
		w.t.Fatalf("decoding content reply: %v", err)
	}
	return out
}

func path(steps ...int32) protocol.ModelIndex {
	var index protocol.ModelIndex
	for i := 0; i+1 < len(steps); i += 2 {
		index = index.Child(steps[i], steps[i+1])
	}
	return index
}

// countLine omits the column count of leaves: column changes are only
// announced for parents, so a mirror may keep a stale count for a row
// without children.
func countLine(at protocol.ModelIndex, rows, columns int) string {
	if rows == 0 {
		return fmt.Sprintf("%s rows=0", at)
	}
	return fmt.Sprintf("%s rows=%d columns=%d", at, rows, columns)
}

// treeLines describes every count, display value and flag of tree.
func treeLines(tree *model.Tree) []string {
	var lines []string
	var walk func(parent model.Index, at protocol.ModelIndex)
	walk = func(parent model.Index, at protocol.ModelIndex) {
		rows, columns := tree.RowCount(parent), tree.ColumnCount(parent)
		lines = append(lines, countLine(at, rows, columns))
		for row := range rows {
			for column := range columns {
				index := tree.Index(row, column, parent)
				lines = append(lines, fmt.Sprintf("%s = %v flags=%d",
					at.Child(int32(row), int32(column)), tree.Data(index, model.DisplayRole), tree.Flags(index)))
			}
			walk(tree.Index(row, 0, parent), at.Child(int32(row), 0))
		}
	}
	walk(model.Index{}, nil)
	return lines
}

// mirrorLines describes a fully fetched mirror the same way.
func mirrorLines(mirror *Client) []string {
	var lines []string
	var walk func(at protocol.ModelIndex)
	walk = func(at protocol.ModelIndex) {
		rows, columns := mirror.RowCount(at), mirror.ColumnCount(at)
		lines = append(lines, countLine(at, rows, columns))
		for row := range rows {
			for column := range columns {
				cell := at.Child(int32(row), int32(column))
				lines = append(lines, fmt.Sprintf("%s = %v flags=%d",
					cell, mirror.Data(cell, model.DisplayRole), mirror.Flags(cell)))
			}
			walk(at.Child(int32(row), 0))
		}
	}
	walk(nil)
	return lines
}

func sampleTree() *model.Tree {
	tree := model.NewTree("name", "value")
	alpha := tree.AppendRow(model.Index{}, "alpha", 1)
	tree.AppendRow(alpha, "alpha.one", 11)
	tree.AppendRow(alpha, "alpha.two", 12)
	tree.AppendRow(model.Index{}, "beta", 2)
	gamma := tree.AppendRow(model.Index{}, "gamma", 3)
	tree.AppendRow(gamma, "gamma.one", 31)
	return tree
}
