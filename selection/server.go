// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package selection

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/bureau-foundation/modelsync/endpoint"
	"github.com/bureau-foundation/modelsync/lib/clock"
	"github.com/bureau-foundation/modelsync/model"
	"github.com/bureau-foundation/modelsync/protocol"
	"github.com/bureau-foundation/modelsync/remotemodel"
)

// DefaultDebounce is how long the server waits after the last
// structural change before resending the selection.
const DefaultDebounce = 125 * time.Millisecond

// ObjectName returns the name a selection over modelName is
// registered under.
func ObjectName(modelName string) string { return modelName + ".selection" }

// ServerOptions configures a Server.
type ServerOptions struct {
	// Debounce is the quiet period after structural changes. Zero or
	// negative means DefaultDebounce.
	Debounce time.Duration

	// Clock drives the debounce timer. Nil means clock.Real().
	Clock clock.Clock

	Logger *slog.Logger
}

// Server forwards a SelectionModel to the client. Like every handler
// on an endpoint server, its methods must be called with the
// endpoint's dispatch lock held.
type Server struct {
	endpoint  *endpoint.Server
	name      string
	address   protocol.Address
	logger    *slog.Logger
	clock     clock.Clock
	debounce  time.Duration
	selection *model.SelectionModel

	monitored bool
	// applying is set while a client message is applied, so the
	// resulting notifications are not sent back.
	applying         bool
	unsubscribe      []func()
	timer            *clock.Timer
	timerArmed       bool
	removeDisconnect func()
}

// NewServer registers selection as the selection of the model named
// modelName.
func NewServer(server *endpoint.Server, modelName string, selection *model.SelectionModel, options ServerOptions) (*Server, error) {
	if options.Debounce <= 0 {
		options.Debounce = DefaultDebounce
	}
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	logger := options.Logger
	if logger == nil {
		logger = server.Logger()
	}
	name := ObjectName(modelName)
	s := &Server{
		endpoint:  server,
		name:      name,
		logger:    logger.With("selection", name),
		clock:     options.Clock,
		debounce:  options.Debounce,
		selection: selection,
	}
	address, err := server.RegisterObject(name, s, endpoint.ExportNone)
	if err != nil {
		return nil, fmt.Errorf("registering selection %q: %w", name, err)
	}
	s.address = address
	if err := server.RegisterMessageHandler(address, s.handleMessage); err != nil {
		return nil, fmt.Errorf("selection %q: %w", name, err)
	}
	if err := server.RegisterMonitorNotifier(address, s.SelectionMonitored); err != nil {
		return nil, fmt.Errorf("selection %q: %w", name, err)
	}
	s.removeDisconnect = server.OnDisconnect(s.detach)
	return s, nil
}

// Name returns the registered object name.
func (s *Server) Name() string { return s.name }

// Address returns the registered object address.
func (s *Server) Address() protocol.Address { return s.address }

// Selection returns the forwarded selection model.
func (s *Server) Selection() *model.SelectionModel { return s.selection }

// IsConnected reports whether changes are forwarded: a client is
// connected and monitors the selection.
func (s *Server) IsConnected() bool {
	return s.monitored && s.endpoint.IsConnected()
}

// SelectionMonitored starts or stops forwarding. A client that starts
// watching is sent the whole state.
func (s *Server) SelectionMonitored(monitored bool) {
	if s.monitored == monitored {
		return
	}
	s.monitored = monitored
	if !monitored {
		s.detach()
		return
	}
	s.unsubscribe = append(s.unsubscribe,
		s.selection.Subscribe(selectionObserver{s}),
		s.selection.Collection().Subscribe(structureObserver{s: s}),
	)
	s.sendState()
}

// Close stops forwarding and unregisters the selection.
func (s *Server) Close() error {
	s.detach()
	if s.removeDisconnect != nil {
		s.removeDisconnect()
		s.removeDisconnect = nil
	}
	s.endpoint.UnregisterMessageHandler(s.address)
	return s.endpoint.UnregisterObject(s.name)
}

// detach unsubscribes and stops the debounce timer. Runs on
// unmonitor and on disconnect.
func (s *Server) detach() {
	s.monitored = false
	for _, unsubscribe := range s.unsubscribe {
		unsubscribe()
	}
	s.unsubscribe = nil
	s.stopTimer()
}

// scheduleResend (re)starts the debounce timer.
func (s *Server) scheduleResend() {
	if !s.IsConnected() {
		return
	}
	s.timerArmed = true
	if s.timer == nil {
		s.timer = s.clock.AfterFunc(s.debounce, s.debounced)
		return
	}
	s.timer.Reset(s.debounce)
}

func (s *Server) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timerArmed = false
}

// debounced runs on the timer's goroutine.
func (s *Server) debounced() {
	locker := s.endpoint.Locker()
	locker.Lock()
	defer locker.Unlock()
	if !s.timerArmed {
		return
	}
	s.timerArmed = false
	if !s.IsConnected() {
		return
	}
	s.sendSelection(model.ClearAndSelect, toRanges(s.selection.Collection(), s.selection.Selection()), nil)
}

func (s *Server) sendSelection(flags model.SelectionFlags, selected, deselected []Range) {
	payload := protocol.NewPayloadEncoder()
	payload.Uint32(uint32(flags))
	writeRanges(payload, selected)
	writeRanges(payload, deselected)
	s.send(protocol.SelectionModelSelect, payload)
}

func (s *Server) sendCurrent(flags model.SelectionFlags, current model.Index) {
	payload := protocol.NewPayloadEncoder()
	payload.Uint32(uint32(flags))
	payload.Index(remotemodel.PathOf(s.selection.Collection(), current))
	s.send(protocol.SelectionModelCurrent, payload)
}

// sendState sends the whole selection followed by the current cell.
func (s *Server) sendState() {
	s.sendSelection(model.ClearAndSelect, toRanges(s.selection.Collection(), s.selection.Selection()), nil)
	s.sendCurrent(model.Current, s.selection.CurrentIndex())
}

func (s *Server) send(messageType protocol.MessageType, payload *protocol.PayloadEncoder) {
	if err := s.endpoint.Send(protocol.NewMessage(s.address, messageType, payload)); err != nil {
		s.logger.Debug("sending selection update", "message_type", messageType.String(), "error", err)
	}
}

func (s *Server) handleMessage(message protocol.Message) {
	decoder := message.Decoder()
	switch message.Type {
	case protocol.SelectionModelSelect:
		flags := model.SelectionFlags(decoder.Uint32())
		selected := readRanges(decoder)
		deselected := readRanges(decoder)
		if s.malformed(message, decoder) {
			return
		}
		collection := s.selection.Collection()
		s.applying = true
		defer func() { s.applying = false }()
		if flags&model.Clear == 0 && len(deselected) > 0 {
			s.selection.Select(toSelection(collection, deselected), model.Deselect)
		}
		if len(selected) > 0 || flags&model.Clear != 0 {
			s.selection.Select(toSelection(collection, selected), flags)
		}

	case protocol.SelectionModelCurrent:
		flags := model.SelectionFlags(decoder.Uint32())
		path := decoder.Index()
		if s.malformed(message, decoder) {
			return
		}
		index, ok := remotemodel.Resolve(s.selection.Collection(), path)
		if !ok || !index.Valid() {
			s.logger.Debug("current index does not resolve", "index", path.String())
			return
		}
		s.applying = true
		defer func() { s.applying = false }()
		s.selection.SetCurrentIndex(index, flags)

	case protocol.SelectionModelStateRequest:
		s.sendState()

	default:
		s.logger.Debug("unexpected selection message", "message_type", message.Type.String())
	}
}

func (s *Server) malformed(message protocol.Message, decoder *protocol.PayloadDecoder) bool {
	if err := decoder.Err(); err != nil {
		s.logger.Warn("malformed selection message", "message_type", message.Type.String(), "error", err)
		return true
	}
	return false
}

// selectionObserver forwards local selection changes as they happen.
type selectionObserver struct{ s *Server }

func (o selectionObserver) SelectionChanged(selected, deselected model.Selection) {
	s := o.s
	if s.applying || !s.IsConnected() {
		return
	}
	collection := s.selection.Collection()
	s.sendSelection(model.Select, toRanges(collection, selected), toRanges(collection, deselected))
}

func (o selectionObserver) CurrentChanged(current, _ model.Index) {
	s := o.s
	if s.applying || !s.IsConnected() {
		return
	}
	s.sendCurrent(model.Current, current)
}

// structureObserver restarts the debounce timer on every change that
// can move selected cells.
type structureObserver struct {
	model.NopObserver
	s *Server
}

func (o structureObserver) RowsInserted(model.Index, int, int)    { o.s.scheduleResend() }
func (o structureObserver) RowsRemoved(model.Index, int, int)     { o.s.scheduleResend() }
func (o structureObserver) ColumnsInserted(model.Index, int, int) { o.s.scheduleResend() }
func (o structureObserver) ColumnsRemoved(model.Index, int, int)  { o.s.scheduleResend() }
func (o structureObserver) RowsMoved(model.Index, int, int, model.Index, int) {
	o.s.scheduleResend()
}
func (o structureObserver) ColumnsMoved(model.Index, int, int, model.Index, int) {
	o.s.scheduleResend()
}
func (o structureObserver) LayoutChanged([]model.Index, model.LayoutHint) { o.s.scheduleResend() }
func (o structureObserver) ModelReset()                                   { o.s.scheduleResend() }
