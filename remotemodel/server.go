// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package remotemodel

import (
	"fmt"
	"log/slog"

	"github.com/bureau-foundation/modelsync/endpoint"
	"github.com/bureau-foundation/modelsync/model"
	"github.com/bureau-foundation/modelsync/protocol"
)

// State is the binding and monitoring state of a Server.
type State int

const (
	// Unbound: no collection is set.
	Unbound State = iota
	// BoundUnwatched: a collection is set but no client monitors it.
	// The server is not subscribed to the collection.
	BoundUnwatched
	// BoundWatched: a client monitors the collection and receives
	// pushes.
	BoundWatched
)

func (s State) String() string {
	switch s {
	case Unbound:
		return "unbound"
	case BoundUnwatched:
		return "bound-unwatched"
	case BoundWatched:
		return "bound-watched"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// ServerOptions configures a Server.
type ServerOptions struct {
	// Filter decides which item data values are sent. Nil means a
	// fresh NewFilter.
	Filter *Filter

	// IconSize is the edge length of rendered decorations. Zero means
	// IconSize.
	IconSize int

	Logger *slog.Logger
}

// Server serves one collection to the client of an endpoint server.
//
// Methods other than Name and Address must be called with the
// endpoint's dispatch lock held. Inbound requests and monitor changes
// already run under it.
type Server struct {
	endpoint *endpoint.Server
	name     string
	address  protocol.Address
	logger   *slog.Logger
	filter   *Filter
	icons    *iconRenderer

	collection  model.Collection
	unsubscribe func()
	stopWatch   chan struct{}
	monitored   bool

	// moves holds the pre-move parent paths of moves in progress.
	// Moves may nest: an observer can start a move while another is
	// being announced.
	moves []pendingMove

	attachCount int
	detachCount int
}

type pendingMove struct {
	source      protocol.ModelIndex
	destination protocol.ModelIndex
}

// NewServer registers a remote model named name on server. The model
// starts Unbound; call SetModel to serve a collection.
func NewServer(server *endpoint.Server, name string, options ServerOptions) (*Server, error) {
	if options.Filter == nil {
		options.Filter = NewFilter()
	}
	logger := options.Logger
	if logger == nil {
		logger = server.Logger()
	}
	s := &Server{
		endpoint: server,
		name:     name,
		logger:   logger.With("model", name),
		filter:   options.Filter,
		icons:    newIconRenderer(options.IconSize),
	}

	address, err := server.RegisterObject(name, s, endpoint.ExportNone)
	if err != nil {
		return nil, fmt.Errorf("registering model %q: %w", name, err)
	}
	s.address = address
	if err := server.RegisterMessageHandler(address, s.handleMessage); err != nil {
		return nil, fmt.Errorf("registering model %q: %w", name, err)
	}
	if err := server.RegisterMonitorNotifier(address, s.ModelMonitored); err != nil {
		return nil, fmt.Errorf("registering model %q: %w", name, err)
	}
	return s, nil
}

// Name returns the registered name.
func (s *Server) Name() string { return s.name }

// Address returns the registered object address.
func (s *Server) Address() protocol.Address { return s.address }

// Model returns the served collection, or nil when Unbound.
func (s *Server) Model() model.Collection { return s.collection }

// State returns the current state.
func (s *Server) State() State {
	switch {
	case s.collection == nil:
		return Unbound
	case s.monitored:
		return BoundWatched
	default:
		return BoundUnwatched
	}
}

// IsMonitored reports whether a client watches the model.
func (s *Server) IsMonitored() bool { return s.monitored }

// AttachCount returns how many times the server subscribed to a
// collection's notifications.
func (s *Server) AttachCount() int { return s.attachCount }

// DetachCount returns how many times the server unsubscribed.
func (s *Server) DetachCount() int { return s.detachCount }

// SetModel serves collection, replacing the current one. nil unbinds.
// A watching client is sent ModelReset.
func (s *Server) SetModel(collection model.Collection) {
	if s.collection == collection {
		return
	}
	s.disconnectModel()
	s.stopWatching()
	s.discardMoves()
	s.collection = collection
	if collection != nil {
		s.watchDestroyed(collection)
		if s.monitored {
			s.connectModel()
		}
	}
	s.logger.Debug("model bound", "state", s.State().String())
	if s.monitored {
		s.sendReset()
	}
}

// ModelMonitored switches between watched and unwatched. Becoming
// watched subscribes to the collection and sends ModelReset so the
// client resynchronizes; becoming unwatched unsubscribes and discards
// pending moves.
func (s *Server) ModelMonitored(monitored bool) {
	if s.monitored == monitored {
		return
	}
	s.monitored = monitored
	if monitored {
		s.connectModel()
		s.sendReset()
	} else {
		s.disconnectModel()
		s.discardMoves()
	}
	s.logger.Debug("model monitor state", "state", s.State().String())
}

// discardMoves forgets moves in progress. Their pre-move paths belong
// to a collection the server no longer follows.
func (s *Server) discardMoves() {
	if len(s.moves) > 0 {
		s.logger.Warn("discarding moves in progress", "moves", len(s.moves))
	}
	s.moves = nil
}

// Close unbinds the collection and unregisters the model.
func (s *Server) Close() error {
	s.disconnectModel()
	s.stopWatching()
	s.collection = nil
	s.endpoint.UnregisterMessageHandler(s.address)
	return s.endpoint.UnregisterObject(s.name)
}

func (s *Server) connectModel() {
	if s.collection == nil || s.unsubscribe != nil {
		return
	}
	s.unsubscribe = s.collection.Subscribe(observer{s})
	s.attachCount++
}

func (s *Server) disconnectModel() {
	if s.unsubscribe == nil {
		return
	}
	s.unsubscribe()
	s.unsubscribe = nil
	s.detachCount++
}

// watchDestroyed unbinds collection when it is destroyed, if it is
// still the served one then.
func (s *Server) watchDestroyed(collection model.Collection) {
	destroyable, ok := collection.(model.Destroyable)
	if !ok {
		return
	}
	stop := make(chan struct{})
	s.stopWatch = stop
	locker := s.endpoint.Locker()
	go func() {
		select {
		case <-destroyable.Destroyed():
		case <-stop:
			return
		}
		locker.Lock()
		defer locker.Unlock()
		if s.collection != collection {
			return
		}
		s.logger.Info("served collection destroyed")
		s.disconnectModel()
		s.stopWatch = nil
		s.collection = nil
		if s.monitored {
			s.sendReset()
		}
	}()
}

func (s *Server) stopWatching() {
	if s.stopWatch != nil {
		close(s.stopWatch)
		s.stopWatch = nil
	}
}

// push sends a change notification if a client watches the model.
func (s *Server) push(messageType protocol.MessageType, payload *protocol.PayloadEncoder) {
	if !s.monitored || !s.endpoint.IsConnected() {
		return
	}
	if err := payload.Err(); err != nil {
		s.logger.Warn("dropping unencodable push", "message_type", messageType.String(), "error", err)
		return
	}
	s.endpoint.Send(protocol.NewMessage(s.address, messageType, payload))
}

func (s *Server) sendReset() {
	s.push(protocol.ModelReset, protocol.NewPayloadEncoder())
}

func (s *Server) reply(messageType protocol.MessageType, payload *protocol.PayloadEncoder) {
	if err := payload.Err(); err != nil {
		s.logger.Warn("dropping unencodable reply", "message_type", messageType.String(), "error", err)
		return
	}
	s.endpoint.Send(protocol.NewMessage(s.address, messageType, payload))
}

func (s *Server) pathOf(index model.Index) protocol.ModelIndex {
	if s.collection == nil {
		return nil
	}
	return PathOf(s.collection, index)
}

func (s *Server) resolve(path protocol.ModelIndex) (model.Index, bool) {
	if s.collection == nil {
		return model.Index{}, false
	}
	return Resolve(s.collection, path)
}
