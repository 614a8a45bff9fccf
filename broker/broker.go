// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/bureau-foundation/modelsync/endpoint"
	"github.com/bureau-foundation/modelsync/model"
	"github.com/bureau-foundation/modelsync/protocol"
	"github.com/bureau-foundation/modelsync/remotemodel"
	"github.com/bureau-foundation/modelsync/selection"
)

// ErrUnknownModel is returned when a selection model is registered
// for a collection no model name serves.
var ErrUnknownModel = errors.New("collection is not a registered model")

// ModelFactory creates the collection for a model name on first use.
// Returning nil means the name is unknown.
type ModelFactory func(name string) model.Collection

// SelectionFactory creates the selection model of a registered
// collection on first use. Returning nil means the collection gets
// none.
type SelectionFactory func(collection model.Collection) *model.SelectionModel

// Options configures a Broker.
type Options struct {
	// Model configures every remote model the broker creates.
	Model remotemodel.ServerOptions

	// Selection configures every selection server the broker creates.
	Selection selection.ServerOptions

	Logger *slog.Logger
}

// Broker owns the named objects of an endpoint server.
//
// Methods acquire the server's dispatch lock where the objects they
// create require it, so they must not be called from message handlers
// or with the lock already held. Collections are compared with ==, so
// they must have comparable dynamic types (pointers, in practice).
type Broker struct {
	server  *endpoint.Server
	options Options
	logger  *slog.Logger

	mu               sync.Mutex
	objects          map[string]any
	models           map[string]*remotemodel.Server
	selections       map[string]*selection.Server
	modelFactory     ModelFactory
	selectionFactory SelectionFactory
}

// New returns an empty broker publishing through server.
func New(server *endpoint.Server, options Options) *Broker {
	logger := options.Logger
	if logger == nil {
		logger = server.Logger()
	}
	if options.Model.Logger == nil {
		options.Model.Logger = logger
	}
	if options.Selection.Logger == nil {
		options.Selection.Logger = logger
	}
	return &Broker{
		server:     server,
		options:    options,
		logger:     logger,
		objects:    make(map[string]any),
		models:     make(map[string]*remotemodel.Server),
		selections: make(map[string]*selection.Server),
	}
}

// Server returns the endpoint server objects are published on.
func (b *Broker) Server() *endpoint.Server { return b.server }

// RegisterObject publishes object under name with the given export
// policy.
func (b *Broker) RegisterObject(name string, object any, export endpoint.ExportOptions) (protocol.Address, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.objects[name]; exists {
		return protocol.InvalidAddress, fmt.Errorf("object %q: %w", name, endpoint.ErrDuplicateName)
	}
	address, err := b.server.RegisterObject(name, object, export)
	if err != nil {
		return protocol.InvalidAddress, err
	}
	b.objects[name] = object
	return address, nil
}

// Object returns the object registered under name.
func (b *Broker) Object(name string) (any, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	object, ok := b.objects[name]
	return object, ok
}

// UnregisterObject withdraws an object registered with RegisterObject.
func (b *Broker) UnregisterObject(name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.objects[name]; !ok {
		return fmt.Errorf("object %q: %w", name, endpoint.ErrUnknownObject)
	}
	delete(b.objects, name)
	return b.server.UnregisterObject(name)
}

// SetModelFactory sets the callback Model uses for unknown names.
func (b *Broker) SetModelFactory(factory ModelFactory) {
	b.mu.Lock()
	b.modelFactory = factory
	b.mu.Unlock()
}

// SetSelectionFactory sets the callback SelectionModel uses for
// collections without a selection model.
func (b *Broker) SetSelectionFactory(factory SelectionFactory) {
	b.mu.Lock()
	b.selectionFactory = factory
	b.mu.Unlock()
}

// RegisterModel serves collection as the model name.
func (b *Broker) RegisterModel(name string, collection model.Collection) (*remotemodel.Server, error) {
	locker := b.server.Locker()
	locker.Lock()
	defer locker.Unlock()
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.registerModelLocked(name, collection)
}

func (b *Broker) registerModelLocked(name string, collection model.Collection) (*remotemodel.Server, error) {
	if _, exists := b.models[name]; exists {
		return nil, fmt.Errorf("model %q: %w", name, endpoint.ErrDuplicateName)
	}
	server, err := remotemodel.NewServer(b.server, name, b.options.Model)
	if err != nil {
		return nil, err
	}
	server.SetModel(collection)
	b.models[name] = server
	b.logger.Debug("model registered", "model", name)
	return server, nil
}

// Model returns the collection served as name. An unknown name is
// offered to the model factory, and the collection it returns is
// registered.
func (b *Broker) Model(name string) (model.Collection, bool) {
	locker := b.server.Locker()
	locker.Lock()
	defer locker.Unlock()
	b.mu.Lock()
	defer b.mu.Unlock()
	if server, ok := b.models[name]; ok {
		return server.Model(), true
	}
	if b.modelFactory == nil {
		return nil, false
	}
	collection := b.modelFactory(name)
	if collection == nil {
		return nil, false
	}
	if _, err := b.registerModelLocked(name, collection); err != nil {
		b.logger.Warn("registering model from factory", "model", name, "error", err)
		return nil, false
	}
	return collection, true
}

// ModelServer returns the remote model serving name.
func (b *Broker) ModelServer(name string) (*remotemodel.Server, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	server, ok := b.models[name]
	return server, ok
}

// modelNameLocked returns the name collection is served as.
func (b *Broker) modelNameLocked(collection model.Collection) (string, bool) {
	for name, server := range b.models {
		if server.Model() == collection {
			return name, true
		}
	}
	return "", false
}

// RegisterSelectionModel serves selectionModel alongside the model of
// its collection.
func (b *Broker) RegisterSelectionModel(selectionModel *model.SelectionModel) (*selection.Server, error) {
	locker := b.server.Locker()
	locker.Lock()
	defer locker.Unlock()
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.registerSelectionLocked(selectionModel)
}

func (b *Broker) registerSelectionLocked(selectionModel *model.SelectionModel) (*selection.Server, error) {
	name, ok := b.modelNameLocked(selectionModel.Collection())
	if !ok {
		return nil, ErrUnknownModel
	}
	if _, exists := b.selections[name]; exists {
		return nil, fmt.Errorf("selection of %q: %w", name, endpoint.ErrDuplicateName)
	}
	server, err := selection.NewServer(b.server, name, selectionModel, b.options.Selection)
	if err != nil {
		return nil, err
	}
	b.selections[name] = server
	b.logger.Debug("selection model registered", "model", name)
	return server, nil
}

// HasSelectionModel reports whether collection has a registered
// selection model.
func (b *Broker) HasSelectionModel(collection model.Collection) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	name, ok := b.modelNameLocked(collection)
	if !ok {
		return false
	}
	_, ok = b.selections[name]
	return ok
}

// SelectionModel returns the selection model of a registered
// collection, creating it with the selection factory if needed.
func (b *Broker) SelectionModel(collection model.Collection) (*model.SelectionModel, bool) {
	locker := b.server.Locker()
	locker.Lock()
	defer locker.Unlock()
	b.mu.Lock()
	defer b.mu.Unlock()
	name, ok := b.modelNameLocked(collection)
	if !ok {
		return nil, false
	}
	if server, ok := b.selections[name]; ok {
		return server.Selection(), true
	}
	if b.selectionFactory == nil {
		return nil, false
	}
	selectionModel := b.selectionFactory(collection)
	if selectionModel == nil {
		return nil, false
	}
	if _, err := b.registerSelectionLocked(selectionModel); err != nil {
		b.logger.Warn("registering selection model from factory", "model", name, "error", err)
		return nil, false
	}
	return selectionModel, true
}

// Names returns the registered object and model names, sorted.
func (b *Broker) Names() (objects, models []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Sorted(maps.Keys(b.objects)), slices.Sorted(maps.Keys(b.models))
}

// Clear withdraws everything the broker registered. Factories stay
// installed.
func (b *Broker) Clear() error {
	locker := b.server.Locker()
	locker.Lock()
	defer locker.Unlock()
	b.mu.Lock()
	defer b.mu.Unlock()

	var errs []error
	for _, name := range slices.Sorted(maps.Keys(b.selections)) {
		if err := b.selections[name].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	for _, name := range slices.Sorted(maps.Keys(b.models)) {
		if err := b.models[name].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	for _, name := range slices.Sorted(maps.Keys(b.objects)) {
		if err := b.server.UnregisterObject(name); err != nil && !errors.Is(err, endpoint.ErrUnknownObject) {
			errs = append(errs, err)
		}
	}
	clear(b.selections)
	clear(b.models)
	clear(b.objects)
	return errors.Join(errs...)
}
