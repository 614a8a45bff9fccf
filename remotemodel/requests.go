// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package remotemodel

import (
	"fmt"

	"github.com/bureau-foundation/modelsync/lib/codec"
	"github.com/bureau-foundation/modelsync/model"
	"github.com/bureau-foundation/modelsync/protocol"
)

// handleMessage serves one client request. It runs under the
// endpoint's dispatch lock, so requests are answered in arrival order
// and a barrier echo follows every reply to earlier requests.
func (s *Server) handleMessage(message protocol.Message) {
	decoder := message.Decoder()
	switch message.Type {
	case protocol.ModelRowColumnCountRequest:
		paths := decoder.Indexes()
		if s.malformed(message, decoder) || s.emptyBatch(message, paths) {
			return
		}
		s.replyCounts(paths)

	case protocol.ModelContentRequest:
		paths := decoder.Indexes()
		if s.malformed(message, decoder) || s.emptyBatch(message, paths) {
			return
		}
		s.replyContent(paths)

	case protocol.ModelHeaderRequest:
		orientation := model.Orientation(decoder.Int8())
		section := decoder.Int32()
		if s.malformed(message, decoder) {
			return
		}
		s.replyHeader(orientation, section)

	case protocol.ModelSetDataRequest:
		path := decoder.Index()
		role := model.Role(decoder.Int32())
		value := decoder.Value()
		if s.malformed(message, decoder) {
			return
		}
		index, ok := s.resolve(path)
		if !ok || !index.Valid() {
			s.logger.Debug("set data for unresolvable index", "index", path.String())
			return
		}
		if !s.collection.SetData(index, value, role) {
			s.logger.Debug("set data rejected", "index", path.String(), "role", int(role))
		}

	case protocol.ModelSortRequest:
		column := decoder.Int32()
		order := model.SortOrder(decoder.Int8())
		if s.malformed(message, decoder) {
			return
		}
		if s.collection == nil {
			s.logger.Debug("sort request while unbound")
			return
		}
		s.collection.Sort(int(column), order)

	case protocol.ModelSyncBarrier:
		barrier := decoder.Uint32()
		if s.malformed(message, decoder) {
			return
		}
		payload := protocol.NewPayloadEncoder()
		payload.Uint32(barrier)
		s.reply(protocol.ModelSyncBarrier, payload)

	default:
		s.logger.Debug("unexpected model message", "message_type", message.Type.String())
	}
}

func (s *Server) malformed(message protocol.Message, decoder *protocol.PayloadDecoder) bool {
	if err := decoder.Err(); err != nil {
		s.logger.Warn("malformed model request", "message_type", message.Type.String(), "error", err)
		return true
	}
	return false
}

func (s *Server) emptyBatch(message protocol.Message, paths []protocol.ModelIndex) bool {
	if len(paths) == 0 {
		s.logger.Debug("ignoring empty request batch", "message_type", message.Type.String())
		return true
	}
	if s.collection == nil {
		s.logger.Debug("ignoring request while unbound", "message_type", message.Type.String())
		return true
	}
	return false
}

type countEntry struct {
	path          protocol.ModelIndex
	rows, columns int
}

func (s *Server) replyCounts(paths []protocol.ModelIndex) {
	entries := make([]countEntry, 0, len(paths))
	for _, path := range paths {
		index, ok := s.resolve(path)
		if !ok {
			s.logger.Debug("count request for unresolvable index", "index", path.String())
			continue
		}
		entries = append(entries, countEntry{
			path:    path,
			rows:    s.collection.RowCount(index),
			columns: s.collection.ColumnCount(index),
		})
	}
	if len(entries) == 0 {
		return
	}
	payload := protocol.NewPayloadEncoder()
	payload.Uint32(uint32(len(entries)))
	for _, entry := range entries {
		payload.Index(entry.path)
		payload.Int32(int32(entry.rows))
		payload.Int32(int32(entry.columns))
	}
	s.reply(protocol.ModelRowColumnCountReply, payload)
}

type contentEntry struct {
	path  protocol.ModelIndex
	data  map[int]any
	flags model.ItemFlags
}

func (s *Server) replyContent(paths []protocol.ModelIndex) {
	entries := make([]contentEntry, 0, len(paths))
	for _, path := range paths {
		index, ok := s.resolve(path)
		if !ok || !index.Valid() {
			s.logger.Debug("content request for unresolvable index", "index", path.String())
			continue
		}
		entries = append(entries, contentEntry{
			path:  path,
			data:  s.itemData(index),
			flags: s.collection.Flags(index),
		})
	}
	if len(entries) == 0 {
		return
	}
	payload := protocol.NewPayloadEncoder()
	payload.Uint32(uint32(len(entries)))
	for _, entry := range entries {
		payload.Index(entry.path)
		payload.Value(entry.data)
		payload.Uint32(uint32(entry.flags))
	}
	s.reply(protocol.ModelContentReply, payload)
}

// itemData returns the sendable roles of a cell, each already
// encoded. Icons are rendered; values the filter rejects or the encoder
// fails on are left out, so one bad value never costs the reply.
func (s *Server) itemData(index model.Index) map[int]any {
	data := s.collection.ItemData(index)
	if len(data) == 0 {
		return nil
	}
	out := make(map[int]any, len(data))
	for role, value := range data {
		if encoded, ok := s.sendable(value); ok {
			out[int(role)] = encoded
		} else {
			s.logger.Debug("dropping unserializable item data", "role", int(role), "type", fmt.Sprintf("%T", value))
		}
	}
	return out
}

// sendable converts icons, applies the filter and encodes the value.
func (s *Server) sendable(value any) (codec.RawMessage, bool) {
	if icon, ok := value.(model.Icon); ok {
		rendered, ok := s.icons.render(icon)
		if !ok {
			return nil, false
		}
		value = rendered
	} else if !s.filter.CanSerialize(value) {
		return nil, false
	}
	encoded, err := codec.Marshal(value)
	if err != nil {
		s.logger.Warn("item data failed to encode", "type", fmt.Sprintf("%T", value), "error", err)
		return nil, false
	}
	return encoded, true
}

// headerRoles are the header roles sent to clients.
var headerRoles = []model.Role{model.DisplayRole, model.DecorationRole, model.ToolTipRole}

func (s *Server) replyHeader(orientation model.Orientation, section int32) {
	if s.collection == nil {
		s.logger.Debug("header request while unbound")
		return
	}
	data := make(map[int]any)
	for _, role := range headerRoles {
		value := s.collection.HeaderData(int(section), orientation, role)
		if value == nil {
			continue
		}
		if encoded, ok := s.sendable(value); ok {
			data[int(role)] = encoded
		}
	}
	payload := protocol.NewPayloadEncoder()
	payload.Int8(int8(orientation))
	payload.Int32(section)
	payload.Value(data)
	s.reply(protocol.ModelHeaderReply, payload)
}
