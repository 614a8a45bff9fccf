// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package remotemodel

import (
	"github.com/bureau-foundation/modelsync/model"
	"github.com/bureau-foundation/modelsync/protocol"
)

// observer turns collection notifications into pushes. It is a
// separate type so the Observer methods stay off Server's API.
type observer struct {
	s *Server
}

var _ model.Observer = observer{}

func (o observer) HeaderDataChanged(orientation model.Orientation, first, last int) {
	payload := protocol.NewPayloadEncoder()
	payload.Int8(int8(orientation))
	payload.Int32(int32(first))
	payload.Int32(int32(last))
	o.s.push(protocol.ModelHeaderChanged, payload)
}

func (o observer) DataChanged(topLeft, bottomRight model.Index, roles []model.Role) {
	payload := protocol.NewPayloadEncoder()
	payload.Index(o.s.pathOf(topLeft))
	payload.Index(o.s.pathOf(bottomRight))
	payload.Uint32(uint32(len(roles)))
	for _, role := range roles {
		payload.Int32(int32(role))
	}
	o.s.push(protocol.ModelContentChanged, payload)
}

func (o observer) rangeChanged(messageType protocol.MessageType, parent model.Index, first, last int) {
	payload := protocol.NewPayloadEncoder()
	payload.Index(o.s.pathOf(parent))
	payload.Int32(int32(first))
	payload.Int32(int32(last))
	o.s.push(messageType, payload)
}

func (o observer) RowsInserted(parent model.Index, first, last int) {
	o.rangeChanged(protocol.ModelRowsAdded, parent, first, last)
}

func (o observer) RowsRemoved(parent model.Index, first, last int) {
	o.rangeChanged(protocol.ModelRowsRemoved, parent, first, last)
}

func (o observer) ColumnsInserted(parent model.Index, first, last int) {
	o.rangeChanged(protocol.ModelColumnsAdded, parent, first, last)
}

func (o observer) ColumnsRemoved(parent model.Index, first, last int) {
	o.rangeChanged(protocol.ModelColumnsRemoved, parent, first, last)
}

// aboutToMove records the parents as they are before the move. By the
// time the matching moved callback runs, the collection has already
// shifted and the parents may have new paths.
func (o observer) aboutToMove(sourceParent, destinationParent model.Index) {
	o.s.moves = append(o.s.moves, pendingMove{
		source:      o.s.pathOf(sourceParent),
		destination: o.s.pathOf(destinationParent),
	})
}

func (o observer) moved(messageType protocol.MessageType, first, last, destination int) {
	count := len(o.s.moves)
	if count == 0 {
		o.s.logger.Warn("move completed with no move in progress, dropping", "message_type", messageType.String())
		return
	}
	move := o.s.moves[count-1]
	o.s.moves = o.s.moves[:count-1]

	payload := protocol.NewPayloadEncoder()
	payload.Index(move.source)
	payload.Int32(int32(first))
	payload.Int32(int32(last))
	payload.Index(move.destination)
	payload.Int32(int32(destination))
	o.s.push(messageType, payload)
}

func (o observer) RowsAboutToBeMoved(sourceParent model.Index, _, _ int, destinationParent model.Index, _ int) {
	o.aboutToMove(sourceParent, destinationParent)
}

func (o observer) RowsMoved(_ model.Index, first, last int, _ model.Index, destinationRow int) {
	o.moved(protocol.ModelRowsMoved, first, last, destinationRow)
}

func (o observer) ColumnsAboutToBeMoved(sourceParent model.Index, _, _ int, destinationParent model.Index, _ int) {
	o.aboutToMove(sourceParent, destinationParent)
}

func (o observer) ColumnsMoved(_ model.Index, first, last int, _ model.Index, destinationColumn int) {
	o.moved(protocol.ModelColumnsMoved, first, last, destinationColumn)
}

func (o observer) LayoutChanged(parents []model.Index, hint model.LayoutHint) {
	payload := protocol.NewPayloadEncoder()
	payload.Uint32(uint32(len(parents)))
	for _, parent := range parents {
		payload.Index(o.s.pathOf(parent))
	}
	payload.Uint8(uint8(hint))
	o.s.push(protocol.ModelLayoutChanged, payload)
}

func (o observer) ModelReset() {
	o.s.sendReset()
}
