// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package selection

import (
	"github.com/bureau-foundation/modelsync/model"
	"github.com/bureau-foundation/modelsync/protocol"
	"github.com/bureau-foundation/modelsync/remotemodel"
)

// Range is a rectangle of cells sharing one parent, as wire paths.
type Range struct {
	TopLeft     protocol.ModelIndex
	BottomRight protocol.ModelIndex
}

// Cell returns the range covering the single cell at path.
func Cell(path protocol.ModelIndex) Range {
	return Range{TopLeft: path, BottomRight: path}
}

// Cells lists the paths a range covers. A range whose corners have
// different parents, or either of which is the root, covers nothing.
func (r Range) Cells() []protocol.ModelIndex {
	if r.TopLeft.IsRoot() || r.BottomRight.IsRoot() || !r.TopLeft.Parent().Equal(r.BottomRight.Parent()) {
		return nil
	}
	parent := r.TopLeft.Parent()
	var cells []protocol.ModelIndex
	for row := r.TopLeft.Row(); row <= r.BottomRight.Row(); row++ {
		for column := r.TopLeft.Column(); column <= r.BottomRight.Column(); column++ {
			cells = append(cells, parent.Child(row, column))
		}
	}
	return cells
}

func (r Range) String() string {
	return r.TopLeft.String() + ".." + r.BottomRight.String()
}

// writeRanges encodes a range list: count, then corner pairs.
func writeRanges(payload *protocol.PayloadEncoder, ranges []Range) {
	payload.Uint32(uint32(len(ranges)))
	for _, r := range ranges {
		payload.Index(r.TopLeft)
		payload.Index(r.BottomRight)
	}
}

func readRanges(decoder *protocol.PayloadDecoder) []Range {
	count := decoder.Count(8)
	ranges := make([]Range, 0, count)
	for range count {
		r := Range{TopLeft: decoder.Index(), BottomRight: decoder.Index()}
		if decoder.Err() != nil {
			return nil
		}
		ranges = append(ranges, r)
	}
	return ranges
}

func toRanges(collection model.Collection, selection model.Selection) []Range {
	ranges := make([]Range, 0, len(selection))
	for _, r := range selection {
		ranges = append(ranges, Range{
			TopLeft:     remotemodel.PathOf(collection, r.TopLeft),
			BottomRight: remotemodel.PathOf(collection, r.BottomRight),
		})
	}
	return ranges
}

// toSelection resolves wire ranges against collection. Ranges with a
// corner that no longer resolves are dropped.
func toSelection(collection model.Collection, ranges []Range) model.Selection {
	var selection model.Selection
	for _, r := range ranges {
		topLeft, ok := remotemodel.Resolve(collection, r.TopLeft)
		if !ok || !topLeft.Valid() {
			continue
		}
		bottomRight, ok := remotemodel.Resolve(collection, r.BottomRight)
		if !ok || !bottomRight.Valid() {
			continue
		}
		selection = append(selection, model.SelectionRange{TopLeft: topLeft, BottomRight: bottomRight})
	}
	return selection
}
