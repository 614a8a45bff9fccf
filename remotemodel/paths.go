// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package remotemodel

import (
	"github.com/bureau-foundation/modelsync/model"
	"github.com/bureau-foundation/modelsync/protocol"
)

// PathOf encodes index as the wire path from the root of collection.
// The invalid Index encodes as the root path.
func PathOf(collection model.Collection, index model.Index) protocol.ModelIndex {
	if !index.Valid() {
		return nil
	}
	chain := model.Ancestry(collection, index)
	path := make(protocol.ModelIndex, len(chain))
	for i, step := range chain {
		path[i] = protocol.IndexStep{Row: int32(step.Row()), Column: int32(step.Column())}
	}
	return path
}

// Resolve turns a wire path back into an index of collection. The
// root path resolves to the invalid Index; false means some step no
// longer exists.
func Resolve(collection model.Collection, path protocol.ModelIndex) (model.Index, bool) {
	var index model.Index
	for _, step := range path {
		index = collection.Index(int(step.Row), int(step.Column), index)
		if !index.Valid() {
			return model.Index{}, false
		}
	}
	return index, true
}
