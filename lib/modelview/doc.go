// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package modelview implements a terminal browser for a mirrored
// model. The view walks the mirror lazily: only rows of expanded
// nodes are queried, so opening a node is what pulls its children
// from the probe. Moving the cursor makes the row current in the
// probe's selection when a selection mirror is attached.
//
// The mirror notifies the view through a change channel; every
// notification rebuilds the visible rows from the cache, keeping the
// cursor on the same path when it still exists.
package modelview
