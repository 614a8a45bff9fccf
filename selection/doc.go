// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package selection mirrors a selection over a remote model.
//
// [Server] wraps a [model.SelectionModel] on the probe side and
// registers it as "<model name>.selection". While a client monitors
// it, local selection and current-cell changes are forwarded as they
// happen. Structural changes of the underlying collection move
// selected cells without a selection notification, so the server
// instead restarts a single-shot debounce timer on each one and sends
// the whole selection once the burst is over. Selections made by the
// client are applied locally and not echoed back.
//
// [Client] keeps the mirrored selection as a set of wire paths next to
// a [remotemodel.Client].
package selection
