// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package broker keeps the probe's named objects, models and
// selection models for one endpoint server.
//
// A Broker replaces process-wide registries: a probe creates one per
// run, hands it to whatever code wants to publish something, and
// calls Clear when the run ends. Models and selection models can be
// created on first use through factory callbacks, so inspection tools
// need not construct every collection up front.
package broker
