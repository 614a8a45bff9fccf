// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package endpoint

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bureau-foundation/modelsync/protocol"
)

// Statistics counts the messages and payload bytes an endpoint sends
// and receives, by message type. A nil *Statistics records nothing.
type Statistics struct {
	messages *prometheus.CounterVec
	bytes    *prometheus.CounterVec
}

// NewStatistics registers the endpoint counters with registerer. side
// ("server" or "client") is attached as a constant label so both ends
// of an in-process connection can share a registry.
func NewStatistics(registerer prometheus.Registerer, side string) *Statistics {
	factory := promauto.With(registerer)
	labels := prometheus.Labels{"side": side}
	return &Statistics{
		messages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "modelsync",
			Subsystem:   "endpoint",
			Name:        "messages_total",
			Help:        "Protocol messages by direction and type.",
			ConstLabels: labels,
		}, []string{"direction", "type"}),
		bytes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "modelsync",
			Subsystem:   "endpoint",
			Name:        "bytes_total",
			Help:        "Uncompressed frame bytes by direction and type.",
			ConstLabels: labels,
		}, []string{"direction", "type"}),
	}
}

// Directions used as the "direction" label.
const (
	DirectionSent     = "sent"
	DirectionReceived = "received"
)

func (s *Statistics) record(direction string, message protocol.Message) {
	if s == nil {
		return
	}
	messageType := message.Type.String()
	s.messages.WithLabelValues(direction, messageType).Inc()
	s.bytes.WithLabelValues(direction, messageType).Add(float64(message.Size()))
}

func (s *Statistics) sent(message protocol.Message)     { s.record(DirectionSent, message) }
func (s *Statistics) received(message protocol.Message) { s.record(DirectionReceived, message) }

// Messages returns the counter for one direction and type. Intended
// for tests and diagnostics.
func (s *Statistics) Messages(direction string, messageType protocol.MessageType) prometheus.Counter {
	return s.messages.WithLabelValues(direction, messageType.String())
}
