// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import "fmt"

// Version is the wire protocol version. Client and server must match
// exactly; there is no cross-version compatibility.
const Version int32 = 3

// BroadcastFormatVersion is the version of the [Announcement]
// datagram layout. Listeners drop datagrams of any other version.
const BroadcastFormatVersion int32 = 2

// DefaultPort is the TCP port a server listens on when the URL does
// not name one.
const DefaultPort = 11732

// BroadcastPort is the UDP port discovery announcements are sent to.
const BroadcastPort = 13325

// Address identifies one network-addressable object on a connection.
type Address uint32

const (
	// InvalidAddress is reserved and never assigned.
	InvalidAddress Address = 0

	// EndpointAddress is the endpoint object itself. Object map
	// traffic and monitor requests are addressed to it.
	EndpointAddress Address = 1
)

// EndpointObjectName is the registered name of the endpoint object
// at [EndpointAddress].
const EndpointObjectName = "com.bureau.modelsync.Server"

// MessageType identifies the payload layout of a message.
type MessageType uint16

// Message types. The numeric values are protocol constants.
const (
	InvalidMessageType MessageType = 0

	// Endpoint management, addressed to EndpointAddress unless noted.

	// ServerVersion: version i32, label string, instance string.
	// Sent by the server first on every connection.
	ServerVersion MessageType = 1
	// ObjectMapReply: count u32, then (address u32, name string) pairs.
	ObjectMapReply MessageType = 2
	// ObjectAdded: name string, address u32.
	ObjectAdded MessageType = 3
	// ObjectRemoved: name string, address u32.
	ObjectRemoved MessageType = 4
	// ObjectMonitored: address u32. Client → server.
	ObjectMonitored MessageType = 5
	// ObjectUnmonitored: address u32. Client → server.
	ObjectUnmonitored MessageType = 6

	// Generic object traffic, addressed to the object.

	// MethodCall: method string, args value.
	MethodCall MessageType = 10
	// SignalEmitted: index u32, name string, args value.
	SignalEmitted MessageType = 11
	// PropertyValuesRequest: empty.
	PropertyValuesRequest MessageType = 12
	// PropertyValuesReply: values value (map of name to value).
	PropertyValuesReply MessageType = 13
	// PropertyChanged: name string, value value.
	PropertyChanged MessageType = 14

	// Remote model requests. Client → server.

	// ModelRowColumnCountRequest: count u32, then ModelIndex entries.
	ModelRowColumnCountRequest MessageType = 20
	// ModelContentRequest: count u32, then ModelIndex entries.
	ModelContentRequest MessageType = 21
	// ModelHeaderRequest: orientation i8, section i32.
	ModelHeaderRequest MessageType = 22
	// ModelSetDataRequest: index ModelIndex, role i32, value value.
	ModelSetDataRequest MessageType = 23
	// ModelSortRequest: column i32, order i8.
	ModelSortRequest MessageType = 24
	// ModelSyncBarrier: barrier u32. Echoed by the server.
	ModelSyncBarrier MessageType = 25

	// Remote model replies and pushes. Server → client.

	// ModelRowColumnCountReply: count u32, then (index, rows i32,
	// columns i32) entries.
	ModelRowColumnCountReply MessageType = 30
	// ModelContentReply: count u32, then (index, data value, flags
	// u32) entries.
	ModelContentReply MessageType = 31
	// ModelHeaderReply: orientation i8, section i32, data value.
	ModelHeaderReply MessageType = 32
	// ModelContentChanged: topLeft, bottomRight ModelIndex, count u32,
	// roles i32...
	ModelContentChanged MessageType = 33
	// ModelHeaderChanged: orientation i8, first i32, last i32.
	ModelHeaderChanged MessageType = 34
	// ModelRowsAdded: parent ModelIndex, first i32, last i32.
	ModelRowsAdded MessageType = 35
	// ModelRowsRemoved: parent ModelIndex, first i32, last i32.
	ModelRowsRemoved MessageType = 36
	// ModelRowsMoved: sourceParent, first i32, last i32,
	// destinationParent, destination i32.
	ModelRowsMoved MessageType = 37
	// ModelColumnsAdded: parent ModelIndex, first i32, last i32.
	ModelColumnsAdded MessageType = 38
	// ModelColumnsRemoved: parent ModelIndex, first i32, last i32.
	ModelColumnsRemoved MessageType = 39
	// ModelColumnsMoved: same layout as ModelRowsMoved.
	ModelColumnsMoved MessageType = 40
	// ModelLayoutChanged: count u32, parents ModelIndex..., hint u8.
	ModelLayoutChanged MessageType = 41
	// ModelReset: empty.
	ModelReset MessageType = 42

	// Selection mirroring. Both directions unless noted.

	// SelectionModelSelect: flags u32, selected ranges, deselected
	// ranges. A range list is count u32, then (topLeft, bottomRight)
	// ModelIndex pairs.
	SelectionModelSelect MessageType = 50
	// SelectionModelCurrent: flags u32, index ModelIndex.
	SelectionModelCurrent MessageType = 51
	// SelectionModelStateRequest: empty. Client → server.
	SelectionModelStateRequest MessageType = 52

	maxMessageType = SelectionModelStateRequest
)

var messageTypeNames = map[MessageType]string{
	ServerVersion:              "ServerVersion",
	ObjectMapReply:             "ObjectMapReply",
	ObjectAdded:                "ObjectAdded",
	ObjectRemoved:              "ObjectRemoved",
	ObjectMonitored:            "ObjectMonitored",
	ObjectUnmonitored:          "ObjectUnmonitored",
	MethodCall:                 "MethodCall",
	SignalEmitted:              "SignalEmitted",
	PropertyValuesRequest:      "PropertyValuesRequest",
	PropertyValuesReply:        "PropertyValuesReply",
	PropertyChanged:            "PropertyChanged",
	ModelRowColumnCountRequest: "ModelRowColumnCountRequest",
	ModelContentRequest:        "ModelContentRequest",
	ModelHeaderRequest:         "ModelHeaderRequest",
	ModelSetDataRequest:        "ModelSetDataRequest",
	ModelSortRequest:           "ModelSortRequest",
	ModelSyncBarrier:           "ModelSyncBarrier",
	ModelRowColumnCountReply:   "ModelRowColumnCountReply",
	ModelContentReply:          "ModelContentReply",
	ModelHeaderReply:           "ModelHeaderReply",
	ModelContentChanged:        "ModelContentChanged",
	ModelHeaderChanged:         "ModelHeaderChanged",
	ModelRowsAdded:             "ModelRowsAdded",
	ModelRowsRemoved:           "ModelRowsRemoved",
	ModelRowsMoved:             "ModelRowsMoved",
	ModelColumnsAdded:          "ModelColumnsAdded",
	ModelColumnsRemoved:        "ModelColumnsRemoved",
	ModelColumnsMoved:          "ModelColumnsMoved",
	ModelLayoutChanged:         "ModelLayoutChanged",
	ModelReset:                 "ModelReset",
	SelectionModelSelect:       "SelectionModelSelect",
	SelectionModelCurrent:      "SelectionModelCurrent",
	SelectionModelStateRequest: "SelectionModelStateRequest",
}

// String returns the name of the message type.
func (t MessageType) String() string {
	if name, ok := messageTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("MessageType(%d)", uint16(t))
}

// Valid reports whether t is a known message type.
func (t MessageType) Valid() bool {
	if t == InvalidMessageType || t > maxMessageType {
		return false
	}
	_, ok := messageTypeNames[t]
	return ok
}

// IsModelPush reports whether t is a structural or content change
// notification pushed by a remote model server without a request.
func (t MessageType) IsModelPush() bool {
	switch t {
	case ModelContentChanged, ModelHeaderChanged,
		ModelRowsAdded, ModelRowsRemoved, ModelRowsMoved,
		ModelColumnsAdded, ModelColumnsRemoved, ModelColumnsMoved,
		ModelLayoutChanged, ModelReset:
		return true
	}
	return false
}
