package logging

import (
	"encoding/json"
	"time"
)

// Event is the canonical structured trace event emitted by the driver.
// Required fields: Timestamp, SessionID, EventType, Summary.
// Optional fields use omitempty tags.
type Event struct {
	Timestamp time.Time       `json:"ts"`
	SessionID string          `json:"session_id"`
	Tag       string          `json:"tag,omitempty"`
	EventType string          `json:"event_type"`
	Summary   string          `json:"summary"`
	Queue     string          `json:"queue,omitempty"`
	Tags      []string        `json:"tags,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Event type constants.
const (
	EventOpcodeSubmit     = "opcode_submit"
	EventOpcodeComplete   = "opcode_complete"
	EventFeatureNegotiate = "feature_negotiate"
	EventRingNotify       = "ring_notify"
)

// OpcodeSubmitData is the payload for opcode_submit events.
type OpcodeSubmitData struct {
	Opcode      uint32 `json:"opcode"`
	Unique      uint64 `json:"unique"`
	Nodeid      uint64 `json:"nodeid"`
	ReadableLen uint32 `json:"readable_len"`
	WritableLen uint32 `json:"writable_len"`
}

// OpcodeCompleteData is the payload for opcode_complete events.
type OpcodeCompleteData struct {
	Opcode     uint32 `json:"opcode"`
	Unique     uint64 `json:"unique"`
	Error      int32  `json:"error,omitempty"`
	OutPayload int    `json:"out_payload_bytes"`
}

// FeatureNegotiateData is the payload for feature_negotiate events.
type FeatureNegotiateData struct {
	DriverMajor  uint32 `json:"driver_major"`
	DriverMinor  uint32 `json:"driver_minor"`
	HostMajor    uint32 `json:"host_major"`
	HostMinor    uint32 `json:"host_minor"`
	Negotiated   uint64 `json:"negotiated_flags"`
	SessionValid bool   `json:"session_valid"`
}

// RingNotifyData is the payload for ring_notify events.
type RingNotifyData struct {
	DescriptorIndex uint16 `json:"descriptor_index"`
	BytesWritten    uint32 `json:"bytes_written"`
}
