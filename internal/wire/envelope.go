// Package wire defines the JSON envelope types exchanged over the gateway's
// WebSocket connections: ClientMessage, AgentMessage, MessageAcknowledgement,
// and SystemMessage, each tagged by a "type" discriminator field. Binary
// frames are not part of this wire format — spec.md §6 rejects them.
package wire

import (
	"encoding/json"
	"fmt"
)

// Type distinguishes envelope kinds on the wire.
type Type string

const (
	TypeClientMessage  Type = "client_message"
	TypeAgentMessage   Type = "agent_message"
	TypeAck            Type = "ack"
	TypeSystemMessage  Type = "system_message"
)

// AckStatus is MessageAcknowledgement's status field.
type AckStatus string

const (
	AckReceived  AckStatus = "received"
	AckProcessed AckStatus = "processed"
	AckError     AckStatus = "error"
)

// SystemKind enumerates SystemMessage's tagged variants.
type SystemKind string

const (
	SystemClientConnected    SystemKind = "client_connected"
	SystemClientDisconnected SystemKind = "client_disconnected"
	SystemAgentConnected     SystemKind = "agent_connected"
	SystemAgentDisconnected  SystemKind = "agent_disconnected"
	SystemHeartbeatRequest   SystemKind = "heartbeat_request"
	SystemHeartbeatResponse  SystemKind = "heartbeat_response"
	SystemSessionCreated     SystemKind = "session_created"
	SystemSessionRestored    SystemKind = "session_restored"
	SystemSessionExpired     SystemKind = "session_expired"
	SystemMetricsReport      SystemKind = "metrics_report"
)

// ClientMessage is the client → agent envelope.
type ClientMessage struct {
	Type          Type    `json:"type"`
	ClientID      string  `json:"client_id"`
	Content       string  `json:"content"`
	Authenticated bool    `json:"authenticated"`
	WalletAddress *string `json:"wallet_address,omitempty"`
	Timestamp     int64   `json:"timestamp"`
	MessageID     *uint64 `json:"message_id,omitempty"`
	SessionID     *string `json:"session_id,omitempty"`
	RequiresAck   bool    `json:"requires_ack"`
}

// AgentMessage is the agent → client envelope. TargetClientID absent means
// broadcast to every live client.
type AgentMessage struct {
	Type          Type    `json:"type"`
	TargetClientID *string `json:"target_client_id,omitempty"`
	Content        string  `json:"content"`
	Timestamp      int64   `json:"timestamp"`
	MessageID      *uint64 `json:"message_id,omitempty"`
	RequiresAck    bool    `json:"requires_ack"`
	MessageType    *string `json:"message_type,omitempty"`
}

// MessageAcknowledgement confirms receipt/processing of a tracked message.
type MessageAcknowledgement struct {
	Type      Type      `json:"type"`
	SourceID  string    `json:"source_id"`
	MessageID uint64    `json:"message_id"`
	Timestamp int64     `json:"timestamp"`
	Status    AckStatus `json:"status"`
	Reason    string    `json:"reason,omitempty"`
}

// SystemMessage is the tagged system-event envelope.
type SystemMessage struct {
	Type      Type           `json:"type"`
	Kind      SystemKind     `json:"kind"`
	Timestamp int64          `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
}

type typePeek struct {
	Type Type `json:"type"`
}

// Decode inspects raw's "type" discriminator and unmarshals it into the
// matching envelope struct, returned as `any`. Unknown tags return an error
// so the caller can log-and-drop per spec.md §6.
func Decode(raw []byte) (any, error) {
	var peek typePeek
	if err := json.Unmarshal(raw, &peek); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	switch peek.Type {
	case TypeClientMessage:
		var m ClientMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, err
		}
		return m, nil
	case TypeAgentMessage:
		var m AgentMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, err
		}
		return m, nil
	case TypeAck:
		var m MessageAcknowledgement
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, err
		}
		return m, nil
	case TypeSystemMessage:
		var m SystemMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unknown envelope type %q", peek.Type)
	}
}

// HasMessageID reports whether raw decodes as a JSON object already
// carrying a message_id field — used by the Connection Actor to decide
// whether to inject one before tracking delivery.
func HasMessageID(raw []byte) bool {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return false
	}
	_, ok := obj["message_id"]
	return ok
}

// IsJSONObject reports whether raw is a JSON object (as opposed to an
// array, scalar, or invalid JSON). Non-object payloads are sent untracked,
// per spec.md §4.4's message-id-injection rule.
func IsJSONObject(raw []byte) bool {
	var obj map[string]json.RawMessage
	return json.Unmarshal(raw, &obj) == nil
}

// InjectMessageID sets the message_id field on a JSON object payload and
// returns the re-marshaled bytes.
func InjectMessageID(raw []byte, id uint64) ([]byte, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, err
	}
	idBytes, err := json.Marshal(id)
	if err != nil {
		return nil, err
	}
	obj["message_id"] = idBytes
	return json.Marshal(obj)
}
