package proto

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Message types carried over the persistent agent channel.
const (
	// agent -> coordinator
	MsgRegister  = "register"
	MsgResume    = "resume"
	MsgSubscribe = "subscribe"
	MsgTaskReply = "taskReply"

	// coordinator -> agent
	MsgRegistered        = "registered"
	MsgResumed           = "resumed"
	MsgSubscribed        = "subscribed"
	MsgTask              = "task"
	MsgEarningUpdate     = "earningUpdate"
	MsgDuplicateDetected = "duplicateDetected"
)

const (
	ReasonNotFound            = "not_found"
	ReasonDuplicateConnection = "duplicate_connection"
)

type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func NewEnvelope(msgType string, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: msgType, Payload: raw}, nil
}

type Register struct {
	PublicKey string `json:"publicKey" validate:"required"`
	RequestID string `json:"requestId" validate:"required"`
	Signature string `json:"signature" validate:"required"`
	Endpoint  string `json:"endpoint,omitempty"`
}

type Registered struct {
	AgentID uuid.UUID `json:"agentId"`
}

type Resume struct {
	PublicKey    string    `json:"publicKey,omitempty"`
	AgentID      uuid.UUID `json:"agentId,omitempty"`
	SessionToken string    `json:"sessionToken,omitempty"`
	TabID        string    `json:"tabId,omitempty"`
}

type Resumed struct {
	OK      bool      `json:"ok"`
	AgentID uuid.UUID `json:"agentId,omitempty"`
}

type Subscribe struct {
	PublicKey    string `json:"publicKey" validate:"required"`
	SessionToken string `json:"sessionToken,omitempty"`
	TabID        string `json:"tabId" validate:"required"`
}

type Subscribed struct {
	OK           bool      `json:"ok"`
	AgentID      uuid.UUID `json:"agentId,omitempty"`
	SessionToken string    `json:"sessionToken,omitempty"`
	Reason       string    `json:"reason,omitempty"`
}

type Task struct {
	URL           string    `json:"url"`
	CorrelationID uuid.UUID `json:"correlationId"`
	TargetID      uuid.UUID `json:"targetId"`
}

type TaskReply struct {
	CorrelationID uuid.UUID `json:"correlationId" validate:"required"`
	Status        string    `json:"status" validate:"required,oneof=Good Bad"`
	LatencyMS     int64     `json:"latency"`
	Signature     string    `json:"signature,omitempty"`
	SessionToken  string    `json:"sessionToken,omitempty"`
}

type EarningUpdate struct {
	Amount  int64 `json:"amount"`
	Balance int64 `json:"balance"`
}

type DuplicateDetected struct {
	TabID   string `json:"tabId"`
	Message string `json:"message"`
}
