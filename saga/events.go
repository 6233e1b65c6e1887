package saga

import (
	"time"
)

// Journal event types.
const (
	FlowStarted     = "FLOW_STARTED"
	FieldAccepted   = "FIELD_ACCEPTED"
	FieldRejected   = "FIELD_REJECTED"
	FlowEnded       = "FLOW_ENDED"
	WalletConnected = "WALLET_CONNECTED"
	ChainAction     = "CHAIN_ACTION"
)

// BaseEvent is embedded in every journal event.
type BaseEvent struct {
	EventType string `json:"eventType"`
	Timestamp int64  `json:"timestamp"`
	// Generation identifies the flow instance the event belongs to.
	Generation string `json:"generation,omitempty"`
}

// FlowStartedEvent - a command installed a new flow
type FlowStartedEvent struct {
	BaseEvent
	Flow       string `json:"flow"`
	StartField string `json:"startField"`
}

// FieldAcceptedEvent - a field's input passed validation and its handler committed
type FieldAcceptedEvent struct {
	BaseEvent
	Flow      string      `json:"flow"`
	Field     string      `json:"field"`
	Value     interface{} `json:"value"`
	NextField string      `json:"nextField,omitempty"`
}

// FieldRejectedEvent - input was rejected by a validator or handler
type FieldRejectedEvent struct {
	BaseEvent
	Flow   string `json:"flow"`
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// FlowEndedEvent - the flow reached a terminal step
type FlowEndedEvent struct {
	BaseEvent
	Flow  string `json:"flow"`
	Field string `json:"field"` // field whose handler ended the flow
}

// WalletConnectedEvent - a wallet session was approved for the conversation
type WalletConnectedEvent struct {
	BaseEvent
	Adapter string `json:"adapter"`
	Account string `json:"account"`
}

// ChainActionEvent - a deploy or launch submission finished
type ChainActionEvent struct {
	BaseEvent
	Flow    string `json:"flow"`
	Action  string `json:"action"`  // "deploy" | "launch"
	Outcome string `json:"outcome"` // "success" or an error tag
	TxHash  string `json:"txHash,omitempty"`
}

// EventUnion is implemented by every journal event.
type EventUnion interface {
	GetEventType() string
	GetTimestamp() int64
}

func (e FlowStartedEvent) GetEventType() string { return e.EventType }
func (e FlowStartedEvent) GetTimestamp() int64  { return e.Timestamp }

func (e FieldAcceptedEvent) GetEventType() string { return e.EventType }
func (e FieldAcceptedEvent) GetTimestamp() int64  { return e.Timestamp }

func (e FieldRejectedEvent) GetEventType() string { return e.EventType }
func (e FieldRejectedEvent) GetTimestamp() int64  { return e.Timestamp }

func (e FlowEndedEvent) GetEventType() string { return e.EventType }
func (e FlowEndedEvent) GetTimestamp() int64  { return e.Timestamp }

func (e WalletConnectedEvent) GetEventType() string { return e.EventType }
func (e WalletConnectedEvent) GetTimestamp() int64  { return e.Timestamp }

func (e ChainActionEvent) GetEventType() string { return e.EventType }
func (e ChainActionEvent) GetTimestamp() int64  { return e.Timestamp }

// NewTimestamp returns the current unix time.
func NewTimestamp() int64 {
	return time.Now().Unix()
}

// NewBaseEvent creates a base event stamped with the current time.
func NewBaseEvent(eventType, generation string) BaseEvent {
	return BaseEvent{
		EventType:  eventType,
		Timestamp:  NewTimestamp(),
		Generation: generation,
	}
}

// newEvent returns an empty event of the given type for decoding.
func newEvent(eventType string) (EventUnion, bool) {
	switch eventType {
	case FlowStarted:
		return &FlowStartedEvent{}, true
	case FieldAccepted:
		return &FieldAcceptedEvent{}, true
	case FieldRejected:
		return &FieldRejectedEvent{}, true
	case FlowEnded:
		return &FlowEndedEvent{}, true
	case WalletConnected:
		return &WalletConnectedEvent{}, true
	case ChainAction:
		return &ChainActionEvent{}, true
	}
	return nil, false
}
