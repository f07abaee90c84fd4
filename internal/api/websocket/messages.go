package websocket

import "time"

type MessageType string

const (
	// Registry
	MessageTypeEndpointStatus MessageType = "endpoint_status"
	MessageTypeEndpointValue  MessageType = "endpoint_value"

	// Engine
	MessageTypeProgramState MessageType = "program_state"
	MessageTypeWatchdog     MessageType = "watchdog_exceeded"

	// Events
	MessageTypeEvent MessageType = "event"

	MessageTypeSystemStatus MessageType = "system_status"
)

// Topic groups message types for client subscriptions.
type Topic string

const (
	TopicRegistry Topic = "registry"
	TopicEngine   Topic = "engine"
	TopicEvents   Topic = "events"
	TopicSystem   Topic = "system"
)

var AllTopics = []Topic{TopicRegistry, TopicEngine, TopicEvents, TopicSystem}

func (t MessageType) Topic() Topic {
	switch t {
	case MessageTypeEndpointStatus, MessageTypeEndpointValue:
		return TopicRegistry
	case MessageTypeProgramState, MessageTypeWatchdog:
		return TopicEngine
	case MessageTypeEvent:
		return TopicEvents
	default:
		return TopicSystem
	}
}

type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

type EndpointStatusData struct {
	Endpoint string `json:"endpoint"`
	Online   bool   `json:"online"`
}

type EndpointValueData struct {
	Endpoint string      `json:"endpoint"`
	Value    interface{} `json:"value"`
}

type ProgramStateData struct {
	Program string `json:"program"`
	State   string `json:"state"`
}

type WatchdogData struct {
	Program     string `json:"program"`
	DurationUs  int64  `json:"duration_us"`
	WatchdogMs  int64  `json:"watchdog_ms"`
	Consecutive int    `json:"consecutive"`
}

func NewMessage(msgType MessageType, data interface{}) Message {
	return Message{
		Type:      msgType,
		Timestamp: time.Now(),
		Data:      data,
	}
}

func NewEndpointStatusMessage(endpoint string, online bool) Message {
	return NewMessage(MessageTypeEndpointStatus, EndpointStatusData{Endpoint: endpoint, Online: online})
}

func NewEndpointValueMessage(endpoint string, value interface{}) Message {
	return NewMessage(MessageTypeEndpointValue, EndpointValueData{Endpoint: endpoint, Value: value})
}

func NewProgramStateMessage(program, state string) Message {
	return NewMessage(MessageTypeProgramState, ProgramStateData{Program: program, State: state})
}
