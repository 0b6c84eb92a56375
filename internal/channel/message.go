package channel

import (
	"github.com/slok/orca/internal/model"
)

// MessageType is the type of a channel message.
type MessageType string

const (
	MessageTypeOutput    MessageType = "output"
	MessageTypePrompt    MessageType = "prompt"
	MessageTypeStatus    MessageType = "status"
	MessageTypeUserInput MessageType = "user_input"
)

// Status is the task status sent to the observers.
type Status struct {
	Status   model.TaskStatus `json:"status"`
	Step     string           `json:"step"`
	Progress int              `json:"progress"`
}

// Message is a channel wire message.
//
// Outbound messages use Data (a string for output and prompt, a Status for status),
// inbound user input uses Input.
type Message struct {
	Type  MessageType `json:"type"`
	Data  any         `json:"data,omitempty"`
	Input string      `json:"input,omitempty"`
}

func outputMessage(text string) Message { return Message{Type: MessageTypeOutput, Data: text} }
func promptMessage(text string) Message { return Message{Type: MessageTypePrompt, Data: text} }
func statusMessage(s Status) Message    { return Message{Type: MessageTypeStatus, Data: s} }

// Sink receives the messages of a task in publish order. If the sink implements
// io.Closer it's closed once detached and all its queued messages are sent.
type Sink interface {
	Send(msg Message) error
}

// SinkFunc is a helper to implement Sink with a function.
type SinkFunc func(msg Message) error

func (f SinkFunc) Send(msg Message) error { return f(msg) }
