package transport

import (
	"context"

	"github.com/TsuiCho/AIHR-Telegram-chat-bot/internal/domain/commonModels"
)

type EventKind string

const (
	EventDocument EventKind = "document"
	EventCommand  EventKind = "command"
	EventText     EventKind = "text"
)

// Event is one inbound chat occurrence, normalized away from any platform
// specifics. Exactly one payload field is meaningful for a given Kind.
type Event struct {
	Kind    EventKind
	UserId  int64
	TraceId string

	// EventDocument
	Document commonModels.RawDocument

	// EventCommand
	Command string
	Args    string

	// EventText
	Text string
}

// Sender pushes one outbound message to the chat platform. Duplicate sends on
// retry are acceptable; the platform treats each as a fresh message.
type Sender interface {
	Send(ctx context.Context, userId int64, text string) error
}
