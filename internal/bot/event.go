// Package bot routes normalized chat events to the wallet components and
// turns their outcomes into replies.
package bot

import (
	"time"

	"github.com/google/uuid"
)

// Kind is the normalized type of an inbound chat event.
type Kind string

// Event kinds.
const (
	KindStart          Kind = "start"
	KindBalance        Kind = "balance"
	KindTradeQuery     Kind = "trade_query"
	KindBuyIntent      Kind = "buy_intent"
	KindWithdrawIntent Kind = "withdraw_intent"
	KindCancel         Kind = "cancel"
	KindHelp           Kind = "help"
	KindFollowup       Kind = "followup_message"
)

// Source tells whether an event came from a typed message or a button.
// Only typed messages can answer a pending prompt.
type Source int

const (
	SourceMessage Source = iota
	SourceCallback
)

// Event is one inbound chat action.
type Event struct {
	ID       uuid.UUID
	Identity string
	Kind     Kind
	Source   Source
	// Payload holds the command arguments ("pepe" for /trade pepe).
	Payload string
	// Text is the raw message text, used when the message answers a prompt.
	Text       string
	ReceivedAt time.Time

	// CallbackID is the transport's handle for acknowledging a button press.
	CallbackID string
}

// NewEvent creates an event with a fresh id.
func NewEvent(identity string, kind Kind, source Source, payload, text string) Event {
	return Event{
		ID:         uuid.New(),
		Identity:   identity,
		Kind:       kind,
		Source:     source,
		Payload:    payload,
		Text:       text,
		ReceivedAt: time.Now(),
	}
}

// Status is the outcome class of a Result.
type Status string

const (
	StatusOK    Status = "ok"
	StatusError Status = "error"
)

// Button is one inline keyboard button.
type Button struct {
	Text string
	Data string
}

// Result is the reply to an event.
type Result struct {
	Status  Status
	Message string // Markdown
	Data    map[string]string
	// Keyboard rows, rendered under the message when non-empty.
	Keyboard [][]Button
}

func reply(msg string, data map[string]string) *Result {
	return &Result{Status: StatusOK, Message: msg, Data: data}
}

func replyError(msg string) *Result {
	return &Result{Status: StatusError, Message: msg}
}
