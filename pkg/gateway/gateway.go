// Package gateway abstracts the chat transport. The bot core only
// sees the Gateway interface and the Event union, so it can be tested
// without a live Telegram connection.
package gateway

import "context"

// EventKind discriminates the inbound event union.
type EventKind int

const (
	// EventCommand is a slash command with optional arguments.
	EventCommand EventKind = iota
	// EventCallback is an inline keyboard button press.
	EventCallback
	// EventVoice is a voice or audio message.
	EventVoice
)

// Sender identifies the user an event came from.
type Sender struct {
	ID        int64
	Username  string
	FirstName string
	LastName  string
}

// MessageRef references a previously sent message for editing.
type MessageRef struct {
	ChatID    int64
	MessageID int
}

// Event is one inbound chat event. Exactly the fields relevant to its
// Kind are populated.
type Event struct {
	Kind EventKind
	From Sender

	// Command events.
	Command string
	Args    string

	// Callback events.
	Token      string
	CallbackID string
	Message    MessageRef

	// Voice events.
	Audio []byte
}

// Button is one inline keyboard button.
type Button struct {
	Label string
	Token string
}

// Markup is an inline keyboard attached to an outbound message.
type Markup struct {
	Rows [][]Button
}

// Row appends a row of buttons and returns the markup for chaining.
func (m *Markup) Row(buttons ...Button) *Markup {
	m.Rows = append(m.Rows, buttons)

	return m
}

// MenuCommand is one entry of the persistent bot command menu.
type MenuCommand struct {
	Command     string
	Description string
}

// Gateway is the messaging transport consumed by the bot core.
type Gateway interface {
	Start(ctx context.Context) error
	Stop() error

	// Events returns the inbound event stream. The channel is closed
	// when the gateway stops.
	Events() <-chan Event

	Send(ctx context.Context, userID int64, text string, markup *Markup) error
	SendPhoto(ctx context.Context, userID int64, image []byte, caption string) error
	Edit(ctx context.Context, ref MessageRef, text string) error

	// AckCallback answers a callback query so the client stops showing
	// a spinner. With alert=true the text pops up as a dialog.
	AckCallback(ctx context.Context, callbackID, text string, alert bool) error

	// SetCommandMenu registers the persistent command menu.
	SetCommandMenu(ctx context.Context, commands []MenuCommand) error
}
