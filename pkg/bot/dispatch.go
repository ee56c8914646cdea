package bot

import (
	"context"
	"strings"

	"github.com/pcwarden/pcwarden/pkg/auth"
	"github.com/pcwarden/pcwarden/pkg/gateway"
	"github.com/pcwarden/pcwarden/pkg/store"
)

// Fixed reply texts. The denial text is identical for every gated
// command so it leaks nothing about which commands exist.
const (
	accessDeniedText = "⛔ Access denied. Send /request to ask for access."
	unavailableText  = "⚠️ Something went wrong. Please try again later."
	unknownText      = "Unknown command. Send /help for the list."
)

// Callback token prefixes.
const (
	cbApprovePrefix = "auth_approve_"
	cbRejectPrefix  = "auth_reject_"
	cbConfirmPrefix = "confirm_"
	cbDismissPrefix = "dismiss_"
	cbMenuPrefix    = "go_"
)

// handlerFunc is one command handler. user is the stored record for
// the sender, level their evaluated trust.
type handlerFunc func(
	ctx context.Context,
	ev gateway.Event,
	user *store.User,
	level auth.TrustLevel,
) error

// command is one dispatcher table entry.
type command struct {
	name        string
	description string
	level       auth.TrustLevel
	handler     handlerFunc
	hidden      bool // excluded from the persistent command menu
}

func (b *Bot) registerCommands() {
	for _, cmd := range []*command{
		{"start", "Start and show the menu", auth.Unknown, b.handleStart, false},
		{"help", "List available commands", auth.Unknown, b.handleHelp, false},
		{"request", "Request access", auth.Unknown, b.handleRequest, false},
		{"status", "PC status and metrics", auth.Authorized, b.handleStatus, false},
		{"processes", "Top processes by memory", auth.Authorized, b.handleProcesses, false},
		{"screenshot", "Capture the desktop", auth.Authorized, b.handleScreenshot, false},
		{"wake", "Wake the PC over LAN", auth.Authorized, b.handleWake, false},
		{"cmd", "Run a shell command", auth.Authorized, b.handleCmd, false},
		{"dota", "Dota player status", auth.Authorized, b.handleDota, false},
		{"dotahistory", "Recent Dota matches", auth.Authorized, b.handleDotaHistory, false},
		{"dotalive", "Live Dota match", auth.Authorized, b.handleDotaLive, false},
		{"dotabuffs", "Permanent buffs for a match", auth.Authorized, b.handleDotaBuffs, true},
		{"notifications", "Toggle notifications", auth.Authorized, b.handleNotifications, false},
		{"reboot", "Reboot the PC", auth.Admin, b.handleReboot, false},
		{"shutdown", "Shut the PC down", auth.Admin, b.handleShutdown, false},
		{"cancel", "Cancel a scheduled power action", auth.Admin, b.handleCancel, false},
		{"approve", "Approve a user", auth.Admin, b.handleApprove, true},
		{"reject", "Reject a user", auth.Admin, b.handleReject, true},
		{"pending", "List pending access requests", auth.Admin, b.handlePending, true},
		{"users", "List authorized users", auth.Admin, b.handleUsers, true},
		{"audit", "Recent audit entries", auth.Admin, b.handleAudit, true},
		{"broadcast", "Message all subscribers", auth.Admin, b.handleBroadcast, true},
	} {
		b.commands[cmd.name] = cmd
		b.menu = append(b.menu, cmd.name)
	}
}

// menuCommands returns the persistent command menu entries.
func (b *Bot) menuCommands() []gateway.MenuCommand {
	menu := make([]gateway.MenuCommand, 0, len(b.menu))

	for _, name := range b.menu {
		cmd := b.commands[name]
		if cmd.hidden {
			continue
		}

		menu = append(menu, gateway.MenuCommand{
			Command:     cmd.name,
			Description: cmd.description,
		})
	}

	return menu
}

// dispatch routes one event. Trust is evaluated here, once, before
// any handler runs; a denial produces the fixed denial reply and
// nothing else: no handler, no state change, no audit entry.
func (b *Bot) dispatch(ctx context.Context, ev gateway.Event) {
	user, _, err := b.auth.EnsureUser(ctx, ev.From)
	if err != nil {
		b.fail(ctx, ev, err)

		return
	}

	level, err := b.auth.Evaluate(ctx, ev.From.ID)
	if err != nil {
		b.fail(ctx, ev, err)

		return
	}

	switch ev.Kind {
	case gateway.EventCommand:
		b.dispatchCommand(ctx, ev, user, level)
	case gateway.EventCallback:
		b.dispatchCallback(ctx, ev, user, level)
	case gateway.EventVoice:
		b.dispatchVoice(ctx, ev, user, level)
	}
}

func (b *Bot) dispatchCommand(
	ctx context.Context,
	ev gateway.Event,
	user *store.User,
	level auth.TrustLevel,
) {
	cmd, ok := b.commands[ev.Command]
	if !ok {
		text := unknownText
		if level < auth.Authorized {
			text = accessDeniedText
		}

		b.reply(ctx, ev, text)

		return
	}

	if level < cmd.level {
		b.reply(ctx, ev, accessDeniedText)

		return
	}

	if err := cmd.handler(ctx, ev, user, level); err != nil {
		b.fail(ctx, ev, err)
	}
}

func (b *Bot) dispatchCallback(
	ctx context.Context,
	ev gateway.Event,
	user *store.User,
	level auth.TrustLevel,
) {
	token := ev.Token

	switch {
	case strings.HasPrefix(token, cbApprovePrefix):
		b.handleDecisionCallback(ctx, ev, level, strings.TrimPrefix(token, cbApprovePrefix), true)
	case strings.HasPrefix(token, cbRejectPrefix):
		b.handleDecisionCallback(ctx, ev, level, strings.TrimPrefix(token, cbRejectPrefix), false)
	case strings.HasPrefix(token, cbConfirmPrefix):
		b.handleConfirmCallback(ctx, ev, user, level, strings.TrimPrefix(token, cbConfirmPrefix))
	case strings.HasPrefix(token, cbDismissPrefix):
		b.handleDismissCallback(ctx, ev, strings.TrimPrefix(token, cbDismissPrefix))
	case strings.HasPrefix(token, cbMenuPrefix):
		b.handleMenuCallback(ctx, ev, user, level, strings.TrimPrefix(token, cbMenuPrefix))
	default:
		b.ack(ctx, ev, "", false)
	}
}

// handleMenuCallback routes an inline menu button to the command of
// the same name, under the same gating as the typed command.
func (b *Bot) handleMenuCallback(
	ctx context.Context,
	ev gateway.Event,
	user *store.User,
	level auth.TrustLevel,
	name string,
) {
	cmd, ok := b.commands[name]
	if !ok {
		b.ack(ctx, ev, unknownText, false)

		return
	}

	if level < cmd.level {
		b.ack(ctx, ev, accessDeniedText, true)

		return
	}

	b.ack(ctx, ev, "", false)

	// Re-dispatch as the equivalent command so handlers see one shape.
	forwarded := ev
	forwarded.Kind = gateway.EventCommand
	forwarded.Command = name
	forwarded.Args = ""

	if err := cmd.handler(ctx, forwarded, user, level); err != nil {
		b.fail(ctx, forwarded, err)
	}
}

// reply sends text to the event's sender.
func (b *Bot) reply(ctx context.Context, ev gateway.Event, text string) {
	b.send(ctx, ev, text, nil)
}

func (b *Bot) send(
	ctx context.Context,
	ev gateway.Event,
	text string,
	markup *gateway.Markup,
) {
	if err := b.gw.Send(ctx, ev.From.ID, text, markup); err != nil {
		b.log.WithError(err).
			WithField("telegram_id", ev.From.ID).
			Warn("Failed to send reply")
	}
}

// ack answers a callback query.
func (b *Bot) ack(ctx context.Context, ev gateway.Event, text string, alert bool) {
	if ev.CallbackID == "" {
		return
	}

	if err := b.gw.AckCallback(ctx, ev.CallbackID, text, alert); err != nil {
		b.log.WithError(err).Warn("Failed to answer callback")
	}
}

// fail logs a handler fault and sends the generic unavailable reply.
// The real error stays in the log; the user never sees internals.
func (b *Bot) fail(ctx context.Context, ev gateway.Event, err error) {
	b.log.WithError(err).
		WithField("telegram_id", ev.From.ID).
		WithField("command", ev.Command).
		Error("Handler failed")

	b.reply(ctx, ev, unavailableText)
}

// audit appends one audit entry. Audit failures are logged, never
// surfaced to the user.
func (b *Bot) audit(
	ctx context.Context,
	user *store.User,
	action, details, origin string,
) {
	entry := &store.AuditEntry{
		Action:  action,
		Details: details,
		Origin:  origin,
	}

	if user != nil {
		entry.UserID = &user.ID
	}

	if err := b.store.AddAudit(ctx, entry); err != nil {
		b.log.WithError(err).Warn("Failed to write audit entry")
	}
}

// originOf names the event source for audit entries.
func originOf(ev gateway.Event) string {
	switch ev.Kind {
	case gateway.EventCallback:
		return "callback"
	case gateway.EventVoice:
		return "voice"
	default:
		return "command"
	}
}
