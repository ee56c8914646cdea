package bot

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"

	"github.com/pcwarden/pcwarden/pkg/auth"
	"github.com/pcwarden/pcwarden/pkg/gateway"
	"github.com/pcwarden/pcwarden/pkg/store"
)

func (b *Bot) handleStart(
	ctx context.Context,
	ev gateway.Event,
	user *store.User,
	level auth.TrustLevel,
) error {
	var text string

	switch {
	case level >= auth.Authorized:
		text = fmt.Sprintf(
			"👋 Hello, %s!\nThe PC is under control. Pick an action:",
			html.EscapeString(user.DisplayName()),
		)
	case level == auth.PendingApproval:
		text = "⏳ Your access request is waiting for an admin decision."
	default:
		text = "👋 This bot controls a private PC.\n" +
			"Access is restricted — send /request to ask for it."
	}

	b.send(ctx, ev, text, b.mainMenu(level))

	return nil
}

func (b *Bot) handleHelp(
	ctx context.Context,
	ev gateway.Event,
	_ *store.User,
	level auth.TrustLevel,
) error {
	var sb strings.Builder

	sb.WriteString("<b>Commands</b>\n")

	for _, name := range b.menu {
		cmd := b.commands[name]
		if level < cmd.level {
			continue
		}

		fmt.Fprintf(&sb, "/%s — %s\n", cmd.name, cmd.description)
	}

	b.reply(ctx, ev, sb.String())

	return nil
}

func (b *Bot) handleRequest(
	ctx context.Context,
	ev gateway.Event,
	user *store.User,
	level auth.TrustLevel,
) error {
	if level >= auth.Authorized {
		b.reply(ctx, ev, "You already have access.")

		return nil
	}

	_, created, err := b.auth.RequestAccess(ctx, user)
	if err != nil {
		return fmt.Errorf("requesting access: %w", err)
	}

	if !created {
		b.reply(ctx, ev, "⏳ Your request is already pending.")

		return nil
	}

	text := fmt.Sprintf(
		"🔔 Access request from %s (id %d)",
		html.EscapeString(user.DisplayName()), user.TelegramID,
	)

	for _, adminID := range b.cfg.Telegram.AdminIDs {
		if err := b.gw.Send(
			ctx, adminID, text, decisionMarkup(user.TelegramID),
		); err != nil {
			b.log.WithError(err).
				WithField("admin_id", adminID).
				Warn("Failed to notify admin about access request")
		}
	}

	b.audit(ctx, user, "auth_request", "", originOf(ev))
	b.reply(ctx, ev, "✅ Request sent. You will be notified of the decision.")

	return nil
}

func (b *Bot) handleApprove(
	ctx context.Context,
	ev gateway.Event,
	user *store.User,
	_ auth.TrustLevel,
) error {
	return b.decide(ctx, ev, user, strings.TrimSpace(ev.Args), true)
}

func (b *Bot) handleReject(
	ctx context.Context,
	ev gateway.Event,
	user *store.User,
	_ auth.TrustLevel,
) error {
	return b.decide(ctx, ev, user, strings.TrimSpace(ev.Args), false)
}

// decide resolves an access request for the user identified by
// rawID, shared by the /approve and /reject commands and the inline
// decision buttons.
func (b *Bot) decide(
	ctx context.Context,
	ev gateway.Event,
	admin *store.User,
	rawID string,
	approve bool,
) error {
	verb := "reject"
	if approve {
		verb = "approve"
	}

	targetID, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		b.reply(ctx, ev, fmt.Sprintf("Usage: /%s <telegram_id>", verb))

		return nil
	}

	var target *store.User

	if approve {
		target, err = b.auth.Approve(ctx, targetID, ev.From.ID)
	} else {
		target, err = b.auth.Reject(ctx, targetID, ev.From.ID)
	}

	if err != nil {
		if isNotFound(err) {
			b.reply(ctx, ev, fmt.Sprintf("User %d is not known to the bot.", targetID))

			return nil
		}

		return fmt.Errorf("%sing user %d: %w", verb, targetID, err)
	}

	if approve {
		b.notifier.NotifyUser(ctx, targetID, "✅ Your access request was approved!")
	} else {
		b.notifier.NotifyUser(ctx, targetID, "❌ Your access request was rejected.")
	}

	b.audit(ctx, admin, "auth_"+verb, rawID, originOf(ev))
	b.reply(ctx, ev, fmt.Sprintf(
		"Done: %s %sd.", html.EscapeString(target.DisplayName()), verb,
	))

	return nil
}

// handleDecisionCallback handles the approve/reject buttons attached
// to an access request notification.
func (b *Bot) handleDecisionCallback(
	ctx context.Context,
	ev gateway.Event,
	level auth.TrustLevel,
	rawID string,
	approve bool,
) {
	if level < auth.Admin {
		b.ack(ctx, ev, accessDeniedText, true)

		return
	}

	admin, err := b.store.GetUserByTelegramID(ctx, ev.From.ID)
	if err != nil && !isNotFound(err) {
		b.ack(ctx, ev, unavailableText, true)

		return
	}

	forwarded := ev
	if err := b.decide(ctx, forwarded, admin, rawID, approve); err != nil {
		b.fail(ctx, ev, err)
		b.ack(ctx, ev, unavailableText, true)

		return
	}

	b.ack(ctx, ev, "", false)

	verb := "rejected"
	if approve {
		verb = "approved"
	}

	if ev.Message.MessageID != 0 {
		if err := b.gw.Edit(ctx, ev.Message, fmt.Sprintf(
			"Request from %s: %s.", rawID, verb,
		)); err != nil {
			b.log.WithError(err).Warn("Failed to edit decision message")
		}
	}
}

func (b *Bot) handlePending(
	ctx context.Context,
	ev gateway.Event,
	_ *store.User,
	_ auth.TrustLevel,
) error {
	reqs, err := b.store.PendingAuthRequests(ctx)
	if err != nil {
		return fmt.Errorf("listing pending requests: %w", err)
	}

	if len(reqs) == 0 {
		b.reply(ctx, ev, "No pending access requests.")

		return nil
	}

	for _, req := range reqs {
		text := fmt.Sprintf(
			"⏳ %s (id %d), requested %s",
			html.EscapeString(req.User.DisplayName()),
			req.User.TelegramID,
			req.RequestedAt.Format("2006-01-02 15:04"),
		)

		b.send(ctx, ev, text, decisionMarkup(req.User.TelegramID))
	}

	return nil
}

func (b *Bot) handleUsers(
	ctx context.Context,
	ev gateway.Event,
	_ *store.User,
	_ auth.TrustLevel,
) error {
	users, err := b.store.ListAuthorizedUsers(ctx)
	if err != nil {
		return fmt.Errorf("listing users: %w", err)
	}

	if len(users) == 0 {
		b.reply(ctx, ev, "Nobody is authorized yet.")

		return nil
	}

	var sb strings.Builder

	sb.WriteString("<b>Authorized users</b>\n")

	for _, u := range users {
		role := ""
		if u.IsAdmin {
			role = " (admin)"
		}

		bell := "🔕"
		if u.NotificationsEnabled {
			bell = "🔔"
		}

		fmt.Fprintf(
			&sb, "%s %s%s — id %d\n",
			bell, html.EscapeString(u.DisplayName()), role, u.TelegramID,
		)
	}

	b.reply(ctx, ev, sb.String())

	return nil
}

func (b *Bot) handleAudit(
	ctx context.Context,
	ev gateway.Event,
	_ *store.User,
	_ auth.TrustLevel,
) error {
	entries, err := b.store.RecentAudit(ctx, 20)
	if err != nil {
		return fmt.Errorf("listing audit entries: %w", err)
	}

	if len(entries) == 0 {
		b.reply(ctx, ev, "The audit log is empty.")

		return nil
	}

	var sb strings.Builder

	sb.WriteString("<b>Recent actions</b>\n")

	for _, e := range entries {
		actor := "system"
		if e.UserID != nil {
			actor = fmt.Sprintf("user %d", *e.UserID)
		}

		fmt.Fprintf(
			&sb, "%s — %s by %s",
			e.CreatedAt.Format("01-02 15:04"), e.Action, actor,
		)

		if e.Details != "" {
			fmt.Fprintf(&sb, " (%s)", html.EscapeString(e.Details))
		}

		sb.WriteString("\n")
	}

	b.reply(ctx, ev, sb.String())

	return nil
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
