package bot

import (
	"context"
	"fmt"
	"strings"

	"github.com/pcwarden/pcwarden/pkg/auth"
	"github.com/pcwarden/pcwarden/pkg/gateway"
	"github.com/pcwarden/pcwarden/pkg/store"
)

// handleNotifications flips the sender's notification subscription.
func (b *Bot) handleNotifications(
	ctx context.Context,
	ev gateway.Event,
	user *store.User,
	_ auth.TrustLevel,
) error {
	user.NotificationsEnabled = !user.NotificationsEnabled

	if err := b.store.UpdateUser(ctx, user); err != nil {
		return fmt.Errorf("updating notification flag: %w", err)
	}

	b.audit(
		ctx, user, "notifications_toggle",
		fmt.Sprintf("enabled=%t", user.NotificationsEnabled),
		originOf(ev),
	)

	if user.NotificationsEnabled {
		b.reply(ctx, ev, "🔔 Notifications enabled.")
	} else {
		b.reply(ctx, ev, "🔕 Notifications disabled.")
	}

	return nil
}

// handleBroadcast delivers an admin's message to every subscriber.
func (b *Bot) handleBroadcast(
	ctx context.Context,
	ev gateway.Event,
	user *store.User,
	_ auth.TrustLevel,
) error {
	text := strings.TrimSpace(ev.Args)
	if text == "" {
		b.reply(ctx, ev, "Usage: /broadcast <message>")

		return nil
	}

	delivered := b.notifier.NotifyAllSubscribed(ctx, "📢 "+text)

	b.audit(ctx, user, "broadcast", text, originOf(ev))
	b.reply(ctx, ev, fmt.Sprintf("Delivered to %d subscriber(s).", delivered))

	return nil
}
