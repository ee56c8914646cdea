package bot

import (
	"context"
	"fmt"

	"github.com/pcwarden/pcwarden/pkg/auth"
	"github.com/pcwarden/pcwarden/pkg/gateway"
	"github.com/pcwarden/pcwarden/pkg/store"
	"github.com/pcwarden/pcwarden/pkg/wol"
)

// wakeRetries is how many magic packet attempts one /wake makes.
const wakeRetries = 3

func (b *Bot) handleWake(
	ctx context.Context,
	ev gateway.Event,
	user *store.User,
	_ auth.TrustLevel,
) error {
	if b.waker == nil {
		b.reply(ctx, ev, "Wake-on-LAN is not configured (no MAC address).")

		return nil
	}

	if err := b.store.RecordWakeAttempt(ctx); err != nil {
		b.log.WithError(err).Warn("Failed to record wake attempt")
	}

	b.reply(ctx, ev, "📡 Sending magic packet…")

	if !b.waker.Wake(ctx, wakeRetries) {
		b.audit(ctx, user, "wake", "send failed", originOf(ev))
		b.reply(ctx, ev, "❌ Could not send the magic packet. Check the network.")

		return nil
	}

	b.audit(ctx, user, "wake", "", originOf(ev))

	// Without a reachable IP we cannot verify; the packet is out.
	if b.cfg.PC.IPAddress == "" {
		b.reply(ctx, ev, "✅ Magic packet sent.")

		return nil
	}

	online := wol.VerifyOnline(
		ctx, b.log,
		b.cfg.PC.IPAddress, 22,
		b.cfg.PC.WakeDeadline(),
	)

	if err := b.store.UpdatePCStatus(
		ctx, online, b.cfg.PC.IPAddress, "",
	); err != nil {
		return fmt.Errorf("recording machine status: %w", err)
	}

	if online {
		b.reply(ctx, ev, "🟢 The PC is up!")
	} else {
		b.reply(ctx, ev, fmt.Sprintf(
			"⏳ Packet sent, but the PC did not respond within %s. "+
				"It may still be booting.",
			b.cfg.PC.WakeDeadline(),
		))
	}

	return nil
}
