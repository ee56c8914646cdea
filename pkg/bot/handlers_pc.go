package bot

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/pcwarden/pcwarden/pkg/auth"
	"github.com/pcwarden/pcwarden/pkg/gateway"
	"github.com/pcwarden/pcwarden/pkg/pcman"
	"github.com/pcwarden/pcwarden/pkg/store"
)

const (
	// processLimit caps the /processes listing.
	processLimit = 10

	// outputLimit keeps /cmd replies inside the transport's message
	// size bounds.
	outputLimit = 3500

	// powerDelay is the grace period before a confirmed reboot or
	// shutdown fires, leaving room for /cancel.
	powerDelay = time.Minute
)

func (b *Bot) handleStatus(
	ctx context.Context,
	ev gateway.Event,
	user *store.User,
	_ auth.TrustLevel,
) error {
	info, err := b.pc.SystemInfo(ctx)
	if err != nil {
		b.log.WithError(err).Warn("System info unavailable")

		if uerr := b.store.UpdatePCStatus(
			ctx, false, b.cfg.PC.IPAddress, "",
		); uerr != nil {
			return fmt.Errorf("recording machine status: %w", uerr)
		}

		b.reply(ctx, ev, "🔴 The PC appears to be offline. Try /wake.")

		return nil
	}

	if err := b.store.UpdatePCStatus(
		ctx, true, b.cfg.PC.IPAddress, info.Hostname,
	); err != nil {
		return fmt.Errorf("recording machine status: %w", err)
	}

	b.audit(ctx, user, "status", "", originOf(ev))
	b.reply(ctx, ev, formatSystemInfo(info))

	return nil
}

func (b *Bot) handleProcesses(
	ctx context.Context,
	ev gateway.Event,
	user *store.User,
	_ auth.TrustLevel,
) error {
	procs, err := b.pc.Processes(ctx, processLimit)
	if err != nil {
		return fmt.Errorf("listing processes: %w", err)
	}

	if len(procs) == 0 {
		b.reply(ctx, ev, "No process information available.")

		return nil
	}

	var sb strings.Builder

	sb.WriteString("<b>Top processes by memory</b>\n")

	for i, p := range procs {
		fmt.Fprintf(
			&sb, "%d. %s — cpu %.1f%%, mem %.1f%%\n",
			i+1, html.EscapeString(p.Name), p.CPUPercent, p.MemPercent,
		)
	}

	b.audit(ctx, user, "processes", "", originOf(ev))
	b.reply(ctx, ev, sb.String())

	return nil
}

func (b *Bot) handleScreenshot(
	ctx context.Context,
	ev gateway.Event,
	user *store.User,
	_ auth.TrustLevel,
) error {
	image, err := b.pc.Screenshot(ctx)
	if err != nil {
		b.log.WithError(err).Warn("Screenshot failed")
		b.reply(ctx, ev, "📸 Could not capture the screen. Is a session running?")

		return nil
	}

	if err := b.gw.SendPhoto(ctx, ev.From.ID, image, "Current desktop"); err != nil {
		return fmt.Errorf("sending screenshot: %w", err)
	}

	b.audit(ctx, user, "screenshot", "", originOf(ev))

	return nil
}

func (b *Bot) handleCmd(
	ctx context.Context,
	ev gateway.Event,
	user *store.User,
	level auth.TrustLevel,
) error {
	commandLine := strings.TrimSpace(ev.Args)
	if commandLine == "" {
		b.reply(ctx, ev, "Usage: /cmd <shell command>")

		return nil
	}

	// Admins run anything; everyone else goes through the allowlist.
	var allowlist []string

	if level < auth.Admin {
		allowlist = append([]string{}, b.cfg.PC.ExtraCommands...)
	}

	result := b.pc.Execute(ctx, commandLine, allowlist)

	if result.Refused {
		// A refused command never ran, so it leaves no audit entry.
		b.reply(ctx, ev, "⛔ "+result.Error)

		return nil
	}

	b.audit(ctx, user, "cmd", commandLine, originOf(ev))

	switch {
	case result.TimedOut:
		b.reply(ctx, ev, "⏱ "+result.Error)
	case !result.Success:
		b.reply(ctx, ev, fmt.Sprintf(
			"❌ Command failed: %s\n<pre>%s</pre>",
			html.EscapeString(result.Error),
			html.EscapeString(truncate(result.Output, outputLimit)),
		))
	default:
		output := strings.TrimSpace(result.Output)
		if output == "" {
			output = "(no output)"
		}

		b.reply(ctx, ev, fmt.Sprintf(
			"<pre>%s</pre>", html.EscapeString(truncate(output, outputLimit)),
		))
	}

	return nil
}

func (b *Bot) handleReboot(
	ctx context.Context,
	ev gateway.Event,
	_ *store.User,
	_ auth.TrustLevel,
) error {
	return b.promptConfirm(ctx, ev, actionReboot)
}

func (b *Bot) handleShutdown(
	ctx context.Context,
	ev gateway.Event,
	_ *store.User,
	_ auth.TrustLevel,
) error {
	return b.promptConfirm(ctx, ev, actionShutdown)
}

// promptConfirm starts the two-step confirmation for a destructive
// action. Nothing happens to the machine until the confirm button is
// pressed.
func (b *Bot) promptConfirm(
	ctx context.Context,
	ev gateway.Event,
	action string,
) error {
	token := b.confirms.add(ev.From.ID, action)

	b.send(ctx, ev, fmt.Sprintf(
		"⚠️ Really %s the PC? This interrupts anything running.", action,
	), confirmMarkup(token))

	return nil
}

// handleConfirmCallback executes a previously prompted destructive
// action.
func (b *Bot) handleConfirmCallback(
	ctx context.Context,
	ev gateway.Event,
	user *store.User,
	level auth.TrustLevel,
	token string,
) {
	if level < auth.Admin {
		b.ack(ctx, ev, accessDeniedText, true)

		return
	}

	pending, err := b.confirms.take(token, ev.From.ID)
	if err != nil {
		text := "This confirmation is no longer valid."
		if errors.Is(err, errConfirmExpired) {
			text = "This confirmation has expired. Issue the command again."
		}

		b.ack(ctx, ev, text, true)

		return
	}

	switch pending.action {
	case actionReboot:
		err = b.pc.ScheduleReboot(ctx, powerDelay)
	case actionShutdown:
		err = b.pc.ScheduleShutdown(ctx, powerDelay)
	}

	if err != nil {
		b.fail(ctx, ev, fmt.Errorf("scheduling %s: %w", pending.action, err))
		b.ack(ctx, ev, unavailableText, true)

		return
	}

	b.ack(ctx, ev, "", false)
	b.audit(ctx, user, pending.action, "", originOf(ev))

	text := fmt.Sprintf(
		"✅ %s scheduled in %s. Send /cancel to abort.",
		capitalize(pending.action), powerDelay,
	)

	if ev.Message.MessageID != 0 {
		if err := b.gw.Edit(ctx, ev.Message, text); err != nil {
			b.log.WithError(err).Warn("Failed to edit confirmation message")
		}
	} else {
		b.reply(ctx, ev, text)
	}

	b.notifier.NotifyAdmins(ctx, fmt.Sprintf(
		"⚠️ %s scheduled by %s", pending.action, user.DisplayName(),
	))
}

// handleDismissCallback cancels a pending confirmation prompt.
func (b *Bot) handleDismissCallback(
	ctx context.Context,
	ev gateway.Event,
	token string,
) {
	b.confirms.cancel(token, ev.From.ID)
	b.ack(ctx, ev, "", false)

	if ev.Message.MessageID != 0 {
		if err := b.gw.Edit(ctx, ev.Message, "Action cancelled."); err != nil {
			b.log.WithError(err).Warn("Failed to edit confirmation message")
		}
	}
}

func (b *Bot) handleCancel(
	ctx context.Context,
	ev gateway.Event,
	user *store.User,
	_ auth.TrustLevel,
) error {
	if err := b.pc.CancelShutdown(ctx); err != nil {
		b.log.WithError(err).Warn("Cancel failed")
		b.reply(ctx, ev, "Nothing to cancel, or the cancel failed.")

		return nil
	}

	b.audit(ctx, user, "cancel", "", originOf(ev))
	b.reply(ctx, ev, "✅ Scheduled power action cancelled.")

	return nil
}

func formatSystemInfo(info *pcman.SystemInfo) string {
	return fmt.Sprintf(
		"🟢 <b>%s</b>\n"+
			"CPU: %.1f%%\n"+
			"Memory: %.1f / %.1f GB (%.1f%%)\n"+
			"Disk: %.1f / %.1f GB (%.1f%%)\n"+
			"Uptime: %s",
		html.EscapeString(info.Hostname),
		info.CPUPercent,
		gigabytes(info.MemUsed), gigabytes(info.MemTotal), info.MemPercent,
		gigabytes(info.DiskUsed), gigabytes(info.DiskTotal), info.DiskPercent,
		pcman.FormatUptime(info.Uptime),
	)
}

func gigabytes(n uint64) float64 {
	return float64(n) / (1 << 30)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}

	return strings.ToUpper(s[:1]) + s[1:]
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}

	return s[:limit] + "\n… (truncated)"
}
