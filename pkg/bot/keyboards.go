package bot

import (
	"strconv"

	"github.com/pcwarden/pcwarden/pkg/auth"
	"github.com/pcwarden/pcwarden/pkg/gateway"
)

// mainMenu builds the inline menu for a user's trust level. Buttons
// route through the same gating as typed commands, so showing or
// hiding one is cosmetic only.
func (b *Bot) mainMenu(level auth.TrustLevel) *gateway.Markup {
	m := &gateway.Markup{}

	if level < auth.Authorized {
		return m.Row(
			gateway.Button{Label: "🔑 Request access", Token: cbMenuPrefix + "request"},
		)
	}

	m.Row(
		gateway.Button{Label: "📊 Status", Token: cbMenuPrefix + "status"},
		gateway.Button{Label: "📋 Processes", Token: cbMenuPrefix + "processes"},
	)
	m.Row(
		gateway.Button{Label: "📸 Screenshot", Token: cbMenuPrefix + "screenshot"},
		gateway.Button{Label: "⚡ Wake", Token: cbMenuPrefix + "wake"},
	)

	if b.dota != nil {
		m.Row(
			gateway.Button{Label: "🎮 Dota", Token: cbMenuPrefix + "dota"},
			gateway.Button{Label: "📺 Live", Token: cbMenuPrefix + "dotalive"},
		)
	}

	m.Row(
		gateway.Button{Label: "🔔 Notifications", Token: cbMenuPrefix + "notifications"},
	)

	if level >= auth.Admin {
		m.Row(
			gateway.Button{Label: "🔄 Reboot", Token: cbMenuPrefix + "reboot"},
			gateway.Button{Label: "⏻ Shutdown", Token: cbMenuPrefix + "shutdown"},
		)
		m.Row(
			gateway.Button{Label: "👥 Pending", Token: cbMenuPrefix + "pending"},
			gateway.Button{Label: "📜 Audit", Token: cbMenuPrefix + "audit"},
		)
	}

	return m
}

// confirmMarkup builds the confirm/dismiss prompt for a pending
// destructive action.
func confirmMarkup(token string) *gateway.Markup {
	m := &gateway.Markup{}

	return m.Row(
		gateway.Button{Label: "✅ Confirm", Token: cbConfirmPrefix + token},
		gateway.Button{Label: "❌ Cancel", Token: cbDismissPrefix + token},
	)
}

// decisionMarkup builds approve/reject buttons for an access request
// notification.
func decisionMarkup(telegramID int64) *gateway.Markup {
	id := strconv.FormatInt(telegramID, 10)
	m := &gateway.Markup{}

	return m.Row(
		gateway.Button{Label: "✅ Approve", Token: cbApprovePrefix + id},
		gateway.Button{Label: "❌ Reject", Token: cbRejectPrefix + id},
	)
}
