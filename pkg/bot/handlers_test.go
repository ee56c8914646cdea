package bot

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifications_ToggleTwiceRestoresOriginal(t *testing.T) {
	tb := newTestBot(t)
	seeded := tb.seedUser(t, 42, true, false)
	require.True(t, seeded.NotificationsEnabled)

	tb.command(42, "notifications", "")

	user, err := tb.store.GetUserByTelegramID(context.Background(), 42)
	require.NoError(t, err)
	assert.False(t, user.NotificationsEnabled)

	tb.command(42, "notifications", "")

	user, err = tb.store.GetUserByTelegramID(context.Background(), 42)
	require.NoError(t, err)
	assert.True(t, user.NotificationsEnabled,
		"toggling twice restores the original subscription")
}

func TestCmd_AllowlistRefusalLeavesNoAudit(t *testing.T) {
	tb := newTestBot(t)
	tb.seedUser(t, 42, true, false)

	tb.command(42, "cmd", "rm -rf /")

	assert.Empty(t, tb.pc.executed, "the command never ran")
	assert.Empty(t, tb.auditEntries(t), "refusals are not audited")

	texts := tb.gw.textsTo(42)
	require.Len(t, texts, 1)
	assert.Contains(t, texts[0], "not in the allowed list")
}

func TestCmd_SafeCommandRunsForAuthorized(t *testing.T) {
	tb := newTestBot(t)
	tb.seedUser(t, 42, true, false)

	tb.command(42, "cmd", "uptime")

	assert.Equal(t, []string{"uptime"}, tb.pc.executed)

	entries := tb.auditEntries(t)
	require.Len(t, entries, 1)
	assert.Equal(t, "cmd", entries[0].Action)
	assert.Equal(t, "uptime", entries[0].Details)
}

func TestCmd_ExtraCommandsExtendAllowlist(t *testing.T) {
	tb := newTestBot(t)
	tb.seedUser(t, 42, true, false)

	tb.command(42, "cmd", "sensors -j")

	assert.Equal(t, []string{"sensors -j"}, tb.pc.executed)
}

func TestCmd_AdminBypassesAllowlist(t *testing.T) {
	tb := newTestBot(t)

	tb.command(adminID, "cmd", "systemctl restart foo")

	assert.Equal(t, []string{"systemctl restart foo"}, tb.pc.executed)
}

func TestRequest_NotifiesAdminsWithDecisionButtons(t *testing.T) {
	tb := newTestBot(t)
	tb.seedUser(t, 42, false, false)

	tb.command(42, "request", "")

	adminTexts := tb.gw.textsTo(adminID)
	require.Len(t, adminTexts, 1)
	assert.Contains(t, adminTexts[0], "Access request")

	token := tb.gw.buttonToken(cbApprovePrefix)
	assert.Equal(t, cbApprovePrefix+"42", token)

	entries := tb.auditEntries(t)
	require.Len(t, entries, 1)
	assert.Equal(t, "auth_request", entries[0].Action)
}

func TestRequest_DuplicateIsNotResent(t *testing.T) {
	tb := newTestBot(t)
	tb.seedUser(t, 42, false, false)

	tb.command(42, "request", "")
	tb.command(42, "request", "")

	assert.Len(t, tb.gw.textsTo(adminID), 1,
		"admins are pinged once per pending request")

	texts := tb.gw.textsTo(42)
	require.Len(t, texts, 2)
	assert.Contains(t, texts[1], "already pending")
}

func TestApprove_ViaCallbackAuthorizesAndNotifies(t *testing.T) {
	tb := newTestBot(t)
	tb.seedUser(t, 42, false, false)

	tb.command(42, "request", "")
	tb.callback(adminID, cbApprovePrefix+"42")

	user, err := tb.store.GetUserByTelegramID(context.Background(), 42)
	require.NoError(t, err)
	assert.True(t, user.IsAuthorized)
	assert.False(t, user.IsAdmin)

	texts := tb.gw.textsTo(42)
	assert.Contains(t, texts[len(texts)-1], "approved")
}

func TestApprove_UnknownUserAnswersNotFound(t *testing.T) {
	tb := newTestBot(t)

	tb.command(adminID, "approve", "555")

	texts := tb.gw.textsTo(adminID)
	require.Len(t, texts, 1)
	assert.Contains(t, texts[0], "not known")
}

func TestApprove_MalformedArgument(t *testing.T) {
	tb := newTestBot(t)

	tb.command(adminID, "approve", "bob")

	texts := tb.gw.textsTo(adminID)
	require.Len(t, texts, 1)
	assert.Contains(t, texts[0], "Usage: /approve")
}

func TestReject_ViaCommandNeverAuthorizes(t *testing.T) {
	tb := newTestBot(t)
	tb.seedUser(t, 42, false, false)

	tb.command(42, "request", "")
	tb.command(adminID, "reject", "42")

	user, err := tb.store.GetUserByTelegramID(context.Background(), 42)
	require.NoError(t, err)
	assert.False(t, user.IsAuthorized)

	texts := tb.gw.textsTo(42)
	assert.Contains(t, texts[len(texts)-1], "rejected")
}

func TestWake_NotConfigured(t *testing.T) {
	tb := newTestBot(t)

	tb.command(adminID, "wake", "")

	texts := tb.gw.textsTo(adminID)
	require.Len(t, texts, 1)
	assert.Contains(t, texts[0], "not configured")
	assert.Empty(t, tb.auditEntries(t))
}

func TestCancel_Audited(t *testing.T) {
	tb := newTestBot(t)

	tb.command(adminID, "cancel", "")

	assert.Equal(t, 1, tb.pc.cancelled)

	entries := tb.auditEntries(t)
	require.Len(t, entries, 1)
	assert.Equal(t, "cancel", entries[0].Action)
}

func TestBroadcast_DeliversToSubscribers(t *testing.T) {
	tb := newTestBot(t)
	tb.seedUser(t, 42, true, false)
	optOut := tb.seedUser(t, 43, true, false)

	optOut.NotificationsEnabled = false
	require.NoError(t, tb.store.UpdateUser(context.Background(), optOut))

	tb.command(adminID, "broadcast", "movie night")

	assert.Equal(t, []string{"📢 movie night"}, tb.gw.textsTo(42))
	assert.Empty(t, tb.gw.textsTo(43), "opt-outs are skipped")

	adminTexts := tb.gw.textsTo(adminID)
	require.Len(t, adminTexts, 1)
	assert.Contains(t, adminTexts[0], "Delivered to 1")
}

func TestHelp_ListsOnlyReachableCommands(t *testing.T) {
	tb := newTestBot(t)
	tb.seedUser(t, 42, true, false)

	tb.command(42, "help", "")
	tb.command(adminID, "help", "")

	userHelp := tb.gw.textsTo(42)[0]
	adminHelp := tb.gw.textsTo(adminID)[0]

	assert.Contains(t, userHelp, "/status")
	assert.NotContains(t, userHelp, "/reboot")
	assert.Contains(t, adminHelp, "/reboot")
	assert.Contains(t, adminHelp, "/audit")
}

func TestStatus_RecordsMachineState(t *testing.T) {
	tb := newTestBot(t)

	tb.command(adminID, "status", "")

	status, err := tb.store.PCStatus(context.Background())
	require.NoError(t, err)
	assert.True(t, status.Online)
	assert.Equal(t, "gaming-rig", status.Hostname)
}
