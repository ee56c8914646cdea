package bot

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfirmRegistry_TakeIsSingleUse(t *testing.T) {
	reg := newConfirmRegistry()

	token := reg.add(42, actionReboot)

	p, err := reg.take(token, 42)
	require.NoError(t, err)
	assert.Equal(t, actionReboot, p.action)

	_, err = reg.take(token, 42)
	assert.ErrorIs(t, err, errConfirmUnknown)
}

func TestConfirmRegistry_Expiry(t *testing.T) {
	reg := newConfirmRegistry()

	now := time.Now()
	reg.now = func() time.Time { return now }

	token := reg.add(42, actionShutdown)

	reg.now = func() time.Time { return now.Add(confirmTTL + time.Second) }

	_, err := reg.take(token, 42)
	assert.ErrorIs(t, err, errConfirmExpired)

	_, err = reg.take(token, 42)
	assert.ErrorIs(t, err, errConfirmUnknown,
		"an expired token is gone, not retryable")
}

func TestConfirmRegistry_WrongUser(t *testing.T) {
	reg := newConfirmRegistry()

	token := reg.add(42, actionReboot)

	_, err := reg.take(token, 43)
	assert.ErrorIs(t, err, errConfirmOwner)

	// Still takeable by its owner.
	_, err = reg.take(token, 42)
	assert.NoError(t, err)
}

func TestConfirmRegistry_NewPromptSupersedesOld(t *testing.T) {
	reg := newConfirmRegistry()

	first := reg.add(42, actionReboot)
	second := reg.add(42, actionShutdown)

	_, err := reg.take(first, 42)
	assert.ErrorIs(t, err, errConfirmUnknown)

	p, err := reg.take(second, 42)
	require.NoError(t, err)
	assert.Equal(t, actionShutdown, p.action)
}

func TestReboot_RequiresConfirmation(t *testing.T) {
	tb := newTestBot(t)

	tb.command(adminID, "reboot", "")

	assert.Empty(t, tb.pc.scheduled,
		"nothing happens before the confirm button")

	token := tb.gw.buttonToken(cbConfirmPrefix)
	require.NotEmpty(t, token, "the prompt carries a confirm button")

	tb.callback(adminID, token)

	assert.Equal(t, []string{"reboot"}, tb.pc.scheduled)

	entries := tb.auditEntries(t)
	require.Len(t, entries, 1)
	assert.Equal(t, "reboot", entries[0].Action)
	assert.Equal(t, "callback", entries[0].Origin)
}

func TestShutdown_DismissDoesNothing(t *testing.T) {
	tb := newTestBot(t)

	tb.command(adminID, "shutdown", "")

	confirmToken := tb.gw.buttonToken(cbConfirmPrefix)
	dismissToken := tb.gw.buttonToken(cbDismissPrefix)
	require.NotEmpty(t, dismissToken)

	tb.callback(adminID, dismissToken)

	assert.Empty(t, tb.pc.scheduled)
	assert.Contains(t, tb.gw.edits, "Action cancelled.")

	// The confirm token died with the dismissal.
	tb.callback(adminID, confirmToken)

	assert.Empty(t, tb.pc.scheduled)
	assert.Empty(t, tb.auditEntries(t))
}

func TestConfirm_ExpiredTokenAnswersExpired(t *testing.T) {
	tb := newTestBot(t)

	now := time.Now()
	tb.bot.confirms.now = func() time.Time { return now }

	tb.command(adminID, "shutdown", "")

	token := tb.gw.buttonToken(cbConfirmPrefix)
	require.NotEmpty(t, token)

	tb.bot.confirms.now = func() time.Time {
		return now.Add(confirmTTL + time.Minute)
	}

	tb.callback(adminID, token)

	assert.Empty(t, tb.pc.scheduled)
	require.NotEmpty(t, tb.gw.alerts)
	assert.Contains(t, tb.gw.alerts[0], "expired")
}

func TestConfirm_NonAdminCannotConfirm(t *testing.T) {
	tb := newTestBot(t)
	tb.seedUser(t, 42, true, false)

	tb.command(adminID, "reboot", "")

	token := tb.gw.buttonToken(cbConfirmPrefix)
	require.NotEmpty(t, token)

	tb.callback(42, token)

	assert.Empty(t, tb.pc.scheduled)
	assert.Contains(t, tb.gw.alerts, accessDeniedText)
}
