package bot

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pcwarden/pcwarden/pkg/auth"
	"github.com/pcwarden/pcwarden/pkg/config"
	"github.com/pcwarden/pcwarden/pkg/gateway"
	"github.com/pcwarden/pcwarden/pkg/notify"
	"github.com/pcwarden/pcwarden/pkg/pcman"
	"github.com/pcwarden/pcwarden/pkg/store"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

const adminID int64 = 900

// sentMessage is one outbound message captured by the fake gateway.
type sentMessage struct {
	to     int64
	text   string
	markup *gateway.Markup
}

type fakeGateway struct {
	mu     sync.Mutex
	sent   []sentMessage
	photos []int64
	edits  []string
	acks   []string
	alerts []string
}

func (f *fakeGateway) Start(ctx context.Context) error { return nil }
func (f *fakeGateway) Stop() error                     { return nil }
func (f *fakeGateway) Events() <-chan gateway.Event    { return nil }

func (f *fakeGateway) Send(
	ctx context.Context, userID int64, text string, markup *gateway.Markup,
) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.sent = append(f.sent, sentMessage{to: userID, text: text, markup: markup})

	return nil
}

func (f *fakeGateway) SendPhoto(
	ctx context.Context, userID int64, image []byte, caption string,
) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.photos = append(f.photos, userID)

	return nil
}

func (f *fakeGateway) Edit(
	ctx context.Context, ref gateway.MessageRef, text string,
) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.edits = append(f.edits, text)

	return nil
}

func (f *fakeGateway) AckCallback(
	ctx context.Context, callbackID, text string, alert bool,
) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.acks = append(f.acks, text)

	if alert {
		f.alerts = append(f.alerts, text)
	}

	return nil
}

func (f *fakeGateway) SetCommandMenu(
	ctx context.Context, commands []gateway.MenuCommand,
) error {
	return nil
}

// lastTo returns the texts sent to one recipient.
func (f *fakeGateway) textsTo(userID int64) []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	var texts []string

	for _, m := range f.sent {
		if m.to == userID {
			texts = append(texts, m.text)
		}
	}

	return texts
}

// buttonToken finds the first button token with the given prefix in
// any captured markup.
func (f *fakeGateway) buttonToken(prefix string) string {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, m := range f.sent {
		if m.markup == nil {
			continue
		}

		for _, row := range m.markup.Rows {
			for _, btn := range row {
				if strings.HasPrefix(btn.Token, prefix) {
					return btn.Token
				}
			}
		}
	}

	return ""
}

// fakeController records control calls instead of touching a machine.
type fakeController struct {
	mu          sync.Mutex
	scheduled   []string
	cancelled   int
	executed    []string
	failSysInfo bool
	panicOnInfo bool
}

var _ pcman.Controller = (*fakeController)(nil)

func (f *fakeController) CheckOnline(ctx context.Context) bool { return true }

func (f *fakeController) SystemInfo(ctx context.Context) (*pcman.SystemInfo, error) {
	if f.panicOnInfo {
		panic("controller exploded")
	}

	if f.failSysInfo {
		return nil, fmt.Errorf("probe failed")
	}

	return &pcman.SystemInfo{
		Hostname:   "gaming-rig",
		CPUPercent: 12.5,
		MemUsed:    8 << 30,
		MemTotal:   16 << 30,
		MemPercent: 50,
		DiskUsed:   100 << 30,
		DiskTotal:  500 << 30,
		Uptime:     90 * time.Minute,
	}, nil
}

func (f *fakeController) Processes(
	ctx context.Context, limit int,
) ([]pcman.ProcessInfo, error) {
	if f.failSysInfo {
		return nil, fmt.Errorf("probe failed")
	}

	return []pcman.ProcessInfo{
		{Name: "dota2", CPUPercent: 55, MemPercent: 12.1},
	}, nil
}

func (f *fakeController) Execute(
	ctx context.Context, command string, allowlist []string,
) *pcman.ExecResult {
	if allowlist != nil {
		allowed := false
		base := strings.Fields(command)[0]

		for _, c := range append(pcman.SafeCommands, allowlist...) {
			if base == c {
				allowed = true

				break
			}
		}

		if !allowed {
			return &pcman.ExecResult{
				Refused: true,
				Error:   fmt.Sprintf("command %q is not in the allowed list", base),
			}
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.executed = append(f.executed, command)

	return &pcman.ExecResult{Success: true, Output: "ok\n"}
}

func (f *fakeController) Screenshot(ctx context.Context) ([]byte, error) {
	return []byte{0x89, 'P', 'N', 'G'}, nil
}

func (f *fakeController) ScheduleReboot(ctx context.Context, d time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.scheduled = append(f.scheduled, "reboot")

	return nil
}

func (f *fakeController) ScheduleShutdown(ctx context.Context, d time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.scheduled = append(f.scheduled, "shutdown")

	return nil
}

func (f *fakeController) CancelShutdown(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.cancelled++

	return nil
}

// fakeSpeech returns a scripted transcript.
type fakeSpeech struct {
	text      string
	available bool
}

func (f *fakeSpeech) Available() bool { return f.available }

func (f *fakeSpeech) Transcribe(ctx context.Context, audio []byte) (string, error) {
	return f.text, nil
}

type testBot struct {
	bot   *Bot
	gw    *fakeGateway
	pc    *fakeController
	store store.Store
}

func newTestBot(t *testing.T) *testBot {
	t.Helper()

	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	cfg := &config.Config{
		Telegram: config.TelegramConfig{
			Token:    "test-token",
			AdminIDs: []int64{adminID},
		},
		Database: config.DatabaseConfig{
			Driver: "sqlite",
			SQLite: config.SQLiteConfig{
				Path: filepath.Join(t.TempDir(), "test.db"),
			},
		},
		PC: config.PCConfig{
			CommandTimeout: "5s",
			WakeTimeout:    "1s",
			ExtraCommands:  []string{"sensors"},
		},
	}

	st := store.NewStore(log, &cfg.Database)
	require.NoError(t, st.Start(context.Background()))
	t.Cleanup(func() { _ = st.Stop() })

	gw := &fakeGateway{}
	pc := &fakeController{}
	evaluator := auth.NewEvaluator(log, st, cfg.Telegram.AdminIDs)

	b := New(log, Deps{
		Config:   cfg,
		Gateway:  gw,
		Store:    st,
		Auth:     evaluator,
		Notifier: notify.NewNotifier(log, gw, st, cfg.Telegram.AdminIDs),
		PC:       pc,
		Speech:   &fakeSpeech{},
	})

	return &testBot{bot: b, gw: gw, pc: pc, store: st}
}

// seedUser inserts a user record directly.
func (tb *testBot) seedUser(t *testing.T, telegramID int64, authorized, admin bool) *store.User {
	t.Helper()

	user := &store.User{
		TelegramID:           telegramID,
		Username:             fmt.Sprintf("user%d", telegramID),
		IsAuthorized:         authorized,
		IsAdmin:              admin,
		NotificationsEnabled: true,
	}
	require.NoError(t, tb.store.CreateUser(context.Background(), user))

	return user
}

func (tb *testBot) command(from int64, name, args string) {
	tb.bot.dispatch(context.Background(), gateway.Event{
		Kind:    gateway.EventCommand,
		From:    gateway.Sender{ID: from, Username: fmt.Sprintf("user%d", from)},
		Command: name,
		Args:    args,
	})
}

func (tb *testBot) callback(from int64, token string) {
	tb.bot.dispatch(context.Background(), gateway.Event{
		Kind:       gateway.EventCallback,
		From:       gateway.Sender{ID: from, Username: fmt.Sprintf("user%d", from)},
		Token:      token,
		CallbackID: "cb-1",
		Message:    gateway.MessageRef{ChatID: from, MessageID: 7},
	})
}

func (tb *testBot) voice(from int64) {
	tb.bot.dispatch(context.Background(), gateway.Event{
		Kind:  gateway.EventVoice,
		From:  gateway.Sender{ID: from, Username: fmt.Sprintf("user%d", from)},
		Audio: []byte{1, 2, 3},
	})
}

func (tb *testBot) auditEntries(t *testing.T) []store.AuditEntry {
	t.Helper()

	entries, err := tb.store.RecentAudit(context.Background(), 100)
	require.NoError(t, err)

	return entries
}
