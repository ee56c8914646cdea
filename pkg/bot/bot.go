// Package bot is the command dispatcher: it consumes gateway events,
// gates them through the trust evaluator, and routes them to handlers.
// Handler faults never crash the event loop.
package bot

import (
	"context"
	"sync"

	"github.com/pcwarden/pcwarden/pkg/auth"
	"github.com/pcwarden/pcwarden/pkg/config"
	"github.com/pcwarden/pcwarden/pkg/dota"
	"github.com/pcwarden/pcwarden/pkg/gateway"
	"github.com/pcwarden/pcwarden/pkg/notify"
	"github.com/pcwarden/pcwarden/pkg/pcman"
	"github.com/pcwarden/pcwarden/pkg/speech"
	"github.com/pcwarden/pcwarden/pkg/store"
	"github.com/pcwarden/pcwarden/pkg/wol"
	"github.com/sirupsen/logrus"
)

// Deps bundles the collaborators the bot core dispatches to. Waker,
// Dota and Speech may be nil when the corresponding feature is not
// configured.
type Deps struct {
	Config   *config.Config
	Gateway  gateway.Gateway
	Store    store.Store
	Auth     *auth.Evaluator
	Notifier *notify.Notifier
	PC       pcman.Controller
	Waker    *wol.Waker
	Dota     *dota.Client
	Speech   speech.Transcriber
}

// Bot consumes gateway events and dispatches them to handlers.
type Bot struct {
	log      logrus.FieldLogger
	cfg      *config.Config
	gw       gateway.Gateway
	store    store.Store
	auth     *auth.Evaluator
	notifier *notify.Notifier
	pc       pcman.Controller
	waker    *wol.Waker
	dota     *dota.Client
	speech   speech.Transcriber

	confirms *confirmRegistry
	commands map[string]*command
	menu     []string

	// Per-user serialization: two rapid events from one user are
	// handled in order; different users stay concurrent.
	lockMu sync.Mutex
	locks  map[int64]*sync.Mutex

	done chan struct{}
	wg   sync.WaitGroup
}

// New creates the bot core and registers its command table.
func New(log logrus.FieldLogger, deps Deps) *Bot {
	b := &Bot{
		log:      log.WithField("component", "bot"),
		cfg:      deps.Config,
		gw:       deps.Gateway,
		store:    deps.Store,
		auth:     deps.Auth,
		notifier: deps.Notifier,
		pc:       deps.PC,
		waker:    deps.Waker,
		dota:     deps.Dota,
		speech:   deps.Speech,
		confirms: newConfirmRegistry(),
		commands: map[string]*command{},
		locks:    map[int64]*sync.Mutex{},
		done:     make(chan struct{}),
	}

	b.registerCommands()

	return b
}

// Start registers the command menu and launches the event loop.
func (b *Bot) Start(ctx context.Context) error {
	if err := b.gw.SetCommandMenu(ctx, b.menuCommands()); err != nil {
		b.log.WithError(err).Warn("Failed to register command menu")
	}

	b.wg.Add(1)

	go b.loop(ctx)

	b.log.Info("Bot started")

	return nil
}

// Stop terminates the event loop and waits for in-flight handlers.
func (b *Bot) Stop() error {
	close(b.done)
	b.wg.Wait()

	b.log.Info("Bot stopped")

	return nil
}

func (b *Bot) loop(ctx context.Context) {
	defer b.wg.Done()

	events := b.gw.Events()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}

			b.wg.Add(1)

			go b.handle(ctx, ev)
		case <-b.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// handle processes one event: per-user serialization, panic recovery,
// then dispatch.
func (b *Bot) handle(ctx context.Context, ev gateway.Event) {
	defer b.wg.Done()

	defer func() {
		if r := recover(); r != nil {
			b.log.WithField("panic", r).
				WithField("telegram_id", ev.From.ID).
				Error("Handler panicked")

			if err := b.gw.Send(ctx, ev.From.ID, unavailableText, nil); err != nil {
				b.log.WithError(err).Warn("Failed to deliver fault reply")
			}
		}
	}()

	mu := b.userLock(ev.From.ID)
	mu.Lock()
	defer mu.Unlock()

	b.dispatch(ctx, ev)
}

func (b *Bot) userLock(telegramID int64) *sync.Mutex {
	b.lockMu.Lock()
	defer b.lockMu.Unlock()

	mu, ok := b.locks[telegramID]
	if !ok {
		mu = &sync.Mutex{}
		b.locks[telegramID] = mu
	}

	return mu
}
