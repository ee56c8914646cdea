package gateway

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
)

const (
	pollTimeoutSeconds = 30
	eventBuffer        = 64
	voiceFetchTimeout  = 30 * time.Second

	// maxVoiceBytes caps voice note downloads. Telegram voice notes
	// are small; anything larger is not a command.
	maxVoiceBytes = 10 << 20
)

// Compile-time interface check.
var _ Gateway = (*telegramGateway)(nil)

type telegramGateway struct {
	log    logrus.FieldLogger
	token  string
	bot    *tgbotapi.BotAPI
	events chan Event
	client *http.Client
	done   chan struct{}
	wg     sync.WaitGroup
}

// NewTelegram creates a Gateway backed by the Telegram Bot API using
// long polling.
func NewTelegram(log logrus.FieldLogger, token string) Gateway {
	return &telegramGateway{
		log:    log.WithField("component", "gateway"),
		token:  token,
		events: make(chan Event, eventBuffer),
		client: &http.Client{Timeout: voiceFetchTimeout},
		done:   make(chan struct{}),
	}
}

// Start connects to the Telegram API and begins translating updates
// into Events.
func (g *telegramGateway) Start(ctx context.Context) error {
	bot, err := tgbotapi.NewBotAPI(g.token)
	if err != nil {
		return fmt.Errorf("connecting to telegram: %w", err)
	}

	g.bot = bot
	g.log.WithField("username", bot.Self.UserName).Info("Connected to Telegram")

	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = pollTimeoutSeconds
	cfg.AllowedUpdates = []string{"message", "callback_query"}

	updates := bot.GetUpdatesChan(cfg)

	g.wg.Add(1)

	go func() {
		defer g.wg.Done()
		defer close(g.events)

		for {
			select {
			case update, ok := <-updates:
				if !ok {
					return
				}

				g.translate(ctx, update)
			case <-g.done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return nil
}

// Stop halts polling and waits for the translation goroutine.
func (g *telegramGateway) Stop() error {
	close(g.done)

	if g.bot != nil {
		g.bot.StopReceivingUpdates()
	}

	g.wg.Wait()

	g.log.Info("Gateway stopped")

	return nil
}

func (g *telegramGateway) Events() <-chan Event {
	return g.events
}

// translate converts one Telegram update into an Event, if it carries
// anything the bot handles. Everything else is dropped silently.
func (g *telegramGateway) translate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.CallbackQuery != nil:
		cb := update.CallbackQuery
		ev := Event{
			Kind:       EventCallback,
			From:       senderFrom(cb.From),
			Token:      cb.Data,
			CallbackID: cb.ID,
		}

		if cb.Message != nil {
			ev.Message = MessageRef{
				ChatID:    cb.Message.Chat.ID,
				MessageID: cb.Message.MessageID,
			}
		}

		g.emit(ev)

	case update.Message != nil && update.Message.IsCommand():
		msg := update.Message
		g.emit(Event{
			Kind:    EventCommand,
			From:    senderFrom(msg.From),
			Command: msg.Command(),
			Args:    msg.CommandArguments(),
		})

	case update.Message != nil && (update.Message.Voice != nil || update.Message.Audio != nil):
		g.translateVoice(ctx, update.Message)
	}
}

func (g *telegramGateway) translateVoice(ctx context.Context, msg *tgbotapi.Message) {
	fileID := ""
	if msg.Voice != nil {
		fileID = msg.Voice.FileID
	} else if msg.Audio != nil {
		fileID = msg.Audio.FileID
	}

	audio, err := g.downloadFile(ctx, fileID)
	if err != nil {
		g.log.WithError(err).Warn("Failed to download voice file")

		return
	}

	g.emit(Event{
		Kind:  EventVoice,
		From:  senderFrom(msg.From),
		Audio: audio,
	})
}

func (g *telegramGateway) downloadFile(ctx context.Context, fileID string) ([]byte, error) {
	url, err := g.bot.GetFileDirectURL(fileID)
	if err != nil {
		return nil, fmt.Errorf("resolving file url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building file request: %w", err)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching file: unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxVoiceBytes))
	if err != nil {
		return nil, fmt.Errorf("reading file body: %w", err)
	}

	return data, nil
}

func (g *telegramGateway) emit(ev Event) {
	select {
	case g.events <- ev:
	case <-g.done:
	}
}

func (g *telegramGateway) Send(
	ctx context.Context, userID int64, text string, markup *Markup,
) error {
	msg := tgbotapi.NewMessage(userID, text)
	msg.ParseMode = tgbotapi.ModeHTML

	if markup != nil {
		msg.ReplyMarkup = toInlineKeyboard(markup)
	}

	if _, err := g.bot.Send(msg); err != nil {
		return fmt.Errorf("sending message: %w", err)
	}

	return nil
}

func (g *telegramGateway) SendPhoto(
	ctx context.Context, userID int64, image []byte, caption string,
) error {
	photo := tgbotapi.NewPhoto(userID, tgbotapi.FileBytes{
		Name:  "screenshot.png",
		Bytes: image,
	})
	photo.Caption = caption

	if _, err := g.bot.Send(photo); err != nil {
		return fmt.Errorf("sending photo: %w", err)
	}

	return nil
}

func (g *telegramGateway) Edit(
	ctx context.Context, ref MessageRef, text string,
) error {
	edit := tgbotapi.NewEditMessageText(ref.ChatID, ref.MessageID, text)
	edit.ParseMode = tgbotapi.ModeHTML

	if _, err := g.bot.Send(edit); err != nil {
		return fmt.Errorf("editing message: %w", err)
	}

	return nil
}

func (g *telegramGateway) AckCallback(
	ctx context.Context, callbackID, text string, alert bool,
) error {
	cb := tgbotapi.NewCallback(callbackID, text)
	cb.ShowAlert = alert

	if _, err := g.bot.Request(cb); err != nil {
		return fmt.Errorf("answering callback: %w", err)
	}

	return nil
}

func (g *telegramGateway) SetCommandMenu(
	ctx context.Context, commands []MenuCommand,
) error {
	entries := make([]tgbotapi.BotCommand, 0, len(commands))
	for _, cmd := range commands {
		entries = append(entries, tgbotapi.BotCommand{
			Command:     cmd.Command,
			Description: cmd.Description,
		})
	}

	if _, err := g.bot.Request(tgbotapi.NewSetMyCommands(entries...)); err != nil {
		return fmt.Errorf("setting command menu: %w", err)
	}

	return nil
}

func toInlineKeyboard(markup *Markup) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(markup.Rows))

	for _, row := range markup.Rows {
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			buttons = append(
				buttons,
				tgbotapi.NewInlineKeyboardButtonData(b.Label, b.Token),
			)
		}

		rows = append(rows, buttons)
	}

	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func senderFrom(user *tgbotapi.User) Sender {
	if user == nil {
		return Sender{}
	}

	return Sender{
		ID:        user.ID,
		Username:  user.UserName,
		FirstName: user.FirstName,
		LastName:  user.LastName,
	}
}
