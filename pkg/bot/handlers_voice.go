package bot

import (
	"context"
	"fmt"
	"html"

	"github.com/pcwarden/pcwarden/pkg/auth"
	"github.com/pcwarden/pcwarden/pkg/gateway"
	"github.com/pcwarden/pcwarden/pkg/speech"
	"github.com/pcwarden/pcwarden/pkg/store"
)

// voiceCommands maps recognized speech tokens to dispatcher commands.
var voiceCommands = map[string]string{
	speech.CmdReboot:     "reboot",
	speech.CmdShutdown:   "shutdown",
	speech.CmdCancel:     "cancel",
	speech.CmdScreenshot: "screenshot",
	speech.CmdStatus:     "status",
	speech.CmdProcesses:  "processes",
	speech.CmdDota:       "dota",
	speech.CmdWake:       "wake",
}

// dispatchVoice transcribes a voice note and routes the recognized
// phrase through the regular command path, including its gating.
func (b *Bot) dispatchVoice(
	ctx context.Context,
	ev gateway.Event,
	user *store.User,
	level auth.TrustLevel,
) {
	if level < auth.Authorized {
		b.reply(ctx, ev, accessDeniedText)

		return
	}

	if b.speech == nil || !b.speech.Available() {
		b.reply(ctx, ev,
			"🎙 Voice recognition is not available on this install.")

		return
	}

	text, err := b.speech.Transcribe(ctx, ev.Audio)
	if err != nil {
		b.log.WithError(err).Warn("Transcription failed")
		b.reply(ctx, ev, "🎙 Could not make out the recording. Try again?")

		return
	}

	token := speech.ParseCommand(text)
	if token == "" {
		b.reply(ctx, ev, fmt.Sprintf(
			"🎙 Heard: “%s” — no command recognized.",
			html.EscapeString(text),
		))

		return
	}

	name := voiceCommands[token]

	cmd, ok := b.commands[name]
	if !ok {
		b.reply(ctx, ev, unknownText)

		return
	}

	if level < cmd.level {
		b.reply(ctx, ev, accessDeniedText)

		return
	}

	b.reply(ctx, ev, fmt.Sprintf(
		"🎙 Heard: “%s” → /%s", html.EscapeString(text), name,
	))

	forwarded := ev
	forwarded.Command = name
	forwarded.Args = ""

	if err := cmd.handler(ctx, forwarded, user, level); err != nil {
		b.fail(ctx, forwarded, err)
	}
}
