// Package speech transcribes voice notes and maps the transcript to a
// bot command token. Transcription shells out to a local whisper
// install; the command vocabulary works without it.
package speech

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// transcribeTimeout bounds one whisper inference run.
const transcribeTimeout = 2 * time.Minute

// Transcriber converts raw voice audio (OGG/Opus from the chat
// transport) into text.
type Transcriber interface {
	// Available reports whether transcription can run at all.
	Available() bool

	Transcribe(ctx context.Context, audio []byte) (string, error)
}

// whisperTranscriber shells out to the whisper CLI. The model name
// follows the WHISPER_MODEL environment variable, defaulting to
// "base".
type whisperTranscriber struct {
	log       logrus.FieldLogger
	binary    string
	model     string
	available bool
}

var _ Transcriber = (*whisperTranscriber)(nil)

// NewWhisper creates a Transcriber backed by the whisper CLI. A
// missing binary is not an error: the transcriber reports itself
// unavailable and voice commands are answered with a hint instead.
func NewWhisper(log logrus.FieldLogger) Transcriber {
	model := os.Getenv("WHISPER_MODEL")
	if model == "" {
		model = "base"
	}

	t := &whisperTranscriber{
		log:    log.WithField("component", "speech"),
		binary: "whisper",
		model:  model,
	}

	if _, err := exec.LookPath(t.binary); err != nil {
		t.log.Warn("whisper binary not found, voice commands disabled")
	} else {
		t.available = true
	}

	return t
}

func (t *whisperTranscriber) Available() bool {
	return t.available
}

func (t *whisperTranscriber) Transcribe(
	ctx context.Context,
	audio []byte,
) (string, error) {
	if !t.available {
		return "", fmt.Errorf("transcription is not available")
	}

	dir, err := os.MkdirTemp("", "pcwarden-voice-*")
	if err != nil {
		return "", fmt.Errorf("creating temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	audioPath := filepath.Join(dir, "voice.ogg")
	if err := os.WriteFile(audioPath, audio, 0o600); err != nil {
		return "", fmt.Errorf("writing audio file: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, transcribeTimeout)
	defer cancel()

	cmd := exec.CommandContext(
		ctx, t.binary, audioPath,
		"--model", t.model,
		"--output_format", "txt",
		"--output_dir", dir,
	)

	var stderr bytes.Buffer

	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("running whisper: %w: %s", err, stderr.String())
	}

	out, err := os.ReadFile(filepath.Join(dir, "voice.txt"))
	if err != nil {
		return "", fmt.Errorf("reading transcript: %w", err)
	}

	text := strings.TrimSpace(string(out))

	t.log.WithField("text", text).Info("Voice note transcribed")

	return text, nil
}
