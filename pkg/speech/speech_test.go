package speech

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{
			name: "exact english",
			text: "reboot",
			want: CmdReboot,
		},
		{
			name: "exact russian",
			text: "скриншот",
			want: CmdScreenshot,
		},
		{
			name: "case and whitespace insensitive",
			text: "  REBOOT  ",
			want: CmdReboot,
		},
		{
			name: "substring match",
			text: "сделай скриншот пожалуйста",
			want: CmdScreenshot,
		},
		{
			name: "longer phrase wins over its substring",
			text: "пожалуйста отмени выключение",
			want: CmdCancel,
		},
		{
			name: "cancel shutdown beats shutdown",
			text: "please cancel shutdown now",
			want: CmdCancel,
		},
		{
			name: "wake phrase",
			text: "разбуди компьютер",
			want: CmdWake,
		},
		{
			name: "unrecognized",
			text: "what is the weather like",
			want: "",
		},
		{
			name: "empty",
			text: "   ",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseCommand(tt.text))
		})
	}
}

func TestVocabularyTokensAreKnown(t *testing.T) {
	known := map[string]struct{}{
		CmdReboot:     {},
		CmdShutdown:   {},
		CmdCancel:     {},
		CmdScreenshot: {},
		CmdStatus:     {},
		CmdProcesses:  {},
		CmdDota:       {},
		CmdWake:       {},
	}

	for phrase, token := range vocabulary {
		_, ok := known[token]
		assert.True(t, ok, "phrase %q maps to unknown token %q", phrase, token)
	}
}
