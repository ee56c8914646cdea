package speech

import (
	"sort"
	"strings"
)

// Command tokens a transcript can resolve to. Each corresponds to a
// bot command of the same name.
const (
	CmdReboot     = "reboot"
	CmdShutdown   = "shutdown"
	CmdCancel     = "cancel"
	CmdScreenshot = "screenshot"
	CmdStatus     = "status"
	CmdProcesses  = "processes"
	CmdDota       = "dota"
	CmdWake       = "wake"
)

// vocabulary maps spoken phrases (Russian and English) to command
// tokens.
var vocabulary = map[string]string{
	// Power
	"перезагрузи":       CmdReboot,
	"перезагрузка":      CmdReboot,
	"reboot":            CmdReboot,
	"restart":           CmdReboot,
	"выключи":           CmdShutdown,
	"выключение":        CmdShutdown,
	"shutdown":          CmdShutdown,
	"poweroff":          CmdShutdown,
	"отмени выключение": CmdCancel,
	"отмена выключения": CmdCancel,
	"cancel shutdown":   CmdCancel,

	// Screenshot
	"скриншот":        CmdScreenshot,
	"сделай скриншот": CmdScreenshot,
	"screenshot":      CmdScreenshot,
	"снимок экрана":   CmdScreenshot,

	// Status / processes
	"статус":            CmdStatus,
	"status":            CmdStatus,
	"процессы":          CmdProcesses,
	"processes":         CmdProcesses,
	"список процессов":  CmdProcesses,

	// Dota
	"дота":        CmdDota,
	"dota":        CmdDota,
	"статус доты": CmdDota,
	"dota status": CmdDota,

	// Wake-on-LAN
	"включи компьютер":  CmdWake,
	"wake":              CmdWake,
	"разбуди компьютер": CmdWake,
}

// phrasesByLength is the vocabulary keys sorted longest first, so
// substring matching prefers the most specific phrase.
var phrasesByLength = func() []string {
	phrases := make([]string, 0, len(vocabulary))
	for phrase := range vocabulary {
		phrases = append(phrases, phrase)
	}

	sort.Slice(phrases, func(i, j int) bool {
		if len(phrases[i]) != len(phrases[j]) {
			return len(phrases[i]) > len(phrases[j])
		}

		return phrases[i] < phrases[j]
	})

	return phrases
}()

// ParseCommand maps a transcript to a command token. Exact matches
// win; otherwise the longest vocabulary phrase contained in the text
// does. An empty return means the text was not recognized.
func ParseCommand(text string) string {
	normalized := strings.ToLower(strings.TrimSpace(text))
	if normalized == "" {
		return ""
	}

	if token, ok := vocabulary[normalized]; ok {
		return token
	}

	for _, phrase := range phrasesByLength {
		if strings.Contains(normalized, phrase) {
			return vocabulary[phrase]
		}
	}

	return ""
}
