package ui

import (
	"errors"
	"fmt"
	"strings"

	"github.com/PolyGo-Capstone-Project/polygo-meet/internal/meeting"
)

// CommandKind is what a line typed into the meeting input asks for.
type CommandKind int

const (
	CommandChat CommandKind = iota
	CommandKick
	CommandMute
	CommandUnmute
	CommandCamOff
	CommandCamOn
	CommandLowerAll
	CommandEnd
	CommandSummary
	CommandCaptions
	CommandHelp
)

// Command is one parsed input line. Arg is the chat text, the participant
// for host commands, or the caption language.
type Command struct {
	Kind CommandKind
	Arg  string
}

var commandNames = map[string]CommandKind{
	"kick":     CommandKick,
	"mute":     CommandMute,
	"unmute":   CommandUnmute,
	"camoff":   CommandCamOff,
	"camon":    CommandCamOn,
	"lowerall": CommandLowerAll,
	"end":      CommandEnd,
	"summary":  CommandSummary,
	"captions": CommandCaptions,
	"help":     CommandHelp,
}

var needsTarget = map[CommandKind]bool{
	CommandKick:   true,
	CommandMute:   true,
	CommandUnmute: true,
	CommandCamOff: true,
	CommandCamOn:  true,
}

const commandHelp = "/kick /mute /unmute /camoff /camon <name|id>, /lowerall, /end, /summary, /captions [lang]"

var errEmptyInput = errors.New("nothing to send")

// ParseCommand turns an input line into a Command. Lines that do not start
// with "/" are chat messages; "//" escapes a leading slash.
func ParseCommand(line string) (Command, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Command{}, errEmptyInput
	}
	if !strings.HasPrefix(line, "/") || strings.HasPrefix(line, "//") {
		return Command{Kind: CommandChat, Arg: strings.TrimPrefix(line, "/")}, nil
	}

	name, arg, _ := strings.Cut(line[1:], " ")
	kind, ok := commandNames[strings.ToLower(name)]
	if !ok {
		return Command{}, fmt.Errorf("unknown command /%s (try /help)", name)
	}
	arg = strings.TrimSpace(arg)
	if needsTarget[kind] && arg == "" {
		return Command{}, fmt.Errorf("/%s needs a participant name or id", name)
	}
	return Command{Kind: kind, Arg: arg}, nil
}

// ResolveParticipant finds a participant by connection id, then by a
// case-insensitive name. Ambiguous names are an error.
func ResolveParticipant(participants []meeting.Participant, ref string) (meeting.Participant, error) {
	for _, p := range participants {
		if p.ConnectionID == ref {
			return p, nil
		}
	}

	var found []meeting.Participant
	for _, p := range participants {
		if strings.EqualFold(p.Name, ref) {
			found = append(found, p)
		}
	}
	switch len(found) {
	case 0:
		return meeting.Participant{}, fmt.Errorf("no participant named %q", ref)
	case 1:
		return found[0], nil
	default:
		return meeting.Participant{}, fmt.Errorf("%d participants are named %q, use the id", len(found), ref)
	}
}
