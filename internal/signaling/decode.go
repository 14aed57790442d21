package signaling

import "fmt"

type decoder func(msg *Message) (Event, error)

var decoders = map[string]decoder{
	SetRole{}.Target():               decodeSetRole,
	HostInfo{}.Target():              decodeHostInfo,
	UserJoined{}.Target():            decodeUserJoined,
	UserLeft{}.Target():              decodeUserLeft,
	ReceiveOffer{}.Target():          decodeOffer,
	ReceiveAnswer{}.Target():         decodeAnswer,
	ReceiveIceCandidate{}.Target():   decodeIceCandidate,
	ReceiveMediaState{}.Target():     decodeMediaState,
	ReceiveChatMessage{}.Target():    decodeChatMessage,
	ReceiveWave{}.Target():           decodeWave,
	ReceiveUnwave{}.Target():         decodeUnwave,
	AllHandsLowered{}.Target():       func(*Message) (Event, error) { return AllHandsLowered{}, nil },
	ToggleMicCommand{}.Target():      decodeToggleMic,
	ToggleCamCommand{}.Target():      decodeToggleCam,
	MicStateChanged{}.Target():       decodeMicState,
	CamStateChanged{}.Target():       decodeCamState,
	KickedFromRoom{}.Target():        decodeKicked,
	ShowEndWarning{}.Target():        decodeEndWarning,
	RoomEnded{}.Target():             func(*Message) (Event, error) { return RoomEnded{}, nil },
	ReceiveTranscription{}.Target():  decodeTranscription,
	ReceiveMeetingSummary{}.Target(): decodeSummary,
	SummaryGenerating{}.Target():     func(*Message) (Event, error) { return SummaryGenerating{}, nil },
	SummaryError{}.Target():          decodeSummaryError,
}

// Decode maps an invocation record to its typed event. Targets without a
// decoder yield Unknown.
func Decode(msg *Message) (Event, error) {
	if msg.Type != TypeInvocation {
		return nil, fmt.Errorf("decode: message type %d is not an invocation", msg.Type)
	}
	dec, ok := decoders[msg.Target]
	if !ok {
		return Unknown{Method: msg.Target, Arguments: msg.Arguments}, nil
	}
	return dec(msg)
}

func decodeSetRole(msg *Message) (Event, error) {
	var ev SetRole
	if err := msg.Arg(0, &ev.IsHost); err != nil {
		return nil, err
	}
	return ev, nil
}

func decodeHostInfo(msg *Message) (Event, error) {
	var ev HostInfo
	if err := msg.Arg(0, &ev.ConnectionID); err != nil {
		return nil, err
	}
	// The host name is optional on older hubs.
	if len(msg.Arguments) > 1 {
		if err := msg.Arg(1, &ev.Name); err != nil {
			return nil, err
		}
	}
	return ev, nil
}

func decodeUserJoined(msg *Message) (Event, error) {
	var ev UserJoined
	if err := msg.Arg(0, &ev.ConnectionID); err != nil {
		return nil, err
	}
	if err := msg.Arg(1, &ev.Name); err != nil {
		return nil, err
	}
	if len(msg.Arguments) > 2 {
		if err := msg.Arg(2, &ev.IsHost); err != nil {
			return nil, err
		}
	}
	return ev, nil
}

func decodeUserLeft(msg *Message) (Event, error) {
	var ev UserLeft
	if err := msg.Arg(0, &ev.ConnectionID); err != nil {
		return nil, err
	}
	return ev, nil
}

func decodeOffer(msg *Message) (Event, error) {
	var ev ReceiveOffer
	if err := msg.Arg(0, &ev.From); err != nil {
		return nil, err
	}
	if err := msg.Arg(1, &ev.SDP); err != nil {
		return nil, err
	}
	return ev, nil
}

func decodeAnswer(msg *Message) (Event, error) {
	var ev ReceiveAnswer
	if err := msg.Arg(0, &ev.From); err != nil {
		return nil, err
	}
	if err := msg.Arg(1, &ev.SDP); err != nil {
		return nil, err
	}
	return ev, nil
}

func decodeIceCandidate(msg *Message) (Event, error) {
	var ev ReceiveIceCandidate
	if err := msg.Arg(0, &ev.From); err != nil {
		return nil, err
	}
	if err := msg.Arg(1, &ev.Candidate); err != nil {
		return nil, err
	}
	return ev, nil
}

func decodeMediaState(msg *Message) (Event, error) {
	var ev ReceiveMediaState
	if err := msg.Arg(0, &ev.ConnectionID); err != nil {
		return nil, err
	}
	if err := msg.Arg(1, &ev.Kind); err != nil {
		return nil, err
	}
	if ev.Kind != KindAudio && ev.Kind != KindVideo {
		return nil, fmt.Errorf("%s: unknown media kind %q", msg.Target, ev.Kind)
	}
	if err := msg.Arg(2, &ev.Enabled); err != nil {
		return nil, err
	}
	return ev, nil
}

func decodeChatMessage(msg *Message) (Event, error) {
	var ev ReceiveChatMessage
	if err := msg.Arg(0, &ev.Message); err != nil {
		return nil, err
	}
	return ev, nil
}

func decodeWave(msg *Message) (Event, error) {
	var ev ReceiveWave
	if err := msg.Arg(0, &ev.ConnectionID); err != nil {
		return nil, err
	}
	return ev, nil
}

func decodeUnwave(msg *Message) (Event, error) {
	var ev ReceiveUnwave
	if err := msg.Arg(0, &ev.ConnectionID); err != nil {
		return nil, err
	}
	return ev, nil
}

func decodeToggleMic(msg *Message) (Event, error) {
	var ev ToggleMicCommand
	if err := msg.Arg(0, &ev.Enabled); err != nil {
		return nil, err
	}
	return ev, nil
}

func decodeToggleCam(msg *Message) (Event, error) {
	var ev ToggleCamCommand
	if err := msg.Arg(0, &ev.Enabled); err != nil {
		return nil, err
	}
	return ev, nil
}

func decodeMicState(msg *Message) (Event, error) {
	var ev MicStateChanged
	if err := msg.Arg(0, &ev.ConnectionID); err != nil {
		return nil, err
	}
	if err := msg.Arg(1, &ev.Enabled); err != nil {
		return nil, err
	}
	return ev, nil
}

func decodeCamState(msg *Message) (Event, error) {
	var ev CamStateChanged
	if err := msg.Arg(0, &ev.ConnectionID); err != nil {
		return nil, err
	}
	if err := msg.Arg(1, &ev.Enabled); err != nil {
		return nil, err
	}
	return ev, nil
}

func decodeKicked(msg *Message) (Event, error) {
	var ev KickedFromRoom
	if len(msg.Arguments) == 0 {
		return ev, nil
	}
	if err := msg.Arg(0, &ev.Reason); err != nil {
		return nil, err
	}
	return ev, nil
}

func decodeEndWarning(msg *Message) (Event, error) {
	var ev ShowEndWarning
	if err := msg.Arg(0, &ev.Message); err != nil {
		return nil, err
	}
	return ev, nil
}

func decodeTranscription(msg *Message) (Event, error) {
	var ev ReceiveTranscription
	if err := msg.Arg(0, &ev.Transcription); err != nil {
		return nil, err
	}
	return ev, nil
}

func decodeSummary(msg *Message) (Event, error) {
	var ev ReceiveMeetingSummary
	if err := msg.Arg(0, &ev.Summary); err != nil {
		return nil, err
	}
	return ev, nil
}

func decodeSummaryError(msg *Message) (Event, error) {
	var ev SummaryError
	if err := msg.Arg(0, &ev.Message); err != nil {
		return nil, err
	}
	return ev, nil
}
