package signaling

// Hub methods invoked by clients.
const (
	MethodJoinRoom               = "JoinRoom"
	MethodJoinRoomConfirm        = "JoinRoomConfirm"
	MethodGetParticipants        = "GetParticipants"
	MethodLeaveRoom              = "LeaveRoom"
	MethodEndRoom                = "EndRoom"
	MethodSendOffer              = "SendOffer"
	MethodSendAnswer             = "SendAnswer"
	MethodSendIceCandidate       = "SendIceCandidate"
	MethodBroadcastMediaState    = "BroadcastMediaState"
	MethodSendChatMessage        = "SendChatMessage"
	MethodSendWave               = "SendWave"
	MethodUnwave                 = "Unwave"
	MethodLowerAllHands          = "LowerAllHands"
	MethodToggleMic              = "ToggleMic"
	MethodToggleCam              = "ToggleCam"
	MethodKickUser               = "KickUser"
	MethodBroadcastTranscription = "BroadcastTranscription"
	MethodRequestTranslation     = "RequestTranslation"
	MethodRequestMeetingSummary  = "RequestMeetingSummary"
	MethodGetMeetingSummary      = "GetMeetingSummary"
)

// Media kinds carried by BroadcastMediaState and ReceiveMediaState.
const (
	KindAudio = "audio"
	KindVideo = "video"
)

// JoinResult is the completion payload of JoinRoom.
type JoinResult struct {
	ConnectionID string `json:"connectionId"`
	IsHost       bool   `json:"isHost"`
}

// ParticipantInfo is one entry of the GetParticipants result.
type ParticipantInfo struct {
	ConnectionID string `json:"connectionId"`
	Name         string `json:"name"`
	IsHost       bool   `json:"isHost"`
	AudioEnabled bool   `json:"audioEnabled"`
	VideoEnabled bool   `json:"videoEnabled"`
	HandRaised   bool   `json:"isHandRaised"`
}
