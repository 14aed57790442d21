package peer

import (
	pion "github.com/pion/webrtc/v4"
)

// Sender is the part of an RTP sender the manager needs to swap tracks.
type Sender interface {
	Track() pion.TrackLocal
	ReplaceTrack(track pion.TrackLocal) error
}

// Conn is the subset of a pion peer connection used for negotiation.
type Conn interface {
	SignalingState() pion.SignalingState
	ICEConnectionState() pion.ICEConnectionState
	RemoteDescription() *pion.SessionDescription

	CreateOffer(options *pion.OfferOptions) (pion.SessionDescription, error)
	CreateAnswer(options *pion.AnswerOptions) (pion.SessionDescription, error)
	SetLocalDescription(desc pion.SessionDescription) error
	SetRemoteDescription(desc pion.SessionDescription) error
	AddICECandidate(candidate pion.ICECandidateInit) error

	AddTrack(track pion.TrackLocal) (Sender, error)
	Senders() []Sender

	OnICECandidate(f func(candidate pion.ICECandidateInit))
	OnICEConnectionStateChange(f func(state pion.ICEConnectionState))
	OnTrack(f func(track *pion.TrackRemote))

	Close() error
}

// ConnFactory builds a connection for one remote participant.
type ConnFactory func(cfg pion.Configuration) (Conn, error)

// pionConn adapts *pion.PeerConnection to Conn.
type pionConn struct {
	pc *pion.PeerConnection
}

// NewPionConn creates a real pion peer connection.
func NewPionConn(cfg pion.Configuration) (Conn, error) {
	pc, err := pion.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}
	return &pionConn{pc: pc}, nil
}

func (c *pionConn) SignalingState() pion.SignalingState { return c.pc.SignalingState() }

func (c *pionConn) ICEConnectionState() pion.ICEConnectionState {
	return c.pc.ICEConnectionState()
}

func (c *pionConn) RemoteDescription() *pion.SessionDescription { return c.pc.RemoteDescription() }

func (c *pionConn) CreateOffer(options *pion.OfferOptions) (pion.SessionDescription, error) {
	return c.pc.CreateOffer(options)
}

func (c *pionConn) CreateAnswer(options *pion.AnswerOptions) (pion.SessionDescription, error) {
	return c.pc.CreateAnswer(options)
}

func (c *pionConn) SetLocalDescription(desc pion.SessionDescription) error {
	return c.pc.SetLocalDescription(desc)
}

func (c *pionConn) SetRemoteDescription(desc pion.SessionDescription) error {
	return c.pc.SetRemoteDescription(desc)
}

func (c *pionConn) AddICECandidate(candidate pion.ICECandidateInit) error {
	return c.pc.AddICECandidate(candidate)
}

func (c *pionConn) AddTrack(track pion.TrackLocal) (Sender, error) {
	sender, err := c.pc.AddTrack(track)
	if err != nil {
		return nil, err
	}
	go drainRTCP(sender)
	return sender, nil
}

func (c *pionConn) Senders() []Sender {
	senders := c.pc.GetSenders()
	out := make([]Sender, 0, len(senders))
	for _, s := range senders {
		out = append(out, s)
	}
	return out
}

func (c *pionConn) OnICECandidate(f func(candidate pion.ICECandidateInit)) {
	c.pc.OnICECandidate(func(candidate *pion.ICECandidate) {
		// nil marks the end of gathering.
		if candidate == nil {
			return
		}
		f(candidate.ToJSON())
	})
}

func (c *pionConn) OnICEConnectionStateChange(f func(state pion.ICEConnectionState)) {
	c.pc.OnICEConnectionStateChange(f)
}

func (c *pionConn) OnTrack(f func(track *pion.TrackRemote)) {
	c.pc.OnTrack(func(track *pion.TrackRemote, _ *pion.RTPReceiver) {
		f(track)
	})
}

func (c *pionConn) Close() error { return c.pc.Close() }

// drainRTCP reads incoming RTCP so interceptors (NACK, reports) keep running.
func drainRTCP(sender *pion.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}
