package peer

// NegotiationState is the per-peer negotiation phase.
type NegotiationState int

const (
	NoConnection NegotiationState = iota
	LocalOfferPending
	RemoteOfferReceived
	Stable
	Renegotiating
	Closed
)

func (s NegotiationState) String() string {
	switch s {
	case NoConnection:
		return "no-connection"
	case LocalOfferPending:
		return "local-offer-pending"
	case RemoteOfferReceived:
		return "remote-offer-received"
	case Stable:
		return "stable"
	case Renegotiating:
		return "renegotiating"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// transitions lists every legal move. A rebuilt connection starts over from
// NoConnection.
var transitions = map[NegotiationState][]NegotiationState{
	NoConnection:        {LocalOfferPending, RemoteOfferReceived, Closed},
	LocalOfferPending:   {Stable, RemoteOfferReceived, NoConnection, Closed},
	RemoteOfferReceived: {Stable, Closed},
	Stable:              {Renegotiating, RemoteOfferReceived, NoConnection, Closed},
	Renegotiating:       {Stable, RemoteOfferReceived, NoConnection, Closed},
	Closed:              nil,
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to NegotiationState) bool {
	if from == to {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Polite reports whether the local side yields on an offer collision.
// The side with the greater connection id is polite, so the offer from the
// smaller id always wins.
func Polite(localID, remoteID string) bool {
	return localID > remoteID
}
