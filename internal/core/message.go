package core

// MessageType tags a signaling message. Values match the PeerJS wire protocol.
type MessageType string

const (
	// MessageOpen confirms to a client that its connection was accepted.
	MessageOpen MessageType = "OPEN"
	// MessageLeave announces that a peer is going away.
	MessageLeave MessageType = "LEAVE"
	// MessageCandidate carries an ICE candidate.
	MessageCandidate MessageType = "CANDIDATE"
	// MessageOffer carries an SDP offer.
	MessageOffer MessageType = "OFFER"
	// MessageAnswer carries an SDP answer.
	MessageAnswer MessageType = "ANSWER"
	// MessageExpire tells an originator that a buffered message was never delivered.
	MessageExpire MessageType = "EXPIRE"
	// MessageHeartbeat keeps a connection alive.
	MessageHeartbeat MessageType = "HEARTBEAT"
	// MessageIDTaken rejects a connection whose id is already in use.
	MessageIDTaken MessageType = "ID-TAKEN"
	// MessageError reports a protocol-level error.
	MessageError MessageType = "ERROR"
)

// Message is an immutable signaling message routed between clients.
type Message struct {
	Type        MessageType
	Source      string
	Destination string
	Payload     string
}

// NewMessage builds a server-originated message with no source or destination.
func NewMessage(kind MessageType, payload string) Message {
	return Message{Type: kind, Payload: payload}
}

// Pair identifies the ordered (source, destination) route of a message.
type Pair struct {
	Source      string
	Destination string
}

// Pair returns the route key of the message.
func (m Message) Pair() Pair {
	return Pair{Source: m.Source, Destination: m.Destination}
}

// Buffered reports whether a message of this type may be queued for an absent peer.
func (t MessageType) Buffered() bool {
	return t != MessageLeave && t != MessageExpire
}
