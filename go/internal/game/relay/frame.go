package relay

import "encoding/json"

// Kind identifies what a relay frame carries
type Kind string

const (
	// KindRequest forwards a client message to the owning server
	KindRequest Kind = "request"
	// KindReply answers a request; Error holds a wire error code, empty on success
	KindReply Kind = "reply"
	// KindDeliver pushes an outbound message to a connection held by another server
	KindDeliver Kind = "deliver"
	// KindClose asks the server holding a connection to close it
	KindClose Kind = "close"
	// KindDisconnect tells the owning server a relayed connection went away
	KindDisconnect Kind = "disconnect"
)

// Frame is the envelope exchanged between servers
type Frame struct {
	Kind          Kind            `json:"kind"`
	CorrelationID string          `json:"correlationId,omitempty"`
	From          string          `json:"from"`
	ConnID        string          `json:"connId,omitempty"`
	SessionID     string          `json:"sessionId,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	Code          int             `json:"code,omitempty"`
	Reason        string          `json:"reason,omitempty"`
	Error         string          `json:"error,omitempty"`
}
