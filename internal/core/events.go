package core

import (
	"encoding/json"

	"github.com/dkeye/Drop/internal/domain"
)

// Inbound event types.
const (
	EvCreateSession  = "create-session"
	EvJoinSession    = "join-session"
	EvCancelSession  = "cancel-session"
	EvRelayOffer     = "relay-offer"
	EvRelayAnswer    = "relay-answer"
	EvRelayCandidate = "relay-candidate"
	EvPing           = "ping"
)

// Outbound event types.
const (
	EvCreated           = "created"
	EvCreateError       = "create-error"
	EvJoinSuccess       = "join-success"
	EvJoinError         = "join-error"
	EvNewPeerJoined     = "new-peer-joined"
	EvOfferReceived     = "offer-received"
	EvAnswerReceived    = "answer-received"
	EvCandidateReceived = "candidate-received"
	EvSessionClosed     = "session-closed"
	EvPeerLeft          = "peer-left"
	EvCancelled         = "cancelled"
	EvCancelError       = "cancel-error"
	EvPong              = "pong"
	EvError             = "error"
)

type Envelope struct {
	Type string `json:"type"`
}

type CreateRequest struct {
	Items []domain.Item `json:"items"`
}

type JoinRequest struct {
	PublicID domain.PublicID `json:"publicId"`
}

type CancelRequest struct {
	PublicID       domain.PublicID `json:"publicId"`
	DeletionSecret string          `json:"deletionSecret"`
}

// RelayRequest carries one handshake message. Payload holds whichever of
// offer, answer or candidate the event type names and is never decoded.
type RelayRequest struct {
	TargetID  domain.ConnID   `json:"targetId"`
	Offer     json.RawMessage `json:"offer,omitempty"`
	Answer    json.RawMessage `json:"answer,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

type Created struct {
	Type           string          `json:"type"`
	PublicID       domain.PublicID `json:"publicId"`
	DeletionSecret string          `json:"deletionSecret"`
}

type JoinSuccess struct {
	Type        string          `json:"type"`
	PublicID    domain.PublicID `json:"publicId"`
	Items       []domain.Item   `json:"items"`
	PeerConnIDs []domain.ConnID `json:"peerConnectionIds"`
	SelfConnID  domain.ConnID   `json:"selfId"`
}

type PeerEvent struct {
	Type   string        `json:"type"`
	PeerID domain.ConnID `json:"peerId"`
}

type SessionClosed struct {
	Type     string          `json:"type"`
	PublicID domain.PublicID `json:"publicId"`
	Reason   string          `json:"reason,omitempty"`
}

type Cancelled struct {
	Type     string          `json:"type"`
	PublicID domain.PublicID `json:"publicId"`
}

type Relayed struct {
	Type      string          `json:"type"`
	FromID    domain.ConnID   `json:"fromId"`
	Offer     json.RawMessage `json:"offer,omitempty"`
	Answer    json.RawMessage `json:"answer,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

type ErrorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Kind    string `json:"kind,omitempty"`
}

// Encode marshals an outbound event.
func Encode(v any) (Frame, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return Frame(b), nil
}
