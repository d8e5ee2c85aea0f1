package webrtc

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// SignalKind determines how a signal's payload is interpreted.
type SignalKind string

const (
	SignalCandidate SignalKind = "candidate"
	SignalOffer     SignalKind = "offer"
	SignalAnswer    SignalKind = "answer"
	SignalClose     SignalKind = "close"
)

func (k SignalKind) Valid() bool {
	switch k {
	case SignalCandidate, SignalOffer, SignalAnswer, SignalClose:
		return true
	}
	return false
}

// SignalMessage is an immutable negotiation message relayed between peers.
// Offers and answers carry a session description, candidates an ICE
// candidate, and close carries nothing.
type SignalMessage struct {
	kind    SignalKind
	payload json.RawMessage
}

type wireSignal struct {
	Type    SignalKind      `json:"type"`
	Content json.RawMessage `json:"content,omitempty"`
}

func NewOfferMessage(offer webrtc.SessionDescription) (SignalMessage, error) {
	return newSignal(SignalOffer, offer)
}

func NewAnswerMessage(answer webrtc.SessionDescription) (SignalMessage, error) {
	return newSignal(SignalAnswer, answer)
}

func NewCandidateMessage(candidate webrtc.ICECandidateInit) (SignalMessage, error) {
	return newSignal(SignalCandidate, candidate)
}

func NewCloseMessage() SignalMessage {
	return SignalMessage{kind: SignalClose}
}

func newSignal(kind SignalKind, v any) (SignalMessage, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return SignalMessage{}, fmt.Errorf("failed to encode %s payload: %w", kind, err)
	}
	return SignalMessage{kind: kind, payload: payload}, nil
}

func (m SignalMessage) Kind() SignalKind {
	return m.kind
}

// Payload returns a copy of the raw JSON payload, or nil.
func (m SignalMessage) Payload() []byte {
	if m.payload == nil {
		return nil
	}
	return bytes.Clone(m.payload)
}

// Description decodes the session description of an offer or answer.
func (m SignalMessage) Description() (webrtc.SessionDescription, error) {
	var desc webrtc.SessionDescription
	if m.kind != SignalOffer && m.kind != SignalAnswer {
		return desc, fmt.Errorf("%w: %s carries no session description", ErrInvalidSignal, m.kind)
	}
	if err := json.Unmarshal(m.payload, &desc); err != nil {
		return desc, fmt.Errorf("%w: %w", ErrInvalidSignal, err)
	}
	return desc, nil
}

// Candidate decodes the ICE candidate of a candidate message.
func (m SignalMessage) Candidate() (webrtc.ICECandidateInit, error) {
	var candidate webrtc.ICECandidateInit
	if m.kind != SignalCandidate {
		return candidate, fmt.Errorf("%w: %s carries no candidate", ErrInvalidSignal, m.kind)
	}
	if err := json.Unmarshal(m.payload, &candidate); err != nil {
		return candidate, fmt.Errorf("%w: %w", ErrInvalidSignal, err)
	}
	return candidate, nil
}

func (m SignalMessage) String() string {
	return string(m.kind)
}

// MarshalJSON encodes the message as {"type": kind, "content": payload}.
func (m SignalMessage) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireSignal{Type: m.kind, Content: m.payload})
}

func (m *SignalMessage) UnmarshalJSON(data []byte) error {
	var w wireSignal
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSignal, err)
	}
	if !w.Type.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidSignal, w.Type)
	}
	if w.Type != SignalClose && len(w.Content) == 0 {
		return fmt.Errorf("%w: %s without content", ErrInvalidSignal, w.Type)
	}
	*m = SignalMessage{kind: w.Type}
	if w.Type != SignalClose {
		m.payload = bytes.Clone(w.Content)
	}
	return nil
}

// Signaler delivers signals to the remote peer. A nil error does not mean
// the peer received the message.
type Signaler interface {
	SendSignal(msg SignalMessage) error
}

// SignalerFunc adapts a function to the Signaler interface.
type SignalerFunc func(msg SignalMessage) error

func (f SignalerFunc) SendSignal(msg SignalMessage) error {
	return f(msg)
}

type (
	SessionDescription = webrtc.SessionDescription
	ICECandidateInit   = webrtc.ICECandidateInit
	ICEServer          = webrtc.ICEServer
)
