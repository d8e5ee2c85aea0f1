package webrtc

import (
	"errors"
	"fmt"
)

var (
	// ErrNegotiationFailed is reported when creating or applying an offer, answer or description fails.
	ErrNegotiationFailed = errors.New("negotiation failed")

	// ErrNegotiationTimeout is reported when a negotiation round does not reach Ready in time.
	ErrNegotiationTimeout = fmt.Errorf("%w: timed out", ErrNegotiationFailed)

	// ErrChannelNotReady is returned by Send outside the Ready state.
	ErrChannelNotReady = errors.New("data channel not ready")

	// ErrInvalidStateTransition is returned when an operation is not allowed in the current state.
	ErrInvalidStateTransition = errors.New("invalid state transition")

	// ErrConnectionClosed is returned after Close.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrInvalidSignal is returned for malformed or unknown signal messages.
	ErrInvalidSignal = errors.New("invalid signal message")

	// ErrRelayDeliveryUnconfirmed describes the relay contract: a successful
	// SendSignal is never proof of delivery. The connection does not return it.
	ErrRelayDeliveryUnconfirmed = errors.New("relay delivery unconfirmed")
)
