package peerclient

import (
	"errors"
	"fmt"

	"github.com/plenny-labs/dlsp/pkg/crypto"
)

// Signing endpoints served by every validator.
const (
	EndpointSignChannelOpening = "/signChannelOpening"
	EndpointSignChannelClosing = "/signChannelClosing"
)

// ErrEmptySignature is returned when a peer answers without a signature.
var ErrEmptySignature = errors.New("peer returned no signature")

// Payload is a typed signing request body.
type Payload interface {
	Endpoint() string
	Validate() error
}

// SignChannelOpeningRequest asks a validator to attest a channel opening.
// The channel id does not fit a float64, so it travels as a decimal string.
type SignChannelOpeningRequest struct {
	ChannelIndex uint64 `json:"channelIndex"`
	ChannelID    uint64 `json:"channelId,string"`
}

// Endpoint implements Payload.
func (SignChannelOpeningRequest) Endpoint() string { return EndpointSignChannelOpening }

// Validate implements Payload.
func (r SignChannelOpeningRequest) Validate() error {
	if r.ChannelIndex == 0 {
		return fmt.Errorf("channel opening request: channel index is required")
	}
	if r.ChannelID == 0 {
		return fmt.Errorf("channel opening request: channel id is required")
	}
	return nil
}

// SignChannelClosingRequest asks a validator to attest a channel closing.
type SignChannelClosingRequest struct {
	ChannelIndex uint64 `json:"channelIndex"`
	ClosingTxID  string `json:"closingTxId"`
}

// Endpoint implements Payload.
func (SignChannelClosingRequest) Endpoint() string { return EndpointSignChannelClosing }

// Validate implements Payload.
func (r SignChannelClosingRequest) Validate() error {
	if r.ChannelIndex == 0 {
		return fmt.Errorf("channel closing request: channel index is required")
	}
	if r.ClosingTxID == "" {
		return fmt.Errorf("channel closing request: closing txid is required")
	}
	return nil
}

// SignatureResponse is a validator's answer: 0x-prefixed hex r||s||marker.
type SignatureResponse struct {
	Signature string `json:"signature"`
}

// Validate checks that the signature is present and well formed.
func (r SignatureResponse) Validate() error {
	if r.Signature == "" {
		return ErrEmptySignature
	}
	if _, err := crypto.DecodeSignature(r.Signature); err != nil {
		return fmt.Errorf("malformed signature: %w", err)
	}
	return nil
}
