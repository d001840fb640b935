// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

var (
	ErrInvalidRequest    = errors.New("invalid request")
	ErrNotConnected      = fmt.Errorf("%w: no active WhatsApp session", ErrInvalidRequest)
	ErrRecipientNotFound = errors.New("recipient not found on WhatsApp")
	ErrDeliveryFailed    = errors.New("delivery failed")
)

// OutboundRequest is a message the application server wants delivered.
type OutboundRequest struct {
	To         string
	Text       string
	Attachment []byte
	FileName   string
}

// Validate checks the request shape without touching the network.
func (req OutboundRequest) Validate() error {
	if NumberFromAddress(req.To) == "" {
		return fmt.Errorf("%w: recipient is required", ErrInvalidRequest)
	}
	if req.Text == "" && len(req.Attachment) == 0 {
		return fmt.Errorf("%w: text or media is required", ErrInvalidRequest)
	}
	if req.Text == "" && req.FileName == "" {
		return fmt.Errorf("%w: media without a file name", ErrInvalidRequest)
	}
	return nil
}

// SendResult says which kind of message was delivered.
type SendResult int

const (
	SentText SendResult = iota
	SentMedia
)

func (r SendResult) String() string {
	if r == SentMedia {
		return "media sent"
	}
	return "text sent"
}

// Outbound delivers messages through the active session after checking
// that the recipient exists.
type Outbound struct {
	sessions SessionProvider
	log      zerolog.Logger
}

func NewOutbound(sessions SessionProvider, log zerolog.Logger) *Outbound {
	return &Outbound{
		sessions: sessions,
		log:      log.With().Str("component", "outbound").Logger(),
	}
}

// Send verifies the recipient and delivers the request to its verified
// address. Errors match ErrInvalidRequest, ErrNotConnected,
// ErrRecipientNotFound or ErrDeliveryFailed.
func (o *Outbound) Send(ctx context.Context, req OutboundRequest) (SendResult, error) {
	sess := o.sessions.Session()
	if sess == nil {
		return 0, ErrNotConnected
	}
	if err := req.Validate(); err != nil {
		return 0, err
	}
	number := NumberFromAddress(req.To)
	log := o.log.With().Str("number", number).Logger()

	existence, err := sess.CheckExists(ctx, number)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to check recipient: %w", ErrDeliveryFailed, err)
	}
	if !existence.Exists || existence.VerifiedAddress == "" {
		log.Warn().Msg("Recipient is not on WhatsApp")
		return 0, ErrRecipientNotFound
	}

	content := OutboundContent{Text: req.Text}
	result := SentText
	if len(req.Attachment) > 0 && req.FileName != "" {
		content.Attachment = req.Attachment
		content.FileName = req.FileName
		result = SentMedia
	}
	if err = sess.Send(ctx, existence.VerifiedAddress, content); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrDeliveryFailed, err)
	}
	log.Info().
		Str("recipient", existence.VerifiedAddress).
		Stringer("result", result).
		Msg("Sent outbound message")
	return result, nil
}
