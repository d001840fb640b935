// Copyright 2024-2026 Aiku AI

package gateway

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/skip2/go-qrcode"
)

// PairingPresenter shows a pairing code to the operator.
type PairingPresenter interface {
	PresentPairingCode(code string)
}

// QRPresenter renders pairing codes as a terminal QR code. Output defaults
// to stdout.
type QRPresenter struct {
	Output io.Writer
	Log    zerolog.Logger
}

var _ PairingPresenter = (*QRPresenter)(nil)

func (p *QRPresenter) PresentPairingCode(code string) {
	p.Log.Info().Msg("QR code received, scan it with the WhatsApp app on your phone")
	rendered, err := RenderQR(code)
	if err != nil {
		// The raw code can still be pasted into any QR generator.
		p.Log.Err(err).Str("code", code).Msg("Failed to render QR code")
		return
	}
	out := p.Output
	if out == nil {
		out = os.Stdout
	}
	if _, err = io.WriteString(out, rendered); err != nil {
		p.Log.Warn().Err(err).Msg("Failed to write QR code")
	}
}

// RenderQR encodes code as a compact QR code made of half-block characters.
func RenderQR(code string) (string, error) {
	qr, err := qrcode.New(code, qrcode.Low)
	if err != nil {
		return "", err
	}
	return qr.ToSmallString(false), nil
}
