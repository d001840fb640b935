// Copyright 2024-2026 Aiku AI

// Package wmsession implements the gateway transport on top of whatsmeow.
package wmsession

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/types"
	waLog "go.mau.fi/whatsmeow/util/log"

	"github.com/aiku/whatsapp-gateway/pkg/gateway"
)

// Dialer creates whatsmeow clients. Reconnecting is left to the gateway
// supervisor, so whatsmeow's own reconnect logic is turned off.
type Dialer struct {
	log zerolog.Logger
}

var _ gateway.Dialer = (*Dialer)(nil)

func NewDialer(log zerolog.Logger) *Dialer {
	return &Dialer{log: log}
}

func (d *Dialer) Dial(ctx context.Context, creds gateway.Credentials, handlers gateway.Handlers) (gateway.Session, error) {
	dev, ok := creds.(*Device)
	if !ok || dev.Device == nil {
		return nil, ErrForeignCredentials
	}
	client := whatsmeow.NewClient(dev.Device, waLog.Zerolog(d.log.With().Str("component", "whatsmeow").Logger()))
	client.EnableAutoReconnect = false
	client.DisableLoginAutoReconnect = true

	sess := &Session{
		client:   client,
		device:   dev,
		handlers: handlers,
		log:      d.log.With().Str("component", "wa_session").Logger(),
	}
	client.AddEventHandler(sess.handleEvent)

	var qrChan <-chan whatsmeow.QRChannelItem
	if client.Store.ID == nil {
		var err error
		qrChan, err = client.GetQRChannel(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get QR channel: %w", err)
		}
	}

	sess.emit(gateway.ConnectionUpdate{State: gateway.StateConnecting})
	if err := client.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	if qrChan != nil {
		go sess.watchQR(qrChan)
	}
	return sess, nil
}

// Session is a single whatsmeow client. It reports at most one closed
// update; later disconnect events of the same client are dropped.
type Session struct {
	client   *whatsmeow.Client
	device   *Device
	handlers gateway.Handlers

	closed atomic.Bool
	log    zerolog.Logger
}

var _ gateway.Session = (*Session)(nil)

// CheckExists looks up a phone number. number is the digits of the phone
// number, with or without a leading "+".
func (s *Session) CheckExists(ctx context.Context, number string) (gateway.ExistenceResult, error) {
	phone := phoneQuery(number)
	resp, err := s.client.IsOnWhatsApp(ctx, []string{phone})
	if err != nil {
		return gateway.ExistenceResult{}, err
	}
	for _, item := range resp {
		if item.IsIn && !item.JID.IsEmpty() {
			return gateway.ExistenceResult{Exists: true, VerifiedAddress: item.JID.ToNonAD().String()}, nil
		}
	}
	return gateway.ExistenceResult{}, nil
}

func (s *Session) Send(ctx context.Context, to string, content gateway.OutboundContent) error {
	jid, err := types.ParseJID(to)
	if err != nil {
		return fmt.Errorf("invalid recipient %q: %w", to, err)
	}
	msg, err := s.buildMessage(ctx, content)
	if err != nil {
		return err
	}
	resp, err := s.client.SendMessage(ctx, jid, msg)
	if err != nil {
		return err
	}
	s.log.Debug().
		Str("recipient", jid.String()).
		Str("message_id", resp.ID).
		Msg("Message sent")
	return nil
}

func (s *Session) SetPresence(ctx context.Context, to string, presence gateway.Presence) error {
	jid, err := types.ParseJID(to)
	if err != nil {
		return fmt.Errorf("invalid recipient %q: %w", to, err)
	}
	return s.client.SendChatPresence(ctx, jid, types.ChatPresence(presence), types.ChatPresenceMediaText)
}

// Close disconnects the client without reporting a closed update.
func (s *Session) Close() error {
	s.closed.Store(true)
	s.client.Disconnect()
	return nil
}

func (s *Session) emit(update gateway.ConnectionUpdate) {
	if update.State == gateway.StateClosed && !s.closed.CompareAndSwap(false, true) {
		s.log.Debug().Stringer("cause", update.Cause).Msg("Session already closed, dropping update")
		return
	}
	if update.State != gateway.StateClosed && s.closed.Load() {
		return
	}
	if s.handlers.OnConnectionUpdate != nil {
		s.handlers.OnConnectionUpdate(update)
	}
}

func (s *Session) watchQR(ch <-chan whatsmeow.QRChannelItem) {
	for item := range ch {
		switch item.Event {
		case whatsmeow.QRChannelEventCode:
			s.emit(gateway.ConnectionUpdate{PairingCode: item.Code})
		case whatsmeow.QRChannelSuccess.Event:
			s.log.Info().Msg("Pairing successful")
		case whatsmeow.QRChannelTimeout.Event:
			s.emit(gateway.ConnectionUpdate{
				State: gateway.StateClosed,
				Cause: gateway.CauseOther,
				Err:   errors.New("pairing timed out"),
			})
		case whatsmeow.QRChannelEventError:
			s.emit(gateway.ConnectionUpdate{
				State: gateway.StateClosed,
				Cause: gateway.CauseOther,
				Err:   fmt.Errorf("pairing failed: %w", item.Error),
			})
		default:
			s.log.Warn().Str("qr_event", item.Event).Msg("Unexpected pairing event")
		}
	}
}
