// Copyright 2024-2026 Aiku AI

package wmsession

import (
	"errors"
	"fmt"
	"strings"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/aiku/whatsapp-gateway/pkg/gateway"
)

// streamErrorRestart is the stream error code WhatsApp sends when the
// client must reconnect, most notably right after pairing.
const streamErrorRestart = "515"

func (s *Session) handleEvent(rawEvt any) {
	if update, ok := connectionUpdateFor(rawEvt); ok {
		s.emit(update)
		return
	}
	switch evt := rawEvt.(type) {
	case *events.PairSuccess:
		s.log.Info().
			Stringer("jid", evt.ID).
			Str("platform", evt.Platform).
			Msg("Paired with phone")
		if s.handlers.OnCredentialsChanged != nil {
			s.handlers.OnCredentialsChanged(s.device)
		}
	case *events.PairError:
		s.log.Err(evt.Error).Stringer("jid", evt.ID).Msg("Pairing failed")
	case *events.KeepAliveTimeout:
		s.log.Debug().Int("error_count", evt.ErrorCount).Msg("Keepalive timed out")
	case *events.Message:
		if s.handlers.OnMessage != nil {
			s.handlers.OnMessage(convertMessage(evt))
		}
	case *events.CallOffer:
		if s.handlers.OnCallOffer != nil {
			s.handlers.OnCallOffer(convertCallOffer(evt))
		}
	}
}

// connectionUpdateFor maps whatsmeow connection events to gateway updates.
func connectionUpdateFor(rawEvt any) (gateway.ConnectionUpdate, bool) {
	closed := func(cause gateway.DisconnectCause, err error) (gateway.ConnectionUpdate, bool) {
		return gateway.ConnectionUpdate{State: gateway.StateClosed, Cause: cause, Err: err}, true
	}
	switch evt := rawEvt.(type) {
	case *events.Connected:
		return gateway.ConnectionUpdate{State: gateway.StateOpen}, true
	case *events.LoggedOut:
		return closed(gateway.CauseLoggedOut, fmt.Errorf("logged out: %s", evt.Reason))
	case *events.ManualLoginReconnect:
		return closed(gateway.CauseRestartRequired, errors.New("restart required after login"))
	case *events.StreamError:
		if evt.Code == streamErrorRestart {
			return closed(gateway.CauseRestartRequired, fmt.Errorf("stream error %s", evt.Code))
		}
		return closed(gateway.CauseOther, fmt.Errorf("stream error %s", evt.Code))
	case *events.ConnectFailure:
		err := fmt.Errorf("connect failure %d: %s", int(evt.Reason), evt.Message)
		if evt.Reason.IsLoggedOut() {
			return closed(gateway.CauseLoggedOut, err)
		}
		return closed(gateway.CauseOther, err)
	case *events.StreamReplaced:
		return closed(gateway.CauseOther, errors.New("stream replaced by another client"))
	case *events.TemporaryBan:
		return closed(gateway.CauseOther, fmt.Errorf("temporary ban: %s", evt))
	case *events.ClientOutdated:
		return closed(gateway.CauseOther, errors.New("client outdated"))
	case *events.CATRefreshError:
		return closed(gateway.CauseOther, fmt.Errorf("CAT refresh failed: %w", evt.Error))
	case *events.Disconnected:
		return closed(gateway.CauseOther, errors.New("disconnected"))
	}
	return gateway.ConnectionUpdate{}, false
}

func convertMessage(evt *events.Message) gateway.InboundMessage {
	kind, text := classifyMessage(evt.Message)
	return gateway.InboundMessage{
		ID:        evt.Info.ID,
		Sender:    chatAddress(evt.Info.MessageSource).String(),
		FromMe:    evt.Info.IsFromMe,
		Kind:      kind,
		Text:      text,
		PushName:  evt.Info.PushName,
		Timestamp: evt.Info.Timestamp,
	}
}

// chatAddress returns the phone number address of a direct chat. Chats
// addressed by LID fall back to the alternate phone number address when
// WhatsApp provides one.
func chatAddress(src types.MessageSource) types.JID {
	chat := src.Chat.ToNonAD()
	if chat.Server != types.HiddenUserServer {
		return chat
	}
	alt := src.SenderAlt
	if src.IsFromMe {
		alt = src.RecipientAlt
	}
	if alt.Server == types.DefaultUserServer {
		return alt.ToNonAD()
	}
	return chat
}

// classifyMessage decides the payload kind of a message and extracts its
// plain text. Media captions are not treated as text.
func classifyMessage(msg *waE2E.Message) (gateway.MessageKind, string) {
	if msg == nil {
		return gateway.KindEmpty, ""
	}
	text := msg.GetConversation()
	if text == "" {
		text = msg.GetExtendedTextMessage().GetText()
	}
	switch {
	case msg.GetImageMessage() != nil:
		return gateway.KindImage, ""
	case msg.GetVideoMessage() != nil, msg.GetPtvMessage() != nil:
		return gateway.KindVideo, ""
	case msg.GetAudioMessage() != nil:
		return gateway.KindAudio, ""
	case msg.GetStickerMessage() != nil:
		return gateway.KindSticker, ""
	case msg.GetDocumentMessage() != nil, msg.GetDocumentWithCaptionMessage() != nil:
		return gateway.KindDocument, ""
	case text != "":
		return gateway.KindText, text
	case msg.GetProtocolMessage() != nil, msg.GetSenderKeyDistributionMessage() != nil:
		// Signalling only, nothing a person wrote.
		return gateway.KindEmpty, ""
	default:
		return gateway.KindUnknown, ""
	}
}

func convertCallOffer(evt *events.CallOffer) gateway.CallOffer {
	offer := gateway.CallOffer{CallID: evt.CallID}
	if !evt.From.IsEmpty() {
		offer.From = evt.From.ToNonAD().String()
	}
	return offer
}

// phoneQuery formats a number the way whatsmeow expects phone lookups.
func phoneQuery(number string) string {
	number = strings.TrimSpace(number)
	if strings.HasPrefix(number, "+") {
		return number
	}
	return "+" + number
}
