// Copyright 2024-2026 Aiku AI

package gateway

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/aiku/whatsapp-gateway/pkg/gateway/webhook"
)

// Webhook is the part of the application server the router talks to.
type Webhook interface {
	Notify(ctx context.Context, userID, message string) error
	CheckState(ctx context.Context, userID string) (webhook.ConversationState, error)
}

var _ Webhook = (*webhook.Client)(nil)

const (
	roleAgent    = "agent"
	roleCustomer = "customer"
)

// Router classifies inbound events and routes each one to at most one
// action: forward a command, forward text, reply with the limitation
// notice, or drop.
type Router struct {
	sessions SessionProvider
	webhook  Webhook
	messages MessagesConfig
	log      zerolog.Logger
}

var _ EventSink = (*Router)(nil)

// NewRouter creates a Router. Empty message settings fall back to the
// defaults.
func NewRouter(sessions SessionProvider, hook Webhook, messages MessagesConfig, log zerolog.Logger) *Router {
	return &Router{
		sessions: sessions,
		webhook:  hook,
		messages: messages.withDefaults(),
		log:      log.With().Str("component", "router").Logger(),
	}
}

// HandleMessage routes one inbound message. Failures are logged, never
// returned.
func (r *Router) HandleMessage(ctx context.Context, msg InboundMessage) {
	log := r.log.With().
		Str("sender", msg.Sender).
		Str("message_id", msg.ID).
		Str("push_name", msg.PushName).
		Time("timestamp", msg.Timestamp).
		Stringer("kind", msg.Kind).
		Logger()

	if msg.Kind == KindEmpty || IsIgnoredChat(msg.Sender) {
		log.Trace().Msg("Dropping message without payload or from group/broadcast")
		return
	}
	text := NormalizeText(msg.Text)

	if r.isCommand(text) {
		role := roleCustomer
		if msg.FromMe {
			role = roleAgent
		}
		log.Info().Str("command", text).Str("role", role).Msg("Forwarding command")
		if err := r.webhook.Notify(ctx, msg.Sender, text); err != nil {
			r.logWebhookError(log, err, "Failed to forward command")
		}
		return
	}
	if msg.FromMe {
		log.Trace().Msg("Dropping self-sent message")
		return
	}

	state, err := r.webhook.CheckState(ctx, msg.Sender)
	if err != nil {
		r.logWebhookError(log, err, "Failed to check conversation state")
		return
	}
	switch state {
	case webhook.StateHumanAttendance:
		log.Debug().Msg("Conversation is in human attendance, not forwarding")
		return
	case webhook.StateNormal:
	default:
		log.Warn().Str("state", string(state)).Msg("Unknown conversation state, treating as normal")
	}

	if msg.Kind.IsMedia() {
		log.Info().Msg("Media received, sending limitation notice")
		r.sendLimitation(ctx, log, msg.Sender)
		return
	}
	if text == "" {
		log.Trace().Msg("Dropping message without text")
		return
	}

	if sess := r.sessions.Session(); sess != nil {
		if err = sess.SetPresence(ctx, msg.Sender, PresenceComposing); err != nil {
			log.Debug().Err(err).Msg("Failed to send typing presence")
		}
	}
	if err = r.webhook.Notify(ctx, msg.Sender, text); err != nil {
		r.logWebhookError(log, err, "Failed to forward message")
		return
	}
	log.Debug().Msg("Forwarded message to webhook")
}

// HandleCallOffer answers a call attempt with the limitation notice.
func (r *Router) HandleCallOffer(ctx context.Context, offer CallOffer) {
	if offer.From == "" {
		r.log.Warn().Str("call_id", offer.CallID).Msg("Call from unknown number, ignoring")
		return
	}
	log := r.log.With().Str("caller", offer.From).Str("call_id", offer.CallID).Logger()
	log.Info().Msg("Incoming call, sending limitation notice")
	r.sendLimitation(ctx, log, offer.From)
}

func (r *Router) isCommand(text string) bool {
	return text != "" && (text == r.messages.PauseCommand || text == r.messages.ResumeCommand)
}

func (r *Router) sendLimitation(ctx context.Context, log zerolog.Logger, to string) {
	sess := r.sessions.Session()
	if sess == nil {
		log.Warn().Msg("No active session, cannot send limitation notice")
		return
	}
	if err := sess.Send(ctx, to, OutboundContent{Text: r.messages.Limitation}); err != nil {
		log.Err(err).Msg("Failed to send limitation notice")
	}
}

func (r *Router) logWebhookError(log zerolog.Logger, err error, msg string) {
	var respErr *webhook.ResponseError
	switch {
	case errors.As(err, &respErr):
		log.Error().
			Int("status_code", respErr.StatusCode).
			Str("response_body", respErr.Body).
			Msg(msg)
	case errors.Is(err, webhook.ErrUnreachable):
		log.Error().Err(err).Msg(msg + ": no response from the application server, is it running?")
	default:
		log.Error().Err(err).Msg(msg)
	}
}
