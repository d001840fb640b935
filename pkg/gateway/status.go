// Copyright 2024-2026 Aiku AI

package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/bridgev2/networkid"
	"maunium.net/go/mautrix/bridgev2/status"
)

const statusPushTimeout = 10 * time.Second

const (
	errLoggedOut       status.BridgeStateErrorCode = "wa-logged-out"
	errRestartRequired status.BridgeStateErrorCode = "wa-restart-required"
	errConnectionLost  status.BridgeStateErrorCode = "wa-connection-lost"
)

// stateFromUpdate maps a transport connection update to a bridge state.
// Updates that only carry a pairing code return ok=false.
func stateFromUpdate(update ConnectionUpdate) (state status.BridgeState, ok bool) {
	switch update.State {
	case StateConnecting:
		state = status.BridgeState{StateEvent: status.StateConnecting}
	case StateOpen:
		state = status.BridgeState{StateEvent: status.StateConnected}
	case StateClosed:
		switch update.Cause {
		case CauseLoggedOut:
			state = status.BridgeState{
				StateEvent: status.StateBadCredentials,
				Error:      errLoggedOut,
				Message:    "Logged out from WhatsApp, scan the new QR code to pair again",
				UserAction: status.UserActionRelogin,
			}
		case CauseRestartRequired:
			state = status.BridgeState{
				StateEvent: status.StateTransientDisconnect,
				Error:      errRestartRequired,
				Message:    "WhatsApp asked for a restart",
			}
		default:
			state = status.BridgeState{
				StateEvent: status.StateTransientDisconnect,
				Error:      errConnectionLost,
				Message:    "Connection to WhatsApp lost",
			}
			if update.Err != nil {
				state.Info = map[string]any{"go_error": update.Err.Error()}
			}
		}
	default:
		return state, false
	}
	return state.Fill(nil), true
}

// stateReporter keeps the latest bridge state and optionally pushes every
// change to a status endpoint.
type stateReporter struct {
	endpoint string
	token    string
	log      zerolog.Logger

	mu       sync.Mutex
	remoteID networkid.UserLoginID
	current  status.BridgeState
	pushed   *status.BridgeState
}

func newStateReporter(endpoint, token string, log zerolog.Logger) *stateReporter {
	return &stateReporter{
		endpoint: endpoint,
		token:    token,
		log:      log,
		current:  status.BridgeState{StateEvent: status.StateStarting}.Fill(nil),
	}
}

func (r *stateReporter) Current() status.BridgeState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

func (r *stateReporter) Update(state status.BridgeState) {
	r.mu.Lock()
	state.RemoteID = r.remoteID
	r.current = state
	if r.endpoint == "" || r.pushed.ShouldDeduplicate(&state) {
		r.mu.Unlock()
		return
	}
	r.pushed = &state
	r.mu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), statusPushTimeout)
		defer cancel()
		if err := state.SendHTTP(ctx, r.endpoint, r.token); err != nil {
			r.log.Warn().Err(err).Str("state_event", string(state.StateEvent)).Msg("Failed to push bridge state")
		}
	}()
}

// SetRemoteID records which account the state refers to.
func (r *stateReporter) SetRemoteID(identity string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.remoteID = networkid.UserLoginID(identity)
	r.current.RemoteID = r.remoteID
}
