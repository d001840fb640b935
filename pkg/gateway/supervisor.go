// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/bridgev2/status"
)

const (
	DefaultRestartDelay  = 15 * time.Second
	DefaultRetryInterval = 60 * time.Second
)

// EventSink receives the inbound events of the active session.
type EventSink interface {
	HandleMessage(ctx context.Context, msg InboundMessage)
	HandleCallOffer(ctx context.Context, offer CallOffer)
}

// SessionProvider gives access to the currently active session, or nil.
type SessionProvider interface {
	Session() Session
}

type timerKind int

const (
	timerNone timerKind = iota
	timerRestart
	timerRetry
)

func (k timerKind) String() string {
	switch k {
	case timerRestart:
		return "restart"
	case timerRetry:
		return "retry"
	default:
		return "none"
	}
}

// SupervisorParams are the collaborators of a Supervisor.
type SupervisorParams struct {
	Store     SessionStore
	Dialer    Dialer
	Scheduler Scheduler
	Pairing   PairingPresenter

	RestartDelay  time.Duration
	RetryInterval time.Duration

	StatusEndpoint string
	StatusToken    string
}

// Supervisor owns the single transport session of the process and keeps it
// connected. At most one session is live at a time and at most one
// reconnect timer is armed.
type Supervisor struct {
	// Events receives inbound messages and call offers. It must be set
	// before the first Establish.
	Events EventSink

	store         SessionStore
	dialer        Dialer
	scheduler     Scheduler
	pairing       PairingPresenter
	restartDelay  time.Duration
	retryInterval time.Duration
	status        *stateReporter

	mu           sync.Mutex
	session      Session
	timer        Stopper
	timerKind    timerKind
	generation   uint64
	establishing bool
	pending      bool
	closed       bool

	log zerolog.Logger
}

var _ SessionProvider = (*Supervisor)(nil)

// NewSupervisor creates a Supervisor. Zero delays fall back to the
// defaults.
func NewSupervisor(params SupervisorParams, log zerolog.Logger) *Supervisor {
	log = log.With().Str("component", "supervisor").Logger()
	if params.Scheduler == nil {
		params.Scheduler = RealScheduler{}
	}
	if params.RestartDelay <= 0 {
		params.RestartDelay = DefaultRestartDelay
	}
	if params.RetryInterval <= 0 {
		params.RetryInterval = DefaultRetryInterval
	}
	if params.Pairing == nil {
		params.Pairing = &QRPresenter{Log: log}
	}
	return &Supervisor{
		store:         params.Store,
		dialer:        params.Dialer,
		scheduler:     params.Scheduler,
		pairing:       params.Pairing,
		restartDelay:  params.RestartDelay,
		retryInterval: params.RetryInterval,
		status:        newStateReporter(params.StatusEndpoint, params.StatusToken, log),
		log:           log,
	}
}

// Session returns the active session, or nil when there is none.
func (s *Supervisor) Session() Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

// State returns the latest bridge state.
func (s *Supervisor) State() status.BridgeState {
	return s.status.Current()
}

// Establish tears down the current session and dials a new one. A call
// made while another Establish is running does not dial concurrently: it
// makes the running call do one more pass once it finishes.
func (s *Supervisor) Establish(ctx context.Context) {
	s.establish(ctx, false)
}

// establish runs connection attempts until no further pass was requested.
// fromRetry keeps an armed retry timer alive for the first pass, so the
// periodic retry continues until a connection opens.
func (s *Supervisor) establish(ctx context.Context, fromRetry bool) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.establishing {
		s.pending = true
		s.mu.Unlock()
		s.log.Debug().Msg("Connection attempt already running, coalescing")
		return
	}
	s.establishing = true
	s.mu.Unlock()

	keepRetry := fromRetry
	for {
		s.establishOnce(ctx, keepRetry)
		keepRetry = false

		s.mu.Lock()
		if !s.pending || s.closed {
			s.establishing = false
			s.mu.Unlock()
			return
		}
		s.pending = false
		s.mu.Unlock()
	}
}

func (s *Supervisor) establishOnce(ctx context.Context, keepRetry bool) {
	s.mu.Lock()
	s.generation++
	gen := s.generation
	old := s.session
	s.session = nil
	if !keepRetry || s.timerKind != timerRetry {
		s.stopTimerLocked()
	}
	s.mu.Unlock()

	if old != nil {
		if err := old.Close(); err != nil {
			s.log.Warn().Err(err).Msg("Failed to close previous session")
		}
	}

	creds, err := s.store.Load(ctx)
	if err != nil {
		s.log.Err(err).Msg("Failed to load session credentials")
		s.handleConnectionUpdate(ctx, gen, ConnectionUpdate{State: StateClosed, Cause: CauseOther, Err: err})
		return
	}
	if creds != nil && creds.Identity() != "" {
		s.status.SetRemoteID(creds.Identity())
	}

	s.log.Info().Uint64("generation", gen).Msg("Connecting to WhatsApp")
	sess, err := s.dialer.Dial(ctx, creds, s.handlersFor(ctx, gen))
	if err != nil {
		s.log.Err(err).Msg("Failed to start session")
		s.handleConnectionUpdate(ctx, gen, ConnectionUpdate{
			State: StateClosed,
			Cause: CauseOther,
			Err:   fmt.Errorf("dial: %w", err),
		})
		return
	}

	s.mu.Lock()
	if gen != s.generation || s.closed {
		s.mu.Unlock()
		s.log.Debug().Uint64("generation", gen).Msg("Session superseded before it was installed, closing")
		if err = sess.Close(); err != nil {
			s.log.Warn().Err(err).Msg("Failed to close superseded session")
		}
		return
	}
	s.session = sess
	s.mu.Unlock()
}

func (s *Supervisor) current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed && gen == s.generation
}

func (s *Supervisor) handlersFor(ctx context.Context, gen uint64) Handlers {
	return Handlers{
		OnConnectionUpdate: func(update ConnectionUpdate) {
			s.handleConnectionUpdate(ctx, gen, update)
		},
		OnMessage: func(msg InboundMessage) {
			if !s.current(gen) || s.Events == nil {
				return
			}
			go s.dispatch("message", func() { s.Events.HandleMessage(ctx, msg) })
		},
		OnCallOffer: func(offer CallOffer) {
			if !s.current(gen) || s.Events == nil {
				return
			}
			go s.dispatch("call_offer", func() { s.Events.HandleCallOffer(ctx, offer) })
		},
		OnCredentialsChanged: func(creds Credentials) {
			if !s.current(gen) {
				return
			}
			if err := s.store.Save(ctx, creds); err != nil {
				s.log.Err(err).Msg("Failed to save session credentials")
				return
			}
			if creds != nil && creds.Identity() != "" {
				s.status.SetRemoteID(creds.Identity())
			}
			s.log.Debug().Msg("Saved session credentials")
		},
	}
}

func (s *Supervisor) dispatch(kind string, fn func()) {
	defer func() {
		if err := recover(); err != nil {
			s.log.Error().
				Str("event_kind", kind).
				Any("panic", err).
				Msg("Panic while handling event")
		}
	}()
	fn()
}

func (s *Supervisor) handleConnectionUpdate(ctx context.Context, gen uint64, update ConnectionUpdate) {
	if !s.current(gen) {
		s.log.Debug().
			Uint64("generation", gen).
			Str("state", string(update.State)).
			Msg("Ignoring connection update from replaced session")
		return
	}
	if update.PairingCode != "" {
		s.pairing.PresentPairingCode(update.PairingCode)
	}
	if state, ok := stateFromUpdate(update); ok {
		s.status.Update(state)
	}

	switch update.State {
	case StateOpen:
		s.mu.Lock()
		s.stopTimerLocked()
		s.mu.Unlock()
		s.log.Info().Msg("WhatsApp connected")
	case StateClosed:
		s.handleClose(ctx, update)
	}
}

func (s *Supervisor) handleClose(ctx context.Context, update ConnectionUpdate) {
	log := s.log.With().Stringer("cause", update.Cause).Logger()
	switch update.Cause {
	case CauseLoggedOut:
		log.Warn().Msg("Session logged out, deleting credentials and pairing again")
		go func() {
			if err := s.store.Delete(ctx); err != nil {
				log.Err(err).Msg("Failed to delete session credentials")
			}
			s.Establish(ctx)
		}()
	case CauseRestartRequired:
		log.Warn().Dur("delay", s.restartDelay).Msg("Server asked for a restart, reconnecting after delay")
		s.arm(timerRestart)
	default:
		log.Error().Err(update.Err).Dur("interval", s.retryInterval).Msg("Connection closed, retrying periodically")
		s.arm(timerRetry)
	}
}

func (s *Supervisor) arm(kind timerKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.stopTimerLocked()
	switch kind {
	case timerRestart:
		s.timer = s.scheduler.AfterFunc(s.restartDelay, func() {
			s.establish(context.Background(), false)
		})
	case timerRetry:
		s.timer = s.scheduler.Every(s.retryInterval, func() {
			s.establish(context.Background(), true)
		})
	}
	s.timerKind = kind
}

func (s *Supervisor) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.log.Trace().Stringer("timer", s.timerKind).Msg("Stopped reconnect timer")
	}
	s.timer = nil
	s.timerKind = timerNone
}

// Shutdown stops the reconnect timer and closes the active session. Events
// arriving afterwards are ignored and Establish becomes a no-op.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.stopTimerLocked()
	sess := s.session
	s.session = nil
	s.mu.Unlock()

	if sess != nil {
		if err := sess.Close(); err != nil {
			s.log.Warn().Err(err).Msg("Failed to close session during shutdown")
		}
	}
}
