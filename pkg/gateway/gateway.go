// Copyright 2024-2026 Aiku AI

package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/aiku/whatsapp-gateway/pkg/gateway/webhook"
)

// Gateway wires the supervisor, router, outbound path and HTTP API
// together.
type Gateway struct {
	Config     *Config
	Supervisor *Supervisor
	Router     *Router
	Outbound   *Outbound
	API        *API

	server *http.Server
	log    zerolog.Logger
}

// New builds a Gateway from a post-processed config.
func New(cfg *Config, store SessionStore, dialer Dialer, log zerolog.Logger) *Gateway {
	sup := NewSupervisor(SupervisorParams{
		Store:          store,
		Dialer:         dialer,
		RestartDelay:   cfg.Reconnect.RestartDelayDuration(),
		RetryInterval:  cfg.Reconnect.RetryIntervalDuration(),
		StatusEndpoint: cfg.StatusEndpoint,
		StatusToken:    cfg.StatusToken,
	}, log)
	hook := webhook.NewClient(cfg.Webhook.URL, cfg.Webhook.StateURL, log)
	router := NewRouter(sup, hook, cfg.Messages, log)
	sup.Events = router
	outbound := NewOutbound(sup, log)
	api := NewAPI(outbound, sup, log)
	return &Gateway{
		Config:     cfg,
		Supervisor: sup,
		Router:     router,
		Outbound:   outbound,
		API:        api,
		log:        log,
	}
}

// Start binds the HTTP API and then connects to WhatsApp. It returns once
// the listener is bound; the connection is made in the background.
func (g *Gateway) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", g.Config.ListenAddress)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", g.Config.ListenAddress, err)
	}
	g.server = g.API.NewServer(g.Config.ListenAddress)
	go func() {
		g.log.Info().Str("addr", listener.Addr().String()).Msg("Gateway HTTP API listening")
		if err := g.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.log.Error().Err(err).Msg("Gateway HTTP API error")
		}
	}()
	go g.Supervisor.Establish(ctx)
	return nil
}

// Stop shuts down the HTTP API and the WhatsApp session.
func (g *Gateway) Stop(ctx context.Context) error {
	var err error
	if g.server != nil {
		err = g.server.Shutdown(ctx)
	}
	g.Supervisor.Shutdown()
	return err
}
