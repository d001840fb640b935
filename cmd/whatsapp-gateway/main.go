// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Command whatsapp-gateway connects a WhatsApp account to an application
// server. Inbound messages are forwarded to the server's webhook and
// replies are accepted on POST /send-message.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.mau.fi/util/exzerolog"

	"github.com/aiku/whatsapp-gateway/pkg/gateway"
	"github.com/aiku/whatsapp-gateway/pkg/gateway/wmsession"
)

// These are filled at build time with -ldflags.
var (
	Tag       = "unknown"
	Commit    = "unknown"
	BuildTime = "unknown"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flagSet := pflag.NewFlagSet("whatsapp-gateway", pflag.ContinueOnError)
	configPath := flagSet.StringP("config", "c", "config.yaml", "path to the config file")
	generateConfig := flagSet.BoolP("generate-config", "g", false, "write the example config to --config and exit")
	noUpdate := flagSet.Bool("no-update", false, "do not save the upgraded config back to disk")
	showVersion := flagSet.BoolP("version", "v", false, "print the version and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if *showVersion {
		fmt.Printf("whatsapp-gateway %s (commit %s, built %s)\n", Tag, Commit, BuildTime)
		return nil
	}
	if *generateConfig {
		if err := gateway.WriteExampleConfig(*configPath); err != nil {
			return fmt.Errorf("failed to write example config: %w", err)
		}
		fmt.Printf("Wrote example config to %s\n", *configPath)
		return nil
	}

	cfg, err := gateway.LoadConfig(*configPath, !*noUpdate)
	if err != nil {
		return err
	}
	log, err := cfg.Logging.Compile()
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	exzerolog.SetupDefaults(log)
	log.Info().
		Str("version", Tag).
		Str("commit", Commit).
		Str("listen_address", cfg.ListenAddress).
		Str("webhook_url", cfg.Webhook.URL).
		Msg("Starting WhatsApp gateway")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := wmsession.NewStore(ctx, cfg.Session.DatabaseType, cfg.Session.DatabaseURI, *log)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close session store")
		}
	}()

	gw := gateway.New(cfg, store, wmsession.NewDialer(*log), *log)
	if err = gw.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err = gw.Stop(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Failed to stop gateway cleanly")
	}
	return nil
}
