// Copyright 2024-2026 Aiku AI

package wmsession

import (
	"context"
	"errors"
	"fmt"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	waLog "go.mau.fi/whatsmeow/util/log"

	"github.com/aiku/whatsapp-gateway/pkg/gateway"
)

// ErrForeignCredentials is returned when credentials not created by this
// package are handed to it.
var ErrForeignCredentials = errors.New("credentials were not loaded from a whatsmeow store")

// Device is the whatsmeow device store used as gateway credentials.
type Device struct {
	*store.Device
}

var _ gateway.Credentials = (*Device)(nil)

// Identity returns the paired account, or "" before pairing.
func (d *Device) Identity() string {
	if d == nil || d.Device == nil || d.ID == nil {
		return ""
	}
	return d.ID.ToNonAD().String()
}

// Store keeps whatsmeow devices in a SQL database.
type Store struct {
	container *sqlstore.Container
	log       zerolog.Logger
}

var _ gateway.SessionStore = (*Store)(nil)

// NewStore opens the session database and upgrades its schema. dialect is
// "sqlite3" or "postgres".
func NewStore(ctx context.Context, dialect, uri string, log zerolog.Logger) (*Store, error) {
	log = log.With().Str("component", "session_store").Logger()
	container, err := sqlstore.New(ctx, dialect, uri, waLog.Zerolog(log))
	if err != nil {
		return nil, fmt.Errorf("failed to open session database: %w", err)
	}
	return &Store{container: container, log: log}, nil
}

// Load returns the stored device, or a fresh unpaired one when the store is
// empty.
func (s *Store) Load(ctx context.Context) (gateway.Credentials, error) {
	dev, err := s.container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load device: %w", err)
	}
	return &Device{Device: dev}, nil
}

func (s *Store) Save(ctx context.Context, creds gateway.Credentials) error {
	dev, ok := creds.(*Device)
	if !ok || dev.Device == nil {
		return ErrForeignCredentials
	}
	if dev.ID == nil {
		// Unpaired devices have no key to be stored under.
		return nil
	}
	return dev.Save(ctx)
}

// Delete removes every stored device.
func (s *Store) Delete(ctx context.Context) error {
	devices, err := s.container.GetAllDevices(ctx)
	if err != nil {
		return fmt.Errorf("failed to list devices: %w", err)
	}
	var errs []error
	for _, dev := range devices {
		if dev.ID == nil {
			continue
		}
		s.log.Info().Stringer("jid", dev.ID).Msg("Deleting stored device")
		if err = dev.Delete(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to delete %s: %w", dev.ID, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Store) Close() error {
	return s.container.Close()
}
