// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package connector

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/id"

	"github.com/LocalStellerUser/Tortoise-BOT/pkg/config"
	"github.com/LocalStellerUser/Tortoise-BOT/pkg/modmail"
)

// Transport is a chat platform connection: the calls the flows make plus
// an event loop feeding a handler.
type Transport interface {
	modmail.Transport
	// Run delivers inbound events to handler, one at a time, until ctx is
	// done. It returns nil on shutdown.
	Run(ctx context.Context, handler modmail.EventHandler) error
}

// New creates the transport for the configured platform.
func New(cfg *config.Config, log zerolog.Logger) (Transport, error) {
	switch cfg.Platform {
	case config.PlatformMattermost:
		return NewMattermostClient(cfg.Mattermost.ServerURL, cfg.Mattermost.Token, log), nil
	case config.PlatformMatrix:
		mc, err := NewMatrixClient(cfg.Matrix.HomeserverURL, id.UserID(cfg.Matrix.UserID), cfg.Matrix.AccessToken, log)
		if err != nil {
			return nil, err
		}
		return mc, nil
	default:
		return nil, fmt.Errorf("unknown platform %q", cfg.Platform)
	}
}
