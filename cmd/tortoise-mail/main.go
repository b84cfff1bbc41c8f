// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Command tortoise-mail runs the mod-mail bot: it shows users a reaction
// menu in direct messages and forwards mod-mail requests, event submissions
// and bug reports to staff channels on Mattermost or Matrix.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/LocalStellerUser/Tortoise-BOT/pkg/adminapi"
	"github.com/LocalStellerUser/Tortoise-BOT/pkg/config"
	"github.com/LocalStellerUser/Tortoise-BOT/pkg/connector"
	"github.com/LocalStellerUser/Tortoise-BOT/pkg/modmail"
)

// These are filled at build time with -ldflags.
var (
	Tag       = "unknown"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	var (
		configPath     string
		generateConfig bool
		showVersion    bool
	)
	flagSet := pflag.NewFlagSet("tortoise-mail", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", "config.yaml", "path to the config file")
	flagSet.BoolVarP(&generateConfig, "generate-example-config", "e", false, "write the example config to --config and exit")
	flagSet.BoolVarP(&showVersion, "version", "v", false, "print the version and exit")
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	switch {
	case showVersion:
		fmt.Fprintf(stdout, "tortoise-mail %s (commit %s, built %s)\n", Tag, Commit, BuildTime)
		return nil
	case generateConfig:
		if err := os.WriteFile(configPath, []byte(config.ExampleConfig), 0o600); err != nil {
			return fmt.Errorf("failed to write example config: %w", err)
		}
		fmt.Fprintf(stdout, "Wrote example config to %s\n", configPath)
		return nil
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := cfg.NewLogger(os.Stderr)

	transport, err := connector.New(cfg, log)
	if err != nil {
		return err
	}

	registry := modmail.NewRegistry()
	inbox := modmail.NewInbox()
	waiter := modmail.NewReplyWaiter(transport, inbox, cfg.ReplyTimeout, log)
	controller := modmail.NewController(transport, registry, waiter, cfg.ModMailChannels(), log)
	dispatcher := modmail.NewDispatcher(transport, registry, inbox, controller, modmail.DispatcherOptions{
		Menu:         cfg.ModMailMenu(),
		MenuCooldown: cfg.MenuCooldown,
	}, log)
	admin := adminapi.New(registry, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().
		Str("version", Tag).
		Str("platform", cfg.Platform).
		Msg("Starting tortoise-mail")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return transport.Run(gctx, dispatcher)
	})
	g.Go(func() error {
		return admin.ListenAndServe(gctx, cfg.AdminAPIAddr)
	})
	err = g.Wait()

	// Flows blocked in a reply wait see the cancelled context and unwind.
	dispatcher.Wait()
	if err != nil {
		log.Error().Err(err).Msg("Stopped with error")
		return err
	}
	log.Info().Msg("Stopped")
	return nil
}
