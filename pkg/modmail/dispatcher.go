// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package modmail

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// DefaultMenuCooldown is the minimum time between two menus sent to the
// same user.
const DefaultMenuCooldown = 10 * time.Second

// menuLimiterCleanup bounds how long idle per-user limiters are kept.
const menuLimiterCleanup = 10 * time.Minute

// Dispatcher turns inbound transport events into menus and flow runs.
type Dispatcher struct {
	transport  Transport
	registry   *Registry
	inbox      *Inbox
	controller *Controller
	menu       Menu
	log        zerolog.Logger

	cooldown    time.Duration
	limiterMu   sync.Mutex
	limiters    map[UserID]*rate.Limiter
	lastCleanup time.Time
	now         func() time.Time

	flows sync.WaitGroup
}

var _ EventHandler = (*Dispatcher)(nil)

// DispatcherOptions configures a Dispatcher. Zero values select defaults.
type DispatcherOptions struct {
	Menu Menu
	// MenuCooldown rate limits menus per user. Negative disables it.
	MenuCooldown time.Duration
}

// NewDispatcher wires a Dispatcher.
func NewDispatcher(transport Transport, registry *Registry, inbox *Inbox, controller *Controller, opts DispatcherOptions, log zerolog.Logger) *Dispatcher {
	menu := opts.Menu
	if len(menu) == 0 {
		menu = DefaultMenu()
	}
	cooldown := opts.MenuCooldown
	if cooldown == 0 {
		cooldown = DefaultMenuCooldown
	}
	return &Dispatcher{
		transport:   transport,
		registry:    registry,
		inbox:       inbox,
		controller:  controller,
		menu:        menu,
		log:         log.With().Str("component", "dispatcher").Logger(),
		cooldown:    cooldown,
		limiters:    make(map[UserID]*rate.Limiter),
		lastCleanup: time.Now(),
		now:         time.Now,
	}
}

// HandleReaction starts the flow matching the reaction's glyph, unless the
// reactor is the bot or already busy.
func (d *Dispatcher) HandleReaction(ctx context.Context, r Reaction) {
	if d.transport.IsBot(r.User) {
		return
	}
	if d.registry.IsBusy(r.User) {
		d.log.Debug().Str("user_id", string(r.User)).Msg("Ignoring reaction from busy user")
		return
	}
	kind, ok := d.menu.Lookup(r.Glyph)
	if !ok {
		return
	}

	run, err := d.controller.Start(r.User, kind)
	if err != nil {
		d.log.Debug().Err(err).Str("user_id", string(r.User)).Msg("Ignoring reaction from busy user")
		return
	}
	d.log.Debug().
		Str("user_id", string(r.User)).
		Str("glyph", r.Glyph).
		Str("flow", kind.String()).
		Msg("Starting flow")
	d.startFlow(ctx, r.User, kind, run)
}

// HandleMessage routes a direct message: to a waiting flow if there is one,
// otherwise to the menu. Channel messages are ignored.
func (d *Dispatcher) HandleMessage(ctx context.Context, msg Message) {
	if d.transport.IsBot(msg.User) || !msg.Direct {
		return
	}
	if d.inbox.Deliver(msg) {
		return
	}
	if d.registry.IsBusy(msg.User) {
		return
	}
	if !d.allowMenu(msg.User) {
		menusPresented.WithLabelValues("rate_limited").Inc()
		d.log.Debug().Str("user_id", string(msg.User)).Msg("Menu suppressed by cooldown")
		return
	}
	if err := d.sendMenu(ctx, msg.User); err != nil {
		menusPresented.WithLabelValues("failed").Inc()
		d.log.Error().Err(err).Str("user_id", string(msg.User)).Msg("Failed to send menu")
		return
	}
	menusPresented.WithLabelValues("sent").Inc()
}

// Wait blocks until all flows started so far have finished.
func (d *Dispatcher) Wait() {
	d.flows.Wait()
}

func (d *Dispatcher) sendMenu(ctx context.Context, user UserID) error {
	for _, opt := range d.menu {
		ref, err := d.transport.SendDirectMessage(ctx, user, opt.Label)
		if err != nil {
			return fmt.Errorf("failed to send menu option %q: %w", opt.Label, err)
		}
		if err := d.transport.AddReaction(ctx, ref, opt.Glyph); err != nil {
			return fmt.Errorf("failed to add reaction %q: %w", opt.Glyph, err)
		}
	}
	return nil
}

// startFlow runs an already started flow in its own goroutine. A panicking
// flow is logged; its slot is released by the controller's deferred release.
func (d *Dispatcher) startFlow(ctx context.Context, user UserID, kind FlowKind, run func(context.Context) (Outcome, error)) {
	d.flows.Add(1)
	go func() {
		defer d.flows.Done()
		defer func() {
			if p := recover(); p != nil {
				d.log.Error().
					Str("user_id", string(user)).
					Str("flow", kind.String()).
					Interface("panic", p).
					Msg("Flow panicked")
			}
		}()
		_, _ = run(ctx)
	}()
}

func (d *Dispatcher) allowMenu(user UserID) bool {
	if d.cooldown < 0 {
		return true
	}
	d.limiterMu.Lock()
	defer d.limiterMu.Unlock()

	now := d.now()
	if now.Sub(d.lastCleanup) > menuLimiterCleanup {
		d.evictIdleLimiters(now)
		d.lastCleanup = now
	}
	lim, ok := d.limiters[user]
	if !ok {
		lim = rate.NewLimiter(rate.Every(d.cooldown), 1)
		d.limiters[user] = lim
	}
	return lim.AllowN(now, 1)
}

// evictIdleLimiters drops limiters whose bucket has refilled. A fresh
// limiter behaves the same, so only users still inside their cooldown keep
// an entry. Callers hold limiterMu.
func (d *Dispatcher) evictIdleLimiters(now time.Time) {
	for user, lim := range d.limiters {
		if lim.TokensAt(now) >= float64(lim.Burst()) {
			delete(d.limiters, user)
		}
	}
}
