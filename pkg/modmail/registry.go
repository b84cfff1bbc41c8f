// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package modmail

import (
	"errors"
	"sort"
	"sync"
	"time"
)

var (
	// ErrAlreadyBusy is returned by Acquire when the user already holds a
	// session slot in any flow.
	ErrAlreadyBusy = errors.New("user already has an active session")
	// ErrNoSession is returned by Release when no matching slot exists.
	ErrNoSession = errors.New("no matching session to release")
)

// Registry tracks which users occupy a flow and which users have a mod-mail
// request waiting for staff. All methods are safe for concurrent use.
type Registry struct {
	mu      sync.Mutex
	active  map[UserID]FlowKind
	pending map[UserID]time.Time
	now     func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		active:  make(map[UserID]FlowKind),
		pending: make(map[UserID]time.Time),
		now:     time.Now,
	}
}

// IsBusy reports whether the user holds a session slot in any flow.
func (r *Registry) IsBusy(user UserID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.active[user]
	return ok
}

// Acquire creates a session slot for the user. The busy check and the
// insert happen under one lock.
func (r *Registry) Acquire(user UserID, kind FlowKind) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.active[user]; ok {
		return ErrAlreadyBusy
	}
	r.active[user] = kind
	activeSessions.WithLabelValues(kind.String()).Inc()
	return nil
}

// Release destroys the user's slot for kind. A missing or mismatched slot
// leaves the registry untouched and returns ErrNoSession.
func (r *Registry) Release(user UserID, kind FlowKind) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	held, ok := r.active[user]
	if !ok || held != kind {
		return ErrNoSession
	}
	delete(r.active, user)
	activeSessions.WithLabelValues(kind.String()).Dec()
	return nil
}

// MarkPendingModMail records that the user has a mod-mail request awaiting
// staff action. Marking an already pending user keeps the original time.
func (r *Registry) MarkPendingModMail(user UserID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pending[user]; ok {
		return
	}
	r.pending[user] = r.now()
	pendingModMails.Set(float64(len(r.pending)))
}

// HasPendingModMail reports whether the user has an outstanding mod-mail.
func (r *Registry) HasPendingModMail(user UserID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.pending[user]
	return ok
}

// ClearPendingModMail removes the pending mark, which is how staff accept a
// request. It reports whether a mark existed.
func (r *Registry) ClearPendingModMail(user UserID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pending[user]; !ok {
		return false
	}
	delete(r.pending, user)
	pendingModMails.Set(float64(len(r.pending)))
	return true
}

// ActiveSession is a snapshot entry for a held slot.
type ActiveSession struct {
	User UserID
	Kind FlowKind
}

// PendingModMail is a snapshot entry for a pending mark.
type PendingModMail struct {
	User  UserID
	Since time.Time
}

// RegistrySnapshot is a point-in-time copy of the registry state.
type RegistrySnapshot struct {
	Active  []ActiveSession
	Pending []PendingModMail
}

// Snapshot copies the current state, sorted by user ID.
func (r *Registry) Snapshot() RegistrySnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := RegistrySnapshot{
		Active:  make([]ActiveSession, 0, len(r.active)),
		Pending: make([]PendingModMail, 0, len(r.pending)),
	}
	for user, kind := range r.active {
		snap.Active = append(snap.Active, ActiveSession{User: user, Kind: kind})
	}
	for user, since := range r.pending {
		snap.Pending = append(snap.Pending, PendingModMail{User: user, Since: since})
	}
	sort.Slice(snap.Active, func(i, j int) bool { return snap.Active[i].User < snap.Active[j].User })
	sort.Slice(snap.Pending, func(i, j int) bool { return snap.Pending[i].User < snap.Pending[j].User })
	return snap
}
