// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package modmail

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	// ErrTimedOut means the user did not reply within the wait window.
	ErrTimedOut = errors.New("timed out waiting for reply")
	// ErrCancelled means the user replied with the cancel keyword.
	ErrCancelled = errors.New("cancelled by user")
	// ErrWaiterExists means a wait for the same user is already registered.
	ErrWaiterExists = errors.New("already waiting for this user")
)

// DefaultReplyTimeout is how long a flow waits for the user's reply.
const DefaultReplyTimeout = 5 * time.Minute

const (
	cancelKeyword = "cancel"

	replyPromptFormat = "Reply with message, link to paste service or uploading utf-8 `.txt` file.\n" +
		"You have %s, type `cancel` to cancel right away."
	timedOutNotice  = "You took too long to reply."
	cancelledNotice = "Successfully canceled."
)

// Inbox hands direct messages to flows that are waiting for them. At most
// one waiter per user may be registered.
type Inbox struct {
	mu      sync.Mutex
	waiters map[UserID]chan Message
}

// NewInbox creates an empty inbox.
func NewInbox() *Inbox {
	return &Inbox{waiters: make(map[UserID]chan Message)}
}

// Deliver passes msg to the sender's waiter, if any, and reports whether it
// was consumed. The waiter is removed on delivery.
func (in *Inbox) Deliver(msg Message) bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	ch, ok := in.waiters[msg.User]
	if !ok {
		return false
	}
	delete(in.waiters, msg.User)
	ch <- msg
	return true
}

// Waiting reports whether a waiter is registered for user.
func (in *Inbox) Waiting(user UserID) bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	_, ok := in.waiters[user]
	return ok
}

// register adds a waiter for user. The returned channel has capacity 1 so
// Deliver never blocks.
func (in *Inbox) register(user UserID) (<-chan Message, error) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if _, ok := in.waiters[user]; ok {
		return nil, ErrWaiterExists
	}
	ch := make(chan Message, 1)
	in.waiters[user] = ch
	return ch, nil
}

// unregister removes the waiter for user unless it was already consumed.
func (in *Inbox) unregister(user UserID, ch <-chan Message) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if cur, ok := in.waiters[user]; ok && cur == ch {
		delete(in.waiters, user)
	}
}

// wait blocks on a registered waiter until a message arrives, the timeout
// elapses or ctx ends. The waiter is always gone when wait returns.
func (in *Inbox) wait(ctx context.Context, user UserID, ch <-chan Message, timeout time.Duration) (Message, error) {
	defer in.unregister(user, ch)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case msg := <-ch:
		return msg, nil
	case <-timer.C:
		// A message delivered before unregistering still counts.
		in.unregister(user, ch)
		select {
		case msg := <-ch:
			return msg, nil
		default:
		}
		return Message{}, ErrTimedOut
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

// Await registers a waiter for user and blocks until their next direct
// message arrives or timeout elapses.
func (in *Inbox) Await(ctx context.Context, user UserID, timeout time.Duration) (Message, error) {
	ch, err := in.register(user)
	if err != nil {
		return Message{}, err
	}
	return in.wait(ctx, user, ch, timeout)
}

// ReplyWaiter prompts a user and suspends until they reply, time out or
// cancel.
type ReplyWaiter struct {
	sender  Sender
	inbox   *Inbox
	timeout time.Duration
	log     zerolog.Logger
}

// NewReplyWaiter creates a ReplyWaiter. A non-positive timeout selects
// DefaultReplyTimeout.
func NewReplyWaiter(sender Sender, inbox *Inbox, timeout time.Duration, log zerolog.Logger) *ReplyWaiter {
	if timeout <= 0 {
		timeout = DefaultReplyTimeout
	}
	return &ReplyWaiter{
		sender:  sender,
		inbox:   inbox,
		timeout: timeout,
		log:     log.With().Str("component", "reply_waiter").Logger(),
	}
}

// AwaitReply sends the reply instructions to user and returns their next
// direct message. It returns ErrTimedOut or ErrCancelled after telling the
// user; those are normal outcomes. Other errors come from the transport or
// ctx.
func (w *ReplyWaiter) AwaitReply(ctx context.Context, user UserID) (Message, error) {
	// Register before prompting so a fast reply cannot slip past.
	ch, err := w.inbox.register(user)
	if err != nil {
		return Message{}, err
	}
	prompt := fmt.Sprintf(replyPromptFormat, formatWindow(w.timeout))
	if _, err := w.sender.SendDirectMessage(ctx, user, prompt); err != nil {
		w.inbox.unregister(user, ch)
		return Message{}, fmt.Errorf("failed to send reply prompt: %w", err)
	}

	reply, err := w.inbox.wait(ctx, user, ch, w.timeout)
	switch {
	case errors.Is(err, ErrTimedOut):
		w.log.Debug().Str("user_id", string(user)).Dur("timeout", w.timeout).Msg("Reply wait timed out")
		w.notify(ctx, user, timedOutNotice)
		return Message{}, ErrTimedOut
	case err != nil:
		return Message{}, err
	}

	if strings.EqualFold(reply.Body, cancelKeyword) {
		w.log.Debug().Str("user_id", string(user)).Msg("User cancelled")
		w.notify(ctx, user, cancelledNotice)
		return Message{}, ErrCancelled
	}
	return reply, nil
}

func (w *ReplyWaiter) notify(ctx context.Context, user UserID, text string) {
	if _, err := w.sender.SendDirectMessage(ctx, user, text); err != nil {
		w.log.Warn().Err(err).Str("user_id", string(user)).Msg("Failed to send wait notice")
	}
}

// formatWindow renders a wait window the way users read it: "5m" rather
// than "5m0s".
func formatWindow(d time.Duration) string {
	if d >= time.Minute && d%time.Minute == 0 {
		return fmt.Sprintf("%dm", int(d/time.Minute))
	}
	return d.String()
}
