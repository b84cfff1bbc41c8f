// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package modmail

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

const testBotID UserID = "bot-user"

var errFakeDelivery = errors.New("fake delivery failure")

// sentMessage records one outbound message.
type sentMessage struct {
	User    UserID // set for direct messages
	Channel string // set for channel messages
	Text    string
	Ref     MessageRef
}

// sentReaction records one AddReaction call.
type sentReaction struct {
	Ref   MessageRef
	Glyph string
}

// fakeTransport is an in-memory Transport that records every call.
type fakeTransport struct {
	mu        sync.Mutex
	dms       []sentMessage
	posts     []sentMessage
	reactions []sentReaction
	fetches   []Attachment
	seq       int

	// dmCh receives a copy of every direct message for tests that need
	// to wait on asynchronous flows.
	dmCh chan sentMessage

	// Files maps attachment ID to its contents.
	Files map[string][]byte
	// Names maps user ID to display name.
	Names map[UserID]string

	// FailDM, FailPost, FailReaction and FailFetch make the matching call
	// return errFakeDelivery.
	FailDM       bool
	FailPost     bool
	FailReaction bool
	FailFetch    bool
	// PanicOnName makes UserName panic.
	PanicOnName bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		dmCh:  make(chan sentMessage, 256),
		Files: make(map[string][]byte),
		Names: make(map[UserID]string),
	}
}

var _ Transport = (*fakeTransport)(nil)

func (f *fakeTransport) nextRef(channel string) MessageRef {
	f.seq++
	return MessageRef{ChannelID: channel, ID: fmt.Sprintf("msg-%d", f.seq)}
}

func (f *fakeTransport) SendDirectMessage(_ context.Context, user UserID, text string) (MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailDM {
		return MessageRef{}, errFakeDelivery
	}
	msg := sentMessage{User: user, Text: text, Ref: f.nextRef("dm-" + string(user))}
	f.dms = append(f.dms, msg)
	f.dmCh <- msg
	return msg.Ref, nil
}

func (f *fakeTransport) SendChannelMessage(_ context.Context, channelID, text string) (MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailPost {
		return MessageRef{}, errFakeDelivery
	}
	msg := sentMessage{Channel: channelID, Text: text, Ref: f.nextRef(channelID)}
	f.posts = append(f.posts, msg)
	return msg.Ref, nil
}

func (f *fakeTransport) AddReaction(_ context.Context, ref MessageRef, glyph string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailReaction {
		return errFakeDelivery
	}
	f.reactions = append(f.reactions, sentReaction{Ref: ref, Glyph: glyph})
	return nil
}

func (f *fakeTransport) FetchAttachment(_ context.Context, att Attachment) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches = append(f.fetches, att)
	if f.FailFetch {
		return nil, errFakeDelivery
	}
	data, ok := f.Files[att.ID]
	if !ok {
		return nil, fmt.Errorf("no such file %s", att.ID)
	}
	return data, nil
}

func (f *fakeTransport) UserName(_ context.Context, user UserID) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PanicOnName {
		panic("fake directory exploded")
	}
	name, ok := f.Names[user]
	if !ok {
		return "", fmt.Errorf("unknown user %s", user)
	}
	return name, nil
}

func (f *fakeTransport) IsBot(user UserID) bool {
	return user == testBotID
}

func (f *fakeTransport) DMs() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]sentMessage, len(f.dms))
	copy(cp, f.dms)
	return cp
}

func (f *fakeTransport) Posts() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]sentMessage, len(f.posts))
	copy(cp, f.posts)
	return cp
}

func (f *fakeTransport) Reactions() []sentReaction {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]sentReaction, len(f.reactions))
	copy(cp, f.reactions)
	return cp
}

func (f *fakeTransport) Fetches() []Attachment {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]Attachment, len(f.fetches))
	copy(cp, f.fetches)
	return cp
}

// waitDM returns the next direct message sent, failing the test after a
// second.
func (f *fakeTransport) waitDM(t *testing.T) sentMessage {
	t.Helper()
	select {
	case msg := <-f.dmCh:
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for a direct message")
		return sentMessage{}
	}
}

// waitDMContaining skips direct messages until one contains substr.
func (f *fakeTransport) waitDMContaining(t *testing.T, substr string) sentMessage {
	t.Helper()
	for {
		msg := f.waitDM(t)
		if strings.Contains(msg.Text, substr) {
			return msg
		}
	}
}

var testChannels = Channels{
	ModMail:         "staff-modmail",
	CodeSubmissions: "staff-code",
	BugReports:      "staff-bugs",
}

// testHarness bundles a fully wired core around a fakeTransport.
type testHarness struct {
	transport  *fakeTransport
	registry   *Registry
	inbox      *Inbox
	waiter     *ReplyWaiter
	controller *Controller
	dispatcher *Dispatcher
	logs       *syncBuffer
}

// syncBuffer is a bytes.Buffer safe for concurrent log writes.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newTestHarness(replyTimeout time.Duration) *testHarness {
	logs := &syncBuffer{}
	log := zerolog.New(logs).Level(zerolog.DebugLevel)
	ft := newFakeTransport()
	ft.Names["alice"] = "Alice"
	ft.Names["bob"] = "Bob"
	registry := NewRegistry()
	inbox := NewInbox()
	waiter := NewReplyWaiter(ft, inbox, replyTimeout, log)
	controller := NewController(ft, registry, waiter, testChannels, log)
	dispatcher := NewDispatcher(ft, registry, inbox, controller, DispatcherOptions{MenuCooldown: -1}, log)
	return &testHarness{
		transport:  ft,
		registry:   registry,
		inbox:      inbox,
		waiter:     waiter,
		controller: controller,
		dispatcher: dispatcher,
		logs:       logs,
	}
}

// assertReleased checks that the user holds no slot and that no flow ever
// tried to release a slot twice.
func (h *testHarness) assertReleased(t *testing.T, user UserID) {
	t.Helper()
	if h.registry.IsBusy(user) {
		t.Errorf("user %s still holds a session slot", user)
	}
	if strings.Contains(h.logs.String(), "Session slot already gone") {
		t.Errorf("a flow released a slot it did not hold:\n%s", h.logs.String())
	}
}

// runFlow runs a flow in the background and returns a channel with its
// result.
type flowResult struct {
	Outcome Outcome
	Err     error
}

func (h *testHarness) runFlow(user UserID, kind FlowKind) <-chan flowResult {
	ch := make(chan flowResult, 1)
	go func() {
		outcome, err := h.controller.Run(context.Background(), user, kind)
		ch <- flowResult{Outcome: outcome, Err: err}
	}()
	return ch
}

func waitResult(t *testing.T, ch <-chan flowResult) flowResult {
	t.Helper()
	select {
	case res := <-ch:
		return res
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for flow to finish")
		return flowResult{}
	}
}

func directMessage(user UserID, body string, atts ...Attachment) Message {
	return Message{
		User:        user,
		Ref:         MessageRef{ChannelID: "dm-" + string(user), ID: "in-" + body},
		Direct:      true,
		Body:        body,
		Attachments: atts,
	}
}
