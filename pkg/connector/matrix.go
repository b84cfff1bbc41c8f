// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package connector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/format"
	"maunium.net/go/mautrix/id"

	"github.com/LocalStellerUser/Tortoise-BOT/pkg/modmail"
)

// MatrixClient is the bot's connection to a Matrix homeserver. It
// implements modmail.Transport over the client-server API and delivers
// sync events to a modmail.EventHandler.
type MatrixClient struct {
	client *mautrix.Client

	mu sync.RWMutex
	// directRooms records, per room, whether it is a one-to-one room with
	// the bot. Rooms not yet seen are classified on first message.
	directRooms map[id.RoomID]bool
	// dmRooms maps users to their direct room with the bot.
	dmRooms map[modmail.UserID]id.RoomID

	log zerolog.Logger
}

var _ Transport = (*MatrixClient)(nil)

// NewMatrixClient creates a client for userID on homeserverURL using an
// existing access token.
func NewMatrixClient(homeserverURL string, userID id.UserID, accessToken string, log zerolog.Logger) (*MatrixClient, error) {
	client, err := mautrix.NewClient(homeserverURL, userID, accessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create matrix client: %w", err)
	}
	mc := &MatrixClient{
		client:      client,
		directRooms: make(map[id.RoomID]bool),
		dmRooms:     make(map[modmail.UserID]id.RoomID),
		log:         log.With().Str("component", "matrix_client").Logger(),
	}
	client.Log = mc.log
	return mc, nil
}

// Run syncs with the homeserver and feeds events to handler until ctx is
// done. Events from before startup are skipped. Sync failures are retried
// with exponential backoff.
func (m *MatrixClient) Run(ctx context.Context, handler modmail.EventHandler) error {
	whoami, err := m.client.Whoami(ctx)
	if err != nil {
		return fmt.Errorf("failed to verify matrix session: %w", err)
	}
	m.log.Info().Str("user_id", whoami.UserID.String()).Msg("Authenticated")

	syncer := mautrix.NewDefaultSyncer()
	syncer.OnSync(m.client.DontProcessOldEvents)
	syncer.OnEventType(event.StateMember, func(ctx context.Context, evt *event.Event) {
		m.handleMember(ctx, evt)
	})
	syncer.OnEventType(event.EventMessage, func(ctx context.Context, evt *event.Event) {
		m.handleMessage(ctx, evt, handler)
	})
	syncer.OnEventType(event.EventReaction, func(ctx context.Context, evt *event.Event) {
		m.handleReaction(ctx, evt, handler)
	})
	m.client.Syncer = syncer

	delay := minReconnectDelay
	for {
		err := m.client.SyncWithContext(ctx)
		if ctx.Err() != nil {
			return nil
		}
		m.log.Error().Err(err).Dur("retry_in", delay).Msg("Sync stopped, restarting")
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		delay = min(delay*2, maxReconnectDelay)
	}
}

// IsBot reports whether user is the bot itself.
func (m *MatrixClient) IsBot(user modmail.UserID) bool {
	return makeMatrixUserID(user) == m.client.UserID
}

// SendDirectMessage sends text into the direct room with user, creating
// the room on first use.
func (m *MatrixClient) SendDirectMessage(ctx context.Context, user modmail.UserID, text string) (modmail.MessageRef, error) {
	roomID, err := m.directRoom(ctx, user)
	if err != nil {
		return modmail.MessageRef{}, err
	}
	return m.SendChannelMessage(ctx, string(roomID), text)
}

// SendChannelMessage sends text, rendered as markdown, into the room
// channelID.
func (m *MatrixClient) SendChannelMessage(ctx context.Context, channelID, text string) (modmail.MessageRef, error) {
	roomID := id.RoomID(channelID)
	content := format.RenderMarkdown(text, true, false)
	resp, err := m.client.SendMessageEvent(ctx, roomID, event.EventMessage, &content)
	if err != nil {
		return modmail.MessageRef{}, fmt.Errorf("failed to send message to %s: %w", roomID, err)
	}
	return eventRef(roomID, resp.EventID), nil
}

// AddReaction reacts to ref with the emoji named glyph.
func (m *MatrixClient) AddReaction(ctx context.Context, ref modmail.MessageRef, glyph string) error {
	roomID, eventID := parseEventRef(ref)
	if _, err := m.client.SendReaction(ctx, roomID, eventID, nameToEmoji(glyph)); err != nil {
		return fmt.Errorf("failed to add reaction %s to %s: %w", glyph, eventID, err)
	}
	return nil
}

// FetchAttachment downloads the media behind att. The attachment ID is its
// mxc:// URI.
func (m *MatrixClient) FetchAttachment(ctx context.Context, att modmail.Attachment) ([]byte, error) {
	uri, err := id.ParseContentURI(att.ID)
	if err != nil {
		return nil, fmt.Errorf("invalid content uri %q: %w", att.ID, err)
	}
	data, err := m.client.DownloadBytes(ctx, uri)
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", att.ID, err)
	}
	return data, nil
}

// UserName returns the user's display name.
func (m *MatrixClient) UserName(ctx context.Context, user modmail.UserID) (string, error) {
	resp, err := m.client.GetDisplayName(ctx, makeMatrixUserID(user))
	if err != nil {
		return "", fmt.Errorf("failed to get display name of %s: %w", user, err)
	}
	if resp.DisplayName == "" {
		return "", errors.New("empty display name")
	}
	return resp.DisplayName, nil
}

func (m *MatrixClient) directRoom(ctx context.Context, user modmail.UserID) (id.RoomID, error) {
	m.mu.RLock()
	roomID, ok := m.dmRooms[user]
	m.mu.RUnlock()
	if ok {
		return roomID, nil
	}

	resp, err := m.client.CreateRoom(ctx, &mautrix.ReqCreateRoom{
		Invite:   []id.UserID{makeMatrixUserID(user)},
		IsDirect: true,
		Preset:   "trusted_private_chat",
	})
	if err != nil {
		return "", fmt.Errorf("failed to create direct room with %s: %w", user, err)
	}
	m.log.Debug().Str("user_id", string(user)).Str("room_id", resp.RoomID.String()).Msg("Created direct room")
	m.rememberDirectRoom(user, resp.RoomID)
	return resp.RoomID, nil
}

func (m *MatrixClient) rememberDirectRoom(user modmail.UserID, roomID id.RoomID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.directRooms[roomID] = true
	m.dmRooms[user] = roomID
}

// isDirectRoom reports whether roomID is a one-to-one room with the bot.
// Unknown rooms are classified by their joined member count.
func (m *MatrixClient) isDirectRoom(ctx context.Context, roomID id.RoomID) bool {
	m.mu.RLock()
	direct, ok := m.directRooms[roomID]
	m.mu.RUnlock()
	if ok {
		return direct
	}

	members, err := m.client.JoinedMembers(ctx, roomID)
	if err != nil {
		m.log.Warn().Err(err).Str("room_id", roomID.String()).Msg("Failed to get joined members")
		return false
	}
	direct = len(members.Joined) == 2
	m.mu.Lock()
	m.directRooms[roomID] = direct
	m.mu.Unlock()
	return direct
}
