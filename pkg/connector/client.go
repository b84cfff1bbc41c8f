// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package connector

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattermost/mattermost/server/public/model"
	"github.com/rs/zerolog"

	"github.com/LocalStellerUser/Tortoise-BOT/pkg/modmail"
)

const (
	minReconnectDelay = time.Second
	maxReconnectDelay = time.Minute
)

// ErrNotConnected is returned by calls that need the bot's own user ID
// before Connect has succeeded.
var ErrNotConnected = errors.New("not connected")

// MattermostClient is the bot's connection to a Mattermost server. It
// implements modmail.Transport over the REST API and delivers websocket
// events to a modmail.EventHandler.
type MattermostClient struct {
	client    *model.Client4
	serverURL string

	mu        sync.RWMutex
	botUserID string
	// dmChannels caches the direct channel per user.
	dmChannels map[modmail.UserID]string

	log zerolog.Logger
}

var _ Transport = (*MattermostClient)(nil)

// NewMattermostClient creates a client for the server at serverURL that
// authenticates with a bot or personal access token.
func NewMattermostClient(serverURL, token string, log zerolog.Logger) *MattermostClient {
	client := model.NewAPIv4Client(serverURL)
	client.SetToken(token)
	return &MattermostClient{
		client:     client,
		serverURL:  serverURL,
		dmChannels: make(map[modmail.UserID]string),
		log:        log.With().Str("component", "mm_client").Logger(),
	}
}

// Connect verifies the token and records the bot's own user ID.
func (m *MattermostClient) Connect(ctx context.Context) error {
	m.log.Info().Str("server_url", m.serverURL).Msg("Connecting to Mattermost")
	me, _, err := m.client.GetMe(ctx, "")
	if err != nil {
		return fmt.Errorf("failed to verify Mattermost session: %w", err)
	}
	m.mu.Lock()
	m.botUserID = me.Id
	m.mu.Unlock()
	m.log.Info().Str("user_id", me.Id).Str("username", me.Username).Msg("Authenticated")
	return nil
}

// Run connects and feeds websocket events to handler until ctx is done. A
// dropped websocket is reconnected with exponential backoff.
func (m *MattermostClient) Run(ctx context.Context, handler modmail.EventHandler) error {
	if err := m.Connect(ctx); err != nil {
		return err
	}

	delay := minReconnectDelay
	for {
		ws, err := m.connectWebSocket()
		if err != nil {
			m.log.Error().Err(err).Dur("retry_in", delay).Msg("WebSocket connection failed")
		} else {
			delay = minReconnectDelay
			m.listenWebSocket(ctx, ws, handler)
			ws.Close()
		}
		if ctx.Err() != nil {
			return nil
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		delay = min(delay*2, maxReconnectDelay)
	}
}

func (m *MattermostClient) connectWebSocket() (*model.WebSocketClient, error) {
	wsURL := httpToWS(m.serverURL)
	ws, err := model.NewWebSocketClient4(wsURL, m.client.AuthToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create websocket client: %w", err)
	}
	ws.Listen()
	m.log.Info().Str("ws_url", wsURL).Msg("WebSocket connected")
	return ws, nil
}

// httpToWS converts an HTTP(S) URL to a WS(S) URL.
func httpToWS(url string) string {
	if strings.HasPrefix(url, "https://") {
		return "wss://" + strings.TrimPrefix(url, "https://")
	}
	if strings.HasPrefix(url, "http://") {
		return "ws://" + strings.TrimPrefix(url, "http://")
	}
	return url
}

// listenWebSocket handles events one at a time until ctx is done or the
// event channel closes.
func (m *MattermostClient) listenWebSocket(ctx context.Context, ws *model.WebSocketClient, handler modmail.EventHandler) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ws.EventChannel:
			if !ok {
				m.log.Warn().Msg("WebSocket event channel closed, reconnecting")
				return
			}
			if evt == nil {
				continue
			}
			m.handleEvent(ctx, evt, handler)
		}
	}
}

func (m *MattermostClient) selfID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.botUserID
}

// IsBot reports whether user is the bot itself.
func (m *MattermostClient) IsBot(user modmail.UserID) bool {
	self := m.selfID()
	return self != "" && string(user) == self
}

// SendDirectMessage posts text into the direct channel with user, creating
// the channel on first use.
func (m *MattermostClient) SendDirectMessage(ctx context.Context, user modmail.UserID, text string) (modmail.MessageRef, error) {
	channelID, err := m.directChannel(ctx, user)
	if err != nil {
		return modmail.MessageRef{}, err
	}
	return m.SendChannelMessage(ctx, channelID, text)
}

// SendChannelMessage posts text into channelID.
func (m *MattermostClient) SendChannelMessage(ctx context.Context, channelID, text string) (modmail.MessageRef, error) {
	created, _, err := m.client.CreatePost(ctx, &model.Post{
		ChannelId: channelID,
		Message:   text,
	})
	if err != nil {
		return modmail.MessageRef{}, fmt.Errorf("failed to create post in %s: %w", channelID, err)
	}
	return postRef(created), nil
}

// AddReaction reacts to ref with the emoji named glyph.
func (m *MattermostClient) AddReaction(ctx context.Context, ref modmail.MessageRef, glyph string) error {
	self := m.selfID()
	if self == "" {
		return ErrNotConnected
	}
	_, _, err := m.client.SaveReaction(ctx, &model.Reaction{
		UserId:    self,
		PostId:    ref.ID,
		EmojiName: glyph,
	})
	if err != nil {
		return fmt.Errorf("failed to add reaction %s to %s: %w", glyph, ref.ID, err)
	}
	return nil
}

// FetchAttachment downloads the file behind att.
func (m *MattermostClient) FetchAttachment(ctx context.Context, att modmail.Attachment) ([]byte, error) {
	data, _, err := m.client.GetFile(ctx, att.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to download file %s: %w", att.ID, err)
	}
	return data, nil
}

// UserName returns the user's Mattermost username.
func (m *MattermostClient) UserName(ctx context.Context, user modmail.UserID) (string, error) {
	u, _, err := m.client.GetUser(ctx, string(user), "")
	if err != nil {
		return "", fmt.Errorf("failed to get user %s: %w", user, err)
	}
	return u.Username, nil
}

func (m *MattermostClient) directChannel(ctx context.Context, user modmail.UserID) (string, error) {
	m.mu.RLock()
	channelID, ok := m.dmChannels[user]
	self := m.botUserID
	m.mu.RUnlock()
	if ok {
		return channelID, nil
	}
	if self == "" {
		return "", ErrNotConnected
	}

	ch, _, err := m.client.CreateDirectChannel(ctx, self, string(user))
	if err != nil {
		return "", fmt.Errorf("failed to open direct channel with %s: %w", user, err)
	}
	m.rememberDirectChannel(user, ch.Id)
	return ch.Id, nil
}

func (m *MattermostClient) rememberDirectChannel(user modmail.UserID, channelID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dmChannels[user] = channelID
}
