// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/mattermost/mattermost/server/public/model"
	"github.com/rs/zerolog"

	"github.com/LocalStellerUser/Tortoise-BOT/pkg/modmail"
)

// recordingHandler captures events delivered by a transport.
type recordingHandler struct {
	mu        sync.Mutex
	messages  []modmail.Message
	reactions []modmail.Reaction
}

var _ modmail.EventHandler = (*recordingHandler)(nil)

func (h *recordingHandler) HandleMessage(_ context.Context, msg modmail.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, msg)
}

func (h *recordingHandler) HandleReaction(_ context.Context, r modmail.Reaction) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reactions = append(h.reactions, r)
}

func (h *recordingHandler) Messages() []modmail.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	cp := make([]modmail.Message, len(h.messages))
	copy(cp, h.messages)
	return cp
}

func (h *recordingHandler) Reactions() []modmail.Reaction {
	h.mu.Lock()
	defer h.mu.Unlock()
	cp := make([]modmail.Reaction, len(h.reactions))
	copy(cp, h.reactions)
	return cp
}

// endpointCall records which API endpoints were hit during a test.
type endpointCall struct {
	Method string
	Path   string
	Body   string
}

// fakeMM is a test helper that wraps an httptest.Server simulating the
// Mattermost API. It records calls and provides canned responses.
type fakeMM struct {
	Server *httptest.Server

	mu     sync.Mutex
	calls  []endpointCall
	postID int

	// Users maps user ID to model.User for GetUser/GetMe responses.
	Users map[string]*model.User
	// TokenToUser maps bearer tokens to user IDs for GetMe auth.
	TokenToUser map[string]string
	// Files maps file ID to model.FileInfo.
	Files map[string]*model.FileInfo
	// FileData maps file ID to the file's bytes.
	FileData map[string][]byte
	// FailEndpoints causes specific path prefixes to return 500.
	FailEndpoints map[string]bool
}

func newFakeMM() *fakeMM {
	f := &fakeMM{
		Users:         make(map[string]*model.User),
		TokenToUser:   make(map[string]string),
		Files:         make(map[string]*model.FileInfo),
		FileData:      make(map[string][]byte),
		FailEndpoints: make(map[string]bool),
	}
	f.Server = httptest.NewServer(http.HandlerFunc(f.handler))
	return f
}

func (f *fakeMM) Close() {
	f.Server.Close()
}

func (f *fakeMM) record(method, path, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, endpointCall{Method: method, Path: path, Body: body})
}

func (f *fakeMM) Calls() []endpointCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]endpointCall, len(f.calls))
	copy(cp, f.calls)
	return cp
}

// CallsTo returns the calls whose method and path match exactly.
func (f *fakeMM) CallsTo(method, path string) []endpointCall {
	var out []endpointCall
	for _, c := range f.Calls() {
		if c.Method == method && c.Path == path {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeMM) resolveToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	for tok, uid := range f.TokenToUser {
		if auth == "BEARER "+tok || auth == "Bearer "+tok {
			return uid
		}
	}
	return ""
}

func (f *fakeMM) nextPostID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.postID++
	return fmt.Sprintf("post-%d", f.postID)
}

func (f *fakeMM) handler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.record(r.Method, r.URL.Path, string(body))

	for prefix := range f.FailEndpoints {
		if strings.Contains(r.URL.Path, prefix) {
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(map[string]string{"message": "fake error"})
			return
		}
	}

	path := r.URL.Path

	switch {
	// GET /api/v4/users/me
	case r.Method == "GET" && path == "/api/v4/users/me":
		uid := f.resolveToken(r)
		if uid == "" {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"message": "unauthorized"})
			return
		}
		if u, ok := f.Users[uid]; ok {
			_ = json.NewEncoder(w).Encode(u)
			return
		}
		w.WriteHeader(http.StatusNotFound)

	// GET /api/v4/users/{user_id}
	case r.Method == "GET" && strings.HasPrefix(path, "/api/v4/users/") && !strings.Contains(path[len("/api/v4/users/"):], "/"):
		uid := path[len("/api/v4/users/"):]
		if u, ok := f.Users[uid]; ok {
			_ = json.NewEncoder(w).Encode(u)
			return
		}
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "user not found"})

	// POST /api/v4/channels/direct
	case r.Method == "POST" && path == "/api/v4/channels/direct":
		var ids []string
		_ = json.Unmarshal(body, &ids)
		if len(ids) != 2 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(&model.Channel{
			Id:   "dm-" + ids[1],
			Type: model.ChannelTypeDirect,
			Name: ids[0] + "__" + ids[1],
		})

	// POST /api/v4/posts
	case r.Method == "POST" && path == "/api/v4/posts":
		var post model.Post
		_ = json.Unmarshal(body, &post)
		post.Id = f.nextPostID()
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(&post)

	// POST /api/v4/reactions
	case r.Method == "POST" && path == "/api/v4/reactions":
		var reaction model.Reaction
		_ = json.Unmarshal(body, &reaction)
		_ = json.NewEncoder(w).Encode(&reaction)

	// GET /api/v4/files/{file_id}/info
	case r.Method == "GET" && strings.HasPrefix(path, "/api/v4/files/") && strings.HasSuffix(path, "/info"):
		parts := strings.Split(path, "/")
		if len(parts) >= 5 {
			if fi, ok := f.Files[parts[4]]; ok {
				_ = json.NewEncoder(w).Encode(fi)
				return
			}
		}
		w.WriteHeader(http.StatusNotFound)

	// GET /api/v4/files/{file_id}
	case r.Method == "GET" && strings.HasPrefix(path, "/api/v4/files/"):
		fileID := path[len("/api/v4/files/"):]
		if data, ok := f.FileData[fileID]; ok {
			w.Header().Set("Content-Type", "application/octet-stream")
			_, _ = w.Write(data)
			return
		}
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "file not found"})

	default:
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "not found: " + path})
	}
}

// newWebSocketEvent creates a model.WebSocketEvent for testing handlers.
func newWebSocketEvent(eventType model.WebsocketEventType, channelID string, data map[string]any) *model.WebSocketEvent {
	evt := model.NewWebSocketEvent(eventType, "", channelID, "", nil, "")
	return evt.SetData(data)
}

// postedEvent builds a posted event carrying post in channelType.
func postedEvent(post *model.Post, channelType model.ChannelType) *model.WebSocketEvent {
	raw, _ := json.Marshal(post)
	return newWebSocketEvent(model.WebsocketEventPosted, post.ChannelId, map[string]any{
		"post":         string(raw),
		"channel_type": string(channelType),
	})
}

// reactionEvent builds a reaction_added event.
func reactionEvent(channelID string, reaction *model.Reaction) *model.WebSocketEvent {
	raw, _ := json.Marshal(reaction)
	return newWebSocketEvent(model.WebsocketEventReactionAdded, channelID, map[string]any{
		"reaction": string(raw),
	})
}

// newTestClient creates a MattermostClient pointed at serverURL whose bot
// user ID is already known, as after Connect.
func newTestClient(serverURL string) *MattermostClient {
	mc := NewMattermostClient(serverURL, "test-token", zerolog.Nop())
	mc.botUserID = "bot-user-id"
	return mc
}

// newTestFakeMM returns a fake server that knows the bot and two users.
func newTestFakeMM() *fakeMM {
	f := newFakeMM()
	f.TokenToUser["test-token"] = "bot-user-id"
	f.Users["bot-user-id"] = &model.User{Id: "bot-user-id", Username: "tortoise"}
	f.Users["alice-id"] = &model.User{Id: "alice-id", Username: "alice"}
	f.Users["bob-id"] = &model.User{Id: "bob-id", Username: "bob"}
	return f
}
