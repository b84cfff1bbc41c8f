// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package connector

import (
	"context"

	"maunium.net/go/mautrix/event"

	"github.com/LocalStellerUser/Tortoise-BOT/pkg/modmail"
)

// handleMember joins rooms the bot is invited to and remembers direct
// invites so replies go to the same room.
func (m *MatrixClient) handleMember(ctx context.Context, evt *event.Event) {
	if evt.GetStateKey() != m.client.UserID.String() {
		return
	}
	member := evt.Content.AsMember()
	if member.Membership != event.MembershipInvite {
		return
	}

	if _, err := m.client.JoinRoomByID(ctx, evt.RoomID); err != nil {
		m.log.Error().Err(err).Str("room_id", evt.RoomID.String()).Msg("Failed to join room")
		return
	}
	m.log.Info().
		Str("room_id", evt.RoomID.String()).
		Str("inviter", evt.Sender.String()).
		Bool("direct", member.IsDirect).
		Msg("Joined room")
	if member.IsDirect {
		m.rememberDirectRoom(parseMatrixUserID(evt.Sender), evt.RoomID)
	}
}

// convertMessage maps a Matrix message event to a core message. Returns
// false for events that are not user messages.
func (m *MatrixClient) convertMessage(ctx context.Context, evt *event.Event) (modmail.Message, bool) {
	if evt.Sender == m.client.UserID {
		return modmail.Message{}, false
	}
	content := evt.Content.AsMessage()
	if content.RelatesTo != nil && content.RelatesTo.GetReplaceID() != "" {
		return modmail.Message{}, false
	}

	msg := modmail.Message{
		User: parseMatrixUserID(evt.Sender),
		Ref:  eventRef(evt.RoomID, evt.ID),
	}
	switch content.MsgType {
	case event.MsgText, event.MsgNotice, event.MsgEmote:
		msg.Body = content.Body
	case event.MsgFile, event.MsgImage, event.MsgVideo, event.MsgAudio:
		name := content.GetFileName()
		if content.URL != "" {
			msg.Attachments = []modmail.Attachment{{ID: string(content.URL), Name: name}}
		}
		if content.Body != "" && content.Body != name {
			msg.Body = content.Body
		}
	default:
		return modmail.Message{}, false
	}

	msg.Direct = m.isDirectRoom(ctx, evt.RoomID)
	if msg.Direct {
		m.rememberDirectRoom(msg.User, evt.RoomID)
	}
	return msg, true
}

func (m *MatrixClient) handleMessage(ctx context.Context, evt *event.Event, handler modmail.EventHandler) {
	msg, ok := m.convertMessage(ctx, evt)
	if !ok {
		return
	}
	m.log.Debug().
		Str("event_id", evt.ID.String()).
		Str("room_id", evt.RoomID.String()).
		Str("user_id", evt.Sender.String()).
		Bool("direct", msg.Direct).
		Msg("Received new message")
	handler.HandleMessage(ctx, msg)
}

func (m *MatrixClient) handleReaction(ctx context.Context, evt *event.Event, handler modmail.EventHandler) {
	if evt.Sender == m.client.UserID {
		return
	}
	reaction := evt.Content.AsReaction()
	if reaction.RelatesTo.EventID == "" {
		return
	}
	handler.HandleReaction(ctx, modmail.Reaction{
		User:   parseMatrixUserID(evt.Sender),
		Target: eventRef(evt.RoomID, reaction.RelatesTo.EventID),
		Glyph:  emojiToName(reaction.RelatesTo.Key),
	})
}
