// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mattermost/mattermost/server/public/model"

	"github.com/LocalStellerUser/Tortoise-BOT/pkg/modmail"
)

// handleEvent dispatches a Mattermost WebSocket event to handler.
func (m *MattermostClient) handleEvent(ctx context.Context, evt *model.WebSocketEvent, handler modmail.EventHandler) {
	switch evt.EventType() {
	case model.WebsocketEventPosted:
		m.handlePosted(ctx, evt, handler)
	case model.WebsocketEventReactionAdded:
		m.handleReactionAdded(ctx, evt, handler)
	default:
		m.log.Trace().Str("event_type", string(evt.EventType())).Msg("Unhandled event type")
	}
}

// parsePostedEvent extracts a post from a WebSocket event, skipping the
// bot's own posts, system messages and posts made by other bots. Returns
// (nil, nil) to skip silently, (nil, err) to log an error, or (post, nil)
// to proceed.
func (m *MattermostClient) parsePostedEvent(evt *model.WebSocketEvent) (*model.Post, error) {
	postJSON, ok := evt.GetData()["post"].(string)
	if !ok {
		return nil, fmt.Errorf("posted event missing post data")
	}

	var post model.Post
	if err := json.Unmarshal([]byte(postJSON), &post); err != nil {
		return nil, fmt.Errorf("failed to unmarshal post: %w", err)
	}

	if post.UserId == m.selfID() {
		return nil, nil
	}
	if post.Type != "" && post.Type != model.PostTypeDefault {
		return nil, nil
	}
	if fromBot, _ := post.GetProp("from_bot").(string); fromBot == "true" {
		m.log.Debug().
			Str("post_id", post.Id).
			Str("user_id", post.UserId).
			Msg("Skipping post from another bot")
		return nil, nil
	}
	return &post, nil
}

// parseReactionEvent extracts a reaction from a WebSocket event. Returns
// (nil, nil) to skip, (nil, err) for errors, or (reaction, nil) to proceed.
func (m *MattermostClient) parseReactionEvent(evt *model.WebSocketEvent) (*model.Reaction, error) {
	reactionJSON, ok := evt.GetData()["reaction"].(string)
	if !ok {
		return nil, nil
	}

	var reaction model.Reaction
	if err := json.Unmarshal([]byte(reactionJSON), &reaction); err != nil {
		return nil, fmt.Errorf("failed to unmarshal reaction: %w", err)
	}
	if reaction.UserId == m.selfID() {
		return nil, nil
	}
	return &reaction, nil
}

func isDirectChannelEvent(evt *model.WebSocketEvent) bool {
	channelType, _ := evt.GetData()["channel_type"].(string)
	return channelType == string(model.ChannelTypeDirect)
}

func (m *MattermostClient) handlePosted(ctx context.Context, evt *model.WebSocketEvent, handler modmail.EventHandler) {
	post, err := m.parsePostedEvent(evt)
	if err != nil {
		m.log.Warn().Err(err).Msg("Failed to parse posted event")
		return
	}
	if post == nil {
		return
	}

	direct := isDirectChannelEvent(evt)
	user := modmail.UserID(post.UserId)
	if direct {
		m.rememberDirectChannel(user, post.ChannelId)
	}

	m.log.Debug().
		Str("post_id", post.Id).
		Str("channel_id", post.ChannelId).
		Str("user_id", post.UserId).
		Bool("direct", direct).
		Msg("Received new message")

	handler.HandleMessage(ctx, modmail.Message{
		User:        user,
		Ref:         postRef(post),
		Direct:      direct,
		Body:        post.Message,
		Attachments: m.postAttachments(ctx, post),
	})
}

// postAttachments lists the files of post in upload order. Metadata sent
// with the event is used when present; otherwise each file's info is
// fetched.
func (m *MattermostClient) postAttachments(ctx context.Context, post *model.Post) []modmail.Attachment {
	if post.Metadata != nil && len(post.Metadata.Files) > 0 {
		atts := make([]modmail.Attachment, 0, len(post.Metadata.Files))
		for _, fi := range post.Metadata.Files {
			atts = append(atts, modmail.Attachment{ID: fi.Id, Name: fi.Name})
		}
		return atts
	}

	var atts []modmail.Attachment
	for _, fileID := range post.FileIds {
		fi, _, err := m.client.GetFileInfo(ctx, fileID)
		if err != nil {
			m.log.Error().Err(err).Str("file_id", fileID).Msg("Failed to get file info")
			continue
		}
		atts = append(atts, modmail.Attachment{ID: fi.Id, Name: fi.Name})
	}
	return atts
}

func (m *MattermostClient) handleReactionAdded(ctx context.Context, evt *model.WebSocketEvent, handler modmail.EventHandler) {
	reaction, err := m.parseReactionEvent(evt)
	if err != nil {
		m.log.Error().Err(err).Msg("Failed to parse reaction added event")
		return
	}
	if reaction == nil {
		return
	}

	handler.HandleReaction(ctx, modmail.Reaction{
		User: modmail.UserID(reaction.UserId),
		Target: modmail.MessageRef{
			ChannelID: evt.GetBroadcast().ChannelId,
			ID:        reaction.PostId,
		},
		Glyph: reaction.EmojiName,
	})
}
