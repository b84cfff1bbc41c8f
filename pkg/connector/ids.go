// Copyright 2024-2026 Aiku AI

package connector

import (
	"github.com/mattermost/mattermost/server/public/model"
	"maunium.net/go/mautrix/id"

	"github.com/LocalStellerUser/Tortoise-BOT/pkg/modmail"
)

// postRef creates a modmail.MessageRef from a Mattermost post.
func postRef(post *model.Post) modmail.MessageRef {
	return modmail.MessageRef{ChannelID: post.ChannelId, ID: post.Id}
}

// makeMatrixUserID converts a core user ID to a Matrix user ID.
func makeMatrixUserID(user modmail.UserID) id.UserID {
	return id.UserID(user)
}

// parseMatrixUserID converts a Matrix user ID to a core user ID.
func parseMatrixUserID(userID id.UserID) modmail.UserID {
	return modmail.UserID(userID)
}

// eventRef creates a modmail.MessageRef from a Matrix room and event ID.
func eventRef(roomID id.RoomID, eventID id.EventID) modmail.MessageRef {
	return modmail.MessageRef{ChannelID: string(roomID), ID: string(eventID)}
}

// parseEventRef splits a modmail.MessageRef into Matrix room and event IDs.
func parseEventRef(ref modmail.MessageRef) (id.RoomID, id.EventID) {
	return id.RoomID(ref.ChannelID), id.EventID(ref.ID)
}
