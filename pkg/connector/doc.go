// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package connector implements modmail.Transport for the chat platforms the
// bot can run on.
//
// # Core Types
//
// [MattermostClient] talks to a Mattermost server: REST calls for posts,
// reactions, files and users, and a WebSocket for posted and reaction_added
// events. Direct channels are created on demand and cached per user.
//
// [MatrixClient] talks to a Matrix homeserver through mautrix: a sync loop
// for messages, reactions and invites, and client-server calls for sending.
// Direct rooms are learned from is_direct invites, from rooms the bot
// creates and, for rooms not seen before, from the joined member count.
//
// # Echo Prevention
//
// Both clients drop events sent by the bot itself before they reach the
// handler. The Mattermost client also drops system posts and posts made by
// other bots.
//
// # Reactions
//
// Menu glyphs are emoji short names. Mattermost uses them as is; the Matrix
// client converts them to and from Unicode.
package connector
