// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package modmail routes users of a chat bot into guided submission flows
// and forwards validated content to staff channels.
//
// A user who sends the bot a direct message gets a menu of flows, one
// message per option with a reaction to pick it. Reacting with an option's
// glyph starts that flow:
//
//   - Mod mail posts a one-shot escalation to the moderator channel and
//     marks the user as having a pending request until staff accept it.
//   - Event submission and bug report wait up to five minutes for the
//     user's next direct message, take its text or a single UTF-8 .txt
//     attachment, and post it to the matching staff channel.
//
// # Core Types
//
// [Registry] owns all session state. A user holds at most one session slot
// at a time across all flows; while they do, the [Dispatcher] ignores their
// reactions and menu requests. Pending mod-mail marks live alongside the
// slots but are cleared only by staff.
//
// [Controller] runs one flow to completion and releases its slot exactly
// once on every exit path. [ReplyWaiter] suspends a flow until the user
// replies, times out or cancels; replies reach it through the [Inbox], which
// the dispatcher feeds with every direct message.
//
// Chat platforms plug in through [Transport] for outbound calls and
// [EventHandler] for inbound events.
package modmail
