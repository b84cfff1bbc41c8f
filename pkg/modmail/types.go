// Copyright 2024-2026 Aiku AI

package modmail

import (
	"context"
)

// UserID is the chat platform's stable identifier for a user.
type UserID string

// FlowKind identifies one of the guided flows a user can enter.
type FlowKind int

const (
	FlowModMail FlowKind = iota
	FlowEventSubmission
	FlowBugReport
)

// String returns the label used in logs and metrics.
func (k FlowKind) String() string {
	switch k {
	case FlowModMail:
		return "mod_mail"
	case FlowEventSubmission:
		return "event_submission"
	case FlowBugReport:
		return "bug_report"
	default:
		return "unknown"
	}
}

// MenuOption is one selectable entry of the direct-message menu.
type MenuOption struct {
	Glyph string
	Label string
	Kind  FlowKind
}

// Menu is the static option table presented to users.
type Menu []MenuOption

// DefaultMenu returns the stock menu. Glyphs are emoji names; transports
// that work with Unicode emoji translate them.
func DefaultMenu() Menu {
	return Menu{
		{Glyph: "e-mail", Label: "Mod mail", Kind: FlowModMail},
		{Glyph: "calendar", Label: "Event submission", Kind: FlowEventSubmission},
		{Glyph: "bug", Label: "Bug report", Kind: FlowBugReport},
	}
}

// Lookup returns the flow of the first option whose glyph matches.
func (m Menu) Lookup(glyph string) (FlowKind, bool) {
	for _, opt := range m {
		if opt.Glyph == glyph {
			return opt.Kind, true
		}
	}
	return 0, false
}

// MessageRef points at a message on the chat platform.
type MessageRef struct {
	ChannelID string
	ID        string
}

// Attachment is a file attached to an inbound message.
type Attachment struct {
	ID   string
	Name string
}

// Message is an inbound chat message.
type Message struct {
	User        UserID
	Ref         MessageRef
	Direct      bool
	Body        string
	Attachments []Attachment
}

// Reaction is an inbound reaction-add event.
type Reaction struct {
	User   UserID
	Target MessageRef
	Glyph  string
}

// Outcome is the terminal state a flow run ended in.
type Outcome string

const (
	OutcomePosted               Outcome = "posted"
	OutcomeTooShort             Outcome = "too_short"
	OutcomeUnsupportedExtension Outcome = "unsupported_extension"
	OutcomeUnsupportedEncoding  Outcome = "unsupported_encoding"
	OutcomeTimedOut             Outcome = "timed_out"
	OutcomeCancelled            Outcome = "cancelled"
	OutcomeAlreadyPending       Outcome = "already_pending"
	OutcomeBusy                 Outcome = "busy"
	OutcomeFailed               Outcome = "failed"
)

// Sender delivers outbound messages.
type Sender interface {
	SendDirectMessage(ctx context.Context, user UserID, text string) (MessageRef, error)
	SendChannelMessage(ctx context.Context, channelID, text string) (MessageRef, error)
}

// AttachmentFetcher downloads attachment contents.
type AttachmentFetcher interface {
	FetchAttachment(ctx context.Context, att Attachment) ([]byte, error)
}

// Transport is everything the core needs from a chat platform.
type Transport interface {
	Sender
	AttachmentFetcher

	// AddReaction attaches a selectable reaction to a sent message.
	AddReaction(ctx context.Context, ref MessageRef, glyph string) error
	// UserName resolves a display name for staff notifications.
	UserName(ctx context.Context, user UserID) (string, error)
	// IsBot reports whether user is the bot's own account.
	IsBot(user UserID) bool
}

// EventHandler receives inbound events from a transport. Transports call
// it from a single event loop.
type EventHandler interface {
	HandleMessage(ctx context.Context, msg Message)
	HandleReaction(ctx context.Context, r Reaction)
}
