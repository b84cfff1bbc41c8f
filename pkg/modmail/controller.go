// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package modmail

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// MinSubmissionLength is the shortest submission, in characters, that is
// forwarded to staff.
const MinSubmissionLength = 10

const (
	pendingNotice   = "You already have a pending mod mail, please be patient."
	modMailReceipt  = "Mod mail was sent to admins, please wait for one of the admins to accept."
	tooShortNotice  = "Too short - seems invalid, canceling."
	rejectionFormat = "Error: %s, canceling."
	failureNotice   = "Something went wrong, canceling. Please try again later."
)

// Channels holds the staff channel each flow posts to.
type Channels struct {
	ModMail         string
	CodeSubmissions string
	BugReports      string
}

// submissionFlow describes the parts of a reply-based flow that differ
// between event submissions and bug reports.
type submissionFlow struct {
	channel func(Channels) string
	noun    string
	receipt string
}

var submissionFlows = map[FlowKind]submissionFlow{
	FlowEventSubmission: {
		channel: func(c Channels) string { return c.CodeSubmissions },
		noun:    "code submission",
		receipt: "Event submission successfully submitted.",
	},
	FlowBugReport: {
		channel: func(c Channels) string { return c.BugReports },
		noun:    "bug report",
		receipt: "Bug report successfully submitted, thank you.",
	},
}

// Controller runs flows end to end.
type Controller struct {
	transport Transport
	registry  *Registry
	waiter    *ReplyWaiter
	extractor *Extractor
	channels  Channels
	log       zerolog.Logger
}

// NewController wires a Controller.
func NewController(transport Transport, registry *Registry, waiter *ReplyWaiter, channels Channels, log zerolog.Logger) *Controller {
	return &Controller{
		transport: transport,
		registry:  registry,
		waiter:    waiter,
		extractor: NewExtractor(transport),
		channels:  channels,
		log:       log.With().Str("component", "flow").Logger(),
	}
}

// Start claims the user's slot for kind and returns the flow body. The
// slot is held from the moment Start returns until run finishes; run must
// be called exactly once. ErrAlreadyBusy means the user already holds a
// slot and nothing was started.
func (c *Controller) Start(user UserID, kind FlowKind) (run func(context.Context) (Outcome, error), err error) {
	if err := c.registry.Acquire(user, kind); err != nil {
		return nil, err
	}
	return func(ctx context.Context) (Outcome, error) {
		return c.execute(ctx, user, kind, true)
	}, nil
}

// Run executes one flow for user and returns its terminal outcome. User
// rejections are outcomes, not errors; a non-nil error means a transport
// call failed and the flow was abandoned with OutcomeFailed. Any slot the
// run acquired is released before Run returns.
func (c *Controller) Run(ctx context.Context, user UserID, kind FlowKind) (Outcome, error) {
	run, err := c.Start(user, kind)
	if err != nil {
		return c.execute(ctx, user, kind, false)
	}
	return run(ctx)
}

// execute runs the flow body for a slot that was already claimed, or only
// records the busy outcome when acquired is false.
func (c *Controller) execute(ctx context.Context, user UserID, kind FlowKind, acquired bool) (outcome Outcome, err error) {
	log := c.log.With().
		Str("flow_id", uuid.NewString()).
		Str("flow", kind.String()).
		Str("user_id", string(user)).
		Logger()
	ctx = log.WithContext(ctx)

	defer func() {
		if outcome == "" {
			// Only reached while panicking.
			outcome = OutcomeFailed
		}
		flowOutcomes.WithLabelValues(kind.String(), string(outcome)).Inc()
		evt := log.Info()
		if err != nil {
			evt = log.Error().Err(err)
		}
		evt.Str("outcome", string(outcome)).Msg("Flow finished")
	}()

	if !acquired {
		return OutcomeBusy, nil
	}
	defer c.release(ctx, user, kind)

	switch kind {
	case FlowModMail:
		outcome, err = c.runModMail(ctx, user)
	case FlowEventSubmission, FlowBugReport:
		outcome, err = c.runSubmission(ctx, user, submissionFlows[kind])
	default:
		return OutcomeFailed, fmt.Errorf("unknown flow kind %d", kind)
	}
	if err != nil {
		c.notify(ctx, user, failureNotice)
		return OutcomeFailed, err
	}
	return outcome, nil
}

// runModMail holds the mod-mail slot for its whole body, so two triggers
// arriving together cannot both post.
func (c *Controller) runModMail(ctx context.Context, user UserID) (Outcome, error) {
	if c.registry.HasPendingModMail(user) {
		if _, err := c.transport.SendDirectMessage(ctx, user, pendingNotice); err != nil {
			return OutcomeFailed, fmt.Errorf("failed to send pending notice: %w", err)
		}
		return OutcomeAlreadyPending, nil
	}

	name := c.displayName(ctx, user)
	text := fmt.Sprintf("User `%s` ID:%s submitted for mod mail.", name, user)
	if _, err := c.transport.SendChannelMessage(ctx, c.channels.ModMail, text); err != nil {
		return OutcomeFailed, fmt.Errorf("failed to post mod mail: %w", err)
	}
	c.registry.MarkPendingModMail(user)

	if _, err := c.transport.SendDirectMessage(ctx, user, modMailReceipt); err != nil {
		// Staff already have the request; the mark must stay.
		zerolog.Ctx(ctx).Warn().Err(err).Msg("Failed to confirm mod mail to user")
	}
	return OutcomePosted, nil
}

func (c *Controller) runSubmission(ctx context.Context, user UserID, flow submissionFlow) (Outcome, error) {
	reply, err := c.waiter.AwaitReply(ctx, user)
	switch {
	case errors.Is(err, ErrTimedOut):
		return OutcomeTimedOut, nil
	case errors.Is(err, ErrCancelled):
		return OutcomeCancelled, nil
	case err != nil:
		return OutcomeFailed, err
	}

	content := reply.Body
	text, ok, err := c.extractor.Extract(ctx, reply)
	if reason := rejectionReason(err); reason != "" {
		if _, sendErr := c.transport.SendDirectMessage(ctx, user, fmt.Sprintf(rejectionFormat, reason)); sendErr != nil {
			return OutcomeFailed, fmt.Errorf("failed to send rejection: %w", sendErr)
		}
		if errors.Is(err, ErrUnsupportedExtension) {
			return OutcomeUnsupportedExtension, nil
		}
		return OutcomeUnsupportedEncoding, nil
	} else if err != nil {
		return OutcomeFailed, err
	}
	if ok {
		content = text
	}

	if utf8.RuneCountInString(content) < MinSubmissionLength {
		if _, err := c.transport.SendDirectMessage(ctx, user, tooShortNotice); err != nil {
			return OutcomeFailed, fmt.Errorf("failed to send too-short notice: %w", err)
		}
		return OutcomeTooShort, nil
	}

	name := c.displayName(ctx, user)
	post := fmt.Sprintf("User `%s` ID:%s submitted %s: %s", name, user, flow.noun, content)
	if _, err := c.transport.SendChannelMessage(ctx, flow.channel(c.channels), post); err != nil {
		return OutcomeFailed, fmt.Errorf("failed to post %s: %w", flow.noun, err)
	}
	if _, err := c.transport.SendDirectMessage(ctx, user, flow.receipt); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("Failed to confirm submission to user")
	}
	return OutcomePosted, nil
}

func (c *Controller) release(ctx context.Context, user UserID, kind FlowKind) {
	if err := c.registry.Release(user, kind); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("Session slot already gone at flow end")
	}
}

// displayName falls back to the raw ID when the directory lookup fails.
func (c *Controller) displayName(ctx context.Context, user UserID) string {
	name, err := c.transport.UserName(ctx, user)
	if err != nil || name == "" {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("Failed to resolve user name")
		return string(user)
	}
	return name
}

func (c *Controller) notify(ctx context.Context, user UserID, text string) {
	if _, err := c.transport.SendDirectMessage(ctx, user, text); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("Failed to send failure notice")
	}
}
