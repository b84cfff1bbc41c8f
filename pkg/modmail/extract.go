// Copyright 2024-2026 Aiku AI

package modmail

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

var (
	// ErrUnsupportedExtension means the attachment is not a .txt file.
	ErrUnsupportedExtension = errors.New("unsupported attachment extension")
	// ErrUnsupportedEncoding means the attachment is not valid UTF-8.
	ErrUnsupportedEncoding = errors.New("unsupported attachment encoding")
)

const (
	textFileSuffix = ".txt"
	utf8BOM        = "\ufeff"
)

// Extractor pulls submittable text out of a message's attachment.
type Extractor struct {
	fetcher AttachmentFetcher
}

// NewExtractor creates an Extractor that downloads through fetcher.
func NewExtractor(fetcher AttachmentFetcher) *Extractor {
	return &Extractor{fetcher: fetcher}
}

// Extract returns the decoded text of the message's first attachment. It
// returns ok=false with no error when the message has no attachments.
// Attachments past the first are ignored.
func (e *Extractor) Extract(ctx context.Context, msg Message) (text string, ok bool, err error) {
	if len(msg.Attachments) == 0 {
		return "", false, nil
	}
	att := msg.Attachments[0]
	if !strings.HasSuffix(att.Name, textFileSuffix) {
		return "", false, ErrUnsupportedExtension
	}

	data, err := e.fetcher.FetchAttachment(ctx, att)
	if err != nil {
		return "", false, fmt.Errorf("failed to fetch attachment %s: %w", att.ID, err)
	}
	if !utf8.Valid(data) {
		return "", false, ErrUnsupportedEncoding
	}
	return strings.TrimPrefix(string(data), utf8BOM), true, nil
}

// rejectionReason returns the user-facing reason for an extraction
// rejection, or "" if err is not one.
func rejectionReason(err error) string {
	switch {
	case errors.Is(err, ErrUnsupportedExtension):
		return "Only `.txt` files supported"
	case errors.Is(err, ErrUnsupportedEncoding):
		return "Unsupported file encoding, please only use utf-8"
	default:
		return ""
	}
}
