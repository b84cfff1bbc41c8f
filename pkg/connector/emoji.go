// Copyright 2024-2026 Aiku AI

package connector

import (
	"fmt"
)

// emojiByName maps Mattermost-style emoji short names to Unicode. Menu
// glyphs are configured by short name; Matrix reactions carry Unicode.
var emojiByName = map[string]string{
	"e-mail":           "\U0001f4e7",
	"calendar":         "\U0001f4c6",
	"bug":              "\U0001f41b",
	"envelope":         "\u2709\ufe0f",
	"memo":             "\U0001f4dd",
	"+1":               "\U0001f44d",
	"-1":               "\U0001f44e",
	"heart":            "\u2764\ufe0f",
	"smile":            "\U0001f604",
	"wave":             "\U0001f44b",
	"tada":             "\U0001f389",
	"eyes":             "\U0001f440",
	"white_check_mark": "\u2705",
	"x":                "\u274c",
	"warning":          "\u26a0\ufe0f",
}

var nameByEmoji = func() map[string]string {
	m := make(map[string]string, len(emojiByName))
	for name, emoji := range emojiByName {
		m[emoji] = name
	}
	return m
}()

// nameToEmoji converts an emoji short name to Unicode. Unknown names are
// wrapped in colons.
func nameToEmoji(name string) string {
	if emoji, ok := emojiByName[name]; ok {
		return emoji
	}
	return fmt.Sprintf(":%s:", name)
}

// emojiToName converts a Unicode emoji to its short name. Colon-wrapped
// custom names are unwrapped; anything else is returned as is.
func emojiToName(emoji string) string {
	if name, ok := nameByEmoji[emoji]; ok {
		return name
	}
	if len(emoji) > 2 && emoji[0] == ':' && emoji[len(emoji)-1] == ':' {
		return emoji[1 : len(emoji)-1]
	}
	return emoji
}
