// ABOUTME: Maps turn failures onto stable user-facing error categories.
// ABOUTME: Frontends render Category.Message instead of raw errors.

package chat

import (
	"context"
	"errors"
	"strings"
)

// Category classifies a turn failure for user display.
type Category int

const (
	CategoryUnknown Category = iota
	CategoryRateLimited
	CategoryUnavailable
	CategoryOutOfQuota
)

func (c Category) String() string {
	switch c {
	case CategoryRateLimited:
		return "rate_limited"
	case CategoryUnavailable:
		return "temporarily_unavailable"
	case CategoryOutOfQuota:
		return "out_of_quota"
	default:
		return "unknown"
	}
}

// Message returns the text shown to the user for this category.
func (c Category) Message() string {
	switch c {
	case CategoryRateLimited:
		return "I'm being rate limited. Give me a moment and try again."
	case CategoryUnavailable:
		return "I can't reach my runtime right now. Try again in a bit."
	case CategoryOutOfQuota:
		return "I'm out of quota. Someone needs to top up my account."
	default:
		return "Something went wrong with that turn. Try again?"
	}
}

// Categorize maps a turn failure onto a Category. Matching is by error
// substring since failures cross an HTTP boundary and arrive as text; quota
// is checked before rate limiting because quota messages often mention
// rates too.
func Categorize(err error) Category {
	if err == nil {
		return CategoryUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryUnavailable
	}
	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "quota", "payment required", "402"):
		return CategoryOutOfQuota
	case containsAny(msg, "rate limit", "too many requests", "429"):
		return CategoryRateLimited
	case containsAny(msg, "unavailable", "overloaded", "timeout", "timed out",
		"deadline exceeded", "connection refused", "connection reset",
		"502", "503", "504"):
		return CategoryUnavailable
	}
	return CategoryUnknown
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
