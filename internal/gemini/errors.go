package gemini

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"sidekick/internal/types"
)

// Error is a classified gateway failure. The category drives both retry
// decisions and how the UI presents the failure.
type Error struct {
	Category types.ErrorCategory
	Message  string
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func classified(cat types.ErrorCategory, msg string, err error) *Error {
	return &Error{Category: cat, Message: msg, Err: err}
}

// Classify maps any error to the taxonomy. Already-classified gateway
// errors pass through; everything else is best-effort matching on status
// codes and message text, not a strict provider contract.
func Classify(err error) types.ErrorCategory {
	if err == nil {
		return ""
	}
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Category
	}
	if errors.Is(err, context.Canceled) {
		return types.ErrCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return types.ErrNetwork
	}
	var ne net.Error
	var ue *url.Error
	if errors.As(err, &ne) || errors.As(err, &ue) {
		return types.ErrNetwork
	}
	return classifyMessage(err.Error())
}

// classifyHTTP maps a non-200 response to a category before message
// matching gets a say.
func classifyHTTP(status int, body string) types.ErrorCategory {
	switch {
	case status == 401 || status == 403:
		return types.ErrAuth
	case status == 429:
		return types.ErrRateLimit
	case status >= 500:
		return types.ErrServer
	case status == 400:
		if cat := classifyMessage(body); cat != types.ErrUnknown {
			return cat
		}
		return types.ErrUnknown
	default:
		return classifyMessage(body)
	}
}

func classifyMessage(msg string) types.ErrorCategory {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "api key") || strings.Contains(lower, "api_key") ||
		strings.Contains(lower, "unauthenticated") || strings.Contains(lower, "permission"):
		return types.ErrAuth
	case strings.Contains(lower, "safety") || strings.Contains(lower, "blocked") ||
		strings.Contains(lower, "prohibited"):
		return types.ErrContentSafety
	case strings.Contains(lower, "quota") || strings.Contains(lower, "rate limit") ||
		strings.Contains(lower, "resource_exhausted") || strings.Contains(lower, "429"):
		return types.ErrRateLimit
	case strings.Contains(lower, "token") && strings.Contains(lower, "exceed"),
		strings.Contains(lower, "context length"), strings.Contains(lower, "too long"):
		return types.ErrModelLimitation
	case strings.Contains(lower, "internal") || strings.Contains(lower, "unavailable") ||
		strings.Contains(lower, "overloaded") || strings.Contains(lower, "500") ||
		strings.Contains(lower, "503"):
		return types.ErrServer
	case strings.Contains(lower, "connection") || strings.Contains(lower, "timeout") ||
		strings.Contains(lower, "network") || strings.Contains(lower, "eof"):
		return types.ErrNetwork
	default:
		return types.ErrUnknown
	}
}
