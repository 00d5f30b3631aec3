package types

// ErrorCategory classifies a failure for presentation and retry decisions.
// Classification is best-effort string/status matching against the provider,
// not a strict contract.
type ErrorCategory string

const (
	// ErrAuth is a bad or missing credential. Surfaced with a
	// call-to-action to re-enter the key.
	ErrAuth ErrorCategory = "auth"
	// ErrContentSafety is output blocked by the provider's safety
	// filters. Surfaced with guidance to rephrase.
	ErrContentSafety ErrorCategory = "content_safety"
	// ErrRateLimit is a provider quota rejection. Transient.
	ErrRateLimit ErrorCategory = "rate_limit"
	// ErrNetwork is a transport-level failure. Transient.
	ErrNetwork ErrorCategory = "network"
	// ErrModelLimitation is a context/length limit. Surfaced with
	// guidance to trim context.
	ErrModelLimitation ErrorCategory = "model_limitation"
	// ErrServer is a provider-side 5xx. Transient.
	ErrServer ErrorCategory = "server"
	// ErrCancelled is user-initiated and not an error; it renders as a
	// neutral "stopped" notice.
	ErrCancelled ErrorCategory = "cancelled"
	// ErrUnknown is the catch-all.
	ErrUnknown ErrorCategory = "unknown"
)

// Transient reports whether a failure of this category is worth retrying.
func (c ErrorCategory) Transient() bool {
	switch c {
	case ErrNetwork, ErrRateLimit, ErrServer:
		return true
	}
	return false
}
