// Package types defines the shared data model for the conversation engine:
// turns, conversations, context entries, saved sessions, and the message
// protocol spoken between the controller and the UI surface.
package types

import (
	"strings"
	"time"
)

// =============================================================================
// CONVERSATION MODEL
// =============================================================================

// Role identifies the speaker of a turn. The wire protocol uses the Gemini
// role names directly.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Turn is one message in the conversation.
type Turn struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// DefaultMaxTurns bounds the live conversation. Oldest turns are evicted
// first once the bound is exceeded.
const DefaultMaxTurns = 20

// Conversation is the live transcript. The ID is assigned lazily on the
// first turn, not at construction.
type Conversation struct {
	ID       string `json:"id"`
	Turns    []Turn `json:"turns"`
	MaxTurns int    `json:"-"`
}

// NewConversation returns an empty conversation with no id assigned.
func NewConversation() *Conversation {
	return &Conversation{MaxTurns: DefaultMaxTurns}
}

// Append adds a turn without evicting. Eviction is deferred to Trim so that
// an in-flight user/model pair is never dropped mid-generation.
func (c *Conversation) Append(t Turn) {
	c.Turns = append(c.Turns, t)
}

// Trim applies FIFO eviction down to MaxTurns.
func (c *Conversation) Trim() {
	max := c.MaxTurns
	if max <= 0 {
		max = DefaultMaxTurns
	}
	if len(c.Turns) > max {
		c.Turns = append([]Turn(nil), c.Turns[len(c.Turns)-max:]...)
	}
}

// Clear drops all turns but keeps the id. Used when a context change
// invalidates the dialogue.
func (c *Conversation) Clear() {
	c.Turns = nil
}

// Empty reports whether the conversation has no turns.
func (c *Conversation) Empty() bool {
	return len(c.Turns) == 0
}

// =============================================================================
// CONTEXT MODEL
// =============================================================================

// FileRef is an opaque, stable identifier for a workspace file. For the
// local workspace implementation it is the workspace-relative path.
type FileRef string

// Name returns the bare file name portion of the reference.
func (r FileRef) Name() string {
	s := string(r)
	if i := strings.LastIndexAny(s, "/\\"); i >= 0 {
		return s[i+1:]
	}
	return s
}

// Origin distinguishes how a context entry came to be tracked.
type Origin string

const (
	// OriginAuto mirrors the active editor file. At most one entry.
	OriginAuto Origin = "auto"
	// OriginManual is an explicit user addition.
	OriginManual Origin = "manual"
)

// ContextEntry is one file tracked for inclusion in the next prompt.
// Active is only meaningful for auto entries; manual entries are always
// active.
type ContextEntry struct {
	Ref    FileRef `json:"ref"`
	Origin Origin  `json:"origin"`
	Active bool    `json:"active"`
}

// FileHit is one result from workspace file search or the recents list.
type FileHit struct {
	Path string  `json:"path"`
	Ref  FileRef `json:"ref"`
}

// =============================================================================
// SAVED SESSIONS
// =============================================================================

// SavedSession is an immutable snapshot of a completed conversation plus the
// context references it was grounded in. Origin flags are not persisted;
// restored entries are always manual.
type SavedSession struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	CreatedAt   time.Time `json:"created_at"`
	Turns       []Turn    `json:"turns"`
	ContextRefs []string  `json:"context_refs"`
}

// SessionSummary is the listing shape for history pickers.
type SessionSummary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}

// QueryMarker separates the baked-in context block from the raw user text in
// the first turn of a conversation. Title derivation strips everything up to
// and including it.
const QueryMarker = "USER QUERY:"

const (
	titleMaxLen   = 50
	titleEllipsis = "..."
)

// DeriveTitle produces a session title from the first user turn's text:
// context block stripped, truncated to 50 runes with an ellipsis marker.
func DeriveTitle(firstUserText string) string {
	text := firstUserText
	if i := strings.LastIndex(text, QueryMarker); i >= 0 {
		text = text[i+len(QueryMarker):]
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "New chat"
	}
	runes := []rune(text)
	if len(runes) <= titleMaxLen {
		return text
	}
	return string(runes[:titleMaxLen-len(titleEllipsis)]) + titleEllipsis
}
