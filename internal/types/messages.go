package types

// =============================================================================
// SYNC PROTOCOL MESSAGES
// =============================================================================
//
// The UI surface is not trusted to hold authoritative state: it can be torn
// down and recreated at any time. Context state is therefore always pushed
// as a full snapshot, never a diff; conversation turns are relayed chunk by
// chunk only while a stream is open, and as a full replay on session load.
//
// Message is a closed tagged union. A consumer switching on the concrete
// type covers every kind; there is no string dispatch.

// Message is one controller-to-UI protocol message.
type Message interface {
	isMessage()
}

// ContextSnapshot is the full, authoritative context list.
type ContextSnapshot struct {
	Entries []ContextEntry
}

// ThinkingStarted marks the start of prompt assembly, before the stream
// opens.
type ThinkingStarted struct{}

// ThinkingEnded marks the end of the thinking phase, whether or not a
// stream follows.
type ThinkingEnded struct{}

// StreamStarted opens a chunk sequence. Chunks are only valid until the
// matching StreamEnded.
type StreamStarted struct{}

// StreamChunk is one model text fragment, in provider order.
type StreamChunk struct {
	Text string
}

// StreamEnded closes the chunk sequence. Cancelled means the user stopped
// the generation; Failed means the generation errored after opening (an
// ErrorNotice follows). In both cases any partial output already relayed
// was discarded and must not be rendered as a completed response.
// SelectionEdit means the response was applied to the editor selection
// rather than the transcript.
type StreamEnded struct {
	Cancelled     bool
	Failed        bool
	SelectionEdit bool
}

// ErrorNotice is a structured failure surfaced to the user. The UI owns
// presentation and wording.
type ErrorNotice struct {
	Category ErrorCategory
	Message  string
}

// ConversationReplay replaces the UI transcript wholesale, used after a
// session load or a UI reload.
type ConversationReplay struct {
	Turns []Turn
}

// FileResults answers a file search or recents query.
type FileResults struct {
	Items  []FileHit
	Recent bool
}

// SessionList answers a history listing request, newest first.
type SessionList struct {
	Sessions []SessionSummary
}

func (ContextSnapshot) isMessage()    {}
func (ThinkingStarted) isMessage()    {}
func (ThinkingEnded) isMessage()      {}
func (StreamStarted) isMessage()      {}
func (StreamChunk) isMessage()        {}
func (StreamEnded) isMessage()        {}
func (ErrorNotice) isMessage()        {}
func (ConversationReplay) isMessage() {}
func (FileResults) isMessage()        {}
func (SessionList) isMessage()        {}
