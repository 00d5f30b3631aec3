// Package controller owns the live conversation and the active-request
// lifecycle. It is a cooperative state machine, not a thread pool: exactly
// one stream may be open at a time, a submit while streaming is dropped
// (the newer request, never the older one), and every failure path returns
// the machine to idle.
package controller

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sidekick/internal/contextset"
	"sidekick/internal/gemini"
	"sidekick/internal/locator"
	"sidekick/internal/secrets"
	"sidekick/internal/types"
	"sidekick/internal/workspace"
)

// State is the controller's lifecycle phase.
type State int

const (
	StateIdle State = iota
	StateThinking
	StateStreaming
)

func (s State) String() string {
	switch s {
	case StateThinking:
		return "thinking"
	case StateStreaming:
		return "streaming"
	default:
		return "idle"
	}
}

// defaultPerFileCap bounds how much of each context file is baked into
// the prompt when no cap is configured.
const defaultPerFileCap = 5000

const truncationMarker = "\n... [truncated]"

// systemInstruction is fixed; the engine exposes no prompt configuration.
const systemInstruction = `You are an expert software assistant embedded in a code editor. ` +
	`The user may include the contents of workspace files before their question; treat those files as the ` +
	`authoritative context for the conversation. Answer precisely, prefer short code examples over prose, ` +
	`and format code in fenced blocks.`

// Bridge is the outbound half of the sync protocol. The surface behind it
// is stateless across reloads, so context always travels as full
// snapshots.
type Bridge interface {
	Send(msg types.Message)
}

// Gateway generates streamed completions. *gemini.Client satisfies it.
type Gateway interface {
	SetAPIKey(key string)
	Stream(ctx context.Context, turns []types.Turn, systemInstruction string) (<-chan string, <-chan error)
}

// History is the session archive. *history.Store satisfies it.
type History interface {
	Save(sess types.SavedSession) error
	List() ([]types.SessionSummary, error)
	Load(id string) (*types.SavedSession, error)
}

// Controller glues the stores, the gateway, and the UI bridge together.
// All collaborators are constructor-injected; nothing reaches back into a
// shared module scope.
type Controller struct {
	contexts *contextset.Store
	sessions History
	gateway  Gateway
	creds    secrets.Store
	fs       workspace.FileSystem
	editor   workspace.Editor
	files    *locator.Locator
	bridge   Bridge
	logger   *zap.Logger

	perFileCap int

	mu        sync.Mutex
	state     State
	conv      *types.Conversation
	convEpoch int // bumped on every invalidation/replacement
	cancel    context.CancelFunc
	done      chan struct{} // closed when the in-flight stream finishes

	// suppressInvalidation guards the auto re-derivation that follows a
	// session load, which must not clear the conversation it restored.
	suppressInvalidation bool
}

// Options carries the constructor dependencies.
type Options struct {
	Contexts *contextset.Store
	Sessions History
	Gateway  Gateway
	Secrets  secrets.Store
	FS       workspace.FileSystem
	Editor   workspace.Editor
	Locator  *locator.Locator
	Bridge   Bridge
	Logger   *zap.Logger

	// PerFileCap overrides the per-file prompt budget. Zero means the
	// default.
	PerFileCap int
}

// New wires a controller and subscribes it to context changes.
func New(opts Options) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	fileCap := opts.PerFileCap
	if fileCap <= 0 {
		fileCap = defaultPerFileCap
	}
	c := &Controller{
		contexts: opts.Contexts,
		sessions: opts.Sessions,
		gateway:  opts.Gateway,
		creds:    opts.Secrets,
		fs:       opts.FS,
		editor:   opts.Editor,
		files:    opts.Locator,
		bridge:   opts.Bridge,
		logger:   logger.Named("controller"),

		perFileCap: fileCap,

		conv: types.NewConversation(),
	}
	c.contexts.OnChange(c.onContextChange)
	return c
}

// State returns the current lifecycle phase.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Turns returns a copy of the live transcript.
func (c *Controller) Turns() []types.Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]types.Turn(nil), c.conv.Turns...)
}

// =============================================================================
// SUBMIT / CANCEL
// =============================================================================

// Submit starts one generation for the user's text. Rejected (logged, no
// state change) unless the controller is idle.
func (c *Controller) Submit(userText string) {
	userText = strings.TrimSpace(userText)
	if userText == "" {
		return
	}

	c.mu.Lock()
	if c.state != StateIdle {
		state := c.state
		c.mu.Unlock()
		c.logger.Info("submit rejected", zap.String("state", state.String()))
		return
	}
	c.state = StateThinking
	c.mu.Unlock()

	c.bridge.Send(types.ThinkingStarted{})

	key, err := c.creds.Get(secrets.APIKeyName)
	if err != nil || key == "" {
		c.bridge.Send(types.ThinkingEnded{})
		c.bridge.Send(types.ErrorNotice{
			Category: types.ErrAuth,
			Message:  "No API key configured. Add one to start chatting.",
		})
		c.mu.Lock()
		c.state = StateIdle
		c.mu.Unlock()
		return
	}
	c.gateway.SetAPIKey(key)

	// Context is baked into the first turn only: the provider has no
	// separate persistent-context channel.
	turnText := userText
	c.mu.Lock()
	firstTurn := c.conv.Empty()
	epoch := c.convEpoch
	c.mu.Unlock()
	if firstTurn {
		if block := c.assembleContext(); block != "" {
			turnText = block + "\n" + types.QueryMarker + "\n" + userText
		}
	}

	c.mu.Lock()
	if c.convEpoch != epoch {
		// The context set was mutated while the block was being
		// assembled; the prompt no longer reflects it. Drop the submit
		// rather than seed the invalidated conversation with it.
		c.state = StateIdle
		c.mu.Unlock()
		c.logger.Info("submit dropped, context changed during assembly")
		c.bridge.Send(types.ThinkingEnded{})
		return
	}
	if c.conv.ID == "" {
		c.conv.ID = uuid.NewString()
	}
	c.conv.Append(types.Turn{Role: types.RoleUser, Text: turnText})
	turns := boundedTurns(c.conv)
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	done := c.done
	c.state = StateStreaming
	c.mu.Unlock()

	c.bridge.Send(types.ThinkingEnded{})
	c.bridge.Send(types.StreamStarted{})

	go c.relay(ctx, cancel, done, turns, epoch)
}

// relay consumes one gateway stream and settles the conversation.
func (c *Controller) relay(ctx context.Context, cancel context.CancelFunc, done chan struct{}, turns []types.Turn, epoch int) {
	defer close(done)
	defer cancel()

	contentChan, errorChan := c.gateway.Stream(ctx, turns, systemInstruction)

	var acc strings.Builder
	for text := range contentChan {
		acc.WriteString(text)
		c.bridge.Send(types.StreamChunk{Text: text})
	}
	err := <-errorChan

	// Settle the transcript and push the terminal messages before the
	// machine goes idle, so a racing submit cannot interleave ahead of
	// this stream's StreamEnded.
	c.mu.Lock()
	c.cancel = nil
	fresh := c.convEpoch == epoch
	if err == nil {
		if fresh {
			c.conv.Append(types.Turn{Role: types.RoleModel, Text: acc.String()})
			c.conv.Trim()
		}
	} else if fresh {
		// No partial model turn on any failure; the unanswered user
		// turn is rolled back so the transcript stays alternating.
		c.popTrailingUserTurnLocked()
	}
	rolledBack := append([]types.Turn(nil), c.conv.Turns...)
	c.mu.Unlock()

	switch cat := gemini.Classify(err); {
	case err == nil:
		c.bridge.Send(types.StreamEnded{})
	case cat == types.ErrCancelled:
		c.logger.Info("generation stopped by user")
		c.bridge.Send(types.StreamEnded{Cancelled: true})
	default:
		c.logger.Warn("generation failed", zap.String("category", string(cat)), zap.Error(err))
		c.bridge.Send(types.StreamEnded{Failed: true})
		c.bridge.Send(types.ErrorNotice{Category: cat, Message: userMessage(cat, err)})
		// The surface echoed the user turn and any partial chunks;
		// replay the rolled-back transcript so it matches this side.
		c.bridge.Send(types.ConversationReplay{Turns: rolledBack})
	}

	c.mu.Lock()
	c.state = StateIdle
	c.mu.Unlock()
}

// CancelGeneration stops the in-flight stream. Valid only while streaming.
func (c *Controller) CancelGeneration() {
	c.mu.Lock()
	cancel := c.cancel
	streaming := c.state == StateStreaming
	c.mu.Unlock()
	if !streaming || cancel == nil {
		c.logger.Debug("cancel ignored, no stream in flight")
		return
	}
	cancel()
}

// =============================================================================
// SESSION BOUNDARIES
// =============================================================================

// NewChat archives the current conversation (if it has any turns) and
// resets both the transcript and the context set.
func (c *Controller) NewChat() error {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return fmt.Errorf("cannot start a new chat while %s", c.state)
	}
	sess, ok := c.snapshotSessionLocked()
	c.conv = types.NewConversation()
	c.convEpoch++
	c.mu.Unlock()

	if ok {
		if err := c.sessions.Save(sess); err != nil {
			c.logger.Error("failed to archive session", zap.Error(err))
		}
	}
	c.contexts.ClearAll()
	c.bridge.Send(types.ConversationReplay{})
	return nil
}

// LoadSession replaces the live conversation with an archived one. The
// current conversation is discarded without saving: a load is an explicit
// user action, not an autonomous transition. Refused while streaming.
func (c *Controller) LoadSession(id string) error {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return errors.New("cannot load a session while a response is streaming")
	}
	c.mu.Unlock()

	sess, err := c.sessions.Load(id)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.conv = &types.Conversation{
		ID:       sess.ID,
		Turns:    append([]types.Turn(nil), sess.Turns...),
		MaxTurns: types.DefaultMaxTurns,
	}
	c.convEpoch++
	c.suppressInvalidation = true
	c.mu.Unlock()

	refs := make([]types.FileRef, 0, len(sess.ContextRefs))
	for _, r := range sess.ContextRefs {
		refs = append(refs, types.FileRef(r))
	}
	c.contexts.RestoreManual(refs)
	// Auto tracking comes from the live editor, never from the snapshot.
	c.contexts.SetAutoTracked(c.editor.ActiveFile())

	c.mu.Lock()
	c.suppressInvalidation = false
	c.mu.Unlock()

	c.bridge.Send(types.ConversationReplay{Turns: append([]types.Turn(nil), sess.Turns...)})
	return nil
}

// ListSessions pushes the archive listing to the surface.
func (c *Controller) ListSessions() ([]types.SessionSummary, error) {
	summaries, err := c.sessions.List()
	if err != nil {
		return nil, err
	}
	c.bridge.Send(types.SessionList{Sessions: summaries})
	return summaries, nil
}

// Close saves a non-empty conversation, exactly as NewChat would. Called
// on process teardown.
func (c *Controller) Close() error {
	c.mu.Lock()
	if cancel := c.cancel; cancel != nil {
		cancel()
	}
	done := c.done
	c.mu.Unlock()
	if done != nil {
		<-done
	}

	c.mu.Lock()
	sess, ok := c.snapshotSessionLocked()
	c.mu.Unlock()
	if !ok {
		return nil
	}
	return c.sessions.Save(sess)
}

// =============================================================================
// CONTEXT COMMANDS
// =============================================================================

// AddContext pins a file manually.
func (c *Controller) AddContext(ref types.FileRef) bool {
	return c.contexts.AddManual(ref)
}

// RemoveContext unpins a manual file by its reference key.
func (c *Controller) RemoveContext(key string) bool {
	return c.contexts.RemoveManual(key)
}

// ToggleAutoContext flips the auto entry's eye toggle.
func (c *Controller) ToggleAutoContext() {
	c.contexts.ToggleAutoActive()
}

// TrackEditor mirrors the active editor file into the auto slot. The host
// calls this whenever editor focus changes.
func (c *Controller) TrackEditor() {
	c.contexts.SetAutoTracked(c.editor.ActiveFile())
}

// onContextChange is the store subscription: re-broadcast the full
// snapshot, and clear the transcript unless the mutation was the
// non-invalidating auto toggle (or a guarded session restore).
func (c *Controller) onContextChange(entries []types.ContextEntry, invalidating bool) {
	c.bridge.Send(types.ContextSnapshot{Entries: entries})
	if !invalidating {
		return
	}
	c.mu.Lock()
	if c.suppressInvalidation {
		c.mu.Unlock()
		return
	}
	hadTurns := !c.conv.Empty()
	c.conv.Clear() // id survives, turns do not
	c.convEpoch++
	c.mu.Unlock()
	if hadTurns {
		c.logger.Info("conversation invalidated by context change")
		c.bridge.Send(types.ConversationReplay{})
	}
}

// =============================================================================
// FILE QUERIES AND EDITOR ACTIONS
// =============================================================================

// Search pushes file search results to the surface.
func (c *Controller) Search(query string) {
	hits, err := c.files.Search(query, locator.DefaultLimit)
	if err != nil {
		c.logger.Warn("file search failed", zap.Error(err))
	}
	c.bridge.Send(types.FileResults{Items: hits})
}

// RecentFiles pushes the open-tab recents list to the surface.
func (c *Controller) RecentFiles() {
	c.bridge.Send(types.FileResults{Items: c.files.Recent(locator.DefaultLimit), Recent: true})
}

// InsertAtCursor types text into the focused editor.
func (c *Controller) InsertAtCursor(text string) bool {
	return c.editor.InsertAtCursor(text)
}

// ApplySelectionEdit replaces the active selection with text and closes
// out the interaction as a selection edit.
func (c *Controller) ApplySelectionEdit(text string) bool {
	sel := c.editor.ActiveSelection()
	if sel == nil {
		c.bridge.Send(types.ErrorNotice{
			Category: types.ErrUnknown,
			Message:  "No active selection to apply the edit to.",
		})
		return false
	}
	if !c.editor.ReplaceRange(sel.Ref, sel.Span, text) {
		c.bridge.Send(types.ErrorNotice{
			Category: types.ErrUnknown,
			Message:  "The editor rejected the selection edit.",
		})
		return false
	}
	c.bridge.Send(types.StreamEnded{SelectionEdit: true})
	return true
}

// Resync pushes the full state to a freshly (re)created surface.
func (c *Controller) Resync() {
	c.bridge.Send(types.ContextSnapshot{Entries: c.contexts.Snapshot()})
	c.bridge.Send(types.ConversationReplay{Turns: c.Turns()})
}

// =============================================================================
// INTERNAL
// =============================================================================

// assembleContext reads every active context file, capped per file, with
// unreadable files replaced by an inline note. One bad file never aborts
// the batch. Reads are sequential.
func (c *Controller) assembleContext() string {
	refs := c.contexts.ActiveRefs()
	if len(refs) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("CONTEXT FILES:\n")
	for _, ref := range refs {
		fmt.Fprintf(&b, "=== %s ===\n", ref)
		data, err := c.fs.ReadBytes(ref)
		if err != nil {
			fmt.Fprintf(&b, "[could not read file: %v]\n", err)
			continue
		}
		content := string(data)
		if runes := []rune(content); len(runes) > c.perFileCap {
			content = string(runes[:c.perFileCap]) + truncationMarker
		}
		b.WriteString(content)
		if !strings.HasSuffix(content, "\n") {
			b.WriteString("\n")
		}
	}
	return b.String()
}

// snapshotSessionLocked builds the SavedSession for the live conversation.
// Returns ok=false when there is nothing to archive.
func (c *Controller) snapshotSessionLocked() (types.SavedSession, bool) {
	if c.conv.Empty() {
		return types.SavedSession{}, false
	}
	id := c.conv.ID
	if id == "" {
		id = uuid.NewString()
	}
	var refs []string
	for _, e := range c.contexts.Snapshot() {
		refs = append(refs, string(e.Ref))
	}
	return types.SavedSession{
		ID:          id,
		Title:       types.DeriveTitle(c.conv.Turns[0].Text),
		CreatedAt:   time.Now(),
		Turns:       append([]types.Turn(nil), c.conv.Turns...),
		ContextRefs: refs,
	}, true
}

func (c *Controller) popTrailingUserTurnLocked() {
	n := len(c.conv.Turns)
	if n > 0 && c.conv.Turns[n-1].Role == types.RoleUser {
		c.conv.Turns = c.conv.Turns[:n-1]
	}
}

// boundedTurns returns the trailing window the gateway is allowed to see.
func boundedTurns(conv *types.Conversation) []types.Turn {
	turns := conv.Turns
	max := conv.MaxTurns
	if max <= 0 {
		max = types.DefaultMaxTurns
	}
	if len(turns) > max {
		turns = turns[len(turns)-max:]
	}
	return append([]types.Turn(nil), turns...)
}

func userMessage(cat types.ErrorCategory, err error) string {
	switch cat {
	case types.ErrAuth:
		return "The API rejected the credential. Re-enter your API key."
	case types.ErrContentSafety:
		return "The response was blocked by the provider's safety filters. Try rephrasing your request."
	case types.ErrRateLimit:
		return "The provider is rate limiting requests. Wait a moment and try again."
	case types.ErrModelLimitation:
		return "The request exceeds the model's limits. Remove some context files or shorten the message."
	case types.ErrNetwork:
		return "Could not reach the provider. Check your connection and try again."
	case types.ErrServer:
		return "The provider reported an internal error. Try again shortly."
	default:
		return fmt.Sprintf("Generation failed: %v", err)
	}
}
