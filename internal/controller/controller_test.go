package controller

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"sidekick/internal/contextset"
	"sidekick/internal/gemini"
	"sidekick/internal/locator"
	"sidekick/internal/types"
	"sidekick/internal/workspace"
)

// =============================================================================
// FAKES
// =============================================================================

type fakeGateway struct {
	mu    sync.Mutex
	key   string
	calls [][]types.Turn
	run   func(ctx context.Context, out chan<- string) error
}

func (g *fakeGateway) SetAPIKey(k string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.key = k
}

func (g *fakeGateway) Stream(ctx context.Context, turns []types.Turn, _ string) (<-chan string, <-chan error) {
	g.mu.Lock()
	g.calls = append(g.calls, append([]types.Turn(nil), turns...))
	run := g.run
	g.mu.Unlock()

	out := make(chan string)
	errs := make(chan error, 1)
	go func() {
		defer close(out)
		errs <- run(ctx, out)
	}()
	return out, errs
}

func (g *fakeGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

func (g *fakeGateway) lastCall() []types.Turn {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.calls) == 0 {
		return nil
	}
	return g.calls[len(g.calls)-1]
}

type recordingBridge struct {
	mu   sync.Mutex
	msgs []types.Message
}

func (b *recordingBridge) Send(msg types.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.msgs = append(b.msgs, msg)
}

func (b *recordingBridge) messages() []types.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]types.Message(nil), b.msgs...)
}

func (b *recordingBridge) chunks() string {
	var sb strings.Builder
	for _, m := range b.messages() {
		if c, ok := m.(types.StreamChunk); ok {
			sb.WriteString(c.Text)
		}
	}
	return sb.String()
}

func (b *recordingBridge) lastError() (types.ErrorNotice, bool) {
	var notice types.ErrorNotice
	found := false
	for _, m := range b.messages() {
		if e, ok := m.(types.ErrorNotice); ok {
			notice = e
			found = true
		}
	}
	return notice, found
}

type fakeHistory struct {
	mu    sync.Mutex
	saved []types.SavedSession
}

func (h *fakeHistory) Save(sess types.SavedSession) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.saved = append(h.saved, sess)
	return nil
}

func (h *fakeHistory) List() ([]types.SessionSummary, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []types.SessionSummary
	for _, s := range h.saved {
		out = append(out, types.SessionSummary{ID: s.ID, Title: s.Title, CreatedAt: s.CreatedAt})
	}
	return out, nil
}

func (h *fakeHistory) Load(id string) (*types.SavedSession, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, s := range h.saved {
		if s.ID == id {
			copied := s
			return &copied, nil
		}
	}
	return nil, errors.New("no such session")
}

type fakeFS struct {
	files  map[types.FileRef]string
	onRead func(types.FileRef)
}

func (f *fakeFS) ReadBytes(ref types.FileRef) ([]byte, error) {
	if f.onRead != nil {
		f.onRead(ref)
	}
	content, ok := f.files[ref]
	if !ok {
		return nil, workspace.ErrNotFound
	}
	return []byte(content), nil
}

func (f *fakeFS) ListFiles(string, string, int) ([]types.FileRef, error) {
	var out []types.FileRef
	for ref := range f.files {
		out = append(out, ref)
	}
	return out, nil
}

type fakeEditor struct {
	mu        sync.Mutex
	active    types.FileRef
	selection *workspace.Selection
	tabs      []types.FileRef
	inserted  []string
	replaced  []string
	rejectAll bool
}

func (e *fakeEditor) ActiveFile() types.FileRef {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

func (e *fakeEditor) ActiveSelection() *workspace.Selection {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.selection
}

func (e *fakeEditor) ReplaceRange(ref types.FileRef, _ workspace.Range, text string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.rejectAll {
		return false
	}
	e.replaced = append(e.replaced, fmt.Sprintf("%s:%s", ref, text))
	return true
}

func (e *fakeEditor) OpenTabs() []types.FileRef {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tabs
}

func (e *fakeEditor) InsertAtCursor(text string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.rejectAll {
		return false
	}
	e.inserted = append(e.inserted, text)
	return true
}

type fakeSecrets struct {
	mu   sync.Mutex
	vals map[string]string
}

func (s *fakeSecrets) Get(key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.vals[key], nil
}

func (s *fakeSecrets) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.vals == nil {
		s.vals = map[string]string{}
	}
	s.vals[key] = value
	return nil
}

// =============================================================================
// HARNESS
// =============================================================================

type harness struct {
	ctrl    *Controller
	gateway *fakeGateway
	bridge  *recordingBridge
	history *fakeHistory
	store   *contextset.Store
	fs      *fakeFS
	editor  *fakeEditor
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	fs := &fakeFS{files: map[types.FileRef]string{}}
	editor := &fakeEditor{}
	gateway := &fakeGateway{
		run: func(_ context.Context, out chan<- string) error {
			out <- "ok"
			return nil
		},
	}
	bridge := &recordingBridge{}
	hist := &fakeHistory{}
	store := contextset.NewStore(zap.NewNop())
	ctrl := New(Options{
		Contexts: store,
		Sessions: hist,
		Gateway:  gateway,
		Secrets:  &fakeSecrets{vals: map[string]string{"gemini_api_key": "test-key"}},
		FS:       fs,
		Editor:   editor,
		Locator:  locator.New(fs, editor),
		Bridge:   bridge,
		Logger:   zap.NewNop(),
	})
	return &harness{ctrl: ctrl, gateway: gateway, bridge: bridge, history: hist, store: store, fs: fs, editor: editor}
}

func (h *harness) waitIdle(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool {
		return h.ctrl.State() == StateIdle
	}, 2*time.Second, 2*time.Millisecond, "controller never returned to idle")
}

// =============================================================================
// TESTS
// =============================================================================

func TestSubmitStreamsAndAppendsModelTurn(t *testing.T) {
	h := newHarness(t)
	h.gateway.run = func(_ context.Context, out chan<- string) error {
		out <- "Hello"
		out <- ", world"
		return nil
	}

	h.ctrl.Submit("hi there")
	h.waitIdle(t)

	assert.Equal(t, "Hello, world", h.bridge.chunks())

	turns := h.ctrl.Turns()
	require.Len(t, turns, 2)
	assert.Equal(t, types.RoleUser, turns[0].Role)
	assert.Equal(t, "hi there", turns[0].Text)
	assert.Equal(t, types.RoleModel, turns[1].Role)
	assert.Equal(t, "Hello, world", turns[1].Text)

	// Phase notifications surround the chunks in order.
	var kinds []string
	for _, m := range h.bridge.messages() {
		kinds = append(kinds, fmt.Sprintf("%T", m))
	}
	assert.Equal(t, []string{
		"types.ThinkingStarted",
		"types.ThinkingEnded",
		"types.StreamStarted",
		"types.StreamChunk",
		"types.StreamChunk",
		"types.StreamEnded",
	}, kinds)
}

func TestSubmitWhileStreamingIsRejected(t *testing.T) {
	h := newHarness(t)
	release := make(chan struct{})
	h.gateway.run = func(_ context.Context, out chan<- string) error {
		<-release
		out <- "done"
		return nil
	}

	h.ctrl.Submit("first")
	require.Eventually(t, func() bool { return h.ctrl.State() == StateStreaming }, time.Second, time.Millisecond)

	h.ctrl.Submit("second")
	assert.Equal(t, 1, h.gateway.callCount(), "rejected submit must not reach the gateway")

	close(release)
	h.waitIdle(t)

	turns := h.ctrl.Turns()
	require.Len(t, turns, 2)
	assert.Equal(t, "first", turns[0].Text)
}

func TestCancelLeavesTranscriptUnchanged(t *testing.T) {
	h := newHarness(t)

	// Seed one completed exchange first.
	h.ctrl.Submit("q1")
	h.waitIdle(t)
	before := h.ctrl.Turns()

	started := make(chan struct{})
	h.gateway.run = func(ctx context.Context, out chan<- string) error {
		out <- "partial"
		close(started)
		<-ctx.Done()
		return &gemini.Error{Category: types.ErrCancelled, Message: "stopped"}
	}

	h.ctrl.Submit("q2")
	<-started
	h.ctrl.CancelGeneration()
	h.waitIdle(t)

	assert.Equal(t, before, h.ctrl.Turns(), "cancel must roll back to pre-submit transcript")

	msgs := h.bridge.messages()
	last := msgs[len(msgs)-1]
	ended, ok := last.(types.StreamEnded)
	require.True(t, ok, "last message should be StreamEnded, got %T", last)
	assert.True(t, ended.Cancelled)
	_, hadNotice := h.bridge.lastError()
	assert.False(t, hadNotice, "cancellation is not an error")
}

func TestGatewayFailureRollsBackUserTurn(t *testing.T) {
	h := newHarness(t)
	h.gateway.run = func(context.Context, chan<- string) error {
		return &gemini.Error{Category: types.ErrServer, Message: "backend unavailable"}
	}

	h.ctrl.Submit("doomed")
	h.waitIdle(t)

	assert.Empty(t, h.ctrl.Turns(), "failed exchange leaves no orphan user turn")
	notice, ok := h.bridge.lastError()
	require.True(t, ok)
	assert.Equal(t, types.ErrServer, notice.Category)
}

func TestSafetyBlockAfterPartialOutput(t *testing.T) {
	h := newHarness(t)
	h.gateway.run = func(_ context.Context, out chan<- string) error {
		out <- "some partial text"
		return &gemini.Error{Category: types.ErrContentSafety, Message: "blocked"}
	}

	h.ctrl.Submit("risky")
	h.waitIdle(t)

	assert.Empty(t, h.ctrl.Turns(), "blocked response must not be committed")
	notice, ok := h.bridge.lastError()
	require.True(t, ok)
	assert.Equal(t, types.ErrContentSafety, notice.Category)

	// The terminal sequence lets the surface discard its partial render
	// and resync: StreamEnded{Failed}, the notice, then a replay of the
	// rolled-back transcript.
	msgs := h.bridge.messages()
	require.GreaterOrEqual(t, len(msgs), 3)
	ended, ok := msgs[len(msgs)-3].(types.StreamEnded)
	require.True(t, ok, "expected StreamEnded, got %T", msgs[len(msgs)-3])
	assert.True(t, ended.Failed)
	assert.False(t, ended.Cancelled)
	replay, ok := msgs[len(msgs)-1].(types.ConversationReplay)
	require.True(t, ok, "expected trailing ConversationReplay, got %T", msgs[len(msgs)-1])
	assert.Empty(t, replay.Turns, "replay carries the rolled-back transcript")
}

func TestFailureReplaysRolledBackTranscript(t *testing.T) {
	h := newHarness(t)

	// One completed exchange, then a failing one.
	h.ctrl.Submit("q1")
	h.waitIdle(t)
	before := h.ctrl.Turns()

	h.gateway.run = func(_ context.Context, out chan<- string) error {
		out <- "doomed partial"
		return &gemini.Error{Category: types.ErrServer, Message: "backend unavailable"}
	}
	h.ctrl.Submit("q2")
	h.waitIdle(t)

	msgs := h.bridge.messages()
	replay, ok := msgs[len(msgs)-1].(types.ConversationReplay)
	require.True(t, ok, "expected trailing ConversationReplay, got %T", msgs[len(msgs)-1])
	assert.Equal(t, before, replay.Turns, "replay matches the pre-submit transcript")
	assert.Equal(t, before, h.ctrl.Turns())
}

func TestMissingAPIKey(t *testing.T) {
	h := newHarness(t)
	h.ctrl = New(Options{
		Contexts: contextset.NewStore(zap.NewNop()),
		Sessions: h.history,
		Gateway:  h.gateway,
		Secrets:  &fakeSecrets{},
		FS:       h.fs,
		Editor:   h.editor,
		Locator:  locator.New(h.fs, h.editor),
		Bridge:   h.bridge,
	})

	h.ctrl.Submit("hello")
	h.waitIdle(t)

	assert.Zero(t, h.gateway.callCount())
	notice, ok := h.bridge.lastError()
	require.True(t, ok)
	assert.Equal(t, types.ErrAuth, notice.Category)
}

func TestContextBakedIntoFirstTurnOnly(t *testing.T) {
	h := newHarness(t)
	h.fs.files["main.go"] = "package main\n"
	require.True(t, h.ctrl.AddContext("main.go"))

	h.ctrl.Submit("what does this do")
	h.waitIdle(t)

	first := h.gateway.lastCall()[0].Text
	assert.Contains(t, first, "CONTEXT FILES:")
	assert.Contains(t, first, "=== main.go ===")
	assert.Contains(t, first, "package main")
	assert.Contains(t, first, types.QueryMarker)
	assert.Contains(t, first, "what does this do")

	h.ctrl.Submit("and this")
	h.waitIdle(t)

	call := h.gateway.lastCall()
	followUp := call[len(call)-1].Text
	assert.Equal(t, "and this", followUp, "follow-up turns carry no context block")
}

func TestContextFileTruncatedAtCap(t *testing.T) {
	h := newHarness(t)
	h.fs.files["big.txt"] = strings.Repeat("x", defaultPerFileCap+500)
	h.fs.files["gone.txt"] = "whatever"
	require.True(t, h.ctrl.AddContext("big.txt"))
	require.True(t, h.ctrl.AddContext("gone.txt"))
	delete(h.fs.files, "gone.txt")

	h.ctrl.Submit("summarize")
	h.waitIdle(t)

	first := h.gateway.lastCall()[0].Text
	assert.Contains(t, first, truncationMarker)
	assert.NotContains(t, first, strings.Repeat("x", defaultPerFileCap+1))
	assert.Contains(t, first, "[could not read file:", "unreadable file becomes an inline note")
	assert.Contains(t, first, types.QueryMarker, "one bad file does not abort the submit")
}

func TestContextChangeInvalidatesConversation(t *testing.T) {
	h := newHarness(t)
	h.fs.files["a.go"] = "a"
	h.ctrl.Submit("q1")
	h.waitIdle(t)
	require.Len(t, h.ctrl.Turns(), 2)

	h.ctrl.AddContext("a.go")
	assert.Empty(t, h.ctrl.Turns(), "context mutation clears the transcript")
}

func TestAutoToggleDoesNotInvalidate(t *testing.T) {
	h := newHarness(t)
	h.editor.active = "focused.go"
	h.ctrl.TrackEditor()

	h.ctrl.Submit("q1")
	h.waitIdle(t)
	require.Len(t, h.ctrl.Turns(), 2)

	h.ctrl.ToggleAutoContext()
	assert.Len(t, h.ctrl.Turns(), 2, "eye toggle preserves the transcript")
}

func TestContextChangeDuringAssemblyDropsSubmit(t *testing.T) {
	h := newHarness(t)
	h.fs.files["a.go"] = "a"
	h.fs.files["b.go"] = "b"
	require.True(t, h.ctrl.AddContext("a.go"))

	// A watcher-style mutation lands while the context block is being
	// read: the prompt under assembly no longer reflects the context set.
	mutated := false
	h.fs.onRead = func(types.FileRef) {
		if !mutated {
			mutated = true
			h.ctrl.AddContext("b.go")
		}
	}

	h.ctrl.Submit("stale question")

	assert.Equal(t, StateIdle, h.ctrl.State())
	assert.Zero(t, h.gateway.callCount(), "dropped submit must not reach the gateway")
	assert.Empty(t, h.ctrl.Turns(), "no user turn lands in the invalidated conversation")

	for _, m := range h.bridge.messages() {
		if _, ok := m.(types.StreamStarted); ok {
			t.Fatal("dropped submit must not open a stream")
		}
	}
}

func TestMidStreamInvalidationDropsModelTurn(t *testing.T) {
	h := newHarness(t)
	h.fs.files["x.go"] = "x"
	release := make(chan struct{})
	h.gateway.run = func(_ context.Context, out chan<- string) error {
		out <- "chunk"
		<-release
		return nil
	}

	h.ctrl.Submit("q1")
	require.Eventually(t, func() bool { return h.ctrl.State() == StateStreaming }, time.Second, time.Millisecond)

	h.ctrl.AddContext("x.go")
	close(release)
	h.waitIdle(t)

	assert.Empty(t, h.ctrl.Turns(), "a stream finishing into a cleared conversation commits nothing")
}

func TestTranscriptBoundedByMaxTurns(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < types.DefaultMaxTurns; i++ {
		h.ctrl.Submit(fmt.Sprintf("question %d", i))
		h.waitIdle(t)
	}

	turns := h.ctrl.Turns()
	require.Len(t, turns, types.DefaultMaxTurns)
	// Oldest turns are gone; the tail is intact and alternating.
	assert.Equal(t, types.RoleUser, turns[0].Role)
	assert.Equal(t, fmt.Sprintf("question %d", types.DefaultMaxTurns-1), turns[len(turns)-2].Text)
}

func TestNewChatArchivesAndResets(t *testing.T) {
	h := newHarness(t)
	h.fs.files["ctx.go"] = "c"
	h.ctrl.AddContext("ctx.go")
	h.ctrl.Submit("remember this conversation please")
	h.waitIdle(t)

	require.NoError(t, h.ctrl.NewChat())

	assert.Empty(t, h.ctrl.Turns())
	assert.Empty(t, h.store.Snapshot(), "context set resets with the chat")

	require.Len(t, h.history.saved, 1)
	sess := h.history.saved[0]
	assert.Equal(t, "remember this conversation please", sess.Title)
	assert.Len(t, sess.Turns, 2)
	assert.Equal(t, []string{"ctx.go"}, sess.ContextRefs)
}

func TestNewChatSkipsEmptyConversation(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.ctrl.NewChat())
	assert.Empty(t, h.history.saved)
}

func TestLoadSessionRoundTrip(t *testing.T) {
	h := newHarness(t)
	h.fs.files["lib.go"] = "lib"
	h.ctrl.AddContext("lib.go")
	h.ctrl.Submit("original question")
	h.waitIdle(t)
	want := h.ctrl.Turns()
	require.NoError(t, h.ctrl.NewChat())
	id := h.history.saved[0].ID

	require.NoError(t, h.ctrl.LoadSession(id))

	assert.Equal(t, want, h.ctrl.Turns(), "restored transcript matches the archived one")

	entries := h.store.Snapshot()
	require.Len(t, entries, 1)
	assert.Equal(t, types.FileRef("lib.go"), entries[0].Ref)
	assert.Equal(t, types.OriginManual, entries[0].Origin, "restored refs are pinned as manual")

	msgs := h.bridge.messages()
	replay, ok := msgs[len(msgs)-1].(types.ConversationReplay)
	require.True(t, ok, "load ends with a replay, got %T", msgs[len(msgs)-1])
	assert.Equal(t, want, replay.Turns)
}

func TestLoadSessionRefusedWhileStreaming(t *testing.T) {
	h := newHarness(t)
	h.ctrl.Submit("seed")
	h.waitIdle(t)
	require.NoError(t, h.ctrl.NewChat())
	id := h.history.saved[0].ID

	release := make(chan struct{})
	h.gateway.run = func(_ context.Context, out chan<- string) error {
		<-release
		return nil
	}
	h.ctrl.Submit("busy")
	require.Eventually(t, func() bool { return h.ctrl.State() == StateStreaming }, time.Second, time.Millisecond)

	assert.Error(t, h.ctrl.LoadSession(id))
	close(release)
	h.waitIdle(t)
}

func TestApplySelectionEdit(t *testing.T) {
	h := newHarness(t)

	assert.False(t, h.ctrl.ApplySelectionEdit("new code"), "no selection, no edit")

	h.editor.selection = &workspace.Selection{Ref: "sel.go", Text: "old"}
	require.True(t, h.ctrl.ApplySelectionEdit("new code"))
	assert.Equal(t, []string{"sel.go:new code"}, h.editor.replaced)

	msgs := h.bridge.messages()
	ended, ok := msgs[len(msgs)-1].(types.StreamEnded)
	require.True(t, ok)
	assert.True(t, ended.SelectionEdit)
}

func TestResyncPushesFullState(t *testing.T) {
	h := newHarness(t)
	h.fs.files["r.go"] = "r"
	h.ctrl.AddContext("r.go")
	h.ctrl.Submit("hello")
	h.waitIdle(t)

	before := len(h.bridge.messages())
	h.ctrl.Resync()
	msgs := h.bridge.messages()[before:]
	require.Len(t, msgs, 2)

	snap, ok := msgs[0].(types.ContextSnapshot)
	require.True(t, ok)
	assert.Len(t, snap.Entries, 1)

	replay, ok := msgs[1].(types.ConversationReplay)
	require.True(t, ok)
	assert.Len(t, replay.Turns, 2)
}

func TestCloseArchivesLiveConversation(t *testing.T) {
	h := newHarness(t)
	h.ctrl.Submit("persist me")
	h.waitIdle(t)

	require.NoError(t, h.ctrl.Close())
	require.Len(t, h.history.saved, 1)
	assert.Equal(t, "persist me", h.history.saved[0].Title)
}
