package ui

import (
	tea "github.com/charmbracelet/bubbletea"

	"sidekick/internal/types"
)

// BridgeMsg wraps one engine message for the tea update loop.
type BridgeMsg struct {
	Msg types.Message
}

// Bridge carries engine pushes into the tea program. It satisfies the
// controller's outbound interface on one side and feeds Update on the
// other, keeping the surface fully decoupled from the engine.
type Bridge struct {
	ch chan types.Message
}

// NewBridge returns a bridge with a generous buffer so the engine's
// streaming goroutine never stalls behind a slow redraw.
func NewBridge() *Bridge {
	return &Bridge{ch: make(chan types.Message, 256)}
}

// Send implements the engine's outbound channel.
func (b *Bridge) Send(msg types.Message) {
	select {
	case b.ch <- msg:
	default:
		// A surface that stopped draining loses pushes rather than
		// wedging the engine. The next Resync restores full state.
	}
}

// Wait returns a command that delivers the next engine message.
func (b *Bridge) Wait() tea.Cmd {
	return func() tea.Msg {
		return BridgeMsg{Msg: <-b.ch}
	}
}
