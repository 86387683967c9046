// Package channel carries IME events to the web content and content
// commands back to the host over a negotiated transport.
package channel

import (
	"errors"
	"fmt"
	"syscall"

	"webime/internal/ime"
)

// Kind identifies a channel implementation.
type Kind int

const (
	KindNone Kind = iota
	KindDirect
	KindWebSocket
)

func (k Kind) String() string {
	switch k {
	case KindDirect:
		return "direct"
	case KindWebSocket:
		return "websocket"
	}
	return "none"
}

// ErrClosed is returned by operations on a channel that has exited.
var ErrClosed = errors.New("channel closed")

// ChannelError reports a transport failure in a specific channel variant.
type ChannelError struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("channel %s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *ChannelError) Unwrap() error { return e.Err }

// Channel is the host-to-content half of the protocol. Notifications are
// fire-and-forget; the getters and ProcessKeyEvent wait at most a bounded
// time and fall back to cached values or KeyNotConsumed.
type Channel interface {
	Kind() Kind
	Init() bool
	Exit() bool

	FocusIn(ic ime.InputContext)
	FocusOut(ic ime.InputContext)
	Show(ic ime.InputContext)
	Hide(ic ime.InputContext)
	SetRotation(degree int)
	UpdateCursorPosition(ic ime.InputContext, pos int)
	UpdateSurroundingText(ic ime.InputContext, text string, cursor int)
	UpdateSelection(ic ime.InputContext, text string)
	SetLanguage(lang uint32)
	SetIMData(data []byte)
	GetIMData() []byte
	SetReturnKeyType(t ime.ReturnKeyType)
	GetReturnKeyType() ime.ReturnKeyType
	SetReturnKeyDisabled(disabled bool)
	GetReturnKeyDisabled() bool
	SetLayout(l ime.Layout)
	GetLayout() ime.Layout
	ResetInputContext(ic ime.InputContext)
	ProcessKeyEvent(code, mask, layout uint32) ime.KeyResult
	Signal(sig syscall.Signal)
}

// Sink receives content-originated commands. Calls arrive on the control loop.
type Sink interface {
	Log(msg string)
	CommitString(text string)
	UpdatePreeditString(text string)
	SendKeyEvent(code uint32)
	ForwardKeyEvent(code uint32)
	SetKeyboardSizes(portraitW, portraitH, landscapeW, landscapeH int)
	SetSelection(start, end int)
	GetSelection()
	GetSurroundingText(maxBefore, maxAfter int)
	DeleteSurroundingText(offset, length int)
}

// Factory constructs a channel of the given kind. It returns nil for kinds
// it cannot build.
type Factory func(kind Kind) Channel
