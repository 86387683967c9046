package channel

import (
	"log/slog"
	"strconv"
	"syscall"
	"time"

	"webime/internal/ime"
)

// proto implements the host-to-content calls shared by every variant on top
// of a send function supplied by the transport.
type proto struct {
	*router

	kind         Kind
	send         func(Message) error
	keyTimeout   time.Duration
	replyTimeout time.Duration
}

func newProto(kind Kind, sink Sink, poster Poster, keyTimeout, replyTimeout time.Duration, logger *slog.Logger) *proto {
	return &proto{
		router:       newRouter(sink, poster, logger),
		kind:         kind,
		keyTimeout:   keyTimeout,
		replyTimeout: replyTimeout,
	}
}

// Kind implements Channel.
func (p *proto) Kind() Kind { return p.kind }

func (p *proto) notify(cmd string, args ...any) {
	if err := p.send(NewMessage(TypePlain, cmd, args...)); err != nil {
		p.logger.Debug("notification dropped", "command", cmd, "error", err)
	}
}

// ask sends a query whose reply only refreshes the cache.
func (p *proto) ask(cmd string) {
	if err := p.send(NewMessage(TypeQuery, cmd)); err != nil {
		p.logger.Debug("query dropped", "command", cmd, "error", err)
	}
}

// query sends a query and waits up to timeout for its reply.
func (p *proto) query(cmd string, timeout time.Duration, args ...any) (string, bool) {
	w := p.expect(cmd)
	if err := p.send(NewMessage(TypeQuery, cmd, args...)); err != nil {
		p.forget(cmd, w)
		p.logger.Debug("query dropped", "command", cmd, "error", err)
		return "", false
	}
	return p.await(cmd, w, timeout)
}

func (p *proto) FocusIn(ic ime.InputContext)  { p.notify(CmdFocusIn, int32(ic)) }
func (p *proto) FocusOut(ic ime.InputContext) { p.notify(CmdFocusOut, int32(ic)) }
func (p *proto) Show(ic ime.InputContext)     { p.notify(CmdShow, int32(ic)) }
func (p *proto) Hide(ic ime.InputContext)     { p.notify(CmdHide, int32(ic)) }
func (p *proto) SetRotation(degree int)       { p.notify(CmdSetRotation, degree) }

func (p *proto) UpdateCursorPosition(ic ime.InputContext, pos int) {
	p.notify(CmdUpdateCursorPosition, int32(ic), pos)
}

// UpdateSurroundingText sends the cursor first; the text runs to the end of
// the frame.
func (p *proto) UpdateSurroundingText(_ ime.InputContext, text string, cursor int) {
	p.notify(CmdUpdateSurroundingText, cursor, text)
}

func (p *proto) UpdateSelection(_ ime.InputContext, text string) {
	p.notify(CmdUpdateSelection, text)
}

func (p *proto) SetLanguage(lang uint32) { p.notify(CmdSetLanguage, lang) }

func (p *proto) SetIMData(data []byte) {
	p.setIMData(data)
	p.notify(CmdSetIMData, string(data), len(data))
}

// GetIMData asks the content for its data and falls back to the last known
// value when no reply arrives in time.
func (p *proto) GetIMData() []byte {
	if v, ok := p.query(CmdGetIMData, p.replyTimeout); ok {
		return []byte(v)
	}
	return p.cachedIMData()
}

func (p *proto) SetReturnKeyType(t ime.ReturnKeyType) {
	p.setReturnKeyType(t)
	p.notify(CmdSetReturnKeyType, t.String())
}

func (p *proto) GetReturnKeyType() ime.ReturnKeyType {
	p.ask(CmdGetReturnKeyType)
	return p.cachedReturnKeyType()
}

func (p *proto) SetReturnKeyDisabled(disabled bool) {
	p.setReturnKeyDisabled(disabled)
	p.notify(CmdSetReturnKeyDisable, strconv.FormatBool(disabled))
}

func (p *proto) GetReturnKeyDisabled() bool {
	p.ask(CmdGetReturnKeyDisable)
	return p.cachedReturnKeyDisabled()
}

func (p *proto) SetLayout(l ime.Layout) {
	p.setLayout(l)
	p.notify(CmdSetLayout, l.String())
}

func (p *proto) GetLayout() ime.Layout {
	p.ask(CmdGetLayout)
	return p.cachedLayout()
}

func (p *proto) ResetInputContext(ic ime.InputContext) {
	p.notify(CmdResetInputContext, int32(ic))
}

// ProcessKeyEvent offers a key to the content and waits at most the key
// event timeout for its verdict.
func (p *proto) ProcessKeyEvent(code, mask, layout uint32) ime.KeyResult {
	v, ok := p.query(CmdProcessKeyEvent, p.keyTimeout, code, mask, layout)
	if !ok {
		return ime.KeyNotConsumed
	}
	return parseKeyResult(v)
}

func (p *proto) Signal(sig syscall.Signal) {
	p.logger.Debug("signal", "signal", sig.String())
}
