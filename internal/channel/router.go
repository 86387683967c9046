package channel

import (
	"log/slog"
	"strconv"
	"sync"
	"time"

	"webime/internal/ime"
)

// Poster schedules work on the control loop.
type Poster interface {
	Post(fn func()) bool
}

type waiter struct {
	ch chan string
}

// router matches replies to pending queries and hands plain commands to the
// sink on the control loop. It also caches the last known content state so
// getters can answer without a round trip.
type router struct {
	sink   Sink
	poster Poster
	logger *slog.Logger

	mu      sync.Mutex
	waiters map[string][]*waiter
	closed  bool

	imdata            []byte
	returnKeyType     ime.ReturnKeyType
	returnKeyDisabled bool
	layout            ime.Layout
}

func newRouter(sink Sink, poster Poster, logger *slog.Logger) *router {
	return &router{
		sink:    sink,
		poster:  poster,
		logger:  logger,
		waiters: make(map[string][]*waiter),
	}
}

// expect registers a waiter for the next reply to cmd.
func (r *router) expect(cmd string) *waiter {
	w := &waiter{ch: make(chan string, 1)}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		close(w.ch)
		return w
	}
	r.waiters[cmd] = append(r.waiters[cmd], w)
	return w
}

// forget drops w if it is still queued.
func (r *router) forget(cmd string, w *waiter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	q := r.waiters[cmd]
	for i, x := range q {
		if x == w {
			r.waiters[cmd] = append(q[:i:i], q[i+1:]...)
			return
		}
	}
}

// await blocks until w is answered, the timeout expires or the channel
// closes.
func (r *router) await(cmd string, w *waiter, timeout time.Duration) (string, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case v, ok := <-w.ch:
		return v, ok
	case <-timer.C:
		r.forget(cmd, w)
		r.logger.Debug("query timed out", "command", cmd, "timeout", timeout)
		return "", false
	}
}

// close fails every pending waiter and rejects new ones.
func (r *router) close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	for cmd, q := range r.waiters {
		for _, w := range q {
			close(w.ch)
		}
		delete(r.waiters, cmd)
	}
}

func (r *router) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// handle routes one inbound message. It may be called from any goroutine.
func (r *router) handle(m Message) {
	switch m.Type {
	case TypeReply:
		r.reply(m)
	case TypePlain:
		r.poster.Post(func() {
			if r.isClosed() {
				r.logger.Debug("dropping command for closed channel", "command", m.Command)
				return
			}
			r.dispatch(m)
		})
	default:
		r.logger.Debug("ignoring inbound message", "type", string(m.Type), "command", m.Command)
	}
}

func (r *router) reply(m Message) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch m.Command {
	case CmdGetIMData:
		r.imdata = []byte(m.Payload)
	case CmdGetReturnKeyType:
		if t, ok := ime.ParseReturnKeyType(m.Payload); ok {
			r.returnKeyType = t
		}
	case CmdGetReturnKeyDisable:
		r.returnKeyDisabled = m.Payload == "true"
	case CmdGetLayout:
		if l, ok := ime.ParseLayout(m.Payload); ok {
			r.layout = l
		}
	}

	q := r.waiters[m.Command]
	if len(q) == 0 {
		return
	}
	w := q[0]
	r.waiters[m.Command] = q[1:]
	w.ch <- m.Payload
}

// dispatch delivers a content command to the sink. Runs on the control loop.
func (r *router) dispatch(m Message) {
	switch m.Command {
	case CmdLog:
		r.sink.Log(m.Payload)
	case CmdCommitString:
		r.sink.CommitString(m.Payload)
	case CmdUpdatePreeditString:
		r.sink.UpdatePreeditString(m.Payload)
	case CmdSendKeyEvent, CmdForwardKeyEvent:
		v, err := m.IntArgs(1)
		if err != nil {
			r.logger.Warn("bad key event", "error", err)
			return
		}
		if m.Command == CmdSendKeyEvent {
			r.sink.SendKeyEvent(uint32(v[0]))
		} else {
			r.sink.ForwardKeyEvent(uint32(v[0]))
		}
	case CmdSetKeyboardSizes:
		v, err := m.IntArgs(4)
		if err != nil {
			r.logger.Warn("bad keyboard sizes", "error", err)
			return
		}
		r.sink.SetKeyboardSizes(v[0], v[1], v[2], v[3])
	case CmdSetSelection, CmdGetSurroundingText, CmdDeleteSurroundingText:
		v, err := m.IntArgs(2)
		if err != nil {
			r.logger.Warn("bad arguments", "error", err)
			return
		}
		switch m.Command {
		case CmdSetSelection:
			r.sink.SetSelection(v[0], v[1])
		case CmdGetSurroundingText:
			r.sink.GetSurroundingText(v[0], v[1])
		default:
			r.sink.DeleteSurroundingText(v[0], v[1])
		}
	case CmdGetSelection:
		r.sink.GetSelection()
	default:
		r.logger.Debug("unknown content command", "command", m.Command)
	}
}

func (r *router) setIMData(b []byte) {
	r.mu.Lock()
	r.imdata = append([]byte(nil), b...)
	r.mu.Unlock()
}

func (r *router) cachedIMData() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]byte(nil), r.imdata...)
}

func (r *router) setReturnKeyType(t ime.ReturnKeyType) {
	r.mu.Lock()
	r.returnKeyType = t
	r.mu.Unlock()
}

func (r *router) cachedReturnKeyType() ime.ReturnKeyType {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.returnKeyType
}

func (r *router) setReturnKeyDisabled(v bool) {
	r.mu.Lock()
	r.returnKeyDisabled = v
	r.mu.Unlock()
}

func (r *router) cachedReturnKeyDisabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.returnKeyDisabled
}

func (r *router) setLayout(l ime.Layout) {
	r.mu.Lock()
	r.layout = l
	r.mu.Unlock()
}

func (r *router) cachedLayout() ime.Layout {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.layout
}

func parseKeyResult(payload string) ime.KeyResult {
	if ok, err := strconv.ParseBool(payload); err == nil && ok {
		return ime.KeyConsumed
	}
	return ime.KeyNotConsumed
}
