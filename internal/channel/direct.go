package channel

import (
	"log/slog"
	"strings"
	"sync/atomic"
	"time"
)

// ScriptRunner evaluates scripts in the content.
type ScriptRunner interface {
	RunScript(command string, onResult func(result string)) bool
}

// DirectEntry is the content function that receives protocol frames when no
// socket is involved.
const DirectEntry = "WebHelperClient.impl.defaultHandler"

// Direct talks to the content in process: frames are passed to the content's
// message handler as script calls, and the container hands content frames
// back through Deliver.
type Direct struct {
	*proto

	runner ScriptRunner
	live   atomic.Bool
	exited atomic.Bool
}

// NewDirect creates a direct channel over runner.
func NewDirect(runner ScriptRunner, sink Sink, poster Poster, keyTimeout, replyTimeout time.Duration, logger *slog.Logger) *Direct {
	d := &Direct{
		proto:  newProto(KindDirect, sink, poster, keyTimeout, replyTimeout, logger),
		runner: runner,
	}
	d.proto.send = d.send
	return d
}

// Init marks the channel live and sends init.
func (d *Direct) Init() bool {
	if d.exited.Load() {
		return false
	}
	if d.live.CompareAndSwap(false, true) {
		d.notify(CmdInit)
	}
	return true
}

// Exit sends exit and stops all traffic. Later calls do nothing.
func (d *Direct) Exit() bool {
	if !d.exited.CompareAndSwap(false, true) {
		return true
	}
	if d.live.Load() {
		d.notify(CmdExit)
	}
	d.live.Store(false)
	d.router.close()
	return true
}

// Deliver accepts a frame produced by the content. Safe to call from any
// goroutine.
func (d *Direct) Deliver(frame string) {
	if !d.live.Load() {
		return
	}
	m, err := ParseMessage(frame)
	if err != nil {
		d.logger.Debug("dropping frame", "error", err)
		return
	}
	d.handle(m)
}

func (d *Direct) send(m Message) error {
	if !d.live.Load() {
		return ErrClosed
	}
	if !d.runner.RunScript(DirectEntry+"('"+escapeScript(m.Encode())+"');", nil) {
		return &ChannelError{Kind: KindDirect, Op: "run " + m.Command, Err: ErrClosed}
	}
	return nil
}

var scriptEscaper = strings.NewReplacer(
	`\`, `\\`,
	`'`, `\'`,
	"\n", `\n`,
	"\r", `\r`,
	"\u2028", `\u2028`,
	"\u2029", `\u2029`,
)

// escapeScript makes s safe inside a single-quoted script literal.
func escapeScript(s string) string {
	return scriptEscaper.Replace(s)
}
