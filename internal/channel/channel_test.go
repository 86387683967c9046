package channel

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webime/internal/ime"
	"webime/internal/logging"
)

type inlinePoster struct{}

func (inlinePoster) Post(fn func()) bool { fn(); return true }

// queuePoster holds posted work until drain, like a busy control loop.
type queuePoster struct {
	mu    sync.Mutex
	queue []func()
}

func (q *queuePoster) Post(fn func()) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.queue = append(q.queue, fn)
	return true
}

func (q *queuePoster) drain() {
	q.mu.Lock()
	queue := q.queue
	q.queue = nil
	q.mu.Unlock()
	for _, fn := range queue {
		fn()
	}
}

type recordingSink struct {
	mu    sync.Mutex
	calls []string
	got   chan string
}

func newRecordingSink() *recordingSink {
	return &recordingSink{got: make(chan string, 32)}
}

func (s *recordingSink) record(call string) {
	s.mu.Lock()
	s.calls = append(s.calls, call)
	s.mu.Unlock()
	s.got <- call
}

func (s *recordingSink) Log(msg string)                  { s.record("log:" + msg) }
func (s *recordingSink) CommitString(text string)        { s.record("commit:" + text) }
func (s *recordingSink) UpdatePreeditString(text string) { s.record("preedit:" + text) }
func (s *recordingSink) SendKeyEvent(code uint32)        { s.record("send_key:" + strconv.Itoa(int(code))) }
func (s *recordingSink) ForwardKeyEvent(code uint32)     { s.record("forward_key:" + strconv.Itoa(int(code))) }
func (s *recordingSink) SetKeyboardSizes(pw, ph, lw, lh int) {
	s.record("sizes:" + strings.Join([]string{strconv.Itoa(pw), strconv.Itoa(ph), strconv.Itoa(lw), strconv.Itoa(lh)}, ","))
}
func (s *recordingSink) SetSelection(start, end int) { s.record("set_selection:" + strconv.Itoa(start) + "," + strconv.Itoa(end)) }
func (s *recordingSink) GetSelection()               { s.record("get_selection") }
func (s *recordingSink) GetSurroundingText(before, after int) {
	s.record("get_surrounding:" + strconv.Itoa(before) + "," + strconv.Itoa(after))
}
func (s *recordingSink) DeleteSurroundingText(offset, length int) {
	s.record("delete_surrounding:" + strconv.Itoa(offset) + "," + strconv.Itoa(length))
}

func (s *recordingSink) next(t *testing.T) string {
	t.Helper()
	select {
	case c := <-s.got:
		return c
	case <-time.After(5 * time.Second):
		t.Fatal("no sink call")
		return ""
	}
}

func TestParseMessage(t *testing.T) {
	m, err := ParseMessage("plain commit_string hello  world")
	require.NoError(t, err)
	assert.Equal(t, TypePlain, m.Type)
	assert.Equal(t, CmdCommitString, m.Command)
	assert.Equal(t, "hello  world", m.Payload)

	m, err = ParseMessage("plain get_selection ")
	require.NoError(t, err)
	assert.Equal(t, CmdGetSelection, m.Command)
	assert.Empty(t, m.Args())

	for _, bad := range []string{"", "plain", "bogus init", "plain "} {
		_, err := ParseMessage(bad)
		assert.ErrorIs(t, err, ErrMalformed, bad)
	}
}

func TestMessageEncode(t *testing.T) {
	assert.Equal(t, "plain init", NewMessage(TypePlain, CmdInit).Encode())
	assert.Equal(t, "query process_key_event 97 0 1", NewMessage(TypeQuery, CmdProcessKeyEvent, 97, 0, 1).Encode())

	ints, err := NewMessage(TypePlain, CmdSetKeyboardSizes, 720, 442, 1280, 318).IntArgs(4)
	require.NoError(t, err)
	assert.Equal(t, []int{720, 442, 1280, 318}, ints)

	_, err = NewMessage(TypePlain, CmdSetSelection, 1).IntArgs(2)
	assert.Error(t, err)
}

type scriptLog struct {
	mu      sync.Mutex
	scripts []string
}

func (l *scriptLog) RunScript(cmd string, _ func(string)) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.scripts = append(l.scripts, cmd)
	return true
}

func (l *scriptLog) last() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.scripts[len(l.scripts)-1]
}

func TestDirectEncodesFramesAsScripts(t *testing.T) {
	runner := &scriptLog{}
	d := NewDirect(runner, newRecordingSink(), inlinePoster{}, 50*time.Millisecond, 50*time.Millisecond, logging.Discard())

	d.FocusIn(0x10001)
	assert.Empty(t, runner.scripts, "nothing is sent before init")

	require.True(t, d.Init())
	assert.Equal(t, DirectEntry+"('plain init');", runner.last())

	d.FocusIn(0x10001)
	assert.Equal(t, DirectEntry+"('plain focus_in 65537');", runner.last())

	d.UpdateSurroundingText(0x10001, "it's", 3)
	assert.Equal(t, DirectEntry+`('plain update_surrounding_text 3 it\'s');`, runner.last())

	d.SetLayout(ime.LayoutPhoneNumber)
	assert.Equal(t, DirectEntry+"('plain set_layout phonenumber');", runner.last())
	assert.Equal(t, ime.LayoutPhoneNumber, d.GetLayout())

	d.SetReturnKeyDisabled(true)
	assert.Equal(t, DirectEntry+"('plain set_return_key_disable true');", runner.last())
}

func TestDirectProcessKeyEventReply(t *testing.T) {
	runner := &scriptLog{}
	d := NewDirect(runner, newRecordingSink(), inlinePoster{}, 2*time.Second, 50*time.Millisecond, logging.Discard())
	require.True(t, d.Init())

	done := make(chan ime.KeyResult, 1)
	go func() { done <- d.ProcessKeyEvent(0x61, 0, 0) }()

	require.Eventually(t, func() bool {
		return strings.Contains(runner.last(), "query process_key_event 97 0 0")
	}, time.Second, 5*time.Millisecond)
	d.Deliver("reply process_key_event true")

	assert.Equal(t, ime.KeyConsumed, <-done)
}

func TestDirectTimeoutsFallBack(t *testing.T) {
	d := NewDirect(&scriptLog{}, newRecordingSink(), inlinePoster{}, 30*time.Millisecond, 30*time.Millisecond, logging.Discard())
	require.True(t, d.Init())

	start := time.Now()
	assert.Equal(t, ime.KeyNotConsumed, d.ProcessKeyEvent(0x61, 0, 0))
	assert.Less(t, time.Since(start), time.Second)

	d.SetIMData([]byte("lang=ko"))
	assert.Equal(t, []byte("lang=ko"), d.GetIMData())
}

func TestDirectDispatchesContentCommands(t *testing.T) {
	sink := newRecordingSink()
	d := NewDirect(&scriptLog{}, sink, inlinePoster{}, time.Second, time.Second, logging.Discard())
	require.True(t, d.Init())

	d.Deliver("plain commit_string hello world")
	d.Deliver("plain send_key_event 65288")
	d.Deliver("plain set_keyboard_sizes 720 442 1280 318")
	d.Deliver("plain delete_surrounding_text -1 1")
	d.Deliver("plain set_selection x")

	assert.Equal(t, "commit:hello world", sink.next(t))
	assert.Equal(t, "send_key:65288", sink.next(t))
	assert.Equal(t, "sizes:720,442,1280,318", sink.next(t))
	assert.Equal(t, "delete_surrounding:-1,1", sink.next(t))
	assert.Len(t, sink.got, 0, "malformed arguments are dropped")
}

func TestDirectDropsCommandsQueuedBeforeExit(t *testing.T) {
	sink := newRecordingSink()
	loop := &queuePoster{}
	d := NewDirect(&scriptLog{}, sink, loop, time.Second, time.Second, logging.Discard())
	require.True(t, d.Init())

	d.Deliver("plain commit_string stale")
	require.True(t, d.Exit())
	loop.drain()

	assert.Empty(t, sink.calls, "commands from an exited channel never reach the host")
}

func TestDirectExitIsIdempotent(t *testing.T) {
	runner := &scriptLog{}
	d := NewDirect(runner, newRecordingSink(), inlinePoster{}, time.Second, time.Second, logging.Discard())
	require.True(t, d.Init())

	assert.True(t, d.Exit())
	assert.Equal(t, DirectEntry+"('plain exit');", runner.last())
	n := len(runner.scripts)

	assert.True(t, d.Exit())
	d.Show(0x10001)
	assert.Len(t, runner.scripts, n, "no traffic after exit")
	assert.False(t, d.Init())
}

type keyAuth string

func (k keyAuth) Matches(key string) bool { return key == string(k) }

func newTestWebSocket(t *testing.T, sink Sink, keyTimeout time.Duration) *WebSocket {
	t.Helper()
	ws := NewWebSocket(WebSocketConfig{
		Addr:            "127.0.0.1:0",
		Subprotocol:     "keyboard-protocol",
		KeyEventTimeout: keyTimeout,
		ReplyTimeout:    keyTimeout,
		WriteTimeout:    time.Second,
	}, keyAuth("secret-key"), sink, inlinePoster{}, logging.Discard())
	require.True(t, ws.Init())
	t.Cleanup(func() { ws.Exit() })
	return ws
}

func dial(t *testing.T, ws *WebSocket) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws://"+ws.Addr()+"/", &websocket.DialOptions{
		Subprotocols: []string{"keyboard-protocol"},
	})
	require.NoError(t, err)
	t.Cleanup(func() { conn.CloseNow() })
	return conn
}

func write(t *testing.T, conn *websocket.Conn, frame string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(frame)))
}

func read(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	return string(data)
}

func TestWebSocketLoginAndTraffic(t *testing.T) {
	sink := newRecordingSink()
	ws := newTestWebSocket(t, sink, 2*time.Second)
	conn := dial(t, ws)

	write(t, conn, "plain login secret-key")
	assert.Equal(t, "plain init", read(t, conn))
	assert.True(t, ws.Connected())

	ws.FocusIn(0x10001)
	assert.Equal(t, "plain focus_in 65537", read(t, conn))

	ws.SetRotation(90)
	assert.Equal(t, "plain set_rotation 90", read(t, conn))

	done := make(chan ime.KeyResult, 1)
	go func() { done <- ws.ProcessKeyEvent(0x61, ime.KeyShiftMask, 0) }()
	assert.Equal(t, "query process_key_event 97 1 0", read(t, conn))
	write(t, conn, "reply process_key_event true")
	assert.Equal(t, ime.KeyConsumed, <-done)

	imdata := make(chan []byte, 1)
	go func() { imdata <- ws.GetIMData() }()
	assert.Equal(t, "query get_imdata", read(t, conn))
	write(t, conn, "reply get_imdata lang=ko")
	assert.Equal(t, []byte("lang=ko"), <-imdata)

	write(t, conn, "plain commit_string hello world")
	assert.Equal(t, "commit:hello world", sink.next(t))

	exited := make(chan bool, 1)
	go func() { exited <- ws.Exit() }()
	assert.Equal(t, "plain exit", read(t, conn))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _, err := conn.Read(ctx)
	assert.Equal(t, websocket.StatusNormalClosure, websocket.CloseStatus(err))
	assert.True(t, <-exited)
}

func TestWebSocketRejectsWrongKey(t *testing.T) {
	ws := newTestWebSocket(t, newRecordingSink(), time.Second)
	conn := dial(t, ws)

	write(t, conn, "plain login wrong")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _, err := conn.Read(ctx)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusPolicyViolation, websocket.CloseStatus(err))
	assert.False(t, ws.Connected())
}

func TestWebSocketKeyEventTimesOut(t *testing.T) {
	ws := newTestWebSocket(t, newRecordingSink(), 50*time.Millisecond)
	conn := dial(t, ws)
	write(t, conn, "plain login secret-key")
	assert.Equal(t, "plain init", read(t, conn))

	start := time.Now()
	assert.Equal(t, ime.KeyNotConsumed, ws.ProcessKeyEvent(0x61, 0, 0))
	assert.Less(t, time.Since(start), time.Second)
}

func TestWebSocketNotConnected(t *testing.T) {
	ws := newTestWebSocket(t, newRecordingSink(), time.Second)

	start := time.Now()
	assert.Equal(t, ime.KeyNotConsumed, ws.ProcessKeyEvent(0x61, 0, 0))
	assert.Less(t, time.Since(start), 500*time.Millisecond, "no connection fails fast")
	ws.Show(0x10001)
}

func TestChannelErrorUnwraps(t *testing.T) {
	err := &ChannelError{Kind: KindWebSocket, Op: "write", Err: ErrNotConnected}
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Contains(t, err.Error(), "websocket")
}
