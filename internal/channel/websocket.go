package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
)

// ErrNotConnected is returned when no authenticated content is connected.
var ErrNotConnected = errors.New("content not connected")

const (
	loginTimeout = 5 * time.Second
	readLimit    = 1 << 20
)

// Authenticator checks the key presented in the login frame.
type Authenticator interface {
	Matches(key string) bool
}

// WebSocketConfig configures the socket channel.
type WebSocketConfig struct {
	Addr            string
	Subprotocol     string
	KeyEventTimeout time.Duration
	ReplyTimeout    time.Duration
	WriteTimeout    time.Duration
}

// WebSocket serves the keyboard protocol to the content over a local
// websocket. The content connects after activation and must log in with the
// magic key before any frame is exchanged.
type WebSocket struct {
	*proto

	cfg  WebSocketConfig
	auth Authenticator

	server   *http.Server
	listener net.Listener

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running atomic.Bool
	exited  atomic.Bool

	connMu sync.Mutex
	conn   *websocket.Conn
}

// NewWebSocket creates an idle socket channel. Init starts listening.
func NewWebSocket(cfg WebSocketConfig, auth Authenticator, sink Sink, poster Poster, logger *slog.Logger) *WebSocket {
	w := &WebSocket{
		proto: newProto(KindWebSocket, sink, poster, cfg.KeyEventTimeout, cfg.ReplyTimeout, logger),
		cfg:   cfg,
		auth:  auth,
	}
	w.proto.send = w.send
	return w
}

// Addr returns the bound listen address, or "" before Init.
func (w *WebSocket) Addr() string {
	if w.listener == nil {
		return ""
	}
	return w.listener.Addr().String()
}

// Connected reports whether an authenticated content connection is open.
func (w *WebSocket) Connected() bool {
	w.connMu.Lock()
	defer w.connMu.Unlock()
	return w.conn != nil
}

// Init starts the listener.
func (w *WebSocket) Init() bool {
	if w.running.Load() {
		return true
	}
	if w.exited.Load() {
		return false
	}

	ln, err := net.Listen("tcp", w.cfg.Addr)
	if err != nil {
		w.logger.Warn("websocket listen failed", "error", &ChannelError{Kind: KindWebSocket, Op: "listen", Err: err})
		return false
	}
	w.listener = ln
	w.ctx, w.cancel = context.WithCancel(context.Background())

	r := chi.NewRouter()
	r.Get("/", w.handleUpgrade)
	w.server = &http.Server{
		Handler:           r,
		ReadHeaderTimeout: loginTimeout,
	}

	w.running.Store(true)
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		if err := w.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			w.logger.Warn("websocket server stopped", "error", err)
		}
	}()

	w.logger.Info("websocket channel listening", "addr", ln.Addr().String())
	return true
}

// Exit tells the content to exit, closes the connection and stops the
// listener. Later calls do nothing.
func (w *WebSocket) Exit() bool {
	if !w.exited.CompareAndSwap(false, true) {
		return true
	}
	w.router.close()
	if !w.running.Load() {
		return true
	}

	if err := w.send(NewMessage(TypePlain, CmdExit)); err != nil {
		w.logger.Debug("exit not delivered", "error", err)
	}

	w.connMu.Lock()
	if w.conn != nil {
		w.conn.Close(websocket.StatusNormalClosure, "exit")
		w.conn = nil
	}
	w.connMu.Unlock()

	w.cancel()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := w.server.Shutdown(ctx); err != nil {
		w.server.Close()
	}
	w.wg.Wait()
	w.running.Store(false)
	return true
}

func (w *WebSocket) send(m Message) error {
	w.connMu.Lock()
	conn := w.conn
	w.connMu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(w.ctx, w.cfg.WriteTimeout)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, []byte(m.Encode())); err != nil {
		return &ChannelError{Kind: KindWebSocket, Op: "write " + m.Command, Err: err}
	}
	return nil
}

func (w *WebSocket) handleUpgrade(rw http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(rw, r, &websocket.AcceptOptions{
		Subprotocols: []string{w.cfg.Subprotocol},
		// Content is loaded from file:// and carries no usable Origin.
		InsecureSkipVerify: true,
	})
	if err != nil {
		w.logger.Warn("websocket accept failed", "error", err)
		return
	}
	if conn.Subprotocol() != w.cfg.Subprotocol {
		conn.Close(websocket.StatusPolicyViolation, "unsupported subprotocol")
		return
	}
	conn.SetReadLimit(readLimit)

	if err := w.login(conn); err != nil {
		w.logger.Warn("content login rejected", "remote", r.RemoteAddr, "error", err)
		conn.Close(websocket.StatusPolicyViolation, "authentication failed")
		return
	}

	w.connMu.Lock()
	if w.exited.Load() {
		w.connMu.Unlock()
		conn.Close(websocket.StatusGoingAway, "exiting")
		return
	}
	if old := w.conn; old != nil {
		old.Close(websocket.StatusGoingAway, "replaced")
	}
	w.conn = conn
	w.connMu.Unlock()

	w.logger.Info("content connected", "remote", r.RemoteAddr)
	if err := w.send(NewMessage(TypePlain, CmdInit)); err != nil {
		w.logger.Warn("init not delivered", "error", err)
	}

	w.readLoop(conn)
}

func (w *WebSocket) login(conn *websocket.Conn) error {
	ctx, cancel := context.WithTimeout(w.ctx, loginTimeout)
	defer cancel()

	typ, data, err := conn.Read(ctx)
	if err != nil {
		return err
	}
	if typ != websocket.MessageText {
		return fmt.Errorf("%w: binary login frame", ErrMalformed)
	}
	m, err := ParseMessage(string(data))
	if err != nil {
		return err
	}
	if m.Type != TypePlain || m.Command != CmdLogin {
		return fmt.Errorf("%w: expected login, got %s %s", ErrMalformed, m.Type, m.Command)
	}
	if !w.auth.Matches(m.Payload) {
		return errors.New("magic key mismatch")
	}
	return nil
}

func (w *WebSocket) readLoop(conn *websocket.Conn) {
	defer func() {
		w.connMu.Lock()
		if w.conn == conn {
			w.conn = nil
		}
		w.connMu.Unlock()
		conn.CloseNow()
	}()

	for {
		typ, data, err := conn.Read(w.ctx)
		if err != nil {
			if w.ctx.Err() == nil && websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				w.logger.Info("content disconnected", "error", err)
			}
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		m, err := ParseMessage(string(data))
		if err != nil {
			w.logger.Debug("dropping frame", "error", err)
			continue
		}
		w.handle(m)
	}
}
