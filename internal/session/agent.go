package session

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"syscall"

	"webime/internal/channel"
	"webime/internal/handshake"
	"webime/internal/ime"
	"webime/internal/logging"
	"webime/internal/registry"
)

// ErrStopped is returned when the loop no longer accepts work.
var ErrStopped = errors.New("session: loop stopped")

// View is the content runtime as the agent uses it.
type View interface {
	Create(surface ime.Surface, d *registry.Descriptor, onLoaded func()) bool
	Destroy() bool
	Resize(width, height int) bool
	RunScript(command string, onResult func(result string)) bool
}

// Catalog resolves keyboard packages.
type Catalog interface {
	Lookup(id string) (*registry.Descriptor, error)
}

// ChannelFactory builds a channel of kind that reports to sink.
type ChannelFactory func(kind channel.Kind, sink channel.Sink) channel.Channel

// Deps are the collaborators of an Agent.
type Deps struct {
	Loop      *Loop
	Host      Host
	Surface   ime.Surface
	View      View
	Catalog   Catalog
	Keys      *handshake.MagicKeyManager
	Handshake handshake.Config
	Channels  ChannelFactory
	// Shutdown is invoked once after an orderly exit caused by a package change.
	Shutdown func()
	Logger   *slog.Logger
}

// Agent is the host-facing entry point. Every method posts to the loop and
// waits, so it may be called from any goroutine except the loop itself.
type Agent struct {
	imeID      string
	loop       *Loop
	sess       *Session
	host       Host
	surface    ime.Surface
	view       View
	catalog    Catalog
	negotiator *handshake.Negotiator
	shutdown   func()
	logger     *slog.Logger

	descriptor *registry.Descriptor
	direct     atomic.Pointer[channel.Direct]
	exiting    atomic.Bool
}

// NewAgent builds the session and negotiator for the keyboard imeID.
func NewAgent(imeID string, cfg Config, deps Deps) *Agent {
	logger := deps.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	host := deps.Host
	if host == nil {
		host = NopHost{}
	}
	a := &Agent{
		imeID:    imeID,
		loop:     deps.Loop,
		host:     host,
		surface:  deps.Surface,
		view:     deps.View,
		catalog:  deps.Catalog,
		shutdown: deps.Shutdown,
		logger:   logger,
	}
	a.sess = New(cfg, host, deps.Surface, deps.View, logger)

	factory := func(kind channel.Kind) channel.Channel {
		if deps.Channels == nil {
			return nil
		}
		ch := deps.Channels(kind, a.sess)
		if d, ok := ch.(*channel.Direct); ok {
			a.direct.Store(d)
		} else {
			a.direct.Store(nil)
		}
		return ch
	}
	a.negotiator = handshake.NewNegotiator(deps.Handshake, deps.Keys, deps.View, a.sess, factory, logger)
	return a
}

func (a *Agent) call(fn func()) error {
	if !a.loop.Call(fn) {
		return ErrStopped
	}
	return nil
}

// Init creates the content view for the configured keyboard. The handshake
// starts once the content has loaded.
func (a *Agent) Init() error {
	var err error
	if cerr := a.call(func() { err = a.init() }); cerr != nil {
		return cerr
	}
	return err
}

func (a *Agent) init() error {
	d, err := a.catalog.Lookup(a.imeID)
	if err != nil {
		return fmt.Errorf("lookup keyboard %s: %w", a.imeID, err)
	}
	a.descriptor = d
	a.logger.Info("creating view", "id", d.ID, "url", d.EntryURL, "language", d.Language)
	if !a.view.Create(a.surface, d, func() { a.negotiator.Begin() }) {
		return fmt.Errorf("create view for %s: container unavailable", d.ID)
	}
	return nil
}

// Exit hides the keyboard, closes the channel and destroys the view.
func (a *Agent) Exit(ic ime.InputContext) error {
	return a.call(func() { a.exit(ic) })
}

func (a *Agent) exit(ic ime.InputContext) {
	a.sess.Hide(ic)
	a.sess.CloseChannel()
	a.direct.Store(nil)
	a.view.Destroy()
}

// PackageChanged reacts to registry changes. A reinstall or update of the
// active keyboard ends the process in order: the channel is closed, the host
// is told, the view is destroyed and Shutdown runs.
func (a *Agent) PackageChanged(c registry.Change) {
	if c.ID != a.imeID {
		return
	}
	if c.Type == registry.Removed {
		a.logger.Info("active keyboard package changed", "id", c.ID, "change", c.Type.String())
		return
	}
	if !a.exiting.CompareAndSwap(false, true) {
		return
	}
	a.logger.Info("active keyboard reinstalled, exiting", "id", c.ID, "change", c.Type.String())
	a.loop.Post(func() {
		a.sess.CloseChannel()
		a.direct.Store(nil)
		a.host.NotifyExit()
		a.view.Destroy()
		if a.shutdown != nil {
			a.shutdown()
		}
	})
}

// Deliver hands a frame produced by in-process content to the direct
// channel, if one is installed.
func (a *Agent) Deliver(frame string) bool {
	d := a.direct.Load()
	if d == nil {
		return false
	}
	d.Deliver(frame)
	return true
}

// State returns a snapshot of the session state.
func (a *Agent) State() (State, error) {
	var s State
	err := a.call(func() { s = a.sess.State() })
	return s, err
}

// Negotiation returns the handshake counters and the last content version.
func (a *Agent) Negotiation() (handshake.Stats, string, error) {
	var (
		st handshake.Stats
		v  string
	)
	err := a.call(func() {
		st = a.negotiator.Stats()
		v = a.negotiator.ContentVersion()
	})
	return st, v, err
}

// Attach tracks ic while no real context is known and focuses it.
func (a *Agent) Attach(ic ime.InputContext) error {
	return a.call(func() { a.sess.Attach(ic) })
}

// Detach unfocuses ic.
func (a *Agent) Detach(ic ime.InputContext) error {
	return a.call(func() { a.sess.Detach(ic) })
}

// FocusIn records focus on ic and selects the keyboard its layout needs.
func (a *Agent) FocusIn(ic ime.InputContext) error {
	return a.call(func() { a.sess.FocusIn(ic) })
}

// FocusOut clears focus from ic.
func (a *Agent) FocusOut(ic ime.InputContext) error {
	return a.call(func() { a.sess.FocusOut(ic) })
}

// Show applies the field attributes in ctx and makes the keyboard visible
// for ic, rotating first when it was hidden.
func (a *Agent) Show(ic ime.InputContext, degree int, ctx ime.ShowContext) error {
	return a.call(func() { a.sess.Show(ic, degree, ctx) })
}

// Hide tells the content and hides the keyboard surface.
func (a *Agent) Hide(ic ime.InputContext) error {
	return a.call(func() { a.sess.Hide(ic) })
}

// SetRotation resizes the view for degree and tells the content.
func (a *Agent) SetRotation(degree int) error {
	return a.call(func() { a.sess.SetRotation(degree) })
}

// UpdateCursorPosition forwards the cursor offset in ic to the content.
func (a *Agent) UpdateCursorPosition(ic ime.InputContext, pos int) error {
	return a.call(func() { a.sess.UpdateCursorPosition(ic, pos) })
}

// UpdateSurroundingText forwards the text around the cursor in ic.
func (a *Agent) UpdateSurroundingText(ic ime.InputContext, text string, cursor int) error {
	return a.call(func() { a.sess.UpdateSurroundingText(ic, text, cursor) })
}

// UpdateSelection forwards the selected text in ic.
func (a *Agent) UpdateSelection(ic ime.InputContext, text string) error {
	return a.call(func() { a.sess.UpdateSelection(ic, text) })
}

// SetLanguage forwards the host input language.
func (a *Agent) SetLanguage(lang uint32) error {
	return a.call(func() { a.sess.SetLanguage(lang) })
}

// SetIMData stores opaque application data and passes it to the content.
func (a *Agent) SetIMData(data []byte) error {
	return a.call(func() { a.sess.SetIMData(data) })
}

// GetIMData returns the content's imdata, or the last value the host set.
func (a *Agent) GetIMData() ([]byte, error) {
	var data []byte
	err := a.call(func() { data = a.sess.GetIMData() })
	return data, err
}

// SetReturnKeyType sets the return key label.
func (a *Agent) SetReturnKeyType(t ime.ReturnKeyType) error {
	return a.call(func() { a.sess.SetReturnKeyType(t) })
}

// GetReturnKeyType returns the last known return key label.
func (a *Agent) GetReturnKeyType() (ime.ReturnKeyType, error) {
	var t ime.ReturnKeyType
	err := a.call(func() { t = a.sess.GetReturnKeyType() })
	return t, err
}

// SetReturnKeyDisabled enables or disables the return key.
func (a *Agent) SetReturnKeyDisabled(disabled bool) error {
	return a.call(func() { a.sess.SetReturnKeyDisabled(disabled) })
}

// GetReturnKeyDisabled returns the last known return key state.
func (a *Agent) GetReturnKeyDisabled() (bool, error) {
	var d bool
	err := a.call(func() { d = a.sess.GetReturnKeyDisabled() })
	return d, err
}

// SetLayout returns false for layouts outside the enumerated range.
func (a *Agent) SetLayout(l ime.Layout) (bool, error) {
	var ok bool
	err := a.call(func() { ok = a.sess.SetLayout(l) })
	return ok, err
}

// GetLayout returns the last known layout.
func (a *Agent) GetLayout() (ime.Layout, error) {
	var l ime.Layout
	err := a.call(func() { l = a.sess.GetLayout() })
	return l, err
}

// ResetInputContext forwards a reset of ic and clears the pending reset flag.
func (a *Agent) ResetInputContext(ic ime.InputContext) error {
	return a.call(func() { a.sess.ResetInputContext(ic) })
}

// ProcessKeyEvent blocks the loop for at most the channel's key timeout.
// A stopped loop reports the key as not consumed.
func (a *Agent) ProcessKeyEvent(code, mask, layout uint32) ime.KeyResult {
	r := ime.KeyNotConsumed
	if err := a.call(func() { r = a.sess.ProcessKeyEvent(code, mask, layout) }); err != nil {
		return ime.KeyNotConsumed
	}
	return r
}

// SetDisplayLanguage forwards the UI language of the device.
func (a *Agent) SetDisplayLanguage(lang string) error {
	return a.call(func() { a.sess.SetDisplayLanguage(lang) })
}

// SetAccessibilityState forwards whether a screen reader is active.
func (a *Agent) SetAccessibilityState(on bool) error {
	return a.call(func() { a.sess.SetAccessibilityState(on) })
}

// SetCapsMode forwards the automatic capitalization state.
func (a *Agent) SetCapsMode(on bool) error {
	return a.call(func() { a.sess.SetCapsMode(on) })
}

// GetLanguageLocale returns the language of the loaded keyboard package.
func (a *Agent) GetLanguageLocale() (string, error) {
	var lang string
	err := a.call(func() {
		if a.descriptor != nil {
			lang = a.descriptor.Language
		}
	})
	return lang, err
}

// UpdateKeyboardIME records the keyboard engine the user configured. It is
// selected on the next focus-in for non-numeric layouts.
func (a *Agent) UpdateKeyboardIME(id string) error {
	return a.call(func() { a.sess.SetKeyboardID(id) })
}

// Signal forwards an OS signal to the content.
func (a *Agent) Signal(sig syscall.Signal) error {
	return a.call(func() { a.sess.Signal(sig) })
}
