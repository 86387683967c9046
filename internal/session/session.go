package session

import (
	"log/slog"
	"syscall"

	"webime/internal/channel"
	"webime/internal/ime"
)

// Resizer is the part of the content runtime the session drives directly.
type Resizer interface {
	Resize(width, height int) bool
}

// Config seeds a Session.
type Config struct {
	// KeyboardID is the keyboard engine for non-numeric layouts.
	KeyboardID string
	// DefaultKeyboardID is forced for the numeric layout family.
	DefaultKeyboardID string

	PortraitWidth   int
	PortraitHeight  int
	LandscapeWidth  int
	LandscapeHeight int
}

// Session is the keyboard state machine. It mediates between host events and
// the negotiated channel. Every channel call is skipped when no channel is
// installed; state is updated regardless.
type Session struct {
	cfg     Config
	state   State
	host    Host
	surface ime.Surface
	view    Resizer
	ch      channel.Channel
	logger  *slog.Logger
}

// New creates a detached session.
func New(cfg Config, host Host, surface ime.Surface, view Resizer, logger *slog.Logger) *Session {
	if host == nil {
		host = NopHost{}
	}
	return &Session{
		cfg:     cfg,
		host:    host,
		surface: surface,
		view:    view,
		logger:  logger,
		state: State{
			Layout:          ime.LayoutNormal,
			PortraitWidth:   cfg.PortraitWidth,
			PortraitHeight:  cfg.PortraitHeight,
			LandscapeWidth:  cfg.LandscapeWidth,
			LandscapeHeight: cfg.LandscapeHeight,
			KeyboardID:      cfg.KeyboardID,
		},
	}
}

// State returns a copy of the current state.
func (s *Session) State() State {
	return s.state.clone()
}

// Channel returns the installed channel or nil.
func (s *Session) Channel() channel.Channel {
	return s.ch
}

// SetChannel installs ch, replacing any previous channel without closing it.
func (s *Session) SetChannel(ch channel.Channel) {
	s.ch = ch
}

// CloseChannel exits and drops the installed channel.
func (s *Session) CloseChannel() {
	if s.ch == nil {
		return
	}
	s.ch.Exit()
	s.ch = nil
}

func (s *Session) trace(event string, ic ime.InputContext) {
	s.logger.Debug(event,
		"ic", ic.String(), "ic_temporary", ic.IsTemporary(),
		"tracked", s.state.IC.String(), "tracked_temporary", s.state.IC.IsTemporary(),
		"focused", s.state.FocusedIC.String(), "focused_temporary", s.state.FocusedIC.IsTemporary())
}

// Attach adopts ic as the tracked context while no real context is known,
// then focuses it.
func (s *Session) Attach(ic ime.InputContext) {
	s.trace("attach", ic)
	if s.state.IC.IsTemporary() {
		s.state.IC = ic
	}
	s.FocusIn(ic)
}

// Detach unfocuses ic.
func (s *Session) Detach(ic ime.InputContext) {
	s.FocusOut(ic)
}

// FocusIn records ic as focused. When ic is the tracked context the keyboard
// engine matching the current layout is selected.
func (s *Session) FocusIn(ic ime.InputContext) {
	s.trace("focus in", ic)
	if s.state.IC.IsTemporary() && !ic.IsTemporary() {
		s.state.IC = ic
	}
	s.state.FocusedIC = ic

	if ic == s.state.IC {
		s.host.SelectKeyboard(s.keyboardFor(s.state.Layout))
	}
	if s.ch != nil {
		s.ch.FocusIn(ic)
	}
}

func (s *Session) keyboardFor(l ime.Layout) string {
	if l.Numeric() {
		return s.cfg.DefaultKeyboardID
	}
	return s.state.KeyboardID
}

// FocusOut clears the focused context.
func (s *Session) FocusOut(ic ime.InputContext) {
	s.state.FocusedIC = 0
	if s.ch != nil {
		s.ch.FocusOut(ic)
	}
}

// Show applies the field attributes delivered with a show request and then
// makes the keyboard visible. The rotation is only taken when the keyboard
// is not already visible; a visible keyboard receives rotations separately.
func (s *Session) Show(ic ime.InputContext, degree int, ctx ime.ShowContext) {
	s.SetLayout(ctx.Layout)
	s.SetReturnKeyType(ctx.ReturnKeyType)
	s.SetReturnKeyDisabled(ctx.ReturnKeyDisabled)
	s.SetCapsMode(ctx.CapsMode)
	s.UpdateCursorPosition(ic, ctx.CursorPos)

	if !s.state.Visible {
		s.SetRotation(degree)
	} else {
		s.logger.Debug("skipping rotation while visible", "degree", degree)
	}

	s.ShowContext(ic)
}

// ShowContext resolves the effective context and shows the keyboard for it.
func (s *Session) ShowContext(ic ime.InputContext) {
	s.trace("show", ic)
	if ic.IsTemporary() && !s.state.FocusedIC.IsTemporary() {
		ic = s.state.FocusedIC
	}
	if !ic.IsTemporary() && s.state.FocusedIC.IsTemporary() {
		s.state.FocusedIC = ic
	}
	s.state.IC = ic

	if s.ch != nil {
		s.ch.Show(ic)
	}
	if s.surface != nil {
		if err := s.surface.Show(); err != nil {
			s.logger.Warn("show surface", "error", err)
		}
	}
	s.state.Visible = true
}

// Hide hides the keyboard.
func (s *Session) Hide(ic ime.InputContext) {
	if s.ch != nil {
		s.ch.Hide(ic)
	}
	if s.surface != nil {
		if err := s.surface.Hide(); err != nil {
			s.logger.Warn("hide surface", "error", err)
		}
	}
	s.state.Visible = false
}

// SetRotation stores the angle and resizes to the matching size pair.
func (s *Session) SetRotation(degree int) {
	s.state.Angle = degree
	s.resize()
	if s.ch != nil {
		s.ch.SetRotation(degree)
	}
}

func (s *Session) resize() {
	w, h := s.state.Size()
	if s.view != nil && !s.view.Resize(w, h) {
		s.logger.Debug("view resize skipped", "width", w, "height", h)
	}
	if s.surface != nil {
		if err := s.surface.Resize(w, h); err != nil {
			s.logger.Warn("resize surface", "error", err)
		}
	}
}

func (s *Session) UpdateCursorPosition(ic ime.InputContext, pos int) {
	if s.ch != nil {
		s.ch.UpdateCursorPosition(ic, pos)
	}
}

func (s *Session) UpdateSurroundingText(ic ime.InputContext, text string, cursor int) {
	if s.ch != nil {
		s.ch.UpdateSurroundingText(ic, text, cursor)
	}
}

func (s *Session) UpdateSelection(ic ime.InputContext, text string) {
	if s.ch != nil {
		s.ch.UpdateSelection(ic, text)
	}
}

func (s *Session) SetLanguage(lang uint32) {
	s.state.Language = lang
	if s.ch != nil {
		s.ch.SetLanguage(lang)
	}
}

func (s *Session) SetIMData(data []byte) {
	s.state.IMData = append([]byte(nil), data...)
	if s.ch != nil {
		s.ch.SetIMData(data)
	}
}

// GetIMData asks the content for its data, falling back to the last value
// the host set.
func (s *Session) GetIMData() []byte {
	if s.ch != nil {
		if data := s.ch.GetIMData(); len(data) > 0 {
			return data
		}
	}
	return append([]byte(nil), s.state.IMData...)
}

func (s *Session) SetReturnKeyType(t ime.ReturnKeyType) {
	s.state.ReturnKeyType = t
	if s.ch != nil {
		s.ch.SetReturnKeyType(t)
	}
}

func (s *Session) GetReturnKeyType() ime.ReturnKeyType {
	if s.ch != nil {
		return s.ch.GetReturnKeyType()
	}
	return s.state.ReturnKeyType
}

func (s *Session) SetReturnKeyDisabled(disabled bool) {
	s.state.ReturnKeyDisabled = disabled
	if s.ch != nil {
		s.ch.SetReturnKeyDisabled(disabled)
	}
}

func (s *Session) GetReturnKeyDisabled() bool {
	if s.ch != nil {
		return s.ch.GetReturnKeyDisabled()
	}
	return s.state.ReturnKeyDisabled
}

// SetLayout changes the layout. Values outside the enumerated range are
// ignored. A change of layout marks the session for reset.
func (s *Session) SetLayout(l ime.Layout) bool {
	if !l.Valid() {
		s.logger.Debug("rejecting layout", "layout", uint32(l))
		return false
	}
	if s.state.Layout != l {
		s.state.NeedsReset = true
	}
	s.state.Layout = l
	if s.ch != nil {
		s.ch.SetLayout(l)
	}
	return true
}

func (s *Session) GetLayout() ime.Layout {
	if s.ch != nil {
		return s.ch.GetLayout()
	}
	return s.state.Layout
}

// ResetInputContext forwards the reset and consumes the pending reset flag.
func (s *Session) ResetInputContext(ic ime.InputContext) {
	s.state.NeedsReset = false
	if s.ch != nil {
		s.ch.ResetInputContext(ic)
	}
}

// ProcessKeyEvent offers a hardware key to the content. Without a channel
// the key is not consumed.
func (s *Session) ProcessKeyEvent(code, mask, layout uint32) ime.KeyResult {
	if s.ch == nil {
		return ime.KeyNotConsumed
	}
	return s.ch.ProcessKeyEvent(code, mask, layout)
}

func (s *Session) SetCapsMode(on bool) {
	s.state.CapsMode = on
}

func (s *Session) SetDisplayLanguage(lang string) {
	s.state.DisplayLanguage = lang
}

func (s *Session) SetAccessibilityState(on bool) {
	s.state.AccessibilityState = on
}

// SetKeyboardID records the keyboard engine the host has configured.
func (s *Session) SetKeyboardID(id string) {
	s.state.KeyboardID = id
}

func (s *Session) Signal(sig syscall.Signal) {
	if s.ch != nil {
		s.ch.Signal(sig)
	}
}

// target is the context content-originated requests are sent to: the
// tracked context, or NoContext while it is still temporary.
func (s *Session) target() ime.InputContext {
	if s.state.IC.IsTemporary() {
		return ime.NoContext
	}
	return s.state.IC
}

// Log implements channel.Sink.
func (s *Session) Log(msg string) {
	s.logger.Info("content log", "message", msg)
}

// CommitString implements channel.Sink.
func (s *Session) CommitString(text string) {
	ic := s.target()
	s.host.HidePreeditString(ic)
	s.host.CommitString(ic, text)
}

// UpdatePreeditString implements channel.Sink.
func (s *Session) UpdatePreeditString(text string) {
	s.host.UpdatePreeditString(s.target(), text)
}

// SendKeyEvent implements channel.Sink. A press and a release are sent.
func (s *Session) SendKeyEvent(code uint32) {
	s.forward(code)
}

// ForwardKeyEvent implements channel.Sink.
func (s *Session) ForwardKeyEvent(code uint32) {
	s.forward(code)
}

func (s *Session) forward(code uint32) {
	ic := s.target()
	s.host.ForwardKeyEvent(ic, code, ime.KeyNullMask)
	s.host.ForwardKeyEvent(ic, code, ime.KeyReleaseMask)
}

// SetKeyboardSizes implements channel.Sink.
func (s *Session) SetKeyboardSizes(portraitW, portraitH, landscapeW, landscapeH int) {
	s.state.PortraitWidth = portraitW
	s.state.PortraitHeight = portraitH
	s.state.LandscapeWidth = landscapeW
	s.state.LandscapeHeight = landscapeH

	s.host.SetKeyboardSizeHints(portraitW, portraitH, landscapeW, landscapeH)
	s.resize()
}

// SetSelection implements channel.Sink.
func (s *Session) SetSelection(start, end int) {
	s.host.SetSelection(start, end)
}

// GetSelection implements channel.Sink.
func (s *Session) GetSelection() {
	s.host.GetSelection()
}

// GetSurroundingText implements channel.Sink.
func (s *Session) GetSurroundingText(maxBefore, maxAfter int) {
	s.host.GetSurroundingText(maxBefore, maxAfter)
}

// DeleteSurroundingText implements channel.Sink.
func (s *Session) DeleteSurroundingText(offset, length int) {
	s.host.DeleteSurroundingText(offset, length)
}
