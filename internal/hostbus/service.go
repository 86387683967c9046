package hostbus

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/godbus/dbus/v5"

	"webime/internal/health"
	"webime/internal/ime"
)

const healthTimeout = 3 * time.Second

// D-Bus error names returned by Service.
const (
	ErrorInvalidArgs = "org.freedesktop.DBus.Error.InvalidArgs"
	ErrorUnavailable = "org.webime.Helper.Error.Unavailable"
)

// Agent is the helper seen from the bus.
type Agent interface {
	Init() error
	Exit(ic ime.InputContext) error
	Attach(ic ime.InputContext) error
	Detach(ic ime.InputContext) error
	FocusIn(ic ime.InputContext) error
	FocusOut(ic ime.InputContext) error
	Show(ic ime.InputContext, degree int, ctx ime.ShowContext) error
	Hide(ic ime.InputContext) error
	SetRotation(degree int) error
	UpdateCursorPosition(ic ime.InputContext, pos int) error
	UpdateSurroundingText(ic ime.InputContext, text string, cursor int) error
	UpdateSelection(ic ime.InputContext, text string) error
	SetLanguage(lang uint32) error
	SetIMData(data []byte) error
	GetIMData() ([]byte, error)
	SetReturnKeyType(t ime.ReturnKeyType) error
	GetReturnKeyType() (ime.ReturnKeyType, error)
	SetReturnKeyDisabled(disabled bool) error
	GetReturnKeyDisabled() (bool, error)
	SetLayout(l ime.Layout) (bool, error)
	GetLayout() (ime.Layout, error)
	ResetInputContext(ic ime.InputContext) error
	ProcessKeyEvent(code, mask, layout uint32) ime.KeyResult
	SetDisplayLanguage(lang string) error
	SetAccessibilityState(on bool) error
	SetCapsMode(on bool) error
	GetLanguageLocale() (string, error)
	UpdateKeyboardIME(id string) error
	Deliver(frame string) bool
}

// Service exports the Agent on the bus. Input contexts travel as int32.
type Service struct {
	agent  Agent
	health *health.Checker
	logger *slog.Logger
}

// NewService wraps agent for export. checker may be nil.
func NewService(agent Agent, checker *health.Checker, logger *slog.Logger) *Service {
	return &Service{agent: agent, health: checker, logger: logger}
}

func (s *Service) fail(method string, err error) *dbus.Error {
	if err == nil {
		return nil
	}
	s.logger.Warn("bus call failed", "method", method, "error", err)
	return dbus.MakeFailedError(err)
}

func invalidArg(format string, args ...any) *dbus.Error {
	return dbus.NewError(ErrorInvalidArgs, []interface{}{fmt.Sprintf(format, args...)})
}

// Init loads the keyboard package into the view.
func (s *Service) Init() *dbus.Error {
	return s.fail("Init", s.agent.Init())
}

// Exit hides the keyboard, closes the channel and destroys the view.
func (s *Service) Exit(ic int32) *dbus.Error {
	return s.fail("Exit", s.agent.Exit(ime.InputContext(ic)))
}

// Attach reports a new input context ic.
func (s *Service) Attach(ic int32) *dbus.Error {
	return s.fail("Attach", s.agent.Attach(ime.InputContext(ic)))
}

// Detach reports that ic went away.
func (s *Service) Detach(ic int32) *dbus.Error {
	return s.fail("Detach", s.agent.Detach(ime.InputContext(ic)))
}

// FocusIn reports that ic gained focus.
func (s *Service) FocusIn(ic int32) *dbus.Error {
	return s.fail("FocusIn", s.agent.FocusIn(ime.InputContext(ic)))
}

// FocusOut reports that ic lost focus.
func (s *Service) FocusOut(ic int32) *dbus.Error {
	return s.fail("FocusOut", s.agent.FocusOut(ime.InputContext(ic)))
}

// Show carries the field attributes flattened into arguments. An unknown
// return key type falls back to the default label and an out-of-range layout
// is left to the session, so the keyboard is still shown.
func (s *Service) Show(ic, degree int32, layout, returnKeyType uint32, returnKeyDisabled, capsMode bool, cursorPos int32) *dbus.Error {
	rkt := ime.ReturnKeyType(returnKeyType)
	if !rkt.Valid() {
		s.logger.Debug("unknown return key type on show", "return_key_type", returnKeyType)
		rkt = ime.ReturnKeyDefault
	}
	ctx := ime.ShowContext{
		Layout:            ime.Layout(layout),
		ReturnKeyType:     rkt,
		ReturnKeyDisabled: returnKeyDisabled,
		CapsMode:          capsMode,
		CursorPos:         int(cursorPos),
	}
	return s.fail("Show", s.agent.Show(ime.InputContext(ic), int(degree), ctx))
}

// Hide hides the keyboard for ic.
func (s *Service) Hide(ic int32) *dbus.Error {
	return s.fail("Hide", s.agent.Hide(ime.InputContext(ic)))
}

// SetRotation reports the screen rotation in degrees.
func (s *Service) SetRotation(degree int32) *dbus.Error {
	return s.fail("SetRotation", s.agent.SetRotation(int(degree)))
}

// UpdateCursorPosition reports the cursor offset in ic.
func (s *Service) UpdateCursorPosition(ic, pos int32) *dbus.Error {
	return s.fail("UpdateCursorPosition", s.agent.UpdateCursorPosition(ime.InputContext(ic), int(pos)))
}

// UpdateSurroundingText reports the text around the cursor in ic.
func (s *Service) UpdateSurroundingText(ic int32, text string, cursor int32) *dbus.Error {
	return s.fail("UpdateSurroundingText", s.agent.UpdateSurroundingText(ime.InputContext(ic), text, int(cursor)))
}

// UpdateSelection reports the selected text in ic.
func (s *Service) UpdateSelection(ic int32, text string) *dbus.Error {
	return s.fail("UpdateSelection", s.agent.UpdateSelection(ime.InputContext(ic), text))
}

// SetLanguage sets the host input language.
func (s *Service) SetLanguage(lang uint32) *dbus.Error {
	return s.fail("SetLanguage", s.agent.SetLanguage(lang))
}

// SetIMData passes opaque application data to the keyboard.
func (s *Service) SetIMData(data []byte) *dbus.Error {
	return s.fail("SetIMData", s.agent.SetIMData(data))
}

// GetIMData returns the keyboard's application data.
func (s *Service) GetIMData() ([]byte, *dbus.Error) {
	data, err := s.agent.GetIMData()
	return data, s.fail("GetIMData", err)
}

// SetReturnKeyType sets the return key label. Unknown types are rejected
// with InvalidArgs.
func (s *Service) SetReturnKeyType(t uint32) *dbus.Error {
	if !ime.ReturnKeyType(t).Valid() {
		return invalidArg("return key type %d out of range", t)
	}
	return s.fail("SetReturnKeyType", s.agent.SetReturnKeyType(ime.ReturnKeyType(t)))
}

// GetReturnKeyType returns the return key label.
func (s *Service) GetReturnKeyType() (uint32, *dbus.Error) {
	t, err := s.agent.GetReturnKeyType()
	return uint32(t), s.fail("GetReturnKeyType", err)
}

// SetReturnKeyDisabled enables or disables the return key.
func (s *Service) SetReturnKeyDisabled(disabled bool) *dbus.Error {
	return s.fail("SetReturnKeyDisabled", s.agent.SetReturnKeyDisabled(disabled))
}

// GetReturnKeyDisabled reports whether the return key is disabled.
func (s *Service) GetReturnKeyDisabled() (bool, *dbus.Error) {
	d, err := s.agent.GetReturnKeyDisabled()
	return d, s.fail("GetReturnKeyDisabled", err)
}

// SetLayout reports false when the layout is outside the enumerated range.
func (s *Service) SetLayout(layout uint32) (bool, *dbus.Error) {
	ok, err := s.agent.SetLayout(ime.Layout(layout))
	return ok, s.fail("SetLayout", err)
}

// GetLayout returns the current layout.
func (s *Service) GetLayout() (uint32, *dbus.Error) {
	l, err := s.agent.GetLayout()
	return uint32(l), s.fail("GetLayout", err)
}

// ResetInputContext asks the keyboard to reset its state for ic.
func (s *Service) ResetInputContext(ic int32) *dbus.Error {
	return s.fail("ResetInputContext", s.agent.ResetInputContext(ime.InputContext(ic)))
}

// ProcessKeyEvent returns 1 when the keyboard consumed the key.
func (s *Service) ProcessKeyEvent(code, mask, layout uint32) (uint32, *dbus.Error) {
	return uint32(s.agent.ProcessKeyEvent(code, mask, layout)), nil
}

// SetDisplayLanguage sets the UI language.
func (s *Service) SetDisplayLanguage(lang string) *dbus.Error {
	return s.fail("SetDisplayLanguage", s.agent.SetDisplayLanguage(lang))
}

// SetAccessibilityState reports whether a screen reader is active.
func (s *Service) SetAccessibilityState(on bool) *dbus.Error {
	return s.fail("SetAccessibilityState", s.agent.SetAccessibilityState(on))
}

// SetCapsMode sets the automatic capitalization state.
func (s *Service) SetCapsMode(on bool) *dbus.Error {
	return s.fail("SetCapsMode", s.agent.SetCapsMode(on))
}

// GetLanguageLocale returns the keyboard package language.
func (s *Service) GetLanguageLocale() (string, *dbus.Error) {
	lang, err := s.agent.GetLanguageLocale()
	return lang, s.fail("GetLanguageLocale", err)
}

// UpdateKeyboardIME selects the keyboard used for non-numeric fields.
func (s *Service) UpdateKeyboardIME(id string) *dbus.Error {
	return s.fail("UpdateKeyboardIME", s.agent.UpdateKeyboardIME(id))
}

// ContentMessage passes a protocol frame from in-process content to the
// direct channel.
func (s *Service) ContentMessage(frame string) (bool, *dbus.Error) {
	if !s.agent.Deliver(frame) {
		return false, dbus.NewError(ErrorUnavailable, []interface{}{"no direct channel"})
	}
	return true, nil
}

// Health returns the JSON health report.
func (s *Service) Health() (string, *dbus.Error) {
	if s.health == nil {
		return "", dbus.NewError(ErrorUnavailable, []interface{}{"health checks not configured"})
	}
	ctx, cancel := context.WithTimeout(context.Background(), healthTimeout)
	defer cancel()
	js, err := s.health.Report(ctx).JSON()
	return js, s.fail("Health", err)
}
