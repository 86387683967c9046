package hostbus

import (
	"log/slog"

	"github.com/godbus/dbus/v5"

	"webime/internal/ime"
)

// Emitter sends signals. *dbus.Conn satisfies it.
type Emitter interface {
	Emit(path dbus.ObjectPath, name string, values ...interface{}) error
}

type signaler struct {
	emitter Emitter
	path    dbus.ObjectPath
	iface   string
	logger  *slog.Logger
}

func (s signaler) emit(member string, values ...interface{}) {
	if err := s.emitter.Emit(s.path, s.iface+"."+member, values...); err != nil {
		s.logger.Warn("emit signal", "signal", member, "error", err)
	}
}

// Host forwards keyboard requests to the framework as signals.
type Host struct {
	signaler
}

// NewHost creates a Host emitting on path under iface.
func NewHost(emitter Emitter, path dbus.ObjectPath, iface string, logger *slog.Logger) *Host {
	return &Host{signaler{emitter: emitter, path: path, iface: iface, logger: logger}}
}

func (h *Host) CommitString(ic ime.InputContext, text string) {
	h.emit("CommitString", int32(ic), text)
}

func (h *Host) UpdatePreeditString(ic ime.InputContext, text string) {
	h.emit("UpdatePreeditString", int32(ic), text)
}

func (h *Host) HidePreeditString(ic ime.InputContext) {
	h.emit("HidePreeditString", int32(ic))
}

func (h *Host) ForwardKeyEvent(ic ime.InputContext, code, mask uint32) {
	h.emit("ForwardKeyEvent", int32(ic), code, mask)
}

func (h *Host) SetKeyboardSizeHints(portraitW, portraitH, landscapeW, landscapeH int) {
	h.emit("SetKeyboardSizeHints", int32(portraitW), int32(portraitH), int32(landscapeW), int32(landscapeH))
}

func (h *Host) SetSelection(start, end int) {
	h.emit("SetSelection", int32(start), int32(end))
}

func (h *Host) GetSelection() {
	h.emit("GetSelection")
}

func (h *Host) GetSurroundingText(maxBefore, maxAfter int) {
	h.emit("GetSurroundingText", int32(maxBefore), int32(maxAfter))
}

func (h *Host) DeleteSurroundingText(offset, length int) {
	h.emit("DeleteSurroundingText", int32(offset), int32(length))
}

func (h *Host) SelectKeyboard(id string) {
	h.emit("SelectKeyboard", id)
}

func (h *Host) NotifyExit() {
	h.emit("Exited")
}

// Surface asks the framework to show, hide or resize the keyboard window.
type Surface struct {
	signaler
}

// NewSurface creates a Surface emitting on path under iface.
func NewSurface(emitter Emitter, path dbus.ObjectPath, iface string, logger *slog.Logger) *Surface {
	return &Surface{signaler{emitter: emitter, path: path, iface: iface, logger: logger}}
}

func (s *Surface) Show() error {
	return s.emitter.Emit(s.path, s.iface+".ShowSurface")
}

func (s *Surface) Hide() error {
	return s.emitter.Emit(s.path, s.iface+".HideSurface")
}

func (s *Surface) Resize(width, height int) error {
	return s.emitter.Emit(s.path, s.iface+".ResizeSurface", int32(width), int32(height))
}
