package session

import "webime/internal/ime"

// Host is the input method framework seen from the keyboard. Every method
// is a one-way request.
type Host interface {
	CommitString(ic ime.InputContext, text string)
	UpdatePreeditString(ic ime.InputContext, text string)
	HidePreeditString(ic ime.InputContext)
	ForwardKeyEvent(ic ime.InputContext, code, mask uint32)
	SetKeyboardSizeHints(portraitW, portraitH, landscapeW, landscapeH int)
	SetSelection(start, end int)
	GetSelection()
	GetSurroundingText(maxBefore, maxAfter int)
	DeleteSurroundingText(offset, length int)
	SelectKeyboard(id string)
	NotifyExit()
}

// NopHost ignores every request. Embed it to implement only part of Host.
type NopHost struct{}

func (NopHost) CommitString(ime.InputContext, string)            {}
func (NopHost) UpdatePreeditString(ime.InputContext, string)     {}
func (NopHost) HidePreeditString(ime.InputContext)               {}
func (NopHost) ForwardKeyEvent(ime.InputContext, uint32, uint32) {}
func (NopHost) SetKeyboardSizeHints(int, int, int, int)          {}
func (NopHost) SetSelection(int, int)                            {}
func (NopHost) GetSelection()                                    {}
func (NopHost) GetSurroundingText(int, int)                      {}
func (NopHost) DeleteSurroundingText(int, int)                   {}
func (NopHost) SelectKeyboard(string)                            {}
func (NopHost) NotifyExit()                                      {}
