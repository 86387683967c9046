package ime

import "fmt"

// InputContext is the host-assigned id of one focusable text field.
type InputContext int32

// NoContext is the id sent to the host when the target should be the
// currently focused context.
const NoContext InputContext = -1

// IsTemporary reports whether ic is a placeholder id, i.e. its low 16 bits
// are zero.
func (ic InputContext) IsTemporary() bool {
	return ic&0xFFFF == 0
}

// String formats the id the way the host logs it.
func (ic InputContext) String() string {
	return fmt.Sprintf("%#x", uint32(ic))
}

// ShowContext carries the field attributes delivered with a show request.
type ShowContext struct {
	Layout            Layout
	ReturnKeyType     ReturnKeyType
	ReturnKeyDisabled bool
	CapsMode          bool
	CursorPos         int
}
