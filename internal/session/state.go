package session

import "webime/internal/ime"

// Phase is the coarse lifecycle position of the session.
type Phase int

const (
	PhaseDetached Phase = iota
	PhaseAttached
	PhaseFocused
	PhaseVisible
)

func (p Phase) String() string {
	switch p {
	case PhaseAttached:
		return "attached"
	case PhaseFocused:
		return "focused"
	case PhaseVisible:
		return "visible"
	}
	return "detached"
}

// State is the authoritative keyboard state. One instance lives for the
// process lifetime.
type State struct {
	IC        ime.InputContext
	FocusedIC ime.InputContext

	Layout     ime.Layout
	CapsMode   bool
	NeedsReset bool
	Visible    bool
	Angle      int

	PortraitWidth   int
	PortraitHeight  int
	LandscapeWidth  int
	LandscapeHeight int

	ReturnKeyType     ime.ReturnKeyType
	ReturnKeyDisabled bool
	IMData            []byte

	Language           uint32
	DisplayLanguage    string
	AccessibilityState bool
	KeyboardID         string
}

// Phase derives the lifecycle phase from the tracked ids and visibility.
func (s State) Phase() Phase {
	switch {
	case s.Visible:
		return PhaseVisible
	case s.FocusedIC != 0:
		return PhaseFocused
	case s.IC != 0:
		return PhaseAttached
	}
	return PhaseDetached
}

// Landscape reports whether the angle selects the landscape pair.
func (s State) Landscape() bool {
	return s.Angle == 90 || s.Angle == 270
}

// Size returns the keyboard size for the current angle.
func (s State) Size() (width, height int) {
	if s.Landscape() {
		return s.LandscapeWidth, s.LandscapeHeight
	}
	return s.PortraitWidth, s.PortraitHeight
}

// clone copies s so callers outside the loop never share the IME data slice.
func (s State) clone() State {
	s.IMData = append([]byte(nil), s.IMData...)
	return s
}
