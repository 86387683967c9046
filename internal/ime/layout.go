package ime

import "strings"

// Layout is the virtual keyboard layout requested by the focused field.
type Layout uint32

const (
	LayoutNormal Layout = iota
	LayoutNumber
	LayoutEmail
	LayoutURL
	LayoutPhoneNumber
	LayoutIP
	LayoutMonth
	LayoutNumberOnly
	LayoutInvalid
	LayoutHex
	LayoutTerminal
	LayoutPassword
	LayoutDateTime

	layoutMax
)

var layoutNames = [...]string{
	LayoutNormal:      "normal",
	LayoutNumber:      "number",
	LayoutEmail:       "email",
	LayoutURL:         "url",
	LayoutPhoneNumber: "phonenumber",
	LayoutIP:          "ip",
	LayoutMonth:       "month",
	LayoutNumberOnly:  "numberonly",
	LayoutInvalid:     "invalid",
	LayoutHex:         "hex",
	LayoutTerminal:    "terminal",
	LayoutPassword:    "password",
	LayoutDateTime:    "datetime",
}

// Valid reports whether l lies inside the enumerated range.
func (l Layout) Valid() bool {
	return l < layoutMax
}

// Numeric reports whether l belongs to the numeric family that always uses
// the default keyboard engine.
func (l Layout) Numeric() bool {
	switch l {
	case LayoutPhoneNumber, LayoutIP, LayoutMonth, LayoutNumberOnly:
		return true
	}
	return false
}

// String returns the name used on the content wire.
func (l Layout) String() string {
	if !l.Valid() {
		return "unknown"
	}
	return layoutNames[l]
}

// ParseLayout maps a wire name back to a Layout.
func ParseLayout(s string) (Layout, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range layoutNames {
		if name == s {
			return Layout(i), true
		}
	}
	return 0, false
}
