package ime

// ReturnKeyType selects the label of the return key.
type ReturnKeyType uint32

const (
	ReturnKeyDefault ReturnKeyType = iota
	ReturnKeyDone
	ReturnKeyGo
	ReturnKeyJoin
	ReturnKeyLogin
	ReturnKeyNext
	ReturnKeySearch
	ReturnKeySend
	ReturnKeySignIn
)

var returnKeyNames = [...]string{
	"default", "done", "go", "join", "login", "next", "search", "send", "signin",
}

// Valid reports whether t is a known return key type.
func (t ReturnKeyType) Valid() bool {
	return int(t) < len(returnKeyNames)
}

func (t ReturnKeyType) String() string {
	if int(t) < len(returnKeyNames) {
		return returnKeyNames[t]
	}
	return "default"
}

// Key event modifier masks understood by the host framework.
const (
	KeyNullMask    uint32 = 0
	KeyShiftMask   uint32 = 1 << 0
	KeyCapsMask    uint32 = 1 << 1
	KeyControlMask uint32 = 1 << 2
	KeyAltMask     uint32 = 1 << 3
	KeyReleaseMask uint32 = 1 << 15
)

// KeyResult is the outcome of offering a hardware key event to the content.
type KeyResult uint32

const (
	// KeyNotConsumed lets the host deliver the key to the application.
	KeyNotConsumed KeyResult = iota
	// KeyConsumed means the keyboard handled the key.
	KeyConsumed
)

func (r KeyResult) String() string {
	if r == KeyConsumed {
		return "consumed"
	}
	return "not_consumed"
}

// Surface is the host-owned drawable the keyboard lives in. The core only
// shows, hides and resizes it.
type Surface interface {
	Show() error
	Hide() error
	Resize(width, height int) error
}

// ParseReturnKeyType maps a wire name back to a ReturnKeyType.
func ParseReturnKeyType(s string) (ReturnKeyType, bool) {
	for i, name := range returnKeyNames {
		if name == s {
			return ReturnKeyType(i), true
		}
	}
	return ReturnKeyDefault, false
}
