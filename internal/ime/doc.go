// Package ime holds the vocabulary shared between the keyboard session, the
// protocol channels and the host boundary.
//
// # Input contexts
//
// The host framework identifies every focusable text field by an integer
// input-context id. Ids whose low 16 bits are zero are temporary: the host
// has not yet told us which concrete context they belong to, and the first
// non-temporary id seen replaces them.
//
//	0x00010000  temporary
//	0x00010001  concrete
//
// # Layouts
//
// The keyboard layout requested by the focused field is one of the Layout
// constants. The numeric family (PhoneNumber, IP, Month, NumberOnly) forces
// the default keyboard engine on focus-in.
//
//	┌─────────────┬───────┬──────────────────────────┐
//	│ Layout      │ Value │ Keyboard on focus-in     │
//	├─────────────┼───────┼──────────────────────────┤
//	│ Normal      │ 0     │ last configured          │
//	│ Number      │ 1     │ last configured          │
//	│ Email       │ 2     │ last configured          │
//	│ URL         │ 3     │ last configured          │
//	│ PhoneNumber │ 4     │ default                  │
//	│ IP          │ 5     │ default                  │
//	│ Month       │ 6     │ default                  │
//	│ NumberOnly  │ 7     │ default                  │
//	│ (invalid)   │ 8     │ -                        │
//	│ Hex         │ 9     │ last configured          │
//	│ Terminal    │ 10    │ last configured          │
//	│ Password    │ 11    │ last configured          │
//	│ DateTime    │ 12    │ last configured          │
//	└─────────────┴───────┴──────────────────────────┘
package ime
