package handshake

import "strings"

// FormatCommand renders a script invocation name('arg', ...); and truncates
// it to maxLen bytes. A maxLen of zero disables truncation.
func FormatCommand(maxLen int, name string, args ...string) string {
	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('(')
	for i, a := range args {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('\'')
		b.WriteString(a)
		b.WriteByte('\'')
	}
	b.WriteString(");")

	s := b.String()
	if maxLen > 0 && len(s) > maxLen {
		s = s[:maxLen]
	}
	return s
}
