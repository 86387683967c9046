// Package registry enumerates installed web keyboard packages and resolves
// the content descriptor backing the active IME.
package registry

import (
	"errors"
	"strings"
)

// ErrNotFound is returned by Lookup when no package carries the id.
var ErrNotFound = errors.New("registry: package not found")

// Option is a capability flag advertised by a package.
type Option uint32

const (
	OptionStandAlone Option = 1 << iota
	OptionNeedScreenInfo
	OptionNeedSpotLocationInfo
	OptionAutoRestart
)

// DefaultOptions is applied when a manifest lists no options.
const DefaultOptions = OptionStandAlone | OptionNeedScreenInfo | OptionNeedSpotLocationInfo | OptionAutoRestart

var optionNames = map[string]Option{
	"stand_alone":             OptionStandAlone,
	"need_screen_info":        OptionNeedScreenInfo,
	"need_spot_location_info": OptionNeedSpotLocationInfo,
	"auto_restart":            OptionAutoRestart,
}

// ParseOptions folds option names into a flag set. Unknown names are ignored.
func ParseOptions(names []string) Option {
	if len(names) == 0 {
		return DefaultOptions
	}
	var o Option
	for _, n := range names {
		o |= optionNames[strings.ToLower(n)]
	}
	return o
}

// Has reports whether all bits of flag are set.
func (o Option) Has(flag Option) bool {
	return o&flag == flag
}

// Descriptor identifies the web content behind one keyboard. It is
// immutable once resolved.
type Descriptor struct {
	ID       string
	Name     string
	IconPath string
	EntryURL string
	Language string
	Options  Option
	RootPath string

	// Revision changes whenever the package is reinstalled or updated.
	Revision string
}

// EntryPath is the path of the content entry document relative to the
// package root.
const EntryPath = "res/wgt/index.html"

// EntryURL builds the file URL of the entry document under root.
func EntryURL(root string) string {
	return "file://" + strings.TrimRight(root, "/") + "/" + EntryPath
}
