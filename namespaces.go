package fieldsync

import "fmt"

// Namespaces is the set of current cache namespaces for one worker version.
// It is an immutable value: a new deploy builds a new set with Versioned and
// lets lifecycle activation delete everything else.
type Namespaces struct {
	Shell   string // pre-populated essential documents
	Runtime string // static assets and documents captured at runtime
	API     string // API query responses for offline reading
}

// Versioned returns "<prefix>-shell-<version>", "<prefix>-runtime-<version>"
// and "<prefix>-api-<version>".
func Versioned(prefix, version string) Namespaces {
	return Namespaces{
		Shell:   fmt.Sprintf("%s-shell-%s", prefix, version),
		Runtime: fmt.Sprintf("%s-runtime-%s", prefix, version),
		API:     fmt.Sprintf("%s-api-%s", prefix, version),
	}
}

// Names returns the three names in a stable order.
func (n Namespaces) Names() []string {
	return []string{n.Shell, n.Runtime, n.API}
}

// Current reports whether ns is one of the three current names.
func (n Namespaces) Current(ns string) bool {
	return ns != "" && (ns == n.Shell || ns == n.Runtime || ns == n.API)
}
