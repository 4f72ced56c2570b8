// Package nodetree manipulates the hierarchical string paths exposed by a
// lock-in data server, e.g. /dev1234/demods/0/rate.  Paths are
// case-insensitive on the wire; this package normalizes them to lower case.
package nodetree

import (
	"fmt"
	"strings"
)

// Path assembles a node path from a device id and a sequence of elements,
// which may be strings or integers.  Path("dev1234", "demods", 0, "rate")
// returns "/dev1234/demods/0/rate".
func Path(device string, elements ...interface{}) string {
	parts := make([]string, 0, len(elements)+1)
	parts = append(parts, strings.ToLower(device))
	for _, e := range elements {
		switch v := e.(type) {
		case string:
			parts = append(parts, strings.ToLower(v))
		case int:
			parts = append(parts, fmt.Sprintf("%d", v))
		default:
			parts = append(parts, strings.ToLower(fmt.Sprint(v)))
		}
	}
	return "/" + strings.Join(parts, "/")
}

// Normalize lower-cases a path and guarantees a single leading slash with no
// trailing slash.
func Normalize(path string) string {
	path = strings.ToLower(strings.TrimSpace(path))
	path = strings.Trim(path, "/")
	return "/" + path
}

// Device extracts the device id from a normalized path, or "" if the path is
// empty.
func Device(path string) string {
	parts := strings.Split(strings.Trim(Normalize(path), "/"), "/")
	if len(parts) == 0 {
		return ""
	}
	return parts[0]
}

// Match reports whether path matches pattern.  A "*" element matches exactly
// one path element; a trailing "*" matches any remainder.  The bare pattern
// "*" matches every path.
func Match(pattern, path string) bool {
	pattern = Normalize(pattern)
	path = Normalize(path)
	if pattern == "/*" {
		return true
	}
	pparts := strings.Split(strings.Trim(pattern, "/"), "/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	for i, pp := range pparts {
		if pp == "*" && i == len(pparts)-1 {
			return true
		}
		if i >= len(parts) {
			return false
		}
		if pp != "*" && pp != parts[i] {
			return false
		}
	}
	return len(parts) == len(pparts)
}

// Setting is a single (path, value) pair destined for the node tree.
type Setting struct {
	Path  string
	Value interface{}
}

// S is shorthand for constructing a Setting.
func S(path string, value interface{}) Setting {
	return Setting{Path: path, Value: value}
}

// Settings is a batch of settings applied in order.
type Settings []Setting

// Paths returns the paths of the batch, in order.
func (s Settings) Paths() []string {
	out := make([]string, len(s))
	for i, set := range s {
		out[i] = set.Path
	}
	return out
}

// Flags for ListNodes.
const (
	// ListRecursive walks the node tree below the given path.
	ListRecursive = 1
	// ListAbsolute returns absolute rather than relative paths.
	ListAbsolute = 2
	// ListLeavesOnly omits branch nodes from the listing.
	ListLeavesOnly = 4
)
