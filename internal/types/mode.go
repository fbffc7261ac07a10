package types

import "strings"

// Mode selects how the routing engine orders candidate sources.
type Mode string

const (
	ModeFastFirst  Mode = "fast_first"
	ModeCheapFirst Mode = "cheap_first"
)

// ParseMode normalizes a mode name. The second return value is false when
// the name is not recognised and the fallback was returned instead.
func ParseMode(s string, fallback Mode) (Mode, bool) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeFastFirst:
		return ModeFastFirst, true
	case ModeCheapFirst:
		return ModeCheapFirst, true
	default:
		return fallback, false
	}
}

func (m Mode) Valid() bool {
	return m == ModeFastFirst || m == ModeCheapFirst
}
