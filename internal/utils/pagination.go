// Package utils holds small helpers with no domain knowledge, shared by
// layers that should not depend on each other.
package utils

import "strconv"

// AtoiDefault parses s as a base-10 int and falls back to def when s is
// empty or not a valid integer. Handy for optional query parameters where
// a bad value should degrade to the default rather than error.
func AtoiDefault(s string, def int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
