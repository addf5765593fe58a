// Package utils provides shared utilities for text, distance formatting, and logging.
package utils

import (
	"strconv"
	"strings"
)

// Truncate returns s truncated to maxLen characters, with "..." appended if truncated.
// If maxLen is 0 or negative, returns s unchanged.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}

// JoinLimited joins up to max items with ", " and notes how many were left out.
// If max is 0 or negative, every item is joined.
func JoinLimited(items []string, max int) string {
	if max <= 0 || len(items) <= max {
		return strings.Join(items, ", ")
	}
	return strings.Join(items[:max], ", ") + " (+" + strconv.Itoa(len(items)-max) + " more)"
}
