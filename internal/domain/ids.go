package domain

import "strings"

// NormalizeID is the single canonical form for course, connection and user
// ids. Every map keyed by an id stores and looks up the normalized value.
func NormalizeID(id string) string {
	return strings.TrimSpace(id)
}
