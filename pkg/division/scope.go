package division

import (
	"net/url"
	"strings"
)

// Scope selects which division (tenant) a remote commerce call operates in.
// The zero value means "no explicit selection" and resolves to whatever the
// deployment default is.
type Scope struct {
	DivisionID string `json:"division_id"`
	ShowAll    bool   `json:"show_all"`
}

// Apply attaches the scope to outgoing query parameters. Show-all wins over
// a concrete division id, matching the remote API's precedence.
func (s Scope) Apply(q url.Values) {
	if s.ShowAll {
		q.Set("showAllDivisions", "true")
		return
	}
	if id := strings.TrimSpace(s.DivisionID); id != "" {
		q.Set("divisionId", id)
	}
}

// IsZero reports whether no selection was made.
func (s Scope) IsZero() bool {
	return !s.ShowAll && strings.TrimSpace(s.DivisionID) == ""
}
