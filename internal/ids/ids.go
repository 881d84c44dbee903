// Package ids generates the identifiers used as primary keys for users,
// roles, API keys and global rules.
package ids

import "github.com/oklog/ulid/v2"

// New returns a ULID: 26 characters, time-ordered, safe to expose in URLs
// and log lines. The library's locked monotonic entropy keeps IDs minted in
// the same millisecond sortable without package-level state here.
func New() string {
	return ulid.Make().String()
}
