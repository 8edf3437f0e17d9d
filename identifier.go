/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package dbops

import "regexp"

var identifierRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// IsValidIdentifier reports whether name is a plain SQL identifier, optionally schema-qualified
// ("orders", "public.orders"). Names that pass can be put into SQL text without quoting.
func IsValidIdentifier(name string) bool {
	return identifierRe.MatchString(name)
}
