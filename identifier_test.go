/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package dbops

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsValidIdentifier(t *testing.T) {
	for _, name := range []string{"orders", "schema_migrations", "public.orders", "_tmp1"} {
		require.True(t, IsValidIdentifier(name), name)
	}
	for _, name := range []string{"", "1orders", "orders;", "orders; DROP TABLE orders", "a.b.c", "\"orders\"", "or-ders", "orders "} {
		require.False(t, IsValidIdentifier(name), name)
	}
}
