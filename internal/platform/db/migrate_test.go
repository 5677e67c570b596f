package db

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMigrationSource(t *testing.T) {
	require.Equal(t, "file:///srv/ledger/migrations", migrationSource("/srv/ledger/migrations"))
	require.Equal(t, "file://migrations", migrationSource("migrations"))
}
