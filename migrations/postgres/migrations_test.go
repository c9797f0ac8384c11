package migrations

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedMigrationsDiscovered(t *testing.T) {
	ms := Migrations.Sorted()
	require.NotEmpty(t, ms)
	assert.Equal(t, "20260301000001", ms[0].Name)
	assert.Equal(t, "entitlements", ms[0].Comment)
}
