package pgstore

import (
	"context"
	"io/fs"
	"os"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PaulFidika/subledger/entitlements"
	migrations "github.com/PaulFidika/subledger/migrations/postgres"
	"github.com/PaulFidika/subledger/storage/storagetest"
)

func TestStoreConformance(t *testing.T) {
	dsn := os.Getenv("SUBLEDGER_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("SUBLEDGER_TEST_PG_DSN not set")
	}
	ctx := context.Background()
	s, err := Open(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	_, err = migrations.UpPool(ctx, s.Pool())
	require.NoError(t, err)

	storagetest.Run(t, func(t *testing.T) entitlements.Backend {
		_, err := s.Pool().Exec(ctx, `TRUNCATE subledger.entitlement_tokens, subledger.entitlement_operators, subledger.entitlement_expiries`)
		require.NoError(t, err)
		return NewStore(s.Pool())
	})
}

var tableRef = regexp.MustCompile(`(?i)\b(?:TABLE(?: IF (?:NOT )?EXISTS)?|ON)\s+([a-z_][a-z0-9_.]*)`)

func TestMigrationsUseStoreSchema(t *testing.T) {
	files, err := fs.Glob(migrations.FS, "*.sql")
	require.NoError(t, err)
	require.NotEmpty(t, files)
	var refs int
	for _, f := range files {
		b, err := fs.ReadFile(migrations.FS, f)
		require.NoError(t, err)
		for _, m := range tableRef.FindAllStringSubmatch(string(b), -1) {
			refs++
			assert.Regexp(t, "^"+Schema+`\.`, m[1], "%s: %s", f, m[0])
		}
	}
	assert.NotZero(t, refs)

	s := NewStore(nil)
	assert.Equal(t, Schema+".entitlement_tokens", s.tokensTable())
	assert.Equal(t, Schema+".entitlement_expiries", s.expiriesTable())
}
