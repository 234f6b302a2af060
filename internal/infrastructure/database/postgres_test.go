package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeDSN(t *testing.T) {
	cases := map[string]string{
		"postgresql+asyncpg://u:p@db:5432/app": "postgresql://u:p@db:5432/app",
		"  postgres+pgx://u@db/app ":           "postgres://u@db/app",
		"postgres://u@db/app?sslmode=disable":  "postgres://u@db/app?sslmode=disable",
		"":                                     "",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeDSN(in), in)
	}
}

func TestMigrationsEmbedded(t *testing.T) {
	entries, err := migrationsFS.ReadDir("migrations")
	assert.NoError(t, err)
	assert.Len(t, entries, 2)
}
