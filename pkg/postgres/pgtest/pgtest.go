// Package pgtest connects integration tests to a real Postgres. Tests are
// skipped unless HRE_TEST_POSTGRES_DSN is set.
package pgtest

import (
	"context"
	"os"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/pkg/postgres"
)

const dsnEnv = "HRE_TEST_POSTGRES_DSN"

// Open returns a client with the schema applied and truncates the given
// tables before and after the test.
func Open(t testing.TB, tables ...string) *postgres.Client {
	t.Helper()
	dsn := os.Getenv(dsnEnv)
	if dsn == "" {
		t.Skipf("%s not set; skipping Postgres integration test", dsnEnv)
	}
	c, err := postgres.Open(dsn)
	if err != nil {
		t.Fatalf("connecting to test database: %v", err)
	}
	ctx := context.Background()
	if err := c.EnsureSchema(ctx); err != nil {
		c.Close()
		t.Fatalf("%v", err)
	}
	truncate := func() {
		for _, table := range tables {
			if _, err := c.DB.ExecContext(ctx, "TRUNCATE TABLE "+table+" CASCADE"); err != nil {
				t.Errorf("truncating %s: %v", table, err)
			}
		}
	}
	truncate()
	t.Cleanup(func() {
		truncate()
		c.Close()
	})
	return c
}
