package testutil

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/kjannette/energy-monitor/internal/db"
	"github.com/kjannette/energy-monitor/internal/repository"
)

// SetupPool connects to TEST_DATABASE_URL, creates the schema and empties the
// price table. Tests are skipped when no test database is configured.
func SetupPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	_ = godotenv.Load("../../.env")

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping Postgres integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.Connect(ctx, dsn, 4)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { pool.Close() })

	if err := repository.EnsureSchema(ctx, pool); err != nil {
		t.Fatalf("schema: %v", err)
	}
	ResetPrices(t, pool)
	return pool
}

// ResetPrices removes every stored price.
func ResetPrices(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()
	if _, err := pool.Exec(context.Background(), `TRUNCATE electricity_prices`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
}
