package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS electricity_prices (
    datetime  TIMESTAMPTZ NOT NULL,
    value     NUMERIC     NOT NULL,
    geo_zone  TEXT        NOT NULL
              CHECK (geo_zone IN ('Peninsula', 'Canarias', 'Baleares', 'Ceuta', 'Melilla')),
    meta_tags TEXT,
    PRIMARY KEY (datetime, geo_zone)
);

CREATE INDEX IF NOT EXISTS idx_electricity_prices_datetime
    ON electricity_prices (datetime DESC);`

// EnsureSchema creates the price table and its index when missing.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
