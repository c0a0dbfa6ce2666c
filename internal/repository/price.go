package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kjannette/energy-monitor/internal/models"
	"github.com/shopspring/decimal"
)

const insertPriceSQL = `INSERT INTO electricity_prices (datetime, value, geo_zone, meta_tags)
	 VALUES ($1, $2, $3, $4)
	 ON CONFLICT (datetime, geo_zone) DO NOTHING`

// PriceRepo is the Postgres PriceStore.
type PriceRepo struct {
	pool *pgxpool.Pool
}

func NewPriceRepo(pool *pgxpool.Pool) *PriceRepo {
	return &PriceRepo{pool: pool}
}

func (r *PriceRepo) SavePrices(ctx context.Context, prices []models.PriceRecord) error {
	if len(prices) == 0 {
		return nil
	}
	prices, err := normalizeBatch(prices)
	if err != nil {
		return storeErr("save prices", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return storeErr("save prices", fmt.Errorf("begin: %w", err))
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, p := range prices {
		batch.Queue(insertPriceSQL, p.Timestamp, toNumeric(p.Value), string(p.Zone), p.Tags)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return storeErr("save prices", fmt.Errorf("insert: %w", err))
	}

	if err := tx.Commit(ctx); err != nil {
		return storeErr("save prices", fmt.Errorf("commit: %w", err))
	}
	return nil
}

func (r *PriceRepo) GetLastPrices(ctx context.Context, limit int) ([]models.PriceRecord, error) {
	if limit <= 0 {
		return nil, storeErr("get last prices", errInvalidLimit)
	}
	rows, err := r.pool.Query(ctx,
		`SELECT datetime, value, geo_zone, meta_tags FROM electricity_prices
		 ORDER BY datetime DESC, geo_zone ASC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, storeErr("get last prices", err)
	}
	defer rows.Close()

	prices, err := collectPrices(rows)
	if err != nil {
		return nil, storeErr("get last prices", err)
	}
	return prices, nil
}

func (r *PriceRepo) GetDailyStats(ctx context.Context, day time.Time) (*models.DailyStats, error) {
	start, end := DayBounds(day)

	var maxN, minN, avgN pgtype.Numeric
	var count int64
	err := r.pool.QueryRow(ctx,
		`SELECT MAX(value), MIN(value), AVG(value), COUNT(*)
		 FROM electricity_prices
		 WHERE datetime >= $1 AND datetime < $2`,
		start, end,
	).Scan(&maxN, &minN, &avgN, &count)
	if err != nil {
		return nil, storeErr("get daily stats", err)
	}

	stats := &models.DailyStats{Count: count}
	for _, f := range []struct {
		src pgtype.Numeric
		dst **decimal.Decimal
	}{{maxN, &stats.Max}, {minN, &stats.Min}, {avgN, &stats.Avg}} {
		if !f.src.Valid {
			continue
		}
		d, err := fromNumeric(f.src)
		if err != nil {
			return nil, storeErr("get daily stats", err)
		}
		*f.dst = &d
	}
	return stats, nil
}

func (r *PriceRepo) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// --- numeric helpers ---

func toNumeric(d decimal.Decimal) pgtype.Numeric {
	return pgtype.Numeric{Int: d.Coefficient(), Exp: d.Exponent(), Valid: true}
}

func fromNumeric(n pgtype.Numeric) (decimal.Decimal, error) {
	if n.NaN || n.InfinityModifier != pgtype.Finite || n.Int == nil {
		return decimal.Decimal{}, fmt.Errorf("non-finite numeric")
	}
	return decimal.NewFromBigInt(n.Int, n.Exp), nil
}

// --- scan helpers ---

type rowsIter interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func collectPrices(rows rowsIter) ([]models.PriceRecord, error) {
	out := []models.PriceRecord{}
	for rows.Next() {
		var (
			ts   time.Time
			num  pgtype.Numeric
			zone string
			tags *string
		)
		if err := rows.Scan(&ts, &num, &zone, &tags); err != nil {
			return nil, err
		}
		value, err := fromNumeric(num)
		if err != nil {
			return nil, err
		}
		z, err := models.ParseZone(zone)
		if err != nil {
			return nil, err
		}
		p := models.NewPriceRecord(ts, value, z)
		p.Tags = tags
		out = append(out, p)
	}
	return out, rows.Err()
}
