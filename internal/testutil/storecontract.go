package testutil

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/kjannette/energy-monitor/internal/models"
	"github.com/kjannette/energy-monitor/internal/repository"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countAll is large enough to read back every record a contract test writes.
const countAll = 10_000

// Price builds a record for tests.
func Price(ts time.Time, value string, zone models.Zone) models.PriceRecord {
	return models.NewPriceRecord(ts, decimal.RequireFromString(value), zone)
}

// HourlyPrices returns n Peninsula records starting at start, one per hour.
func HourlyPrices(start time.Time, values ...string) []models.PriceRecord {
	out := make([]models.PriceRecord, len(values))
	for i, v := range values {
		out[i] = Price(start.Add(time.Duration(i)*time.Hour), v, models.ZonePeninsula)
	}
	return out
}

// RunPriceStoreContract runs the behaviour every PriceStore engine must share.
// newStore must return an empty store for each call.
func RunPriceStoreContract(t *testing.T, newStore func(t *testing.T) repository.PriceStore) {
	day := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

	t.Run("SaveIsIdempotent", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		batch := HourlyPrices(day, "10.5", "11.25", "9.75")

		require.NoError(t, store.SavePrices(ctx, batch))
		n1 := count(t, store)

		require.NoError(t, store.SavePrices(ctx, batch))
		n2 := count(t, store)

		assert.Equal(t, 3, n1)
		assert.Equal(t, n1, n2)
	})

	t.Run("PartialConflictKeepsExistingAndAddsNew", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		first := []models.PriceRecord{
			Price(day, "100", models.ZonePeninsula),
			Price(day.Add(time.Hour), "110", models.ZonePeninsula),
		}
		require.NoError(t, store.SavePrices(ctx, first))

		second := []models.PriceRecord{
			Price(day.Add(time.Hour), "999", models.ZonePeninsula), // conflicts
			Price(day.Add(2*time.Hour), "120", models.ZonePeninsula),
			Price(day.Add(time.Hour), "130", models.ZoneCanarias), // same time, other zone
		}
		require.NoError(t, store.SavePrices(ctx, second))

		all, err := store.GetLastPrices(ctx, countAll)
		require.NoError(t, err)
		require.Len(t, all, 4)

		for _, p := range all {
			if p.Key() == first[1].Key() {
				assert.True(t, p.Value.Equal(decimal.NewFromInt(110)), "existing record must not be overwritten, got %s", p.Value)
			}
		}
	})

	t.Run("EmptyBatchIsNoop", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.SavePrices(context.Background(), nil))
		assert.Equal(t, 0, count(t, store))
	})

	t.Run("InvalidRecordRejectsWholeBatch", func(t *testing.T) {
		store := newStore(t)
		batch := []models.PriceRecord{
			Price(day, "1", models.ZonePeninsula),
			Price(day, "2", models.Zone("Atlantis")),
		}
		err := store.SavePrices(context.Background(), batch)
		require.Error(t, err)

		var se *repository.StoreError
		assert.True(t, errors.As(err, &se))
		assert.Equal(t, 0, count(t, store))
	})

	t.Run("ZoneAndTagsRoundTrip", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		tag := "forecast"

		var batch []models.PriceRecord
		for i, z := range models.Zones {
			p := Price(day.Add(time.Duration(i)*time.Minute), "50", z)
			if z == models.ZoneMelilla {
				p.Tags = &tag
			}
			batch = append(batch, p)
		}
		require.NoError(t, store.SavePrices(ctx, batch))

		got, err := store.GetLastPrices(ctx, countAll)
		require.NoError(t, err)
		require.Len(t, got, len(models.Zones))

		seen := map[models.Zone]bool{}
		for _, p := range got {
			seen[p.Zone] = true
			if p.Zone == models.ZoneMelilla {
				require.NotNil(t, p.Tags)
				assert.Equal(t, tag, *p.Tags)
			} else {
				assert.Nil(t, p.Tags)
			}
		}
		for _, z := range models.Zones {
			assert.True(t, seen[z], "zone %s not read back", z)
		}
	})

	t.Run("LastPricesNewestFirst", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		require.NoError(t, store.SavePrices(ctx, HourlyPrices(day, "1", "2", "3", "4", "5")))

		top, err := store.GetLastPrices(ctx, 3)
		require.NoError(t, err)
		require.Len(t, top, 3)
		for i := 1; i < len(top); i++ {
			assert.True(t, top[i-1].Timestamp.After(top[i].Timestamp), "not descending at %d", i)
		}
		assert.True(t, top[0].Value.Equal(decimal.NewFromInt(5)))
		assert.Equal(t, time.UTC, top[0].Timestamp.Location())

		all, err := store.GetLastPrices(ctx, 10)
		require.NoError(t, err)
		assert.Len(t, all, 5, "fewer than limit is not an error")
	})

	t.Run("LastPricesTiesAtLimitBoundary", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		batch := []models.PriceRecord{Price(day.Add(time.Hour), "50", models.ZonePeninsula)}
		for _, z := range []models.Zone{models.ZonePeninsula, models.ZoneMelilla, models.ZoneCeuta, models.ZoneCanarias, models.ZoneBaleares} {
			batch = append(batch, Price(day, "40", z))
		}
		require.NoError(t, store.SavePrices(ctx, batch))

		got, err := store.GetLastPrices(ctx, 3)
		require.NoError(t, err)
		assert.Equal(t, []string{
			"2024-01-15T01:00:00Z/Peninsula",
			"2024-01-15T00:00:00Z/Baleares",
			"2024-01-15T00:00:00Z/Canarias",
		}, keys(got))

		got, err = store.GetLastPrices(ctx, 5)
		require.NoError(t, err)
		assert.Equal(t, []string{
			"2024-01-15T01:00:00Z/Peninsula",
			"2024-01-15T00:00:00Z/Baleares",
			"2024-01-15T00:00:00Z/Canarias",
			"2024-01-15T00:00:00Z/Ceuta",
			"2024-01-15T00:00:00Z/Melilla",
		}, keys(got))
	})

	t.Run("SubSecondTimestampsShareOneKey", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		at := day.Add(10 * time.Hour)

		first := models.PriceRecord{Timestamp: at.Add(100 * time.Millisecond), Value: decimal.RequireFromString("1"), Zone: models.ZonePeninsula}
		second := models.PriceRecord{Timestamp: at.Add(700 * time.Millisecond), Value: decimal.RequireFromString("2"), Zone: models.ZonePeninsula}
		require.NoError(t, store.SavePrices(ctx, []models.PriceRecord{first, second}))

		later := models.PriceRecord{Timestamp: at.Add(900 * time.Millisecond), Value: decimal.RequireFromString("3"), Zone: models.ZonePeninsula}
		require.NoError(t, store.SavePrices(ctx, []models.PriceRecord{later}))

		got, err := store.GetLastPrices(ctx, countAll)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.True(t, got[0].Timestamp.Equal(at), "stored %s", got[0].Timestamp)
		assert.Equal(t, time.UTC, got[0].Timestamp.Location())
		assert.True(t, got[0].Value.Equal(decimal.NewFromInt(1)), "first write wins")
	})

	t.Run("NonUTCTimestampSharesKeyWithUTC", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		madrid := time.FixedZone("CET", 3600)

		local := models.PriceRecord{Timestamp: day.Add(12 * time.Hour).In(madrid), Value: decimal.RequireFromString("7"), Zone: models.ZoneBaleares}
		require.NoError(t, store.SavePrices(ctx, []models.PriceRecord{local}))
		require.NoError(t, store.SavePrices(ctx, []models.PriceRecord{Price(day.Add(12*time.Hour), "8", models.ZoneBaleares)}))

		got, err := store.GetLastPrices(ctx, countAll)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "2024-01-15T12:00:00Z/Baleares", keys(got)[0])
		assert.True(t, got[0].Value.Equal(decimal.NewFromInt(7)))
	})

	t.Run("LastPricesRejectsNonPositiveLimit", func(t *testing.T) {
		store := newStore(t)
		_, err := store.GetLastPrices(context.Background(), 0)
		require.Error(t, err)
	})

	t.Run("DailyStatsEmptyDay", func(t *testing.T) {
		store := newStore(t)
		stats, err := store.GetDailyStats(context.Background(), day)
		require.NoError(t, err)
		assert.Equal(t, int64(0), stats.Count)
		assert.Nil(t, stats.Max)
		assert.Nil(t, stats.Min)
		assert.Nil(t, stats.Avg)
	})

	t.Run("DailyStatsAggregatesOneUTCDay", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		batch := []models.PriceRecord{
			Price(day.Add(1*time.Hour), "100", models.ZonePeninsula),
			Price(day.Add(2*time.Hour), "200", models.ZoneBaleares),
			Price(day.Add(23*time.Hour), "300", models.ZonePeninsula),
			// neighbours outside the day
			Price(day.Add(-time.Second), "5000", models.ZonePeninsula),
			Price(day.Add(24*time.Hour), "1", models.ZonePeninsula),
		}
		require.NoError(t, store.SavePrices(ctx, batch))

		stats, err := store.GetDailyStats(ctx, day.Add(13*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, int64(3), stats.Count)
		require.NotNil(t, stats.Max)
		require.NotNil(t, stats.Min)
		require.NotNil(t, stats.Avg)
		assert.True(t, stats.Max.Equal(decimal.NewFromInt(300)), "max %s", stats.Max)
		assert.True(t, stats.Min.Equal(decimal.NewFromInt(100)), "min %s", stats.Min)
		assert.True(t, stats.Avg.Equal(decimal.NewFromInt(200)), "avg %s", stats.Avg)
	})

	t.Run("ConcurrentOverlappingSaves", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		batch := HourlyPrices(day, "1", "2", "3", "4", "5", "6", "7", "8")

		var wg sync.WaitGroup
		errs := make(chan error, 8)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				if err := store.SavePrices(ctx, batch[i%4:]); err != nil {
					errs <- fmt.Errorf("writer %d: %w", i, err)
				}
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			t.Error(err)
		}
		assert.Equal(t, len(batch), count(t, store))
	})
}

// keys renders records as "<RFC3339 UTC>/<zone>" for order assertions.
func keys(prices []models.PriceRecord) []string {
	out := make([]string, len(prices))
	for i, p := range prices {
		out[i] = p.Timestamp.UTC().Format(time.RFC3339) + "/" + string(p.Zone)
	}
	return out
}

func count(t *testing.T, store repository.PriceStore) int {
	t.Helper()
	all, err := store.GetLastPrices(context.Background(), countAll)
	require.NoError(t, err)
	return len(all)
}
