package repository

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/kjannette/energy-monitor/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/vmihailenco/msgpack/v5"
)

const defaultRedisPrefix = "prices:"

// RedisPriceRepo stores each record under its natural key and keeps a sorted
// set of keys scored by unix seconds for ordered and ranged reads.
type RedisPriceRepo struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisPriceRepo(client redis.UniversalClient) *RedisPriceRepo {
	return &RedisPriceRepo{client: client, prefix: defaultRedisPrefix}
}

// redisPrice is the msgpack wire form of a PriceRecord.
type redisPrice struct {
	Timestamp int64   `msgpack:"ts"`
	Value     string  `msgpack:"v"`
	Zone      string  `msgpack:"z"`
	Tags      *string `msgpack:"t,omitempty"`
}

func (r *RedisPriceRepo) indexKey() string { return r.prefix + "idx" }

func (r *RedisPriceRepo) recordKey(member string) string { return r.prefix + "rec:" + member }

func member(p models.PriceRecord) string {
	return strconv.FormatInt(p.Timestamp.Unix(), 10) + ":" + string(p.Zone)
}

func (r *RedisPriceRepo) SavePrices(ctx context.Context, prices []models.PriceRecord) error {
	if len(prices) == 0 {
		return nil
	}
	prices, err := normalizeBatch(prices)
	if err != nil {
		return storeErr("save prices", err)
	}

	encoded := make([][]byte, len(prices))
	for i, p := range prices {
		b, err := msgpack.Marshal(redisPrice{
			Timestamp: p.Timestamp.Unix(),
			Value:     p.Value.String(),
			Zone:      string(p.Zone),
			Tags:      p.Tags,
		})
		if err != nil {
			return storeErr("save prices", fmt.Errorf("encode record %d: %w", i, err))
		}
		encoded[i] = b
	}

	// MULTI/EXEC: the whole batch is applied together, NX makes each write insert-if-absent.
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, p := range prices {
			m := member(p)
			pipe.SetNX(ctx, r.recordKey(m), encoded[i], 0)
			pipe.ZAddNX(ctx, r.indexKey(), redis.Z{Score: float64(p.Timestamp.Unix()), Member: m})
		}
		return nil
	})
	return storeErr("save prices", err)
}

func (r *RedisPriceRepo) GetLastPrices(ctx context.Context, limit int) ([]models.PriceRecord, error) {
	if limit <= 0 {
		return nil, storeErr("get last prices", errInvalidLimit)
	}
	members, err := r.newestMembers(ctx, limit)
	if err != nil {
		return nil, storeErr("get last prices", err)
	}
	prices, err := r.load(ctx, members)
	if err != nil {
		return nil, storeErr("get last prices", err)
	}
	sortNewestFirst(prices)
	if len(prices) > limit {
		prices = prices[:limit]
	}
	return prices, nil
}

// newestMembers returns the index members of the newest limit records plus
// every member sharing the timestamp at the cut, so ties are broken by zone
// in Go rather than by the sorted set's member order.
func (r *RedisPriceRepo) newestMembers(ctx context.Context, limit int) ([]string, error) {
	cut, err := r.client.ZRevRangeWithScores(ctx, r.indexKey(), int64(limit-1), int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}
	if len(cut) == 0 {
		return r.client.ZRevRange(ctx, r.indexKey(), 0, -1).Result()
	}
	return r.client.ZRevRangeByScore(ctx, r.indexKey(), &redis.ZRangeBy{
		Min: strconv.FormatInt(int64(cut[0].Score), 10),
		Max: "+inf",
	}).Result()
}

func (r *RedisPriceRepo) GetDailyStats(ctx context.Context, day time.Time) (*models.DailyStats, error) {
	start, end := DayBounds(day)
	members, err := r.client.ZRangeByScore(ctx, r.indexKey(), &redis.ZRangeBy{
		Min: strconv.FormatInt(start.Unix(), 10),
		Max: "(" + strconv.FormatInt(end.Unix(), 10),
	}).Result()
	if err != nil {
		return nil, storeErr("get daily stats", err)
	}
	prices, err := r.load(ctx, members)
	if err != nil {
		return nil, storeErr("get daily stats", err)
	}
	return aggregate(prices), nil
}

func (r *RedisPriceRepo) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisPriceRepo) load(ctx context.Context, members []string) ([]models.PriceRecord, error) {
	out := []models.PriceRecord{}
	if len(members) == 0 {
		return out, nil
	}

	keys := make([]string, len(members))
	for i, m := range members {
		keys[i] = r.recordKey(m)
	}
	vals, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			// index entry without a record; nothing to return for it
			continue
		}
		p, err := decodeRedisPrice([]byte(s))
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", keys[i], err)
		}
		out = append(out, p)
	}
	return out, nil
}

func decodeRedisPrice(b []byte) (models.PriceRecord, error) {
	var w redisPrice
	if err := msgpack.Unmarshal(b, &w); err != nil {
		return models.PriceRecord{}, err
	}
	value, err := decimal.NewFromString(w.Value)
	if err != nil {
		return models.PriceRecord{}, err
	}
	zone, err := models.ParseZone(w.Zone)
	if err != nil {
		return models.PriceRecord{}, err
	}
	p := models.NewPriceRecord(time.Unix(w.Timestamp, 0), value, zone)
	p.Tags = w.Tags
	return p, nil
}
