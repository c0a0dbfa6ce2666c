package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Zone is a geographic pricing area of the Spanish electricity system.
type Zone string

const (
	ZonePeninsula Zone = "Peninsula"
	ZoneCanarias  Zone = "Canarias"
	ZoneBaleares  Zone = "Baleares"
	ZoneCeuta     Zone = "Ceuta"
	ZoneMelilla   Zone = "Melilla"
)

// Zones lists every supported zone in declaration order.
var Zones = []Zone{ZonePeninsula, ZoneCanarias, ZoneBaleares, ZoneCeuta, ZoneMelilla}

func ParseZone(s string) (Zone, error) {
	for _, z := range Zones {
		if string(z) == s {
			return z, nil
		}
	}
	return "", fmt.Errorf("unknown zone %q", s)
}

func (z Zone) Valid() bool {
	_, err := ParseZone(string(z))
	return err == nil
}

func (z Zone) String() string { return string(z) }

func (z *Zone) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("zone: %w", err)
	}
	parsed, err := ParseZone(s)
	if err != nil {
		return err
	}
	*z = parsed
	return nil
}

// PriceRecord is one spot-price observation. (Timestamp, Zone) is its natural key.
type PriceRecord struct {
	Timestamp time.Time       `json:"datetime"`
	Value     decimal.Decimal `json:"value"`
	Zone      Zone            `json:"geo_zone"`
	Tags      *string         `json:"meta_tags"`
}

// NewPriceRecord normalizes ts to UTC at second precision.
func NewPriceRecord(ts time.Time, value decimal.Decimal, zone Zone) PriceRecord {
	return PriceRecord{
		Timestamp: ts.UTC().Truncate(time.Second),
		Value:     value,
		Zone:      zone,
	}
}

type PriceKey struct {
	Timestamp int64
	Zone      Zone
}

func (p PriceRecord) Key() PriceKey {
	return PriceKey{Timestamp: p.Timestamp.Unix(), Zone: p.Zone}
}

// DailyStats is derived on read; Max, Min and Avg are nil when Count is zero.
type DailyStats struct {
	Max   *decimal.Decimal `json:"max"`
	Min   *decimal.Decimal `json:"min"`
	Avg   *decimal.Decimal `json:"avg"`
	Count int64            `json:"count"`
}
