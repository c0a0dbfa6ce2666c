package external

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/kjannette/energy-monitor/internal/models"
	"github.com/shopspring/decimal"
)

const (
	DefaultREEBaseURL = "https://apidatos.ree.es/es/datos"
	spotPricesPath    = "/mercados/precios-mercados-tiempo-real"
	userAgent         = "EnergyMonitor/1.0"
	maxBodyBytes      = 8 << 20
	maxErrorBodyBytes = 4 << 10
)

// MalformedValuePolicy decides what happens to an observation whose value is
// not a finite number.
type MalformedValuePolicy int

const (
	// SubstituteZero keeps the observation with a value of 0.
	SubstituteZero MalformedValuePolicy = iota
	// DropRecord leaves the observation out of the batch.
	DropRecord
)

func ParseMalformedValuePolicy(s string) (MalformedValuePolicy, error) {
	switch s {
	case "", "zero":
		return SubstituteZero, nil
	case "drop":
		return DropRecord, nil
	default:
		return 0, fmt.Errorf("unknown malformed value policy %q, expected zero|drop", s)
	}
}

func (p MalformedValuePolicy) String() string {
	if p == DropRecord {
		return "drop"
	}
	return "zero"
}

type REEOptions struct {
	BaseURL string
	Timeout time.Duration
	Policy  MalformedValuePolicy
	Logger  *slog.Logger
	// Now is the clock used to pick the query window. Defaults to time.Now.
	Now func() time.Time
}

// REEClient pulls hourly spot prices from Red Eléctrica's public data API.
// The endpoint only covers the peninsular system.
type REEClient struct {
	baseURL    string
	zone       models.Zone
	policy     MalformedValuePolicy
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time
}

func NewREEClient(opts REEOptions) *REEClient {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultREEBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &REEClient{
		baseURL:    opts.BaseURL,
		zone:       models.ZonePeninsula,
		policy:     opts.Policy,
		httpClient: &http.Client{Timeout: opts.Timeout},
		logger:     opts.Logger.With("component", "ree"),
		now:        opts.Now,
	}
}

// upstream envelope: {"included":[{"attributes":{"values":[{"value":12.3,"datetime":"..."}]}}]}
type reeResponse struct {
	Included []struct {
		Attributes struct {
			Values []reeValue `json:"values"`
		} `json:"attributes"`
	} `json:"included"`
}

type reeValue struct {
	Value    json.RawMessage `json:"value"`
	Datetime string          `json:"datetime"`
}

// FetchSpotPrices issues one request for the current UTC day and returns every
// observation, in response order, tagged with the client's zone.
func (c *REEClient) FetchSpotPrices(ctx context.Context) ([]models.PriceRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.requestURL(), nil)
	if err != nil {
		return nil, &FetchError{Kind: KindTransport, Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &FetchError{Kind: KindTransport, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		c.logger.Error("upstream rejected request", "status", resp.StatusCode, "body", string(body))
		return nil, &FetchError{Kind: KindUpstreamRejected, Status: resp.StatusCode, Body: string(body)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &FetchError{Kind: KindTransport, Err: fmt.Errorf("read body: %w", err)}
	}

	var dto reeResponse
	if err := json.Unmarshal(body, &dto); err != nil {
		return nil, &FetchError{Kind: KindDecode, Err: err}
	}

	return c.toRecords(dto), nil
}

func (c *REEClient) requestURL() string {
	day := c.now().UTC().Format("2006-01-02")
	q := url.Values{}
	q.Set("start_date", day+"T00:00")
	q.Set("end_date", day+"T23:59")
	q.Set("time_trunc", "hour")
	return c.baseURL + spotPricesPath + "?" + q.Encode()
}

func (c *REEClient) toRecords(dto reeResponse) []models.PriceRecord {
	prices := []models.PriceRecord{}
	for _, group := range dto.Included {
		for _, v := range group.Attributes.Values {
			ts, err := time.Parse(time.RFC3339, v.Datetime)
			if err != nil {
				c.logger.Warn("dropping observation with unparseable datetime", "datetime", v.Datetime, "error", err)
				continue
			}

			value, err := parseValue(v.Value)
			if err != nil {
				if c.policy == DropRecord {
					c.logger.Warn("dropping observation with malformed value", "datetime", v.Datetime, "value", string(v.Value))
					continue
				}
				c.logger.Warn("substituting zero for malformed value", "datetime", v.Datetime, "value", string(v.Value))
				value = decimal.Zero
			}

			prices = append(prices, models.NewPriceRecord(ts, value, c.zone))
		}
	}
	return prices
}

var errNotFinite = errors.New("value is not a finite number")

// parseValue accepts a JSON number, or a string holding one, exactly as written.
func parseValue(raw json.RawMessage) (decimal.Decimal, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return decimal.Decimal{}, errNotFinite
	}
	s := string(raw)
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &s); err != nil {
			return decimal.Decimal{}, err
		}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: %q", errNotFinite, s)
	}
	return d, nil
}
