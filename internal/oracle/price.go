package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// DefaultAssetIDs maps tickers to market-data asset identifiers.
var DefaultAssetIDs = map[string]string{
	"BTC":  "bitcoin",
	"ETH":  "ethereum",
	"SOL":  "solana",
	"BNB":  "binancecoin",
	"XRP":  "ripple",
	"ADA":  "cardano",
	"DOGE": "dogecoin",
	"AVAX": "avalanche-2",
	"DOT":  "polkadot",
	"LINK": "chainlink",
	"LTC":  "litecoin",
}

// PriceSource returns the current USD spot value of an asset ticker.
type PriceSource interface {
	Name() string
	SpotPrice(ctx context.Context, ticker string) (decimal.Decimal, error)
}

// MarketOptions parameterise the market-data source.
type MarketOptions struct {
	BaseURL  string
	APIKey   string
	AssetIDs map[string]string
}

// Market fetches spot prices from a CoinGecko-compatible simple price API.
type Market struct {
	opts      MarketOptions
	transport *Transport
	baseURL   string
	logger    zerolog.Logger
}

// NewMarket constructs a market-data source.
func NewMarket(opts MarketOptions, transport *Transport, logger zerolog.Logger) *Market {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.coingecko.com/api/v3"
	}
	ids := make(map[string]string, len(DefaultAssetIDs)+len(opts.AssetIDs))
	for k, v := range DefaultAssetIDs {
		ids[k] = v
	}
	for k, v := range opts.AssetIDs {
		ids[strings.ToUpper(k)] = v
	}
	opts.AssetIDs = ids

	return &Market{
		opts:      opts,
		transport: transport,
		baseURL:   baseURL,
		logger:    logger.With().Str("component", "market_source").Logger(),
	}
}

// Name implements PriceSource.
func (m *Market) Name() string { return "coingecko" }

// SpotPrice implements PriceSource.
func (m *Market) SpotPrice(ctx context.Context, ticker string) (decimal.Decimal, error) {
	id, ok := m.opts.AssetIDs[strings.ToUpper(ticker)]
	if !ok {
		return decimal.Decimal{}, unavailable(m.Name(), "no asset id for ticker %q", ticker)
	}

	q := url.Values{}
	q.Set("ids", id)
	q.Set("vs_currencies", "usd")
	endpoint := m.baseURL + "/simple/price?" + q.Encode()

	headers := map[string]string{}
	if m.opts.APIKey != "" {
		headers["x-cg-demo-api-key"] = m.opts.APIKey
	}

	var payload map[string]spotQuote
	if err := m.transport.getJSON(ctx, m.Name(), endpoint, headers, &payload, m.logger); err != nil {
		return decimal.Decimal{}, err
	}

	quote, ok := payload[id]
	if !ok {
		return decimal.Decimal{}, unavailable(m.Name(), "asset %q missing from response", id)
	}
	if quote.USD == nil {
		return decimal.Decimal{}, &DecodeError{Source: m.Name(), Err: errors.New("usd field missing")}
	}
	price, err := decimal.NewFromString(quote.USD.String())
	if err != nil {
		return decimal.Decimal{}, &DecodeError{Source: m.Name(), Err: fmt.Errorf("parse usd: %w", err)}
	}
	return price, nil
}

type spotQuote struct {
	USD *json.Number `json:"usd"`
}

var _ PriceSource = (*Market)(nil)
