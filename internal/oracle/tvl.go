package oracle

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const defaultTVLSample = 50

// TVLSource reports the mean day-over-day TVL change, in percent, across protocols.
type TVLSource interface {
	Name() string
	MeanChange1D(ctx context.Context) (decimal.Decimal, int, error)
}

// AggregatorOptions parameterise the protocol-metrics source.
type AggregatorOptions struct {
	BaseURL    string
	SampleSize int
}

// Aggregator queries a DefiLlama-compatible protocols listing.
type Aggregator struct {
	opts      AggregatorOptions
	transport *Transport
	baseURL   string
	logger    zerolog.Logger
}

// NewAggregator constructs the protocol-metrics source.
func NewAggregator(opts AggregatorOptions, transport *Transport, logger zerolog.Logger) *Aggregator {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.llama.fi"
	}
	if opts.SampleSize <= 0 {
		opts.SampleSize = defaultTVLSample
	}
	return &Aggregator{
		opts:      opts,
		transport: transport,
		baseURL:   baseURL,
		logger:    logger.With().Str("component", "tvl_source").Logger(),
	}
}

// Name implements TVLSource.
func (a *Aggregator) Name() string { return "defillama" }

// MeanChange1D averages change_1d over the largest protocols by TVL.
func (a *Aggregator) MeanChange1D(ctx context.Context) (decimal.Decimal, int, error) {
	var payload []protocolEntry
	if err := a.transport.getJSON(ctx, a.Name(), a.baseURL+"/protocols", nil, &payload, a.logger); err != nil {
		return decimal.Decimal{}, 0, err
	}
	if payload == nil {
		return decimal.Decimal{}, 0, &DecodeError{Source: a.Name(), Err: errors.New("protocol list missing")}
	}

	withChange := make([]protocolEntry, 0, len(payload))
	for _, p := range payload {
		if p.Change1D != nil && p.TVL != nil {
			withChange = append(withChange, p)
		}
	}
	if len(withChange) == 0 {
		return decimal.Decimal{}, 0, unavailable(a.Name(), "no protocols report change_1d")
	}

	sort.SliceStable(withChange, func(i, j int) bool { return *withChange[i].TVL > *withChange[j].TVL })
	if len(withChange) > a.opts.SampleSize {
		withChange = withChange[:a.opts.SampleSize]
	}

	sum := decimal.Zero
	for _, p := range withChange {
		sum = sum.Add(decimal.NewFromFloat(*p.Change1D))
	}
	mean := sum.Div(decimal.NewFromInt(int64(len(withChange))))
	return mean, len(withChange), nil
}

type protocolEntry struct {
	Name     string   `json:"name"`
	TVL      *float64 `json:"tvl"`
	Change1D *float64 `json:"change_1d"`
}

var _ TVLSource = (*Aggregator)(nil)
