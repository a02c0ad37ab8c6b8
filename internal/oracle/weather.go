package oracle

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	minForecastHours  = 48
	forecastStepHours = 3
)

// ForecastSource returns the highest precipitation probability, in percent,
// forecast for a location over its window.
type ForecastSource interface {
	Name() string
	MaxPrecipitation(ctx context.Context, location string) (decimal.Decimal, error)
}

// ForecastOptions parameterise the weather source.
type ForecastOptions struct {
	BaseURL       string
	APIKey        string
	ForecastHours int
}

// Forecast queries an OpenWeather-compatible 3-hourly forecast API.
type Forecast struct {
	opts      ForecastOptions
	transport *Transport
	baseURL   string
	logger    zerolog.Logger
}

// NewForecast constructs a weather source.
func NewForecast(opts ForecastOptions, transport *Transport, logger zerolog.Logger) *Forecast {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openweathermap.org/data/2.5"
	}
	if opts.ForecastHours < minForecastHours {
		opts.ForecastHours = minForecastHours
	}
	return &Forecast{
		opts:      opts,
		transport: transport,
		baseURL:   baseURL,
		logger:    logger.With().Str("component", "weather_source").Logger(),
	}
}

// Name implements ForecastSource.
func (f *Forecast) Name() string { return "openweathermap" }

// MaxPrecipitation implements ForecastSource.
func (f *Forecast) MaxPrecipitation(ctx context.Context, location string) (decimal.Decimal, error) {
	if f.opts.APIKey == "" {
		return decimal.Decimal{}, unavailable(f.Name(), "api key not configured")
	}

	samples := f.opts.ForecastHours / forecastStepHours
	q := url.Values{}
	q.Set("q", location)
	q.Set("appid", f.opts.APIKey)
	q.Set("cnt", strconv.Itoa(samples))
	endpoint := f.baseURL + "/forecast?" + q.Encode()

	var payload forecastResponse
	if err := f.transport.getJSON(ctx, f.Name(), endpoint, nil, &payload, f.logger); err != nil {
		return decimal.Decimal{}, err
	}
	if payload.List == nil {
		return decimal.Decimal{}, &DecodeError{Source: f.Name(), Err: errors.New("list field missing")}
	}
	if len(*payload.List) == 0 {
		return decimal.Decimal{}, unavailable(f.Name(), "empty forecast for %q", location)
	}

	max := decimal.Zero
	seen := 0
	for i, sample := range *payload.List {
		if i >= samples {
			break
		}
		if sample.Pop == nil {
			continue
		}
		seen++
		pop := decimal.NewFromFloat(*sample.Pop)
		if pop.GreaterThan(max) {
			max = pop
		}
	}
	if seen == 0 {
		return decimal.Decimal{}, unavailable(f.Name(), "no precipitation samples for %q", location)
	}
	return max.Mul(decimal.NewFromInt(100)), nil
}

type forecastResponse struct {
	List *[]forecastSample `json:"list"`
}

type forecastSample struct {
	Pop *float64 `json:"pop"`
}

var _ ForecastSource = (*Forecast)(nil)
