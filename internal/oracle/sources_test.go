package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

func testTransport(ttl time.Duration) *Transport {
	return NewTransport(HTTPOptions{Timeout: time.Second, CacheTTL: ttl})
}

func TestMarketSpotPriceSuccess(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		assert.Equal(t, "/simple/price", r.URL.Path)
		assert.Equal(t, "ethereum", r.URL.Query().Get("ids"))
		_, _ = w.Write([]byte(`{"ethereum":{"usd":1857.68}}`))
	}))
	defer srv.Close()

	m := NewMarket(MarketOptions{BaseURL: srv.URL}, testTransport(time.Minute), noopLogger())

	price, err := m.SpotPrice(context.Background(), "eth")
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.RequireFromString("1857.68")))

	_, err = m.SpotPrice(context.Background(), "ETH")
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits), "second lookup should be served from cache")
}

func TestMarketSpotPriceHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(map[string]any{"status": map[string]string{"error_message": "rate limited"}})
	}))
	defer srv.Close()

	m := NewMarket(MarketOptions{BaseURL: srv.URL}, testTransport(0), noopLogger())
	_, err := m.SpotPrice(context.Background(), "BTC")

	var se *SourceError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusTooManyRequests, se.StatusCode)
	assert.True(t, se.Retryable())
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Contains(t, err.Error(), "rate limited")
}

func TestMarketSpotPriceMalformed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ethereum":{"usd":`))
	}))
	defer srv.Close()

	m := NewMarket(MarketOptions{BaseURL: srv.URL}, testTransport(time.Minute), noopLogger())
	_, err := m.SpotPrice(context.Background(), "ETH")

	assert.ErrorIs(t, err, ErrDecode)
	assert.True(t, IsDecode(err))
}

func TestMarketSpotPriceUnknownTicker(t *testing.T) {
	m := NewMarket(MarketOptions{BaseURL: "http://127.0.0.1:1"}, testTransport(0), noopLogger())
	_, err := m.SpotPrice(context.Background(), "NOPE")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestMarketSpotPriceMissingAsset(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	m := NewMarket(MarketOptions{BaseURL: srv.URL}, testTransport(0), noopLogger())
	_, err := m.SpotPrice(context.Background(), "ETH")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestForecastMaxPrecipitation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "London", r.URL.Query().Get("q"))
		assert.Equal(t, "16", r.URL.Query().Get("cnt"))
		_, _ = w.Write([]byte(`{"list":[{"pop":0.1},{"pop":0.72},{"dt":1},{"pop":0.3}]}`))
	}))
	defer srv.Close()

	f := NewForecast(ForecastOptions{BaseURL: srv.URL, APIKey: "k"}, testTransport(0), noopLogger())
	pop, err := f.MaxPrecipitation(context.Background(), "London")
	require.NoError(t, err)
	assert.True(t, pop.Equal(decimal.NewFromInt(72)), "got %s", pop)
}

func TestForecastMissingListIsDecodeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"cod":"200"}`))
	}))
	defer srv.Close()

	f := NewForecast(ForecastOptions{BaseURL: srv.URL, APIKey: "k"}, testTransport(0), noopLogger())
	_, err := f.MaxPrecipitation(context.Background(), "Paris")
	assert.ErrorIs(t, err, ErrDecode)
}

func TestForecastWithoutKeyIsUnavailable(t *testing.T) {
	f := NewForecast(ForecastOptions{}, testTransport(0), noopLogger())
	_, err := f.MaxPrecipitation(context.Background(), "Paris")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestAggregatorMeanChange(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/protocols", r.URL.Path)
		_, _ = w.Write([]byte(`[
			{"name":"a","tvl":300,"change_1d":-4},
			{"name":"b","tvl":200,"change_1d":-2},
			{"name":"c","tvl":100,"change_1d":3},
			{"name":"d","tvl":50},
			{"name":"e","tvl":10,"change_1d":-90}
		]`))
	}))
	defer srv.Close()

	a := NewAggregator(AggregatorOptions{BaseURL: srv.URL, SampleSize: 3}, testTransport(0), noopLogger())
	mean, n, err := a.MeanChange1D(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.True(t, mean.Equal(decimal.NewFromInt(-1)), "got %s", mean)
}

func TestAggregatorMalformed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"not":"a list"}`))
	}))
	defer srv.Close()

	a := NewAggregator(AggregatorOptions{BaseURL: srv.URL}, testTransport(0), noopLogger())
	_, _, err := a.MeanChange1D(context.Background())
	assert.ErrorIs(t, err, ErrDecode)
}

func jsonRPCServer(t *testing.T, result string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "eth_gasPrice", req.Method)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":` + string(req.ID) + `,"result":` + result + `}`))
	}))
}

func TestGasRPCPrice(t *testing.T) {
	srv := jsonRPCServer(t, `"0x5d21dba00"`)
	defer srv.Close()

	g := NewGasRPC(GasRPCOptions{RPCURL: srv.URL, Timeout: time.Second}, testTransport(0), noopLogger())
	defer g.Close()

	wei, err := g.GasPriceWei(context.Background())
	require.NoError(t, err)
	assert.True(t, WeiToGwei(wei).Equal(decimal.NewFromInt(25)))
}

func TestGasRPCBadHex(t *testing.T) {
	srv := jsonRPCServer(t, `"zz"`)
	defer srv.Close()

	g := NewGasRPC(GasRPCOptions{RPCURL: srv.URL}, testTransport(0), noopLogger())
	defer g.Close()

	_, err := g.GasPriceWei(context.Background())
	assert.ErrorIs(t, err, ErrDecode)
}

func TestGasRPCHTTPFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	g := NewGasRPC(GasRPCOptions{RPCURL: srv.URL}, testTransport(0), noopLogger())
	defer g.Close()

	_, err := g.GasPriceWei(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.False(t, errors.Is(err, ErrDecode))
}

func TestGasRPCNotConfigured(t *testing.T) {
	g := NewGasRPC(GasRPCOptions{}, testTransport(0), noopLogger())
	_, err := g.GasPriceWei(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
}
