package oracle

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"verdictd/internal/model"
)

type stubPrice struct {
	price decimal.Decimal
	err   error
	calls int
}

func (s *stubPrice) Name() string { return "stub-market" }

func (s *stubPrice) SpotPrice(ctx context.Context, ticker string) (decimal.Decimal, error) {
	s.calls++
	return s.price, s.err
}

type stubGas struct {
	name string
	wei  *big.Int
	err  error
}

func (s *stubGas) Name() string { return s.name }

func (s *stubGas) GasPriceWei(ctx context.Context) (*big.Int, error) { return s.wei, s.err }

type stubTVL struct {
	mean decimal.Decimal
	err  error
}

func (s *stubTVL) Name() string { return "stub-tvl" }

func (s *stubTVL) MeanChange1D(ctx context.Context) (decimal.Decimal, int, error) {
	return s.mean, 10, s.err
}

func priceClaim(value int64, dir model.Direction) model.ParsedClaim {
	return model.ParsedClaim{
		ClaimID:        "c1",
		ClaimType:      model.ClaimTypePrice,
		RawText:        "ETH will exceed $3,500",
		ExtractedValue: decimal.NewNullDecimal(decimal.NewFromInt(value)),
		Subject:        "ETH",
		Direction:      dir,
		Unit:           "usd",
	}
}

func gasClaim(value int64) model.ParsedClaim {
	return model.ParsedClaim{
		ClaimID:        "g1",
		ClaimType:      model.ClaimTypeProtocolMetric,
		ExtractedValue: decimal.NewNullDecimal(decimal.NewFromInt(value)),
		Direction:      model.DirectionAbove,
		Metric:         model.MetricGasPrice,
		Unit:           "gwei",
	}
}

func TestVerifyUnknownMakesNoCall(t *testing.T) {
	src := &stubPrice{}
	v := NewVerifier(Strategies{Price: &PriceStrategy{Source: src, Thresholds: DefaultThresholds()}}, noopLogger())

	res, err := v.Verify(context.Background(), model.UnknownClaim("u", "hello"))
	require.NoError(t, err)
	assert.Equal(t, model.VerdictUnverifiable, res.Verdict)
	assert.Equal(t, 55, res.Confidence)
	assert.Zero(t, src.calls)
}

func TestVerifyAmbiguousMakesNoCall(t *testing.T) {
	src := &stubPrice{}
	v := NewVerifier(Strategies{Price: &PriceStrategy{Source: src, Thresholds: DefaultThresholds()}}, noopLogger())

	res, err := v.Verify(context.Background(), priceClaim(3500, model.DirectionAmbiguous))
	require.NoError(t, err)
	assert.Equal(t, model.VerdictUnverifiable, res.Verdict)
	assert.Contains(t, res.Explanation, "ambiguous")
	assert.Zero(t, src.calls)
}

func TestVerifyPrice(t *testing.T) {
	src := &stubPrice{price: decimal.RequireFromString("1857.68")}
	v := NewVerifier(Strategies{Price: &PriceStrategy{Source: src, Thresholds: DefaultThresholds()}}, noopLogger())

	res, err := v.Verify(context.Background(), priceClaim(3500, model.DirectionAbove))
	require.NoError(t, err)
	assert.Equal(t, model.VerdictFalse, res.Verdict)
	assert.Equal(t, 99, res.Confidence)
	assert.Equal(t, "stub-market", res.SourceName)
	require.True(t, res.ObservedValue.Valid)
}

func TestVerifyUnavailableBecomesUnverifiable(t *testing.T) {
	src := &stubPrice{err: &SourceError{Source: "stub-market", StatusCode: 503, Err: errors.New("down")}}
	v := NewVerifier(Strategies{Price: &PriceStrategy{Source: src, Thresholds: DefaultThresholds()}}, noopLogger())

	res, err := v.Verify(context.Background(), priceClaim(3500, model.DirectionAbove))
	require.NoError(t, err)
	assert.Equal(t, model.VerdictUnverifiable, res.Verdict)
	assert.Equal(t, confUnavailable, res.Confidence)
	assert.Contains(t, res.Explanation, "down")
	assert.Contains(t, res.Explanation, "$3500.00")
}

func TestVerifyDecodePropagates(t *testing.T) {
	src := &stubPrice{err: &DecodeError{Source: "stub-market", Err: errors.New("bad json")}}
	v := NewVerifier(Strategies{Price: &PriceStrategy{Source: src, Thresholds: DefaultThresholds()}}, noopLogger())

	_, err := v.Verify(context.Background(), priceClaim(3500, model.DirectionAbove))
	assert.ErrorIs(t, err, ErrDecode)
}

func TestVerifyMissingStrategy(t *testing.T) {
	v := NewVerifier(Strategies{}, noopLogger())
	res, err := v.Verify(context.Background(), priceClaim(3500, model.DirectionAbove))
	require.NoError(t, err)
	assert.Equal(t, model.VerdictUnverifiable, res.Verdict)
}

func TestGasChainFallsBackToSecondaryRPC(t *testing.T) {
	th := DefaultThresholds()
	primary := &stubGas{name: "primary-rpc", err: &SourceError{Source: "primary-rpc", Err: errors.New("timeout")}}
	secondary := &stubGas{name: "fallback-rpc", wei: big.NewInt(60_000_000_000)}
	chain := NewChain(&GasStrategy{Source: primary, Thresholds: th}, &GasStrategy{Source: secondary, Thresholds: th}, &TVLStrategy{Source: &stubTVL{}, Thresholds: th})

	v := NewVerifier(Strategies{Gas: chain}, noopLogger())
	res, err := v.Verify(context.Background(), gasClaim(50))
	require.NoError(t, err)
	assert.Equal(t, model.VerdictTrue, res.Verdict)
	assert.Equal(t, "fallback-rpc", res.SourceName)
}

func TestGasChainFallsBackToTVLContext(t *testing.T) {
	th := DefaultThresholds()
	down := &SourceError{Source: "rpc", Err: errors.New("down")}
	chain := NewChain(&GasStrategy{Source: &stubGas{name: "rpc", err: down}, Thresholds: th}, &TVLStrategy{Source: &stubTVL{mean: decimal.NewFromInt(-3)}, Thresholds: th})

	v := NewVerifier(Strategies{Gas: chain}, noopLogger())
	res, err := v.Verify(context.Background(), gasClaim(50))
	require.NoError(t, err)
	assert.Equal(t, model.VerdictUnverifiable, res.Verdict)
	assert.Equal(t, "stub-tvl", res.SourceName)
	assert.False(t, res.ObservedValue.Valid, "TVL change is not a gas observation")
	assert.Contains(t, res.Explanation, "-3.00%")
}

func TestChainAllFailIsUnverifiable(t *testing.T) {
	th := DefaultThresholds()
	down := &SourceError{Source: "x", Err: errors.New("down")}
	chain := NewChain(&GasStrategy{Source: &stubGas{name: "a", err: down}, Thresholds: th}, &TVLStrategy{Source: &stubTVL{err: down}, Thresholds: th})

	v := NewVerifier(Strategies{Gas: chain}, noopLogger())
	res, err := v.Verify(context.Background(), gasClaim(50))
	require.NoError(t, err)
	assert.Equal(t, model.VerdictUnverifiable, res.Verdict)
	assert.Equal(t, confUnavailable, res.Confidence)
}

func TestChainDecodeStopsFallback(t *testing.T) {
	th := DefaultThresholds()
	secondary := &stubGas{name: "b", wei: big.NewInt(1)}
	chain := NewChain(
		&GasStrategy{Source: &stubGas{name: "a", err: &DecodeError{Source: "a", Err: errors.New("bad")}}, Thresholds: th},
		&GasStrategy{Source: secondary, Thresholds: th},
	)
	_, err := chain.Verify(context.Background(), gasClaim(50))
	assert.ErrorIs(t, err, ErrDecode)
}

func TestVerifyTVLDrop(t *testing.T) {
	th := DefaultThresholds()
	claim := model.ParsedClaim{
		ClaimID:        "t1",
		ClaimType:      model.ClaimTypeProtocolMetric,
		ExtractedValue: decimal.NewNullDecimal(decimal.NewFromInt(10)),
		Direction:      model.DirectionAbove,
		Metric:         model.MetricTVLDrop,
		Unit:           "percent",
	}
	v := NewVerifier(Strategies{TVL: &TVLStrategy{Source: &stubTVL{mean: decimal.NewFromInt(-12)}, Thresholds: th}}, noopLogger())

	res, err := v.Verify(context.Background(), claim)
	require.NoError(t, err)
	assert.Equal(t, model.VerdictTrue, res.Verdict)

	v = NewVerifier(Strategies{TVL: &TVLStrategy{Source: &stubTVL{mean: decimal.NewFromInt(1)}, Thresholds: th}}, noopLogger())
	res, err = v.Verify(context.Background(), claim)
	require.NoError(t, err)
	assert.Equal(t, model.VerdictFalse, res.Verdict)
}

type stubForecast struct {
	pop decimal.Decimal
}

func (s *stubForecast) Name() string { return "stub-forecast" }

func (s *stubForecast) MaxPrecipitation(ctx context.Context, location string) (decimal.Decimal, error) {
	return s.pop, nil
}

func TestVerifyWeatherBelowClaim(t *testing.T) {
	claim := model.ParsedClaim{
		ClaimID:        "w1",
		ClaimType:      model.ClaimTypeWeather,
		RawText:        "Chance of rain in London will stay below 10%",
		ExtractedValue: decimal.NewNullDecimal(decimal.NewFromInt(10)),
		Subject:        "London",
		Direction:      model.DirectionBelow,
		Unit:           "percent",
	}
	v := NewVerifier(Strategies{Weather: &WeatherStrategy{
		Source:     &stubForecast{pop: decimal.NewFromInt(80)},
		Thresholds: DefaultThresholds(),
	}}, noopLogger())

	res, err := v.Verify(context.Background(), claim)
	require.NoError(t, err)
	assert.Equal(t, model.VerdictFalse, res.Verdict)
	assert.Equal(t, confWeatherDecisive, res.Confidence)
}
