package oracle

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"verdictd/internal/model"
)

func priceComparison(observed, threshold string, dir model.Direction) Comparison {
	return Comparison{
		Label:     "ETH spot price",
		Unit:      "usd",
		Direction: dir,
		Observed:  decimal.RequireFromString(observed),
		Threshold: decimal.RequireFromString(threshold),
		Source:    "coingecko",
	}
}

func TestScoreThresholdFarAboveIsTrue(t *testing.T) {
	res := ScoreThreshold(priceComparison("5000", "3500", model.DirectionAbove), DefaultThresholds())

	assert.Equal(t, model.VerdictTrue, res.Verdict)
	assert.GreaterOrEqual(t, res.Confidence, 90)
	assert.LessOrEqual(t, res.Confidence, 99)
}

func TestScoreThresholdFarBelowIsFalse(t *testing.T) {
	res := ScoreThreshold(priceComparison("2000", "3500", model.DirectionAbove), DefaultThresholds())

	assert.Equal(t, model.VerdictFalse, res.Verdict)
	assert.GreaterOrEqual(t, res.Confidence, 85)
}

func TestScoreThresholdCloseIsUnverifiable(t *testing.T) {
	res := ScoreThreshold(priceComparison("3400", "3500", model.DirectionAbove), DefaultThresholds())

	assert.Equal(t, model.VerdictUnverifiable, res.Verdict)
	assert.Contains(t, res.Explanation, "too close")
}

func TestScoreThresholdEndToEndFigures(t *testing.T) {
	res := ScoreThreshold(priceComparison("1857.68", "3500", model.DirectionAbove), DefaultThresholds())

	assert.Equal(t, model.VerdictFalse, res.Verdict)
	assert.Equal(t, 99, res.Confidence)
	assert.Contains(t, res.Explanation, "$1857.68")
	assert.Contains(t, res.Explanation, "$3500.00")
	assert.Contains(t, res.Explanation, "-46.92%")
	assert.Equal(t, "coingecko", res.SourceName)
}

func TestScoreThresholdJustMetStartsAtBase(t *testing.T) {
	res := ScoreThreshold(priceComparison("3500", "3500", model.DirectionAbove), DefaultThresholds())

	assert.Equal(t, model.VerdictTrue, res.Verdict)
	assert.Equal(t, confTrueBase, res.Confidence)
}

func TestScoreThresholdBelowDirection(t *testing.T) {
	th := DefaultThresholds()

	met := ScoreThreshold(priceComparison("90", "100", model.DirectionBelow), th)
	assert.Equal(t, model.VerdictTrue, met.Verdict)

	far := ScoreThreshold(priceComparison("150", "100", model.DirectionBelow), th)
	assert.Equal(t, model.VerdictFalse, far.Verdict)

	near := ScoreThreshold(priceComparison("110", "100", model.DirectionBelow), th)
	assert.Equal(t, model.VerdictUnverifiable, near.Verdict)
}

func TestScoreThresholdNonPositiveClaim(t *testing.T) {
	res := ScoreThreshold(priceComparison("10", "0", model.DirectionAbove), DefaultThresholds())
	assert.Equal(t, model.VerdictUnverifiable, res.Verdict)
}

func TestScoreThresholdConfidenceBounds(t *testing.T) {
	th := DefaultThresholds()
	observed := []string{"0", "0.01", "1", "100", "3499", "3500", "3501", "1e6", "1e12"}
	for _, o := range observed {
		for _, dir := range []model.Direction{model.DirectionAbove, model.DirectionBelow} {
			res := ScoreThreshold(priceComparison(o, "3500", dir), th)
			assert.GreaterOrEqual(t, res.Confidence, 0, o)
			assert.LessOrEqual(t, res.Confidence, 99, o)
		}
	}
}

func TestScorePrecipitation(t *testing.T) {
	th := DefaultThresholds()
	claimed := decimal.NewFromInt(50)

	high := ScorePrecipitation(decimal.NewFromInt(90), claimed, model.DirectionAbove, "London", "openweathermap", th)
	assert.Equal(t, model.VerdictTrue, high.Verdict)
	assert.Equal(t, confWeatherDecisive, high.Confidence)

	low := ScorePrecipitation(decimal.NewFromInt(10), claimed, model.DirectionAbove, "London", "openweathermap", th)
	assert.Equal(t, model.VerdictFalse, low.Verdict)

	near := ScorePrecipitation(decimal.NewFromInt(60), claimed, model.DirectionAbove, "London", "openweathermap", th)
	assert.Equal(t, model.VerdictUnverifiable, near.Verdict)
	assert.Equal(t, confWeatherBorder, near.Confidence)
	assert.Contains(t, near.Explanation, "+10.00 points")
}

func TestScorePrecipitationBelow(t *testing.T) {
	th := DefaultThresholds()
	claimed := decimal.NewFromInt(10)

	wet := ScorePrecipitation(decimal.NewFromInt(80), claimed, model.DirectionBelow, "London", "openweathermap", th)
	assert.Equal(t, model.VerdictFalse, wet.Verdict)
	assert.Equal(t, confWeatherDecisive, wet.Confidence)
	assert.Contains(t, wet.Explanation, "at most 10%")

	claimed = decimal.NewFromInt(60)
	dry := ScorePrecipitation(decimal.NewFromInt(5), claimed, model.DirectionBelow, "London", "openweathermap", th)
	assert.Equal(t, model.VerdictTrue, dry.Verdict)

	near := ScorePrecipitation(decimal.NewFromInt(50), claimed, model.DirectionBelow, "London", "openweathermap", th)
	assert.Equal(t, model.VerdictUnverifiable, near.Verdict)
}
