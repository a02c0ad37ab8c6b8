package oracle

import (
	"fmt"

	"github.com/shopspring/decimal"

	"verdictd/internal/model"
)

// Confidence policy.
const (
	confTrueBase        = 85
	confFalseBase       = 82
	confTooClose        = 60
	confUnavailable     = 50
	confUnknown         = 55
	confWeatherDecisive = 85
	confWeatherBorder   = 65
)

var (
	hundred = decimal.NewFromInt(100)
	two     = decimal.NewFromInt(2)
)

// Thresholds configure how far an observation must sit from a claim before a
// verdict is decisive.
type Thresholds struct {
	// DecisiveGapPct is the relative gap (percent of the claimed value) beyond
	// which a missed threshold counts as False.
	DecisiveGapPct decimal.Decimal
	// WeatherDecisivePoints is the absolute percentage-point distance beyond
	// which a precipitation claim is decided.
	WeatherDecisivePoints decimal.Decimal
}

// DefaultThresholds returns the standard 20% / 20 point policy.
func DefaultThresholds() Thresholds {
	return Thresholds{
		DecisiveGapPct:        decimal.NewFromInt(20),
		WeatherDecisivePoints: decimal.NewFromInt(20),
	}
}

// Comparison describes an observed value checked against a claimed threshold.
type Comparison struct {
	Label     string
	Unit      string
	Direction model.Direction
	Observed  decimal.Decimal
	Threshold decimal.Decimal
	Source    string
}

// ScoreThreshold applies the threshold policy used by price, gas and TVL claims.
//
// For Above claims: observed >= threshold is True; a relative shortfall greater
// than DecisiveGapPct is False; anything closer is Unverifiable. Below claims
// mirror this. Confidence grows with half the relative gap and never exceeds 99.
func ScoreThreshold(c Comparison, th Thresholds) model.VerificationResult {
	if !c.Threshold.IsPositive() {
		return model.VerificationResult{
			Verdict:       model.VerdictUnverifiable,
			Confidence:    confUnknown,
			SourceName:    c.Source,
			ObservedValue: decimal.NewNullDecimal(c.Observed),
			Explanation: fmt.Sprintf("%s observed %s vs claimed %s: claimed value must be positive (difference %s)",
				c.Label, fmtValue(c.Observed, c.Unit), fmtValue(c.Threshold, c.Unit), c.Observed.Sub(c.Threshold).StringFixed(2)),
		}
	}

	gapPct := c.Observed.Sub(c.Threshold).Div(c.Threshold).Mul(hundred)
	absGap := gapPct.Abs()
	scaled := int(absGap.Div(two).Round(0).IntPart())

	met := c.Observed.GreaterThanOrEqual(c.Threshold)
	if c.Direction == model.DirectionBelow {
		met = c.Observed.LessThanOrEqual(c.Threshold)
	}

	result := model.VerificationResult{
		SourceName:    c.Source,
		ObservedValue: decimal.NewNullDecimal(c.Observed),
	}
	switch {
	case met:
		result.Verdict = model.VerdictTrue
		result.Confidence = model.ClampConfidence(confTrueBase + scaled)
	case absGap.GreaterThan(th.DecisiveGapPct):
		result.Verdict = model.VerdictFalse
		result.Confidence = model.ClampConfidence(confFalseBase + scaled)
	default:
		result.Verdict = model.VerdictUnverifiable
		result.Confidence = confTooClose
	}

	result.Explanation = fmt.Sprintf("%s observed %s vs claimed %s %s (difference %s%%)",
		c.Label, fmtValue(c.Observed, c.Unit), directionWord(c.Direction), fmtValue(c.Threshold, c.Unit), signed(gapPct))
	if result.Verdict == model.VerdictUnverifiable {
		result.Explanation += "; too close to call"
	}
	return result
}

// ScorePrecipitation applies the weather policy: a claimed probability more
// than WeatherDecisivePoints away from the forecast maximum is decided by the
// side the forecast falls on. Below claims are met when the forecast sits
// under the claimed value.
func ScorePrecipitation(observed, claimed decimal.Decimal, dir model.Direction, location, source string, th Thresholds) model.VerificationResult {
	diff := observed.Sub(claimed)
	met := diff.IsPositive()
	if dir == model.DirectionBelow {
		met = diff.IsNegative()
	}
	result := model.VerificationResult{
		SourceName:    source,
		ObservedValue: decimal.NewNullDecimal(observed),
	}
	switch {
	case diff.Abs().GreaterThan(th.WeatherDecisivePoints) && met:
		result.Verdict = model.VerdictTrue
		result.Confidence = confWeatherDecisive
	case diff.Abs().GreaterThan(th.WeatherDecisivePoints):
		result.Verdict = model.VerdictFalse
		result.Confidence = confWeatherDecisive
	default:
		result.Verdict = model.VerdictUnverifiable
		result.Confidence = confWeatherBorder
	}
	result.Explanation = fmt.Sprintf("max precipitation probability in %s observed %s%% vs claimed %s %s%% (difference %s points)",
		location, observed.StringFixed(0), directionWord(dir), claimed.StringFixed(0), signed(diff))
	return result
}

// unverifiable builds the result for a claim that could not be checked.
func unverifiable(source string, confidence int, format string, args ...any) model.VerificationResult {
	return model.VerificationResult{
		Verdict:     model.VerdictUnverifiable,
		Confidence:  model.ClampConfidence(confidence),
		SourceName:  source,
		Explanation: fmt.Sprintf(format, args...),
	}
}

func directionWord(d model.Direction) string {
	if d == model.DirectionBelow {
		return "at most"
	}
	return "at least"
}

func fmtValue(v decimal.Decimal, unit string) string {
	switch unit {
	case "usd":
		return "$" + v.StringFixed(2)
	case "gwei":
		return v.StringFixed(2) + " gwei"
	case "percent":
		return v.StringFixed(2) + "%"
	default:
		return v.String()
	}
}

func signed(d decimal.Decimal) string {
	if d.IsNegative() {
		return d.StringFixed(2)
	}
	return "+" + d.StringFixed(2)
}
