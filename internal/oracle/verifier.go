package oracle

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"verdictd/internal/model"
)

// Verifier dispatches a parsed claim to the strategy for its type.
type Verifier struct {
	price   Strategy
	weather Strategy
	gas     Strategy
	tvl     Strategy
	logger  zerolog.Logger
}

// Strategies wires one strategy per claim family. Nil entries resolve every
// claim of that family to Unverifiable.
type Strategies struct {
	Price   Strategy
	Weather Strategy
	Gas     Strategy
	TVL     Strategy
}

// NewVerifier constructs a Verifier.
func NewVerifier(s Strategies, logger zerolog.Logger) *Verifier {
	return &Verifier{
		price:   s.Price,
		weather: s.Weather,
		gas:     s.Gas,
		tvl:     s.TVL,
		logger:  logger.With().Str("component", "verifier").Logger(),
	}
}

// Verify returns a verdict for claim. Source unavailability never returns an
// error; only malformed upstream payloads do (see DecodeError).
func (v *Verifier) Verify(ctx context.Context, claim model.ParsedClaim) (model.VerificationResult, error) {
	if claim.ClaimType == model.ClaimTypeUnknown || !claim.ExtractedValue.Valid {
		return unverifiable("pattern-extractor", confUnknown,
			"no verifiable quantity found in claim (observed n/a, claimed n/a, difference n/a)"), nil
	}
	if claim.Direction == model.DirectionAmbiguous {
		return unverifiable("pattern-extractor", confUnknown,
			"claim polarity is ambiguous (negated or conflicting comparison); claimed %s, observed n/a, difference n/a",
			fmtValue(claim.Threshold(), claim.Unit)), nil
	}

	strategy := v.strategyFor(claim)
	if strategy == nil {
		return unverifiable("none", confUnavailable,
			"no oracle configured for %s claims; claimed %s, observed n/a, difference n/a",
			claim.ClaimType, fmtValue(claim.Threshold(), claim.Unit)), nil
	}

	result, err := strategy.Verify(ctx, claim)
	if err == nil {
		result.Confidence = model.ClampConfidence(result.Confidence)
		return result, nil
	}

	if IsDecode(err) {
		return model.VerificationResult{}, err
	}

	source, retryable := strategy.Name(), true
	var se *SourceError
	if errors.As(err, &se) {
		source, retryable = se.Source, se.Retryable()
	}
	v.logger.Warn().Err(err).Str("claim_id", claim.ClaimID).Str("source", source).Bool("retryable", retryable).
		Msg("oracle unavailable; claim unverifiable")
	return unverifiable(source, confUnavailable,
		"source unavailable: %v; claimed %s, observed n/a, difference n/a",
		err, fmtValue(claim.Threshold(), claim.Unit)), nil
}

func (v *Verifier) strategyFor(claim model.ParsedClaim) Strategy {
	switch claim.ClaimType {
	case model.ClaimTypePrice:
		return v.price
	case model.ClaimTypeWeather:
		return v.weather
	case model.ClaimTypeProtocolMetric:
		if claim.Metric == model.MetricGasPrice {
			return v.gas
		}
		return v.tvl
	default:
		return nil
	}
}
