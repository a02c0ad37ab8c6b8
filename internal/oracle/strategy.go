package oracle

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"verdictd/internal/model"
)

// Strategy verifies one family of claims. A returned error is either a
// *SourceError (recovered by the Verifier) or a *DecodeError (propagated).
type Strategy interface {
	Name() string
	Verify(ctx context.Context, claim model.ParsedClaim) (model.VerificationResult, error)
}

// Chain tries strategies in order and returns the first success. Transport
// failures fall through to the next strategy; decode failures stop the chain.
type Chain struct {
	steps []Strategy
}

// NewChain builds an ordered fallback chain.
func NewChain(steps ...Strategy) *Chain {
	return &Chain{steps: steps}
}

// Name implements Strategy.
func (c *Chain) Name() string {
	names := make([]string, 0, len(c.steps))
	for _, s := range c.steps {
		names = append(names, s.Name())
	}
	return strings.Join(names, ">")
}

// Verify implements Strategy.
func (c *Chain) Verify(ctx context.Context, claim model.ParsedClaim) (model.VerificationResult, error) {
	if len(c.steps) == 0 {
		return model.VerificationResult{}, unavailable("chain", "no strategies configured")
	}
	var errs []error
	for _, step := range c.steps {
		result, err := step.Verify(ctx, claim)
		if err == nil {
			return result, nil
		}
		if IsDecode(err) {
			return model.VerificationResult{}, err
		}
		errs = append(errs, err)
	}
	return model.VerificationResult{}, &SourceError{Source: c.Name(), Err: errors.Join(errs...)}
}

// PriceStrategy checks spot-price claims.
type PriceStrategy struct {
	Source     PriceSource
	Thresholds Thresholds
}

// Name implements Strategy.
func (p *PriceStrategy) Name() string { return p.Source.Name() }

// Verify implements Strategy.
func (p *PriceStrategy) Verify(ctx context.Context, claim model.ParsedClaim) (model.VerificationResult, error) {
	price, err := p.Source.SpotPrice(ctx, claim.Subject)
	if err != nil {
		return model.VerificationResult{}, err
	}
	return ScoreThreshold(Comparison{
		Label:     claim.Subject + " spot price",
		Unit:      "usd",
		Direction: claim.Direction,
		Observed:  price,
		Threshold: claim.Threshold(),
		Source:    p.Source.Name(),
	}, p.Thresholds), nil
}

// WeatherStrategy checks precipitation-probability claims.
type WeatherStrategy struct {
	Source          ForecastSource
	DefaultLocation string
	Thresholds      Thresholds
}

// Name implements Strategy.
func (w *WeatherStrategy) Name() string { return w.Source.Name() }

// Verify implements Strategy.
func (w *WeatherStrategy) Verify(ctx context.Context, claim model.ParsedClaim) (model.VerificationResult, error) {
	location := claim.Subject
	if location == "" {
		location = w.DefaultLocation
	}
	if location == "" {
		return model.VerificationResult{}, unavailable(w.Name(), "no location in claim and no default configured")
	}
	observed, err := w.Source.MaxPrecipitation(ctx, location)
	if err != nil {
		return model.VerificationResult{}, err
	}
	return ScorePrecipitation(observed, claim.Threshold(), claim.Direction, location, w.Source.Name(), w.Thresholds), nil
}

// GasStrategy checks gas-price claims against one RPC source.
type GasStrategy struct {
	Source     GasSource
	Thresholds Thresholds
}

// Name implements Strategy.
func (g *GasStrategy) Name() string { return g.Source.Name() }

// Verify implements Strategy.
func (g *GasStrategy) Verify(ctx context.Context, claim model.ParsedClaim) (model.VerificationResult, error) {
	wei, err := g.Source.GasPriceWei(ctx)
	if err != nil {
		return model.VerificationResult{}, err
	}
	return ScoreThreshold(Comparison{
		Label:     "gas price",
		Unit:      "gwei",
		Direction: claim.Direction,
		Observed:  WeiToGwei(wei),
		Threshold: claim.Threshold(),
		Source:    g.Source.Name(),
	}, g.Thresholds), nil
}

// TVLStrategy checks TVL-drop claims. Given a gas claim it can only report the
// market context, so the result is Unverifiable.
type TVLStrategy struct {
	Source     TVLSource
	Thresholds Thresholds
}

// Name implements Strategy.
func (t *TVLStrategy) Name() string { return t.Source.Name() }

// Verify implements Strategy.
func (t *TVLStrategy) Verify(ctx context.Context, claim model.ParsedClaim) (model.VerificationResult, error) {
	mean, n, err := t.Source.MeanChange1D(ctx)
	if err != nil {
		return model.VerificationResult{}, err
	}
	drop := mean.Neg()

	if claim.Metric != model.MetricTVLDrop {
		// the TVL change is not in the claim's unit, so no observed value
		return unverifiable(t.Source.Name(), confUnavailable,
			"gas sources unavailable; market TVL change across %d protocols %s%% vs claimed %s (difference n/a)",
			n, signed(mean), fmtValue(claim.Threshold(), claim.Unit)), nil
	}

	res := ScoreThreshold(Comparison{
		Label:     fmt.Sprintf("mean 1d TVL drop across %d protocols", n),
		Unit:      "percent",
		Direction: model.DirectionAbove,
		Observed:  drop,
		Threshold: claim.Threshold(),
		Source:    t.Source.Name(),
	}, t.Thresholds)
	return res, nil
}

var (
	_ Strategy = (*Chain)(nil)
	_ Strategy = (*PriceStrategy)(nil)
	_ Strategy = (*WeatherStrategy)(nil)
	_ Strategy = (*GasStrategy)(nil)
	_ Strategy = (*TVLStrategy)(nil)
)
