package app

import (
	"context"
	"fmt"
	"io"
	"math/big"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"verdictd/internal/oracle"
	"verdictd/internal/service"
)

// CheckOptions configure the check command.
type CheckOptions struct {
	Text     string
	ClaimID  string
	Observed *decimal.Decimal
}

// Check extracts and verifies a single claim without submitting a proof,
// notifying or persisting. With Observed set every oracle reports that value.
func (a *App) Check(ctx context.Context, opts CheckOptions, out io.Writer) error {
	verifier := oracle.NewVerifier(staticStrategies(opts.Observed, a.Config.Oracle.Weather.DefaultLocation), a.Logger)
	if opts.Observed == nil {
		live, closeVerifier := a.newVerifier()
		defer closeVerifier()
		verifier = live
	}

	claimID := opts.ClaimID
	if claimID == "" {
		claimID = "check"
	}

	svc := service.New(service.Deps{Extractor: a.newExtractor(), Verifier: verifier}, service.Options{}, nil, a.Logger)
	ev, err := svc.Check(ctx, claimID, opts.Text)
	if err != nil {
		return err
	}
	return writeEvaluation(out, ev)
}

func writeEvaluation(out io.Writer, ev service.Evaluation) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "Claim\t%s\n", ev.Claim.RawText)
	fmt.Fprintf(w, "Type\t%s\n", ev.Claim.ClaimType)
	if ev.Claim.Subject != "" {
		fmt.Fprintf(w, "Subject\t%s\n", ev.Claim.Subject)
	}
	fmt.Fprintf(w, "Claimed\t%s\n", formatNull(ev.Claim.ExtractedValue, 2))
	fmt.Fprintf(w, "Verdict\t%s (%d%% confidence)\n", ev.Result.Verdict, ev.Result.Confidence)
	fmt.Fprintf(w, "Observed\t%s\n", formatNull(ev.Result.ObservedValue, 2))
	fmt.Fprintf(w, "Source\t%s\n", ev.Result.SourceName)
	fmt.Fprintf(w, "Explanation\t%s\n", sanitizeInline(ev.Result.Explanation))
	fmt.Fprintf(w, "Hash\t%s\n", ev.Hash.Hex())
	fmt.Fprintf(w, "Timestamp\t%s\n", ev.Timestamp.UTC().Format(time.RFC3339))
	return w.Flush()
}

func staticStrategies(observed *decimal.Decimal, location string) oracle.Strategies {
	if observed == nil {
		return oracle.Strategies{}
	}
	src := staticSource{value: *observed}
	th := oracle.DefaultThresholds()
	return oracle.Strategies{
		Price:   &oracle.PriceStrategy{Source: src, Thresholds: th},
		Weather: &oracle.WeatherStrategy{Source: src, DefaultLocation: location, Thresholds: th},
		Gas:     &oracle.GasStrategy{Source: src, Thresholds: th},
		TVL:     &oracle.TVLStrategy{Source: src, Thresholds: th},
	}
}

// staticSource answers every oracle query with one value. Gas is taken as
// gwei and TVL as the percentage drop.
type staticSource struct {
	value decimal.Decimal
}

func (s staticSource) Name() string { return "static" }

func (s staticSource) SpotPrice(ctx context.Context, ticker string) (decimal.Decimal, error) {
	return s.value, nil
}

func (s staticSource) MaxPrecipitation(ctx context.Context, location string) (decimal.Decimal, error) {
	return s.value, nil
}

func (s staticSource) GasPriceWei(ctx context.Context) (*big.Int, error) {
	return s.value.Shift(9).BigInt(), nil
}

func (s staticSource) MeanChange1D(ctx context.Context) (decimal.Decimal, int, error) {
	return s.value.Neg(), 1, nil
}

var (
	_ oracle.PriceSource    = staticSource{}
	_ oracle.ForecastSource = staticSource{}
	_ oracle.GasSource      = staticSource{}
	_ oracle.TVLSource      = staticSource{}
)
