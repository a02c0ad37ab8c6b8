package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"verdictd/internal/model"
	"verdictd/internal/storage"
)

// Export renders verdict history as CSV and/or PNG. The mirror is read when
// configured, otherwise the local log.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}
	from := to.Add(-30 * 24 * time.Hour)
	if opts.From != nil {
		from = opts.From.UTC()
	}
	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	records, err := a.verdictsBetween(ctx, from, to, opts.LocalOnly)
	if err != nil {
		return err
	}
	if opts.Verdict != "" {
		records = filterVerdict(records, opts.Verdict)
	}
	if len(records) == 0 {
		a.Logger.Info().Msg("no verdicts found for export window")
		return nil
	}

	downsampled := downsampleRecords(records, opts.MaxPoints)
	a.Logger.Info().Int("total", len(records)).Int("exported", len(downsampled)).Msg("exporting verdicts")

	if opts.CSVPath != "" {
		if err := writeVerdictsCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeVerdictsPNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
	}

	return nil
}

// verdictsBetween returns records in [from, to), oldest first.
func (a *App) verdictsBetween(ctx context.Context, from, to time.Time, localOnly bool) ([]model.VerdictRecord, error) {
	var mirror *storage.Store
	var closeMirror func()
	if !localOnly {
		var err error
		mirror, closeMirror, err = a.openMirror(ctx)
		if err != nil {
			a.Logger.Warn().Err(err).Msg("mirror unavailable; exporting local log")
		}
	}
	if mirror != nil {
		defer closeMirror()
		rows, err := mirror.ListVerdictsBetween(ctx, from, to)
		if err != nil {
			return nil, err
		}
		out := make([]model.VerdictRecord, 0, len(rows))
		for _, row := range rows {
			out = append(out, row.Record)
		}
		return out, nil
	}

	local, err := a.openState(ctx)
	if err != nil {
		return nil, err
	}
	defer local.Close()

	all, err := local.Verdicts(ctx, a.Config.State.LogCap)
	if err != nil {
		return nil, err
	}
	return filterWindow(all, from, to), nil
}

func filterWindow(records []model.VerdictRecord, from, to time.Time) []model.VerdictRecord {
	out := make([]model.VerdictRecord, 0, len(records))
	for _, rec := range records {
		if rec.CreatedAt.Before(from) || !rec.CreatedAt.Before(to) {
			continue
		}
		out = append(out, rec)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func filterVerdict(records []model.VerdictRecord, verdict model.Verdict) []model.VerdictRecord {
	out := records[:0:0]
	for _, rec := range records {
		if rec.Verdict == verdict {
			out = append(out, rec)
		}
	}
	return out
}

func downsampleRecords(records []model.VerdictRecord, max int) []model.VerdictRecord {
	if max <= 0 || len(records) <= max {
		return records
	}
	if max == 1 {
		return records[len(records)-1:]
	}

	result := make([]model.VerdictRecord, 0, max)
	step := float64(len(records)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(records) {
			idx = len(records) - 1
		}
		result = append(result, records[idx])
	}
	return result
}

func writeVerdictsCSV(path string, records []model.VerdictRecord) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"created_at", "claim_id", "agent", "claim_type", "verdict", "confidence", "claimed_value", "observed_value", "source", "verdict_hash", "proof_tx_id", "proof_error", "notification_id", "claim_text"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, rec := range records {
		row := []string{
			rec.CreatedAt.UTC().Format(time.RFC3339),
			rec.ClaimID,
			rec.AgentLabel,
			string(rec.ClaimType),
			string(rec.Verdict),
			strconv.Itoa(rec.Confidence),
			nullString(rec.ClaimedValue.Valid, rec.ClaimedValue.Decimal.String()),
			nullString(rec.ObservedValue.Valid, rec.ObservedValue.Decimal.String()),
			rec.SourceName,
			rec.VerdictHash,
			deref(rec.ProofTxID),
			deref(rec.ProofError),
			deref(rec.NotificationID),
			sanitizeInline(rec.ClaimText),
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func writeVerdictsPNG(path string, records []model.VerdictRecord) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	order := []model.Verdict{model.VerdictTrue, model.VerdictFalse, model.VerdictUnverifiable}
	xs := make(map[model.Verdict][]time.Time, len(order))
	ys := make(map[model.Verdict][]float64, len(order))
	for _, rec := range records {
		xs[rec.Verdict] = append(xs[rec.Verdict], rec.CreatedAt)
		ys[rec.Verdict] = append(ys[rec.Verdict], float64(rec.Confidence))
	}

	var series []chart.Series
	for i, v := range order {
		if len(xs[v]) == 0 {
			continue
		}
		series = append(series, chart.TimeSeries{
			Name:    string(v),
			XValues: xs[v],
			YValues: ys[v],
			Style: chart.Style{
				StrokeWidth: chart.Disabled,
				DotWidth:    4,
				DotColor:    chart.GetDefaultColor(i),
			},
		})
	}

	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name: "Confidence (%)",
			Range: &chart.ContinuousRange{
				Min: 0,
				Max: 100,
			},
			ValueFormatter: func(v interface{}) string {
				return chart.FloatValueFormatterWithFormat(v, "%.0f")
			},
		},
		Series: series,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func nullString(valid bool, v string) string {
	if !valid {
		return ""
	}
	return v
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
