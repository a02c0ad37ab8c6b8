package app

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"verdictd/internal/model"
	"verdictd/internal/proof"
)

// recordChecker looks up a verdict digest on the ledger.
type recordChecker interface {
	IsRecorded(ctx context.Context, digest common.Hash) (bool, error)
}

// Show prints recent verdicts from the local log, or from the mirror. With
// Onchain set each digest is also looked up on the ledger contract.
func (a *App) Show(ctx context.Context, opts ShowOptions, out io.Writer) error {
	var checker recordChecker
	if opts.Onchain {
		if !common.IsHexAddress(a.Config.Ethereum.ContractAddress) || a.Config.Ethereum.RPCURL == "" {
			return fmt.Errorf("ethereum.rpc_url and contract_address required for --onchain")
		}
		ledgerClient := a.newLedgerClient()
		defer ledgerClient.Close()
		checker = ledgerClient
	}

	records, err := a.recentVerdicts(ctx, opts)
	if err != nil {
		return err
	}
	return a.writeVerdictTable(ctx, out, records, checker)
}

func (a *App) writeVerdictTable(ctx context.Context, out io.Writer, records []model.VerdictRecord, checker recordChecker) error {
	if len(records) == 0 {
		fmt.Fprintln(out, "no verdicts found")
		return nil
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	header := "Time (UTC)\tClaim\tType\tVerdict\tConf\tClaimed\tObserved\tSource\tProof\tNotice"
	if checker != nil {
		header += "\tLedger"
	}
	fmt.Fprintln(writer, header)

	for _, rec := range records {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%d\t%s\t%s\t%s\t%s\t%s",
			rec.CreatedAt.UTC().Format(time.RFC3339),
			rec.ClaimID,
			rec.ClaimType,
			rec.Verdict,
			rec.Confidence,
			formatNull(rec.ClaimedValue, 2),
			formatNull(rec.ObservedValue, 2),
			rec.SourceName,
			proofColumn(rec),
			notificationColumn(rec),
		)
		if checker != nil {
			fmt.Fprintf(writer, "\t%s", a.ledgerColumn(ctx, checker, rec))
		}
		fmt.Fprintln(writer)
	}

	return writer.Flush()
}

func (a *App) ledgerColumn(ctx context.Context, checker recordChecker, rec model.VerdictRecord) string {
	if rec.VerdictHash == "" {
		return "-"
	}
	recorded, err := checker.IsRecorded(ctx, common.HexToHash(rec.VerdictHash))
	if err != nil {
		a.Logger.Warn().Err(err).Str("claim_id", rec.ClaimID).Msg("ledger lookup failed")
		return "error"
	}
	if recorded {
		return "recorded"
	}
	return "missing"
}

func (a *App) recentVerdicts(ctx context.Context, opts ShowOptions) ([]model.VerdictRecord, error) {
	if !opts.Mirror {
		local, err := a.openState(ctx)
		if err != nil {
			return nil, err
		}
		defer local.Close()
		return local.Verdicts(ctx, opts.Limit)
	}

	mirror, closeMirror, err := a.openMirror(ctx)
	if err != nil {
		return nil, err
	}
	if mirror == nil {
		return nil, fmt.Errorf("database not configured; cannot show mirrored verdicts")
	}
	defer closeMirror()

	rows, err := mirror.ListRecentVerdicts(ctx, opts.Limit)
	if err != nil {
		return nil, err
	}
	records := make([]model.VerdictRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, row.Record)
	}
	return records, nil
}

func proofColumn(rec model.VerdictRecord) string {
	switch {
	case rec.ProofTxID != nil:
		return proof.ShortHash(*rec.ProofTxID)
	case rec.ProofError != nil:
		return "failed: " + sanitizeInline(*rec.ProofError)
	default:
		return "-"
	}
}

func notificationColumn(rec model.VerdictRecord) string {
	if rec.NotificationID == nil {
		return "-"
	}
	return *rec.NotificationID
}

func formatNull(d decimal.NullDecimal, places int32) string {
	if !d.Valid {
		return "n/a"
	}
	return d.Decimal.StringFixed(places)
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
