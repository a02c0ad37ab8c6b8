package app

import (
	"context"
	"errors"
	"os"
	"time"

	"verdictd/internal/storage"
)

// BackfillOptions configure the mirror backfill job.
type BackfillOptions struct {
	DryRun bool
}

// Backfill pushes the local verdict log into the PostgreSQL mirror: one row
// per record and a fresh log blob.
func (a *App) Backfill(ctx context.Context, opts BackfillOptions) error {
	local, err := a.openState(ctx)
	if err != nil {
		return err
	}
	defer local.Close()

	records, err := local.Verdicts(ctx, local.LogCap())
	if err != nil {
		return err
	}
	if len(records) == 0 {
		a.Logger.Info().Msg("local verdict log is empty; nothing to backfill")
		return nil
	}

	if opts.DryRun {
		a.Logger.Warn().Int("records", len(records)).Msg("backfill dry-run: mirror will not be written")
		return nil
	}

	mirror, closeMirror, err := a.openMirror(ctx)
	if err != nil {
		return err
	}
	if mirror == nil {
		return errors.New("database.dsn not configured; cannot backfill mirror")
	}
	defer closeMirror()

	written, failed := 0, 0
	// oldest first so row ids follow creation order
	for i := len(records) - 1; i >= 0; i-- {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := mirror.UpsertVerdict(ctx, records[i]); err != nil {
			failed++
			a.Logger.Error().Err(err).Str("claim_id", records[i].ClaimID).Msg("backfill row failed")
			continue
		}
		written++
	}

	host, _ := os.Hostname()
	blob := storage.LogBlob{
		Version:   storage.BlobVersion,
		Writer:    a.Config.App.Name + "/" + host,
		WrittenAt: time.Now().UTC(),
		Records:   records,
	}
	if err := mirror.WriteBlob(ctx, blob); err != nil {
		return err
	}

	total, err := mirror.CountVerdicts(ctx)
	if err != nil {
		a.Logger.Warn().Err(err).Msg("count mirrored verdicts")
	}
	a.Logger.Info().Int("written", written).Int("failed", failed).Int64("mirror_rows", total).Msg("backfill complete")
	if failed > 0 {
		return errors.New("some verdict rows failed to backfill; check logs")
	}
	return nil
}
