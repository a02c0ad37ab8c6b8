package app

import (
	"context"
	"fmt"
	"io"
	"time"
)

// Cycle runs exactly one verification cycle and prints its report.
func (a *App) Cycle(ctx context.Context, out io.Writer) error {
	rt, err := a.build(ctx, nil)
	if err != nil {
		return err
	}
	defer rt.Close()

	report, err := rt.service.RunCycle(ctx, time.Now().UTC())
	if err != nil {
		return err
	}
	if report.LockSkipped {
		fmt.Fprintln(out, "another instance holds the cycle lock; nothing done")
		return nil
	}

	fmt.Fprintf(out, "cycle %s: fetched=%d verified=%d skipped=%d ignored=%d deferred=%d failed=%d proof_failures=%d notified=%d rate_limited=%d\n",
		report.CycleID, report.Fetched, report.Verified, report.Skipped, report.Ignored,
		report.Deferred, report.Failed, report.ProofFailures, report.Notified, report.RateLimited)
	return nil
}
