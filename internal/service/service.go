package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"verdictd/internal/alerting"
	"verdictd/internal/feed"
	"verdictd/internal/hasher"
	"verdictd/internal/ledger"
	"verdictd/internal/model"
	"verdictd/internal/proof"
	"verdictd/internal/scheduler"
	"verdictd/internal/state"
	"verdictd/internal/storage"
)

// Extractor turns free text into a typed claim.
type Extractor interface {
	Extract(claimID, rawText string) model.ParsedClaim
}

// Verifier checks a claim against its oracle.
type Verifier interface {
	Verify(ctx context.Context, claim model.ParsedClaim) (model.VerificationResult, error)
}

// Dispatcher delivers verdict notifications.
type Dispatcher interface {
	Enabled() bool
	Dispatch(ctx context.Context, note alerting.Notification) (alerting.Delivery, error)
}

// StateStore is the local source of truth. state.Store satisfies it.
type StateStore interface {
	PrependVerdict(ctx context.Context, rec model.VerdictRecord) error
	Verdicts(ctx context.Context, limit int) ([]model.VerdictRecord, error)
	ReplaceVerdicts(ctx context.Context, records []model.VerdictRecord) error
	MarkProcessed(ctx context.Context, claimID string, at time.Time) error
	ProcessedIDs(ctx context.Context) ([]string, error)
	RecordNotification(ctx context.Context, at time.Time) error
	NotificationsSince(ctx context.Context, since time.Time) ([]time.Time, error)
}

// Deps are the collaborators of the orchestrator. Submitter, Dispatcher,
// State, Mirror and Locker may be nil.
type Deps struct {
	Feed       feed.Source
	Extractor  Extractor
	Verifier   Verifier
	Submitter  proof.Submitter
	Dispatcher Dispatcher
	State      StateStore
	Mirror     storage.Mirror
	Locker     storage.AdvisoryLocker
	Processed  *ledger.ProcessedSet
	Window     *ledger.NotificationWindow
}

// Options tune a cycle.
type Options struct {
	AgentLabel   string
	ClaimDelay   time.Duration
	LockKey      int64
	ExplorerURL  string
	Writer       string
	LogCap       int
	NotifyWindow time.Duration
}

// Service orchestrates fetch, verification, proof, notification and persistence.
type Service struct {
	deps      Deps
	opts      Options
	scheduler *scheduler.Scheduler
	logger    zerolog.Logger

	mu      sync.Mutex
	records []model.VerdictRecord

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New constructs the orchestrator.
func New(deps Deps, opts Options, sched *scheduler.Scheduler, logger zerolog.Logger) *Service {
	if deps.Processed == nil {
		deps.Processed = ledger.NewProcessedSet()
	}
	if deps.Window == nil {
		deps.Window = ledger.NewNotificationWindow(0, opts.NotifyWindow)
	}
	if opts.LogCap <= 0 {
		opts.LogCap = 100
	}
	if opts.NotifyWindow <= 0 {
		opts.NotifyWindow = ledger.DefaultWindow
	}
	return &Service{
		deps:      deps,
		opts:      opts,
		scheduler: sched,
		logger:    logger.With().Str("component", "service").Logger(),
		now:       func() time.Time { return time.Now().UTC() },
		sleep:     sleepCtx,
	}
}

// Run begins the scheduled cycle loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, func(ctx context.Context, bucket time.Time) error {
		_, err := s.RunCycle(ctx, bucket)
		return err
	})
}

// Restore loads the processed set, notification window and verdict log from
// the local store, seeding the log from the mirror when the local one is empty.
func (s *Service) Restore(ctx context.Context) error {
	if s.deps.State == nil {
		return nil
	}

	ids, err := s.deps.State.ProcessedIDs(ctx)
	if err != nil {
		return fmt.Errorf("restore processed ids: %w", err)
	}
	s.deps.Processed.Restore(ids)

	sent, err := s.deps.State.NotificationsSince(ctx, s.now().Add(-s.opts.NotifyWindow))
	if err != nil {
		return fmt.Errorf("restore notification window: %w", err)
	}
	s.deps.Window.Restore(sent)

	records, err := s.deps.State.Verdicts(ctx, s.opts.LogCap)
	if err != nil {
		return fmt.Errorf("restore verdict log: %w", err)
	}

	if len(records) == 0 && s.deps.Mirror != nil {
		blob, found, err := s.deps.Mirror.ReadBlob(ctx)
		if err != nil {
			s.logger.Warn().Err(err).Msg("mirror read failed; starting with empty log")
		} else if found && len(blob.Records) > 0 {
			records = capRecords(blob.Records, s.opts.LogCap)
			if err := s.deps.State.ReplaceVerdicts(ctx, records); err != nil {
				return fmt.Errorf("seed verdict log from mirror: %w", err)
			}
			for _, rec := range records {
				if s.deps.Processed.MarkProcessed(rec.ClaimID) {
					if err := s.deps.State.MarkProcessed(ctx, rec.ClaimID, rec.CreatedAt); err != nil {
						s.logger.Warn().Err(err).Str("claim_id", rec.ClaimID).Msg("failed to persist seeded claim id")
					}
				}
			}
			s.logger.Info().Int("records", len(records)).Str("writer", blob.Writer).Msg("verdict log seeded from mirror")
		}
	}

	s.mu.Lock()
	s.records = records
	s.mu.Unlock()

	s.logger.Info().Int("processed", s.deps.Processed.Len()).
		Int("recent_notifications", len(sent)).
		Int("records", len(records)).
		Msg("state restored")
	return nil
}

// Records returns a copy of the in-memory verdict log, newest first.
func (s *Service) Records() []model.VerdictRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.VerdictRecord, len(s.records))
	copy(out, s.records)
	return out
}

// RunCycle processes one batch of candidate claims sequentially.
func (s *Service) RunCycle(ctx context.Context, bucket time.Time) (CycleReport, error) {
	report := CycleReport{CycleID: uuid.NewString(), Started: s.now()}
	logger := s.logger.With().Str("cycle_id", report.CycleID).Logger()

	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return report, err
	}
	if !proceed {
		logger.Debug().Time("bucket", bucket).Msg("skip cycle because advisory lock held elsewhere")
		report.LockSkipped = true
		return report, nil
	}
	if unlock != nil {
		defer unlock()
	}

	if s.deps.Feed == nil {
		return report, fmt.Errorf("feed source not configured")
	}
	candidates, err := s.deps.Feed.Fetch(ctx)
	if err != nil {
		return report, fmt.Errorf("fetch candidates: %w", err)
	}
	report.Fetched = len(candidates)
	logger.Info().Str("source", s.deps.Feed.Name()).Int("candidates", len(candidates)).Msg("cycle started")

	for i, cand := range candidates {
		if i > 0 && s.opts.ClaimDelay > 0 {
			if err := s.sleep(ctx, s.opts.ClaimDelay); err != nil {
				return report, err
			}
		}

		outcome, err := s.processClaim(ctx, logger, cand)
		report.add(outcome)
		if err != nil {
			logger.Error().Err(err).Str("claim_id", cand.ID).Str("outcome", outcome.kind.String()).Msg("claim processing failed")
		}
	}

	if report.Verified > 0 {
		s.syncMirror(ctx, logger)
	}

	report.Finished = s.now()
	logger.Info().
		Int("fetched", report.Fetched).
		Int("verified", report.Verified).
		Int("skipped", report.Skipped).
		Int("ignored", report.Ignored).
		Int("deferred", report.Deferred).
		Int("failed", report.Failed).
		Int("proof_failures", report.ProofFailures).
		Int("notified", report.Notified).
		Int("rate_limited", report.RateLimited).
		Dur("elapsed", report.Finished.Sub(report.Started)).
		Msg("cycle finished")
	return report, nil
}

func (s *Service) processClaim(ctx context.Context, logger zerolog.Logger, cand model.CandidateClaim) (out claimOutcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = claimOutcome{kind: OutcomeFailed}
			err = fmt.Errorf("panic processing claim: %v", r)
		}
	}()

	if cand.ID == "" {
		return claimOutcome{kind: OutcomeIgnored}, nil
	}
	if s.deps.Processed.IsProcessed(cand.ID) {
		return claimOutcome{kind: OutcomeSkipped}, nil
	}

	claim := s.deps.Extractor.Extract(cand.ID, cand.Content)
	if claim.ClaimType == model.ClaimTypeUnknown {
		s.markProcessed(ctx, logger, cand.ID)
		logger.Debug().Str("claim_id", cand.ID).Msg("no verifiable claim in post")
		return claimOutcome{kind: OutcomeIgnored}, nil
	}

	result, err := s.deps.Verifier.Verify(ctx, claim)
	if err != nil {
		// left unmarked so the next cycle retries it
		return claimOutcome{kind: OutcomeDeferred}, fmt.Errorf("verify: %w", err)
	}

	rec, delivered := s.settle(ctx, logger, cand, claim, result)

	s.persist(ctx, logger, rec)
	s.markProcessed(ctx, logger, cand.ID)

	event := logger.Info().
		Str("claim_id", rec.ClaimID).
		Str("claim_type", string(rec.ClaimType)).
		Str("verdict", string(rec.Verdict)).
		Int("confidence", rec.Confidence).
		Str("source", rec.SourceName).
		Str("hash", rec.VerdictHash).
		Str("hash_layout", hasher.LayoutVersion)
	if rec.ProofTxID != nil {
		event = event.Str("proof_tx", *rec.ProofTxID)
	}
	if rec.ProofError != nil {
		event = event.Str("proof_error", *rec.ProofError)
	}
	if rec.NotificationID != nil {
		event = event.Str("notification_id", *rec.NotificationID)
	}
	event.Msg("claim verified")

	return claimOutcome{kind: OutcomeVerified, proofFailed: rec.ProofTxID == nil, delivery: delivered}, nil
}

// settle hashes, submits the proof and notifies. Proof and notification
// failures are recorded on the returned record, never returned.
func (s *Service) settle(ctx context.Context, logger zerolog.Logger, cand model.CandidateClaim, claim model.ParsedClaim, result model.VerificationResult) (model.VerdictRecord, delivery) {
	ts := s.now().Truncate(time.Second)
	evaluated := Evaluate(claim, result, ts)

	rec := model.VerdictRecord{
		ClaimID:       cand.ID,
		AgentLabel:    cand.Author,
		ClaimText:     claim.RawText,
		ClaimType:     claim.ClaimType,
		ClaimedValue:  claim.ExtractedValue,
		Verdict:       result.Verdict,
		Confidence:    model.ClampConfidence(result.Confidence),
		SourceName:    result.SourceName,
		ObservedValue: result.ObservedValue,
		Explanation:   result.Explanation,
		VerdictHash:   evaluated.Hash.Hex(),
		CreatedAt:     ts,
	}
	if rec.AgentLabel == "" {
		rec.AgentLabel = s.opts.AgentLabel
	}

	txID, proofErr := s.submitProof(ctx, evaluated)
	if proofErr != nil {
		msg := proofErr.Error()
		rec.ProofError = &msg
		logger.Warn().Err(proofErr).Str("claim_id", cand.ID).Msg("proof submission failed")
	} else {
		rec.ProofTxID = &txID
	}

	return rec, s.notify(ctx, logger, claim, &rec, proofErr)
}

func (s *Service) submitProof(ctx context.Context, ev Evaluation) (string, error) {
	if s.deps.Submitter == nil {
		return "", &proof.Error{Stage: "config", Err: proof.ErrNotConfigured}
	}
	receipt, err := s.deps.Submitter.Submit(ctx, ev.Hash, ev.Result.Verdict)
	if err != nil {
		return "", err
	}
	return receipt.TxHash, nil
}

func (s *Service) notify(ctx context.Context, logger zerolog.Logger, claim model.ParsedClaim, rec *model.VerdictRecord, proofErr error) delivery {
	if s.deps.Dispatcher == nil || !s.deps.Dispatcher.Enabled() {
		return deliveryOff
	}

	note := alerting.Notification{
		ClaimID:       rec.ClaimID,
		AgentLabel:    rec.AgentLabel,
		ClaimType:     rec.ClaimType,
		Unit:          claim.Unit,
		Verdict:       rec.Verdict,
		Confidence:    rec.Confidence,
		ClaimedValue:  rec.ClaimedValue,
		ObservedValue: rec.ObservedValue,
		SourceName:    rec.SourceName,
		Explanation:   rec.Explanation,
		ProofTxID:     rec.ProofTxID,
		ExplorerURL:   s.opts.ExplorerURL,
	}
	if proofErr != nil {
		note.ProofError = proofFailureNotice(proofErr)
	}

	sent, err := s.deps.Dispatcher.Dispatch(ctx, note)
	switch {
	case errors.Is(err, alerting.ErrRateLimited):
		logger.Info().Str("claim_id", rec.ClaimID).Msg("notification skipped: hourly limit reached")
		return deliveryRateLimited
	case err != nil:
		logger.Warn().Err(err).Str("claim_id", rec.ClaimID).Msg("notification failed")
		return deliveryFailed
	}

	id := sent.ID
	rec.NotificationID = &id
	if s.deps.State != nil {
		if err := s.deps.State.RecordNotification(ctx, sent.SentAt); err != nil {
			logger.Warn().Err(err).Msg("failed to persist notification timestamp")
		}
	}
	return deliverySent
}

func (s *Service) persist(ctx context.Context, logger zerolog.Logger, rec model.VerdictRecord) {
	s.mu.Lock()
	s.records = capRecords(append([]model.VerdictRecord{rec}, s.records...), s.opts.LogCap)
	s.mu.Unlock()

	if s.deps.State != nil {
		if err := s.deps.State.PrependVerdict(ctx, rec); err != nil {
			logger.Error().Err(err).Str("claim_id", rec.ClaimID).Msg("failed to persist verdict locally")
		}
	}
	if s.deps.Mirror != nil {
		if err := s.deps.Mirror.UpsertVerdict(ctx, rec); err != nil {
			logger.Warn().Err(err).Str("claim_id", rec.ClaimID).Msg("failed to mirror verdict row")
		}
	}
}

func (s *Service) markProcessed(ctx context.Context, logger zerolog.Logger, claimID string) {
	if !s.deps.Processed.MarkProcessed(claimID) {
		return
	}
	if s.deps.State != nil {
		if err := s.deps.State.MarkProcessed(ctx, claimID, s.now()); err != nil {
			logger.Warn().Err(err).Str("claim_id", claimID).Msg("failed to persist processed claim id")
		}
	}
}

func (s *Service) syncMirror(ctx context.Context, logger zerolog.Logger) {
	if s.deps.Mirror == nil {
		return
	}
	blob := storage.LogBlob{
		Version:   storage.BlobVersion,
		Writer:    s.opts.Writer,
		WrittenAt: s.now(),
		Records:   s.Records(),
	}
	if err := s.deps.Mirror.WriteBlob(ctx, blob); err != nil {
		logger.Warn().Err(err).Msg("mirror sync failed; local log remains authoritative")
		return
	}
	logger.Debug().Int("records", len(blob.Records)).Msg("mirror synced")
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.opts.LockKey == 0 || s.deps.Locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.deps.Locker.TryAdvisoryLock(ctx, s.opts.LockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}

func proofFailureNotice(err error) string {
	switch {
	case errors.Is(err, proof.ErrNotConfigured):
		return "ledger not configured"
	case errors.Is(err, proof.ErrInsufficientFunds):
		return "insufficient funds"
	case errors.Is(err, proof.ErrAlreadyRecorded):
		return "digest already recorded"
	case errors.Is(err, proof.ErrTimeout):
		return "confirmation timed out"
	case errors.Is(err, proof.ErrReverted):
		return "transaction reverted"
	case errors.Is(err, proof.ErrSigning):
		return "signing failed"
	case errors.Is(err, proof.ErrRejected):
		return "submission rejected"
	default:
		return "unexpected error"
	}
}

func capRecords(records []model.VerdictRecord, limit int) []model.VerdictRecord {
	if limit > 0 && len(records) > limit {
		return records[:limit]
	}
	return records
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

var (
	_ StateStore = (*state.Store)(nil)
	_ Dispatcher = (*alerting.Dispatcher)(nil)
)
