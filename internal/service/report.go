package service

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"verdictd/internal/hasher"
	"verdictd/internal/model"
)

// Outcome classifies what a cycle did with one candidate.
type Outcome int

const (
	OutcomeSkipped Outcome = iota
	OutcomeIgnored
	OutcomeDeferred
	OutcomeFailed
	OutcomeVerified
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSkipped:
		return "skipped"
	case OutcomeIgnored:
		return "ignored"
	case OutcomeDeferred:
		return "deferred"
	case OutcomeFailed:
		return "failed"
	case OutcomeVerified:
		return "verified"
	default:
		return "unknown"
	}
}

type delivery int

const (
	deliveryOff delivery = iota
	deliverySent
	deliveryRateLimited
	deliveryFailed
)

type claimOutcome struct {
	kind        Outcome
	proofFailed bool
	delivery    delivery
}

// CycleReport summarises one cycle.
type CycleReport struct {
	CycleID       string
	Started       time.Time
	Finished      time.Time
	LockSkipped   bool
	Fetched       int
	Skipped       int
	Ignored       int
	Deferred      int
	Failed        int
	Verified      int
	ProofFailures int
	Notified      int
	RateLimited   int
}

func (r *CycleReport) add(o claimOutcome) {
	switch o.kind {
	case OutcomeSkipped:
		r.Skipped++
	case OutcomeIgnored:
		r.Ignored++
	case OutcomeDeferred:
		r.Deferred++
	case OutcomeFailed:
		r.Failed++
	case OutcomeVerified:
		r.Verified++
	}
	if o.proofFailed {
		r.ProofFailures++
	}
	switch o.delivery {
	case deliverySent:
		r.Notified++
	case deliveryRateLimited:
		r.RateLimited++
	}
}

// Evaluation is a verdict together with its ledger digest.
type Evaluation struct {
	Claim     model.ParsedClaim
	Result    model.VerificationResult
	Hash      common.Hash
	Timestamp time.Time
}

// Evaluate binds result to the digest that would be submitted at ts.
func Evaluate(claim model.ParsedClaim, result model.VerificationResult, ts time.Time) Evaluation {
	result.Confidence = model.ClampConfidence(result.Confidence)
	return Evaluation{
		Claim:     claim,
		Result:    result,
		Hash:      hasher.Hash(claim.ClaimID, result.Verdict, float64(result.Confidence), ts),
		Timestamp: ts,
	}
}

// Check extracts and verifies text without submitting, notifying or
// persisting anything.
func (s *Service) Check(ctx context.Context, claimID, text string) (Evaluation, error) {
	claim := s.deps.Extractor.Extract(claimID, text)
	result, err := s.deps.Verifier.Verify(ctx, claim)
	if err != nil {
		return Evaluation{Claim: claim}, fmt.Errorf("verify: %w", err)
	}
	return Evaluate(claim, result, s.now().Truncate(time.Second)), nil
}
