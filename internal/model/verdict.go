package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Verdict is the pipeline's judgment on a claim.
type Verdict string

// Labels are hashed and sent on-chain verbatim; do not change them.
const (
	VerdictTrue         Verdict = "TRUE"
	VerdictFalse        Verdict = "FALSE"
	VerdictUnverifiable Verdict = "UNVERIFIABLE"
)

// MaxConfidence is the ceiling for any oracle-derived confidence.
const MaxConfidence = 99

// VerificationResult is produced once per claim by the oracle verifier.
type VerificationResult struct {
	Verdict       Verdict             `json:"verdict"`
	Confidence    int                 `json:"confidence"`
	SourceName    string              `json:"source_name"`
	ObservedValue decimal.NullDecimal `json:"observed_value"`
	Explanation   string              `json:"explanation"`
}

// ClampConfidence keeps a confidence inside [0, MaxConfidence].
func ClampConfidence(c int) int {
	if c < 0 {
		return 0
	}
	if c > MaxConfidence {
		return MaxConfidence
	}
	return c
}

// VerdictRecord is the persisted unit of the verdict log.
type VerdictRecord struct {
	ClaimID        string              `json:"claim_id"`
	AgentLabel     string              `json:"agent_label"`
	ClaimText      string              `json:"claim_text"`
	ClaimType      ClaimType           `json:"claim_type"`
	ClaimedValue   decimal.NullDecimal `json:"claimed_value"`
	Verdict        Verdict             `json:"verdict"`
	Confidence     int                 `json:"confidence"`
	SourceName     string              `json:"source_name"`
	ObservedValue  decimal.NullDecimal `json:"observed_value"`
	Explanation    string              `json:"explanation"`
	ProofTxID      *string             `json:"proof_tx_id"`
	ProofError     *string             `json:"proof_error,omitempty"`
	VerdictHash    string              `json:"verdict_hash"`
	CreatedAt      time.Time           `json:"created_at"`
	NotificationID *string             `json:"notification_id"`
}

// CandidateClaim is a raw text item handed to the orchestrator by a feed.
type CandidateClaim struct {
	ID      string `json:"id"`
	Author  string `json:"author"`
	Content string `json:"content"`
	Source  string `json:"source,omitempty"`
}
