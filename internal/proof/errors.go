package proof

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConfigured means no signing key, RPC URL or contract address is set.
	ErrNotConfigured = errors.New("proof submitter not configured")
	// ErrInsufficientFunds means the signer cannot pay for the transaction.
	ErrInsufficientFunds = errors.New("insufficient balance for proof transaction")
	// ErrSigning covers key parsing and transaction signing failures.
	ErrSigning = errors.New("signing failed")
	// ErrRejected means the node refused the signed transaction.
	ErrRejected = errors.New("submission rejected")
	// ErrReverted means the transaction was mined but failed.
	ErrReverted = errors.New("transaction reverted")
	// ErrTimeout means no receipt arrived within the confirmation window.
	ErrTimeout = errors.New("confirmation timed out")
	// ErrAlreadyRecorded means the ledger already holds this digest.
	ErrAlreadyRecorded = errors.New("digest already recorded on ledger")
)

// Error reports the stage at which a proof submission failed. TxHash is set
// once a transaction has been sent.
type Error struct {
	Stage  string
	TxHash string
	Err    error
}

func (e *Error) Error() string {
	if e.TxHash != "" {
		return fmt.Sprintf("proof %s (tx %s): %v", e.Stage, e.TxHash, e.Err)
	}
	return fmt.Sprintf("proof %s: %v", e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func stageErr(stage string, kind error, cause error) *Error {
	if cause == nil {
		return &Error{Stage: stage, Err: kind}
	}
	return &Error{Stage: stage, Err: fmt.Errorf("%w: %v", kind, cause)}
}
