// Package hasher computes the verdict fingerprint submitted to the ledger.
//
// Layout v1 (tightly packed, no length prefixes), hashed with Keccak-256:
//
//	claimID     UTF-8 bytes
//	verdict     UTF-8 bytes ("TRUE" | "FALSE" | "UNVERIFIABLE")
//	confidence  uint256, big-endian, 32 bytes (rounded to nearest integer)
//	timestamp   uint256, big-endian, 32 bytes (Unix seconds)
//
// This matches Solidity's keccak256(abi.encodePacked(string, string, uint256, uint256))
// and is recomputed on-chain, so it must not change.
package hasher

import (
	"math"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"verdictd/internal/model"
)

// LayoutVersion identifies the byte layout above.
const LayoutVersion = "v1"

const wordSize = 32

// Encode returns the packed preimage for a verdict.
func Encode(claimID string, verdict model.Verdict, confidence float64, timestamp time.Time) []byte {
	buf := make([]byte, 0, len(claimID)+len(verdict)+2*wordSize)
	buf = append(buf, claimID...)
	buf = append(buf, string(verdict)...)
	buf = append(buf, uint256(RoundConfidence(confidence))...)
	buf = append(buf, uint256(unixSeconds(timestamp))...)
	return buf
}

// Hash returns the Keccak-256 digest of the packed verdict.
func Hash(claimID string, verdict model.Verdict, confidence float64, timestamp time.Time) common.Hash {
	return crypto.Keccak256Hash(Encode(claimID, verdict, confidence, timestamp))
}

// HashHex returns the 0x-prefixed hex form of Hash.
func HashHex(claimID string, verdict model.Verdict, confidence float64, timestamp time.Time) string {
	return Hash(claimID, verdict, confidence, timestamp).Hex()
}

// RoundConfidence rounds half away from zero. Negative and NaN inputs encode as 0.
func RoundConfidence(confidence float64) uint64 {
	if math.IsNaN(confidence) || confidence <= 0 {
		return 0
	}
	if math.IsInf(confidence, 1) || confidence >= math.MaxUint64 {
		return math.MaxUint64
	}
	return uint64(math.Round(confidence))
}

func unixSeconds(t time.Time) uint64 {
	s := t.Unix()
	if s < 0 {
		return 0
	}
	return uint64(s)
}

func uint256(v uint64) []byte {
	return common.LeftPadBytes(new(big.Int).SetUint64(v).Bytes(), wordSize)
}
