package storage

import (
	"time"

	"verdictd/internal/model"
)

// BlobVersion tags the mirrored log envelope.
const BlobVersion = 1

// LogBlob is the opaque envelope mirrored as a single JSONB value. Records are
// newest first.
type LogBlob struct {
	Version   int                   `json:"version"`
	Writer    string                `json:"writer"`
	WrittenAt time.Time             `json:"written_at"`
	Records   []model.VerdictRecord `json:"records"`
}

// VerdictRow is one verdict as stored in the relational history table.
type VerdictRow struct {
	ID     int64
	Record model.VerdictRecord
}
