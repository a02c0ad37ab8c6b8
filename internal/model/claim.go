package model

import (
	"github.com/shopspring/decimal"
)

// MaxRawTextLen bounds the stored claim text.
const MaxRawTextLen = 280

// ClaimType categorises a parsed claim by the oracle family able to verify it.
type ClaimType string

const (
	ClaimTypePrice          ClaimType = "price"
	ClaimTypeWeather        ClaimType = "weather"
	ClaimTypeProtocolMetric ClaimType = "protocol_metric"
	ClaimTypeUnknown        ClaimType = "unknown"
)

// Direction is the comparison polarity captured from the claim's verb.
type Direction string

const (
	DirectionNone      Direction = ""
	DirectionAbove     Direction = "above"
	DirectionBelow     Direction = "below"
	DirectionAmbiguous Direction = "ambiguous"
)

// Metric narrows a protocol-metric claim.
type Metric string

const (
	MetricNone     Metric = ""
	MetricGasPrice Metric = "gas_price"
	MetricTVLDrop  Metric = "tvl_drop"
)

// ParsedClaim is the typed result of extracting a claim from free text.
// ClaimType is Unknown exactly when ExtractedValue is not valid.
type ParsedClaim struct {
	ClaimID        string              `json:"claim_id"`
	ClaimType      ClaimType           `json:"claim_type"`
	RawText        string              `json:"raw_text"`
	ExtractedValue decimal.NullDecimal `json:"extracted_value"`
	Subject        string              `json:"subject,omitempty"`
	Direction      Direction           `json:"direction,omitempty"`
	Metric         Metric              `json:"metric,omitempty"`
	Unit           string              `json:"unit,omitempty"`
}

// UnknownClaim builds the fallback claim for text that passed no gate.
func UnknownClaim(claimID, rawText string) ParsedClaim {
	return ParsedClaim{
		ClaimID:   claimID,
		ClaimType: ClaimTypeUnknown,
		RawText:   TruncateText(rawText),
	}
}

// Threshold returns the extracted value, or zero when none was captured.
func (c ParsedClaim) Threshold() decimal.Decimal {
	if !c.ExtractedValue.Valid {
		return decimal.Zero
	}
	return c.ExtractedValue.Decimal
}

// TruncateText bounds text to MaxRawTextLen runes.
func TruncateText(s string) string {
	runes := []rune(s)
	if len(runes) <= MaxRawTextLen {
		return s
	}
	return string(runes[:MaxRawTextLen])
}
