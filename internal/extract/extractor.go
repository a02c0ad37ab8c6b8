package extract

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"verdictd/internal/model"
)

var (
	thousand = decimal.NewFromInt(1_000)
	million  = decimal.NewFromInt(1_000_000)
)

var (
	dollarRe  = regexp.MustCompile(`\$\s?([0-9][0-9,]*(?:\.[0-9]+)?)\s?([kKmM])?\b`)
	percentRe = regexp.MustCompile(`\b([0-9]{1,3}(?:\.[0-9]+)?)\s?%`)

	aboveVerbRe = regexp.MustCompile(`(?i)\b(exceed(?:s|ed|ing)?|above|over|surpass(?:es|ed|ing)?|greater than|more than|higher than)\b`)
	belowVerbRe = regexp.MustCompile(`(?i)\b(below|under|less than|lower than)\b`)
	negationRe  = regexp.MustCompile(`(?i)\b(not|never|won't|wont|can't|cannot|isn't|doesn't|unlikely to)\b(?:\s+\w+){0,2}?\s+(exceed(?:s|ed|ing)?|above|over|surpass(?:es|ed|ing)?|greater|more|higher|below|under|less|lower|drops?|falls?|go(?:es)?|hits?|breaks?|reach(?:es)?|be|stay)\b`)

	weatherRe = regexp.MustCompile(`(?i)\b(precipitation|rain(?:fall|y)?|flood(?:ing|s)?|snow(?:fall)?|humidity)\b`)
	locationRe = regexp.MustCompile(`\b(?:in|for|over|at)\s+([A-Z][a-zA-Z]+(?:\s[A-Z][a-zA-Z]+)?)`)

	gasRe = regexp.MustCompile(`(?i)\bgas(?:\s+price|\s+fees?)?\s+(?:will\s+)?(?:be\s+)?(?:stay\s+)?(exceed(?:s|ed)?|surpass(?:es)?|above|over|greater than|below|under|less than|drops?\s+below|falls?\s+below)\s+([0-9][0-9,]*(?:\.[0-9]+)?)\s?([kKmM])?\s?gwei\b`)
	tvlRe = regexp.MustCompile(`(?i)\btvl\s+(?:will\s+)?(drops?|falls?|declines?|dips?|plunges?|is\s+down)\s+(?:by\s+)?([0-9]{1,3}(?:\.[0-9]+)?)\s?%`)
)

// defaultAssets maps recognised tickers and names to a canonical ticker.
var defaultAssets = map[string]string{
	"BTC": "BTC", "BITCOIN": "BTC",
	"ETH": "ETH", "ETHEREUM": "ETH", "ETHER": "ETH",
	"SOL": "SOL", "SOLANA": "SOL",
	"BNB":  "BNB",
	"XRP":  "XRP",
	"ADA":  "ADA", "CARDANO": "ADA",
	"DOGE": "DOGE", "DOGECOIN": "DOGE",
	"AVAX": "AVAX",
	"DOT":  "DOT",
	"LINK": "LINK",
	"LTC":  "LTC",
}

var domainKeywords = []string{"precipitation", "rain", "flood", "snow", "humidity", "tvl", "gwei", "gas"}

// Extractor classifies raw text into typed claims. It performs no I/O.
type Extractor struct {
	assets   map[string]string
	tickerRe *regexp.Regexp
}

// New builds an extractor recognising the default tickers plus any extra ones.
func New(extraTickers ...string) *Extractor {
	assets := make(map[string]string, len(defaultAssets)+len(extraTickers))
	for k, v := range defaultAssets {
		assets[k] = v
	}
	for _, t := range extraTickers {
		t = strings.ToUpper(strings.TrimSpace(t))
		if t != "" {
			assets[t] = t
		}
	}

	names := make([]string, 0, len(assets))
	for k := range assets {
		names = append(names, regexp.QuoteMeta(k))
	}
	// longest first so ETHEREUM wins over ETH
	sort.Slice(names, func(i, j int) bool { return len(names[i]) > len(names[j]) })

	return &Extractor{
		assets:   assets,
		tickerRe: regexp.MustCompile(`(?i)(?:^|[^A-Za-z0-9$])\$?(` + strings.Join(names, "|") + `)\b`),
	}
}

// Tickers returns the canonical tickers the extractor recognises.
func (e *Extractor) Tickers() []string {
	seen := make(map[string]struct{})
	out := make([]string, 0)
	for _, v := range e.assets {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// Extract parses rawText into a ParsedClaim. It never fails: text that passes
// no gate resolves to an Unknown claim.
func (e *Extractor) Extract(claimID, rawText string) model.ParsedClaim {
	text := model.TruncateText(strings.TrimSpace(rawText))
	if !e.passesPrefilter(text) {
		return model.UnknownClaim(claimID, text)
	}

	if claim, ok := e.extractPrice(claimID, text); ok {
		return claim
	}
	if claim, ok := extractWeather(claimID, text); ok {
		return claim
	}
	if claim, ok := extractProtocol(claimID, text); ok {
		return claim
	}
	return model.UnknownClaim(claimID, text)
}

func (e *Extractor) passesPrefilter(text string) bool {
	if strings.ContainsAny(text, "$%") {
		return true
	}
	if e.tickerRe.MatchString(text) {
		return true
	}
	lower := strings.ToLower(text)
	for _, kw := range domainKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func (e *Extractor) extractPrice(claimID, text string) (model.ParsedClaim, bool) {
	tickerMatch := e.tickerRe.FindStringSubmatch(text)
	if tickerMatch == nil {
		return model.ParsedClaim{}, false
	}
	dollarMatch := dollarRe.FindStringSubmatch(text)
	if dollarMatch == nil {
		return model.ParsedClaim{}, false
	}
	direction, ok := comparisonDirection(text)
	if !ok {
		return model.ParsedClaim{}, false
	}

	value, err := parseNumber(dollarMatch[1], dollarMatch[2])
	if err != nil {
		return model.ParsedClaim{}, false
	}

	return model.ParsedClaim{
		ClaimID:        claimID,
		ClaimType:      model.ClaimTypePrice,
		RawText:        text,
		ExtractedValue: decimal.NewNullDecimal(value),
		Subject:        e.assets[strings.ToUpper(tickerMatch[1])],
		Direction:      direction,
		Unit:           "usd",
	}, true
}

func extractWeather(claimID, text string) (model.ParsedClaim, bool) {
	if !weatherRe.MatchString(text) {
		return model.ParsedClaim{}, false
	}
	pctMatch := percentRe.FindStringSubmatch(text)
	if pctMatch == nil {
		return model.ParsedClaim{}, false
	}
	value, err := parseNumber(pctMatch[1], "")
	if err != nil || value.GreaterThan(decimal.NewFromInt(100)) {
		return model.ParsedClaim{}, false
	}

	direction := model.DirectionAbove
	switch {
	case negationRe.MatchString(text):
		direction = model.DirectionAmbiguous
	case belowVerbRe.MatchString(text):
		direction = model.DirectionBelow
	}

	subject := ""
	if loc := locationRe.FindStringSubmatch(text); loc != nil {
		subject = loc[1]
	}

	return model.ParsedClaim{
		ClaimID:        claimID,
		ClaimType:      model.ClaimTypeWeather,
		RawText:        text,
		ExtractedValue: decimal.NewNullDecimal(value),
		Subject:        subject,
		Direction:      direction,
		Unit:           "percent",
	}, true
}

func extractProtocol(claimID, text string) (model.ParsedClaim, bool) {
	if m := gasRe.FindStringSubmatch(text); m != nil {
		value, err := parseNumber(m[2], m[3])
		if err != nil {
			return model.ParsedClaim{}, false
		}
		direction := model.DirectionAbove
		if belowVerbRe.MatchString(m[1]) {
			direction = model.DirectionBelow
		}
		if negationRe.MatchString(text) {
			direction = model.DirectionAmbiguous
		}
		return model.ParsedClaim{
			ClaimID:        claimID,
			ClaimType:      model.ClaimTypeProtocolMetric,
			RawText:        text,
			ExtractedValue: decimal.NewNullDecimal(value),
			Subject:        "gas",
			Direction:      direction,
			Metric:         model.MetricGasPrice,
			Unit:           "gwei",
		}, true
	}

	if m := tvlRe.FindStringSubmatch(text); m != nil {
		value, err := parseNumber(m[2], "")
		if err != nil {
			return model.ParsedClaim{}, false
		}
		direction := model.DirectionAbove
		if negationRe.MatchString(text) {
			direction = model.DirectionAmbiguous
		}
		return model.ParsedClaim{
			ClaimID:        claimID,
			ClaimType:      model.ClaimTypeProtocolMetric,
			RawText:        text,
			ExtractedValue: decimal.NewNullDecimal(value),
			Subject:        "tvl",
			Direction:      direction,
			Metric:         model.MetricTVLDrop,
			Unit:           "percent",
		}, true
	}

	return model.ParsedClaim{}, false
}

// comparisonDirection reports the claim's polarity. Negated or conflicting
// verbs resolve to Ambiguous rather than a guessed direction.
func comparisonDirection(text string) (model.Direction, bool) {
	above := aboveVerbRe.MatchString(text)
	below := belowVerbRe.MatchString(text)
	switch {
	case !above && !below:
		return model.DirectionNone, false
	case negationRe.MatchString(text), above && below:
		return model.DirectionAmbiguous, true
	case above:
		return model.DirectionAbove, true
	default:
		return model.DirectionBelow, true
	}
}

// parseNumber strips thousands separators and applies a k/M suffix.
func parseNumber(numeral, suffix string) (decimal.Decimal, error) {
	cleaned := strings.ReplaceAll(numeral, ",", "")
	if cleaned == "" {
		return decimal.Decimal{}, fmt.Errorf("empty numeral")
	}
	value, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse numeral %q: %w", numeral, err)
	}
	switch suffix {
	case "k", "K":
		value = value.Mul(thousand)
	case "m", "M":
		value = value.Mul(million)
	}
	return value, nil
}
