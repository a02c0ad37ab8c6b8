// Package feed collects candidate claims from the social feed, or from fixed
// demo templates when no feed is configured.
package feed

import (
	"context"

	"verdictd/internal/model"
)

// Source yields candidate claims in processing order.
type Source interface {
	Name() string
	Fetch(ctx context.Context) ([]model.CandidateClaim, error)
}
