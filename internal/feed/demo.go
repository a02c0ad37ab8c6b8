package feed

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"verdictd/internal/model"
)

// demoNamespace seeds the name-based ids of demo claims.
var demoNamespace = uuid.MustParse("6f1c2a8e-9b4d-4e0a-8d53-1f7f0f3b9c21")

// Demo replays fixed claim templates in order.
type Demo struct {
	author    string
	templates []string
}

// NewDemo builds a demo source. Blank templates are ignored.
func NewDemo(author string, templates []string) *Demo {
	kept := make([]string, 0, len(templates))
	for _, t := range templates {
		if t = strings.TrimSpace(t); t != "" {
			kept = append(kept, t)
		}
	}
	if author == "" {
		author = "demo"
	}
	return &Demo{author: author, templates: kept}
}

// Name implements Source.
func (d *Demo) Name() string { return "demo" }

// Fetch returns one candidate per template. Ids derive from the template text
// so the same template is recognised as already processed across restarts.
func (d *Demo) Fetch(ctx context.Context) ([]model.CandidateClaim, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]model.CandidateClaim, 0, len(d.templates))
	for _, t := range d.templates {
		out = append(out, model.CandidateClaim{
			ID:      DemoID(t),
			Author:  d.author,
			Content: t,
			Source:  "demo",
		})
	}
	return out, nil
}

// DemoID returns the stable id for a demo template.
func DemoID(text string) string {
	return "demo-" + uuid.NewSHA1(demoNamespace, []byte(strings.TrimSpace(text))).String()
}

var _ Source = (*Demo)(nil)
