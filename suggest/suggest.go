package suggest

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/santiagomed/carbo/core"
	"github.com/santiagomed/carbo/store"
)

// Suggester proposes a catalog emission factor for a bill entry.
type Suggester struct {
	client CompletionClient
}

// NewSuggester wraps a completion client.
func NewSuggester(client CompletionClient) *Suggester {
	return &Suggester{client: client}
}

// SuggestFactor asks the model to pick a factor from the catalog for the
// given entry. An empty id means the model found no reasonable match. An id
// outside the catalog is an error, never passed on to the caller.
func (s *Suggester) SuggestFactor(ctx context.Context, entry core.BomEntry, factors []store.EmissionFactor) (string, error) {
	if len(factors) == 0 {
		return "", fmt.Errorf("factor catalog is empty")
	}

	prompt := getSuggestionPrompt(entry, factors)
	response, err := s.client.GetCompletion(ctx, prompt, "json_object")
	if err != nil {
		return "", fmt.Errorf("failed to get factor suggestion: %w", err)
	}

	var out struct {
		FactorID string `json:"factor_id"`
	}
	if err := json.Unmarshal([]byte(response), &out); err != nil {
		return "", fmt.Errorf("error parsing factor suggestion: %w", err)
	}
	if out.FactorID == "" {
		return "", nil
	}
	for _, f := range factors {
		if f.ID == out.FactorID {
			return out.FactorID, nil
		}
	}
	return "", fmt.Errorf("suggested factor %q is not in the catalog", out.FactorID)
}
