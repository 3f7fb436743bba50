package suggest

import (
	"fmt"
	"strings"

	"github.com/santiagomed/carbo/core"
	"github.com/santiagomed/carbo/store"
)

func getSystemPrompt() string {
	return `You are an expert in product life-cycle assessment and carbon accounting. Your task is to match bill-of-materials entries to the most appropriate emission factor from a fixed catalog.

Only ever answer with a factor id taken verbatim from the provided catalog. If no factor is a reasonable match, answer with an empty id.

Respond with JSON only, no markdown code blocks.`
}

func getSuggestionPrompt(entry core.BomEntry, factors []store.EmissionFactor) string {
	var catalog strings.Builder
	for _, f := range factors {
		fmt.Fprintf(&catalog, "- id: %s | name: %s | unit: %s | category: %s\n",
			f.ID, f.Name, f.Unit, f.Category)
	}

	return fmt.Sprintf(`A bill-of-materials entry needs an emission factor.

Entry:
  name: %q
  quantity: %g
  unit: %q
  category: %q

Catalog of available emission factors:
%s
Pick the single best-matching factor for this entry, preferring factors whose unit and category agree with the entry.

Respond with a JSON object of the form {"factor_id": "<id from the catalog, or empty if none fits>"}.`,
		entry.Name, entry.Quantity, entry.Unit, entry.Category, catalog.String())
}
