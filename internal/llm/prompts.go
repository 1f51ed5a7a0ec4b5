package llm

import (
	"fmt"
	"sort"
	"strings"

	"github.com/lithammer/dedent"
)

const identifyPrompt = `
	Identify the item shown in these photographs as precisely as possible.
	%s
	Respond in JSON format with these fields:
	- itemName: brand, model and item type (e.g. "Google Pixel 7 Phone"). Never use a placeholder such as "Unknown Item".
	- category: the item category (e.g. "electronics", "coins", "trading cards", "toys")
	- condition: one of mint, near_mint, excellent, good, fair, poor
	- description: 1-2 sentences describing visible details
	- identifiers: object with any visible barcode, isbn, vin, card_number, catalog_number or cert_number
	- estimatedValue: your market value estimate as a number, no currency symbol
	- decision: "BUY" or "SELL", whether buying it at a typical asking price is a good deal
	- confidence: a number between 0 and 1
	- valuation_factors: list of short factors that drove the estimate
	- summary_reasoning: 1-3 sentences explaining the verdict

	Respond ONLY with the JSON object, no markdown or other text.`

const pricingPrompt = `
	You are appraising a second-hand item for resale.

	Item: %s
	Category: %s
	Condition: %s
	%s
	Estimate the current market value and decide whether buying it at a typical
	asking price is a good deal.

	Respond in JSON format with these fields:
	- itemName: the item as you understand it
	- estimatedValue: your market value estimate as a number, no currency symbol
	- decision: "BUY" or "SELL"
	- confidence: a number between 0 and 1
	- valuation_factors: list of short factors that drove the estimate
	- summary_reasoning: 1-3 sentences explaining the verdict

	Respond ONLY with the JSON object, no markdown or other text.`

const tiebreakerPrompt = `
	Other appraisers are split on this item and you cast the deciding vote.

	Item: %s
	Category: %s
	Condition: %s
	Votes so far: %d BUY (weight %.2f), %d SELL (weight %.2f)
	%s
	Respond in JSON format with these fields:
	- itemName: the item as you understand it
	- estimatedValue: your market value estimate as a number, no currency symbol
	- decision: "BUY" or "SELL"
	- confidence: a number between 0 and 1
	- valuation_factors: list of short factors that drove the estimate
	- summary_reasoning: 1-3 sentences explaining the verdict

	Respond ONLY with the JSON object, no markdown or other text.`

func formatPrompt(text string, a ...any) string {
	return fmt.Sprintf(strings.TrimSpace(dedent.Dedent(text)), a...)
}

// IdentifyPrompt builds the identification prompt with optional hints.
func IdentifyPrompt(nameHint, categoryHint string) string {
	var hints []string
	if nameHint != "" {
		hints = append(hints, fmt.Sprintf("The owner calls it: %q.", nameHint))
	}
	if categoryHint != "" {
		hints = append(hints, fmt.Sprintf("Category hint: %s.", categoryHint))
	}
	return formatPrompt(identifyPrompt, strings.Join(hints, " "))
}

// ItemContext is what the pricing prompts know about the item.
type ItemContext struct {
	ItemName    string
	Category    string
	Condition   string
	Identifiers map[string]string
}

func (c ItemContext) identifierLine() string {
	if len(c.Identifiers) == 0 {
		return ""
	}
	keys := make([]string, 0, len(c.Identifiers))
	for k := range c.Identifiers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+c.Identifiers[k])
	}
	return "Identifiers: " + strings.Join(parts, ", ")
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

// PricingPrompt builds the valuation prompt sent to every pricing provider.
func PricingPrompt(c ItemContext) string {
	return formatPrompt(pricingPrompt, c.ItemName, orUnknown(c.Category), orUnknown(c.Condition), c.identifierLine())
}

// TiebreakerPrompt builds the prompt for a tiebreaker round.
func TiebreakerPrompt(c ItemContext, buyVotes int, buyWeight float64, sellVotes int, sellWeight float64) string {
	return formatPrompt(tiebreakerPrompt, c.ItemName, orUnknown(c.Category), orUnknown(c.Condition),
		buyVotes, buyWeight, sellVotes, sellWeight, c.identifierLine())
}
