package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/tidwall/gjson"
)

// Decision is a BUY/SELL verdict.
type Decision string

const (
	DecisionBuy  Decision = "BUY"
	DecisionSell Decision = "SELL"
)

// ParseDecision maps the many ways models phrase a verdict onto BUY/SELL.
func ParseDecision(s string) (Decision, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.Trim(s, ".!\"'")
	switch s {
	case "buy", "strong buy", "strong_buy", "yes", "purchase", "acquire", "good deal":
		return DecisionBuy, true
	case "sell", "pass", "no", "skip", "hold", "avoid", "do not buy", "don't buy", "dont buy":
		return DecisionSell, true
	}
	if strings.HasPrefix(s, "buy") {
		return DecisionBuy, true
	}
	if strings.HasPrefix(s, "sell") || strings.HasPrefix(s, "pass") {
		return DecisionSell, true
	}
	return "", false
}

// Analysis is the normalized structured answer of a provider.
type Analysis struct {
	ItemName           string            `mapstructure:"itemName"`
	Category           string            `mapstructure:"category"`
	Condition          string            `mapstructure:"condition"`
	Description        string            `mapstructure:"description"`
	EstimatedValue     float64           `mapstructure:"estimatedValue"`
	DecisionText       string            `mapstructure:"decision"`
	Confidence         float64           `mapstructure:"confidence"`
	ValuationFactors   []string          `mapstructure:"valuation_factors"`
	SummaryReasoning   string            `mapstructure:"summary_reasoning"`
	Identifiers        map[string]string `mapstructure:"identifiers"`
	Decision           Decision          `mapstructure:"-"`
	ConfidenceAsserted bool              `mapstructure:"-"`
}

// Parsed is the tagged result of normalizing a provider answer. When Valid is
// false, Reason says why and Analysis must not be used.
type Parsed struct {
	Analysis Analysis
	Raw      map[string]any
	Valid    bool
	Reason   string
	present  map[string]bool
}

// Has reports whether the canonical field was present in the answer.
func (p Parsed) Has(field string) bool {
	return p.present[field]
}

func invalid(reason string) Parsed {
	return Parsed{Reason: reason}
}

type fieldKind int

const (
	kindString fieldKind = iota
	kindNumber
	kindList
	kindObject
)

// fieldAliases maps canonical fields onto the key names providers actually use.
// Paths are gjson paths and are tried in order.
var fieldAliases = []struct {
	field string
	kind  fieldKind
	paths []string
}{
	{"itemName", kindString, []string{"itemName", "item_name", "name", "title", "identified_item", "product_name", "product", "item", "item.name", "identification.name"}},
	{"category", kindString, []string{"category", "item_category", "itemCategory", "type", "item.category"}},
	{"condition", kindString, []string{"condition", "item_condition", "itemCondition", "grade", "item.condition"}},
	{"description", kindString, []string{"description", "item_description", "details", "item.description"}},
	{"estimatedValue", kindNumber, []string{"estimatedValue", "estimated_value", "estimated_price", "estimatedPrice", "market_value", "marketValue", "fair_market_value", "value", "price", "valuation.estimated_value", "valuation.value", "pricing.estimated_value", "pricing.value"}},
	{"decision", kindString, []string{"decision", "recommendation", "verdict", "action", "buy_or_sell", "valuation.decision"}},
	{"confidence", kindNumber, []string{"confidence", "confidence_score", "confidenceScore", "certainty", "valuation.confidence"}},
	{"valuation_factors", kindList, []string{"valuation_factors", "valuationFactors", "factors", "key_factors", "keyFactors", "price_factors"}},
	{"summary_reasoning", kindString, []string{"summary_reasoning", "summaryReasoning", "reasoning", "rationale", "summary", "explanation"}},
	{"identifiers", kindObject, []string{"identifiers", "ids", "item.identifiers"}},
}

var numberRe = regexp.MustCompile(`\d+(?:\.\d+)?`)

// Normalize extracts the embedded JSON object from a provider's free-text
// answer and maps it onto the canonical Analysis using fieldAliases.
func Normalize(text string) Parsed {
	jsonStr, err := extractJSONObject(text)
	if err != nil {
		return invalid("no json object in response")
	}
	if !gjson.Valid(jsonStr) {
		return invalid("malformed json")
	}

	var raw map[string]any
	if err := json.Unmarshal([]byte(jsonStr), &raw); err != nil {
		return invalid(fmt.Sprintf("malformed json: %v", err))
	}

	doc := gjson.Parse(jsonStr)
	canonical := make(map[string]any, len(fieldAliases))
	present := make(map[string]bool, len(fieldAliases))
	for _, alias := range fieldAliases {
		v, ok := lookupAlias(doc, alias.kind, alias.paths)
		if !ok {
			continue
		}
		canonical[alias.field] = v
		present[alias.field] = true
	}
	if len(present) == 0 {
		return invalid("no recognized fields")
	}

	var a Analysis
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &a,
	})
	if err != nil {
		return invalid(err.Error())
	}
	if err := decoder.Decode(canonical); err != nil {
		return invalid(fmt.Sprintf("decode: %v", err))
	}

	a.ItemName = strings.TrimSpace(a.ItemName)
	a.SummaryReasoning = strings.TrimSpace(a.SummaryReasoning)
	a.Decision = ""
	if d, ok := ParseDecision(a.DecisionText); ok {
		a.Decision = d
	}
	if present["confidence"] {
		a.Confidence = normalizeConfidence(a.Confidence)
		a.ConfidenceAsserted = true
	} else {
		a.Confidence = derivedConfidence(present)
	}

	return Parsed{Analysis: a, Raw: raw, Valid: true, present: present}
}

func lookupAlias(doc gjson.Result, kind fieldKind, paths []string) (any, bool) {
	for _, path := range paths {
		r := doc.Get(path)
		if !r.Exists() || r.Type == gjson.Null {
			continue
		}
		switch kind {
		case kindString:
			if r.IsObject() || r.IsArray() {
				continue
			}
			if s := strings.TrimSpace(r.String()); s != "" {
				return s, true
			}
		case kindNumber:
			if r.Type == gjson.Number {
				return r.Float(), true
			}
			if r.Type == gjson.String {
				if f, ok := parseMoney(r.String()); ok {
					return f, true
				}
			}
		case kindList:
			if r.IsArray() {
				var out []string
				for _, item := range r.Array() {
					if s := strings.TrimSpace(item.String()); s != "" {
						out = append(out, s)
					}
				}
				return out, true
			}
			if r.Type == gjson.String && r.String() != "" {
				return []string{r.String()}, true
			}
		case kindObject:
			if r.IsObject() {
				out := map[string]string{}
				r.ForEach(func(k, v gjson.Result) bool {
					if s := strings.TrimSpace(v.String()); s != "" {
						out[k.String()] = s
					}
					return true
				})
				return out, true
			}
		}
	}
	return nil, false
}

// parseMoney reads values like "$1,200", "45.50 USD" or "40-60" (averaged).
func parseMoney(s string) (float64, bool) {
	s = strings.ReplaceAll(s, ",", "")
	nums := numberRe.FindAllString(s, -1)
	if len(nums) == 0 {
		return 0, false
	}
	if strings.HasPrefix(strings.TrimSpace(s), "-") && len(nums) == 1 {
		f, _ := strconv.ParseFloat(nums[0], 64)
		return -f, true
	}
	if len(nums) >= 2 {
		lo, err1 := strconv.ParseFloat(nums[0], 64)
		hi, err2 := strconv.ParseFloat(nums[1], 64)
		if err1 == nil && err2 == nil {
			return (lo + hi) / 2, true
		}
	}
	f, err := strconv.ParseFloat(nums[0], 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// normalizeConfidence accepts 0-1 fractions and 0-100 percentages.
func normalizeConfidence(c float64) float64 {
	if c > 1 && c <= 100 {
		c = c / 100
	}
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// derivedConfidence estimates confidence from answer completeness when the
// provider did not state one.
func derivedConfidence(present map[string]bool) float64 {
	c := 0.5
	for _, f := range []string{"valuation_factors", "summary_reasoning", "category"} {
		if present[f] {
			c += 0.1
		}
	}
	return c
}

// ValidateIdentification accepts answers that name the item.
func ValidateIdentification(p Parsed) Parsed {
	if !p.Valid {
		return p
	}
	if p.Analysis.ItemName == "" {
		p.Valid = false
		p.Reason = "missing item name"
	}
	return p
}

// ValidatePricing accepts answers carrying a non-negative value and a verdict.
func ValidatePricing(p Parsed) Parsed {
	if !p.Valid {
		return p
	}
	switch {
	case !p.Has("estimatedValue"):
		p.Valid, p.Reason = false, "missing estimated value"
	case p.Analysis.EstimatedValue < 0:
		p.Valid, p.Reason = false, "negative estimated value"
	case p.Analysis.Decision == "":
		p.Valid, p.Reason = false, fmt.Sprintf("unrecognized decision %q", p.Analysis.DecisionText)
	}
	return p
}
