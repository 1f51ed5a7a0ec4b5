package pricing

import (
	"strings"

	"github.com/raine/item-appraiser/internal/authority"
)

// ConditionPrice picks the authority price for a condition. Unknown or
// unpriced conditions fall back to the average, then the good price, then the
// first positive price from best to worst condition. It returns 0 only when
// no price is known.
func ConditionPrice(prices authority.ConditionPrices, condition string) float64 {
	if v := byCondition(prices, condition); v > 0 {
		return v
	}
	if prices.Average > 0 {
		return prices.Average
	}
	if prices.Good > 0 {
		return prices.Good
	}
	for _, v := range []float64{prices.Mint, prices.NearMint, prices.Excellent, prices.Fair, prices.Poor} {
		if v > 0 {
			return v
		}
	}
	return 0
}

func byCondition(prices authority.ConditionPrices, condition string) float64 {
	c := strings.ToLower(strings.TrimSpace(condition))
	c = strings.NewReplacer("-", "_", " ", "_").Replace(c)
	switch c {
	case "mint", "new", "sealed":
		return prices.Mint
	case "near_mint", "nearmint", "like_new":
		return prices.NearMint
	case "excellent", "very_good":
		return prices.Excellent
	case "good", "used":
		return prices.Good
	case "fair":
		return prices.Fair
	case "poor", "damaged":
		return prices.Poor
	case "average":
		return prices.Average
	}
	return 0
}
