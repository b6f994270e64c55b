package models

import "github.com/opestro/Thirra-ai-sub000/thirra/config"

// Tier names one of the three priced model classes a query can be routed to.
type Tier string

const (
	TierCheap   Tier = "cheap"
	TierQuality Tier = "quality"
	TierPremium Tier = "premium"
)

// Model resolves a tier against the configured catalog.
func (t Tier) Model(tiers config.TiersConfig) config.TierConfig {
	switch t {
	case TierQuality:
		return tiers.Quality
	case TierPremium:
		return tiers.Premium
	default:
		return tiers.Cheap
	}
}

// Cost is the price of tokens at costPer1K per thousand tokens.
func Cost(tokens int, costPer1K float64) float64 {
	if tokens <= 0 || costPer1K <= 0 {
		return 0
	}
	return costPer1K * float64(tokens) / 1000
}
