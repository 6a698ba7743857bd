// Package offeracq implements supplier-offer acquisition: for each
// (product, source) pair it produces deduplicated, freshness-gated
// SupplierOffer rows ready for forecasting and allocation to consume.
package offeracq

import (
	"fmt"
	"hash/fnv"
	"math/rand"
	"time"

	"github.com/supplychainopt/decision-pipeline/internal/config"
	"github.com/supplychainopt/decision-pipeline/internal/domain"
)

// supplierNames seeds the synthetic supplier pool a source draws from, mirroring
// the fixed roster the reference implementation used for its mock marketplaces.
var supplierNames = []string{
	"Shenzhen TechParts Co.", "GlobalEdge Manufacturing", "Delta Supply Group",
	"Apex Industrial Ltd", "Meridian Components", "Pacific Source Inc.",
	"Titan Trade Co.", "Sunrise Exports", "EastWest Logistics", "PrimeGoods Mfg",
	"Horizon Enterprises", "BlueStar Supplies", "NovaTrade Asia", "AlphaMakers",
	"ZenithProcure Ltd",
}

// SyntheticSource generates realistic synthetic supplier offers for a product,
// standing in for a real marketplace crawl. Deterministic per (SKU, source)
// pair so repeated runs against the same catalog are reproducible.
type SyntheticSource struct {
	profile         config.SourceProfile
	suppliersPerRun int
}

// NewSyntheticSource builds a SyntheticSource from a profile, defaulting to 4
// simulated supplier quotes per product, matching the reference generator.
func NewSyntheticSource(profile config.SourceProfile) *SyntheticSource {
	return &SyntheticSource{profile: profile, suppliersPerRun: 4}
}

// Name returns the source's configured identifier, e.g. "mock_alibaba".
func (s *SyntheticSource) Name() string { return s.profile.Name }

// FetchOffers generates offers for product using a PRNG seeded from the
// (SKU, source) pair so the same catalog always yields the same candidate
// offers, mirroring the reference implementation's use of
// hash(sku+source) as a deterministic seed.
func (s *SyntheticSource) FetchOffers(_ domain.Context, product domain.Product) ([]domain.SupplierOffer, error) {
	if product.SKU == "" {
		return nil, fmt.Errorf("op=offeracq.FetchOffers: %w: product SKU required", domain.ErrInvalidArgument)
	}
	seed := stableSeed(product.SKU + s.profile.Name)
	rng := rand.New(rand.NewSource(seed))

	basePrice := 10.0 + float64(stableSeed(product.SKU)%490)

	offers := make([]domain.SupplierOffer, 0, s.suppliersPerRun)
	now := time.Now().UTC()
	for i := 0; i < s.suppliersPerRun; i++ {
		factor := uniform(rng, s.profile.PriceFactorMin, s.profile.PriceFactorMax)
		noise := rng.NormFloat64() * 0.05
		price := roundTo(basePrice*factor*(1+noise), 2)
		if price < 1.0 {
			price = 1.0
		}

		// Cheaper offers correlate with slightly lower confidence and rating,
		// mimicking the price/quality tradeoff seen across real marketplaces.
		pricePercentile := (price - basePrice*0.8) / (basePrice*0.3 + 1)
		confidence := uniform(rng, s.profile.ConfidenceMin, s.profile.ConfidenceMax)
		confidence = clamp01(confidence - pricePercentile*0.05)

		moq := s.profile.MOQOptions[rng.Intn(len(s.profile.MOQOptions))]
		leadTime := s.profile.LeadTimeMinDays + rng.Intn(s.profile.LeadTimeMaxDays-s.profile.LeadTimeMinDays+1)
		capacity := float64(5000 + rng.Intn(75000))
		supplierName := supplierNames[rng.Intn(len(supplierNames))]
		rating := uniform(rng, s.profile.SupplierRatingMin, s.profile.SupplierRatingMax)

		offers = append(offers, domain.SupplierOffer{
			SupplierID:    supplierName, // resolved to a real ID by the caller via GetOrCreateByName
			ProductID:     product.ID,
			Price:         price,
			Currency:      "USD",
			MOQ:           moq,
			LeadTimeDays:  leadTime,
			CapacityUnits: capacity,
			CapturedAt:    now,
			Source:        s.profile.Name,
			Confidence:    roundTo(confidence, 2),
			RawPayload:    fmt.Sprintf(`{"source":%q,"supplier_rating":%.1f,"scraped_at":%q}`, s.profile.Name, roundTo(rating, 1), now.Format(time.RFC3339)),
		})
	}
	return offers, nil
}

func stableSeed(s string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return int64(h.Sum64() & 0x7fffffffffffffff)
}

func uniform(rng *rand.Rand, lo, hi float64) float64 {
	if hi <= lo {
		return lo
	}
	return lo + rng.Float64()*(hi-lo)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func roundTo(v float64, places int) float64 {
	mult := 1.0
	for i := 0; i < places; i++ {
		mult *= 10
	}
	return float64(int64(v*mult+0.5)) / mult
}
