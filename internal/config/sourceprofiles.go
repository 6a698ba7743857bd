// Package config provides configuration loading utilities.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// SourceProfile parameterises the synthetic offer-generation behaviour of one
// acquisition source: the multiplicative noise band applied to a product's
// base price, the discrete MOQ options it tends to quote, its lead-time
// range, and the confidence/rating bands attached to its offers.
type SourceProfile struct {
	Name             string  `yaml:"name"`
	PriceFactorMin   float64 `yaml:"price_factor_min"`
	PriceFactorMax   float64 `yaml:"price_factor_max"`
	MOQOptions       []int   `yaml:"moq_options"`
	LeadTimeMinDays  int     `yaml:"lead_time_min_days"`
	LeadTimeMaxDays  int     `yaml:"lead_time_max_days"`
	ConfidenceMin    float64 `yaml:"confidence_min"`
	ConfidenceMax    float64 `yaml:"confidence_max"`
	SupplierRatingMin float64 `yaml:"supplier_rating_min"`
	SupplierRatingMax float64 `yaml:"supplier_rating_max"`
}

// sourceProfilesYAML mirrors the on-disk shape of configs/offeracq/source_profiles.yaml.
type sourceProfilesYAML struct {
	Sources []SourceProfile `yaml:"sources"`
}

// defaultSourceProfiles returns the built-in profiles for the three synthetic
// marketplaces, used whenever no override file is present on disk.
func defaultSourceProfiles() []SourceProfile {
	return []SourceProfile{
		{
			Name: "mock_alibaba",
			PriceFactorMin: 0.85, PriceFactorMax: 1.05,
			MOQOptions:      []int{50, 100, 250, 500},
			LeadTimeMinDays: 14, LeadTimeMaxDays: 35,
			ConfidenceMin: 0.55, ConfidenceMax: 0.85,
			SupplierRatingMin: 3.2, SupplierRatingMax: 4.6,
		},
		{
			Name: "mock_globalsources",
			PriceFactorMin: 0.95, PriceFactorMax: 1.15,
			MOQOptions:      []int{20, 50, 100},
			LeadTimeMinDays: 10, LeadTimeMaxDays: 28,
			ConfidenceMin: 0.60, ConfidenceMax: 0.90,
			SupplierRatingMin: 3.5, SupplierRatingMax: 4.8,
		},
		{
			Name: "mock_made_in_china",
			PriceFactorMin: 0.80, PriceFactorMax: 1.00,
			MOQOptions:      []int{100, 300, 500, 1000},
			LeadTimeMinDays: 18, LeadTimeMaxDays: 45,
			ConfidenceMin: 0.45, ConfidenceMax: 0.75,
			SupplierRatingMin: 2.8, SupplierRatingMax: 4.2,
		},
	}
}

// LoadSourceProfiles loads acquisition source profiles from path, falling
// back to the built-in defaults when path is empty, the file is absent, or it
// lists no sources. A file that cannot be read or parsed returns an error.
func LoadSourceProfiles(path string) ([]SourceProfile, error) {
	if path == "" {
		return defaultSourceProfiles(), nil
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("op=config.LoadSourceProfiles: %w", err)
	}
	if _, err := os.Stat(absPath); os.IsNotExist(err) {
		return defaultSourceProfiles(), nil
	}
	// #nosec G304 -- path is an operator-supplied configuration file, not user input
	content, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("op=config.LoadSourceProfiles: %w", err)
	}
	var parsed sourceProfilesYAML
	if err := yaml.Unmarshal(content, &parsed); err != nil {
		return nil, fmt.Errorf("op=config.LoadSourceProfiles: %w", err)
	}
	if len(parsed.Sources) == 0 {
		return defaultSourceProfiles(), nil
	}
	return parsed.Sources, nil
}
