package enums

import (
	"fmt"
	"strings"
)

// LoyaltyTier maps to the loyalty_tier_enum enum in Postgres.
type LoyaltyTier string

const (
	LoyaltyTierBronze   LoyaltyTier = "BRONZE"
	LoyaltyTierSilver   LoyaltyTier = "SILVER"
	LoyaltyTierGold     LoyaltyTier = "GOLD"
	LoyaltyTierPlatinum LoyaltyTier = "PLATINUM"
)

var validLoyaltyTiers = []LoyaltyTier{
	LoyaltyTierBronze,
	LoyaltyTierSilver,
	LoyaltyTierGold,
	LoyaltyTierPlatinum,
}

// LoyaltyTiers returns every tier from lowest to highest.
func LoyaltyTiers() []LoyaltyTier {
	out := make([]LoyaltyTier, len(validLoyaltyTiers))
	copy(out, validLoyaltyTiers)
	return out
}

// IsValid reports whether the value matches the canonical loyalty tier enum.
func (t LoyaltyTier) IsValid() bool {
	for _, candidate := range validLoyaltyTiers {
		if candidate == t {
			return true
		}
	}
	return false
}

// Rank orders tiers from BRONZE (0) upward; unknown tiers rank -1.
func (t LoyaltyTier) Rank() int {
	for i, candidate := range validLoyaltyTiers {
		if candidate == t {
			return i
		}
	}
	return -1
}

// ParseLoyaltyTier converts raw input into LoyaltyTier, ignoring case.
func ParseLoyaltyTier(value string) (LoyaltyTier, error) {
	normalized := strings.ToUpper(strings.TrimSpace(value))
	for _, candidate := range validLoyaltyTiers {
		if string(candidate) == normalized {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid loyalty tier %q", value)
}
