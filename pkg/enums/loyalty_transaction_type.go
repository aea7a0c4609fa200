package enums

import (
	"fmt"
	"strings"
)

// LoyaltyTransactionType maps to the loyalty_transaction_type_enum enum in Postgres.
type LoyaltyTransactionType string

const (
	LoyaltyTransactionEarn   LoyaltyTransactionType = "EARN"
	LoyaltyTransactionRedeem LoyaltyTransactionType = "REDEEM"
	LoyaltyTransactionAdjust LoyaltyTransactionType = "ADJUST"
	LoyaltyTransactionExpire LoyaltyTransactionType = "EXPIRE"
)

var validLoyaltyTransactionTypes = []LoyaltyTransactionType{
	LoyaltyTransactionEarn,
	LoyaltyTransactionRedeem,
	LoyaltyTransactionAdjust,
	LoyaltyTransactionExpire,
}

// IsValid reports whether the value matches the canonical transaction type enum.
func (t LoyaltyTransactionType) IsValid() bool {
	for _, candidate := range validLoyaltyTransactionTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseLoyaltyTransactionType converts raw input into LoyaltyTransactionType.
func ParseLoyaltyTransactionType(value string) (LoyaltyTransactionType, error) {
	normalized := strings.ToUpper(strings.TrimSpace(value))
	for _, candidate := range validLoyaltyTransactionTypes {
		if string(candidate) == normalized {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid loyalty transaction type %q", value)
}
