package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/loyalty-ledger/pkg/enums"
)

// PointsChangedEvent is emitted for every committed ledger mutation
// (points_earned, points_redeemed, points_adjusted, points_expired).
type PointsChangedEvent struct {
	AccountID     uuid.UUID                    `json:"account_id"`
	CustomerID    string                       `json:"customer_id"`
	TransactionID uuid.UUID                    `json:"transaction_id"`
	Type          enums.LoyaltyTransactionType `json:"type"`
	Points        int64                        `json:"points"`
	Balance       int64                        `json:"balance"`
	Tier          enums.LoyaltyTier            `json:"tier"`
	Reference     *string                      `json:"reference,omitempty"`
	OccurredAt    time.Time                    `json:"occurred_at"`
}

// TierUpgradedEvent is emitted alongside an earn or adjust that moved the tier.
type TierUpgradedEvent struct {
	AccountID    uuid.UUID         `json:"account_id"`
	CustomerID   string            `json:"customer_id"`
	PreviousTier enums.LoyaltyTier `json:"previous_tier"`
	NewTier      enums.LoyaltyTier `json:"new_tier"`
	PointsEarned int64             `json:"points_earned"`
	OccurredAt   time.Time         `json:"occurred_at"`
}

// OrderPaidEvent is consumed from the orders subscription to credit points.
// Amount is a decimal string in the order currency's major unit.
type OrderPaidEvent struct {
	OrderID    uuid.UUID `json:"order_id"`
	CustomerID string    `json:"customer_id"`
	Amount     string    `json:"amount"`
	Currency   string    `json:"currency,omitempty"`
	PaidAt     time.Time `json:"paid_at"`
}
