package models

import (
	"time"

	"github.com/google/uuid"
)

// LoyaltyExpiryClaim marks an EARN transaction as consumed by an expiry sweep.
// ExpireTransactionID is nil when the account had no balance left to expire.
type LoyaltyExpiryClaim struct {
	EarnTransactionID   uuid.UUID  `gorm:"column:earn_transaction_id;type:uuid;primaryKey"`
	ExpireTransactionID *uuid.UUID `gorm:"column:expire_transaction_id;type:uuid"`
	AccountID           uuid.UUID  `gorm:"column:account_id;type:uuid;not null"`
	ClaimedAt           time.Time  `gorm:"column:claimed_at;autoCreateTime"`
}
