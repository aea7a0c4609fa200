package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/loyalty-ledger/pkg/enums"
)

// LoyaltyAccount holds a customer's running point totals and current tier.
type LoyaltyAccount struct {
	ID             uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	CustomerID     string            `gorm:"column:customer_id;not null;uniqueIndex:loyalty_accounts_customer_id_key"`
	PointsBalance  int64             `gorm:"column:points_balance;not null;default:0"`
	PointsEarned   int64             `gorm:"column:points_earned;not null;default:0"`
	PointsRedeemed int64             `gorm:"column:points_redeemed;not null;default:0"`
	Tier           enums.LoyaltyTier `gorm:"column:tier;type:loyalty_tier_enum;not null"`
	CreatedAt      time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}

func (a *LoyaltyAccount) BeforeCreate(*gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}
