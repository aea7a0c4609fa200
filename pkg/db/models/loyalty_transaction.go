package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/loyalty-ledger/pkg/enums"
)

// LoyaltyTransaction is an immutable signed entry in an account's points ledger.
type LoyaltyTransaction struct {
	ID          uuid.UUID                    `gorm:"column:id;type:uuid;primaryKey"`
	AccountID   uuid.UUID                    `gorm:"column:account_id;type:uuid;not null;index:idx_loyalty_transactions_account_created,priority:1"`
	Type        enums.LoyaltyTransactionType `gorm:"column:type;type:loyalty_transaction_type_enum;not null"`
	Points      int64                        `gorm:"column:points;not null"`
	Description string                       `gorm:"column:description;not null"`
	Reference   *string                      `gorm:"column:reference"`
	ExpiresAt   *time.Time                   `gorm:"column:expires_at"`
	CreatedAt   time.Time                    `gorm:"column:created_at;autoCreateTime;index:idx_loyalty_transactions_account_created,priority:2"`
}

func (t *LoyaltyTransaction) BeforeCreate(*gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}
