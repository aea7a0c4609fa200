package loyalty

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/loyalty-ledger/pkg/db/models"
	"github.com/angelmondragon/loyalty-ledger/pkg/enums"
)

// AccountDTO exposes an account with its progress toward the next tier.
type AccountDTO struct {
	ID               uuid.UUID          `json:"id"`
	CustomerID       string             `json:"customer_id"`
	PointsBalance    int64              `json:"points_balance"`
	PointsEarned     int64              `json:"points_earned"`
	PointsRedeemed   int64              `json:"points_redeemed"`
	Tier             enums.LoyaltyTier  `json:"tier"`
	NextTier         *enums.LoyaltyTier `json:"next_tier,omitempty"`
	PointsToNextTier *int64             `json:"points_to_next_tier,omitempty"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
}

type TransactionDTO struct {
	ID          uuid.UUID                    `json:"id"`
	AccountID   uuid.UUID                    `json:"account_id"`
	Type        enums.LoyaltyTransactionType `json:"type"`
	Points      int64                        `json:"points"`
	Description string                       `json:"description"`
	Reference   *string                      `json:"reference,omitempty"`
	ExpiresAt   *time.Time                   `json:"expires_at,omitempty"`
	CreatedAt   time.Time                    `json:"created_at"`
}

// ResultDTO is the response body of every points mutation.
type ResultDTO struct {
	Account      *AccountDTO       `json:"account"`
	Transaction  *TransactionDTO   `json:"transaction"`
	TierChanged  bool              `json:"tier_changed"`
	PreviousTier enums.LoyaltyTier `json:"previous_tier"`
}

type TransactionPageDTO struct {
	Items      []TransactionDTO `json:"items"`
	Total      int64            `json:"total"`
	Page       int              `json:"page"`
	Limit      int              `json:"limit"`
	TotalPages int              `json:"total_pages"`
}

// AccountFromModel maps an account. A nil policy omits next-tier progress.
func AccountFromModel(m *models.LoyaltyAccount, policy *TierPolicy) *AccountDTO {
	if m == nil {
		return nil
	}
	dto := &AccountDTO{
		ID:             m.ID,
		CustomerID:     m.CustomerID,
		PointsBalance:  m.PointsBalance,
		PointsEarned:   m.PointsEarned,
		PointsRedeemed: m.PointsRedeemed,
		Tier:           m.Tier,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
	if policy != nil {
		if next, remaining, ok := policy.NextTier(m.PointsEarned); ok {
			dto.NextTier = &next
			dto.PointsToNextTier = &remaining
		}
	}
	return dto
}

func TransactionFromModel(m *models.LoyaltyTransaction) *TransactionDTO {
	if m == nil {
		return nil
	}
	return &TransactionDTO{
		ID:          m.ID,
		AccountID:   m.AccountID,
		Type:        m.Type,
		Points:      m.Points,
		Description: m.Description,
		Reference:   m.Reference,
		ExpiresAt:   m.ExpiresAt,
		CreatedAt:   m.CreatedAt,
	}
}

func ResultFromModel(r *Result, policy *TierPolicy) *ResultDTO {
	if r == nil {
		return nil
	}
	return &ResultDTO{
		Account:      AccountFromModel(r.Account, policy),
		Transaction:  TransactionFromModel(r.Transaction),
		TierChanged:  r.TierChanged,
		PreviousTier: r.PreviousTier,
	}
}

func PageFromModel(p *TransactionPage) *TransactionPageDTO {
	if p == nil {
		return nil
	}
	items := make([]TransactionDTO, 0, len(p.Items))
	for i := range p.Items {
		items = append(items, *TransactionFromModel(&p.Items[i]))
	}
	return &TransactionPageDTO{
		Items:      items,
		Total:      p.Total,
		Page:       p.Page,
		Limit:      p.Limit,
		TotalPages: p.TotalPages,
	}
}
