package enums

// OutboxAggregateType is the aggregate_type_enum column.
type OutboxAggregateType string

const AggregateLoyaltyAccount OutboxAggregateType = "loyalty_account"

func (a OutboxAggregateType) IsValid() bool {
	return a == AggregateLoyaltyAccount
}

// OutboxEventType is the event_type_enum column and the event_type message
// attribute.
type OutboxEventType string

const (
	EventPointsEarned   OutboxEventType = "points_earned"
	EventPointsRedeemed OutboxEventType = "points_redeemed"
	EventPointsAdjusted OutboxEventType = "points_adjusted"
	EventPointsExpired  OutboxEventType = "points_expired"
	EventTierUpgraded   OutboxEventType = "tier_upgraded"

	// EventOrderPaid arrives on the orders subscription.
	EventOrderPaid OutboxEventType = "order_paid"
)

func (e OutboxEventType) IsValid() bool {
	return e.Emitted() || e == EventOrderPaid
}

// Emitted reports whether the ledger itself produces this event type and may
// write it to the outbox.
func (e OutboxEventType) Emitted() bool {
	switch e {
	case EventPointsEarned, EventPointsRedeemed, EventPointsAdjusted, EventPointsExpired, EventTierUpgraded:
		return true
	}
	return false
}
