package registry

import (
	"encoding/json"
	"testing"

	"github.com/angelmondragon/loyalty-ledger/pkg/enums"
	"github.com/angelmondragon/loyalty-ledger/pkg/outbox/payloads"
)

func TestRegisterJSONDecodesTypedPayload(t *testing.T) {
	reg := NewDecoderRegistry()
	RegisterJSON[payloads.OrderPaidEvent](reg, enums.EventOrderPaid, 1)

	if !reg.Supports(enums.EventOrderPaid, 1) {
		t.Fatal("expected order_paid@v1 to be supported")
	}
	if reg.Supports(enums.EventOrderPaid, 2) {
		t.Fatal("order_paid@v2 must not be supported")
	}

	out, err := reg.Decode(enums.EventOrderPaid, 1, json.RawMessage(`{"customer_id":"cust-1"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := out.(payloads.OrderPaidEvent); !ok {
		t.Fatalf("unexpected output type %T", out)
	}
}

func TestDecodeErrors(t *testing.T) {
	reg := NewDecoderRegistry()
	RegisterJSON[payloads.OrderPaidEvent](reg, enums.EventOrderPaid, 1)

	if _, err := reg.Decode(enums.EventPointsEarned, 1, json.RawMessage(`{}`)); err == nil {
		t.Fatal("expected error for unregistered event")
	}
	if _, err := reg.Decode(enums.EventOrderPaid, 1, json.RawMessage(`{`)); err == nil {
		t.Fatal("expected error for malformed payload")
	}
}
