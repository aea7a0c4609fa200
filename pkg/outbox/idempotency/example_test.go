package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

func ExampleManager_Run() {
	manager, _ := NewManager(newMemoryStore(), 7*24*time.Hour)
	eventID := uuid.MustParse("f47ac10b-58cc-4372-a567-0e02b2c3d479")

	credit := func(context.Context) error {
		fmt.Println("crediting order points")
		return nil
	}
	for delivery := 1; delivery <= 2; delivery++ {
		ran, _ := manager.Run(context.Background(), "loyalty-order-paid", eventID, credit)
		fmt.Printf("delivery %d ran=%v\n", delivery, ran)
	}
	// Output:
	// crediting order points
	// delivery 1 ran=true
	// delivery 2 ran=false
}
