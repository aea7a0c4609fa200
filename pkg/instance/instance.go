package instance

import (
	"os"

	"github.com/angelmondragon/loyalty-ledger/pkg/env"
)

const fallbackID = "loyalty-0"

// ID identifies this process in logs and lock tokens. LOYALTY_INSTANCE_ID
// wins over the hostname.
func ID() string {
	if id := env.String("LOYALTY_INSTANCE_ID", ""); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return fallbackID
}
