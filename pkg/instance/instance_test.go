package instance

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIDPrefersEnvironment(t *testing.T) {
	t.Setenv("LOYALTY_INSTANCE_ID", "cron-7")
	require.Equal(t, "cron-7", ID())
}

func TestIDFallsBackToHostname(t *testing.T) {
	t.Setenv("LOYALTY_INSTANCE_ID", "  ")
	require.NotEmpty(t, ID())
}
