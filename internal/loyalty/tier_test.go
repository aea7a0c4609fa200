package loyalty

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/angelmondragon/loyalty-ledger/pkg/enums"
)

func TestTierPolicy_TierFor(t *testing.T) {
	policy := DefaultTierPolicy()
	cases := []struct {
		earned int64
		want   enums.LoyaltyTier
	}{
		{-10, enums.LoyaltyTierBronze},
		{0, enums.LoyaltyTierBronze},
		{499, enums.LoyaltyTierBronze},
		{500, enums.LoyaltyTierSilver},
		{1499, enums.LoyaltyTierSilver},
		{1500, enums.LoyaltyTierGold},
		{4999, enums.LoyaltyTierGold},
		{5000, enums.LoyaltyTierPlatinum},
		{1 << 40, enums.LoyaltyTierPlatinum},
	}
	for _, tc := range cases {
		if got := policy.TierFor(tc.earned); got != tc.want {
			t.Fatalf("TierFor(%d) = %s, want %s", tc.earned, got, tc.want)
		}
	}
}

func TestTierPolicy_Monotonic(t *testing.T) {
	policy := DefaultTierPolicy()
	prev := policy.TierFor(0)
	for earned := int64(0); earned <= 6000; earned += 7 {
		tier := policy.TierFor(earned)
		if tier.Rank() < prev.Rank() {
			t.Fatalf("tier regressed at %d: %s after %s", earned, tier, prev)
		}
		prev = tier
	}
}

func TestTierPolicy_NextTier(t *testing.T) {
	policy := DefaultTierPolicy()

	tier, remaining, ok := policy.NextTier(420)
	if !ok || tier != enums.LoyaltyTierSilver || remaining != 80 {
		t.Fatalf("unexpected next tier: %s %d %v", tier, remaining, ok)
	}
	if _, _, ok := policy.NextTier(5000); ok {
		t.Fatal("expected no tier above platinum")
	}
}

func TestNewTierPolicyValidation(t *testing.T) {
	cases := map[string][]TierThreshold{
		"empty": nil,
		"lowest not zero": {
			{Tier: enums.LoyaltyTierBronze, MinPoints: 10},
		},
		"duplicate threshold": {
			{Tier: enums.LoyaltyTierBronze, MinPoints: 0},
			{Tier: enums.LoyaltyTierSilver, MinPoints: 500},
			{Tier: enums.LoyaltyTierGold, MinPoints: 500},
		},
		"rank out of order": {
			{Tier: enums.LoyaltyTierBronze, MinPoints: 0},
			{Tier: enums.LoyaltyTierGold, MinPoints: 500},
			{Tier: enums.LoyaltyTierSilver, MinPoints: 1500},
		},
		"unknown tier": {
			{Tier: enums.LoyaltyTier("DIAMOND"), MinPoints: 0},
		},
		"repeated tier": {
			{Tier: enums.LoyaltyTierBronze, MinPoints: 0},
			{Tier: enums.LoyaltyTierBronze, MinPoints: 100},
		},
	}
	for name, thresholds := range cases {
		if _, err := NewTierPolicy(thresholds); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestNewTierPolicySortsInput(t *testing.T) {
	policy, err := NewTierPolicy([]TierThreshold{
		{Tier: enums.LoyaltyTierGold, MinPoints: 1000},
		{Tier: enums.LoyaltyTierBronze, MinPoints: 0},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := policy.TierFor(999); got != enums.LoyaltyTierBronze {
		t.Fatalf("expected bronze, got %s", got)
	}
	if got := policy.TierFor(1000); got != enums.LoyaltyTierGold {
		t.Fatalf("expected gold, got %s", got)
	}
	if policy.Lowest() != enums.LoyaltyTierBronze {
		t.Fatalf("unexpected lowest tier %s", policy.Lowest())
	}
}

func TestTierPolicyFromMap(t *testing.T) {
	policy, err := TierPolicyFromMap(map[string]int64{
		"bronze":   0,
		"SILVER":   200,
		"Gold":     800,
		"PLATINUM": 2000,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := policy.TierFor(200); got != enums.LoyaltyTierSilver {
		t.Fatalf("expected silver, got %s", got)
	}
	if len(policy.Thresholds()) != 4 {
		t.Fatalf("expected 4 thresholds, got %d", len(policy.Thresholds()))
	}

	if _, err := TierPolicyFromMap(map[string]int64{"TIN": 0}); err == nil {
		t.Fatal("expected unknown tier to fail")
	}
}

func TestLoadTierPolicyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tiers.yaml")
	data := []byte(`tiers:
  - tier: bronze
    min_points: 0
  - tier: silver
    min_points: 1000
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write policy: %v", err)
	}

	policy, err := LoadTierPolicyFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := policy.TierFor(999); got != enums.LoyaltyTierBronze {
		t.Fatalf("expected bronze, got %s", got)
	}
	if got := policy.TierFor(1000); got != enums.LoyaltyTierSilver {
		t.Fatalf("expected silver, got %s", got)
	}

	if _, err := ParseTierPolicyYAML([]byte("tiers: [")); err == nil {
		t.Fatal("expected malformed yaml to fail")
	}
	if _, err := LoadTierPolicyFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected missing file to fail")
	}
}
