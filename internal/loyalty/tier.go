package loyalty

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/angelmondragon/loyalty-ledger/pkg/enums"
)

// TierThreshold maps a minimum lifetime points earned to a tier.
type TierThreshold struct {
	Tier      enums.LoyaltyTier `yaml:"tier"`
	MinPoints int64             `yaml:"min_points"`
}

// TierPolicy resolves the membership tier for a lifetime points total.
// Thresholds are ordered ascending and inclusive.
type TierPolicy struct {
	thresholds []TierThreshold
}

// NewTierPolicy validates the thresholds and returns a policy. The thresholds
// may be passed in any order; they are sorted by MinPoints.
func NewTierPolicy(thresholds []TierThreshold) (*TierPolicy, error) {
	if len(thresholds) == 0 {
		return nil, fmt.Errorf("tier policy requires at least one threshold")
	}

	sorted := make([]TierThreshold, len(thresholds))
	copy(sorted, thresholds)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].MinPoints < sorted[j].MinPoints })

	if sorted[0].MinPoints != 0 {
		return nil, fmt.Errorf("lowest tier %s must start at 0, got %d", sorted[0].Tier, sorted[0].MinPoints)
	}

	seen := make(map[enums.LoyaltyTier]struct{}, len(sorted))
	for i, t := range sorted {
		if !t.Tier.IsValid() {
			return nil, fmt.Errorf("invalid tier %q", t.Tier)
		}
		if _, dup := seen[t.Tier]; dup {
			return nil, fmt.Errorf("tier %s listed more than once", t.Tier)
		}
		seen[t.Tier] = struct{}{}
		if i == 0 {
			continue
		}
		prev := sorted[i-1]
		if t.MinPoints <= prev.MinPoints {
			return nil, fmt.Errorf("threshold for %s (%d) must be greater than %s (%d)", t.Tier, t.MinPoints, prev.Tier, prev.MinPoints)
		}
		if t.Tier.Rank() <= prev.Tier.Rank() {
			return nil, fmt.Errorf("tier %s must rank above %s", t.Tier, prev.Tier)
		}
	}

	return &TierPolicy{thresholds: sorted}, nil
}

// DefaultTierPolicy returns BRONZE 0, SILVER 500, GOLD 1500, PLATINUM 5000.
func DefaultTierPolicy() *TierPolicy {
	return &TierPolicy{thresholds: []TierThreshold{
		{Tier: enums.LoyaltyTierBronze, MinPoints: 0},
		{Tier: enums.LoyaltyTierSilver, MinPoints: 500},
		{Tier: enums.LoyaltyTierGold, MinPoints: 1500},
		{Tier: enums.LoyaltyTierPlatinum, MinPoints: 5000},
	}}
}

// TierPolicyFromMap builds a policy from a tier name to threshold map, the
// shape produced by LOYALTY_TIER_THRESHOLDS.
func TierPolicyFromMap(raw map[string]int64) (*TierPolicy, error) {
	thresholds := make([]TierThreshold, 0, len(raw))
	for name, minPoints := range raw {
		tier, err := enums.ParseLoyaltyTier(name)
		if err != nil {
			return nil, err
		}
		thresholds = append(thresholds, TierThreshold{Tier: tier, MinPoints: minPoints})
	}
	return NewTierPolicy(thresholds)
}

type tierPolicyFile struct {
	Tiers []TierThreshold `yaml:"tiers"`
}

// ParseTierPolicyYAML reads a policy of the form:
//
//	tiers:
//	  - tier: BRONZE
//	    min_points: 0
func ParseTierPolicyYAML(data []byte) (*TierPolicy, error) {
	var file tierPolicyFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode tier policy: %w", err)
	}
	for i, t := range file.Tiers {
		tier, err := enums.ParseLoyaltyTier(string(t.Tier))
		if err != nil {
			return nil, err
		}
		file.Tiers[i].Tier = tier
	}
	return NewTierPolicy(file.Tiers)
}

// LoadTierPolicyFile reads and parses a YAML policy from disk.
func LoadTierPolicyFile(path string) (*TierPolicy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tier policy %s: %w", path, err)
	}
	return ParseTierPolicyYAML(data)
}

// TierFor returns the highest tier whose threshold is <= pointsEarned.
func (p *TierPolicy) TierFor(pointsEarned int64) enums.LoyaltyTier {
	tier := p.thresholds[0].Tier
	for _, t := range p.thresholds {
		if pointsEarned < t.MinPoints {
			break
		}
		tier = t.Tier
	}
	return tier
}

// NextTier returns the next tier above the one for pointsEarned and the points
// still required to reach it. ok is false at the top tier.
func (p *TierPolicy) NextTier(pointsEarned int64) (tier enums.LoyaltyTier, remaining int64, ok bool) {
	for _, t := range p.thresholds {
		if pointsEarned < t.MinPoints {
			return t.Tier, t.MinPoints - pointsEarned, true
		}
	}
	return "", 0, false
}

// Lowest is the tier assigned to new accounts.
func (p *TierPolicy) Lowest() enums.LoyaltyTier {
	return p.thresholds[0].Tier
}

func (p *TierPolicy) Thresholds() []TierThreshold {
	out := make([]TierThreshold, len(p.thresholds))
	copy(out, p.thresholds)
	return out
}
