package budget

import (
	"fmt"
	"strings"
)

// Tier is a prompt-size variant. Larger values are smaller prompts.
type Tier int

const (
	TierFull Tier = iota
	TierReduced
	TierMinimal
)

func (t Tier) String() string {
	switch t {
	case TierFull:
		return "full"
	case TierReduced:
		return "reduced"
	case TierMinimal:
		return "minimal"
	}
	return fmt.Sprintf("tier(%d)", int(t))
}

// Smaller returns the next smaller tier, or t when already minimal.
func (t Tier) Smaller() Tier {
	if t >= TierMinimal {
		return TierMinimal
	}
	return t + 1
}

// ParseTier accepts the names printed by String. Empty means full.
func ParseTier(s string) (Tier, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "full":
		return TierFull, nil
	case "reduced":
		return TierReduced, nil
	case "minimal":
		return TierMinimal, nil
	}
	return TierFull, fmt.Errorf("unknown prompt tier %q", s)
}

// Prompts holds the system prompt text of each tier.
type Prompts struct {
	Full    string
	Reduced string
	Minimal string
}

// For returns the prompt of tier t. An empty tier falls back to the next
// larger one that is set.
func (p Prompts) For(t Tier) string {
	texts := [...]string{p.Full, p.Reduced, p.Minimal}
	if t < TierFull || t > TierMinimal {
		t = TierFull
	}
	for i := int(t); i >= 0; i-- {
		if texts[i] != "" {
			return texts[i]
		}
	}
	return ""
}
