package budget

import (
	"vramd/pkg/types"
)

// MinRetainedMessages is the smallest window kept when trimming.
const MinRetainedMessages = 2

// Planner picks a prompt tier and message window for one generation call.
type Planner struct {
	Estimator Estimator
	Limits    Limits
	// IsContinuation reports whether a user message is a synthetic continue
	// instruction; such a message is never kept without the assistant
	// message before it.
	IsContinuation func(types.Message) bool
}

// Plan is the planner's decision.
type Plan struct {
	Tier     Tier
	System   string
	Messages []types.Message
	Budget   Budget
	// Trimmed is the number of leading messages dropped.
	Trimmed int
}

// Plan walks the tier ladder from start. If the smallest tier still
// overflows it keeps the most recent messages that fit, never fewer than
// MinRetainedMessages. Order is preserved. The returned tier is never larger
// than start.
func (p Planner) Plan(prompts Prompts, msgs []types.Message, window int, start Tier) Plan {
	tier := start
	for {
		system := prompts.For(tier)
		b := Compute(p.Estimator, p.Limits, system, msgs, window)
		if !b.Overflow {
			return Plan{Tier: tier, System: system, Messages: msgs, Budget: b}
		}
		if tier >= TierMinimal {
			break
		}
		tier = tier.Smaller()
	}

	system := prompts.For(TierMinimal)
	full := Compute(p.Estimator, p.Limits, system, msgs, window)
	if len(msgs) <= MinRetainedMessages {
		return Plan{Tier: TierMinimal, System: system, Messages: msgs, Budget: full}
	}

	lim := p.Limits.withDefaults()
	remaining := window - full.SystemTokens - lim.SafetyMargin
	avg := (full.MessageTokens + len(msgs) - 1) / len(msgs)
	n := len(msgs)
	if avg > 0 {
		n = remaining / avg
	}
	if n > len(msgs) {
		n = len(msgs)
	}
	if n < MinRetainedMessages {
		n = MinRetainedMessages
	}

	var best Plan
	for ; n >= MinRetainedMessages; n-- {
		kept, dropped := p.tail(msgs, n)
		b := Compute(p.Estimator, p.Limits, system, kept, window)
		best = Plan{Tier: TierMinimal, System: system, Messages: kept, Budget: b, Trimmed: dropped}
		if !b.Overflow {
			break
		}
	}
	return best
}

// tail keeps the last n messages, extended by one when the window would
// start on a continuation instruction.
func (p Planner) tail(msgs []types.Message, n int) ([]types.Message, int) {
	start := len(msgs) - n
	if start < 0 {
		start = 0
	}
	if start > 0 && p.IsContinuation != nil && p.IsContinuation(msgs[start]) {
		start--
	}
	out := make([]types.Message, len(msgs)-start)
	copy(out, msgs[start:])
	return out, start
}
