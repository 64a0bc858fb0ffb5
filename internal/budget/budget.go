package budget

import "vramd/pkg/types"

// Defaults for Limits fields left at zero.
const (
	DefaultSafetyMargin = 256
	DefaultOutputFloor  = 512
	DefaultMaxOutput    = 8192
)

// Limits bound the output allocation.
type Limits struct {
	// SafetyMargin is reserved on top of the estimated input.
	SafetyMargin int
	// OutputFloor is the smallest output budget ever offered.
	OutputFloor int
	// MaxOutput caps the output budget; negative disables the cap.
	MaxOutput int
}

func (l Limits) withDefaults() Limits {
	if l.SafetyMargin <= 0 {
		l.SafetyMargin = DefaultSafetyMargin
	}
	if l.OutputFloor <= 0 {
		l.OutputFloor = DefaultOutputFloor
	}
	if l.MaxOutput == 0 {
		l.MaxOutput = DefaultMaxOutput
	}
	return l
}

// Budget is the allocation for one generation call.
type Budget struct {
	SystemTokens       int
	MessageTokens      int
	UsedTokens         int
	AvailableForOutput int
	Overflow           bool
}

// Compute sums the estimated system and message tokens plus the safety
// margin and derives the output allocation for the given context window.
func Compute(est Estimator, lim Limits, system string, msgs []types.Message, window int) Budget {
	lim = lim.withDefaults()
	b := Budget{
		SystemTokens:  est.Estimate(system),
		MessageTokens: est.Messages(msgs),
	}
	b.UsedTokens = b.SystemTokens + b.MessageTokens + lim.SafetyMargin
	b.Overflow = b.UsedTokens > window
	b.AvailableForOutput = window - b.UsedTokens
	if b.AvailableForOutput < lim.OutputFloor {
		b.AvailableForOutput = lim.OutputFloor
	}
	if lim.MaxOutput > 0 && b.AvailableForOutput > lim.MaxOutput {
		b.AvailableForOutput = lim.MaxOutput
	}
	return b
}
