package ops

import "math/rand/v2"

// Sampler thins out high-volume ops events. Rates are fixed at construction
// and clamped to [0, 1]; 1 keeps every event, 0 keeps none.
type Sampler struct {
	fallback float64
	byAction map[string]float64
}

// NewSampler keeps events at defaultRate unless rates names the action.
func NewSampler(defaultRate float64, rates map[string]float64) *Sampler {
	s := &Sampler{fallback: clampRate(defaultRate), byAction: make(map[string]float64, len(rates))}
	for action, rate := range rates {
		s.byAction[action] = clampRate(rate)
	}
	return s
}

// ShouldSample reports whether an event with this action is kept.
func (s *Sampler) ShouldSample(action string) bool {
	rate, ok := s.byAction[action]
	if !ok {
		rate = s.fallback
	}
	return rand.Float64() < rate //nolint:gosec // sampling, not security
}

func clampRate(r float64) float64 {
	return min(max(r, 0), 1)
}
