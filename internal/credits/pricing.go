// Roomsync - Real-time Collaboration State Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/roomsync

package credits

import (
	"math"
	"sort"

	"github.com/tomtom215/roomsync/internal/config"
)

// ceilEpsilon absorbs float noise so an exact multiple such as 24.000000000000004
// is not rounded up to 25.
const ceilEpsilon = 1e-9

// TokenUsage is what a model call consumed. TotalTokens is only used when
// the input/output split is unknown.
type TokenUsage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
	TotalTokens  int64 `json:"total_tokens"`
}

// Pricing is one plan's rates as supplied by the billing collaborator.
type Pricing struct {
	InputRatePer1K  float64 `json:"input_rate_per_1k"`
	OutputRatePer1K float64 `json:"output_rate_per_1k"`
	ProfitMargin    float64 `json:"profit_margin"`
	CreditToUSDRate float64 `json:"credit_to_usd_rate"`
}

// CalculateCredits converts token usage into whole credits:
//
//	cost    = in/1000*inRate + out/1000*outRate
//	credits = ceil(cost*margin / creditToUSD)
//
// With only an aggregate count, cost = total/1000 * (inRate+outRate)/2.
// The result rounds up so usage is never under-charged, and is never
// negative: zero, negative or undefined costs yield 0.
func CalculateCredits(usage TokenUsage, p Pricing) int64 {
	if p.CreditToUSDRate <= 0 {
		return 0
	}

	in := float64(max(usage.InputTokens, 0))
	out := float64(max(usage.OutputTokens, 0))

	var cost float64
	if in == 0 && out == 0 && usage.TotalTokens > 0 {
		cost = float64(usage.TotalTokens) / 1000 * (p.InputRatePer1K + p.OutputRatePer1K) / 2
	} else {
		cost = in/1000*p.InputRatePer1K + out/1000*p.OutputRatePer1K
	}

	credits := cost * p.ProfitMargin / p.CreditToUSDRate
	if math.IsNaN(credits) || math.IsInf(credits, 0) || credits <= 0 {
		return 0
	}
	return int64(math.Ceil(credits - ceilEpsilon))
}

// PlanCatalog serves plan pricing from configuration.
type PlanCatalog struct {
	defaultPlan string
	plans       map[string]Pricing
}

// NewPlanCatalog builds a catalog from the credits config section.
func NewPlanCatalog(cfg config.CreditsConfig) *PlanCatalog {
	plans := make(map[string]Pricing, len(cfg.Plans))
	for name, p := range cfg.Plans {
		plans[name] = Pricing{
			InputRatePer1K:  p.InputRatePer1K,
			OutputRatePer1K: p.OutputRatePer1K,
			ProfitMargin:    p.ProfitMargin,
			CreditToUSDRate: p.CreditToUSDRate,
		}
	}
	return &PlanCatalog{defaultPlan: cfg.DefaultPlan, plans: plans}
}

// Pricing returns the named plan, or the default plan for unknown names.
func (c *PlanCatalog) Pricing(plan string) (Pricing, bool) {
	if p, ok := c.plans[plan]; ok {
		return p, true
	}
	p, ok := c.plans[c.defaultPlan]
	return p, ok
}

// Plans returns the configured plan names, sorted.
func (c *PlanCatalog) Plans() []string {
	names := make([]string, 0, len(c.plans))
	for name := range c.plans {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
