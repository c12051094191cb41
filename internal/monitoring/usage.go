package monitoring

import (
	"sort"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/omnillm/omnillm/schema"
)

// Price holds per-million-token USD prices for a model.
type Price struct {
	InputPerMTok  float64
	OutputPerMTok float64
}

// defaultPrices covers the models the engine is commonly pointed at. Models
// missing from the table accrue tokens but report zero cost.
var defaultPrices = map[string]Price{
	"gpt-4o":            {InputPerMTok: 2.50, OutputPerMTok: 10.00},
	"gpt-4o-mini":       {InputPerMTok: 0.15, OutputPerMTok: 0.60},
	"claude-sonnet-4-5": {InputPerMTok: 3.00, OutputPerMTok: 15.00},
	"claude-haiku-4-5":  {InputPerMTok: 1.00, OutputPerMTok: 5.00},
	"gemini-2.0-flash":  {InputPerMTok: 0.10, OutputPerMTok: 0.40},
}

// ModelUsage is the accumulated consumption for one provider/model pair.
type ModelUsage struct {
	Provider     string
	Model        string
	Calls        int
	InputTokens  int
	OutputTokens int
	Estimated    int     // calls whose token counts were estimated locally
	CostUSD      float64 // zero when the model has no price table entry
}

type usageKey struct {
	provider string
	model    string
}

// UsageTracker accumulates token consumption per provider and model. Vendors
// that report no usage get a local estimate, flagged as such; an estimate is
// never recorded as vendor-reported and a missing count is never treated as
// zero without marking the call estimated.
type UsageTracker struct {
	mu     sync.Mutex
	totals map[usageKey]*ModelUsage
	prices map[string]Price
}

// NewUsageTracker creates a tracker with the default price table.
func NewUsageTracker() *UsageTracker {
	return &UsageTracker{
		totals: make(map[usageKey]*ModelUsage),
		prices: defaultPrices,
	}
}

// SetPrice overrides or adds a price table entry.
func (t *UsageTracker) SetPrice(model string, price Price) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.prices) == len(defaultPrices) {
		copied := make(map[string]Price, len(defaultPrices)+1)
		for k, v := range defaultPrices {
			copied[k] = v
		}
		t.prices = copied
	}
	t.prices[model] = price
}

// Record accumulates one call's usage and returns the resolved input and
// output counts (vendor-reported or estimated, both zero for an unreported
// call). promptText and responseText feed the local estimator when the vendor
// reported nothing; pass empty strings to skip estimation and record the call
// as unreported.
func (t *UsageTracker) Record(provider string, u schema.Usage, promptText, responseText string) (int, int) {
	input, output := 0, 0
	estimated := false

	switch {
	case u.Reported():
		if u.InputTokens != nil {
			input = *u.InputTokens
		}
		if u.OutputTokens != nil {
			output = *u.OutputTokens
		}
		estimated = u.Estimated
	case promptText != "" || responseText != "":
		input = EstimateTokens(u.Model, promptText)
		output = EstimateTokens(u.Model, responseText)
		estimated = true
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	key := usageKey{provider: provider, model: u.Model}
	mu, ok := t.totals[key]
	if !ok {
		mu = &ModelUsage{Provider: provider, Model: u.Model}
		t.totals[key] = mu
	}
	mu.Calls++
	mu.InputTokens += input
	mu.OutputTokens += output
	if estimated {
		mu.Estimated++
	}
	if price, ok := t.prices[u.Model]; ok {
		mu.CostUSD += float64(input)/1e6*price.InputPerMTok + float64(output)/1e6*price.OutputPerMTok
	}
	return input, output
}

// Snapshot returns a copy of the accumulated totals, sorted by provider then
// model for stable output.
func (t *UsageTracker) Snapshot() []ModelUsage {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]ModelUsage, 0, len(t.totals))
	for _, mu := range t.totals {
		out = append(out, *mu)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Provider == out[j].Provider {
			return out[i].Model < out[j].Model
		}
		return out[i].Provider < out[j].Provider
	})
	return out
}

// EstimateTokens counts tokens locally with tiktoken. Unknown models fall
// back to the cl100k_base encoding; if no encoding can be loaded at all, a
// rough four-characters-per-token heuristic keeps the estimate usable.
func EstimateTokens(model, text string) int {
	if text == "" {
		return 0
	}
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
	}
	if err != nil {
		return (len(text) + 3) / 4
	}
	return len(enc.Encode(text, nil, nil))
}
