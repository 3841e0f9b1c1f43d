package provider

// Pricing is a model's per-direction USD price per million tokens.
type Pricing struct {
	InputPerMillion  float64 `json:"input_per_million"`
	OutputPerMillion float64 `json:"output_per_million"`
}

// PriceTable maps model ids to pricing. Models absent from the table
// have unknown pricing and their cost is recorded as null, not zero.
type PriceTable map[string]Pricing

// DefaultPrices covers the commonly configured models. Operators can
// extend the table at startup; unknown models simply get null costs.
var DefaultPrices = PriceTable{
	"gpt-4o":            {InputPerMillion: 2.50, OutputPerMillion: 10.00},
	"gpt-4o-mini":       {InputPerMillion: 0.15, OutputPerMillion: 0.60},
	"claude-sonnet-4-5": {InputPerMillion: 3.00, OutputPerMillion: 15.00},
	"claude-haiku-4-5":  {InputPerMillion: 1.00, OutputPerMillion: 5.00},
	"gemini-2.5-flash":  {InputPerMillion: 0.30, OutputPerMillion: 2.50},
}

// Lookup returns the pricing for a model, or nil when unknown.
func (t PriceTable) Lookup(modelID string) *Pricing {
	p, ok := t[modelID]
	if !ok {
		return nil
	}
	return &p
}

// Cost computes the USD cost of a completion: tokens/1M times the
// per-million price, per direction. Unknown pricing yields nil — the
// cost is genuinely unknowable, which is different from a known zero.
func Cost(inputTokens, outputTokens int, p *Pricing) *float64 {
	if p == nil {
		return nil
	}
	cost := float64(inputTokens)/1_000_000*p.InputPerMillion +
		float64(outputTokens)/1_000_000*p.OutputPerMillion
	return &cost
}
