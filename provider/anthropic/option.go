package anthropic

// Option configures an Anthropic provider.
type Option func(*Anthropic)

// WithMaxTokens sets the default max_tokens for responses (default 900).
// A per-request MaxTokens overrides this.
func WithMaxTokens(n int) Option {
	return func(a *Anthropic) { a.maxTokens = n }
}

// WithTemperature sets the sampling temperature (default 0.2).
func WithTemperature(t float64) Option {
	return func(a *Anthropic) { a.temperature = t }
}
