package schema

// Usage reports token consumption for one exchange. Counts are pointers so a
// vendor that reports no usage block normalizes to "not reported" (nil),
// never to zero. Model is always the model id actually used, even when the
// vendor fell back to a different model than the one requested.
type Usage struct {
	InputTokens  *int   `json:"input_tokens,omitempty"`
	OutputTokens *int   `json:"output_tokens,omitempty"`
	Model        string `json:"model"`

	// Estimated marks counts produced by local tokenizer estimation rather
	// than reported by the vendor.
	Estimated bool `json:"estimated,omitempty"`
}

// Reported reports whether the vendor supplied any usage figures.
func (u Usage) Reported() bool {
	return u.InputTokens != nil || u.OutputTokens != nil
}

// Total returns input+output tokens, counting unreported figures as zero,
// and false when neither side was reported.
func (u Usage) Total() (int, bool) {
	if !u.Reported() {
		return 0, false
	}
	var total int
	if u.InputTokens != nil {
		total += *u.InputTokens
	}
	if u.OutputTokens != nil {
		total += *u.OutputTokens
	}
	return total, true
}

// IntPtr is a small helper for building Usage values.
func IntPtr(v int) *int { return &v }
