package llm

// Message is a provider-facing conversation message: one turn's role plus its
// content blocks, already sanitized for the target provider.
type Message struct {
	Role    string       `json:"role"`
	Content []*TurnBlock `json:"content"`
}
