package llm

// TurnRepository is the full interface for turn data access.
// Composed from the focused interfaces so callers can depend on only
// the slice they need (the stream executor takes TurnWriter + TurnReader +
// TurnNavigator separately).
type TurnRepository interface {
	TurnWriter
	TurnReader
	TurnNavigator
}
