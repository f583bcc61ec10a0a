package config

const (
	// MaxChatTitleLength is the maximum length for chat titles.
	// Limited to 255 to fit in PostgreSQL VARCHAR(255) and provide
	// reasonable UX (titles should be short and descriptive).
	MaxChatTitleLength = 255

	// MaxSystemPromptLength bounds user/chat-level system prompts.
	// Large enough for multi-section prompts, small enough to keep
	// request rows sane.
	MaxSystemPromptLength = 100000
)
