package llm

import (
	"encoding/json"
	"fmt"
	"time"
)

// Content type structs define the JSONB schema for each block type.
// These provide type safety and validation for the content field.

// ImageContent represents the content structure for image blocks
type ImageContent struct {
	URL      string  `json:"url"`
	MIMEType string  `json:"mime_type"`
	AltText  *string `json:"alt_text,omitempty"`
}

// ReferenceContent represents the content structure for reference and
// partial_reference blocks
type ReferenceContent struct {
	RefID            string     `json:"ref_id"`
	RefType          string     `json:"ref_type"` // "document", "image", "s3_document"
	VersionTimestamp *time.Time `json:"version_timestamp,omitempty"`
	SelectionStart   *int       `json:"selection_start,omitempty"`
	SelectionEnd     *int       `json:"selection_end,omitempty"`
}

// ToolUseContent represents the content structure for tool_use and
// web_search_use blocks
type ToolUseContent struct {
	ToolUseID     string                 `json:"tool_use_id"`
	ToolName      string                 `json:"tool_name"`
	Input         map[string]interface{} `json:"input"`
	ExecutionSide string                 `json:"execution_side"` // "provider" or "backend"
}

// ToolResultContent represents the content structure for tool_result blocks.
// Exactly one of Result/Error is meaningful depending on IsError.
type ToolResultContent struct {
	ToolUseID string      `json:"tool_use_id"`
	ToolName  string      `json:"tool_name,omitempty"`
	IsError   bool        `json:"is_error"`
	Result    interface{} `json:"result,omitempty"`
	Error     string      `json:"error,omitempty"`
}

// WebSearchResultContent represents the content structure for
// web_search_result blocks (provider-executed search)
type WebSearchResultContent struct {
	ToolUseID string                   `json:"tool_use_id"`
	Results   []map[string]interface{} `json:"results,omitempty"`
	Error     string                   `json:"error,omitempty"`
}

// ThinkingContent represents the content structure for thinking blocks
// (optional signature)
type ThinkingContent struct {
	Signature *string `json:"signature,omitempty"`
}

// ValidateContent validates the content map against the expected schema for
// the given block type. Returns an error if the content is invalid.
func ValidateContent(blockType string, content map[string]interface{}) error {
	if content == nil {
		switch blockType {
		case BlockTypeText, BlockTypeThinking:
			// Text in text_content; thinking signature is optional
			return nil
		case BlockTypeToolUse, BlockTypeToolResult, BlockTypeImage,
			BlockTypeReference, BlockTypePartialReference,
			BlockTypeWebSearchUse, BlockTypeWebSearchResult:
			return fmt.Errorf("%s block requires content", blockType)
		default:
			return fmt.Errorf("unknown block type: %s", blockType)
		}
	}

	switch blockType {
	case BlockTypeText:
		// Text blocks carry no structured content
		return nil

	case BlockTypeThinking:
		return validateThinkingContent(content)

	case BlockTypeToolUse, BlockTypeWebSearchUse:
		return validateToolUseContent(content)

	case BlockTypeToolResult:
		return validateToolResultContent(content)

	case BlockTypeWebSearchResult:
		return validateWebSearchResultContent(content)

	case BlockTypeImage:
		return validateImageContent(content)

	case BlockTypeReference, BlockTypePartialReference:
		return validateReferenceContent(content)

	default:
		return fmt.Errorf("unknown block type: %s", blockType)
	}
}

func validateThinkingContent(content map[string]interface{}) error {
	// No required fields (signature is optional); just check the shape
	var thinking ThinkingContent
	return mapToStruct(content, &thinking)
}

func validateToolUseContent(content map[string]interface{}) error {
	var toolUse ToolUseContent
	if err := mapToStruct(content, &toolUse); err != nil {
		return fmt.Errorf("invalid tool_use content structure: %w", err)
	}

	if toolUse.ToolUseID == "" {
		return fmt.Errorf("tool_use_id is required")
	}
	if toolUse.ToolName == "" {
		return fmt.Errorf("tool_name is required")
	}
	if toolUse.Input == nil {
		return fmt.Errorf("input is required")
	}
	switch toolUse.ExecutionSide {
	case ExecutionSideProvider, ExecutionSideBackend:
	case "":
		return fmt.Errorf("execution_side is required")
	default:
		return fmt.Errorf("execution_side must be %q or %q", ExecutionSideProvider, ExecutionSideBackend)
	}

	return nil
}

func validateToolResultContent(content map[string]interface{}) error {
	var toolResult ToolResultContent
	if err := mapToStruct(content, &toolResult); err != nil {
		return fmt.Errorf("invalid tool_result content structure: %w", err)
	}

	if toolResult.ToolUseID == "" {
		return fmt.Errorf("tool_use_id is required")
	}
	if toolResult.IsError && toolResult.Error == "" {
		return fmt.Errorf("error message is required when is_error is true")
	}

	return nil
}

func validateWebSearchResultContent(content map[string]interface{}) error {
	var result WebSearchResultContent
	if err := mapToStruct(content, &result); err != nil {
		return fmt.Errorf("invalid web_search_result content structure: %w", err)
	}

	if result.ToolUseID == "" {
		return fmt.Errorf("tool_use_id is required")
	}
	if result.Results == nil && result.Error == "" {
		return fmt.Errorf("either results or error is required")
	}

	return nil
}

func validateImageContent(content map[string]interface{}) error {
	var image ImageContent
	if err := mapToStruct(content, &image); err != nil {
		return fmt.Errorf("invalid image content structure: %w", err)
	}

	if image.URL == "" {
		return fmt.Errorf("url is required")
	}
	if image.MIMEType == "" {
		return fmt.Errorf("mime_type is required")
	}

	return nil
}

func validateReferenceContent(content map[string]interface{}) error {
	var ref ReferenceContent
	if err := mapToStruct(content, &ref); err != nil {
		return fmt.Errorf("invalid reference content structure: %w", err)
	}

	if ref.RefID == "" {
		return fmt.Errorf("ref_id is required")
	}
	if ref.RefType == "" {
		return fmt.Errorf("ref_type is required")
	}

	validRefTypes := map[string]bool{
		"document":    true,
		"image":       true,
		"s3_document": true,
	}
	if !validRefTypes[ref.RefType] {
		return fmt.Errorf("ref_type must be one of: document, image, s3_document")
	}

	return nil
}

// mapToStruct converts a map to a struct via a JSON round trip. Helper for
// validating map structures against typed schemas.
func mapToStruct(m map[string]interface{}, target interface{}) error {
	jsonBytes, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal map: %w", err)
	}

	if err := json.Unmarshal(jsonBytes, target); err != nil {
		return fmt.Errorf("failed to unmarshal to struct: %w", err)
	}

	return nil
}
