package http

import (
	"errors"
	"fmt"
	"strings"

	"subsidypay/internal/access"
	"subsidypay/internal/auth"
	"subsidypay/internal/backend"
)

const unauthorizedText = "Login is required to perform this action."

// Content is one block of a tool result.
type Content struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ToolResult is the envelope every tool call returns.
type ToolResult struct {
	Content           []Content      `json:"content"`
	StructuredContent any            `json:"structuredContent,omitempty"`
	Meta              map[string]any `json:"_meta,omitempty"`
	IsError           bool           `json:"isError,omitempty"`
}

func textResult(text string, structured any, meta map[string]any) ToolResult {
	return ToolResult{
		Content:           []Content{{Type: "text", Text: text}},
		StructuredContent: structured,
		Meta:              meta,
	}
}

func errorText(text string, meta map[string]any) ToolResult {
	return ToolResult{
		Content: []Content{{Type: "text", Text: text}},
		Meta:    meta,
		IsError: true,
	}
}

func unauthorizedResult(publicURL string) ToolResult {
	return errorText(unauthorizedText, map[string]any{
		"mcp/www_authenticate": []string{auth.WWWAuthenticate(publicURL)},
	})
}

func insufficientScopeResult(publicURL string, missing []string) ToolResult {
	return errorText(fmt.Sprintf("This action requires the %s scope.", strings.Join(missing, ", ")), map[string]any{
		"code":                 "insufficient_scope",
		"details":              map[string]any{"required_scopes": missing},
		"mcp/www_authenticate": []string{auth.InsufficientScope(publicURL, missing)},
	})
}

// errorResult renders a backend or resolver failure. Anything else becomes
// an unexpected_error result carrying fallback as its text.
func errorResult(err error, fallback string) ToolResult {
	var be *backend.Error
	if errors.As(err, &be) {
		return errorText(be.Message, map[string]any{"code": be.Code, "details": be.Details})
	}
	var failure *access.Failure
	if errors.As(err, &failure) {
		return errorText(failure.Message, map[string]any{"code": failure.Code, "details": failure.Details})
	}
	return errorText(fallback, map[string]any{"code": access.CodeUnexpected})
}

func invalidInputResult(err error) ToolResult {
	return errorText("Invalid tool input: "+err.Error(), map[string]any{"code": "invalid_input"})
}
