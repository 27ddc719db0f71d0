package models

// ErrorCategory drives the visual classification of a fatal error panel.
type ErrorCategory string

const (
	CategoryContent  ErrorCategory = "content"
	CategoryAnalysis ErrorCategory = "analysis"
	CategoryParsing  ErrorCategory = "parsing"
	CategoryNetwork  ErrorCategory = "network"
	CategoryGeneric  ErrorCategory = "generic"
)

// ErrorState is a fatal, user-facing error panel with a single recovery action.
type ErrorState struct {
	TitleKey   string        `json:"title_key"`
	MessageKey string        `json:"message_key"`
	Title      string        `json:"title"`
	Message    string        `json:"message"`
	Category   ErrorCategory `json:"category"`
}

// API Error response
type APIError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
}

type ErrorResponse struct {
	Error APIError `json:"error"`
}
