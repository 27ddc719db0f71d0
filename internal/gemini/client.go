// Package gemini is a thin REST client for the generateContent endpoint. It covers
// the request features the genai SDK does not expose: search grounding and speech output.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"cropdoc-backend/internal/models"
)

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com"
	requestPathFmt = "%s/v1beta/models/%s:generateContent?key=%s"
)

// Client calls the Gemini REST API.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// Option configures a Client instance.
type Option func(*Client)

// WithHTTPClient assigns a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithBaseURL changes the base URL used for API calls. Primarily intended for testing.
func WithBaseURL(base string) Option {
	return func(c *Client) {
		if base != "" {
			c.baseURL = base
		}
	}
}

func NewClient(apiKey string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: API key not provided")
	}

	client := &Client{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		httpClient: &http.Client{
			Timeout: 90 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

type Request struct {
	Contents          []Content         `json:"contents"`
	SystemInstruction *Content          `json:"systemInstruction,omitempty"`
	Tools             []Tool            `json:"tools,omitempty"`
	GenerationConfig  *GenerationConfig `json:"generationConfig,omitempty"`
}

type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

type Part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *InlineData `json:"inlineData,omitempty"`
}

// InlineData holds a base64-encoded binary payload.
type InlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type Tool struct {
	GoogleSearch *GoogleSearch `json:"googleSearch,omitempty"`
}

type GoogleSearch struct{}

type GenerationConfig struct {
	ResponseModalities []string      `json:"responseModalities,omitempty"`
	SpeechConfig       *SpeechConfig `json:"speechConfig,omitempty"`
}

type SpeechConfig struct {
	VoiceConfig *VoiceConfig `json:"voiceConfig,omitempty"`
}

type VoiceConfig struct {
	PrebuiltVoiceConfig *PrebuiltVoiceConfig `json:"prebuiltVoiceConfig,omitempty"`
}

type PrebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

type Response struct {
	Candidates     []Candidate     `json:"candidates"`
	PromptFeedback *PromptFeedback `json:"promptFeedback,omitempty"`
	Error          *APIError       `json:"error,omitempty"`
}

type Candidate struct {
	Content           Content            `json:"content"`
	FinishReason      string             `json:"finishReason,omitempty"`
	GroundingMetadata *GroundingMetadata `json:"groundingMetadata,omitempty"`
}

type PromptFeedback struct {
	BlockReason string `json:"blockReason,omitempty"`
}

type GroundingMetadata struct {
	GroundingChunks []GroundingChunk `json:"groundingChunks,omitempty"`
}

type GroundingChunk struct {
	Web *WebSource `json:"web,omitempty"`
}

type WebSource struct {
	URI   string `json:"uri"`
	Title string `json:"title"`
}

// APIError is the error object returned by the service.
type APIError struct {
	Code    int    `json:"code"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gemini: API error %s (%d): %s", e.Status, e.Code, e.Message)
}

// Text concatenates the text parts of the first candidate.
func (r *Response) Text() string {
	if len(r.Candidates) == 0 {
		return ""
	}
	var builder strings.Builder
	for _, p := range r.Candidates[0].Content.Parts {
		builder.WriteString(p.Text)
	}
	return builder.String()
}

// FirstInlineData returns the inline payload of the first candidate's first part.
func (r *Response) FirstInlineData() *InlineData {
	if len(r.Candidates) == 0 || len(r.Candidates[0].Content.Parts) == 0 {
		return nil
	}
	return r.Candidates[0].Content.Parts[0].InlineData
}

// Citations lists the web sources of the first candidate in response order.
func (r *Response) Citations() []models.Citation {
	if len(r.Candidates) == 0 || r.Candidates[0].GroundingMetadata == nil {
		return nil
	}
	var out []models.Citation
	for _, chunk := range r.Candidates[0].GroundingMetadata.GroundingChunks {
		if chunk.Web == nil {
			continue
		}
		out = append(out, models.Citation{URI: chunk.Web.URI, Title: chunk.Web.Title})
	}
	return out
}

func (c *Client) endpoint(model string) string {
	base := strings.TrimSuffix(c.baseURL, "/")
	return fmt.Sprintf(requestPathFmt, base, url.PathEscape(model), url.QueryEscape(c.apiKey))
}

// GenerateContent posts req to model and decodes the response.
func (c *Client) GenerateContent(ctx context.Context, model string, req *Request) (*Response, error) {
	if model == "" {
		return nil, errors.New("gemini: model must not be empty")
	}
	if req == nil || len(req.Contents) == 0 {
		return nil, errors.New("gemini: at least one content is required")
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("gemini: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(model), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("gemini: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("gemini: http call failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("gemini: read response: %w", err)
	}

	var apiResp Response
	decodeErr := json.Unmarshal(respBody, &apiResp)

	if resp.StatusCode != http.StatusOK {
		if decodeErr == nil && apiResp.Error != nil {
			return nil, apiResp.Error
		}
		return nil, &APIError{
			Code:    resp.StatusCode,
			Status:  http.StatusText(resp.StatusCode),
			Message: string(respBody),
		}
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("gemini: decode response: %w", decodeErr)
	}
	if apiResp.Error != nil {
		return nil, apiResp.Error
	}

	return &apiResp, nil
}
