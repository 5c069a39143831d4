package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/aelwyn/go-drafter/internal/gateway/gerrors"
	"github.com/aelwyn/go-drafter/internal/gateway/transport"
)

// GoogleAdapter implements ProviderAdapter for Google Gemini models via
// the generateContent REST API.
type GoogleAdapter struct {
	config Config
}

// NewGoogleAdapter creates a Google provider adapter with the default
// endpoint when none is configured.
func NewGoogleAdapter(cfg Config) *GoogleAdapter {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "https://generativelanguage.googleapis.com/v1beta"
	}
	return &GoogleAdapter{config: cfg}
}

// Name returns the provider name.
func (a *GoogleAdapter) Name() string { return ProviderGoogle }

// Build constructs a generateContent request. Gemini has no assistant
// role; assistant turns are sent with role "model", and system turns are
// lifted into systemInstruction.
func (a *GoogleAdapter) Build(ctx context.Context, req *transport.Request) (*http.Request, error) {
	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s",
		a.config.Endpoint, req.Model, a.config.APIKey)

	contents := make([]map[string]any, 0, len(req.History))
	for _, turn := range req.History {
		if turn.Role == transport.RoleSystem {
			continue
		}
		role := "user"
		if turn.Role == transport.RoleAssistant {
			role = "model"
		}
		contents = append(contents, map[string]any{
			"role":  role,
			"parts": []map[string]any{{"text": turn.Content}},
		})
	}

	body := map[string]any{
		"contents": contents,
		"generationConfig": map[string]any{
			"temperature":     req.Temperature,
			"maxOutputTokens": req.MaxTokens,
		},
	}
	if system := req.History.SystemText(); system != "" {
		body["systemInstruction"] = map[string]any{
			"parts": []map[string]any{{"text": system}},
		}
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range a.config.Headers {
		httpReq.Header.Set(k, v)
	}
	return httpReq, nil
}

// Parse extracts a normalized reply from a generateContent response.
func (a *GoogleAdapter) Parse(httpResp *http.Response) (*transport.Reply, error) {
	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, parseGoogleError(httpResp, body)
	}

	var resp struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
			FinishReason string `json:"finishReason"`
		} `json:"candidates"`
		UsageMetadata struct {
			PromptTokenCount     int `json:"promptTokenCount"`
			CandidatesTokenCount int `json:"candidatesTokenCount"`
			TotalTokenCount      int `json:"totalTokenCount"`
		} `json:"usageMetadata"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	var text string
	finishReason := transport.FinishUnknown
	if len(resp.Candidates) > 0 {
		var parts []string
		for _, p := range resp.Candidates[0].Content.Parts {
			parts = append(parts, p.Text)
		}
		text = strings.Join(parts, "")
		finishReason = mapGoogleFinishReason(resp.Candidates[0].FinishReason)
	}

	var requestIDs []string
	if reqID := httpResp.Header.Get("x-goog-request-id"); reqID != "" {
		requestIDs = append(requestIDs, reqID)
	} else if reqID := httpResp.Header.Get("x-request-id"); reqID != "" {
		requestIDs = append(requestIDs, reqID)
	}

	return &transport.Reply{
		Text:               text,
		FinishReason:       finishReason,
		ProviderRequestIDs: requestIDs,
		Usage: transport.NormalizedUsage{
			PromptTokens:     int64(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int64(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int64(resp.UsageMetadata.TotalTokenCount),
		},
		Headers: httpResp.Header,
		RawBody: body,
	}, nil
}

// mapGoogleFinishReason converts finishReason to the normalized type.
func mapGoogleFinishReason(reason string) transport.FinishReason {
	switch strings.ToUpper(reason) {
	case "STOP":
		return transport.FinishStop
	case "MAX_TOKENS":
		return transport.FinishLength
	case "SAFETY", "BLOCKLIST", "PROHIBITED_CONTENT":
		return transport.FinishContentFilter
	case "":
		return transport.FinishUnknown
	default:
		return transport.FinishStop
	}
}

// parseGoogleError converts a Google error response to a ProviderError.
func parseGoogleError(httpResp *http.Response, body []byte) error {
	var errResp struct {
		Error struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
			Status  string `json:"status"`
		} `json:"error"`
	}

	perr := &gerrors.ProviderError{
		Provider:   ProviderGoogle,
		StatusCode: httpResp.StatusCode,
		Message:    string(body),
		Kind:       classifyKind(httpResp.StatusCode, ""),
		RetryAfter: retryAfterSeconds(httpResp.Header),
	}
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		perr.Message = errResp.Error.Message
		perr.Code = errResp.Error.Status
		perr.Kind = classifyKind(httpResp.StatusCode, errResp.Error.Status)
	}
	return perr
}
