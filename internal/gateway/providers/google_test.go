package providers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aelwyn/go-drafter/internal/gateway/gerrors"
	"github.com/aelwyn/go-drafter/internal/gateway/transport"
)

func TestNewGoogleAdapter(t *testing.T) {
	adapter := NewGoogleAdapter(Config{APIKey: "test-key"})
	assert.Equal(t, ProviderGoogle, adapter.Name())
	assert.Equal(t, "https://generativelanguage.googleapis.com/v1beta", adapter.config.Endpoint)
}

func TestGoogleAdapter_Build(t *testing.T) {
	adapter := NewGoogleAdapter(Config{APIKey: "test-key"})

	req := &transport.Request{
		Operation: transport.OpDraft,
		Provider:  ProviderGoogle,
		Model:     "gemini-2.0-flash",
		History: transport.History{
			{Role: transport.RoleSystem, Content: "Answer in English."},
			{Role: transport.RoleUser, Content: "Draft the summary."},
			{Role: transport.RoleAssistant, Content: "The summary begins"},
		},
		MaxTokens:   512,
		Temperature: 0.2,
	}

	httpReq, err := adapter.Build(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, httpReq.Method)
	assert.Equal(t,
		"https://generativelanguage.googleapis.com/v1beta/models/gemini-2.0-flash:generateContent?key=test-key",
		httpReq.URL.String(), "the API key travels in the query string")
	assert.Empty(t, httpReq.Header.Get("Authorization"))

	var body struct {
		Contents []struct {
			Role  string `json:"role"`
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"contents"`
		SystemInstruction struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"systemInstruction"`
		GenerationConfig struct {
			Temperature     float64 `json:"temperature"`
			MaxOutputTokens int64   `json:"maxOutputTokens"`
		} `json:"generationConfig"`
	}
	raw, err := io.ReadAll(httpReq.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &body))

	require.Len(t, body.Contents, 2)
	assert.Equal(t, "user", body.Contents[0].Role)
	assert.Equal(t, "model", body.Contents[1].Role, "assistant turns use the model role")
	require.Len(t, body.Contents[1].Parts, 1)
	assert.Equal(t, "The summary begins", body.Contents[1].Parts[0].Text)
	require.Len(t, body.SystemInstruction.Parts, 1)
	assert.Equal(t, "Answer in English.", body.SystemInstruction.Parts[0].Text)
	assert.InDelta(t, 0.2, body.GenerationConfig.Temperature, 1e-9)
	assert.Equal(t, int64(512), body.GenerationConfig.MaxOutputTokens)
}

func TestGoogleAdapter_Parse(t *testing.T) {
	adapter := NewGoogleAdapter(Config{})

	tests := []struct {
		name       string
		statusCode int
		body       string
		headers    map[string]string
		wantErr    bool
		validate   func(t *testing.T, reply *transport.Reply)
		validateE  func(t *testing.T, err error)
	}{
		{
			name:       "successful response joins parts",
			statusCode: http.StatusOK,
			body: `{
				"candidates": [{
					"content": {"parts": [{"text": "First half "}, {"text": "second half."}]},
					"finishReason": "STOP"
				}],
				"usageMetadata": {"promptTokenCount": 5, "candidatesTokenCount": 7, "totalTokenCount": 12}
			}`,
			headers: map[string]string{"x-goog-request-id": "goog-1"},
			validate: func(t *testing.T, reply *transport.Reply) {
				assert.Equal(t, "First half second half.", reply.Text)
				assert.Equal(t, transport.FinishStop, reply.FinishReason)
				assert.Equal(t, int64(5), reply.Usage.PromptTokens)
				assert.Equal(t, int64(7), reply.Usage.CompletionTokens)
				assert.Equal(t, int64(12), reply.Usage.TotalTokens)
				assert.Contains(t, reply.ProviderRequestIDs, "goog-1")
			},
		},
		{
			name:       "generic request id fallback",
			statusCode: http.StatusOK,
			body:       `{"candidates": [{"content": {"parts": [{"text": "ok"}]}, "finishReason": "STOP"}]}`,
			headers:    map[string]string{"x-request-id": "generic-7"},
			validate: func(t *testing.T, reply *transport.Reply) {
				assert.Equal(t, []string{"generic-7"}, reply.ProviderRequestIDs)
			},
		},
		{
			name:       "safety block",
			statusCode: http.StatusOK,
			body:       `{"candidates": [{"content": {"parts": []}, "finishReason": "SAFETY"}]}`,
			validate: func(t *testing.T, reply *transport.Reply) {
				assert.Empty(t, reply.Text)
				assert.Equal(t, transport.FinishContentFilter, reply.FinishReason)
			},
		},
		{
			name:       "no candidates",
			statusCode: http.StatusOK,
			body:       `{"usageMetadata": {"promptTokenCount": 3, "candidatesTokenCount": 0, "totalTokenCount": 3}}`,
			validate: func(t *testing.T, reply *transport.Reply) {
				assert.Empty(t, reply.Text)
				assert.Equal(t, transport.FinishUnknown, reply.FinishReason)
			},
		},
		{
			name:       "resource exhausted",
			statusCode: http.StatusTooManyRequests,
			body:       `{"error": {"code": 429, "message": "Quota exceeded for quota metric", "status": "RESOURCE_EXHAUSTED"}}`,
			wantErr:    true,
			validateE: func(t *testing.T, err error) {
				var perr *gerrors.ProviderError
				require.ErrorAs(t, err, &perr)
				assert.Equal(t, ProviderGoogle, perr.Provider)
				assert.Equal(t, "RESOURCE_EXHAUSTED", perr.Code)
				assert.Equal(t, gerrors.KindRateLimit, perr.Kind)
			},
		},
		{
			name:       "permission denied",
			statusCode: http.StatusForbidden,
			body:       `{"error": {"code": 403, "message": "The caller does not have permission", "status": "PERMISSION_DENIED"}}`,
			wantErr:    true,
			validateE: func(t *testing.T, err error) {
				var perr *gerrors.ProviderError
				require.ErrorAs(t, err, &perr)
				assert.Equal(t, gerrors.KindAuth, perr.Kind)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			httpResp := &http.Response{
				StatusCode: tt.statusCode,
				Header:     make(http.Header),
				Body:       newStringReadCloser(tt.body),
			}
			for k, v := range tt.headers {
				httpResp.Header.Set(k, v)
			}

			reply, err := adapter.Parse(httpResp)
			if tt.wantErr {
				require.Error(t, err)
				if tt.validateE != nil {
					tt.validateE(t, err)
				}
				return
			}
			require.NoError(t, err)
			require.NotNil(t, reply)
			if tt.validate != nil {
				tt.validate(t, reply)
			}
		})
	}
}

func TestMapGoogleFinishReason(t *testing.T) {
	tests := []struct {
		reason string
		want   transport.FinishReason
	}{
		{"STOP", transport.FinishStop},
		{"stop", transport.FinishStop},
		{"MAX_TOKENS", transport.FinishLength},
		{"SAFETY", transport.FinishContentFilter},
		{"BLOCKLIST", transport.FinishContentFilter},
		{"PROHIBITED_CONTENT", transport.FinishContentFilter},
		{"", transport.FinishUnknown},
		{"OTHER", transport.FinishStop},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, mapGoogleFinishReason(tt.reason), "reason %q", tt.reason)
	}
}
