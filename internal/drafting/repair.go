package drafting

import (
	"context"
	"fmt"
	"strings"

	"github.com/aelwyn/go-drafter/internal/domain"
	"github.com/aelwyn/go-drafter/internal/gateway"
	"github.com/aelwyn/go-drafter/internal/gateway/gerrors"
)

// GatewayRepairer normalizes assembled output with one reformat call through
// the gateway. It satisfies the continuation repair contract: best effort,
// where any failure makes the caller keep the unrepaired text. Without a
// schema there is nothing to reformat against, so the text passes through.
type GatewayRepairer struct {
	client    gateway.Client
	provider  string
	model     string
	tenantID  string
	maxTokens int64
}

// NewGatewayRepairer builds a repairer that reformats through client using
// the given provider and model. The tenant scopes cache keys so identical
// repairs within one tenant are served from cache.
func NewGatewayRepairer(client gateway.Client, provider, model, tenantID string, maxTokens int64) *GatewayRepairer {
	return &GatewayRepairer{
		client:    client,
		provider:  provider,
		model:     model,
		tenantID:  tenantID,
		maxTokens: maxTokens,
	}
}

// Repair asks the model to rewrite text as one clean delimited table with
// the schema's columns. Temperature is pinned to zero: reformatting must
// not get creative.
func (r *GatewayRepairer) Repair(ctx context.Context, text string, schema *domain.RecordSchema) (string, error) {
	if schema == nil {
		return text, nil
	}

	prompt, _ := FormatPrompt(repairPrompt, map[string]string{
		"fields": fieldList(schema.FieldNames()),
		"data":   text,
	})

	var hist gateway.History
	hist.AppendUser(prompt)

	reply, err := r.client.Invoke(ctx, &gateway.Request{
		Operation:      gateway.OpConvert,
		Provider:       r.provider,
		Model:          r.model,
		TenantID:       r.tenantID,
		History:        hist,
		MaxTokens:      r.maxTokens,
		IdempotencyKey: "repair-" + shortHash(schema.Name+"\x00"+text, hashKeyLength),
	})
	if err != nil {
		return "", fmt.Errorf("repair call failed: %w", err)
	}

	repaired := strings.TrimSpace(StripFences(reply.Text))
	if repaired == "" {
		return "", fmt.Errorf("repair call: %w", gerrors.ErrEmptyReply)
	}
	return repaired, nil
}
