package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/lalithlochan/autopilot/internal/automation"
)

const bundleSystemPrompt = `You write daily marketing copy for a small local business.
Respond with a JSON object with exactly these string fields:
"promo" (2-3 sentences for an email), "post" (a social caption under 220 characters),
"sms" (under 160 characters, no links), "listing_update" (1-2 sentences for a business listing).
Keep the tone warm and specific. Never invent prices or discounts.`

// smsLimit is one GSM-7 segment.
const smsLimit = 160

// BundleGenerator produces daily bundles with the chat client.
type BundleGenerator struct {
	client *Client
	logger *zap.Logger
}

var _ automation.ContentGenerator = (*BundleGenerator)(nil)

func NewBundleGenerator(client *Client, logger *zap.Logger) *BundleGenerator {
	return &BundleGenerator{client: client, logger: logger}
}

func (g *BundleGenerator) GenerateDailyBundle(ctx context.Context, prefs automation.Prefs) (*automation.Bundle, error) {
	raw, err := g.client.CompleteJSON(ctx, bundleSystemPrompt, bundlePrompt(prefs))
	if err != nil {
		return nil, fmt.Errorf("generate bundle: %w", err)
	}

	var b automation.Bundle
	if err := json.Unmarshal([]byte(raw), &b); err != nil {
		return nil, fmt.Errorf("decode bundle: %w", err)
	}
	b.Promo = strings.TrimSpace(b.Promo)
	b.Post = strings.TrimSpace(b.Post)
	b.SMS = truncate(strings.TrimSpace(b.SMS), smsLimit)
	b.ListingUpdate = strings.TrimSpace(b.ListingUpdate)

	if b.Promo == "" && b.Post == "" && b.SMS == "" && b.ListingUpdate == "" {
		return nil, fmt.Errorf("generate bundle: model returned no content")
	}

	g.logger.Debug("bundle generated",
		zap.String("tenant_id", prefs.TenantID.String()),
		zap.String("date", prefs.Date.Format("2006-01-02")),
	)
	return &b, nil
}

func bundlePrompt(p automation.Prefs) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Date: %s (%s)\n", p.Date.Format("Monday, January 2"), p.Timezone)
	if len(p.Goals) > 0 {
		fmt.Fprintf(&sb, "Goals: %s\n", strings.Join(p.Goals, "; "))
	}
	if len(p.FocusAudiences) > 0 {
		fmt.Fprintf(&sb, "Audiences: %s\n", strings.Join(p.FocusAudiences, "; "))
	}
	if len(p.Channels) > 0 {
		fmt.Fprintf(&sb, "Channels: %s\n", strings.Join(p.Channels, ", "))
	}
	if len(p.Platforms) > 0 {
		fmt.Fprintf(&sb, "Social platforms: %s\n", strings.Join(p.Platforms, ", "))
	}
	return sb.String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
