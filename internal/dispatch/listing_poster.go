package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/autopilot/internal/outbox"
)

// HTTPListingPoster posts listing updates to a business-listing provider's
// JSON API.
type HTTPListingPoster struct {
	client  *http.Client
	baseURL string
	token   string
	logger  *zap.Logger
}

type ListingConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

type listingRequest struct {
	Summary   string `json:"summary"`
	CallToURL string `json:"call_to_action_url,omitempty"`
	MediaURL  string `json:"media_url,omitempty"`
	TopicType string `json:"topic_type"`
}

type listingResponse struct {
	Name string `json:"name"`
	ID   string `json:"id"`
}

func NewHTTPListingPoster(cfg ListingConfig, logger *zap.Logger) *HTTPListingPoster {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &HTTPListingPoster{
		client:  &http.Client{Timeout: timeout},
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
		logger:  logger,
	}
}

// PostListing creates a local post on the given location.
func (p *HTTPListingPoster) PostListing(ctx context.Context, post outbox.ListingPayload) (*Receipt, error) {
	if p.baseURL == "" || p.token == "" {
		return nil, fmt.Errorf("%w: listing api url or token missing", ErrProviderNotConfigured)
	}

	body, err := json.Marshal(listingRequest{
		Summary:   post.Summary,
		CallToURL: post.CTAURL,
		MediaURL:  post.MediaRef,
		TopicType: "STANDARD",
	})
	if err != nil {
		return nil, Permanent(fmt.Errorf("marshal listing post: %w", err))
	}

	url := fmt.Sprintf("%s/locations/%s/localPosts", p.baseURL, post.LocationID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, Permanent(fmt.Errorf("failed to create listing request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.token)
	req.Header.Set("User-Agent", "Autopilot/1.0.0")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("listing request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden ||
		resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusBadRequest:
		// credentials, location or payload problem: retrying as-is will not help
		return nil, Permanent(fmt.Errorf("listing api returned %d: %s", resp.StatusCode, string(respBody)))
	default:
		return nil, fmt.Errorf("listing api returned %d: %s", resp.StatusCode, string(respBody))
	}

	var out listingResponse
	_ = json.Unmarshal(respBody, &out)
	id := out.Name
	if id == "" {
		id = out.ID
	}

	p.logger.Info("listing post created",
		zap.String("location_id", post.LocationID),
		zap.String("post_id", id),
		zap.Int("status_code", resp.StatusCode),
	)

	return &Receipt{Provider: "listing", MessageID: id}, nil
}
