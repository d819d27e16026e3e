package dispatch

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/autopilot/internal/outbox"
)

// LogProvider satisfies every capability by logging instead of calling a
// provider (dry-run / development).
type LogProvider struct {
	logger *zap.Logger
}

func NewLogProvider(logger *zap.Logger) *LogProvider {
	return &LogProvider{logger: logger}
}

// Providers returns a Providers with every capability set to p.
func (p *LogProvider) Providers() Providers {
	return Providers{Social: p, SMS: p, Email: p, Listing: p}
}

func (p *LogProvider) Publish(ctx context.Context, post outbox.PublishPostPayload) (*Receipt, error) {
	p.logger.Info("dry-run social post",
		zap.String("platform", post.Platform),
		zap.Int("caption_length", len(post.Caption)),
	)
	return p.receipt(), nil
}

func (p *LogProvider) SendSMS(ctx context.Context, msg outbox.SMSPayload) (*Receipt, error) {
	p.logger.Info("dry-run sms", zap.String("to", msg.To), zap.Int("body_length", len(msg.Body)))
	return p.receipt(), nil
}

func (p *LogProvider) SendEmail(ctx context.Context, msg outbox.EmailPayload) (*Receipt, error) {
	p.logger.Info("dry-run email", zap.String("to", msg.To), zap.String("subject", msg.Subject))
	return p.receipt(), nil
}

func (p *LogProvider) PostListing(ctx context.Context, post outbox.ListingPayload) (*Receipt, error) {
	p.logger.Info("dry-run listing post", zap.String("location_id", post.LocationID))
	return p.receipt(), nil
}

func (p *LogProvider) receipt() *Receipt {
	return &Receipt{Provider: "log", MessageID: uuid.NewString()}
}
