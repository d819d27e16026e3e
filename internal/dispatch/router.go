package dispatch

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/lalithlochan/autopilot/internal/outbox"
)

// Guard wraps a provider call, e.g. with a circuit breaker keyed by name.
type Guard interface {
	Execute(name string, fn func() error) error
}

// Providers holds the capabilities the router may call. A nil capability
// makes items of that type fail permanently.
type Providers struct {
	Social  SocialPublisher
	SMS     SMSSender
	Email   EmailSender
	Listing ListingPoster
}

// Router maps an item's type to its capability. It holds no per-item state
// and never retries.
type Router struct {
	providers Providers
	guard     Guard
	logger    *zap.Logger
}

// NewRouter creates a router. guard may be nil.
func NewRouter(providers Providers, guard Guard, logger *zap.Logger) *Router {
	return &Router{
		providers: providers,
		guard:     guard,
		logger:    logger,
	}
}

// Dispatch performs the item's side effect.
func (r *Router) Dispatch(ctx context.Context, it *outbox.Item) (*Receipt, error) {
	r.logger.Debug("routing outbox item",
		zap.String("item_id", it.ID.String()),
		zap.String("type", it.Type.String()),
	)

	switch it.Type {
	case outbox.TypePublishPost:
		p, err := outbox.Decode[outbox.PublishPostPayload](it.Payload)
		if err != nil {
			return nil, Permanent(err)
		}
		if r.providers.Social == nil {
			return nil, fmt.Errorf("%w: social publisher", ErrProviderNotConfigured)
		}
		return r.call("social", func() (*Receipt, error) { return r.providers.Social.Publish(ctx, p) })

	case outbox.TypeSendSMS:
		p, err := outbox.Decode[outbox.SMSPayload](it.Payload)
		if err != nil {
			return nil, Permanent(err)
		}
		if r.providers.SMS == nil {
			return nil, fmt.Errorf("%w: sms sender", ErrProviderNotConfigured)
		}
		return r.call("sms", func() (*Receipt, error) { return r.providers.SMS.SendSMS(ctx, p) })

	case outbox.TypeSendEmail:
		p, err := outbox.Decode[outbox.EmailPayload](it.Payload)
		if err != nil {
			return nil, Permanent(err)
		}
		if r.providers.Email == nil {
			return nil, fmt.Errorf("%w: email sender", ErrProviderNotConfigured)
		}
		return r.call("email", func() (*Receipt, error) { return r.providers.Email.SendEmail(ctx, p) })

	case outbox.TypePostListing:
		p, err := outbox.Decode[outbox.ListingPayload](it.Payload)
		if err != nil {
			return nil, Permanent(err)
		}
		if r.providers.Listing == nil {
			return nil, fmt.Errorf("%w: listing poster", ErrProviderNotConfigured)
		}
		return r.call("listing", func() (*Receipt, error) { return r.providers.Listing.PostListing(ctx, p) })

	default:
		return nil, Permanent(fmt.Errorf("%w: %q", outbox.ErrInvalidType, it.Type))
	}
}

// Supports reports whether a capability is wired for t.
func (r *Router) Supports(t outbox.Type) bool {
	switch t {
	case outbox.TypePublishPost:
		return r.providers.Social != nil
	case outbox.TypeSendSMS:
		return r.providers.SMS != nil
	case outbox.TypeSendEmail:
		return r.providers.Email != nil
	case outbox.TypePostListing:
		return r.providers.Listing != nil
	default:
		return false
	}
}

func (r *Router) call(name string, fn func() (*Receipt, error)) (*Receipt, error) {
	if r.guard == nil {
		return fn()
	}
	var receipt *Receipt
	err := r.guard.Execute(name, func() error {
		var err error
		receipt, err = fn()
		return err
	})
	return receipt, err
}
