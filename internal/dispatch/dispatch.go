// Package dispatch routes outbox items to the provider capability that
// performs the side effect.
package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/lalithlochan/autopilot/internal/outbox"
)

// Receipt identifies an accepted provider request.
type Receipt struct {
	Provider  string `json:"provider"`
	MessageID string `json:"message_id"`
}

// SocialPublisher publishes a post to a social platform.
type SocialPublisher interface {
	Publish(ctx context.Context, post outbox.PublishPostPayload) (*Receipt, error)
}

// SMSSender delivers a text message.
type SMSSender interface {
	SendSMS(ctx context.Context, msg outbox.SMSPayload) (*Receipt, error)
}

// EmailSender delivers an email.
type EmailSender interface {
	SendEmail(ctx context.Context, msg outbox.EmailPayload) (*Receipt, error)
}

// ListingPoster posts an update to a business-listing provider.
type ListingPoster interface {
	PostListing(ctx context.Context, post outbox.ListingPayload) (*Receipt, error)
}

// ErrProviderNotConfigured means no capability is wired for the item type.
var ErrProviderNotConfigured = errors.New("provider not configured")

// ErrUnavailable means a Guard refused the call and the provider was never
// contacted. The item can be left queued for a later pass.
var ErrUnavailable = errors.New("provider unavailable")

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as one that retrying will not fix.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err needs a configuration or payload fix
// before a retry can succeed.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe) ||
		errors.Is(err, ErrProviderNotConfigured) ||
		errors.Is(err, outbox.ErrInvalidPayload) ||
		errors.Is(err, outbox.ErrInvalidType)
}

// Describe renders err for an item's last error, prefixed with its class.
func Describe(err error) string {
	if IsPermanent(err) {
		return fmt.Sprintf("permanent: %v", err)
	}
	return fmt.Sprintf("transient: %v", err)
}
