package outbox

import (
	"encoding/json"
	"fmt"
)

// PublishPostPayload is the payload of a publish_post item.
type PublishPostPayload struct {
	Platform string `json:"platform"`
	Caption  string `json:"caption"`
	MediaRef string `json:"media_ref,omitempty"`
}

// SMSPayload is the payload of a send_sms item.
type SMSPayload struct {
	To   string `json:"to"`
	Body string `json:"body"`
}

// EmailPayload is the payload of a send_email item.
type EmailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// ListingPayload is the payload of a post_listing item.
type ListingPayload struct {
	LocationID string `json:"location_id"`
	Summary    string `json:"summary"`
	CTAURL     string `json:"cta_url,omitempty"`
	MediaRef   string `json:"media_ref,omitempty"`
}

func (p PublishPostPayload) Validate() error {
	if p.Platform == "" {
		return fmt.Errorf("%w: publish_post payload missing platform", ErrInvalidPayload)
	}
	if p.Caption == "" {
		return fmt.Errorf("%w: publish_post payload missing caption", ErrInvalidPayload)
	}
	return nil
}

func (p SMSPayload) Validate() error {
	if p.To == "" {
		return fmt.Errorf("%w: send_sms payload missing to", ErrInvalidPayload)
	}
	if p.Body == "" {
		return fmt.Errorf("%w: send_sms payload missing body", ErrInvalidPayload)
	}
	return nil
}

func (p EmailPayload) Validate() error {
	if p.To == "" {
		return fmt.Errorf("%w: send_email payload missing to", ErrInvalidPayload)
	}
	if p.Subject == "" {
		return fmt.Errorf("%w: send_email payload missing subject", ErrInvalidPayload)
	}
	if p.Body == "" {
		return fmt.Errorf("%w: send_email payload missing body", ErrInvalidPayload)
	}
	return nil
}

func (p ListingPayload) Validate() error {
	if p.LocationID == "" {
		return fmt.Errorf("%w: post_listing payload missing location_id", ErrInvalidPayload)
	}
	if p.Summary == "" {
		return fmt.Errorf("%w: post_listing payload missing summary", ErrInvalidPayload)
	}
	return nil
}

// Decode unmarshals raw into v and runs its validation.
func Decode[T interface{ Validate() error }](raw json.RawMessage) (T, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := v.Validate(); err != nil {
		return v, err
	}
	return v, nil
}

// ValidatePayload checks raw against the shape required by t.
func ValidatePayload(t Type, raw json.RawMessage) error {
	var err error
	switch t {
	case TypePublishPost:
		_, err = Decode[PublishPostPayload](raw)
	case TypeSendSMS:
		_, err = Decode[SMSPayload](raw)
	case TypeSendEmail:
		_, err = Decode[EmailPayload](raw)
	case TypePostListing:
		_, err = Decode[ListingPayload](raw)
	default:
		err = fmt.Errorf("%w: %q", ErrInvalidType, t)
	}
	return err
}

// MustPayload marshals v, which must be one of the payload structs above.
func MustPayload(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("outbox: marshal payload: %v", err))
	}
	return raw
}
