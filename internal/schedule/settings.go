// Package schedule holds per-tenant automation settings and decides which
// tenants are due for an automated run at a given instant.
package schedule

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
)

type Cadence string

const (
	CadenceDaily   Cadence = "daily"
	CadenceWeekday Cadence = "weekday"
	CadenceCustom  Cadence = "custom"
)

func (c Cadence) IsValid() bool {
	switch c {
	case CadenceDaily, CadenceWeekday, CadenceCustom:
		return true
	}
	return false
}

// Channel is a delivery channel a tenant opted into.
type Channel string

const (
	ChannelSMS     Channel = "sms"
	ChannelEmail   Channel = "email"
	ChannelListing Channel = "listing"
	ChannelSocial  Channel = "social"
)

func (c Channel) IsValid() bool {
	switch c {
	case ChannelSMS, ChannelEmail, ChannelListing, ChannelSocial:
		return true
	}
	return false
}

const (
	DefaultHour     = 7
	DefaultTimezone = "UTC"
)

var (
	ErrNotFound        = errors.New("schedule not found")
	ErrInvalidSettings = errors.New("invalid schedule settings")
	ErrGuardrailActive = errors.New("automation ran within the guardrail window")
)

// Delivery holds the concrete targets a run enqueues outbox items for.
type Delivery struct {
	SMSTo             string   `json:"sms_to,omitempty"`
	EmailTo           string   `json:"email_to,omitempty"`
	ListingLocationID string   `json:"listing_location_id,omitempty"`
	CTAURL            string   `json:"cta_url,omitempty"`
	Platforms         []string `json:"platforms,omitempty"`
	AutoPublish       bool     `json:"auto_publish"`
}

// Settings is a tenant's automation configuration.
type Settings struct {
	TenantID       uuid.UUID `json:"tenant_id"`
	AccountID      uuid.UUID `json:"account_id"`
	Enabled        bool      `json:"enabled"`
	Cadence        Cadence   `json:"cadence"`
	Hour           int       `json:"hour"`
	Timezone       string    `json:"timezone"`
	CustomDays     []int     `json:"custom_days,omitempty"`
	Goals          []string  `json:"goals,omitempty"`
	FocusAudiences []string  `json:"focus_audiences,omitempty"`
	Channels       []Channel `json:"channels,omitempty"`
	Delivery       Delivery  `json:"delivery"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Defaults returns the settings a tenant has before any upsert.
func Defaults(tenantID uuid.UUID) Settings {
	return Settings{
		TenantID: tenantID,
		Enabled:  false,
		Cadence:  CadenceDaily,
		Hour:     DefaultHour,
		Timezone: DefaultTimezone,
	}
}

// HasChannel reports whether c is enabled.
func (s *Settings) HasChannel(c Channel) bool {
	return slices.Contains(s.Channels, c)
}

// Patch is a partial settings update. Nil fields keep the base value.
type Patch struct {
	AccountID      *uuid.UUID `json:"account_id,omitempty"`
	Enabled        *bool      `json:"enabled,omitempty"`
	Cadence        *Cadence   `json:"cadence,omitempty"`
	Hour           *int       `json:"hour,omitempty"`
	Timezone       *string    `json:"timezone,omitempty"`
	CustomDays     *[]int     `json:"custom_days,omitempty"`
	Goals          *[]string  `json:"goals,omitempty"`
	FocusAudiences *[]string  `json:"focus_audiences,omitempty"`
	Channels       *[]Channel `json:"channels,omitempty"`
	Delivery       *Delivery  `json:"delivery,omitempty"`
}

// Validate rejects values no evaluation could make sense of. Hour and
// timezone are deliberately accepted as-is: evaluation clamps and falls back.
func (p Patch) Validate() error {
	if p.Cadence != nil && !p.Cadence.IsValid() {
		return fmt.Errorf("%w: unknown cadence %q", ErrInvalidSettings, *p.Cadence)
	}
	if p.CustomDays != nil {
		for _, d := range *p.CustomDays {
			if d < 0 || d > 6 {
				return fmt.Errorf("%w: custom day %d out of range 0-6", ErrInvalidSettings, d)
			}
		}
	}
	if p.Channels != nil {
		for _, c := range *p.Channels {
			if !c.IsValid() {
				return fmt.Errorf("%w: unknown channel %q", ErrInvalidSettings, c)
			}
		}
	}
	return nil
}

// Merge returns base with p applied. Neither argument is modified.
func Merge(base Settings, p Patch) Settings {
	out := base.clone()
	if p.AccountID != nil {
		out.AccountID = *p.AccountID
	}
	if p.Enabled != nil {
		out.Enabled = *p.Enabled
	}
	if p.Cadence != nil {
		out.Cadence = *p.Cadence
	}
	if p.Hour != nil {
		out.Hour = *p.Hour
	}
	if p.Timezone != nil {
		out.Timezone = *p.Timezone
	}
	if p.CustomDays != nil {
		out.CustomDays = slices.Clone(*p.CustomDays)
	}
	if p.Goals != nil {
		out.Goals = slices.Clone(*p.Goals)
	}
	if p.FocusAudiences != nil {
		out.FocusAudiences = slices.Clone(*p.FocusAudiences)
	}
	if p.Channels != nil {
		out.Channels = slices.Clone(*p.Channels)
	}
	if p.Delivery != nil {
		out.Delivery = *p.Delivery
		out.Delivery.Platforms = slices.Clone(p.Delivery.Platforms)
	}
	return out
}

func (s Settings) clone() Settings {
	c := s
	c.CustomDays = slices.Clone(s.CustomDays)
	c.Goals = slices.Clone(s.Goals)
	c.FocusAudiences = slices.Clone(s.FocusAudiences)
	c.Channels = slices.Clone(s.Channels)
	c.Delivery.Platforms = slices.Clone(s.Delivery.Platforms)
	return c
}
