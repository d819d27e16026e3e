// Package automation turns due tenant schedules into generated content and
// queued outbox items.
package automation

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Prefs shape one day's content for a tenant.
type Prefs struct {
	TenantID       uuid.UUID `json:"tenant_id"`
	Goals          []string  `json:"goals,omitempty"`
	FocusAudiences []string  `json:"focus_audiences,omitempty"`
	Channels       []string  `json:"channels,omitempty"`
	Platforms      []string  `json:"platforms,omitempty"`
	// Date is the local calendar day the content is for (tomorrow).
	Date     time.Time `json:"date"`
	Timezone string    `json:"timezone"`
}

// Bundle is one day's generated copy.
type Bundle struct {
	Promo         string `json:"promo"`
	Post          string `json:"post"`
	SMS           string `json:"sms"`
	ListingUpdate string `json:"listing_update"`
}

// ContentGenerator produces a daily bundle. Implementations may call remote
// models and should honour ctx.
type ContentGenerator interface {
	GenerateDailyBundle(ctx context.Context, prefs Prefs) (*Bundle, error)
}

// TemplateGenerator builds a bundle from fixed templates. Used in dry-run and
// when no model is configured.
type TemplateGenerator struct{}

func (TemplateGenerator) GenerateDailyBundle(ctx context.Context, prefs Prefs) (*Bundle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	day := prefs.Date.Format("Monday")
	goal := "see you soon"
	if len(prefs.Goals) > 0 {
		goal = prefs.Goals[0]
	}
	audience := "everyone"
	if len(prefs.FocusAudiences) > 0 {
		audience = strings.Join(prefs.FocusAudiences, " and ")
	}

	return &Bundle{
		Promo:         fmt.Sprintf("This %s we're focused on %s. Something special is waiting for %s.", day, goal, audience),
		Post:          fmt.Sprintf("%s plans: %s. Come say hi!", day, goal),
		SMS:           fmt.Sprintf("%s: %s. Reply STOP to opt out.", day, goal),
		ListingUpdate: fmt.Sprintf("Open %s. %s.", day, capitalize(goal)),
	}, nil
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	r, n := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(r)) + s[n:]
}
