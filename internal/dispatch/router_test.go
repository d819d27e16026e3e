package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/autopilot/internal/outbox"
)

type recordingProvider struct {
	calls []string
	err   error
}

func (p *recordingProvider) Publish(ctx context.Context, post outbox.PublishPostPayload) (*Receipt, error) {
	p.calls = append(p.calls, "publish:"+post.Platform)
	return p.result()
}

func (p *recordingProvider) SendSMS(ctx context.Context, msg outbox.SMSPayload) (*Receipt, error) {
	p.calls = append(p.calls, "sms:"+msg.To)
	return p.result()
}

func (p *recordingProvider) SendEmail(ctx context.Context, msg outbox.EmailPayload) (*Receipt, error) {
	p.calls = append(p.calls, "email:"+msg.To)
	return p.result()
}

func (p *recordingProvider) PostListing(ctx context.Context, post outbox.ListingPayload) (*Receipt, error) {
	p.calls = append(p.calls, "listing:"+post.LocationID)
	return p.result()
}

func (p *recordingProvider) result() (*Receipt, error) {
	if p.err != nil {
		return nil, p.err
	}
	return &Receipt{Provider: "test", MessageID: "m-1"}, nil
}

type countingGuard struct {
	names []string
}

func (g *countingGuard) Execute(name string, fn func() error) error {
	g.names = append(g.names, name)
	return fn()
}

func makeItem(t outbox.Type, payload json.RawMessage) *outbox.Item {
	return &outbox.Item{
		ID:        uuid.New(),
		TenantID:  uuid.New(),
		AccountID: uuid.New(),
		Type:      t,
		Payload:   payload,
		Status:    outbox.StatusQueued,
	}
}

func TestRouter_DispatchesEveryType(t *testing.T) {
	rec := &recordingProvider{}
	guard := &countingGuard{}
	router := NewRouter(Providers{Social: rec, SMS: rec, Email: rec, Listing: rec}, guard, zap.NewNop())

	tests := []struct {
		item      *outbox.Item
		wantCall  string
		wantGuard string
	}{
		{
			item:      makeItem(outbox.TypePublishPost, outbox.MustPayload(outbox.PublishPostPayload{Platform: "instagram", Caption: "hi"})),
			wantCall:  "publish:instagram",
			wantGuard: "social",
		},
		{
			item:      makeItem(outbox.TypeSendSMS, outbox.MustPayload(outbox.SMSPayload{To: "+15550100", Body: "hi"})),
			wantCall:  "sms:+15550100",
			wantGuard: "sms",
		},
		{
			item:      makeItem(outbox.TypeSendEmail, outbox.MustPayload(outbox.EmailPayload{To: "a@b.co", Subject: "s", Body: "b"})),
			wantCall:  "email:a@b.co",
			wantGuard: "email",
		},
		{
			item:      makeItem(outbox.TypePostListing, outbox.MustPayload(outbox.ListingPayload{LocationID: "loc-1", Summary: "hi"})),
			wantCall:  "listing:loc-1",
			wantGuard: "listing",
		},
	}

	for i, tt := range tests {
		receipt, err := router.Dispatch(context.Background(), tt.item)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tt.item.Type, err)
		}
		if receipt == nil || receipt.MessageID != "m-1" {
			t.Errorf("%s: expected receipt m-1, got %+v", tt.item.Type, receipt)
		}
		if rec.calls[i] != tt.wantCall {
			t.Errorf("%s: expected call %q, got %q", tt.item.Type, tt.wantCall, rec.calls[i])
		}
		if guard.names[i] != tt.wantGuard {
			t.Errorf("%s: expected guard %q, got %q", tt.item.Type, tt.wantGuard, guard.names[i])
		}
	}
}

func TestRouter_MissingCapabilityIsPermanent(t *testing.T) {
	router := NewRouter(Providers{}, nil, zap.NewNop())

	for _, typ := range outbox.Types {
		var payload json.RawMessage
		switch typ {
		case outbox.TypePublishPost:
			payload = outbox.MustPayload(outbox.PublishPostPayload{Platform: "facebook", Caption: "c"})
		case outbox.TypeSendSMS:
			payload = outbox.MustPayload(outbox.SMSPayload{To: "+1", Body: "b"})
		case outbox.TypeSendEmail:
			payload = outbox.MustPayload(outbox.EmailPayload{To: "x@y.z", Subject: "s", Body: "b"})
		case outbox.TypePostListing:
			payload = outbox.MustPayload(outbox.ListingPayload{LocationID: "l", Summary: "s"})
		}

		if router.Supports(typ) {
			t.Errorf("%s: expected unsupported with no providers", typ)
		}
		_, err := router.Dispatch(context.Background(), makeItem(typ, payload))
		if !errors.Is(err, ErrProviderNotConfigured) {
			t.Errorf("%s: expected ErrProviderNotConfigured, got %v", typ, err)
		}
		if !IsPermanent(err) {
			t.Errorf("%s: expected permanent error", typ)
		}
	}
}

func TestRouter_BadPayloadIsPermanent(t *testing.T) {
	rec := &recordingProvider{}
	router := NewRouter(Providers{SMS: rec}, nil, zap.NewNop())

	_, err := router.Dispatch(context.Background(), makeItem(outbox.TypeSendSMS, json.RawMessage(`{"to":""}`)))
	if !errors.Is(err, outbox.ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload, got %v", err)
	}
	if !IsPermanent(err) {
		t.Error("expected payload error to be permanent")
	}
	if len(rec.calls) != 0 {
		t.Errorf("provider should not be called, got %v", rec.calls)
	}
}

func TestRouter_UnknownTypeIsPermanent(t *testing.T) {
	router := NewRouter(Providers{}, nil, zap.NewNop())

	_, err := router.Dispatch(context.Background(), makeItem(outbox.Type("fax"), json.RawMessage(`{}`)))
	if !errors.Is(err, outbox.ErrInvalidType) {
		t.Fatalf("expected ErrInvalidType, got %v", err)
	}
}

func TestRouter_ProviderErrorPassesThrough(t *testing.T) {
	rec := &recordingProvider{err: errors.New("connection reset")}
	router := NewRouter(Providers{Email: rec}, nil, zap.NewNop())

	item := makeItem(outbox.TypeSendEmail, outbox.MustPayload(outbox.EmailPayload{To: "a@b.co", Subject: "s", Body: "b"}))
	_, err := router.Dispatch(context.Background(), item)
	if err == nil {
		t.Fatal("expected error")
	}
	if IsPermanent(err) {
		t.Error("provider network error should be transient")
	}
}

func TestDescribe(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{errors.New("timeout"), "transient: timeout"},
		{Permanent(errors.New("bad token")), "permanent: bad token"},
		{ErrProviderNotConfigured, "permanent: provider not configured"},
	}

	for _, tt := range tests {
		if got := Describe(tt.err); got != tt.want {
			t.Errorf("Describe(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}

	if Permanent(nil) != nil {
		t.Error("Permanent(nil) should be nil")
	}
	if !strings.HasPrefix(Describe(outbox.ErrInvalidPayload), "permanent:") {
		t.Error("invalid payload should describe as permanent")
	}
}
