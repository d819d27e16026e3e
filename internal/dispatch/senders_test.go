package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"go.uber.org/zap"

	"github.com/lalithlochan/autopilot/internal/outbox"
)

type fakeSES struct {
	input *ses.SendEmailInput
	err   error
}

func (f *fakeSES) SendEmail(ctx context.Context, in *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
	f.input = in
	if f.err != nil {
		return nil, f.err
	}
	return &ses.SendEmailOutput{MessageId: aws.String("ses-123")}, nil
}

type fakeSNS struct {
	input *sns.PublishInput
	err   error
}

func (f *fakeSNS) Publish(ctx context.Context, in *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
	f.input = in
	if f.err != nil {
		return nil, f.err
	}
	return &sns.PublishOutput{MessageId: aws.String("sns-456")}, nil
}

func TestSESEmailSender_SendEmail(t *testing.T) {
	fake := &fakeSES{}
	sender := &SESEmailSender{client: fake, from: "noreply@shop.test", logger: zap.NewNop()}

	receipt, err := sender.SendEmail(context.Background(), outbox.EmailPayload{To: "owner@shop.test", Subject: "Weekly promo", Body: "20% off"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if receipt.MessageID != "ses-123" || receipt.Provider != "ses" {
		t.Errorf("unexpected receipt: %+v", receipt)
	}
	if aws.ToString(fake.input.Source) != "noreply@shop.test" {
		t.Errorf("expected source noreply@shop.test, got %s", aws.ToString(fake.input.Source))
	}
	if fake.input.Destination.ToAddresses[0] != "owner@shop.test" {
		t.Errorf("unexpected destination %v", fake.input.Destination.ToAddresses)
	}
}

func TestSESEmailSender_NoFromAddress(t *testing.T) {
	sender := &SESEmailSender{client: &fakeSES{}, logger: zap.NewNop()}

	_, err := sender.SendEmail(context.Background(), outbox.EmailPayload{To: "a@b.co", Subject: "s", Body: "b"})
	if !errors.Is(err, ErrProviderNotConfigured) {
		t.Errorf("expected ErrProviderNotConfigured, got %v", err)
	}
}

func TestSNSSMSSender_SendSMS(t *testing.T) {
	fake := &fakeSNS{}
	sender := &SNSSMSSender{client: fake, senderID: "SHOP", logger: zap.NewNop()}

	receipt, err := sender.SendSMS(context.Background(), outbox.SMSPayload{To: "+15550100", Body: "Sale today"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if receipt.MessageID != "sns-456" {
		t.Errorf("expected sns-456, got %s", receipt.MessageID)
	}
	if aws.ToString(fake.input.PhoneNumber) != "+15550100" {
		t.Errorf("unexpected phone number %s", aws.ToString(fake.input.PhoneNumber))
	}
	if _, ok := fake.input.MessageAttributes["AWS.SNS.SMS.SenderID"]; !ok {
		t.Error("expected sender id attribute")
	}
}

func TestSNSSMSSender_ErrorIsTransient(t *testing.T) {
	sender := &SNSSMSSender{client: &fakeSNS{err: errors.New("throttled")}, logger: zap.NewNop()}

	_, err := sender.SendSMS(context.Background(), outbox.SMSPayload{To: "+1", Body: "b"})
	if err == nil {
		t.Fatal("expected error")
	}
	if IsPermanent(err) {
		t.Error("throttling should be transient")
	}
}

func TestHTTPListingPoster_Success(t *testing.T) {
	var got listingRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/locations/loc-9/localPosts" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("unexpected auth header %q", r.Header.Get("Authorization"))
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"name":"locations/loc-9/localPosts/p1"}`))
	}))
	defer server.Close()

	poster := NewHTTPListingPoster(ListingConfig{BaseURL: server.URL, Token: "tok", Timeout: 5 * time.Second}, zap.NewNop())

	receipt, err := poster.PostListing(context.Background(), outbox.ListingPayload{LocationID: "loc-9", Summary: "Open late"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if receipt.MessageID != "locations/loc-9/localPosts/p1" {
		t.Errorf("unexpected receipt id %s", receipt.MessageID)
	}
	if got.Summary != "Open late" {
		t.Errorf("expected summary in request, got %q", got.Summary)
	}
}

func TestHTTPListingPoster_StatusClassification(t *testing.T) {
	tests := []struct {
		status    int
		permanent bool
	}{
		{http.StatusUnauthorized, true},
		{http.StatusNotFound, true},
		{http.StatusBadRequest, true},
		{http.StatusTooManyRequests, false},
		{http.StatusBadGateway, false},
	}

	for _, tt := range tests {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		}))
		poster := NewHTTPListingPoster(ListingConfig{BaseURL: server.URL, Token: "tok"}, zap.NewNop())

		_, err := poster.PostListing(context.Background(), outbox.ListingPayload{LocationID: "l", Summary: "s"})
		server.Close()

		if err == nil {
			t.Fatalf("status %d: expected error", tt.status)
		}
		if IsPermanent(err) != tt.permanent {
			t.Errorf("status %d: permanent = %v, want %v", tt.status, IsPermanent(err), tt.permanent)
		}
	}
}

func TestHTTPListingPoster_NotConfigured(t *testing.T) {
	poster := NewHTTPListingPoster(ListingConfig{}, zap.NewNop())

	_, err := poster.PostListing(context.Background(), outbox.ListingPayload{LocationID: "l", Summary: "s"})
	if !errors.Is(err, ErrProviderNotConfigured) {
		t.Errorf("expected ErrProviderNotConfigured, got %v", err)
	}
}

func TestLogProvider_AllCapabilities(t *testing.T) {
	p := NewLogProvider(zap.NewNop())
	router := NewRouter(p.Providers(), nil, zap.NewNop())

	for _, typ := range outbox.Types {
		if !router.Supports(typ) {
			t.Errorf("log provider should support %s", typ)
		}
	}

	receipt, err := p.SendSMS(context.Background(), outbox.SMSPayload{To: "+1", Body: "b"})
	if err != nil || receipt.Provider != "log" || receipt.MessageID == "" {
		t.Errorf("unexpected receipt %+v err %v", receipt, err)
	}
}
