package main

import (
	"errors"
	"testing"

	"github.com/lalithlochan/autopilot/internal/outbox"
)

func TestParseTypes(t *testing.T) {
	types, err := parseTypes("send_sms, send_email")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(types) != 2 || types[0] != outbox.TypeSendSMS || types[1] != outbox.TypeSendEmail {
		t.Errorf("unexpected types %v", types)
	}

	if types, _ := parseTypes(""); types != nil {
		t.Errorf("empty list should mean all types, got %v", types)
	}

	if _, err := parseTypes("send_fax"); !errors.Is(err, outbox.ErrInvalidType) {
		t.Errorf("expected ErrInvalidType, got %v", err)
	}
}

func TestRun_Usage(t *testing.T) {
	if err := run(nil); err == nil {
		t.Error("expected usage error")
	}
	if err := run([]string{"outbox", "-types", "bogus"}); !errors.Is(err, outbox.ErrInvalidType) {
		t.Errorf("expected ErrInvalidType before connecting, got %v", err)
	}
}
