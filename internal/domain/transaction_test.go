package domain

import (
	"errors"
	"testing"
)

func TestParseDisplayID(t *testing.T) {
	tests := []struct {
		name          string
		displayID     string
		wantIncrement string
		wantQuote     string
		wantErr       bool
	}{
		{name: "both halves", displayID: "100010289|456", wantIncrement: "100010289", wantQuote: "456"},
		{name: "padded halves", displayID: " 100010289 | 456 ", wantIncrement: "100010289", wantQuote: "456"},
		{name: "missing separator", displayID: "100010289", wantErr: true},
		{name: "missing quote id", displayID: "100010289|", wantErr: true},
		{name: "missing increment id", displayID: "|456", wantErr: true},
		{name: "empty", displayID: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			incrementID, quoteID, err := ParseDisplayID(tt.displayID)
			if tt.wantErr {
				if !errors.Is(err, ErrMalformedDisplayID) {
					t.Fatalf("err = %v, want ErrMalformedDisplayID", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseDisplayID(%q): %v", tt.displayID, err)
			}
			if incrementID != tt.wantIncrement || quoteID != tt.wantQuote {
				t.Errorf("got (%q, %q), want (%q, %q)", incrementID, quoteID, tt.wantIncrement, tt.wantQuote)
			}
		})
	}
}

func TestImmutableQuoteID(t *testing.T) {
	tx := Transaction{}
	tx.Order.Cart.DisplayID = "100010289|456"
	if got, err := tx.ImmutableQuoteID(); err != nil || got != "456" {
		t.Errorf("ImmutableQuoteID = (%q, %v), want 456", got, err)
	}

	tx.Order.Cart.DisplayID = "100010289"
	tx.Order.Cart.OrderReference = "q-legacy"
	if got, err := tx.ImmutableQuoteID(); err != nil || got != "q-legacy" {
		t.Errorf("ImmutableQuoteID = (%q, %v), want legacy order reference", got, err)
	}

	tx.Order.Cart.OrderReference = ""
	if _, err := tx.ImmutableQuoteID(); !errors.Is(err, ErrMalformedDisplayID) {
		t.Errorf("err = %v, want ErrMalformedDisplayID", err)
	}
}

func TestConsumerEmail(t *testing.T) {
	tx := Transaction{}
	tx.From.Emails = []string{"  ", "first@example.com", "second@example.com"}
	if got := tx.ConsumerEmail(); got != "first@example.com" {
		t.Errorf("ConsumerEmail = %q, want first non-blank", got)
	}

	tx.From.Emails = nil
	tx.Order.Cart.BillingAddress = &AddressPayload{Email: "billing@example.com"}
	if got := tx.ConsumerEmail(); got != "billing@example.com" {
		t.Errorf("ConsumerEmail = %q, want billing fallback", got)
	}

	tx.Order.Cart.BillingAddress = nil
	if got := tx.ConsumerEmail(); got != "" {
		t.Errorf("ConsumerEmail = %q, want empty", got)
	}
}
