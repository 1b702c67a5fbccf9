package auth

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newVerifier(t *testing.T, opts ...HMACOption) *HMACVerifier {
	t.Helper()
	verifier, err := NewHMACVerifier("shared-secret", "X-Signature", opts...)
	if err != nil {
		t.Fatalf("NewHMACVerifier: %v", err)
	}
	return verifier
}

func TestNewHMACVerifierValidation(t *testing.T) {
	if _, err := NewHMACVerifier("  ", "X-Signature"); err == nil {
		t.Error("blank secret must be rejected")
	}
	if _, err := NewHMACVerifier("shared-secret", ""); err == nil {
		t.Error("blank header name must be rejected")
	}
}

func TestSignVerifyRoundTrip(t *testing.T) {
	verifier := newVerifier(t)
	payload := []byte(`{"type":"pending","reference":"BLT-1"}`)

	if err := verifier.Verify(payload, verifier.Sign(payload)); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	verifier := newVerifier(t)
	signature := verifier.Sign([]byte(`{"amount":100}`))

	err := verifier.Verify([]byte(`{"amount":999}`), signature)
	if !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("err = %v, want ErrInvalidSignature", err)
	}
}

func TestVerifyRequiresSignature(t *testing.T) {
	verifier := newVerifier(t)

	err := verifier.Verify([]byte(`{}`), "  ")
	if !errors.Is(err, ErrMissingSignature) {
		t.Fatalf("err = %v, want ErrMissingSignature", err)
	}
}

func TestMiddlewarePassesSignedRequestAndRestoresBody(t *testing.T) {
	verifier := newVerifier(t)
	payload := []byte(`{"type":"payment"}`)

	var seen []byte
	handler := verifier.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(string(payload)))
	req.Header.Set("X-Signature", verifier.Sign(payload))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if string(seen) != string(payload) {
		t.Errorf("handler body = %q, want original payload restored", seen)
	}
}

func TestMiddlewareRejectsBadSignature(t *testing.T) {
	verifier := newVerifier(t)

	handler := verifier.Middleware()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Error("handler must not run on signature failure")
	}))

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(`{}`))
	req.Header.Set("X-Signature", "not-a-signature")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestMiddlewareLimitsBodySize(t *testing.T) {
	verifier := newVerifier(t, WithMaxBodySize(16))
	payload := strings.Repeat("a", 64)

	handler := verifier.Middleware()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Error("handler must not run on oversized body")
	}))

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(payload))
	req.Header.Set("X-Signature", verifier.Sign([]byte(payload)))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", rec.Code)
	}
}
