package auth

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/boltlink/api/internal/platform/httpx"
)

const defaultMaxWebhookBody = 1 << 20

// Webhook verification failures.
var (
	ErrMissingSignature = errors.New("hmac: signature header missing")
	ErrInvalidSignature = errors.New("hmac: signature mismatch")
)

// HMACVerifier validates webhook payload signatures. The platform signs the
// raw request body with SHA-256 HMAC and sends the base64 digest in a header.
type HMACVerifier struct {
	secret      []byte
	header      string
	maxBodySize int64
}

// HMACOption customises the verifier.
type HMACOption func(*HMACVerifier)

// WithMaxBodySize overrides the request body read limit.
func WithMaxBodySize(limit int64) HMACOption {
	return func(v *HMACVerifier) {
		if limit > 0 {
			v.maxBodySize = limit
		}
	}
}

// NewHMACVerifier constructs a verifier for the given shared secret and
// signature header.
func NewHMACVerifier(secret string, header string, opts ...HMACOption) (*HMACVerifier, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("hmac: signing secret is required")
	}
	header = strings.TrimSpace(header)
	if header == "" {
		return nil, errors.New("hmac: signature header name is required")
	}
	verifier := &HMACVerifier{
		secret:      []byte(secret),
		header:      header,
		maxBodySize: defaultMaxWebhookBody,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(verifier)
		}
	}
	return verifier, nil
}

// Verify checks the signature against the payload.
func (v *HMACVerifier) Verify(payload []byte, signature string) error {
	if v == nil {
		return errors.New("hmac: verifier not initialised")
	}
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return ErrMissingSignature
	}

	mac := hmac.New(sha256.New, v.secret)
	mac.Write(payload)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	if subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) != 1 {
		return ErrInvalidSignature
	}
	return nil
}

// Sign computes the signature for a payload, used by tests and outbound calls.
func (v *HMACVerifier) Sign(payload []byte) string {
	if v == nil {
		return ""
	}
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(payload)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Middleware verifies the webhook signature before the handler runs. The
// request body is buffered and restored so handlers can decode it again.
func (v *HMACVerifier) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if next == nil {
			next = http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if v == nil {
				httpx.WriteError(ctx, w, httpx.NewError("webhook_unavailable", "webhook verification unavailable", http.StatusServiceUnavailable))
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, v.maxBodySize+1))
			if err != nil {
				httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "failed to read request body", http.StatusBadRequest))
				return
			}
			_ = r.Body.Close()
			if int64(len(body)) > v.maxBodySize {
				httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body too large", http.StatusRequestEntityTooLarge))
				return
			}

			if err := v.Verify(body, r.Header.Get(v.header)); err != nil {
				httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "webhook signature verification failed", http.StatusUnauthorized))
				return
			}

			r.Body = io.NopCloser(bytes.NewReader(body))
			next.ServeHTTP(w, r)
		})
	}
}
