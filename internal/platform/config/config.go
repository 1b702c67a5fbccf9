package config

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	defaultEnvFile             = ".env"
	defaultPort                = "8080"
	defaultReadTimeout         = 15 * time.Second
	defaultWriteTimeout        = 30 * time.Second
	defaultIdleTimeout         = 120 * time.Second
	defaultBoltAPIBaseURL      = "https://api.bolt.com/v1"
	defaultBoltTimeout         = 20 * time.Second
	defaultToleranceCents      = 1
	defaultCartCacheTTL        = time.Hour
	defaultPreAuthExpiry       = 15 * time.Minute
	defaultOrphanQuoteTTL      = 14 * 24 * time.Hour
	defaultCleanupInterval     = time.Hour
	defaultCleanupBatchSize    = 200
	defaultHMACHeader          = "X-Bolt-Hmac-Sha256"
	defaultIdempotencyTTL      = 24 * time.Hour
	defaultOrderEventsTopic    = "order-events"
	defaultPriceFaultTolerant  = false
	defaultRetainCanceledOrder = true
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server         ServerConfig
	Firestore      FirestoreConfig
	Bolt           BoltConfig
	Reconciliation ReconciliationConfig
	PreAuth        PreAuthConfig
	Events         EventsConfig
	Idempotency    IdempotencyConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// BoltConfig collects the payment platform credentials and endpoints.
type BoltConfig struct {
	APIBaseURL string
	APIKey     string
	// SigningSecret verifies inbound webhook HMAC signatures.
	SigningSecret string
	// HMACHeader is the header carrying the webhook signature.
	HMACHeader string
	Timeout    time.Duration
}

// ReconciliationConfig tunes totals reconciliation and the cart cache.
type ReconciliationConfig struct {
	// ToleranceCents is the per-total mismatch allowance: differences up to and
	// including this many minor units log a warning, larger ones fail.
	ToleranceCents int64
	CartCacheTTL   time.Duration
	// PriceFaultTolerant accepts within-tolerance grand total differences
	// during order confirmation by adjusting local totals.
	PriceFaultTolerant bool
}

// PreAuthConfig tunes pre-auth order lifecycle and scheduled cleanup.
type PreAuthConfig struct {
	// ExpiryAge is how long a pre-auth pending order may wait before being
	// considered abandoned by the cleanup sweep.
	ExpiryAge time.Duration
	// OrphanQuoteTTL is how long immutable quotes without an order survive.
	OrphanQuoteTTL time.Duration
	// RetainCanceledOrders keeps rejected pre-auth orders in a canceled
	// state instead of deleting them.
	RetainCanceledOrders bool
	CleanupInterval      time.Duration
	CleanupBatchSize     int
}

// EventsConfig configures Pub/Sub order event publishing.
type EventsConfig struct {
	ProjectID        string
	OrderEventsTopic string
}

// IdempotencyConfig tunes webhook replay protection.
type IdempotencyConfig struct {
	TTL time.Duration
}

// SecretResolver resolves `secret://` references to secret values.
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts a function to the SecretResolver interface.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret implements SecretResolver.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError reports configuration fields that failed validation.
type ValidationError struct {
	fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: %s", strings.Join(e.fields, ", "))
}

// Fields lists the offending configuration fields.
func (e *ValidationError) Fields() []string {
	return append([]string(nil), e.fields...)
}

// SecretError wraps failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

func (e *SecretError) Error() string {
	return fmt.Sprintf("config: resolve secret %q: %v", e.Ref, e.Err)
}

func (e *SecretError) Unwrap() error { return e.Err }

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises the loader behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
	secret       SecretResolver
}

// WithEnvFile overrides the .env file path.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) { o.envFile = path }
}

// WithEnvMap supplies explicit values taking precedence over the environment.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) { o.envMap = values }
}

// WithoutSystemEnv disables reading the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) { o.useSystemEnv = false }
}

// WithSecretResolver wires the resolver used for secret:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		if resolver != nil {
			o.secret = resolver
		}
	}
}

// Load builds the Config from defaults, .env file, process environment and
// explicit overrides, resolving secret references along the way.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
		secret: SecretResolverFunc(func(ctx context.Context, ref string) (string, error) {
			return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
		}),
	}
	for _, opt := range opts {
		opt(&options)
	}

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}

	lookup := func(key string) (string, bool) {
		if options.envMap != nil {
			if value, ok := options.envMap[key]; ok {
				return value, true
			}
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		if dotEnvValues != nil {
			if value, ok := dotEnvValues[key]; ok {
				return value, true
			}
		}
		return "", false
	}

	cfg := Config{
		Server: ServerConfig{
			Port:         stringWithDefault(lookup, "API_SERVER_PORT", defaultPort),
			ReadTimeout:  durationWithDefault(lookup, "API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: durationWithDefault(lookup, "API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  durationWithDefault(lookup, "API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Firestore: FirestoreConfig{
			ProjectID:    stringWithDefault(lookup, "API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: stringWithDefault(lookup, "API_FIRESTORE_EMULATOR_HOST", ""),
		},
		Bolt: BoltConfig{
			APIBaseURL:    stringWithDefault(lookup, "API_BOLT_BASE_URL", defaultBoltAPIBaseURL),
			APIKey:        stringWithDefault(lookup, "API_BOLT_API_KEY", ""),
			SigningSecret: stringWithDefault(lookup, "API_BOLT_SIGNING_SECRET", ""),
			HMACHeader:    stringWithDefault(lookup, "API_BOLT_HMAC_HEADER", defaultHMACHeader),
			Timeout:       durationWithDefault(lookup, "API_BOLT_TIMEOUT", defaultBoltTimeout),
		},
		Reconciliation: ReconciliationConfig{
			ToleranceCents:     int64(intWithDefault(lookup, "API_RECONCILE_TOLERANCE_CENTS", defaultToleranceCents)),
			CartCacheTTL:       durationWithDefault(lookup, "API_CART_CACHE_TTL", defaultCartCacheTTL),
			PriceFaultTolerant: boolWithDefault(lookup, "API_RECONCILE_PRICE_FAULT_TOLERANT", defaultPriceFaultTolerant),
		},
		PreAuth: PreAuthConfig{
			ExpiryAge:            durationWithDefault(lookup, "API_PREAUTH_EXPIRY_AGE", defaultPreAuthExpiry),
			OrphanQuoteTTL:       durationWithDefault(lookup, "API_PREAUTH_ORPHAN_QUOTE_TTL", defaultOrphanQuoteTTL),
			RetainCanceledOrders: boolWithDefault(lookup, "API_PREAUTH_RETAIN_CANCELED", defaultRetainCanceledOrder),
			CleanupInterval:      durationWithDefault(lookup, "API_PREAUTH_CLEANUP_INTERVAL", defaultCleanupInterval),
			CleanupBatchSize:     intWithDefault(lookup, "API_PREAUTH_CLEANUP_BATCH", defaultCleanupBatchSize),
		},
		Events: EventsConfig{
			ProjectID:        stringWithDefault(lookup, "API_PUBSUB_PROJECT_ID", ""),
			OrderEventsTopic: stringWithDefault(lookup, "API_PUBSUB_ORDER_EVENTS_TOPIC", defaultOrderEventsTopic),
		},
		Idempotency: IdempotencyConfig{
			TTL: durationWithDefault(lookup, "API_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
		},
	}

	if cfg.Events.ProjectID == "" {
		cfg.Events.ProjectID = cfg.Firestore.ProjectID
	}

	secretFields := []*string{
		&cfg.Bolt.APIKey,
		&cfg.Bolt.SigningSecret,
	}
	for _, field := range secretFields {
		resolved, err := resolveSecret(ctx, *field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*field = resolved
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if value == "" || !isSecretReference(value) {
		return value, nil
	}
	normalized := strings.TrimPrefix(strings.TrimSpace(value), "secret://")
	if resolver == nil {
		return "", &SecretError{Ref: normalized, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, normalized)
	if err != nil {
		return "", &SecretError{Ref: normalized, Err: err}
	}
	return secret, nil
}

func isSecretReference(value string) bool {
	return strings.HasPrefix(strings.TrimSpace(value), "secret://")
}

func validateConfig(cfg Config) error {
	var fields []string
	if strings.TrimSpace(cfg.Server.Port) == "" {
		fields = append(fields, "Server.Port")
	}
	if cfg.Reconciliation.ToleranceCents < 0 {
		fields = append(fields, "Reconciliation.ToleranceCents")
	}
	if cfg.Reconciliation.CartCacheTTL <= 0 {
		fields = append(fields, "Reconciliation.CartCacheTTL")
	}
	if cfg.PreAuth.ExpiryAge <= 0 {
		fields = append(fields, "PreAuth.ExpiryAge")
	}
	if cfg.PreAuth.OrphanQuoteTTL <= 0 {
		fields = append(fields, "PreAuth.OrphanQuoteTTL")
	}
	if cfg.PreAuth.CleanupBatchSize <= 0 {
		fields = append(fields, "PreAuth.CleanupBatchSize")
	}
	if len(fields) == 0 {
		return nil
	}
	sort.Strings(fields)
	return &ValidationError{fields: fields}
}

func loadDotEnv(path string) (map[string]string, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("config: open env file %s: %w", path, err)
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		value = strings.Trim(value, `"'`)
		if key != "" {
			values[key] = value
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: read env file %s: %w", path, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok {
		if parsed, err := time.ParseDuration(strings.TrimSpace(value)); err == nil && parsed > 0 {
			return parsed
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok {
		if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return parsed
		}
	}
	return fallback
}

func boolWithDefault(lookup func(string) (string, bool), key string, fallback bool) bool {
	if value, ok := lookup(key); ok {
		if parsed, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return parsed
		}
	}
	return fallback
}
