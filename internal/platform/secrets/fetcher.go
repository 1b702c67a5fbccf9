package secrets

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
)

// Fetcher resolves secret references against Google Secret Manager and caches
// resolved values for the process lifetime.
type Fetcher struct {
	projectID string
	client    *secretmanager.Client

	mu    sync.Mutex
	cache map[string]string
}

// NewFetcher constructs a Fetcher bound to a project.
func NewFetcher(ctx context.Context, projectID string) (*Fetcher, error) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return nil, errors.New("secrets: project id is required")
	}
	client, err := secretmanager.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("secrets: create client: %w", err)
	}
	return &Fetcher{
		projectID: projectID,
		client:    client,
		cache:     make(map[string]string),
	}, nil
}

// ResolveSecret implements config.SecretResolver. The ref is either a bare
// secret name (latest version) or "name/versions/N".
func (f *Fetcher) ResolveSecret(ctx context.Context, ref string) (string, error) {
	if f == nil || f.client == nil {
		return "", errors.New("secrets: fetcher not initialised")
	}
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", errors.New("secrets: secret reference is required")
	}

	f.mu.Lock()
	if value, ok := f.cache[ref]; ok {
		f.mu.Unlock()
		return value, nil
	}
	f.mu.Unlock()

	name := ref
	if !strings.Contains(name, "/versions/") {
		name = name + "/versions/latest"
	}
	resourceName := fmt.Sprintf("projects/%s/secrets/%s", f.projectID, name)

	resp, err := f.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: resourceName})
	if err != nil {
		return "", fmt.Errorf("secrets: access %s: %w", ref, err)
	}
	value := string(resp.GetPayload().GetData())

	f.mu.Lock()
	f.cache[ref] = value
	f.mu.Unlock()
	return value, nil
}

// Close releases the underlying client.
func (f *Fetcher) Close() error {
	if f == nil || f.client == nil {
		return nil
	}
	return f.client.Close()
}
