package idempotency

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/boltlink/api/internal/platform/firestore"
)

const keyCollection = "idempotency_keys"

type keyDocument struct {
	ReservedAt time.Time `firestore:"reservedAt"`
	Responded  bool      `firestore:"responded"`
	Status     int       `firestore:"status,omitempty"`
	Body       []byte    `firestore:"body,omitempty"`
}

// FirestoreStore persists idempotency keys across instances.
type FirestoreStore struct {
	base *pfirestore.BaseRepository[keyDocument]
}

// NewFirestoreStore constructs a Firestore-backed store.
func NewFirestoreStore(provider *pfirestore.Provider) (*FirestoreStore, error) {
	if provider == nil {
		return nil, errors.New("idempotency: firestore provider is required")
	}
	return &FirestoreStore{
		base: pfirestore.NewBaseRepository[keyDocument](provider, keyCollection, nil),
	}, nil
}

// Reserve implements Store.
func (s *FirestoreStore) Reserve(ctx context.Context, key string, now time.Time) (Reservation, error) {
	if s == nil || s.base == nil {
		return Reservation{}, errors.New("idempotency: store not initialised")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return Reservation{}, errors.New("idempotency: key is required")
	}

	_, err := s.base.Create(ctx, key, keyDocument{ReservedAt: now.UTC()})
	if err == nil {
		return Reservation{Fresh: true}, nil
	}

	var repoErr *pfirestore.Error
	if !errors.As(err, &repoErr) || !repoErr.IsConflict() {
		return Reservation{}, err
	}

	doc, getErr := s.base.Get(ctx, key)
	if getErr != nil {
		return Reservation{}, getErr
	}
	if !doc.Data.Responded {
		return Reservation{}, ErrKeyInFlight
	}
	return Reservation{
		ReplayStatus: doc.Data.Status,
		ReplayBody:   append([]byte(nil), doc.Data.Body...),
	}, nil
}

// SaveResponse implements Store.
func (s *FirestoreStore) SaveResponse(ctx context.Context, key string, status int, body []byte, now time.Time) error {
	if s == nil || s.base == nil {
		return errors.New("idempotency: store not initialised")
	}
	_, err := s.base.Update(ctx, strings.TrimSpace(key), []firestore.Update{
		{Path: "responded", Value: true},
		{Path: "status", Value: status},
		{Path: "body", Value: body},
		{Path: "reservedAt", Value: now.UTC()},
	})
	return err
}

// Release implements Store.
func (s *FirestoreStore) Release(ctx context.Context, key string) error {
	if s == nil || s.base == nil {
		return errors.New("idempotency: store not initialised")
	}
	return s.base.Delete(ctx, strings.TrimSpace(key))
}

// CleanupExpired implements Store.
func (s *FirestoreStore) CleanupExpired(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	if s == nil || s.base == nil {
		return 0, errors.New("idempotency: store not initialised")
	}
	if limit <= 0 {
		limit = 100
	}
	docs, err := s.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("reservedAt", "<", cutoff.UTC()).Limit(limit)
	})
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, doc := range docs {
		if err := s.base.Delete(ctx, doc.ID); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}
