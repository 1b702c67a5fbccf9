package firestore

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pfirestore "github.com/boltlink/api/internal/platform/firestore"
)

const (
	counterCollection = "counters"
	// incrementIDBase keeps generated order numbers in the familiar
	// nine-digit shape, e.g. 100000001.
	incrementIDBase = 100000000
)

type counterDocument struct {
	CurrentValue int64     `firestore:"currentValue"`
	UpdatedAt    time.Time `firestore:"updatedAt"`
}

// CounterRepository hands out order increment ids backed by a transactional
// Firestore counter per store.
type CounterRepository struct {
	provider *pfirestore.Provider
	counters *pfirestore.BaseRepository[counterDocument]
}

// NewCounterRepository constructs a Firestore-backed counter repository.
func NewCounterRepository(provider *pfirestore.Provider) (*CounterRepository, error) {
	if provider == nil {
		return nil, errors.New("counter repository requires firestore provider")
	}
	return &CounterRepository{
		provider: provider,
		counters: pfirestore.NewBaseRepository[counterDocument](provider, counterCollection, nil),
	}, nil
}

// NextIncrementID reserves and returns the next order number for the store.
func (r *CounterRepository) NextIncrementID(ctx context.Context, storeID string) (string, error) {
	if r == nil || r.provider == nil {
		return "", errors.New("counter repository not initialised")
	}
	store := strings.TrimSpace(storeID)
	if store == "" {
		store = "default"
	}

	ref, err := r.counters.DocumentRef(ctx, "order_increment_"+store)
	if err != nil {
		return "", err
	}

	var next int64
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		var doc counterDocument
		snap, err := tx.Get(ref)
		switch {
		case err == nil:
			if err := snap.DataTo(&doc); err != nil {
				return err
			}
		case status.Code(err) == codes.NotFound:
			doc = counterDocument{}
		default:
			return err
		}

		doc.CurrentValue++
		doc.UpdatedAt = time.Now().UTC()
		next = incrementIDBase + doc.CurrentValue
		return tx.Set(ref, doc)
	})
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(next, 10), nil
}
