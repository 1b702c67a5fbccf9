package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"

	domain "github.com/boltlink/api/internal/domain"
	pfirestore "github.com/boltlink/api/internal/platform/firestore"
)

const productCollection = "products"

type productDocument struct {
	SKU           string `firestore:"sku"`
	Name          string `firestore:"name"`
	ManageStock   bool   `firestore:"manageStock"`
	InStock       bool   `firestore:"inStock"`
	StockQuantity int64  `firestore:"stockQuantity"`
}

// ProductRepository exposes the catalog slice needed for stock validation.
type ProductRepository struct {
	base *pfirestore.BaseRepository[productDocument]
}

// NewProductRepository constructs a Firestore-backed product repository.
func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	return &ProductRepository{
		base: pfirestore.NewBaseRepository[productDocument](provider, productCollection, nil),
	}, nil
}

// FindByID fetches a product by its document id.
func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	if r == nil || r.base == nil {
		return domain.Product{}, errors.New("product repository not initialised")
	}
	doc, err := r.base.Get(ctx, strings.TrimSpace(productID))
	if err != nil {
		return domain.Product{}, err
	}
	return productFromDocument(doc.ID, doc.Data), nil
}

// FindBySKU fetches a product by SKU.
func (r *ProductRepository) FindBySKU(ctx context.Context, sku string) (domain.Product, error) {
	if r == nil || r.base == nil {
		return domain.Product{}, errors.New("product repository not initialised")
	}
	sku = strings.TrimSpace(sku)
	if sku == "" {
		return domain.Product{}, pfirestore.NotFoundError("products.query", errors.New("sku is required"))
	}
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("sku", "==", sku).Limit(1)
	})
	if err != nil {
		return domain.Product{}, err
	}
	if len(docs) == 0 {
		return domain.Product{}, pfirestore.NotFoundError("products.query", fmt.Errorf("no product with sku %q", sku))
	}
	return productFromDocument(docs[0].ID, docs[0].Data), nil
}

func productFromDocument(id string, doc productDocument) domain.Product {
	return domain.Product{
		ID:            id,
		SKU:           doc.SKU,
		Name:          doc.Name,
		ManageStock:   doc.ManageStock,
		InStock:       doc.InStock,
		StockQuantity: doc.StockQuantity,
	}
}
