package inventory

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Catalog applies direct user edits to products, categories and storage
// locations. Every edit advances the entity's UpdatedAt past its previous value.
type Catalog struct {
	store  *Store
	logger *zap.Logger
}

// NewCatalog constructs a Catalog over a Store.
func NewCatalog(store *Store) (*Catalog, error) {
	if store == nil {
		return nil, newServiceError(opCatalogNew, "missing_store", errMissingStore)
	}
	return &Catalog{store: store, logger: store.logger}, nil
}

// ProductInput carries the editable product fields. Quantity is only used on
// creation; afterwards stock changes go through the ledger.
type ProductInput struct {
	Name              string
	Description       string
	Barcode           string
	Quantity          int64
	MinQuantity       int64
	Price             decimal.Decimal
	CategoryID        *int64
	StorageLocationID *int64
}

// LabelInput carries the editable fields of categories and storage locations.
type LabelInput struct {
	Name        string
	Description string
}

func (c *Catalog) CreateProduct(ctx context.Context, input ProductInput) (Product, error) {
	return create(ctx, c, func(id int64) Product {
		return Product{
			ID:                id,
			Name:              strings.TrimSpace(input.Name),
			Description:       strings.TrimSpace(input.Description),
			Barcode:           strings.TrimSpace(input.Barcode),
			Quantity:          input.Quantity,
			MinQuantity:       input.MinQuantity,
			Price:             input.Price,
			CategoryID:        input.CategoryID,
			StorageLocationID: input.StorageLocationID,
		}
	})
}

func (c *Catalog) UpdateProduct(ctx context.Context, id int64, input ProductInput) (Product, error) {
	release := c.store.LockProducts(id)
	defer release()
	return update(ctx, c, opCatalogUpdate, id, func(product Product) Product {
		product.Name = strings.TrimSpace(input.Name)
		product.Description = strings.TrimSpace(input.Description)
		product.Barcode = strings.TrimSpace(input.Barcode)
		product.MinQuantity = input.MinQuantity
		product.Price = input.Price
		product.CategoryID = input.CategoryID
		product.StorageLocationID = input.StorageLocationID
		return product
	})
}

func (c *Catalog) DeleteProduct(ctx context.Context, id int64) error {
	release := c.store.LockProducts(id)
	defer release()
	_, err := update(ctx, c, opCatalogDelete, id, Product.MarkDeleted)
	return err
}

func (c *Catalog) CreateCategory(ctx context.Context, input LabelInput) (Category, error) {
	return create(ctx, c, func(id int64) Category {
		return Category{ID: id, Name: strings.TrimSpace(input.Name), Description: strings.TrimSpace(input.Description)}
	})
}

func (c *Catalog) UpdateCategory(ctx context.Context, id int64, input LabelInput) (Category, error) {
	return update(ctx, c, opCatalogUpdate, id, func(category Category) Category {
		category.Name = strings.TrimSpace(input.Name)
		category.Description = strings.TrimSpace(input.Description)
		return category
	})
}

func (c *Catalog) DeleteCategory(ctx context.Context, id int64) error {
	_, err := update(ctx, c, opCatalogDelete, id, Category.MarkDeleted)
	return err
}

func (c *Catalog) CreateStorageLocation(ctx context.Context, input LabelInput) (StorageLocation, error) {
	return create(ctx, c, func(id int64) StorageLocation {
		return StorageLocation{ID: id, Name: strings.TrimSpace(input.Name), Description: strings.TrimSpace(input.Description)}
	})
}

func (c *Catalog) UpdateStorageLocation(ctx context.Context, id int64, input LabelInput) (StorageLocation, error) {
	return update(ctx, c, opCatalogUpdate, id, func(location StorageLocation) StorageLocation {
		location.Name = strings.TrimSpace(input.Name)
		location.Description = strings.TrimSpace(input.Description)
		return location
	})
}

func (c *Catalog) DeleteStorageLocation(ctx context.Context, id int64) error {
	_, err := update(ctx, c, opCatalogDelete, id, StorageLocation.MarkDeleted)
	return err
}

func create[T Record[T]](ctx context.Context, c *Catalog, build func(id int64) T) (T, error) {
	var created T
	err := c.store.Transaction(ctx, func(tx *Store) error {
		id, err := NextID[T](ctx, tx)
		if err != nil {
			return err
		}
		candidate := build(id).Touch(tx.Now())
		if err := candidate.Validate(); err != nil {
			return err
		}
		if err := Save(ctx, tx, candidate); err != nil {
			return err
		}
		created = candidate
		return nil
	})
	if err != nil {
		c.logFailure(opCatalogCreate, err)
		var zero T
		return zero, err
	}
	c.logger.Debug("catalog entity created",
		zap.String("kind", string(created.Kind())),
		zap.Int64("id", created.EntityID()))
	return created, nil
}

func update[T Record[T]](ctx context.Context, c *Catalog, operation string, id int64, mutate func(T) T) (T, error) {
	var updated T
	err := c.store.Transaction(ctx, func(tx *Store) error {
		current, err := Get[T](ctx, tx, id)
		if err != nil {
			return err
		}
		candidate := mutate(current).Touch(tx.Clock().Advance(timestampOf(current)))
		if err := candidate.Validate(); err != nil {
			return err
		}
		if err := Save(ctx, tx, candidate); err != nil {
			return err
		}
		updated = candidate
		return nil
	})
	if err != nil {
		c.logFailure(operation, err)
		var zero T
		return zero, err
	}
	return updated, nil
}

func timestampOf(entity Entity) Timestamp {
	return Timestamp(entity.Version())
}

func (c *Catalog) logFailure(operation string, err error) {
	if err == nil {
		return
	}
	// Validation and not-found outcomes are caller errors, not service failures.
	if IsCallerError(err) {
		c.logger.Debug("catalog request rejected", zap.String("operation", operation), zap.Error(err))
		return
	}
	c.logger.Error("inventory catalog error",
		zap.String("operation", operation),
		zap.String("reason", "transaction_failed"),
		zap.Error(err))
}

// IsCallerError reports errors caused by the request rather than the service.
func IsCallerError(err error) bool {
	for _, target := range []error{ErrNotFound, ErrInvalidEntity, ErrInvalidQuantity, ErrInvalidMovementType, ErrInsufficientStock} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
