package inventory

import (
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/stockroom/internal/reconcile"
	"github.com/shopspring/decimal"
)

// Kind names a mutable entity type.
type Kind string

const (
	KindProduct         Kind = "product"
	KindCategory        Kind = "category"
	KindStorageLocation Kind = "storage_location"
)

const (
	fingerprintDomainProduct  = "stockroom/product/v1"
	fingerprintDomainCategory = "stockroom/category/v1"
	fingerprintDomainLocation = "stockroom/storage_location/v1"
)

// Entity is the behaviour shared by products, categories and storage locations.
type Entity interface {
	reconcile.Versioned
	Kind() Kind
	EntityID() int64
	Validate() error
}

// Record is an Entity whose value methods return modified copies.
type Record[T any] interface {
	Entity
	// WithRecordedAt sets the instant the row was written on this replica.
	WithRecordedAt(Timestamp) T
	// Touch marks a direct mutation at the given instant.
	Touch(Timestamp) T
	// MarkDeleted soft-deletes the entity.
	MarkDeleted() T
}

// Product is a stocked article. Quantity only changes through the ledger or a merge.
type Product struct {
	ID                int64           `gorm:"column:id;primaryKey;autoIncrement:false"`
	Name              string          `gorm:"column:name;size:200;not null"`
	Description       string          `gorm:"column:description;size:1000"`
	Barcode           string          `gorm:"column:barcode;size:64;index:idx_products_barcode"`
	Quantity          int64           `gorm:"column:quantity;not null"`
	MinQuantity       int64           `gorm:"column:min_quantity;not null"`
	Price             decimal.Decimal `gorm:"column:price;type:numeric(18,4);not null"`
	CategoryID        *int64          `gorm:"column:category_id;index:idx_products_category"`
	StorageLocationID *int64          `gorm:"column:storage_location_id;index:idx_products_location"`
	IsDeleted         bool            `gorm:"column:is_deleted;not null"`
	CreatedAtMicros   Timestamp       `gorm:"column:created_at_us;not null"`
	UpdatedAtMicros   Timestamp       `gorm:"column:updated_at_us;not null"`
	RecordedAtMicros  Timestamp       `gorm:"column:recorded_at_us;not null;index:idx_products_recorded"`
}

func (Product) TableName() string {
	return "products"
}

func (Product) Kind() Kind {
	return KindProduct
}

func (p Product) EntityID() int64 {
	return p.ID
}

func (p Product) Version() int64 {
	return p.UpdatedAtMicros.Int64()
}

func (p Product) WithRecordedAt(at Timestamp) Product {
	p.RecordedAtMicros = at
	return p
}

func (p Product) Touch(at Timestamp) Product {
	if p.CreatedAtMicros == 0 {
		p.CreatedAtMicros = at
	}
	p.UpdatedAtMicros = at
	p.RecordedAtMicros = at
	return p
}

func (p Product) MarkDeleted() Product {
	p.IsDeleted = true
	return p
}

// IsLowStock reports whether the quantity fell below the configured minimum.
func (p Product) IsLowStock() bool {
	return !p.IsDeleted && p.Quantity < p.MinQuantity
}

type productContent struct {
	ID                int64  `json:"id"`
	Name              string `json:"name"`
	Description       string `json:"description"`
	Barcode           string `json:"barcode"`
	Quantity          int64  `json:"quantity"`
	MinQuantity       int64  `json:"min_quantity"`
	Price             string `json:"price"`
	CategoryID        *int64 `json:"category_id"`
	StorageLocationID *int64 `json:"storage_location_id"`
	IsDeleted         bool   `json:"is_deleted"`
}

func (p Product) Fingerprint() (string, error) {
	return reconcile.Fingerprint(fingerprintDomainProduct, productContent{
		ID:                p.ID,
		Name:              p.Name,
		Description:       p.Description,
		Barcode:           p.Barcode,
		Quantity:          p.Quantity,
		MinQuantity:       p.MinQuantity,
		Price:             p.Price.String(),
		CategoryID:        p.CategoryID,
		StorageLocationID: p.StorageLocationID,
		IsDeleted:         p.IsDeleted,
	})
}

func (p Product) Validate() error {
	if p.ID <= 0 {
		return fmt.Errorf("%w: product id must be positive", ErrInvalidEntity)
	}
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%w: product %d name is required", ErrInvalidEntity, p.ID)
	}
	if p.Quantity < 0 {
		return fmt.Errorf("%w: product %d quantity is negative", ErrInvalidEntity, p.ID)
	}
	if p.MinQuantity < 0 {
		return fmt.Errorf("%w: product %d minimum quantity is negative", ErrInvalidEntity, p.ID)
	}
	if p.Price.IsNegative() {
		return fmt.Errorf("%w: product %d price is negative", ErrInvalidEntity, p.ID)
	}
	if p.UpdatedAtMicros < p.CreatedAtMicros {
		return fmt.Errorf("%w: product %d updated before it was created", ErrInvalidEntity, p.ID)
	}
	return nil
}

// Category groups products.
type Category struct {
	ID               int64     `gorm:"column:id;primaryKey;autoIncrement:false"`
	Name             string    `gorm:"column:name;size:200;not null"`
	Description      string    `gorm:"column:description;size:1000"`
	IsDeleted        bool      `gorm:"column:is_deleted;not null"`
	CreatedAtMicros  Timestamp `gorm:"column:created_at_us;not null"`
	UpdatedAtMicros  Timestamp `gorm:"column:updated_at_us;not null"`
	RecordedAtMicros Timestamp `gorm:"column:recorded_at_us;not null;index:idx_categories_recorded"`
}

func (Category) TableName() string {
	return "categories"
}

func (Category) Kind() Kind {
	return KindCategory
}

func (c Category) EntityID() int64 {
	return c.ID
}

func (c Category) Version() int64 {
	return c.UpdatedAtMicros.Int64()
}

func (c Category) WithRecordedAt(at Timestamp) Category {
	c.RecordedAtMicros = at
	return c
}

func (c Category) Touch(at Timestamp) Category {
	if c.CreatedAtMicros == 0 {
		c.CreatedAtMicros = at
	}
	c.UpdatedAtMicros = at
	c.RecordedAtMicros = at
	return c
}

func (c Category) MarkDeleted() Category {
	c.IsDeleted = true
	return c
}

func (c Category) Fingerprint() (string, error) {
	return reconcile.Fingerprint(fingerprintDomainCategory, labelContent{
		ID:          c.ID,
		Name:        c.Name,
		Description: c.Description,
		IsDeleted:   c.IsDeleted,
	})
}

func (c Category) Validate() error {
	return validateLabel(KindCategory, c.ID, c.Name, c.CreatedAtMicros, c.UpdatedAtMicros)
}

// StorageLocation is a place where products are kept.
type StorageLocation struct {
	ID               int64     `gorm:"column:id;primaryKey;autoIncrement:false"`
	Name             string    `gorm:"column:name;size:200;not null"`
	Description      string    `gorm:"column:description;size:1000"`
	IsDeleted        bool      `gorm:"column:is_deleted;not null"`
	CreatedAtMicros  Timestamp `gorm:"column:created_at_us;not null"`
	UpdatedAtMicros  Timestamp `gorm:"column:updated_at_us;not null"`
	RecordedAtMicros Timestamp `gorm:"column:recorded_at_us;not null;index:idx_storage_locations_recorded"`
}

func (StorageLocation) TableName() string {
	return "storage_locations"
}

func (StorageLocation) Kind() Kind {
	return KindStorageLocation
}

func (l StorageLocation) EntityID() int64 {
	return l.ID
}

func (l StorageLocation) Version() int64 {
	return l.UpdatedAtMicros.Int64()
}

func (l StorageLocation) WithRecordedAt(at Timestamp) StorageLocation {
	l.RecordedAtMicros = at
	return l
}

func (l StorageLocation) Touch(at Timestamp) StorageLocation {
	if l.CreatedAtMicros == 0 {
		l.CreatedAtMicros = at
	}
	l.UpdatedAtMicros = at
	l.RecordedAtMicros = at
	return l
}

func (l StorageLocation) MarkDeleted() StorageLocation {
	l.IsDeleted = true
	return l
}

func (l StorageLocation) Fingerprint() (string, error) {
	return reconcile.Fingerprint(fingerprintDomainLocation, labelContent{
		ID:          l.ID,
		Name:        l.Name,
		Description: l.Description,
		IsDeleted:   l.IsDeleted,
	})
}

func (l StorageLocation) Validate() error {
	return validateLabel(KindStorageLocation, l.ID, l.Name, l.CreatedAtMicros, l.UpdatedAtMicros)
}

type labelContent struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	IsDeleted   bool   `json:"is_deleted"`
}

func validateLabel(kind Kind, id int64, name string, createdAt, updatedAt Timestamp) error {
	if id <= 0 {
		return fmt.Errorf("%w: %s id must be positive", ErrInvalidEntity, kind)
	}
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: %s %d name is required", ErrInvalidEntity, kind, id)
	}
	if updatedAt < createdAt {
		return fmt.Errorf("%w: %s %d updated before it was created", ErrInvalidEntity, kind, id)
	}
	return nil
}

// MovementType is the closed set of ledger entry kinds.
type MovementType string

const (
	MovementInbound    MovementType = "inbound"
	MovementOutbound   MovementType = "outbound"
	MovementCorrection MovementType = "correction"
)

// ParseMovementType accepts the canonical tags case-insensitively.
func ParseMovementType(value string) (MovementType, error) {
	switch MovementType(strings.ToLower(strings.TrimSpace(value))) {
	case MovementInbound:
		return MovementInbound, nil
	case MovementOutbound:
		return MovementOutbound, nil
	case MovementCorrection:
		return MovementCorrection, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidMovementType, value)
	}
}

// StockMovement is an immutable ledger entry. Quantity is the signed delta
// applied to the product.
type StockMovement struct {
	ID               string       `gorm:"column:id;primaryKey;size:64"`
	ProductID        int64        `gorm:"column:product_id;not null;index:idx_stock_movements_product"`
	MovementType     MovementType `gorm:"column:movement_type;size:16;not null"`
	Quantity         int64        `gorm:"column:quantity;not null"`
	QuantityBefore   int64        `gorm:"column:quantity_before;not null"`
	QuantityAfter    int64        `gorm:"column:quantity_after;not null"`
	Note             string       `gorm:"column:note;size:1000"`
	ActorID          string       `gorm:"column:actor_id;size:190"`
	ActorName        string       `gorm:"column:actor_name;size:320"`
	CreatedAtMicros  Timestamp    `gorm:"column:created_at_us;not null"`
	RecordedAtMicros Timestamp    `gorm:"column:recorded_at_us;not null;index:idx_stock_movements_recorded"`
}

func (StockMovement) TableName() string {
	return "stock_movements"
}

// Validate checks the movement's internal arithmetic.
func (m StockMovement) Validate() error {
	if strings.TrimSpace(m.ID) == "" {
		return fmt.Errorf("%w: movement id is required", ErrInvalidEntity)
	}
	if m.ProductID <= 0 {
		return fmt.Errorf("%w: movement %s product id must be positive", ErrInvalidEntity, m.ID)
	}
	if _, err := ParseMovementType(string(m.MovementType)); err != nil {
		return fmt.Errorf("%w: movement %s: %v", ErrInvalidEntity, m.ID, err)
	}
	if m.QuantityBefore < 0 || m.QuantityAfter < 0 {
		return fmt.Errorf("%w: movement %s has a negative quantity", ErrInvalidEntity, m.ID)
	}
	if m.QuantityAfter-m.QuantityBefore != m.Quantity {
		return fmt.Errorf("%w: movement %s delta does not match before/after", ErrInvalidEntity, m.ID)
	}
	return nil
}

// Actor is the authenticated principal recorded on movements.
type Actor struct {
	ID   string
	Name string
}

// Changeset groups every row written after a watermark.
type Changeset struct {
	Products         []Product
	Categories       []Category
	StorageLocations []StorageLocation
	Movements        []StockMovement
}

// Len counts entities and movements together.
func (c Changeset) Len() int {
	return len(c.Products) + len(c.Categories) + len(c.StorageLocations) + len(c.Movements)
}

// ProductIDs returns every product referenced by the changeset, without duplicates.
func (c Changeset) ProductIDs() []int64 {
	seen := make(map[int64]struct{}, len(c.Products)+len(c.Movements))
	ids := make([]int64, 0, len(c.Products)+len(c.Movements))
	add := func(id int64) {
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	for _, product := range c.Products {
		add(product.ID)
	}
	for _, movement := range c.Movements {
		add(movement.ProductID)
	}
	return ids
}
