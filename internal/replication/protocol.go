package replication

import (
	"fmt"

	"github.com/MarcoPoloResearchLab/stockroom/internal/inventory"
	"github.com/shopspring/decimal"
)

// SyncRequest is what a client replica sends to the hub in one round.
type SyncRequest struct {
	SinceMicros     int64             `json:"since_us"`
	ChangedEntities EntityPayloads    `json:"changed_entities"`
	NewMovements    []MovementPayload `json:"new_movements"`
	// IDStride and IDOffset describe the id stripe the client creates
	// entities in. Both are omitted by clients that predate striping.
	IDStride int64 `json:"id_stride,omitempty"`
	IDOffset int64 `json:"id_offset,omitempty"`
}

// SyncResponse is the hub's answer: everything it wrote after the client's watermark.
type SyncResponse struct {
	SyncedAtMicros    int64             `json:"synced_at_us"`
	UpdatedEntities   EntityPayloads    `json:"updated_entities"`
	NewMovements      []MovementPayload `json:"new_movements"`
	ConflictsResolved int               `json:"conflicts_resolved"`
}

// EntityPayloads groups mutable entities by kind.
type EntityPayloads struct {
	Products         []ProductPayload `json:"products" yaml:"products"`
	Categories       []LabelPayload   `json:"categories" yaml:"categories"`
	StorageLocations []LabelPayload   `json:"storage_locations" yaml:"storage_locations"`
}

type ProductPayload struct {
	ID                int64           `json:"id" yaml:"id"`
	Name              string          `json:"name" yaml:"name"`
	Description       string          `json:"description" yaml:"description"`
	Barcode           string          `json:"barcode" yaml:"barcode"`
	Quantity          int64           `json:"quantity" yaml:"quantity"`
	MinQuantity       int64           `json:"min_quantity" yaml:"min_quantity"`
	Price             decimal.Decimal `json:"price" yaml:"price"`
	CategoryID        *int64          `json:"category_id" yaml:"category_id"`
	StorageLocationID *int64          `json:"storage_location_id" yaml:"storage_location_id"`
	IsDeleted         bool            `json:"is_deleted" yaml:"is_deleted"`
	CreatedAtMicros   int64           `json:"created_at_us" yaml:"created_at_us"`
	UpdatedAtMicros   int64           `json:"updated_at_us" yaml:"updated_at_us"`
}

// LabelPayload carries a category or a storage location.
type LabelPayload struct {
	ID              int64  `json:"id" yaml:"id"`
	Name            string `json:"name" yaml:"name"`
	Description     string `json:"description" yaml:"description"`
	IsDeleted       bool   `json:"is_deleted" yaml:"is_deleted"`
	CreatedAtMicros int64  `json:"created_at_us" yaml:"created_at_us"`
	UpdatedAtMicros int64  `json:"updated_at_us" yaml:"updated_at_us"`
}

type MovementPayload struct {
	ID              string `json:"id" yaml:"id"`
	ProductID       int64  `json:"product_id" yaml:"product_id"`
	MovementType    string `json:"movement_type" yaml:"movement_type"`
	Quantity        int64  `json:"quantity" yaml:"quantity"`
	QuantityBefore  int64  `json:"quantity_before" yaml:"quantity_before"`
	QuantityAfter   int64  `json:"quantity_after" yaml:"quantity_after"`
	Note            string `json:"note" yaml:"note"`
	ActorID         string `json:"actor_id" yaml:"actor_id"`
	ActorName       string `json:"actor_name" yaml:"actor_name"`
	CreatedAtMicros int64  `json:"created_at_us" yaml:"created_at_us"`
}

// NewSyncRequest encodes a local changeset for the hub.
func NewSyncRequest(since inventory.Timestamp, changes inventory.Changeset) SyncRequest {
	return SyncRequest{
		SinceMicros:     since.Int64(),
		ChangedEntities: EntityPayloadsOf(changes),
		NewMovements:    MovementPayloadsOf(changes.Movements),
	}
}

// WithIDs records the client's id stripe on the request.
func (r SyncRequest) WithIDs(ids inventory.IDAllocation) SyncRequest {
	r.IDStride = ids.Stride
	r.IDOffset = ids.Offset
	return r
}

// NewSyncResponse encodes the hub's outgoing changeset.
func NewSyncResponse(syncedAt inventory.Timestamp, changes inventory.Changeset, conflicts int) SyncResponse {
	return SyncResponse{
		SyncedAtMicros:    syncedAt.Int64(),
		UpdatedEntities:   EntityPayloadsOf(changes),
		NewMovements:      MovementPayloadsOf(changes.Movements),
		ConflictsResolved: conflicts,
	}
}

// Since returns the client's watermark.
func (r SyncRequest) Since() inventory.Timestamp {
	return inventory.Timestamp(r.SinceMicros)
}

// Changeset decodes the pushed entities and movements.
func (r SyncRequest) Changeset() inventory.Changeset {
	return changesetOf(r.ChangedEntities, r.NewMovements)
}

// Validate rejects structurally broken requests. Entity content is checked
// later, one entity at a time.
func (r SyncRequest) Validate() error {
	if r.SinceMicros < 0 {
		return fmt.Errorf("%w: since must not be negative", ErrMalformedExchange)
	}
	if r.IDStride != 0 {
		stripe := inventory.IDAllocation{Stride: r.IDStride, Offset: r.IDOffset}
		if err := stripe.Validate(); err != nil {
			return fmt.Errorf("%w: %w", ErrMalformedExchange, err)
		}
	}
	return validateShape(r.ChangedEntities, r.NewMovements)
}

func (r SyncResponse) SyncedAt() inventory.Timestamp {
	return inventory.Timestamp(r.SyncedAtMicros)
}

func (r SyncResponse) Changeset() inventory.Changeset {
	return changesetOf(r.UpdatedEntities, r.NewMovements)
}

// Validate rejects responses that cannot be applied as a whole.
func (r SyncResponse) Validate() error {
	if r.SyncedAtMicros <= 0 {
		return fmt.Errorf("%w: synced_at must be positive", ErrMalformedExchange)
	}
	if r.ConflictsResolved < 0 {
		return fmt.Errorf("%w: conflicts_resolved must not be negative", ErrMalformedExchange)
	}
	return validateShape(r.UpdatedEntities, r.NewMovements)
}

func validateShape(entities EntityPayloads, movements []MovementPayload) error {
	seen := make(map[int64]struct{}, len(entities.Products))
	for _, product := range entities.Products {
		if err := checkEntityID(seen, inventory.KindProduct, product.ID); err != nil {
			return err
		}
	}
	for kind, labels := range map[inventory.Kind][]LabelPayload{
		inventory.KindCategory:        entities.Categories,
		inventory.KindStorageLocation: entities.StorageLocations,
	} {
		seen = make(map[int64]struct{}, len(labels))
		for _, label := range labels {
			if err := checkEntityID(seen, kind, label.ID); err != nil {
				return err
			}
		}
	}
	movementIDs := make(map[string]struct{}, len(movements))
	for _, movement := range movements {
		if movement.ID == "" {
			return fmt.Errorf("%w: movement id is required", ErrMalformedExchange)
		}
		if _, ok := movementIDs[movement.ID]; ok {
			return fmt.Errorf("%w: movement %s appears twice", ErrMalformedExchange, movement.ID)
		}
		movementIDs[movement.ID] = struct{}{}
	}
	return nil
}

func checkEntityID(seen map[int64]struct{}, kind inventory.Kind, id int64) error {
	if id <= 0 {
		return fmt.Errorf("%w: %s id must be positive", ErrMalformedExchange, kind)
	}
	if _, ok := seen[id]; ok {
		return fmt.Errorf("%w: %s %d appears twice", ErrMalformedExchange, kind, id)
	}
	seen[id] = struct{}{}
	return nil
}

// EntityPayloadsOf converts stored entities to their wire form.
func EntityPayloadsOf(changes inventory.Changeset) EntityPayloads {
	payloads := EntityPayloads{
		Products:         make([]ProductPayload, 0, len(changes.Products)),
		Categories:       make([]LabelPayload, 0, len(changes.Categories)),
		StorageLocations: make([]LabelPayload, 0, len(changes.StorageLocations)),
	}
	for _, product := range changes.Products {
		payloads.Products = append(payloads.Products, ProductPayloadOf(product))
	}
	for _, category := range changes.Categories {
		payloads.Categories = append(payloads.Categories, CategoryPayloadOf(category))
	}
	for _, location := range changes.StorageLocations {
		payloads.StorageLocations = append(payloads.StorageLocations, StorageLocationPayloadOf(location))
	}
	return payloads
}

func CategoryPayloadOf(category inventory.Category) LabelPayload {
	return LabelPayload{
		ID:              category.ID,
		Name:            category.Name,
		Description:     category.Description,
		IsDeleted:       category.IsDeleted,
		CreatedAtMicros: category.CreatedAtMicros.Int64(),
		UpdatedAtMicros: category.UpdatedAtMicros.Int64(),
	}
}

func StorageLocationPayloadOf(location inventory.StorageLocation) LabelPayload {
	return LabelPayload{
		ID:              location.ID,
		Name:            location.Name,
		Description:     location.Description,
		IsDeleted:       location.IsDeleted,
		CreatedAtMicros: location.CreatedAtMicros.Int64(),
		UpdatedAtMicros: location.UpdatedAtMicros.Int64(),
	}
}

func ProductPayloadOf(product inventory.Product) ProductPayload {
	return ProductPayload{
		ID:                product.ID,
		Name:              product.Name,
		Description:       product.Description,
		Barcode:           product.Barcode,
		Quantity:          product.Quantity,
		MinQuantity:       product.MinQuantity,
		Price:             product.Price,
		CategoryID:        product.CategoryID,
		StorageLocationID: product.StorageLocationID,
		IsDeleted:         product.IsDeleted,
		CreatedAtMicros:   product.CreatedAtMicros.Int64(),
		UpdatedAtMicros:   product.UpdatedAtMicros.Int64(),
	}
}

// MovementPayloadsOf converts ledger entries to their wire form.
func MovementPayloadsOf(movements []inventory.StockMovement) []MovementPayload {
	payloads := make([]MovementPayload, 0, len(movements))
	for _, movement := range movements {
		payloads = append(payloads, MovementPayload{
			ID:              movement.ID,
			ProductID:       movement.ProductID,
			MovementType:    string(movement.MovementType),
			Quantity:        movement.Quantity,
			QuantityBefore:  movement.QuantityBefore,
			QuantityAfter:   movement.QuantityAfter,
			Note:            movement.Note,
			ActorID:         movement.ActorID,
			ActorName:       movement.ActorName,
			CreatedAtMicros: movement.CreatedAtMicros.Int64(),
		})
	}
	return payloads
}

func changesetOf(entities EntityPayloads, movements []MovementPayload) inventory.Changeset {
	changes := inventory.Changeset{
		Products:         make([]inventory.Product, 0, len(entities.Products)),
		Categories:       make([]inventory.Category, 0, len(entities.Categories)),
		StorageLocations: make([]inventory.StorageLocation, 0, len(entities.StorageLocations)),
		Movements:        make([]inventory.StockMovement, 0, len(movements)),
	}
	for _, product := range entities.Products {
		changes.Products = append(changes.Products, inventory.Product{
			ID:                product.ID,
			Name:              product.Name,
			Description:       product.Description,
			Barcode:           product.Barcode,
			Quantity:          product.Quantity,
			MinQuantity:       product.MinQuantity,
			Price:             product.Price,
			CategoryID:        product.CategoryID,
			StorageLocationID: product.StorageLocationID,
			IsDeleted:         product.IsDeleted,
			CreatedAtMicros:   inventory.Timestamp(product.CreatedAtMicros),
			UpdatedAtMicros:   inventory.Timestamp(product.UpdatedAtMicros),
		})
	}
	for _, category := range entities.Categories {
		changes.Categories = append(changes.Categories, inventory.Category{
			ID:              category.ID,
			Name:            category.Name,
			Description:     category.Description,
			IsDeleted:       category.IsDeleted,
			CreatedAtMicros: inventory.Timestamp(category.CreatedAtMicros),
			UpdatedAtMicros: inventory.Timestamp(category.UpdatedAtMicros),
		})
	}
	for _, location := range entities.StorageLocations {
		changes.StorageLocations = append(changes.StorageLocations, inventory.StorageLocation{
			ID:              location.ID,
			Name:            location.Name,
			Description:     location.Description,
			IsDeleted:       location.IsDeleted,
			CreatedAtMicros: inventory.Timestamp(location.CreatedAtMicros),
			UpdatedAtMicros: inventory.Timestamp(location.UpdatedAtMicros),
		})
	}
	for _, movement := range movements {
		changes.Movements = append(changes.Movements, inventory.StockMovement{
			ID:              movement.ID,
			ProductID:       movement.ProductID,
			MovementType:    inventory.MovementType(movement.MovementType),
			Quantity:        movement.Quantity,
			QuantityBefore:  movement.QuantityBefore,
			QuantityAfter:   movement.QuantityAfter,
			Note:            movement.Note,
			ActorID:         movement.ActorID,
			ActorName:       movement.ActorName,
			CreatedAtMicros: inventory.Timestamp(movement.CreatedAtMicros),
		})
	}
	return changes
}
