package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm/clause"
)

var errMissingIDProvider = errors.New("id provider is required")

// IDProvider issues globally unique movement identifiers.
type IDProvider interface {
	NewID() (string, error)
}

// LedgerConfig describes the dependencies of a Ledger.
type LedgerConfig struct {
	Store      *Store
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Ledger records stock movements and keeps product quantities consistent with them.
type Ledger struct {
	store      *Store
	idProvider IDProvider
	logger     *zap.Logger
}

// NewLedger constructs a Ledger over a Store.
func NewLedger(cfg LedgerConfig) (*Ledger, error) {
	if cfg.Store == nil {
		return nil, newServiceError(opLedgerNew, "missing_store", errMissingStore)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opLedgerNew, "missing_id_provider", errMissingIDProvider)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = cfg.Store.logger
	}
	return &Ledger{store: cfg.Store, idProvider: cfg.IDProvider, logger: logger}, nil
}

// ApplyRequest is a stock change requested by an authenticated actor.
type ApplyRequest struct {
	ProductID int64
	Type      MovementType
	// Quantity is the amount moved for inbound and outbound, and the absolute
	// target for a correction.
	Quantity int64
	Note     string
	Actor    Actor
}

// Apply records a new movement and updates the product's quantity atomically.
// It returns ErrNotFound for a missing or deleted product, ErrInsufficientStock
// when an outbound would go negative, and ErrInvalidQuantity for out-of-range amounts.
func (l *Ledger) Apply(ctx context.Context, request ApplyRequest) (StockMovement, error) {
	movementType, err := ParseMovementType(string(request.Type))
	if err != nil {
		return StockMovement{}, err
	}
	if err := validateRequestedQuantity(movementType, request.Quantity); err != nil {
		return StockMovement{}, err
	}
	movementID, err := l.idProvider.NewID()
	if err != nil {
		l.logError(opLedgerApply, "id_generation_failed", err)
		return StockMovement{}, newServiceError(opLedgerApply, "id_generation_failed", err)
	}

	release := l.store.LockProducts(request.ProductID)
	defer release()

	var movement StockMovement
	err = l.store.Transaction(ctx, func(tx *Store) error {
		product, err := Get[Product](ctx, tx, request.ProductID)
		if err != nil {
			return err
		}

		before := product.Quantity
		after, err := nextQuantity(movementType, before, request.Quantity)
		if err != nil {
			return err
		}

		product.Quantity = after
		product.UpdatedAtMicros = tx.Clock().Advance(product.UpdatedAtMicros)
		product.RecordedAtMicros = product.UpdatedAtMicros
		if err := Save(ctx, tx, product); err != nil {
			return err
		}

		movement = StockMovement{
			ID:               movementID,
			ProductID:        product.ID,
			MovementType:     movementType,
			Quantity:         after - before,
			QuantityBefore:   before,
			QuantityAfter:    after,
			Note:             strings.TrimSpace(request.Note),
			ActorID:          request.Actor.ID,
			ActorName:        request.Actor.Name,
			CreatedAtMicros:  product.UpdatedAtMicros,
			RecordedAtMicros: product.UpdatedAtMicros,
		}
		if err := tx.db.WithContext(ctx).Create(&movement).Error; err != nil {
			l.logError(opLedgerApply, "movement_insert_failed", err,
				zap.Int64("product_id", product.ID),
				zap.String("movement_id", movementID))
			return storageError(opLedgerApply, "movement_insert_failed", err)
		}
		return nil
	})
	if err != nil {
		return StockMovement{}, err
	}

	l.logger.Debug("stock movement applied",
		zap.String("movement_id", movement.ID),
		zap.Int64("product_id", movement.ProductID),
		zap.String("type", string(movement.MovementType)),
		zap.Int64("delta", movement.Quantity),
		zap.Int64("quantity_after", movement.QuantityAfter))
	return movement, nil
}

func validateRequestedQuantity(movementType MovementType, quantity int64) error {
	switch movementType {
	case MovementInbound, MovementOutbound:
		if quantity <= 0 {
			return fmt.Errorf("%w: %s quantity must be positive", ErrInvalidQuantity, movementType)
		}
	case MovementCorrection:
		if quantity < 0 {
			return fmt.Errorf("%w: correction target must not be negative", ErrInvalidQuantity)
		}
	}
	return nil
}

func nextQuantity(movementType MovementType, before, quantity int64) (int64, error) {
	switch movementType {
	case MovementInbound:
		return before + quantity, nil
	case MovementOutbound:
		if before < quantity {
			return 0, fmt.Errorf("%w: requested %d, available %d", ErrInsufficientStock, quantity, before)
		}
		return before - quantity, nil
	case MovementCorrection:
		return quantity, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidMovementType, movementType)
	}
}

// ReplayResult tells whether a replayed movement was new.
type ReplayResult int

const (
	ReplayApplied ReplayResult = iota + 1
	ReplayDuplicate
)

func (r ReplayResult) String() string {
	switch r {
	case ReplayApplied:
		return "applied"
	case ReplayDuplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}

// Replay inserts a movement received from another replica in its own transaction.
func (l *Ledger) Replay(ctx context.Context, movement StockMovement) (ReplayResult, error) {
	release := l.store.LockProducts(movement.ProductID)
	defer release()

	var result ReplayResult
	err := l.store.Transaction(ctx, func(tx *Store) error {
		var err error
		result, err = ReplayInTx(ctx, tx, movement, tx.Now())
		return err
	})
	return result, err
}

// ReplayInTx inserts a movement received from another replica using an open
// transaction. A movement id already in the ledger is a no-op. A movement
// whose product is missing or deleted yields ErrNotFound. The product's
// quantity is never touched: it travels with the product entity.
func ReplayInTx(ctx context.Context, tx *Store, movement StockMovement, recordedAt Timestamp) (ReplayResult, error) {
	exists, err := tx.MovementExists(ctx, movement.ID)
	if err != nil {
		return 0, err
	}
	if exists {
		return ReplayDuplicate, nil
	}
	if err := movement.Validate(); err != nil {
		return 0, err
	}

	product, found, err := Find[Product](ctx, tx, movement.ProductID)
	if err != nil {
		return 0, err
	}
	if !found || product.IsDeleted {
		return 0, fmt.Errorf("%w: product %d for movement %s", ErrNotFound, movement.ProductID, movement.ID)
	}

	movement.RecordedAtMicros = recordedAt
	insert := tx.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&movement)
	if insert.Error != nil {
		tx.logger.Error("inventory ledger error",
			zap.String("operation", opLedgerReplay),
			zap.String("reason", "movement_insert_failed"),
			zap.String("movement_id", movement.ID),
			zap.Error(insert.Error))
		return 0, storageError(opLedgerReplay, "movement_insert_failed", insert.Error)
	}
	if insert.RowsAffected == 0 {
		return ReplayDuplicate, nil
	}
	return ReplayApplied, nil
}

func (l *Ledger) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	l.logger.Error("inventory ledger error", attrs...)
}
