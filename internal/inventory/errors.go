package inventory

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound reports a missing or soft-deleted entity.
	ErrNotFound = errors.New("inventory: entity not found")
	// ErrInsufficientStock reports an outbound movement larger than the available quantity.
	ErrInsufficientStock = errors.New("inventory: insufficient stock")
	// ErrStorageFailure wraps any persistence failure.
	ErrStorageFailure = errors.New("inventory: storage failure")
	// ErrInvalidQuantity reports a quantity outside the range allowed for the movement type.
	ErrInvalidQuantity = errors.New("inventory: invalid quantity")
	// ErrInvalidMovementType reports an unknown movement tag.
	ErrInvalidMovementType = errors.New("inventory: invalid movement type")
	// ErrInvalidEntity reports an entity that fails validation.
	ErrInvalidEntity = errors.New("inventory: invalid entity")

	errMissingDatabase = errors.New("database handle is required")
	errMissingStore    = errors.New("store is required")
)

// ServiceError carries a stable "<operation>.<reason>" code next to the cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opStoreNew      = "inventory.store.new"
	opStoreRead     = "inventory.store.read"
	opStoreWrite    = "inventory.store.write"
	opLedgerNew     = "inventory.ledger.new"
	opLedgerApply   = "inventory.ledger.apply"
	opLedgerReplay  = "inventory.ledger.replay"
	opCatalogNew    = "inventory.catalog.new"
	opCatalogCreate = "inventory.catalog.create"
	opCatalogUpdate = "inventory.catalog.update"
	opCatalogDelete = "inventory.catalog.delete"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// storageError marks a persistence failure so callers can match ErrStorageFailure.
func storageError(operation, reason string, cause error) error {
	return newServiceError(operation, reason, errors.Join(ErrStorageFailure, cause))
}
