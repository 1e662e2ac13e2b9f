package replication

import (
	"context"
	"fmt"

	"github.com/MarcoPoloResearchLab/stockroom/internal/inventory"
	"github.com/MarcoPoloResearchLab/stockroom/internal/reconcile"
	"go.uber.org/zap"
)

// ServiceConfig describes the dependencies of the hub-side Service.
type ServiceConfig struct {
	Store *inventory.Store
	// Users is optional; when set, snapshots include the identity directory.
	Users  UserLister
	Logger *zap.Logger
}

// Service is the hub side of replication: it ingests client rounds and
// serves bulk snapshots and status.
type Service struct {
	store  *inventory.Store
	users  UserLister
	logger *zap.Logger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	logger := cfg.Logger
	if logger == nil {
		logger = cfg.Store.Logger()
	}
	return &Service{store: cfg.Store, users: cfg.Users, logger: logger}, nil
}

// Ingest applies a client's changeset and answers with every change the hub
// recorded after the client's watermark, except what the client already holds.
// The apply and the read happen in one transaction, and syncedAt is taken
// inside it.
func (s *Service) Ingest(ctx context.Context, principal inventory.Actor, request SyncRequest) (SyncResponse, error) {
	if err := s.admit(request); err != nil {
		s.logger.Info("replication request rejected",
			zap.String("operation", opIngest),
			zap.String("peer", principal.ID),
			zap.Error(err))
		return SyncResponse{}, err
	}

	changes := request.Changeset()
	release := s.store.LockProducts(changes.ProductIDs()...)
	defer release()

	var response SyncResponse
	var report ApplyReport
	err := s.store.Transaction(ctx, func(tx *inventory.Store) error {
		syncedAt := tx.Now()
		var err error
		report, err = applyChangeset(ctx, tx, principal.ID, reconcile.TiePreferLocal, changes, syncedAt, s.logger)
		if err != nil {
			return err
		}
		outgoing, err := tx.Changes(ctx, request.Since())
		if err != nil {
			return err
		}
		response = NewSyncResponse(syncedAt, withKept(withoutHeld(outgoing, report), report), report.Conflicts)
		return nil
	})
	if err != nil {
		s.logError(opIngest, "transaction_failed", err, zap.String("peer", principal.ID))
		return SyncResponse{}, err
	}

	s.logger.Info("replication round ingested",
		zap.String("peer", principal.ID),
		zap.Int64("since_us", request.SinceMicros),
		zap.Int64("synced_at_us", response.SyncedAtMicros),
		zap.Int("received", changes.Len()),
		zap.Int("written", report.Written()),
		zap.Int("conflicts", report.Conflicts),
		zap.Int("skipped", report.Skipped))
	return response, nil
}

// admit validates the request and checks that the client creates ids in a
// stripe of its own, so no two replicas can mint the same id while apart.
func (s *Service) admit(request SyncRequest) error {
	if err := request.Validate(); err != nil {
		return err
	}
	if request.IDStride == 0 {
		return nil
	}
	hub := s.store.IDs()
	if request.IDStride != hub.Stride {
		return fmt.Errorf("%w: client id stride %d differs from the hub's %d", ErrMalformedExchange, request.IDStride, hub.Stride)
	}
	if hub.Stride > 1 && request.IDOffset == hub.Offset {
		return fmt.Errorf("%w: id offset %d belongs to the hub", ErrMalformedExchange, request.IDOffset)
	}
	return nil
}

// Status summarizes the store. Two replicas holding the same data report the
// same checksum.
type Status struct {
	ProductCount         int    `json:"product_count"`
	CategoryCount        int    `json:"category_count"`
	StorageLocationCount int    `json:"storage_location_count"`
	MovementCount        int    `json:"movement_count"`
	LowStockCount        int    `json:"low_stock_count"`
	Checksum             string `json:"checksum"`
}

func (s *Service) Status(ctx context.Context) (Status, error) {
	return StoreStatus(ctx, s.store)
}

// StoreStatus computes a Status for any store, hub or client.
func StoreStatus(ctx context.Context, store *inventory.Store) (Status, error) {
	products, err := inventory.List[inventory.Product](ctx, store, true)
	if err != nil {
		return Status{}, err
	}
	categories, err := inventory.List[inventory.Category](ctx, store, true)
	if err != nil {
		return Status{}, err
	}
	locations, err := inventory.List[inventory.StorageLocation](ctx, store, true)
	if err != nil {
		return Status{}, err
	}
	movements, err := store.Movements(ctx, 0)
	if err != nil {
		return Status{}, err
	}

	status := Status{MovementCount: len(movements)}
	fingerprints := make([]string, 0, len(products)+len(categories)+len(locations)+len(movements))
	collect := func(entity inventory.Entity) error {
		fingerprint, err := entity.Fingerprint()
		if err != nil {
			return fmt.Errorf("%s: %w", opStatus, err)
		}
		fingerprints = append(fingerprints, fingerprint)
		return nil
	}
	for _, product := range products {
		if !product.IsDeleted {
			status.ProductCount++
		}
		if product.IsLowStock() {
			status.LowStockCount++
		}
		if err := collect(product); err != nil {
			return Status{}, err
		}
	}
	for _, category := range categories {
		if !category.IsDeleted {
			status.CategoryCount++
		}
		if err := collect(category); err != nil {
			return Status{}, err
		}
	}
	for _, location := range locations {
		if !location.IsDeleted {
			status.StorageLocationCount++
		}
		if err := collect(location); err != nil {
			return Status{}, err
		}
	}
	for _, movement := range movements {
		fingerprints = append(fingerprints, "movement:"+movement.ID)
	}
	status.Checksum = reconcile.Checksum(fingerprints)
	return status, nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	if inventory.IsCallerError(err) {
		return
	}
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("replication service error", attrs...)
}
