package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var noOpLogger = zap.NewNop()

// postgresWriterLockKey names the advisory lock every PostgreSQL write
// transaction holds, so recorded_at_us stamps follow commit order.
const postgresWriterLockKey int64 = 0x73746f636b726f6f

// StoreConfig describes the dependencies of a Store.
type StoreConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
	// IDs selects the id stripe new entities are created in. The zero value
	// allocates every id, which is only safe where a single replica creates entities.
	IDs IDAllocation
}

// IDAllocation stripes entity ids across replicas: a replica creates ids
// congruent to Offset modulo Stride. Every replica of one deployment shares
// the Stride, and each one owns a distinct Offset; the hub owns offset 0.
type IDAllocation struct {
	Stride int64
	Offset int64
}

// Normalize fills the single-creator default.
func (a IDAllocation) Normalize() IDAllocation {
	if a.Stride == 0 {
		a.Stride = 1
	}
	return a
}

// Validate rejects stripes that cannot allocate positive ids.
func (a IDAllocation) Validate() error {
	if a.Stride < 1 {
		return fmt.Errorf("id stride must be at least 1, got %d", a.Stride)
	}
	if a.Offset < 0 || a.Offset >= a.Stride {
		return fmt.Errorf("id offset %d must be in [0, %d)", a.Offset, a.Stride)
	}
	return nil
}

// Store is durable keyed storage for entities and movements. A Store returned
// by Transaction is bound to that transaction and shares the parent's clock
// and product locks.
type Store struct {
	db         *gorm.DB
	clock      *Clock
	locks      *productLocks
	logger     *zap.Logger
	ids        IDAllocation
	writerLock string
}

// NewStore constructs a Store over an already migrated database.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opStoreNew, "missing_database", errMissingDatabase)
	}
	ids := cfg.IDs.Normalize()
	if err := ids.Validate(); err != nil {
		return nil, newServiceError(opStoreNew, "invalid_id_allocation", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Store{
		db:         cfg.Database,
		clock:      NewClock(cfg.Clock),
		locks:      newProductLocks(),
		logger:     logger,
		ids:        ids,
		writerLock: writerLockStatement(cfg.Database.Dialector.Name()),
	}, nil
}

// writerLockStatement returns the statement that serializes write
// transactions, or "" when the database already allows a single writer.
func writerLockStatement(dialect string) string {
	if dialect == "postgres" {
		return fmt.Sprintf("SELECT pg_advisory_xact_lock(%d)", postgresWriterLockKey)
	}
	return ""
}

// IDs returns the id stripe this store creates entities in.
func (s *Store) IDs() IDAllocation {
	return s.ids
}

// DB exposes the handle, transaction-bound when the store is.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Now returns a strictly increasing timestamp for this process.
func (s *Store) Now() Timestamp {
	return s.clock.Now()
}

// Clock exposes the store's timestamp source.
func (s *Store) Clock() *Clock {
	return s.clock
}

// Logger returns the store's logger.
func (s *Store) Logger() *zap.Logger {
	return s.logger
}

// LockProducts serializes the caller against every other ledger or merge
// touching the same products in this process. The returned func releases them.
func (s *Store) LockProducts(ids ...int64) func() {
	return s.locks.lock(ids...)
}

// Transaction runs fn inside one database transaction. Any error rolls back.
// On PostgreSQL the transaction first takes the writer lock, so a timestamp
// taken inside fn is never older than one taken by a transaction that
// commits later.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		if s.writerLock != "" {
			if err := db.Exec(s.writerLock).Error; err != nil {
				return storageError(opStoreWrite, "writer_lock_failed", err)
			}
		}
		return fn(&Store{db: db, clock: s.clock, locks: s.locks, logger: s.logger, ids: s.ids, writerLock: s.writerLock})
	})
}

// Find loads an entity by id, locking the row for update where the database
// supports it. found is false when no row exists; soft-deleted rows are returned.
func Find[T Record[T]](ctx context.Context, s *Store, id int64) (value T, found bool, err error) {
	err = s.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		Take(&value).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		var zero T
		return zero, false, nil
	}
	if err != nil {
		var zero T
		return zero, false, storageError(opStoreRead, "select_failed", err)
	}
	return value, true, nil
}

// Get loads an entity by id and reports ErrNotFound for missing or deleted rows.
func Get[T Record[T]](ctx context.Context, s *Store, id int64) (T, error) {
	value, found, err := Find[T](ctx, s, id)
	if err != nil {
		return value, err
	}
	if !found || isDeleted(value) {
		var zero T
		return zero, ErrNotFound
	}
	return value, nil
}

// Save inserts or fully replaces an entity.
func Save[T Record[T]](ctx context.Context, s *Store, value T) error {
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&value).Error
	if err != nil {
		s.logger.Error("inventory store error",
			zap.String("operation", opStoreWrite),
			zap.String("reason", "upsert_failed"),
			zap.String("kind", string(value.Kind())),
			zap.Int64("id", value.EntityID()),
			zap.Error(err))
		return storageError(opStoreWrite, "upsert_failed", err)
	}
	return nil
}

// ChangedSince lists entities written on this replica strictly after since, ordered by id.
func ChangedSince[T Record[T]](ctx context.Context, s *Store, since Timestamp) ([]T, error) {
	var values []T
	err := s.db.WithContext(ctx).
		Where("recorded_at_us > ?", since.Int64()).
		Order("id ASC").
		Find(&values).Error
	if err != nil {
		return nil, storageError(opStoreRead, "changed_since_failed", err)
	}
	return values, nil
}

// List returns every entity of a kind ordered by id.
func List[T Record[T]](ctx context.Context, s *Store, includeDeleted bool) ([]T, error) {
	var values []T
	query := s.db.WithContext(ctx).Order("id ASC")
	if !includeDeleted {
		query = query.Where("is_deleted = ?", false)
	}
	if err := query.Find(&values).Error; err != nil {
		return nil, storageError(opStoreRead, "list_failed", err)
	}
	return values, nil
}

// NextID allocates the next integer id for a kind inside this store's id
// stripe. Call it inside a transaction.
func NextID[T Record[T]](ctx context.Context, s *Store) (int64, error) {
	base := int64(0)
	if s.ids.Offset > 0 {
		base = s.ids.Offset - s.ids.Stride
	}
	var current int64
	var model T
	err := s.db.WithContext(ctx).
		Model(&model).
		Where("id % ? = ?", s.ids.Stride, s.ids.Offset).
		Select("COALESCE(MAX(id), ?)", base).
		Scan(&current).Error
	if err != nil {
		return 0, storageError(opStoreRead, "next_id_failed", err)
	}
	return current + s.ids.Stride, nil
}

func isDeleted(entity Entity) bool {
	switch value := entity.(type) {
	case Product:
		return value.IsDeleted
	case Category:
		return value.IsDeleted
	case StorageLocation:
		return value.IsDeleted
	default:
		return false
	}
}

// Changes aggregates every kind written after since.
func (s *Store) Changes(ctx context.Context, since Timestamp) (Changeset, error) {
	products, err := ChangedSince[Product](ctx, s, since)
	if err != nil {
		return Changeset{}, err
	}
	categories, err := ChangedSince[Category](ctx, s, since)
	if err != nil {
		return Changeset{}, err
	}
	locations, err := ChangedSince[StorageLocation](ctx, s, since)
	if err != nil {
		return Changeset{}, err
	}
	movements, err := s.NewMovements(ctx, since)
	if err != nil {
		return Changeset{}, err
	}
	return Changeset{
		Products:         products,
		Categories:       categories,
		StorageLocations: locations,
		Movements:        movements,
	}, nil
}

// NewMovements lists movements recorded on this replica strictly after since.
func (s *Store) NewMovements(ctx context.Context, since Timestamp) ([]StockMovement, error) {
	var movements []StockMovement
	err := s.db.WithContext(ctx).
		Where("recorded_at_us > ?", since.Int64()).
		Order("created_at_us ASC, id ASC").
		Find(&movements).Error
	if err != nil {
		return nil, storageError(opStoreRead, "movements_since_failed", err)
	}
	return movements, nil
}

// Movements lists every movement, optionally restricted to one product.
func (s *Store) Movements(ctx context.Context, productID int64) ([]StockMovement, error) {
	var movements []StockMovement
	query := s.db.WithContext(ctx).Order("created_at_us ASC, id ASC")
	if productID > 0 {
		query = query.Where("product_id = ?", productID)
	}
	if err := query.Find(&movements).Error; err != nil {
		return nil, storageError(opStoreRead, "movements_failed", err)
	}
	return movements, nil
}

// MovementExists reports whether a movement id is already in the ledger.
func (s *Store) MovementExists(ctx context.Context, id string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&StockMovement{}).
		Where("id = ?", id).
		Count(&count).Error
	if err != nil {
		return false, storageError(opStoreRead, "movement_lookup_failed", err)
	}
	return count > 0, nil
}

// GetProduct returns a live product or ErrNotFound.
func (s *Store) GetProduct(ctx context.Context, id int64) (Product, error) {
	return Get[Product](ctx, s, id)
}

// FindByBarcode returns the live product carrying a barcode. Barcodes are not
// unique; the lowest id wins.
func (s *Store) FindByBarcode(ctx context.Context, barcode string) (Product, error) {
	var products []Product
	err := s.db.WithContext(ctx).
		Where("barcode = ? AND is_deleted = ?", barcode, false).
		Order("id ASC").
		Limit(1).
		Find(&products).Error
	if err != nil {
		return Product{}, storageError(opStoreRead, "barcode_lookup_failed", err)
	}
	if barcode == "" || len(products) == 0 {
		return Product{}, ErrNotFound
	}
	return products[0], nil
}

// Models lists the gorm models owned by this package, for migrations.
func Models() []any {
	return []any{&Product{}, &Category{}, &StorageLocation{}, &StockMovement{}}
}
