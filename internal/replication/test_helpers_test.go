package replication

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/stockroom/internal/inventory"
	"github.com/MarcoPoloResearchLab/stockroom/internal/users"
	sqlite "github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// steppingWall is a wall clock shared by every replica in a test. Each reading
// is one millisecond after the previous one, so edits made in sequence are
// ordered regardless of which replica made them.
type steppingWall struct {
	current atomic.Int64
}

func newSteppingWall() *steppingWall {
	wall := &steppingWall{}
	wall.current.Store(time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC).UnixMicro())
	return wall
}

func (w *steppingWall) now() time.Time {
	return time.UnixMicro(w.current.Add(1000)).UTC()
}

type replica struct {
	db      *gorm.DB
	store   *inventory.Store
	ledger  *inventory.Ledger
	catalog *inventory.Catalog
}

func newReplica(t *testing.T, wall *steppingWall) *replica {
	t.Helper()
	return newStripedReplica(t, wall, inventory.IDAllocation{})
}

func newStripedReplica(t *testing.T, wall *steppingWall, ids inventory.IDAllocation) *replica {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	models := append(inventory.Models(), Models()...)
	models = append(models, &users.Identity{})
	require.NoError(t, db.AutoMigrate(models...))

	store, err := inventory.NewStore(inventory.StoreConfig{Database: db, Clock: wall.now, Logger: zap.NewNop(), IDs: ids})
	require.NoError(t, err)
	ledger, err := inventory.NewLedger(inventory.LedgerConfig{Store: store, IDProvider: inventory.NewUUIDProvider()})
	require.NoError(t, err)
	catalog, err := inventory.NewCatalog(store)
	require.NoError(t, err)
	return &replica{db: db, store: store, ledger: ledger, catalog: catalog}
}

func (r *replica) addProduct(t *testing.T, name string, quantity int64) inventory.Product {
	t.Helper()
	product, err := r.catalog.CreateProduct(context.Background(), inventory.ProductInput{Name: name, Quantity: quantity})
	require.NoError(t, err)
	return product
}

func (r *replica) move(t *testing.T, productID int64, movementType inventory.MovementType, quantity int64) inventory.StockMovement {
	t.Helper()
	movement, err := r.ledger.Apply(context.Background(), inventory.ApplyRequest{
		ProductID: productID,
		Type:      movementType,
		Quantity:  quantity,
		Actor:     inventory.Actor{ID: "clerk", Name: "Clerk"},
	})
	require.NoError(t, err)
	return movement
}

func (r *replica) product(t *testing.T, id int64) inventory.Product {
	t.Helper()
	product, found, err := inventory.Find[inventory.Product](context.Background(), r.store, id)
	require.NoError(t, err)
	require.True(t, found, "product %d missing", id)
	return product
}

func (r *replica) checksum(t *testing.T) string {
	t.Helper()
	status, err := StoreStatus(context.Background(), r.store)
	require.NoError(t, err)
	return status.Checksum
}

func newHubService(t *testing.T, hub *replica) *Service {
	t.Helper()
	service, err := NewService(ServiceConfig{Store: hub.store, Logger: zap.NewNop()})
	require.NoError(t, err)
	return service
}

func newClientCoordinator(t *testing.T, client *replica, transport Transport) *Coordinator {
	t.Helper()
	coordinator, err := NewCoordinator(CoordinatorConfig{
		Store:     client.store,
		Transport: transport,
		Peer:      "hub",
		Logger:    zap.NewNop(),
	})
	require.NoError(t, err)
	return coordinator
}

func directTransport(hub *Service, clientID string) *DirectTransport {
	return &DirectTransport{Service: hub, Principal: inventory.Actor{ID: clientID, Name: clientID}}
}
