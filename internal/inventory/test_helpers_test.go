package inventory

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

// newTestStore opens a private in-memory database. The wall clock it exposes
// never moves, so every ordering guarantee comes from Clock.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})
	if err := db.AutoMigrate(Models()...); err != nil {
		t.Fatalf("failed to migrate inventory schema: %v", err)
	}
	frozen := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	store, err := NewStore(StoreConfig{
		Database: db,
		Clock:    func() time.Time { return frozen },
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return store
}

func newTestLedger(t *testing.T, store *Store) *Ledger {
	t.Helper()
	ledger, err := NewLedger(LedgerConfig{Store: store, IDProvider: &sequenceIDProvider{}})
	if err != nil {
		t.Fatalf("failed to create ledger: %v", err)
	}
	return ledger
}

func newTestCatalog(t *testing.T, store *Store) *Catalog {
	t.Helper()
	catalog, err := NewCatalog(store)
	if err != nil {
		t.Fatalf("failed to create catalog: %v", err)
	}
	return catalog
}

func seedProduct(t *testing.T, catalog *Catalog, name string, quantity int64) Product {
	t.Helper()
	product, err := catalog.CreateProduct(context.Background(), ProductInput{Name: name, Quantity: quantity})
	if err != nil {
		t.Fatalf("failed to seed product %q: %v", name, err)
	}
	return product
}

type sequenceIDProvider struct {
	next atomic.Int64
}

func (p *sequenceIDProvider) NewID() (string, error) {
	return fmt.Sprintf("movement-%04d", p.next.Add(1)), nil
}
