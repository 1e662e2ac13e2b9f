package server

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/MarcoPoloResearchLab/stockroom/internal/database"
	"github.com/MarcoPoloResearchLab/stockroom/internal/inventory"
	"github.com/MarcoPoloResearchLab/stockroom/internal/replication"
	"go.uber.org/zap"
)

type testReplica struct {
	store       *inventory.Store
	ledger      *inventory.Ledger
	catalog     *inventory.Catalog
	coordinator *replication.Coordinator
}

func newTestReplica(t *testing.T, hubURL, token string) *testReplica {
	t.Helper()
	db, err := database.OpenSQLite("file::memory:", zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open replica database: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	store, err := inventory.NewStore(inventory.StoreConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to create replica store: %v", err)
	}
	ledger, err := inventory.NewLedger(inventory.LedgerConfig{Store: store, IDProvider: inventory.NewUUIDProvider()})
	if err != nil {
		t.Fatalf("failed to create replica ledger: %v", err)
	}
	catalog, err := inventory.NewCatalog(store)
	if err != nil {
		t.Fatalf("failed to create replica catalog: %v", err)
	}
	transport, err := replication.NewHTTPTransport(replication.HTTPTransportConfig{BaseURL: hubURL, Token: token})
	if err != nil {
		t.Fatalf("failed to create transport: %v", err)
	}
	coordinator, err := replication.NewCoordinator(replication.CoordinatorConfig{
		Store:     store,
		Transport: transport,
		Peer:      "hub",
	})
	if err != nil {
		t.Fatalf("failed to create coordinator: %v", err)
	}
	return &testReplica{store: store, ledger: ledger, catalog: catalog, coordinator: coordinator}
}

func TestReplicasConvergeThroughHub(t *testing.T) {
	hub := newTestHub(t)
	server := httptest.NewServer(hub.handler)
	t.Cleanup(server.Close)

	ctx := context.Background()
	frontDesk := newTestReplica(t, server.URL, hub.token(t, "replica:front-desk"))
	van := newTestReplica(t, server.URL, hub.token(t, "replica:van"))

	product, err := frontDesk.catalog.CreateProduct(ctx, inventory.ProductInput{Name: "Cable tie", Quantity: 100})
	if err != nil {
		t.Fatalf("failed to create product: %v", err)
	}
	if _, err := frontDesk.ledger.Apply(ctx, inventory.ApplyRequest{
		ProductID: product.ID,
		Type:      inventory.MovementOutbound,
		Quantity:  30,
		Actor:     inventory.Actor{ID: "clerk-1", Name: "Clerk"},
	}); err != nil {
		t.Fatalf("failed to book movement offline: %v", err)
	}

	report, err := frontDesk.coordinator.Sync(ctx, replication.TriggerManual)
	if err != nil {
		t.Fatalf("front desk round failed: %v", err)
	}
	if report.PushedEntities != 1 || report.PushedMovements != 1 {
		t.Fatalf("unexpected push counts %+v", report)
	}
	if report.ReceivedEntities != 0 || report.ReceivedMovements != 0 {
		t.Fatalf("expected the hub not to echo the pushed changes, got %+v", report)
	}

	report, err = van.coordinator.Sync(ctx, replication.TriggerManual)
	if err != nil {
		t.Fatalf("van round failed: %v", err)
	}
	if report.ReceivedEntities != 1 || report.ReceivedMovements != 1 {
		t.Fatalf("unexpected receive counts %+v", report)
	}

	received, err := van.store.GetProduct(ctx, product.ID)
	if err != nil {
		t.Fatalf("van is missing the product: %v", err)
	}
	if received.Quantity != 70 {
		t.Fatalf("expected replicated quantity 70, got %d", received.Quantity)
	}

	hubStatus, err := replication.StoreStatus(ctx, hub.store)
	if err != nil {
		t.Fatalf("hub status failed: %v", err)
	}
	for name, replica := range map[string]*testReplica{"front desk": frontDesk, "van": van} {
		status, err := replication.StoreStatus(ctx, replica.store)
		if err != nil {
			t.Fatalf("%s status failed: %v", name, err)
		}
		if status.Checksum != hubStatus.Checksum {
			t.Fatalf("%s diverged from the hub: %+v vs %+v", name, status, hubStatus)
		}
	}

	report, err = van.coordinator.Sync(ctx, replication.TriggerManual)
	if err != nil {
		t.Fatalf("idle round failed: %v", err)
	}
	if report.PushedEntities+report.PushedMovements+report.ReceivedEntities+report.ReceivedMovements != 0 {
		t.Fatalf("expected an idle round to move nothing, got %+v", report)
	}
}

func TestUnreachableHubLeavesProgressUntouched(t *testing.T) {
	hub := newTestHub(t)
	server := httptest.NewServer(hub.handler)
	token := hub.token(t, "replica:front-desk")
	replica := newTestReplica(t, server.URL, token)

	ctx := context.Background()
	if _, err := replica.coordinator.Sync(ctx, replication.TriggerManual); err != nil {
		t.Fatalf("initial round failed: %v", err)
	}
	before, err := replica.coordinator.State(ctx)
	if err != nil {
		t.Fatalf("failed to load state: %v", err)
	}

	if _, err := replica.catalog.CreateProduct(ctx, inventory.ProductInput{Name: "Offline item", Quantity: 1}); err != nil {
		t.Fatalf("failed to create product offline: %v", err)
	}

	server.Close()

	_, err = replica.coordinator.Sync(ctx, replication.TriggerManual)
	if !errors.Is(err, replication.ErrUnreachable) {
		t.Fatalf("expected ErrUnreachable, got %v", err)
	}
	after, err := replica.coordinator.State(ctx)
	if err != nil {
		t.Fatalf("failed to load state: %v", err)
	}
	if after != before {
		t.Fatalf("expected sync state to be unchanged, before %+v after %+v", before, after)
	}
}

func TestHubRejectsReplicaWithoutValidToken(t *testing.T) {
	hub := newTestHub(t)
	server := httptest.NewServer(hub.handler)
	t.Cleanup(server.Close)

	replica := newTestReplica(t, server.URL, "not-a-token")
	_, err := replica.coordinator.Sync(context.Background(), replication.TriggerManual)
	if !errors.Is(err, replication.ErrUnreachable) {
		t.Fatalf("expected refused round to be reported as unreachable, got %v", err)
	}
}
