package replication

import (
	"context"
	"testing"

	"github.com/MarcoPoloResearchLab/stockroom/internal/inventory"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var clientPrincipal = inventory.Actor{ID: "client-a", Name: "Client A"}

func TestIngestTieKeepsHubCopy(t *testing.T) {
	hub := newReplica(t, newSteppingWall())
	service := newHubService(t, hub)
	ctx := context.Background()
	product := hub.addProduct(t, "Spirit level", 3)

	rival := ProductPayloadOf(product)
	rival.Name = "Spirit level (renamed)"
	response, err := service.Ingest(ctx, clientPrincipal, SyncRequest{
		ChangedEntities: EntityPayloads{Products: []ProductPayload{rival}},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, response.ConflictsResolved)
	require.Len(t, response.UpdatedEntities.Products, 1)
	assert.Equal(t, "Spirit level", response.UpdatedEntities.Products[0].Name)
	assert.Equal(t, "Spirit level", hub.product(t, product.ID).Name)
}

func TestIngestReturnsKeptCopyRecordedBeforeWatermark(t *testing.T) {
	hub := newReplica(t, newSteppingWall())
	service := newHubService(t, hub)
	ctx := context.Background()
	product := hub.addProduct(t, "Pipe wrench", 2)
	since := hub.store.Now()

	rival := ProductPayloadOf(product)
	rival.Name = "Pipe wrench (client)"
	response, err := service.Ingest(ctx, clientPrincipal, SyncRequest{
		SinceMicros:     since.Int64(),
		ChangedEntities: EntityPayloads{Products: []ProductPayload{rival}},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, response.ConflictsResolved)
	require.Len(t, response.UpdatedEntities.Products, 1)
	assert.Equal(t, "Pipe wrench", response.UpdatedEntities.Products[0].Name)
}

func TestIngestIdenticalCopyIsQuiet(t *testing.T) {
	hub := newReplica(t, newSteppingWall())
	service := newHubService(t, hub)
	ctx := context.Background()
	product := hub.addProduct(t, "Tape measure", 12)

	response, err := service.Ingest(ctx, clientPrincipal, SyncRequest{
		ChangedEntities: EntityPayloads{Products: []ProductPayload{ProductPayloadOf(product)}},
	})
	require.NoError(t, err)
	assert.Zero(t, response.ConflictsResolved)
	assert.Empty(t, response.UpdatedEntities.Products, "held entity must not be echoed")

	records, err := RecentConflicts(ctx, hub.db, 0)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestIngestReplaysMovementsOnce(t *testing.T) {
	hub := newReplica(t, newSteppingWall())
	service := newHubService(t, hub)
	ctx := context.Background()
	product := hub.addProduct(t, "Gloves", 10)

	movement := MovementPayload{
		ID:              "0190f5a2-0000-7000-8000-00000000000a",
		ProductID:       product.ID,
		MovementType:    string(inventory.MovementOutbound),
		Quantity:        -4,
		QuantityBefore:  10,
		QuantityAfter:   6,
		ActorID:         "clerk",
		ActorName:       "Clerk",
		CreatedAtMicros: product.UpdatedAtMicros.Int64(),
	}
	request := SyncRequest{NewMovements: []MovementPayload{movement}}

	for attempt := 0; attempt < 2; attempt++ {
		response, err := service.Ingest(ctx, clientPrincipal, request)
		require.NoError(t, err)
		assert.Empty(t, response.NewMovements, "attempt %d echoed the pushed movement", attempt)
	}

	movements, err := hub.store.Movements(ctx, product.ID)
	require.NoError(t, err)
	require.Len(t, movements, 1)
	assert.Equal(t, "Clerk", movements[0].ActorName)
	assert.Equal(t, int64(10), hub.product(t, product.ID).Quantity, "replay must not touch quantity")
}

func TestIngestRejectsMalformedRequest(t *testing.T) {
	hub := newReplica(t, newSteppingWall())
	service := newHubService(t, hub)

	testCases := []struct {
		name    string
		request SyncRequest
	}{
		{name: "negative since", request: SyncRequest{SinceMicros: -1}},
		{name: "zero product id", request: SyncRequest{ChangedEntities: EntityPayloads{Products: []ProductPayload{{ID: 0, Name: "x"}}}}},
		{name: "duplicate location", request: SyncRequest{ChangedEntities: EntityPayloads{StorageLocations: []LabelPayload{{ID: 1}, {ID: 1}}}}},
		{name: "movement without id", request: SyncRequest{NewMovements: []MovementPayload{{ProductID: 1}}}},
		{name: "duplicate movement", request: SyncRequest{NewMovements: []MovementPayload{{ID: "m"}, {ID: "m"}}}},
		{name: "offset outside stride", request: SyncRequest{IDStride: 2, IDOffset: 2}},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			_, err := service.Ingest(context.Background(), clientPrincipal, testCase.request)
			assert.ErrorIs(t, err, ErrMalformedExchange)
		})
	}
}

func TestIngestRejectsForeignIDStripe(t *testing.T) {
	hub := newStripedReplica(t, newSteppingWall(), inventory.IDAllocation{Stride: 4})
	service := newHubService(t, hub)
	ctx := context.Background()

	_, err := service.Ingest(ctx, clientPrincipal, SyncRequest{IDStride: 8, IDOffset: 1})
	assert.ErrorIs(t, err, ErrMalformedExchange)
	_, err = service.Ingest(ctx, clientPrincipal, SyncRequest{IDStride: 4, IDOffset: 0})
	assert.ErrorIs(t, err, ErrMalformedExchange)

	_, err = service.Ingest(ctx, clientPrincipal, SyncRequest{IDStride: 4, IDOffset: 3})
	assert.NoError(t, err)
	_, err = service.Ingest(ctx, clientPrincipal, SyncRequest{})
	assert.NoError(t, err, "clients that do not report a stripe are admitted")
}

func TestIngestAnswersOnlyNewerChanges(t *testing.T) {
	hub := newReplica(t, newSteppingWall())
	service := newHubService(t, hub)
	ctx := context.Background()
	hub.addProduct(t, "Old stock", 1)

	first, err := service.Ingest(ctx, clientPrincipal, SyncRequest{})
	require.NoError(t, err)
	require.Len(t, first.UpdatedEntities.Products, 1)

	fresh := hub.addProduct(t, "New stock", 2)
	second, err := service.Ingest(ctx, clientPrincipal, SyncRequest{SinceMicros: first.SyncedAtMicros})
	require.NoError(t, err)
	require.Len(t, second.UpdatedEntities.Products, 1)
	assert.Equal(t, fresh.ID, second.UpdatedEntities.Products[0].ID)
	assert.Greater(t, second.SyncedAtMicros, first.SyncedAtMicros)
}

func TestStoreStatusCountsLiveRows(t *testing.T) {
	hub := newReplica(t, newSteppingWall())
	ctx := context.Background()

	low, err := hub.catalog.CreateProduct(ctx, inventory.ProductInput{Name: "Fuses", Quantity: 1, MinQuantity: 5, Price: decimal.RequireFromString("0.45")})
	require.NoError(t, err)
	hub.addProduct(t, "Switches", 20)
	gone := hub.addProduct(t, "Discontinued", 0)
	require.NoError(t, hub.catalog.DeleteProduct(ctx, gone.ID))
	_, err = hub.catalog.CreateCategory(ctx, inventory.LabelInput{Name: "Electrical"})
	require.NoError(t, err)
	hub.move(t, low.ID, inventory.MovementInbound, 1)

	status, err := StoreStatus(ctx, hub.store)
	require.NoError(t, err)
	assert.Equal(t, 2, status.ProductCount)
	assert.Equal(t, 1, status.CategoryCount)
	assert.Equal(t, 0, status.StorageLocationCount)
	assert.Equal(t, 1, status.MovementCount)
	assert.Equal(t, 1, status.LowStockCount)
	assert.Len(t, status.Checksum, 64)
}
