package replication

import (
	"encoding/json"
	"testing"

	"github.com/MarcoPoloResearchLab/stockroom/internal/inventory"
	"github.com/sebdah/goldie/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncRequestWireFormat(t *testing.T) {
	categoryID := int64(3)
	request := NewSyncRequest(inventory.Timestamp(1767225600000000), inventory.Changeset{
		Products: []inventory.Product{{
			ID:               7,
			Name:             "Cordless drill",
			Barcode:          "4006381333931",
			Quantity:         4,
			MinQuantity:      2,
			Price:            decimal.RequireFromString("89.9"),
			CategoryID:       &categoryID,
			CreatedAtMicros:  1767225600000001,
			UpdatedAtMicros:  1767225600000002,
			RecordedAtMicros: 1767225600000002,
		}},
		Movements: []inventory.StockMovement{{
			ID:               "0190f5a2-0000-7000-8000-000000000001",
			ProductID:        7,
			MovementType:     inventory.MovementOutbound,
			Quantity:         -1,
			QuantityBefore:   5,
			QuantityAfter:    4,
			Note:             "van restock",
			ActorID:          "12345",
			ActorName:        "Warehouse Clerk",
			CreatedAtMicros:  1767225600000002,
			RecordedAtMicros: 1767225600000002,
		}},
	})

	encoded, err := json.MarshalIndent(request, "", "  ")
	require.NoError(t, err)

	g := goldie.New(t, goldie.WithFixtureDir("testdata"), goldie.WithNameSuffix(".golden"))
	g.Assert(t, "sync_request", encoded)
}

func TestSyncRequestDecodesBackToChangeset(t *testing.T) {
	payload := []byte(`{
		"since_us": 10,
		"changed_entities": {
			"products": [{"id": 1, "name": "Saw", "price": "12.50", "quantity": 2, "created_at_us": 5, "updated_at_us": 6}],
			"categories": [],
			"storage_locations": [{"id": 4, "name": "Van", "created_at_us": 5, "updated_at_us": 5}]
		},
		"new_movements": [{"id": "m-1", "product_id": 1, "movement_type": "inbound", "quantity": 2, "quantity_before": 0, "quantity_after": 2, "created_at_us": 6}]
	}`)

	var request SyncRequest
	require.NoError(t, json.Unmarshal(payload, &request))
	require.NoError(t, request.Validate())

	changes := request.Changeset()
	assert.Equal(t, inventory.Timestamp(10), request.Since())
	require.Len(t, changes.Products, 1)
	assert.True(t, changes.Products[0].Price.Equal(decimal.RequireFromString("12.5")))
	assert.Equal(t, inventory.Timestamp(6), changes.Products[0].UpdatedAtMicros)
	assert.True(t, changes.Products[0].RecordedAtMicros.IsZero(), "recorded time is local to each replica")
	require.Len(t, changes.StorageLocations, 1)
	require.Len(t, changes.Movements, 1)
	assert.Equal(t, inventory.MovementInbound, changes.Movements[0].MovementType)
	assert.Equal(t, []int64{1}, changes.ProductIDs())
}
