package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/MarcoPoloResearchLab/stockroom/internal/inventory"
	"github.com/MarcoPoloResearchLab/stockroom/internal/replication"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type productRequestPayload struct {
	Name              string          `json:"name"`
	Description       string          `json:"description"`
	Barcode           string          `json:"barcode"`
	Quantity          int64           `json:"quantity"`
	MinQuantity       int64           `json:"min_quantity"`
	Price             decimal.Decimal `json:"price"`
	CategoryID        *int64          `json:"category_id"`
	StorageLocationID *int64          `json:"storage_location_id"`
}

func (p productRequestPayload) input() inventory.ProductInput {
	return inventory.ProductInput{
		Name:              p.Name,
		Description:       p.Description,
		Barcode:           p.Barcode,
		Quantity:          p.Quantity,
		MinQuantity:       p.MinQuantity,
		Price:             p.Price,
		CategoryID:        p.CategoryID,
		StorageLocationID: p.StorageLocationID,
	}
}

type productResponsePayload struct {
	replication.ProductPayload
	LowStock bool `json:"low_stock"`
}

func productResponseOf(product inventory.Product) productResponsePayload {
	return productResponsePayload{
		ProductPayload: replication.ProductPayloadOf(product),
		LowStock:       product.IsLowStock(),
	}
}

type labelRequestPayload struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (p labelRequestPayload) input() inventory.LabelInput {
	return inventory.LabelInput{Name: p.Name, Description: p.Description}
}

type movementRequestPayload struct {
	ProductID    int64  `json:"product_id"`
	MovementType string `json:"movement_type"`
	Quantity     int64  `json:"quantity"`
	Note         string `json:"note"`
}

func (h *httpHandler) handleListProducts(c *gin.Context) {
	products, err := inventory.List[inventory.Product](c.Request.Context(), h.store, false)
	if err != nil {
		h.respondError(c, "products.list", err)
		return
	}
	lowStockOnly := strings.EqualFold(c.Query("low_stock"), "true")
	response := make([]productResponsePayload, 0, len(products))
	for _, product := range products {
		if lowStockOnly && !product.IsLowStock() {
			continue
		}
		response = append(response, productResponseOf(product))
	}
	c.JSON(http.StatusOK, gin.H{"products": response})
}

func (h *httpHandler) handleGetProduct(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	product, err := h.store.GetProduct(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, "products.get", err)
		return
	}
	c.JSON(http.StatusOK, productResponseOf(product))
}

func (h *httpHandler) handleGetProductByBarcode(c *gin.Context) {
	product, err := h.store.FindByBarcode(c.Request.Context(), strings.TrimSpace(c.Param("barcode")))
	if err != nil {
		h.respondError(c, "products.barcode", err)
		return
	}
	c.JSON(http.StatusOK, productResponseOf(product))
}

func (h *httpHandler) handleCreateProduct(c *gin.Context) {
	var request productRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	product, err := h.catalog.CreateProduct(c.Request.Context(), request.input())
	if err != nil {
		h.respondError(c, "products.create", err)
		return
	}
	h.publishChanges([]int64{product.ID})
	c.JSON(http.StatusCreated, productResponseOf(product))
}

func (h *httpHandler) handleUpdateProduct(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var request productRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	product, err := h.catalog.UpdateProduct(c.Request.Context(), id, request.input())
	if err != nil {
		h.respondError(c, "products.update", err)
		return
	}
	h.publishChanges([]int64{product.ID})
	c.JSON(http.StatusOK, productResponseOf(product))
}

func (h *httpHandler) handleDeleteProduct(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.catalog.DeleteProduct(c.Request.Context(), id); err != nil {
		h.respondError(c, "products.delete", err)
		return
	}
	h.publishChanges([]int64{id})
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleListMovements(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if _, err := h.store.GetProduct(c.Request.Context(), id); err != nil {
		h.respondError(c, "movements.list", err)
		return
	}
	movements, err := h.store.Movements(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, "movements.list", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"movements": replication.MovementPayloadsOf(movements)})
}

func (h *httpHandler) handleApplyMovement(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	var request movementRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.ProductID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	movement, err := h.ledger.Apply(c.Request.Context(), inventory.ApplyRequest{
		ProductID: request.ProductID,
		Type:      inventory.MovementType(strings.ToLower(strings.TrimSpace(request.MovementType))),
		Quantity:  request.Quantity,
		Note:      request.Note,
		Actor:     actor,
	})
	if err != nil {
		h.respondError(c, "movements.apply", err)
		return
	}
	h.publishChanges([]int64{movement.ProductID})
	payloads := replication.MovementPayloadsOf([]inventory.StockMovement{movement})
	c.JSON(http.StatusCreated, payloads[0])
}

func (h *httpHandler) handleListCategories(c *gin.Context) {
	categories, err := inventory.List[inventory.Category](c.Request.Context(), h.store, false)
	if err != nil {
		h.respondError(c, "categories.list", err)
		return
	}
	response := make([]replication.LabelPayload, 0, len(categories))
	for _, category := range categories {
		response = append(response, replication.CategoryPayloadOf(category))
	}
	c.JSON(http.StatusOK, gin.H{"categories": response})
}

func (h *httpHandler) handleGetCategory(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	category, err := inventory.Get[inventory.Category](c.Request.Context(), h.store, id)
	if err != nil {
		h.respondError(c, "categories.get", err)
		return
	}
	c.JSON(http.StatusOK, replication.CategoryPayloadOf(category))
}

func (h *httpHandler) handleCreateCategory(c *gin.Context) {
	h.createLabel(c, "categories.create", func(input inventory.LabelInput) (any, error) {
		category, err := h.catalog.CreateCategory(c.Request.Context(), input)
		if err != nil {
			return nil, err
		}
		return replication.CategoryPayloadOf(category), nil
	})
}

func (h *httpHandler) handleUpdateCategory(c *gin.Context) {
	h.updateLabel(c, "categories.update", func(id int64, input inventory.LabelInput) (any, error) {
		category, err := h.catalog.UpdateCategory(c.Request.Context(), id, input)
		if err != nil {
			return nil, err
		}
		return replication.CategoryPayloadOf(category), nil
	})
}

func (h *httpHandler) handleDeleteCategory(c *gin.Context) {
	h.deleteLabel(c, "categories.delete", h.catalog.DeleteCategory)
}

func (h *httpHandler) handleListLocations(c *gin.Context) {
	locations, err := inventory.List[inventory.StorageLocation](c.Request.Context(), h.store, false)
	if err != nil {
		h.respondError(c, "locations.list", err)
		return
	}
	response := make([]replication.LabelPayload, 0, len(locations))
	for _, location := range locations {
		response = append(response, replication.StorageLocationPayloadOf(location))
	}
	c.JSON(http.StatusOK, gin.H{"locations": response})
}

func (h *httpHandler) handleGetLocation(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	location, err := inventory.Get[inventory.StorageLocation](c.Request.Context(), h.store, id)
	if err != nil {
		h.respondError(c, "locations.get", err)
		return
	}
	c.JSON(http.StatusOK, replication.StorageLocationPayloadOf(location))
}

func (h *httpHandler) handleCreateLocation(c *gin.Context) {
	h.createLabel(c, "locations.create", func(input inventory.LabelInput) (any, error) {
		location, err := h.catalog.CreateStorageLocation(c.Request.Context(), input)
		if err != nil {
			return nil, err
		}
		return replication.StorageLocationPayloadOf(location), nil
	})
}

func (h *httpHandler) handleUpdateLocation(c *gin.Context) {
	h.updateLabel(c, "locations.update", func(id int64, input inventory.LabelInput) (any, error) {
		location, err := h.catalog.UpdateStorageLocation(c.Request.Context(), id, input)
		if err != nil {
			return nil, err
		}
		return replication.StorageLocationPayloadOf(location), nil
	})
}

func (h *httpHandler) handleDeleteLocation(c *gin.Context) {
	h.deleteLabel(c, "locations.delete", h.catalog.DeleteStorageLocation)
}

func (h *httpHandler) createLabel(c *gin.Context, operation string, create func(inventory.LabelInput) (any, error)) {
	var request labelRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	created, err := create(request.input())
	if err != nil {
		h.respondError(c, operation, err)
		return
	}
	h.publishChanges(nil)
	c.JSON(http.StatusCreated, created)
}

func (h *httpHandler) updateLabel(c *gin.Context, operation string, update func(int64, inventory.LabelInput) (any, error)) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var request labelRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	updated, err := update(id, request.input())
	if err != nil {
		h.respondError(c, operation, err)
		return
	}
	h.publishChanges(nil)
	c.JSON(http.StatusOK, updated)
}

func (h *httpHandler) deleteLabel(c *gin.Context, operation string, remove func(context.Context, int64) error) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := remove(c.Request.Context(), id); err != nil {
		h.respondError(c, operation, err)
		return
	}
	h.publishChanges(nil)
	c.Status(http.StatusNoContent)
}
