package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/MarcoPoloResearchLab/stockroom/internal/auth"
	"github.com/MarcoPoloResearchLab/stockroom/internal/inventory"
	"github.com/MarcoPoloResearchLab/stockroom/internal/replication"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const (
	actorContextKey = "stockroom_actor"
	adminContextKey = "stockroom_admin"
)

var (
	errMissingValidator   = errors.New("session validator dependency required")
	errMissingUsers       = errors.New("actor resolver dependency required")
	errMissingReplication = errors.New("replication service dependency required")
	errMissingLedger      = errors.New("ledger dependency required")
	errMissingCatalog     = errors.New("catalog dependency required")
	errMissingStore       = errors.New("store dependency required")
)

// SessionValidator authenticates a request from its cookie or bearer token.
type SessionValidator interface {
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
}

// ActorResolver maps validated claims to the actor recorded on movements.
type ActorResolver interface {
	ResolveActor(ctx context.Context, claims auth.SessionClaims) (inventory.Actor, error)
}

type Dependencies struct {
	Validator   SessionValidator
	Users       ActorResolver
	Replication *replication.Service
	Ledger      *inventory.Ledger
	Catalog     *inventory.Catalog
	Store       *inventory.Store
	Logger      *zap.Logger
	// Realtime is optional; without it the event stream is not served.
	Realtime *RealtimeDispatcher
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Validator == nil {
		return nil, errMissingValidator
	}
	if deps.Users == nil {
		return nil, errMissingUsers
	}
	if deps.Replication == nil {
		return nil, errMissingReplication
	}
	if deps.Ledger == nil {
		return nil, errMissingLedger
	}
	if deps.Catalog == nil {
		return nil, errMissingCatalog
	}
	if deps.Store == nil {
		return nil, errMissingStore
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	handler := &httpHandler{
		validator:   deps.Validator,
		users:       deps.Users,
		replication: deps.Replication,
		ledger:      deps.Ledger,
		catalog:     deps.Catalog,
		store:       deps.Store,
		realtime:    deps.Realtime,
		logger:      logger,
	}

	router.GET(replication.HealthPath, handler.handleHealth)

	protected := router.Group("/api")
	protected.Use(handler.authorizeRequest)

	protected.POST("/sync", handler.handleSync)
	protected.GET("/sync/status", handler.handleSyncStatus)
	protected.GET("/sync/export", handler.handleExport)
	protected.POST("/sync/import", handler.requireAdmin, handler.handleImport)

	protected.GET("/products", handler.handleListProducts)
	protected.GET("/products/barcode/:barcode", handler.handleGetProductByBarcode)
	protected.GET("/products/:id", handler.handleGetProduct)
	protected.GET("/products/:id/movements", handler.handleListMovements)
	protected.POST("/products", handler.requireAdmin, handler.handleCreateProduct)
	protected.PUT("/products/:id", handler.requireAdmin, handler.handleUpdateProduct)
	protected.DELETE("/products/:id", handler.requireAdmin, handler.handleDeleteProduct)

	protected.GET("/categories", handler.handleListCategories)
	protected.GET("/categories/:id", handler.handleGetCategory)
	protected.POST("/categories", handler.requireAdmin, handler.handleCreateCategory)
	protected.PUT("/categories/:id", handler.requireAdmin, handler.handleUpdateCategory)
	protected.DELETE("/categories/:id", handler.requireAdmin, handler.handleDeleteCategory)

	protected.GET("/locations", handler.handleListLocations)
	protected.GET("/locations/:id", handler.handleGetLocation)
	protected.POST("/locations", handler.requireAdmin, handler.handleCreateLocation)
	protected.PUT("/locations/:id", handler.requireAdmin, handler.handleUpdateLocation)
	protected.DELETE("/locations/:id", handler.requireAdmin, handler.handleDeleteLocation)

	// Stock movements stay open to every signed-in clerk.
	protected.POST("/movements", handler.handleApplyMovement)

	if deps.Realtime != nil {
		protected.GET("/events", handler.handleEventStream)
	}

	return router, nil
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOriginFunc: func(string) bool { return true },
		AllowMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodDelete,
			http.MethodOptions,
		},
		AllowHeaders:     []string{"Authorization", "Content-Type", "Accept"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}

type httpHandler struct {
	validator   SessionValidator
	users       ActorResolver
	replication *replication.Service
	ledger      *inventory.Ledger
	catalog     *inventory.Catalog
	store       *inventory.Store
	realtime    *RealtimeDispatcher
	logger      *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	claims, err := h.validator.ValidateRequest(c.Request)
	if err != nil {
		level := zap.WarnLevel
		if errors.Is(err, auth.ErrExpiredSessionToken) || errors.Is(err, jwt.ErrTokenExpired) || errors.Is(err, auth.ErrMissingSessionToken) {
			level = zap.InfoLevel
		}
		h.logger.Check(level, "token validation failed").Write(zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	actor, err := h.users.ResolveActor(c.Request.Context(), claims)
	if err != nil {
		h.logger.Warn("actor resolution failed", zap.String("user_id", claims.UserID), zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(actorContextKey, actor)
	c.Set(adminContextKey, claims.HasRole(auth.RoleAdmin))
	c.Next()
}

func (h *httpHandler) requireAdmin(c *gin.Context) {
	if !c.GetBool(adminContextKey) {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}
	c.Next()
}

func actorFrom(c *gin.Context) (inventory.Actor, bool) {
	value, ok := c.Get(actorContextKey)
	if !ok {
		return inventory.Actor{}, false
	}
	actor, ok := value.(inventory.Actor)
	return actor, ok && actor.ID != ""
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_id"})
		return 0, false
	}
	return id, true
}

// respondError maps domain errors to HTTP statuses. Only server-side
// failures are logged.
func (h *httpHandler) respondError(c *gin.Context, operation string, err error) {
	status, message := statusFor(err)
	body := gin.H{"error": message}
	var serviceErr *inventory.ServiceError
	if errors.As(err, &serviceErr) {
		body["code"] = serviceErr.Code()
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("operation", operation), zap.Error(err))
	}
	c.JSON(status, body)
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, inventory.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, inventory.ErrInsufficientStock):
		return http.StatusConflict, "insufficient_stock"
	case errors.Is(err, inventory.ErrInvalidQuantity):
		return http.StatusBadRequest, "invalid_quantity"
	case errors.Is(err, inventory.ErrInvalidMovementType):
		return http.StatusBadRequest, "invalid_movement_type"
	case errors.Is(err, inventory.ErrInvalidEntity):
		return http.StatusBadRequest, "invalid_entity"
	case errors.Is(err, replication.ErrMalformedExchange):
		return http.StatusBadRequest, "malformed_exchange"
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, "cancelled"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
