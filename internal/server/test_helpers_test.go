package server

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/stockroom/internal/auth"
	"github.com/MarcoPoloResearchLab/stockroom/internal/database"
	"github.com/MarcoPoloResearchLab/stockroom/internal/inventory"
	"github.com/MarcoPoloResearchLab/stockroom/internal/replication"
	"github.com/MarcoPoloResearchLab/stockroom/internal/users"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	testSigningSecret = "test-signing-secret"
	testCookieName    = "app_session"
)

type testHub struct {
	handler    http.Handler
	store      *inventory.Store
	catalog    *inventory.Catalog
	dispatcher *RealtimeDispatcher
	issuer     *auth.TokenIssuer
}

func newTestHub(t *testing.T) *testHub {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := zap.NewNop()
	db, err := database.OpenSQLite("file::memory:", logger)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	store, err := inventory.NewStore(inventory.StoreConfig{Database: db, Logger: logger})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	ledger, err := inventory.NewLedger(inventory.LedgerConfig{Store: store, IDProvider: inventory.NewUUIDProvider()})
	if err != nil {
		t.Fatalf("failed to create ledger: %v", err)
	}
	catalog, err := inventory.NewCatalog(store)
	if err != nil {
		t.Fatalf("failed to create catalog: %v", err)
	}
	userService, err := users.NewService(users.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to create user service: %v", err)
	}
	replicationService, err := replication.NewService(replication.ServiceConfig{Store: store, Users: userService, Logger: logger})
	if err != nil {
		t.Fatalf("failed to create replication service: %v", err)
	}
	validator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(testSigningSecret),
		CookieName:    testCookieName,
	})
	if err != nil {
		t.Fatalf("failed to create validator: %v", err)
	}
	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(testSigningSecret),
		TokenTTL:      time.Hour,
	})
	if err != nil {
		t.Fatalf("failed to create token issuer: %v", err)
	}

	dispatcher := NewRealtimeDispatcher()
	handler, err := NewHTTPHandler(Dependencies{
		Validator:   validator,
		Users:       userService,
		Replication: replicationService,
		Ledger:      ledger,
		Catalog:     catalog,
		Store:       store,
		Logger:      logger,
		Realtime:    dispatcher,
	})
	if err != nil {
		t.Fatalf("failed to construct http handler: %v", err)
	}
	return &testHub{
		handler:    handler,
		store:      store,
		catalog:    catalog,
		dispatcher: dispatcher,
		issuer:     issuer,
	}
}

func (h *testHub) token(t *testing.T, userID string, roles ...string) string {
	t.Helper()
	token, _, err := h.issuer.Issue(auth.TokenSubject{UserID: userID, DisplayName: userID, Roles: roles})
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	return token
}

func (h *testHub) do(t *testing.T, request *http.Request, token string) *httptest.ResponseRecorder {
	t.Helper()
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	if request.Body != nil && request.Header.Get("Content-Type") == "" {
		request.Header.Set("Content-Type", "application/json")
	}
	recorder := httptest.NewRecorder()
	h.handler.ServeHTTP(recorder, request)
	return recorder
}

func jsonInt(value int64) string {
	return strconv.FormatInt(value, 10)
}
