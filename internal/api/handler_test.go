package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"order-fulfillment/internal/models"
	"order-fulfillment/internal/service"
	"order-fulfillment/internal/store/memory"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	router  *gin.Engine
	handler *Handler
	repo    *memory.Store
	product models.Product
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	repo := memory.New()
	product := repo.AddProduct(models.Product{
		SKU:           "SKU-1",
		Name:          "Widget",
		PurchasePrice: decimal.RequireFromString("4"),
		SalePrice:     decimal.RequireFromString("10"),
		IsActive:      true,
	})
	repo.AddLot(models.Lot{
		ProductID:    product.ID,
		Quantity:     5,
		RemainingQty: 5,
		UnitCost:     decimal.RequireFromString("4"),
		PurchaseDate: time.Now().Add(-time.Hour),
	})

	stock := service.NewStockAccessor()
	ledger := service.NewLotLedger()
	orders := service.NewOrderService(repo, stock, ledger, service.NoopPublisher{}, service.NoopCache{}, service.OrderServiceOptions{})
	inventory := service.NewInventoryService(repo, stock, ledger, service.NoopCache{})

	router := gin.New()
	handler := NewHandler(orders, inventory)
	handler.SetupRoutes(router)

	return &testServer{router: router, handler: handler, repo: repo, product: product}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v))
}

func (s *testServer) createOrder(t *testing.T, qty int) service.OrderDetails {
	t.Helper()
	w := s.do(t, http.MethodPost, "/api/v1/orders", gin.H{
		"created_by": "clerk",
		"items":      []gin.H{{"product_id": s.product.ID, "quantity": qty}},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var details service.OrderDetails
	decode(t, w, &details)
	return details
}

func TestHealthAndReady(t *testing.T) {
	s := newTestServer(t)

	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/health", nil).Code)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/ready", nil).Code)

	s.handler.AddReadinessCheck("postgres", func(context.Context) error { return errors.New("down") })
	w := s.do(t, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "postgres")
}

func TestOrderLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t)
	created := s.createOrder(t, 3)
	assert.Equal(t, models.OrderStatusPending, created.Order.Status)

	path := fmt.Sprintf("/api/v1/orders/%d", created.Order.ID)

	w := s.do(t, http.MethodPut, path, gin.H{
		"actor": "clerk",
		"items": []gin.H{{"product_id": s.product.ID, "quantity": 2}},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(t, http.MethodPost, path+"/approve", gin.H{
		"approver": "manager",
		"payments": []gin.H{{"method": "CASH", "amount": "19.99"}},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "payment_mismatch")

	w = s.do(t, http.MethodPost, path+"/approve", gin.H{
		"approver": "manager",
		"payments": []gin.H{{"method": "CASH", "amount": "20"}},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var approved service.OrderDetails
	decode(t, w, &approved)
	require.NotNil(t, approved.Sale)
	assert.True(t, decimal.RequireFromString("8").Equal(approved.Sale.TotalCost))

	w = s.do(t, http.MethodPost, path+"/cancel", gin.H{"actor": "clerk"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "invalid_state")

	w = s.do(t, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var fetched service.OrderDetails
	decode(t, w, &fetched)
	assert.Equal(t, models.OrderStatusApproved, fetched.Order.Status)
	assert.Len(t, fetched.Events, 3)
}

func TestCreateOrderErrors(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name   string
		body   interface{}
		status int
	}{
		{"missing items", gin.H{"created_by": "clerk"}, http.StatusBadRequest},
		{"zero quantity", gin.H{"created_by": "clerk", "items": []gin.H{{"product_id": s.product.ID, "quantity": 0}}}, http.StatusBadRequest},
		{"unknown product", gin.H{"created_by": "clerk", "items": []gin.H{{"product_id": 999, "quantity": 1}}}, http.StatusNotFound},
		{"insufficient stock", gin.H{"created_by": "clerk", "items": []gin.H{{"product_id": s.product.ID, "quantity": 6}}}, http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(t, http.MethodPost, "/api/v1/orders", tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
		})
	}

	w := s.do(t, http.MethodGet, "/api/v1/orders/abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = s.do(t, http.MethodGet, "/api/v1/orders/12345", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestInsufficientStockBodyCarriesCounts(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/v1/orders", gin.H{
		"created_by": "clerk",
		"items":      []gin.H{{"product_id": s.product.ID, "quantity": 9}},
	})
	require.Equal(t, http.StatusConflict, w.Code)

	var body struct {
		Error     string `json:"error"`
		ProductID int64  `json:"product_id"`
		Requested int    `json:"requested"`
		Available int    `json:"available"`
	}
	decode(t, w, &body)
	assert.Equal(t, "insufficient_stock", body.Error)
	assert.Equal(t, s.product.ID, body.ProductID)
	assert.Equal(t, 9, body.Requested)
	assert.Equal(t, 5, body.Available)
}

func TestListOrders(t *testing.T) {
	s := newTestServer(t)
	s.createOrder(t, 1)
	s.createOrder(t, 1)

	w := s.do(t, http.MethodGet, "/api/v1/orders?status=PENDING&limit=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Orders []models.Order `json:"orders"`
	}
	decode(t, w, &body)
	assert.Len(t, body.Orders, 1)

	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/v1/orders?limit=x", nil).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/v1/orders?status=LOST", nil).Code)
}

func TestLotsAndAvailability(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/v1/lots", gin.H{
		"product_id":   s.product.ID,
		"quantity":     4,
		"unit_cost":    "4.50",
		"batch_number": "B-7",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = s.do(t, http.MethodGet, fmt.Sprintf("/api/v1/products/%d/lots", s.product.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var lots struct {
		Lots []models.Lot `json:"lots"`
	}
	decode(t, w, &lots)
	assert.Len(t, lots.Lots, 2)

	s.createOrder(t, 2)
	w = s.do(t, http.MethodGet, fmt.Sprintf("/api/v1/products/%d/availability", s.product.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var availability service.Availability
	decode(t, w, &availability)
	assert.Equal(t, 9, availability.OnHand)
	assert.Equal(t, 2, availability.Reserved)
	assert.Equal(t, 7, availability.Available)

	w = s.do(t, http.MethodGet, "/api/v1/products/999/availability", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestIdempotencyKeyHeader(t *testing.T) {
	s := newTestServer(t)
	body := gin.H{
		"created_by": "clerk",
		"items":      []gin.H{{"product_id": s.product.ID, "quantity": 1}},
	}

	// NoopCache remembers nothing, so both requests create orders
	first := s.do(t, http.MethodPost, "/api/v1/orders", body, "Idempotency-Key", "k-1")
	second := s.do(t, http.MethodPost, "/api/v1/orders", body, "Idempotency-Key", "k-1")
	assert.Equal(t, http.StatusCreated, first.Code)
	assert.Equal(t, http.StatusCreated, second.Code)
}

func TestStatusForMapsEveryDomainError(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("x: %w", models.ErrNotFound), http.StatusNotFound},
		{models.ErrInvalidInput, http.StatusBadRequest},
		{&models.StateError{Status: models.OrderStatusApproved}, http.StatusConflict},
		{&models.StockError{Kind: models.ErrInsufficientStock}, http.StatusConflict},
		{&models.LotError{}, http.StatusConflict},
		{&models.PaymentError{}, http.StatusUnprocessableEntity},
		{fmt.Errorf("create: %w", models.ErrDuplicateRequest), http.StatusConflict},
		{&models.StockError{Kind: models.ErrInvariantViolation}, http.StatusInternalServerError},
		{errors.New("db exploded"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		status, _ := statusFor(tt.err)
		assert.Equal(t, tt.status, status, tt.err.Error())
	}
}
