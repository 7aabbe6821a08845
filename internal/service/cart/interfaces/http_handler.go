package interfaces

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"nexus-cart/internal/pkg/logger"
	"nexus-cart/internal/service/cart/application"
	"nexus-cart/internal/service/cart/domain"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// HeaderUserID 由网关在认证后写入
const HeaderUserID = "X-User-ID"

var errInvalidBody = domain.NewValidationError("invalid request body")

// CartUseCases 是处理器依赖的购物车用例
type CartUseCases interface {
	AddItem(ctx context.Context, userID, productID string, quantity int64) (*application.CartView, error)
	UpdateItemQuantity(ctx context.Context, userID, productID string, newQuantity int64) (*application.CartView, error)
	RemoveItem(ctx context.Context, userID, productID string) (*application.CartView, error)
	GetCart(ctx context.Context, userID string, page, limit int) (*application.CartView, error)
	UpsertProduct(ctx context.Context, req *application.UpsertProductRequest) (*application.ProductView, error)
	GetProduct(ctx context.Context, id string) (*application.ProductView, error)
	Ping(ctx context.Context) error
}

// CartHandler 封装了购物车服务的 HTTP 处理器
type CartHandler struct {
	service CartUseCases
}

func NewCartHandler(service CartUseCases) *CartHandler {
	return &CartHandler{service: service}
}

type addItemRequest struct {
	ProductID string `json:"productId"`
	Quantity  int64  `json:"quantity"`
}

type updateItemRequest struct {
	Quantity *int64 `json:"quantity"`
}

type upsertProductBody struct {
	Name          string `json:"name"`
	Price         int64  `json:"price"`
	StockQuantity int64  `json:"stockQuantity"`
}

type errorResponse struct {
	Error   domain.ErrorKind `json:"error"`
	Message string           `json:"message"`
}

// RegisterRoutes 注册业务与健康检查路由
func (h *CartHandler) RegisterRoutes(r chi.Router) {
	r.Use(middleware.RequestID, middleware.Recoverer, TraceContext, RequestLogger)

	r.Route("/cart", func(r chi.Router) {
		r.Get("/", h.handleGetCart)
		r.Post("/items", h.handleAddItem)
		r.Patch("/items/{productId}", h.handleUpdateItem)
		r.Delete("/items/{productId}", h.handleRemoveItem)
	})

	r.Route("/admin/products", func(r chi.Router) {
		r.Put("/{id}", h.handleUpsertProduct)
		r.Get("/{id}", h.handleGetProduct)
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", h.handleReady)
}

func (h *CartHandler) handleGetCart(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get(HeaderUserID)
	page, err := queryInt(r, "page")
	if err != nil {
		writeError(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, r, err)
		return
	}

	view, err := h.service.GetCart(r.Context(), userID, page, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *CartHandler) handleAddItem(w http.ResponseWriter, r *http.Request) {
	var req addItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, errInvalidBody)
		return
	}

	view, err := h.service.AddItem(r.Context(), r.Header.Get(HeaderUserID), req.ProductID, req.Quantity)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *CartHandler) handleUpdateItem(w http.ResponseWriter, r *http.Request) {
	var req updateItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Quantity == nil {
		writeError(w, r, errInvalidBody)
		return
	}

	view, err := h.service.UpdateItemQuantity(r.Context(), r.Header.Get(HeaderUserID), chi.URLParam(r, "productId"), *req.Quantity)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *CartHandler) handleRemoveItem(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.RemoveItem(r.Context(), r.Header.Get(HeaderUserID), chi.URLParam(r, "productId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *CartHandler) handleUpsertProduct(w http.ResponseWriter, r *http.Request) {
	var body upsertProductBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, r, errInvalidBody)
		return
	}

	view, err := h.service.UpsertProduct(r.Context(), &application.UpsertProductRequest{
		ID:            chi.URLParam(r, "id"),
		Name:          body.Name,
		Price:         body.Price,
		StockQuantity: body.StockQuantity,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *CartHandler) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.GetProduct(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *CartHandler) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Ping(r.Context()); err != nil {
		logger.Ctx(r.Context()).Warn().Err(err).Msg("store not ready")
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func queryInt(r *http.Request, key string) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, domain.NewValidationError(key + " must be an integer")
	}
	return n, nil
}

// statusOf 根据错误类型返回不同的 HTTP 状态码
func statusOf(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindInsufficientStock:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := domain.KindOf(err)
	status := statusOf(kind)
	if status == http.StatusInternalServerError {
		logger.Ctx(r.Context()).Error().Err(err).Msg("request failed")
		// 事务中止在重试后仍失败，对外统一为 INTERNAL
		kind = domain.KindInternal
	}
	writeJSON(w, status, errorResponse{Error: kind, Message: domain.PublicMessage(err)})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
