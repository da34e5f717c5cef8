package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/inkwell-supplies/storefront/internal/auth"
	"github.com/inkwell-supplies/storefront/internal/db"
	"github.com/inkwell-supplies/storefront/internal/metrics"
	"github.com/inkwell-supplies/storefront/internal/middleware"
	"github.com/inkwell-supplies/storefront/internal/models"
	"github.com/inkwell-supplies/storefront/internal/services"
	"github.com/inkwell-supplies/storefront/pkg/config"
)

// App holds application dependencies
type App struct {
	config           *config.Config
	db               *db.DB
	metrics          *metrics.AppMetrics
	tokens           *auth.TokenManager
	productService   *services.ProductService
	categoryService  *services.CategoryService
	checkoutService  *services.CheckoutService
	orderService     *services.OrderService
	userService      *services.UserService
	inventoryService *services.InventoryService
}

// NewApp creates a new application instance
func NewApp(
	cfg *config.Config,
	database *db.DB,
	m *metrics.AppMetrics,
	tokens *auth.TokenManager,
	ps *services.ProductService,
	cats *services.CategoryService,
	cos *services.CheckoutService,
	ords *services.OrderService,
	us *services.UserService,
	inv *services.InventoryService,
) *App {
	return &App{
		config:           cfg,
		db:               database,
		metrics:          m,
		tokens:           tokens,
		productService:   ps,
		categoryService:  cats,
		checkoutService:  cos,
		orderService:     ords,
		userService:      us,
		inventoryService: inv,
	}
}

// SetupRoutes configures the HTTP routes
func (a *App) SetupRoutes(r *mux.Router) {
	// Middleware
	r.Use(middleware.RequestIDMiddleware)
	r.Use(middleware.CORSMiddleware)
	r.Use(middleware.RecoverMiddleware)
	r.Use(middleware.MetricsMiddleware(a.metrics))
	r.Use(middleware.SessionMiddleware(a.tokens, a.config.SessionCookieName))

	admin := middleware.RequireRole(models.RoleAdmin)
	warehouse := middleware.RequireRole(models.RoleWarehouse)

	// API Routes
	api := r.PathPrefix("/api/v1").Subrouter()

	// Auth
	api.HandleFunc("/auth/register", a.RegisterHandler).Methods("POST")
	api.HandleFunc("/auth/login", a.LoginHandler).Methods("POST")
	api.HandleFunc("/auth/logout", a.LogoutHandler).Methods("POST")
	api.HandleFunc("/auth/me", middleware.RequireAuth(a.MeHandler)).Methods("GET")

	// Catalog
	api.HandleFunc("/products", a.ListProductsHandler).Methods("GET")
	api.HandleFunc("/products", admin(a.CreateProductHandler)).Methods("POST")
	api.HandleFunc("/products/import", admin(a.ImportProductsHandler)).Methods("POST")
	api.HandleFunc("/products/{id}", a.GetProductHandler).Methods("GET")
	api.HandleFunc("/products/{id}", admin(a.UpdateProductHandler)).Methods("PUT")
	api.HandleFunc("/products/{id}", admin(a.DeleteProductHandler)).Methods("DELETE")

	api.HandleFunc("/categories", a.ListCategoriesHandler).Methods("GET")
	api.HandleFunc("/categories", admin(a.CreateCategoryHandler)).Methods("POST")
	api.HandleFunc("/categories/{id}", admin(a.UpdateCategoryHandler)).Methods("PUT")
	api.HandleFunc("/categories/{id}", admin(a.DeleteCategoryHandler)).Methods("DELETE")

	// Checkout and orders
	api.HandleFunc("/checkout", middleware.RequireAuth(a.CheckoutHandler)).Methods("POST")
	api.HandleFunc("/orders", middleware.RequireAuth(a.ListOrdersHandler)).Methods("GET")
	api.HandleFunc("/orders/{id}", middleware.RequireAuth(a.GetOrderHandler)).Methods("GET")
	api.HandleFunc("/orders/{id}/status", admin(a.UpdateOrderHandler)).Methods("PUT")

	// Users (admin)
	api.HandleFunc("/users", admin(a.ListUsersHandler)).Methods("GET")
	api.HandleFunc("/users/{id}", admin(a.GetUserHandler)).Methods("GET")
	api.HandleFunc("/users/{id}", admin(a.UpdateUserHandler)).Methods("PUT")
	api.HandleFunc("/users/{id}", admin(a.DeleteUserHandler)).Methods("DELETE")
	api.HandleFunc("/users/{id}/wholesale/approve", admin(a.ApproveWholesaleHandler)).Methods("POST")
	api.HandleFunc("/users/{id}/wholesale/reject", admin(a.RejectWholesaleHandler)).Methods("POST")

	// Inventory (admin or warehouse)
	api.HandleFunc("/inventory/movements", warehouse(a.ListMovementsHandler)).Methods("GET")
	api.HandleFunc("/inventory/adjustments", warehouse(a.AdjustStockHandler)).Methods("POST")

	// Health
	r.HandleFunc("/health", a.HealthHandler).Methods("GET")
}

// HealthHandler handles health check requests
func (a *App) HealthHandler(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

// respondServiceError maps service errors onto HTTP statuses. Unexpected
// errors are logged and surfaced as a generic 500.
func respondServiceError(w http.ResponseWriter, err error) {
	var outOfStock *services.OutOfStockError
	var unavailable *services.ProductUnavailableError

	switch {
	case errors.As(err, &outOfStock):
		respondError(w, http.StatusConflict, outOfStock.Error())
	case errors.As(err, &unavailable):
		respondError(w, http.StatusNotFound, unavailable.Error())
	case errors.Is(err, services.ErrNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, services.ErrInvalidInput), errors.Is(err, services.ErrEmptyCart):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, services.ErrEmailTaken),
		errors.Is(err, services.ErrProductInUse),
		errors.Is(err, services.ErrNotPendingReview):
		respondError(w, http.StatusConflict, err.Error())
	default:
		log.Printf("[ERROR] %v", err)
		respondError(w, http.StatusInternalServerError, "internal server error")
	}
}

func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
}

func queryInt(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return def
}

// ListProductsHandler handles GET /api/v1/products
func (a *App) ListProductsHandler(w http.ResponseWriter, r *http.Request) {
	filter := services.ProductFilter{
		Limit:  queryInt(r, "limit", 20),
		Offset: queryInt(r, "offset", 0),
	}
	if c := r.URL.Query().Get("category_id"); c != "" {
		if parsed, err := strconv.ParseInt(c, 10, 64); err == nil {
			filter.CategoryID = parsed
		}
	}

	// Non-staff only see active products
	claims, ok := middleware.SessionFromContext(r.Context())
	if !ok || (claims.Role != models.RoleAdmin && claims.Role != models.RoleWarehouse) {
		filter.ActiveOnly = true
	}

	products, err := a.productService.ListProducts(r.Context(), filter)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if products == nil {
		products = []models.Product{}
	}

	respondJSON(w, http.StatusOK, products)
}

// GetProductHandler handles GET /api/v1/products/{id}
func (a *App) GetProductHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid product ID")
		return
	}

	product, err := a.productService.GetProduct(r.Context(), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	// Inactive products are hidden from non-staff
	claims, ok := middleware.SessionFromContext(r.Context())
	if !product.IsActive && (!ok || (claims.Role != models.RoleAdmin && claims.Role != models.RoleWarehouse)) {
		respondError(w, http.StatusNotFound, "product not found")
		return
	}

	respondJSON(w, http.StatusOK, product)
}

// ListCategoriesHandler handles GET /api/v1/categories
func (a *App) ListCategoriesHandler(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.SessionFromContext(r.Context())
	activeOnly := !ok || claims.Role != models.RoleAdmin

	categories, err := a.categoryService.ListCategories(r.Context(), activeOnly)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if categories == nil {
		categories = []models.Category{}
	}

	respondJSON(w, http.StatusOK, categories)
}

// CheckoutHandler handles POST /api/v1/checkout. The buyer is the session
// user; the body userId is honored only when an admin places an order on a
// customer's behalf.
func (a *App) CheckoutHandler(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.SessionFromContext(r.Context())

	var req models.CheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	userID := claims.UserID
	role := claims.Role
	if req.UserID != 0 && req.UserID != claims.UserID && claims.Role == models.RoleAdmin {
		buyer, err := a.userService.GetUser(r.Context(), req.UserID)
		if err != nil {
			respondServiceError(w, err)
			return
		}
		userID = buyer.ID
		role = buyer.Role
	}

	order, err := a.checkoutService.PlaceOrder(r.Context(), userID, role, req.Items)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, order)
}

// ListOrdersHandler handles GET /api/v1/orders. Customers see their own
// orders; admins see everything.
func (a *App) ListOrdersHandler(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.SessionFromContext(r.Context())

	var (
		orders []models.Order
		err    error
	)
	if claims.Role == models.RoleAdmin {
		orders, err = a.orderService.ListAllOrders(r.Context(), queryInt(r, "limit", 50), queryInt(r, "offset", 0))
	} else {
		orders, err = a.orderService.ListUserOrders(r.Context(), claims.UserID)
	}
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if orders == nil {
		orders = []models.Order{}
	}

	respondJSON(w, http.StatusOK, orders)
}

// GetOrderHandler handles GET /api/v1/orders/{id}
func (a *App) GetOrderHandler(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.SessionFromContext(r.Context())

	id, err := pathID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order ID")
		return
	}

	order, err := a.orderService.GetOrder(r.Context(), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	if order.UserID != claims.UserID && claims.Role != models.RoleAdmin {
		respondError(w, http.StatusForbidden, "insufficient permissions")
		return
	}

	respondJSON(w, http.StatusOK, order)
}

// UpdateOrderHandler handles PUT /api/v1/orders/{id}/status
func (a *App) UpdateOrderHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order ID")
		return
	}

	var req models.UpdateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := a.orderService.UpdateOrder(r.Context(), id, &req); err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}
