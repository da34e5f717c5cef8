package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/inkwell-supplies/storefront/internal/middleware"
	"github.com/inkwell-supplies/storefront/internal/models"
	"github.com/inkwell-supplies/storefront/internal/services"
)

// CreateProductHandler handles POST /api/v1/products
func (a *App) CreateProductHandler(w http.ResponseWriter, r *http.Request) {
	var p models.Product
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := a.productService.CreateProduct(r.Context(), &p); err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, p)
}

// UpdateProductHandler handles PUT /api/v1/products/{id}
func (a *App) UpdateProductHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid product ID")
		return
	}

	var p models.Product
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	p.ID = id

	if err := a.productService.UpdateProduct(r.Context(), &p); err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, p)
}

// DeleteProductHandler handles DELETE /api/v1/products/{id}. Deletion is
// refused while order items reference the product.
func (a *App) DeleteProductHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid product ID")
		return
	}

	if err := a.productService.DeleteProduct(r.Context(), id); err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// ImportProductsHandler handles POST /api/v1/products/import with a CSV body.
func (a *App) ImportProductsHandler(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.SessionFromContext(r.Context())

	var body io.Reader = r.Body
	// Accept either a raw CSV body or a multipart upload under "file"
	if err := r.ParseMultipartForm(8 << 20); err == nil {
		if file, _, err := r.FormFile("file"); err == nil {
			defer file.Close()
			body = file
		}
	}

	result, err := a.productService.ImportCSV(r.Context(), body, claims.UserID)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// CreateCategoryHandler handles POST /api/v1/categories
func (a *App) CreateCategoryHandler(w http.ResponseWriter, r *http.Request) {
	var c models.Category
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := a.categoryService.CreateCategory(r.Context(), &c); err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, c)
}

// UpdateCategoryHandler handles PUT /api/v1/categories/{id}
func (a *App) UpdateCategoryHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid category ID")
		return
	}

	var c models.Category
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	c.ID = id

	if err := a.categoryService.UpdateCategory(r.Context(), &c); err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, c)
}

// DeleteCategoryHandler handles DELETE /api/v1/categories/{id}
func (a *App) DeleteCategoryHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid category ID")
		return
	}

	if err := a.categoryService.DeleteCategory(r.Context(), id); err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// ListUsersHandler handles GET /api/v1/users
func (a *App) ListUsersHandler(w http.ResponseWriter, r *http.Request) {
	users, err := a.userService.ListUsers(r.Context(), queryInt(r, "limit", 50), queryInt(r, "offset", 0))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if users == nil {
		users = []models.User{}
	}

	respondJSON(w, http.StatusOK, users)
}

// GetUserHandler handles GET /api/v1/users/{id}
func (a *App) GetUserHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid user ID")
		return
	}

	user, err := a.userService.GetUser(r.Context(), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, user)
}

// UpdateUserHandler handles PUT /api/v1/users/{id}
func (a *App) UpdateUserHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid user ID")
		return
	}

	var req struct {
		Role   string `json:"role"`
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := a.userService.UpdateUser(r.Context(), id, req.Role, req.Status); err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// DeleteUserHandler handles DELETE /api/v1/users/{id}
func (a *App) DeleteUserHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid user ID")
		return
	}

	if err := a.userService.DeleteUser(r.Context(), id); err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// ApproveWholesaleHandler handles POST /api/v1/users/{id}/wholesale/approve
func (a *App) ApproveWholesaleHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid user ID")
		return
	}

	if err := a.userService.ApproveWholesale(r.Context(), id); err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "approved"})
}

// RejectWholesaleHandler handles POST /api/v1/users/{id}/wholesale/reject
func (a *App) RejectWholesaleHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid user ID")
		return
	}

	if err := a.userService.RejectWholesale(r.Context(), id); err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "rejected"})
}

// ListMovementsHandler handles GET /api/v1/inventory/movements
func (a *App) ListMovementsHandler(w http.ResponseWriter, r *http.Request) {
	filter := services.MovementFilter{
		Limit:  queryInt(r, "limit", 50),
		Offset: queryInt(r, "offset", 0),
	}
	if p := r.URL.Query().Get("product_id"); p != "" {
		if parsed, err := strconv.ParseInt(p, 10, 64); err == nil {
			filter.ProductID = parsed
		}
	}

	movements, err := a.inventoryService.ListMovements(r.Context(), filter)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if movements == nil {
		movements = []models.InventoryMovement{}
	}

	respondJSON(w, http.StatusOK, movements)
}

// AdjustStockHandler handles POST /api/v1/inventory/adjustments
func (a *App) AdjustStockHandler(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.SessionFromContext(r.Context())

	var req models.AdjustStockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	movement, err := a.inventoryService.AdjustStock(r.Context(), claims.UserID, &req)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, movement)
}
