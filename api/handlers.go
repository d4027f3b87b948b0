/*
handlers.go - HTTP API handlers for the stockroom back-office

PURPOSE:
  Exposes the retail engine via REST API. Handles HTTP request/response and
  JSON serialization, and delegates every rule to the retail package.

ENDPOINTS:
  Inventory:
    GET    /api/inventory               List items, by name
    POST   /api/inventory               Add an item (any signed-in role)
    GET    /api/inventory/summary       Stock value and low-stock counts
    PATCH  /api/inventory/{id}          Edit an item (admin)
    DELETE /api/inventory/{id}          Remove an item (admin)
    POST   /api/inventory/{id}/stock    Manual stock movement (admin)

  Sales:
    GET    /api/sales                   List sales, newest first
    POST   /api/sales                   Record a sale, decrementing stock
    GET    /api/sales/summary           Verified revenue vs pending
    GET    /api/sales/{id}              One sale
    PATCH  /api/sales/{id}              Edit and/or toggle verified
    DELETE /api/sales/{id}              Delete and restore stock (admin)

  Users:
    POST   /api/register                Create a staff account
    GET    /api/me                      The resolved caller
    GET    /api/admin/users             List users (admin)
    PATCH  /api/admin/users/{id}        Change a role (admin)
    GET    /api/admin/audit             Audit trail (admin)

  Operations (admin):
    GET    /api/admin/monitor           Last low-stock monitor run
    POST   /api/admin/monitor/run       Run the monitor now
    GET    /api/admin/scenarios         Demo data sets
    GET    /api/admin/scenarios/current Loaded demo, if any
    POST   /api/admin/scenarios/load    Wipe and load a demo

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate structure (validate tags)
  3. Call the engine with the caller's Identity
  4. Serialize response
  5. Map errors (errors.go)

ERROR HANDLING:
  Errors are returned as JSON {message, code} with HTTP status:
  - 400: Validation, item not in inventory, insufficient stock
  - 401: No resolvable identity
  - 403: Role gate failed
  - 404: Sale, item or user not found
  - 409: Duplicate item name
  - 500: Internal errors (generic message, detail in logs)

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - scheduler.go, scenarios.go: operations endpoints
*/
package api

import (
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/warp/stockroom/auth"
	"github.com/warp/stockroom/logger"
	"github.com/warp/stockroom/retail"
)

const (
	defaultAuditLimit = 100
	maxAuditLimit     = 1000
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store  retail.Store
	Engine *retail.Engine
	Roles  *retail.RoleManager

	// Monitor, when set, backs the /api/admin/monitor endpoints.
	Monitor *StockMonitor

	validate *validator.Validate

	scenarioMu      sync.Mutex
	currentScenario string
}

// NewHandler creates a handler. Reads go straight to store; every mutation
// goes through engine or the role manager.
func NewHandler(store retail.Store, engine *retail.Engine) *Handler {
	return &Handler{
		Store:    store,
		Engine:   engine,
		Roles:    retail.NewRoleManager(store),
		validate: newValidator(),
	}
}

// =============================================================================
// INVENTORY HANDLERS
// =============================================================================

// ListInventory returns all items sorted by name.
func (h *Handler) ListInventory(w http.ResponseWriter, r *http.Request) {
	items, err := h.Store.ListItems(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	dtos := make([]InventoryItemDTO, len(items))
	for i, item := range items {
		dtos[i] = toItemDTO(item)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateItem adds a new item.
func (h *Handler) CreateItem(w http.ResponseWriter, r *http.Request) {
	var req CreateItemRequest
	if err := h.decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	item, err := h.Engine.CreateItem(r.Context(), identityFrom(r.Context()), req.toNewItem())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toItemDTO(*item))
}

// InventorySummary aggregates stock value and alert counts.
func (h *Handler) InventorySummary(w http.ResponseWriter, r *http.Request) {
	items, err := h.Store.ListItems(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toInventorySummaryDTO(retail.SummarizeInventory(items)))
}

// UpdateItem merges the given fields into an item.
func (h *Handler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	var req UpdateItemRequest
	if err := h.decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	id := retail.ItemID(chi.URLParam(r, "id"))
	item, err := h.Engine.UpdateItem(r.Context(), identityFrom(r.Context()), id, req.toPatch())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toItemDTO(*item))
}

// DeleteItem removes an item. Its sales are kept.
func (h *Handler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	id := retail.ItemID(chi.URLParam(r, "id"))
	if err := h.Engine.DeleteItem(r.Context(), identityFrom(r.Context()), id); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Deleted"})
}

// AdjustStock applies a manual delta.
func (h *Handler) AdjustStock(w http.ResponseWriter, r *http.Request) {
	var req AdjustStockRequest
	if err := h.decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	id := retail.ItemID(chi.URLParam(r, "id"))
	item, err := h.Engine.AdjustStock(r.Context(), identityFrom(r.Context()), id, req.Delta, req.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toItemDTO(*item))
}

// =============================================================================
// SALE HANDLERS
// =============================================================================

// ListSales returns all sales, newest first.
func (h *Handler) ListSales(w http.ResponseWriter, r *http.Request) {
	sales, err := h.Store.ListSales(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	dtos := make([]SaleDTO, len(sales))
	for i, s := range sales {
		dtos[i] = toSaleDTO(s)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetSale returns a single sale.
func (h *Handler) GetSale(w http.ResponseWriter, r *http.Request) {
	sale, err := retail.NewSaleLedger(h.Store).FindByID(r.Context(), retail.SaleID(chi.URLParam(r, "id")))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSaleDTO(*sale))
}

// CreateSale records a sale. A repeated Idempotency-Key returns the first
// sale with 200 instead of 201.
func (h *Handler) CreateSale(w http.ResponseWriter, r *http.Request) {
	var req CreateSaleRequest
	if err := h.decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	key := r.Header.Get("Idempotency-Key")
	result, err := h.Engine.CreateSale(r.Context(), identityFrom(r.Context()), req.toNewSale(key))
	if err != nil {
		writeError(w, r, err)
		return
	}

	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
		logger.WithCtx(r.Context()).Info("idempotent sale replay", "sale_id", result.Sale.ID)
	}
	writeJSON(w, status, toSaleDTO(result.Sale))
}

// SalesSummary splits revenue by verification state.
func (h *Handler) SalesSummary(w http.ResponseWriter, r *http.Request) {
	sales, err := h.Store.ListSales(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	s := retail.SummarizeSales(sales)
	writeJSON(w, http.StatusOK, SalesSummaryDTO{
		VerifiedRevenue: s.VerifiedRevenue,
		PendingValue:    s.PendingValue,
		VerifiedCount:   s.VerifiedCount,
		PendingCount:    s.PendingCount,
		UnitsSold:       s.UnitsSold,
		TopCategory:     s.TopCategory,
		TopCategorySum:  s.TopCategorySum,
	})
}

// UpdateSale applies edits and/or the verified toggle.
func (h *Handler) UpdateSale(w http.ResponseWriter, r *http.Request) {
	var req UpdateSaleRequest
	if err := h.decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	id := retail.SaleID(chi.URLParam(r, "id"))
	sale, err := h.Engine.PatchSale(r.Context(), identityFrom(r.Context()), id, req.toPatch())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSaleDTO(*sale))
}

// DeleteSale removes a sale and returns its quantity to stock.
func (h *Handler) DeleteSale(w http.ResponseWriter, r *http.Request) {
	id := retail.SaleID(chi.URLParam(r, "id"))
	result, err := h.Engine.DeleteSale(r.Context(), identityFrom(r.Context()), id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	// The message is fixed; stock_restored is false when the item is gone.
	writeJSON(w, http.StatusOK, DeleteSaleResponse{
		Message:       "Deleted and stock restored",
		StockRestored: result.Restored,
		RestoredTo:    string(result.RestoredTo),
	})
}

// =============================================================================
// USER HANDLERS
// =============================================================================

// Register creates a staff account.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := h.decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	var hash string
	if req.Password != "" {
		var err error
		if hash, err = auth.HashPassword(req.Password); err != nil {
			writeError(w, r, err)
			return
		}
	}

	user, err := h.Roles.Register(r.Context(), req.Email, hash)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserDTO(*user))
}

// Me returns the resolved caller.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())
	if !id.Authenticated() {
		writeError(w, r, &retail.UnauthenticatedError{})
		return
	}
	writeJSON(w, http.StatusOK, IdentityDTO{
		UserID: string(id.UserID),
		Email:  id.Email,
		Role:   string(id.Role),
	})
}

// ListUsers returns all profiles.
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.Roles.ListUsers(r.Context(), identityFrom(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}

	dtos := make([]UserDTO, len(users))
	for i, u := range users {
		dtos[i] = toUserDTO(u)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// UpdateUserRole changes a user's role.
func (h *Handler) UpdateUserRole(w http.ResponseWriter, r *http.Request) {
	var req UpdateRoleRequest
	if err := h.decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	// Promote checks the caller's role before validating the requested one.
	id := retail.UserID(chi.URLParam(r, "id"))
	user, err := h.Roles.Promote(r.Context(), identityFrom(r.Context()), id, retail.Role(req.Role))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserDTO(*user))
}

// =============================================================================
// AUDIT HANDLERS
// =============================================================================

// ListAudit returns audit entries, newest first. Filters: sale_id, item_id,
// action (repeatable), limit.
func (h *Handler) ListAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := retail.AuditFilter{Limit: defaultAuditLimit}
	if v := q.Get("sale_id"); v != "" {
		id := retail.SaleID(v)
		filter.SaleID = &id
	}
	if v := q.Get("item_id"); v != "" {
		id := retail.ItemID(v)
		filter.ItemID = &id
	}
	for _, a := range q["action"] {
		filter.Actions = append(filter.Actions, retail.AuditAction(a))
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxAuditLimit {
			writeError(w, r, &retail.ValidationError{Field: "limit", Message: "Limit must be between 1 and 1000"})
			return
		}
		filter.Limit = n
	}

	entries, err := h.Engine.AuditTrail(r.Context(), identityFrom(r.Context()), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	dtos := make([]AuditEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toAuditDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}
