/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the retail model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Small response wrappers

TYPES:
  Inventory: InventoryItemDTO, CreateItemRequest, UpdateItemRequest,
             AdjustStockRequest, InventorySummaryDTO
  Sales:     SaleDTO, CreateSaleRequest, UpdateSaleRequest, SalesSummaryDTO
  Users:     UserDTO, UpdateRoleRequest, RegisterRequest
  Audit:     AuditEntryDTO
  Ops:       MonitorStatusDTO, MonitorRunDTO, ScenarioDTO, LoadScenarioRequest

MONEY:
  Prices and amounts are decimal strings on output ("12.50"). Input accepts
  either a JSON string or a JSON number.

VALIDATION:
  Structural checks use `validate` tags (go-playground/validator). Domain
  rules (negative price, stock levels, roles) stay in the retail package so
  they hold for every caller, not just HTTP.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/stockroom/retail"
)

// =============================================================================
// INVENTORY
// =============================================================================

// InventoryItemDTO represents an item in API responses.
type InventoryItemDTO struct {
	ID                string          `json:"id"`
	Item              string          `json:"item"`
	Description       string          `json:"description"`
	Price             decimal.Decimal `json:"price"`
	Quantity          int             `json:"quantity"`
	Category          string          `json:"category"`
	LowStockThreshold int             `json:"low_stock_threshold"`
	LowStock          bool            `json:"low_stock"`
	CreatedAt         string          `json:"created_at"`
	UpdatedAt         string          `json:"updated_at"`
}

// CreateItemRequest is the request to add an inventory item.
type CreateItemRequest struct {
	Item              string           `json:"item" validate:"required,max=200"`
	Description       string           `json:"description" validate:"max=2000"`
	Price             *decimal.Decimal `json:"price" validate:"required"`
	Quantity          *int             `json:"quantity" validate:"required"`
	Category          string           `json:"category" validate:"max=100"`
	LowStockThreshold *int             `json:"low_stock_threshold"`
}

// UpdateItemRequest carries the fields to change. Absent fields are kept.
type UpdateItemRequest struct {
	Item              *string          `json:"item" validate:"omitempty,max=200"`
	Description       *string          `json:"description" validate:"omitempty,max=2000"`
	Price             *decimal.Decimal `json:"price"`
	Quantity          *int             `json:"quantity"`
	Category          *string          `json:"category" validate:"omitempty,max=100"`
	LowStockThreshold *int             `json:"low_stock_threshold"`
}

// AdjustStockRequest applies a signed stock movement.
type AdjustStockRequest struct {
	Delta  int    `json:"delta"`
	Reason string `json:"reason" validate:"max=500"`
}

type InventorySummaryDTO struct {
	TotalValue    decimal.Decimal `json:"total_value"`
	UniqueItems   int             `json:"unique_items"`
	TotalUnits    int             `json:"total_units"`
	LowStockCount int             `json:"low_stock_count"`
	HealthyCount  int             `json:"healthy_count"`
}

// =============================================================================
// SALES
// =============================================================================

// SaleDTO represents a sale in API responses.
type SaleDTO struct {
	ID          string          `json:"id"`
	ItemID      string          `json:"item_id,omitempty"`
	Item        string          `json:"item"`
	Quantity    int             `json:"quantity"`
	Amount      decimal.Decimal `json:"amount"`
	Category    string          `json:"category"`
	Description string          `json:"description"`
	Verified    bool            `json:"verified"`
	CreatedBy   string          `json:"created_by"`
	CreatedAt   string          `json:"created_at"`
}

// CreateSaleRequest is the request to record a sale. The optional
// Idempotency-Key header makes retries safe.
type CreateSaleRequest struct {
	Item        string           `json:"item" validate:"required,max=200"`
	Quantity    int              `json:"quantity"`
	Amount      *decimal.Decimal `json:"amount" validate:"required"`
	Category    string           `json:"category" validate:"max=100"`
	Description string           `json:"description" validate:"max=2000"`
}

// UpdateSaleRequest carries edits and/or the verified flag.
type UpdateSaleRequest struct {
	Item        *string          `json:"item"`
	Quantity    *int             `json:"quantity"`
	Amount      *decimal.Decimal `json:"amount"`
	Category    *string          `json:"category" validate:"omitempty,max=100"`
	Description *string          `json:"description" validate:"omitempty,max=2000"`
	Verified    *bool            `json:"verified"`
}

type SalesSummaryDTO struct {
	VerifiedRevenue decimal.Decimal `json:"verified_revenue"`
	PendingValue    decimal.Decimal `json:"pending_value"`
	VerifiedCount   int             `json:"verified_count"`
	PendingCount    int             `json:"pending_count"`
	UnitsSold       int             `json:"units_sold"`
	TopCategory     string          `json:"top_category"`
	TopCategorySum  decimal.Decimal `json:"top_category_amount"`
}

// DeleteSaleResponse reports whether the sale's quantity went back to stock.
type DeleteSaleResponse struct {
	Message       string `json:"message"`
	StockRestored bool   `json:"stock_restored"`
	RestoredTo    string `json:"restored_to,omitempty"`
}

// =============================================================================
// USERS
// =============================================================================

// UserDTO never carries the password hash.
type UserDTO struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	CreatedAt string `json:"created_at"`
}

type UpdateRoleRequest struct {
	Role string `json:"role"`
}

type RegisterRequest struct {
	Email    string `json:"email" validate:"omitempty,email,max=254"`
	Password string `json:"password" validate:"omitempty,min=8,max=72"`
}

// IdentityDTO describes the caller.
type IdentityDTO struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
}

// =============================================================================
// AUDIT
// =============================================================================

type AuditEntryDTO struct {
	ID       string `json:"id"`
	At       string `json:"at"`
	Actor    string `json:"actor"`
	Action   string `json:"action"`
	SaleID   string `json:"sale_id,omitempty"`
	ItemID   string `json:"item_id,omitempty"`
	UserID   string `json:"user_id,omitempty"`
	Quantity int    `json:"quantity"`
	Detail   string `json:"detail,omitempty"`
}

// =============================================================================
// OPERATIONS
// =============================================================================

// MonitorRunDTO is one low-stock monitor pass.
type MonitorRunDTO struct {
	StartedAt   string              `json:"started_at"`
	CompletedAt string              `json:"completed_at,omitempty"`
	Status      string              `json:"status"`
	Error       string              `json:"error,omitempty"`
	Summary     InventorySummaryDTO `json:"summary"`
	LowStock    []InventoryItemDTO  `json:"low_stock"`
}

// MonitorStatusDTO is the body of GET /api/admin/monitor.
type MonitorStatusDTO struct {
	Enabled  bool           `json:"enabled"`
	Interval string         `json:"interval,omitempty"`
	LastRun  *MonitorRunDTO `json:"last_run"`
	NextRun  string         `json:"next_run,omitempty"`
}

// ScenarioDTO describes a demo data set.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// =============================================================================
// COMMON
// =============================================================================

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Message   string `json:"message"`
	Code      string `json:"code"`
	Available *int   `json:"available,omitempty"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func toItemDTO(i retail.InventoryItem) InventoryItemDTO {
	return InventoryItemDTO{
		ID:                string(i.ID),
		Item:              i.Name,
		Description:       i.Description,
		Price:             i.Price,
		Quantity:          i.Quantity,
		Category:          i.Category,
		LowStockThreshold: i.LowStockThreshold,
		LowStock:          i.LowStock(),
		CreatedAt:         formatTime(i.CreatedAt),
		UpdatedAt:         formatTime(i.UpdatedAt),
	}
}

func toSaleDTO(s retail.Sale) SaleDTO {
	return SaleDTO{
		ID:          string(s.ID),
		ItemID:      string(s.ItemID),
		Item:        s.Item,
		Quantity:    s.Quantity,
		Amount:      s.Amount,
		Category:    s.Category,
		Description: s.Note,
		Verified:    s.Verified,
		CreatedBy:   s.CreatedBy,
		CreatedAt:   formatTime(s.CreatedAt),
	}
}

func toUserDTO(u retail.UserProfile) UserDTO {
	return UserDTO{
		ID:        string(u.ID),
		Email:     u.Email,
		Role:      string(u.Role),
		CreatedAt: formatTime(u.CreatedAt),
	}
}

func toAuditDTO(e retail.AuditEntry) AuditEntryDTO {
	return AuditEntryDTO{
		ID:       e.ID,
		At:       formatTime(e.At),
		Actor:    e.Actor,
		Action:   string(e.Action),
		SaleID:   string(e.SaleID),
		ItemID:   string(e.ItemID),
		UserID:   string(e.UserID),
		Quantity: e.Quantity,
		Detail:   e.Detail,
	}
}

func (r CreateItemRequest) toNewItem() retail.NewItem {
	in := retail.NewItem{
		Name:              r.Item,
		Description:       r.Description,
		Category:          r.Category,
		LowStockThreshold: r.LowStockThreshold,
	}
	if r.Price != nil {
		in.Price = *r.Price
	}
	if r.Quantity != nil {
		in.Quantity = *r.Quantity
	}
	return in
}

func (r UpdateItemRequest) toPatch() retail.ItemPatch {
	return retail.ItemPatch{
		Name:              r.Item,
		Description:       r.Description,
		Price:             r.Price,
		Quantity:          r.Quantity,
		Category:          r.Category,
		LowStockThreshold: r.LowStockThreshold,
	}
}

func (r CreateSaleRequest) toNewSale(idempotencyKey string) retail.NewSale {
	in := retail.NewSale{
		Item:           r.Item,
		Quantity:       r.Quantity,
		Category:       r.Category,
		Note:           r.Description,
		IdempotencyKey: idempotencyKey,
	}
	if r.Amount != nil {
		in.Amount = *r.Amount
	}
	return in
}

func (r UpdateSaleRequest) toPatch() retail.SalePatch {
	return retail.SalePatch{
		Item:     r.Item,
		Quantity: r.Quantity,
		Amount:   r.Amount,
		Category: r.Category,
		Note:     r.Description,
		Verified: r.Verified,
	}
}

func toInventorySummaryDTO(s retail.InventorySummary) InventorySummaryDTO {
	return InventorySummaryDTO{
		TotalValue:    s.TotalValue,
		UniqueItems:   s.UniqueItems,
		TotalUnits:    s.TotalUnits,
		LowStockCount: s.LowStockCount,
		HealthyCount:  s.HealthyCount,
	}
}

func toMonitorRunDTO(run MonitorRun) MonitorRunDTO {
	low := make([]InventoryItemDTO, len(run.LowStock))
	for i, item := range run.LowStock {
		low[i] = toItemDTO(item)
	}
	return MonitorRunDTO{
		StartedAt:   formatTime(run.StartedAt),
		CompletedAt: formatTime(run.CompletedAt),
		Status:      run.Status,
		Error:       run.Error,
		Summary:     toInventorySummaryDTO(run.Summary),
		LowStock:    low,
	}
}

func toMonitorStatusDTO(sm *StockMonitor) MonitorStatusDTO {
	if sm == nil {
		return MonitorStatusDTO{}
	}
	dto := MonitorStatusDTO{
		Enabled:  sm.Enabled && sm.CheckInterval > 0,
		Interval: sm.CheckInterval.String(),
		NextRun:  formatTime(sm.GetNextRunTime()),
	}
	if last := sm.LastRun(); last != nil {
		run := toMonitorRunDTO(*last)
		dto.LastRun = &run
	}
	return dto
}
