/*
Package retail is the stock/sale consistency core of the back-office.

PURPOSE:
  Inventory quantity and sale records must stay mutually consistent while
  staff record sales, finance verifies them and admins correct mistakes.
  This package owns the records, the invariants that protect them, and the
  protocols that move stock between the two ledgers.

KEY CONCEPTS IN THIS FILE (types.go):
  - InventoryItem: a stocked product with quantity on hand
  - Sale: a recorded sale, optionally verified by finance
  - UserProfile: a back-office account and its role
  - Role / Identity: who is calling, resolved per request
  - AuditEntry: who changed what, including compensating actions

DESIGN PRINCIPLES:
  1. Quantity is never negative, and only AdjustQuantity writes it
  2. Money uses decimal.Decimal, never float64
  3. Roles are a closed set validated at every boundary
  4. Identity is passed explicitly into every mutation, never read from globals

SEE ALSO:
  - inventory.go: Inventory Ledger
  - sales.go: Sale Ledger and its verification state machine
  - engine.go: Consistency Engine (create/delete protocols)
  - roles.go: Role Management
*/
package retail

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ItemID string
type SaleID string
type UserID string

// DefaultCategory is applied when an item or sale is created without one.
const DefaultCategory = "General"

// DefaultLowStockThreshold is the alert level used when none is configured.
const DefaultLowStockThreshold = 5

// =============================================================================
// ROLES & IDENTITY
// =============================================================================

// Role is the closed set of back-office roles.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleFinance Role = "finance"
	RoleStaff   Role = "staff"
)

// Roles lists every valid role.
var Roles = []Role{RoleAdmin, RoleFinance, RoleStaff}

// ParseRole validates s against the closed role set. Matching is exact:
// "Admin" is not a role.
func ParseRole(s string) (Role, error) {
	for _, r := range Roles {
		if string(r) == s {
			return r, nil
		}
	}
	return "", &ValidationError{Field: "role", Message: "Invalid role"}
}

func (r Role) Valid() bool {
	_, err := ParseRole(string(r))
	return err == nil
}

// Identity is the resolved caller of a request.
// The zero value is an unauthenticated caller.
type Identity struct {
	UserID UserID
	Email  string
	Role   Role
}

// Authenticated reports whether the identity carries a valid role.
func (id Identity) Authenticated() bool {
	return id.Role.Valid()
}

// Actor is the string recorded as created_by / audit actor.
func (id Identity) Actor() string {
	if id.Email != "" {
		return id.Email
	}
	return string(id.UserID)
}

// =============================================================================
// INVENTORY
// =============================================================================

type InventoryItem struct {
	ID                ItemID
	Name              string
	Description       string
	Price             decimal.Decimal
	Quantity          int
	Category          string
	LowStockThreshold int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// LowStock reports whether the item is below its alert level.
func (i InventoryItem) LowStock() bool {
	return i.Quantity < i.LowStockThreshold
}

// StockValue is price times quantity on hand.
func (i InventoryItem) StockValue() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// NewItem is the input for creating an inventory item.
type NewItem struct {
	Name              string
	Description       string
	Price             decimal.Decimal
	Quantity          int
	Category          string
	LowStockThreshold *int
}

// ItemPatch carries the fields to merge into an item. Nil means unchanged.
type ItemPatch struct {
	Name              *string
	Description       *string
	Price             *decimal.Decimal
	Quantity          *int
	Category          *string
	LowStockThreshold *int
}

func (p ItemPatch) Empty() bool {
	return p.Name == nil && p.Description == nil && p.Price == nil &&
		p.Quantity == nil && p.Category == nil && p.LowStockThreshold == nil
}

// =============================================================================
// SALES
// =============================================================================

type Sale struct {
	ID       SaleID
	ItemID   ItemID // reference captured at creation; empty for legacy rows
	Item     string // item name at sale time, for display and search
	Quantity int
	Amount   decimal.Decimal // entered independently of unit price
	Category string
	Note     string
	Verified bool

	IdempotencyKey string
	CreatedBy      string
	CreatedAt      time.Time
}

// NewSale is the input for recording a sale.
type NewSale struct {
	Item           string
	Quantity       int
	Amount         decimal.Decimal
	Category       string
	Note           string
	IdempotencyKey string
}

// SalePatch carries the fields of a sale update. Verified is handled by the
// verification toggle; every other field is an edit.
type SalePatch struct {
	Item     *string
	Quantity *int
	Amount   *decimal.Decimal
	Category *string
	Note     *string
	Verified *bool
}

// HasEdits reports whether the patch touches anything besides Verified.
func (p SalePatch) HasEdits() bool {
	return p.Item != nil || p.Quantity != nil || p.Amount != nil ||
		p.Category != nil || p.Note != nil
}

// =============================================================================
// USERS
// =============================================================================

type UserProfile struct {
	ID           UserID
	Email        string
	Role         Role
	PasswordHash string
	CreatedAt    time.Time
}

// =============================================================================
// AUDIT
// =============================================================================

type AuditAction string

const (
	AuditItemCreated          AuditAction = "item_created"
	AuditItemUpdated          AuditAction = "item_updated"
	AuditItemDeleted          AuditAction = "item_deleted"
	AuditStockAdjusted        AuditAction = "stock_adjusted"
	AuditSaleRecorded         AuditAction = "sale_recorded"
	AuditSaleEdited           AuditAction = "sale_edited"
	AuditSaleVerified         AuditAction = "sale_verified"
	AuditSaleUnverified       AuditAction = "sale_unverified"
	AuditSaleDeleted          AuditAction = "sale_deleted"
	AuditStockRestored        AuditAction = "stock_restored"
	AuditStockRestoreSkipped  AuditAction = "stock_restore_skipped"
	AuditStockRestoreReversed AuditAction = "stock_restore_reversed"
	AuditRoleChanged          AuditAction = "role_changed"
)

// AuditEntry records who did what when. Append-only.
type AuditEntry struct {
	ID       string
	At       time.Time
	Actor    string
	Action   AuditAction
	SaleID   SaleID
	ItemID   ItemID
	UserID   UserID
	Quantity int
	Detail   string
}

type AuditFilter struct {
	SaleID  *SaleID
	ItemID  *ItemID
	Actions []AuditAction
	Limit   int
}
