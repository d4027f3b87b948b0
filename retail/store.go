/*
store.go - Persistence interfaces for the ledgers

PURPOSE:
  Defines the boundary between the core and the database. The ledgers and
  the engine only ever talk to these interfaces; SQLite and in-memory
  implementations live outside this file.

KEY INTERFACES:
  InventoryStore: item records, with the atomic AdjustQuantity primitive
  SaleStore:      sale records and idempotency-key lookup
  UserStore:      back-office accounts
  AuditLog:       append-only record of mutations and compensations
  Store:          all of the above
  TxStore:        Store plus WithTx for all-or-nothing multi-step protocols

QUANTITY CONTRACT:
  AdjustQuantity is the ONLY write path for quantity. It must be a single
  conditional update (check-and-set) so two concurrent sales of the last
  unit cannot both succeed. UpdateItem persists every other field and
  ignores Quantity.

MISSING RECORDS:
  Get* methods return (nil, nil) when the record does not exist.
  Update and Delete methods return a *NotFoundError.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite
  - retail/store/memory.go: in-memory, for tests and dev

SEE ALSO:
  - engine.go: uses TxStore.WithTx when available, compensations otherwise
*/
package retail

import "context"

// =============================================================================
// LEDGER STORES
// =============================================================================

type InventoryStore interface {
	// CreateItem inserts a new item. Returns *ConflictError on a duplicate name.
	CreateItem(ctx context.Context, item InventoryItem) error

	GetItem(ctx context.Context, id ItemID) (*InventoryItem, error)

	// FindItemByName is a case-insensitive exact match.
	FindItemByName(ctx context.Context, name string) (*InventoryItem, error)

	// ListItems returns all items sorted by name ascending.
	ListItems(ctx context.Context) ([]InventoryItem, error)

	// UpdateItem persists every field except Quantity.
	UpdateItem(ctx context.Context, item InventoryItem) error

	DeleteItem(ctx context.Context, id ItemID) error

	// AdjustQuantity atomically adds delta to the item's quantity.
	// Returns *InsufficientStockError if the result would be negative and
	// *NotFoundError if the item does not exist.
	AdjustQuantity(ctx context.Context, id ItemID, delta int) (*InventoryItem, error)
}

type SaleStore interface {
	// CreateSale inserts a sale. Returns *ConflictError on a duplicate
	// idempotency key.
	CreateSale(ctx context.Context, sale Sale) error

	GetSale(ctx context.Context, id SaleID) (*Sale, error)
	GetSaleByIdempotencyKey(ctx context.Context, key string) (*Sale, error)

	// ListSales returns all sales, newest first.
	ListSales(ctx context.Context) ([]Sale, error)

	UpdateSale(ctx context.Context, sale Sale) error
	DeleteSale(ctx context.Context, id SaleID) error
}

type UserStore interface {
	// CreateUser inserts a user. Returns *ConflictError on a duplicate email.
	CreateUser(ctx context.Context, user UserProfile) error

	GetUser(ctx context.Context, id UserID) (*UserProfile, error)
	GetUserByEmail(ctx context.Context, email string) (*UserProfile, error)

	// ListUsers returns all users, newest first.
	ListUsers(ctx context.Context) ([]UserProfile, error)

	UpdateUserRole(ctx context.Context, id UserID, role Role) error
}

// AuditLog stores audit entries. Append-only.
type AuditLog interface {
	AppendAudit(ctx context.Context, entry AuditEntry) error

	// QueryAudit returns matching entries, newest first.
	QueryAudit(ctx context.Context, filter AuditFilter) ([]AuditEntry, error)
}

type Store interface {
	InventoryStore
	SaleStore
	UserStore
	AuditLog
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, the transaction is rolled back.
	// If fn returns nil, the transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// Atomically runs fn inside a transaction when store supports one, and
// directly against store otherwise.
func Atomically(ctx context.Context, store Store, fn func(Store) error) error {
	if tx, ok := store.(TxStore); ok {
		return tx.WithTx(ctx, fn)
	}
	return fn(store)
}
