/*
inventory.go - Inventory Ledger

PURPOSE:
  Owns item records and quantity on hand.

INVARIANTS:
  1. Quantity is never negative
  2. Price is never negative
  3. Name is non-empty and unique (case-insensitive), so sales can resolve
     stock by name without ambiguity
  4. Quantity changes only through AdjustQuantity

The ledger performs no role checks. Gates live in the engine, which is the
only mutation entry point used by the transport.

SEE ALSO:
  - store.go: InventoryStore.AdjustQuantity contract
  - engine.go: role-gated item operations
*/
package retail

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type InventoryLedger struct {
	store             InventoryStore
	now               func() time.Time
	lowStockThreshold int
}

func NewInventoryLedger(store InventoryStore) *InventoryLedger {
	return &InventoryLedger{
		store:             store,
		now:               func() time.Time { return time.Now().UTC() },
		lowStockThreshold: DefaultLowStockThreshold,
	}
}

// CreateItem validates and stores a new item.
func (l *InventoryLedger) CreateItem(ctx context.Context, in NewItem) (*InventoryItem, error) {
	now := l.now()
	item := InventoryItem{
		ID:                ItemID(uuid.NewString()),
		Name:              strings.TrimSpace(in.Name),
		Description:       in.Description,
		Price:             in.Price,
		Quantity:          in.Quantity,
		Category:          strings.TrimSpace(in.Category),
		LowStockThreshold: l.lowStockThreshold,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if item.Category == "" {
		item.Category = DefaultCategory
	}
	if in.LowStockThreshold != nil {
		item.LowStockThreshold = *in.LowStockThreshold
	}
	if err := validateItem(item); err != nil {
		return nil, err
	}
	if err := l.ensureNameFree(ctx, item.Name, ""); err != nil {
		return nil, err
	}
	if err := l.store.CreateItem(ctx, item); err != nil {
		return nil, err
	}
	return &item, nil
}

// UpdateItem merges patch into the item and re-validates it. A quantity in
// the patch is applied as a delta (target - current) through AdjustQuantity.
// The read and the adjustment are only atomic inside a transaction: on a
// store without WithTx, a sale that lands between them leaves the item at
// target minus the units sold, not at target.
func (l *InventoryLedger) UpdateItem(ctx context.Context, id ItemID, patch ItemPatch) (*InventoryItem, error) {
	current, err := l.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	next := *current
	if patch.Name != nil {
		next.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.Description != nil {
		next.Description = *patch.Description
	}
	if patch.Price != nil {
		next.Price = *patch.Price
	}
	if patch.Category != nil {
		next.Category = strings.TrimSpace(*patch.Category)
		if next.Category == "" {
			next.Category = DefaultCategory
		}
	}
	if patch.LowStockThreshold != nil {
		next.LowStockThreshold = *patch.LowStockThreshold
	}
	if patch.Quantity != nil {
		next.Quantity = *patch.Quantity
	}
	if err := validateItem(next); err != nil {
		return nil, err
	}
	if !strings.EqualFold(next.Name, current.Name) {
		if err := l.ensureNameFree(ctx, next.Name, id); err != nil {
			return nil, err
		}
	}

	next.Quantity = current.Quantity
	next.UpdatedAt = l.now()
	if err := l.store.UpdateItem(ctx, next); err != nil {
		return nil, err
	}

	if patch.Quantity != nil && *patch.Quantity != current.Quantity {
		return l.AdjustQuantity(ctx, id, *patch.Quantity-current.Quantity)
	}
	return &next, nil
}

// DeleteItem removes the item unconditionally. Sales that reference it are
// left untouched.
func (l *InventoryLedger) DeleteItem(ctx context.Context, id ItemID) error {
	return l.store.DeleteItem(ctx, id)
}

// FindByName resolves an item by case-insensitive exact name.
func (l *InventoryLedger) FindByName(ctx context.Context, name string) (*InventoryItem, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, invalid("item", "Item is required")
	}
	item, err := l.store.FindItemByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("find item %q: %w", name, err)
	}
	if item == nil {
		return nil, &ItemNotFoundError{Name: name}
	}
	return item, nil
}

// AdjustQuantity atomically applies delta to quantity on hand.
func (l *InventoryLedger) AdjustQuantity(ctx context.Context, id ItemID, delta int) (*InventoryItem, error) {
	return l.store.AdjustQuantity(ctx, id, delta)
}

func (l *InventoryLedger) Get(ctx context.Context, id ItemID) (*InventoryItem, error) {
	item, err := l.store.GetItem(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get item %s: %w", id, err)
	}
	if item == nil {
		return nil, &NotFoundError{Kind: "Item", ID: string(id)}
	}
	return item, nil
}

func (l *InventoryLedger) ensureNameFree(ctx context.Context, name string, self ItemID) error {
	existing, err := l.store.FindItemByName(ctx, name)
	if err != nil {
		return fmt.Errorf("find item %q: %w", name, err)
	}
	if existing != nil && existing.ID != self {
		return &ConflictError{Message: fmt.Sprintf("An item named %q already exists", existing.Name)}
	}
	return nil
}

func validateItem(item InventoryItem) error {
	if item.Name == "" {
		return invalid("item", "Item name is required")
	}
	if item.Price.IsNegative() {
		return invalid("price", "Price cannot be negative")
	}
	if item.Quantity < 0 {
		return invalid("quantity", "Quantity cannot be negative")
	}
	if item.LowStockThreshold < 0 {
		return invalid("low_stock_threshold", "Low stock threshold cannot be negative")
	}
	return nil
}
