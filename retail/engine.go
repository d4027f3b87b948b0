/*
engine.go - Stock/Sale Consistency Engine

PURPOSE:
  Makes the Inventory Ledger and the Sale Ledger change together. It is the
  single mutation entry point for the transport: every role gate is
  checked here (or in the Sale Ledger it calls) before anything is written.

CREATE SALE PROTOCOL:
  1. Resolve the item by name           → ItemNotFoundError
  2. Check quantity >= requested        → InsufficientStockError
  3. Decrement quantity (atomic)        → InsufficientStockError on a lost race
  4. Create the sale, verified=false, created_by=caller
  Steps 3-4 are one unit: inside WithTx when the store supports it,
  otherwise a failed step 4 is compensated by re-incrementing stock.

DELETE SALE PROTOCOL (admin only):
  1. Load the sale                      → NotFoundError
  2. Resolve the item (by id, then by name) and restore the sale quantity.
     If the item is gone, restoration is skipped, logged and audited.
  3. Delete the sale
  Without a transaction, stock is restored before the delete: a dangling
  sale is recoverable, silently lost stock is not.

EDIT / VERIFY:
  Pure Sale Ledger operations. Editing a sale's quantity does NOT move
  stock.

AUDIT:
  Every mutation appends an AuditEntry through the same store handle, so
  in transactional mode the audit row commits or rolls back with the data.

SEE ALSO:
  - sales.go: gates and state machine
  - inventory.go: AdjustQuantity
*/
package retail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Observer receives engine outcomes, e.g. for metrics.
type Observer interface {
	SaleRecorded(sale Sale)
	SaleRejected(reason string)
	SaleDeleted(sale Sale, restored bool)
}

type nopObserver struct{}

func (nopObserver) SaleRecorded(Sale)      {}
func (nopObserver) SaleRejected(string)    {}
func (nopObserver) SaleDeleted(Sale, bool) {}

type Engine struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time

	// Observer defaults to a no-op.
	Observer Observer

	// LowStockThreshold is applied to new items that do not set one.
	LowStockThreshold int
}

func NewEngine(store Store, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:             store,
		logger:            logger,
		now:               func() time.Time { return time.Now().UTC() },
		Observer:          nopObserver{},
		LowStockThreshold: DefaultLowStockThreshold,
	}
}

// SaleResult is the outcome of CreateSale. Replayed is true when the
// idempotency key matched an earlier sale and nothing was written.
type SaleResult struct {
	Sale     Sale
	Replayed bool
}

// DeleteResult is the outcome of DeleteSale.
type DeleteResult struct {
	Sale       Sale
	Restored   bool
	RestoredTo ItemID
}

// =============================================================================
// SALES
// =============================================================================

// CreateSale records a sale and decrements stock as one unit.
func (e *Engine) CreateSale(ctx context.Context, caller Identity, in NewSale) (*SaleResult, error) {
	if err := requireAuthenticated(caller); err != nil {
		return nil, err
	}
	if err := validateNewSale(in); err != nil {
		return nil, err
	}

	var result SaleResult
	err := e.atomically(ctx, func(s Store) error {
		if in.IdempotencyKey != "" {
			existing, err := s.GetSaleByIdempotencyKey(ctx, in.IdempotencyKey)
			if err != nil {
				return fmt.Errorf("lookup idempotency key: %w", err)
			}
			if existing != nil {
				result = SaleResult{Sale: *existing, Replayed: true}
				return nil
			}
		}

		inventory := e.inventory(s)
		item, err := inventory.FindByName(ctx, in.Item)
		if err != nil {
			return err
		}
		if item.Quantity < in.Quantity {
			return &InsufficientStockError{
				ItemID: item.ID, Item: item.Name,
				Available: item.Quantity, Requested: in.Quantity,
			}
		}

		decremented, err := inventory.AdjustQuantity(ctx, item.ID, -in.Quantity)
		if err != nil {
			return err
		}

		sale, err := NewSaleLedger(s).CreateSale(ctx, *decremented, in, caller.Actor())
		if err != nil {
			if !e.transactional() {
				e.compensateDecrement(ctx, s, item.ID, in.Quantity, err)
			}
			return err
		}

		result = SaleResult{Sale: *sale}
		return e.audit(ctx, s, AuditEntry{
			Actor:    caller.Actor(),
			Action:   AuditSaleRecorded,
			SaleID:   sale.ID,
			ItemID:   item.ID,
			Quantity: sale.Quantity,
			Detail:   fmt.Sprintf("stock %d -> %d", item.Quantity, decremented.Quantity),
		})
	})
	if err != nil {
		e.Observer.SaleRejected(rejectionReason(err))
		return nil, err
	}
	if !result.Replayed {
		e.Observer.SaleRecorded(result.Sale)
	}
	return &result, nil
}

// PatchSale applies edits and/or a verification toggle. Stock is never
// touched, even when quantity changes.
func (e *Engine) PatchSale(ctx context.Context, caller Identity, id SaleID, patch SalePatch) (*Sale, error) {
	if !patch.HasEdits() && patch.Verified == nil {
		return nil, invalid("", "Nothing to update")
	}

	var updated Sale
	err := e.atomically(ctx, func(s Store) error {
		change, err := NewSaleLedger(s).UpdateSale(ctx, id, patch, caller)
		if err != nil {
			return err
		}
		updated = change.After

		if change.VerificationChanged() {
			action := AuditSaleUnverified
			if change.After.Verified {
				action = AuditSaleVerified
			}
			if err := e.audit(ctx, s, AuditEntry{
				Actor: caller.Actor(), Action: action,
				SaleID: id, ItemID: change.After.ItemID, Quantity: change.After.Quantity,
			}); err != nil {
				return err
			}
		}
		if patch.HasEdits() {
			return e.audit(ctx, s, AuditEntry{
				Actor: caller.Actor(), Action: AuditSaleEdited,
				SaleID: id, ItemID: change.After.ItemID, Quantity: change.After.Quantity,
				Detail: fmt.Sprintf("quantity %d -> %d, amount %s -> %s",
					change.Before.Quantity, change.After.Quantity,
					change.Before.Amount, change.After.Amount),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// ToggleVerified is PatchSale with only the verified flag.
func (e *Engine) ToggleVerified(ctx context.Context, caller Identity, id SaleID, verified bool) (*Sale, error) {
	return e.PatchSale(ctx, caller, id, SalePatch{Verified: &verified})
}

// DeleteSale restores the sale's quantity to stock and removes the sale.
func (e *Engine) DeleteSale(ctx context.Context, caller Identity, id SaleID) (*DeleteResult, error) {
	if err := authorizeDelete(caller); err != nil {
		return nil, err
	}

	var result DeleteResult
	err := e.atomically(ctx, func(s Store) error {
		sales := NewSaleLedger(s)
		sale, err := sales.FindByID(ctx, id)
		if err != nil {
			return err
		}
		result.Sale = *sale

		restoredTo, err := e.restoreStock(ctx, s, caller, *sale)
		if err != nil {
			return err
		}
		result.Restored = restoredTo != ""
		result.RestoredTo = restoredTo

		if err := sales.DeleteSale(ctx, id, caller); err != nil {
			if !e.transactional() && result.Restored {
				if errors.Is(err, ErrNotFound) {
					// Another delete removed the sale first and restored its
					// stock; undo ours so the quantity is restored once.
					e.reverseRestore(ctx, s, caller, *sale, restoredTo)
				} else {
					e.logger.ErrorContext(ctx, "sale delete failed after stock restoration",
						"sale_id", id, "item_id", restoredTo, "quantity", sale.Quantity, "error", err)
				}
			}
			return err
		}
		return e.audit(ctx, s, AuditEntry{
			Actor: caller.Actor(), Action: AuditSaleDeleted,
			SaleID: id, ItemID: sale.ItemID, Quantity: sale.Quantity,
		})
	})
	if err != nil {
		return nil, err
	}
	e.Observer.SaleDeleted(result.Sale, result.Restored)
	return &result, nil
}

// restoreStock puts a deleted sale's quantity back. It returns the item the
// stock went to, or "" when no item could be resolved.
func (e *Engine) restoreStock(ctx context.Context, s Store, caller Identity, sale Sale) (ItemID, error) {
	item, err := e.resolveSaleItem(ctx, s, sale)
	if err != nil {
		e.logger.WarnContext(ctx, "stock restoration lookup failed; skipping",
			"sale_id", sale.ID, "item", sale.Item, "error", err)
		item = nil
	}
	if item == nil {
		e.logger.WarnContext(ctx, "item for deleted sale no longer exists; stock not restored",
			"sale_id", sale.ID, "item", sale.Item, "item_id", sale.ItemID, "quantity", sale.Quantity)
		return "", e.audit(ctx, s, AuditEntry{
			Actor: caller.Actor(), Action: AuditStockRestoreSkipped,
			SaleID: sale.ID, ItemID: sale.ItemID, Quantity: sale.Quantity,
			Detail: fmt.Sprintf("item %q not found", sale.Item),
		})
	}

	restored, err := e.inventory(s).AdjustQuantity(ctx, item.ID, sale.Quantity)
	if err != nil {
		return "", fmt.Errorf("restore stock for sale %s: %w", sale.ID, err)
	}
	return item.ID, e.audit(ctx, s, AuditEntry{
		Actor: caller.Actor(), Action: AuditStockRestored,
		SaleID: sale.ID, ItemID: item.ID, Quantity: sale.Quantity,
		Detail: fmt.Sprintf("stock %d -> %d", restored.Quantity-sale.Quantity, restored.Quantity),
	})
}

// resolveSaleItem finds the sale's item by its recorded id, falling back to
// the recorded name for sales without one or whose item was replaced.
func (e *Engine) resolveSaleItem(ctx context.Context, s Store, sale Sale) (*InventoryItem, error) {
	if sale.ItemID != "" {
		item, err := s.GetItem(ctx, sale.ItemID)
		if err != nil {
			return nil, err
		}
		if item != nil {
			return item, nil
		}
	}
	item, err := e.inventory(s).FindByName(ctx, sale.Item)
	if errors.Is(err, ErrItemNotFound) {
		return nil, nil
	}
	return item, err
}

func (e *Engine) reverseRestore(ctx context.Context, s Store, caller Identity, sale Sale, id ItemID) {
	e.logger.WarnContext(ctx, "sale already deleted; reversing stock restoration",
		"sale_id", sale.ID, "item_id", id, "quantity", sale.Quantity)
	reversed, err := e.inventory(s).AdjustQuantity(ctx, id, -sale.Quantity)
	if err != nil {
		e.logger.ErrorContext(ctx, "reversing stock restoration failed",
			"sale_id", sale.ID, "item_id", id, "quantity", sale.Quantity, "error", err)
		return
	}
	if err := e.audit(ctx, s, AuditEntry{
		Actor: caller.Actor(), Action: AuditStockRestoreReversed,
		SaleID: sale.ID, ItemID: id, Quantity: sale.Quantity,
		Detail: fmt.Sprintf("stock %d -> %d", reversed.Quantity+sale.Quantity, reversed.Quantity),
	}); err != nil {
		e.logger.ErrorContext(ctx, "audit of reversed restoration failed", "sale_id", sale.ID, "error", err)
	}
}

func (e *Engine) compensateDecrement(ctx context.Context, s Store, id ItemID, qty int, cause error) {
	e.logger.WarnContext(ctx, "sale creation failed; restoring decremented stock",
		"item_id", id, "quantity", qty, "cause", cause)
	if _, err := e.inventory(s).AdjustQuantity(ctx, id, qty); err != nil {
		e.logger.ErrorContext(ctx, "compensating stock increment failed",
			"item_id", id, "quantity", qty, "error", err)
	}
}

// =============================================================================
// INVENTORY
// =============================================================================

// CreateItem adds stock. Any authenticated caller.
func (e *Engine) CreateItem(ctx context.Context, caller Identity, in NewItem) (*InventoryItem, error) {
	if err := requireAuthenticated(caller); err != nil {
		return nil, err
	}
	var item *InventoryItem
	err := e.atomically(ctx, func(s Store) error {
		var err error
		item, err = e.inventory(s).CreateItem(ctx, in)
		if err != nil {
			return err
		}
		return e.audit(ctx, s, AuditEntry{
			Actor: caller.Actor(), Action: AuditItemCreated,
			ItemID: item.ID, Quantity: item.Quantity, Detail: item.Name,
		})
	})
	return item, err
}

// UpdateItem merges patch into the item. Admin only.
func (e *Engine) UpdateItem(ctx context.Context, caller Identity, id ItemID, patch ItemPatch) (*InventoryItem, error) {
	if err := requireRole(caller, msgAdminsOnly, RoleAdmin); err != nil {
		return nil, err
	}
	if patch.Empty() {
		return nil, invalid("", "Nothing to update")
	}
	var item *InventoryItem
	err := e.atomically(ctx, func(s Store) error {
		var err error
		item, err = e.inventory(s).UpdateItem(ctx, id, patch)
		if err != nil {
			return err
		}
		return e.audit(ctx, s, AuditEntry{
			Actor: caller.Actor(), Action: AuditItemUpdated,
			ItemID: id, Quantity: item.Quantity, Detail: item.Name,
		})
	})
	return item, err
}

// DeleteItem removes an item. Admin only. Sales referencing it are kept.
func (e *Engine) DeleteItem(ctx context.Context, caller Identity, id ItemID) error {
	if err := requireRole(caller, msgAdminsOnly, RoleAdmin); err != nil {
		return err
	}
	return e.atomically(ctx, func(s Store) error {
		inventory := e.inventory(s)
		item, err := inventory.Get(ctx, id)
		if err != nil {
			return err
		}
		if err := inventory.DeleteItem(ctx, id); err != nil {
			return err
		}
		return e.audit(ctx, s, AuditEntry{
			Actor: caller.Actor(), Action: AuditItemDeleted,
			ItemID: id, Quantity: item.Quantity, Detail: item.Name,
		})
	})
}

// AdjustStock applies a manual stock movement. Admin only.
func (e *Engine) AdjustStock(ctx context.Context, caller Identity, id ItemID, delta int, reason string) (*InventoryItem, error) {
	if err := requireRole(caller, msgAdminsOnly, RoleAdmin); err != nil {
		return nil, err
	}
	if delta == 0 {
		return nil, invalid("delta", "Delta must not be zero")
	}
	var item *InventoryItem
	err := e.atomically(ctx, func(s Store) error {
		var err error
		item, err = e.inventory(s).AdjustQuantity(ctx, id, delta)
		if err != nil {
			return err
		}
		return e.audit(ctx, s, AuditEntry{
			Actor: caller.Actor(), Action: AuditStockAdjusted,
			ItemID: id, Quantity: delta, Detail: reason,
		})
	})
	return item, err
}

// AuditTrail returns audit entries matching filter, newest first. Admin only.
func (e *Engine) AuditTrail(ctx context.Context, caller Identity, filter AuditFilter) ([]AuditEntry, error) {
	if err := requireRole(caller, msgAdminsOnly, RoleAdmin); err != nil {
		return nil, err
	}
	return e.store.QueryAudit(ctx, filter)
}

// =============================================================================
// PLUMBING
// =============================================================================

func (e *Engine) transactional() bool {
	_, ok := e.store.(TxStore)
	return ok
}

func (e *Engine) atomically(ctx context.Context, fn func(Store) error) error {
	return Atomically(ctx, e.store, fn)
}

func (e *Engine) inventory(s InventoryStore) *InventoryLedger {
	l := NewInventoryLedger(s)
	l.now = e.now
	l.lowStockThreshold = e.LowStockThreshold
	return l
}

// audit appends entry through s. Without a transaction the mutation it
// describes has already happened, so a failed append is logged, not returned.
func (e *Engine) audit(ctx context.Context, s AuditLog, entry AuditEntry) error {
	entry.ID = uuid.NewString()
	entry.At = e.now()
	if err := s.AppendAudit(ctx, entry); err != nil {
		if e.transactional() {
			return fmt.Errorf("append audit %s: %w", entry.Action, err)
		}
		e.logger.ErrorContext(ctx, "audit append failed", "action", entry.Action, "error", err)
	}
	return nil
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, ErrItemNotFound):
		return "item_not_found"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrUnauthenticated):
		return "unauthenticated"
	default:
		return "internal"
	}
}
