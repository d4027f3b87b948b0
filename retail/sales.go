/*
sales.go - Sale Ledger and the verification state machine

PURPOSE:
  Owns sale records and enforces who may change them.

STATE MACHINE (verified flag as state):

    ┌────────────┐  toggle (admin|finance)  ┌──────────┐
    │ Unverified │ ───────────────────────▶ │ Verified │
    │            │ ◀─────────────────────── │          │
    └────────────┘  toggle (admin|finance)  └──────────┘
         │ edit: any authenticated role          │ edit: admin only
         │ delete: admin                         │ delete: admin

  There is no terminal state. Deletion removes the record from its
  lifecycle; it is not a transition.

GATES ARE CHECKED BEFORE ANY WRITE:
  A patch that both toggles verification and edits fields must pass both
  gates, evaluated against the sale as stored before the request. Setting
  verified=false in the same request does not unlock the edit.

SEE ALSO:
  - engine.go: DeleteSale protocol (stock restoration happens there)
*/
package retail

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	msgVerifyForbidden = "Only Finance can verify sales"
	msgEditVerified    = "Cannot edit verified sales"
	msgAdminsOnly      = "Access Denied: Admins only"
)

type SaleLedger struct {
	store SaleStore
	now   func() time.Time
}

func NewSaleLedger(store SaleStore) *SaleLedger {
	return &SaleLedger{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// SaleChange is the before/after pair of an update.
type SaleChange struct {
	Before Sale
	After  Sale
}

func (c SaleChange) VerificationChanged() bool {
	return c.Before.Verified != c.After.Verified
}

// CreateSale records a new unverified sale against item.
func (l *SaleLedger) CreateSale(ctx context.Context, item InventoryItem, in NewSale, createdBy string) (*Sale, error) {
	if err := validateNewSale(in); err != nil {
		return nil, err
	}
	category := strings.TrimSpace(in.Category)
	if category == "" {
		category = item.Category
	}
	if category == "" {
		category = DefaultCategory
	}
	sale := Sale{
		ID:             SaleID(uuid.NewString()),
		ItemID:         item.ID,
		Item:           item.Name,
		Quantity:       in.Quantity,
		Amount:         in.Amount,
		Category:       category,
		Note:           in.Note,
		Verified:       false,
		IdempotencyKey: in.IdempotencyKey,
		CreatedBy:      createdBy,
		CreatedAt:      l.now(),
	}
	if err := l.store.CreateSale(ctx, sale); err != nil {
		return nil, err
	}
	return &sale, nil
}

// UpdateSale applies patch under the state machine gates.
func (l *SaleLedger) UpdateSale(ctx context.Context, id SaleID, patch SalePatch, caller Identity) (*SaleChange, error) {
	if err := requireAuthenticated(caller); err != nil {
		return nil, err
	}
	if patch.Verified != nil {
		if err := authorizeVerify(caller); err != nil {
			return nil, err
		}
	}

	current, err := l.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if patch.HasEdits() {
		if err := authorizeEdit(*current, caller); err != nil {
			return nil, err
		}
	}

	next, err := applySalePatch(*current, patch)
	if err != nil {
		return nil, err
	}
	if err := l.store.UpdateSale(ctx, next); err != nil {
		return nil, err
	}
	return &SaleChange{Before: *current, After: next}, nil
}

// ToggleVerified sets the verified flag. Allowed for admin and finance.
func (l *SaleLedger) ToggleVerified(ctx context.Context, id SaleID, verified bool, caller Identity) (*SaleChange, error) {
	return l.UpdateSale(ctx, id, SalePatch{Verified: &verified}, caller)
}

// DeleteSale removes the record. Admin only. Stock is not touched here.
func (l *SaleLedger) DeleteSale(ctx context.Context, id SaleID, caller Identity) error {
	if err := authorizeDelete(caller); err != nil {
		return err
	}
	return l.store.DeleteSale(ctx, id)
}

func (l *SaleLedger) FindByID(ctx context.Context, id SaleID) (*Sale, error) {
	sale, err := l.store.GetSale(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get sale %s: %w", id, err)
	}
	if sale == nil {
		return nil, &NotFoundError{Kind: "Sale", ID: string(id)}
	}
	return sale, nil
}

// =============================================================================
// GATES
// =============================================================================

func authorizeVerify(caller Identity) error {
	return requireRole(caller, msgVerifyForbidden, RoleAdmin, RoleFinance)
}

func authorizeEdit(sale Sale, caller Identity) error {
	if err := requireAuthenticated(caller); err != nil {
		return err
	}
	if sale.Verified && caller.Role != RoleAdmin {
		return &ForbiddenError{Required: []Role{RoleAdmin}, Message: msgEditVerified}
	}
	return nil
}

func authorizeDelete(caller Identity) error {
	return requireRole(caller, msgAdminsOnly, RoleAdmin)
}

// =============================================================================
// VALIDATION
// =============================================================================

func validateNewSale(in NewSale) error {
	if strings.TrimSpace(in.Item) == "" {
		return invalid("item", "Item is required")
	}
	if in.Quantity < 1 {
		return invalid("quantity", "Quantity must be at least 1")
	}
	if in.Amount.IsNegative() {
		return invalid("amount", "Amount cannot be negative")
	}
	return nil
}

func applySalePatch(s Sale, p SalePatch) (Sale, error) {
	if p.Item != nil && !strings.EqualFold(strings.TrimSpace(*p.Item), s.Item) {
		return s, invalid("item", "The item of a sale cannot be changed; delete the sale and record it again")
	}
	if p.Quantity != nil {
		if *p.Quantity < 1 {
			return s, invalid("quantity", "Quantity must be at least 1")
		}
		s.Quantity = *p.Quantity
	}
	if p.Amount != nil {
		if p.Amount.IsNegative() {
			return s, invalid("amount", "Amount cannot be negative")
		}
		s.Amount = *p.Amount
	}
	if p.Category != nil {
		s.Category = strings.TrimSpace(*p.Category)
		if s.Category == "" {
			s.Category = DefaultCategory
		}
	}
	if p.Note != nil {
		s.Note = *p.Note
	}
	if p.Verified != nil {
		s.Verified = *p.Verified
	}
	return s, nil
}
