package retail_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/stockroom/logger"
	"github.com/warp/stockroom/retail"
	"github.com/warp/stockroom/retail/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var (
	admin   = retail.Identity{UserID: "u-admin", Email: "admin@shop.test", Role: retail.RoleAdmin}
	finance = retail.Identity{UserID: "u-fin", Email: "finance@shop.test", Role: retail.RoleFinance}
	staff   = retail.Identity{UserID: "u-staff", Email: "staff@shop.test", Role: retail.RoleStaff}
	anon    = retail.Identity{}
)

func newTestEngine(t *testing.T) (*retail.Engine, *store.TxMemory) {
	t.Helper()
	s := store.NewTxMemory()
	return retail.NewEngine(s, logger.Discard()), s
}

func seedItem(t *testing.T, e *retail.Engine, name string, qty int) *retail.InventoryItem {
	t.Helper()
	item, err := e.CreateItem(context.Background(), staff, retail.NewItem{
		Name:     name,
		Price:    decimal.RequireFromString("2.50"),
		Quantity: qty,
		Category: "Hardware",
	})
	require.NoError(t, err)
	return item
}

func sell(t *testing.T, e *retail.Engine, caller retail.Identity, item string, qty int) *retail.Sale {
	t.Helper()
	res, err := e.CreateSale(context.Background(), caller, retail.NewSale{
		Item:     item,
		Quantity: qty,
		Amount:   decimal.NewFromInt(int64(qty) * 3),
	})
	require.NoError(t, err)
	return &res.Sale
}

func stockOf(t *testing.T, s retail.Store, id retail.ItemID) int {
	t.Helper()
	item, err := s.GetItem(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, item)
	return item.Quantity
}

func ptr[T any](v T) *T { return &v }

// =============================================================================
// CREATE SALE
// =============================================================================

func TestCreateSale_DecrementsStock(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()
	widget := seedItem(t, e, "Widget", 10)

	res, err := e.CreateSale(ctx, staff, retail.NewSale{
		Item: "widget", Quantity: 3, Amount: decimal.RequireFromString("9.00"),
	})
	require.NoError(t, err)

	assert.False(t, res.Replayed)
	assert.False(t, res.Sale.Verified, "new sales start unverified")
	assert.Equal(t, "staff@shop.test", res.Sale.CreatedBy)
	assert.Equal(t, widget.ID, res.Sale.ItemID)
	assert.Equal(t, "Widget", res.Sale.Item, "stored under the inventory spelling")
	assert.Equal(t, "Hardware", res.Sale.Category, "category defaults to the item's")
	assert.Equal(t, 7, stockOf(t, s, widget.ID))
}

func TestCreateSale_InsufficientStock(t *testing.T) {
	// GIVEN: Widget has 3 units
	// WHEN: a sale asks for 5
	// THEN: InsufficientStockError naming 3, and nothing changes

	e, s := newTestEngine(t)
	ctx := context.Background()
	widget := seedItem(t, e, "Widget", 3)

	_, err := e.CreateSale(ctx, staff, retail.NewSale{Item: "Widget", Quantity: 5, Amount: decimal.NewFromInt(10)})

	var insufficient *retail.InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, 3, insufficient.Available)
	assert.Equal(t, 5, insufficient.Requested)
	assert.Contains(t, err.Error(), "3")
	assert.Equal(t, 3, stockOf(t, s, widget.ID))

	sales, err := s.ListSales(ctx)
	require.NoError(t, err)
	assert.Empty(t, sales)
}

func TestCreateSale_UnknownItem(t *testing.T) {
	e, _ := newTestEngine(t)

	_, err := e.CreateSale(context.Background(), staff, retail.NewSale{Item: "Gizmo", Quantity: 1})

	assert.ErrorIs(t, err, retail.ErrItemNotFound)
	assert.Equal(t, "Item not found in inventory. Please add stock first.", err.Error())
}

func TestCreateSale_Validation(t *testing.T) {
	e, _ := newTestEngine(t)
	seedItem(t, e, "Widget", 10)
	ctx := context.Background()

	tests := []struct {
		name string
		in   retail.NewSale
	}{
		{"zero quantity", retail.NewSale{Item: "Widget", Quantity: 0}},
		{"negative quantity", retail.NewSale{Item: "Widget", Quantity: -2}},
		{"blank item", retail.NewSale{Item: "  ", Quantity: 1}},
		{"negative amount", retail.NewSale{Item: "Widget", Quantity: 1, Amount: decimal.NewFromInt(-1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.CreateSale(ctx, staff, tt.in)
			assert.ErrorIs(t, err, retail.ErrValidation)
		})
	}
}

func TestCreateSale_RequiresIdentity(t *testing.T) {
	e, s := newTestEngine(t)
	widget := seedItem(t, e, "Widget", 10)

	_, err := e.CreateSale(context.Background(), anon, retail.NewSale{Item: "Widget", Quantity: 1})

	assert.ErrorIs(t, err, retail.ErrUnauthenticated)
	assert.Equal(t, 10, stockOf(t, s, widget.ID))
}

func TestCreateSale_IdempotentReplay(t *testing.T) {
	// GIVEN: a sale recorded with an idempotency key
	// WHEN: the same request is retried
	// THEN: the first sale comes back and stock moves only once

	e, s := newTestEngine(t)
	ctx := context.Background()
	widget := seedItem(t, e, "Widget", 10)
	in := retail.NewSale{Item: "Widget", Quantity: 2, Amount: decimal.NewFromInt(6), IdempotencyKey: "till-7-0042"}

	first, err := e.CreateSale(ctx, staff, in)
	require.NoError(t, err)
	second, err := e.CreateSale(ctx, staff, in)
	require.NoError(t, err)

	assert.False(t, first.Replayed)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Sale.ID, second.Sale.ID)
	assert.Equal(t, 8, stockOf(t, s, widget.ID))
}

func TestCreateSale_ConcurrentLastUnit(t *testing.T) {
	// GIVEN: one unit in stock
	// WHEN: two sales for 1 unit race
	// THEN: exactly one wins, the other gets InsufficientStockError, stock is 0

	for name, s := range map[string]retail.Store{
		"transactional": store.NewTxMemory(),
		"compensating":  store.NewMemory(),
	} {
		t.Run(name, func(t *testing.T) {
			e := retail.NewEngine(s, logger.Discard())
			widget := seedItem(t, e, "Widget", 1)

			var wg sync.WaitGroup
			errs := make([]error, 2)
			for i := range errs {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					_, errs[i] = e.CreateSale(context.Background(), staff, retail.NewSale{
						Item: "Widget", Quantity: 1, Amount: decimal.NewFromInt(3),
					})
				}(i)
			}
			wg.Wait()

			succeeded := 0
			for _, err := range errs {
				if err == nil {
					succeeded++
					continue
				}
				assert.ErrorIs(t, err, retail.ErrInsufficientStock)
			}
			assert.Equal(t, 1, succeeded)
			assert.Equal(t, 0, stockOf(t, s, widget.ID))

			sales, err := s.ListSales(context.Background())
			require.NoError(t, err)
			assert.Len(t, sales, 1)
		})
	}
}

// failingSales makes CreateSale fail after stock was decremented.
type failingSales struct {
	*store.Memory
}

func (failingSales) CreateSale(context.Context, retail.Sale) error {
	return errors.New("disk full")
}

func TestCreateSale_CompensatesWithoutTransactions(t *testing.T) {
	// GIVEN: a store without transactions whose sale insert fails
	// WHEN: a sale is recorded
	// THEN: the error surfaces and the decrement is undone

	s := failingSales{store.NewMemory()}
	e := retail.NewEngine(s, logger.Discard())
	widget := seedItem(t, e, "Widget", 10)

	_, err := e.CreateSale(context.Background(), staff, retail.NewSale{Item: "Widget", Quantity: 4})

	require.Error(t, err)
	assert.False(t, retail.IsClientError(err))
	assert.Equal(t, 10, stockOf(t, s, widget.ID))
}

// failingAudit is a transactional store whose audit appends fail inside
// the transaction.
type failingAudit struct {
	*store.TxMemory
}

type failingAuditTx struct {
	retail.Store
}

func (failingAuditTx) AppendAudit(context.Context, retail.AuditEntry) error {
	return errors.New("audit table locked")
}

func (f failingAudit) WithTx(ctx context.Context, fn func(retail.Store) error) error {
	return f.TxMemory.WithTx(ctx, func(s retail.Store) error {
		return fn(failingAuditTx{s})
	})
}

func TestCreateSale_RollsBackWithTransactions(t *testing.T) {
	// GIVEN: a transactional store whose last step fails
	// WHEN: a sale is recorded
	// THEN: neither the decrement nor the sale is visible

	inner := store.NewTxMemory()
	ctx := context.Background()
	widget, err := retail.NewEngine(inner, logger.Discard()).CreateItem(ctx, staff, retail.NewItem{
		Name: "Widget", Price: decimal.NewFromInt(1), Quantity: 10,
	})
	require.NoError(t, err)

	e := retail.NewEngine(failingAudit{inner}, logger.Discard())
	_, err = e.CreateSale(ctx, staff, retail.NewSale{Item: "Widget", Quantity: 4})

	require.Error(t, err)
	assert.Equal(t, 10, stockOf(t, inner, widget.ID))
	sales, err := inner.ListSales(ctx)
	require.NoError(t, err)
	assert.Empty(t, sales)
}

// =============================================================================
// DELETE SALE
// =============================================================================

func TestDeleteSale_RoundTrip(t *testing.T) {
	// GIVEN: Widget stock 10
	// WHEN: a sale of 3 is recorded and then deleted by an admin
	// THEN: stock goes 10 -> 7 -> 10

	e, s := newTestEngine(t)
	ctx := context.Background()
	widget := seedItem(t, e, "Widget", 10)

	sale := sell(t, e, staff, "Widget", 3)
	assert.Equal(t, 7, stockOf(t, s, widget.ID))

	res, err := e.DeleteSale(ctx, admin, sale.ID)
	require.NoError(t, err)

	assert.True(t, res.Restored)
	assert.Equal(t, widget.ID, res.RestoredTo)
	assert.Equal(t, 10, stockOf(t, s, widget.ID))

	gone, err := s.GetSale(ctx, sale.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestDeleteSale_AdminOnly(t *testing.T) {
	e, s := newTestEngine(t)
	widget := seedItem(t, e, "Widget", 10)
	sale := sell(t, e, staff, "Widget", 3)

	for _, caller := range []retail.Identity{staff, finance} {
		_, err := e.DeleteSale(context.Background(), caller, sale.ID)
		assert.ErrorIs(t, err, retail.ErrForbidden)
		assert.Equal(t, "Access Denied: Admins only", err.Error())
	}
	assert.Equal(t, 7, stockOf(t, s, widget.ID))
}

func TestDeleteSale_NotFound(t *testing.T) {
	e, _ := newTestEngine(t)

	_, err := e.DeleteSale(context.Background(), admin, "missing")

	assert.ErrorIs(t, err, retail.ErrNotFound)
}

func TestDeleteSale_ItemDeleted_SkipsRestoration(t *testing.T) {
	// GIVEN: a sale of 2 Widgets, after which Widget left the inventory
	// WHEN: an admin deletes the sale
	// THEN: the sale is removed, no stock is restored, and the skip is audited

	e, s := newTestEngine(t)
	ctx := context.Background()
	widget := seedItem(t, e, "Widget", 10)
	sale := sell(t, e, staff, "Widget", 2)
	require.NoError(t, e.DeleteItem(ctx, admin, widget.ID))

	res, err := e.DeleteSale(ctx, admin, sale.ID)
	require.NoError(t, err)

	assert.False(t, res.Restored)
	assert.Empty(t, res.RestoredTo)
	gone, err := s.GetSale(ctx, sale.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)

	entries, err := e.AuditTrail(ctx, admin, retail.AuditFilter{SaleID: &sale.ID})
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Equal(t, retail.AuditSaleDeleted, entries[0].Action)
	assert.Equal(t, retail.AuditStockRestoreSkipped, entries[1].Action)
}

func TestDeleteSale_ItemRenamed_RestoresById(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()
	widget := seedItem(t, e, "Widget", 10)
	sale := sell(t, e, staff, "Widget", 2)

	_, err := e.UpdateItem(ctx, admin, widget.ID, retail.ItemPatch{Name: ptr("Widget Pro")})
	require.NoError(t, err)

	res, err := e.DeleteSale(ctx, admin, sale.ID)
	require.NoError(t, err)

	assert.True(t, res.Restored)
	assert.Equal(t, 10, stockOf(t, s, widget.ID))
}

func TestDeleteSale_ItemRecreated_RestoresByName(t *testing.T) {
	// GIVEN: Widget was deleted and added again under the same name
	// WHEN: an old Widget sale is deleted
	// THEN: its quantity goes to the new Widget

	e, s := newTestEngine(t)
	ctx := context.Background()
	old := seedItem(t, e, "Widget", 10)
	sale := sell(t, e, staff, "Widget", 2)
	require.NoError(t, e.DeleteItem(ctx, admin, old.ID))
	fresh := seedItem(t, e, "widget", 1)

	res, err := e.DeleteSale(ctx, admin, sale.ID)
	require.NoError(t, err)

	assert.True(t, res.Restored)
	assert.Equal(t, fresh.ID, res.RestoredTo)
	assert.Equal(t, 3, stockOf(t, s, fresh.ID))
}

// failingDeleteSale makes the sale delete fail after stock was restored.
type failingDeleteSale struct {
	*store.Memory
}

func (failingDeleteSale) DeleteSale(context.Context, retail.SaleID) error {
	return errors.New("disk full")
}

func TestDeleteSale_FailureKeepsRestoredStock(t *testing.T) {
	// GIVEN: a store without transactions whose sale delete fails
	// WHEN: an admin deletes a sale of 3
	// THEN: the error surfaces, stock stays restored and the sale remains

	s := failingDeleteSale{store.NewMemory()}
	e := retail.NewEngine(s, logger.Discard())
	ctx := context.Background()
	widget := seedItem(t, e, "Widget", 10)
	sale := sell(t, e, staff, "Widget", 3)

	_, err := e.DeleteSale(ctx, admin, sale.ID)

	require.Error(t, err)
	assert.False(t, retail.IsClientError(err))
	assert.Equal(t, 10, stockOf(t, s, widget.ID))
	still, err := s.GetSale(ctx, sale.ID)
	require.NoError(t, err)
	assert.NotNil(t, still)
}

// pausedReads holds every GetSale until the gate's count of readers has
// arrived, so concurrent deletes all see the sale before any removes it.
type pausedReads struct {
	*store.Memory
	gate *sync.WaitGroup
}

func (p pausedReads) GetSale(ctx context.Context, id retail.SaleID) (*retail.Sale, error) {
	sale, err := p.Memory.GetSale(ctx, id)
	if p.gate != nil {
		p.gate.Done()
		p.gate.Wait()
	}
	return sale, err
}

func TestDeleteSale_ConcurrentDeletesRestoreOnce(t *testing.T) {
	// GIVEN: a sale of 3 from 10 units, on a store without transactions
	// WHEN: two admins delete it at the same time
	// THEN: one succeeds, one gets not found, and stock is back at exactly 10

	mem := store.NewMemory()
	ctx := context.Background()
	setup := retail.NewEngine(mem, logger.Discard())
	widget := seedItem(t, setup, "Widget", 10)
	sale := sell(t, setup, staff, "Widget", 3)

	var gate sync.WaitGroup
	gate.Add(2)
	e := retail.NewEngine(pausedReads{Memory: mem, gate: &gate}, logger.Discard())

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = e.DeleteSale(ctx, admin, sale.ID)
		}(i)
	}
	wg.Wait()

	var succeeded, notFound int
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, retail.ErrNotFound):
			notFound++
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, notFound)
	assert.Equal(t, 10, stockOf(t, mem, widget.ID))

	reversed, err := setup.AuditTrail(ctx, admin, retail.AuditFilter{
		Actions: []retail.AuditAction{retail.AuditStockRestoreReversed},
	})
	require.NoError(t, err)
	require.Len(t, reversed, 1)
	assert.Equal(t, widget.ID, reversed[0].ItemID)
	assert.Equal(t, 3, reversed[0].Quantity)
}

func TestConservationLaw(t *testing.T) {
	// initial - active sales == current, once deleted sales are restored
	e, s := newTestEngine(t)
	ctx := context.Background()

	items := map[string]int{"Widget": 20, "Gadget": 15, "Sprocket": 8}
	initial := 0
	for name, qty := range items {
		seedItem(t, e, name, qty)
		initial += qty
	}

	var sales []*retail.Sale
	for i, name := range []string{"Widget", "Gadget", "Sprocket", "Widget", "Gadget", "Widget"} {
		sales = append(sales, sell(t, e, staff, name, i%3+1))
	}
	for _, sale := range sales[:3] {
		_, err := e.DeleteSale(ctx, admin, sale.ID)
		require.NoError(t, err)
	}

	active, err := s.ListSales(ctx)
	require.NoError(t, err)
	sold := 0
	for _, sale := range active {
		sold += sale.Quantity
	}
	stock, err := s.ListItems(ctx)
	require.NoError(t, err)
	current := 0
	for _, item := range stock {
		current += item.Quantity
	}

	assert.Equal(t, initial-sold, current)
}

// =============================================================================
// EDIT / VERIFY
// =============================================================================

func TestPatchSale_VerifiedEditNeedsAdmin(t *testing.T) {
	// GIVEN: a verified sale
	// WHEN: staff edits its amount, then an admin does
	// THEN: 403 for staff, success for admin

	e, _ := newTestEngine(t)
	ctx := context.Background()
	seedItem(t, e, "Widget", 10)
	sale := sell(t, e, staff, "Widget", 1)
	_, err := e.ToggleVerified(ctx, finance, sale.ID, true)
	require.NoError(t, err)

	amount := decimal.RequireFromString("4.75")
	_, err = e.PatchSale(ctx, staff, sale.ID, retail.SalePatch{Amount: &amount})
	assert.ErrorIs(t, err, retail.ErrForbidden)
	assert.Equal(t, "Cannot edit verified sales", err.Error())

	_, err = e.PatchSale(ctx, finance, sale.ID, retail.SalePatch{Amount: &amount})
	assert.ErrorIs(t, err, retail.ErrForbidden)

	updated, err := e.PatchSale(ctx, admin, sale.ID, retail.SalePatch{Amount: &amount})
	require.NoError(t, err)
	assert.True(t, updated.Amount.Equal(amount))
	assert.True(t, updated.Verified)
}

func TestPatchSale_UnverifiedEditableByAnyRole(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	seedItem(t, e, "Widget", 10)
	sale := sell(t, e, staff, "Widget", 1)

	for _, caller := range []retail.Identity{staff, finance, admin} {
		updated, err := e.PatchSale(ctx, caller, sale.ID, retail.SalePatch{Note: ptr("by " + string(caller.Role))})
		require.NoError(t, err)
		assert.Equal(t, "by "+string(caller.Role), updated.Note)
	}
}

func TestPatchSale_QuantityEditDoesNotMoveStock(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()
	widget := seedItem(t, e, "Widget", 10)
	sale := sell(t, e, staff, "Widget", 3)

	updated, err := e.PatchSale(ctx, staff, sale.ID, retail.SalePatch{Quantity: ptr(5)})
	require.NoError(t, err)

	assert.Equal(t, 5, updated.Quantity)
	assert.Equal(t, 7, stockOf(t, s, widget.ID))
}

func TestPatchSale_ItemCannotChange(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	seedItem(t, e, "Widget", 10)
	seedItem(t, e, "Gadget", 10)
	sale := sell(t, e, staff, "Widget", 1)

	_, err := e.PatchSale(ctx, staff, sale.ID, retail.SalePatch{Item: ptr("Gadget")})
	assert.ErrorIs(t, err, retail.ErrValidation)

	_, err = e.PatchSale(ctx, staff, sale.ID, retail.SalePatch{Item: ptr("widget")})
	assert.NoError(t, err, "same item in another case is not a change")
}

func TestToggleVerified_Gate(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	seedItem(t, e, "Widget", 10)
	sale := sell(t, e, staff, "Widget", 1)

	_, err := e.ToggleVerified(ctx, staff, sale.ID, true)
	assert.ErrorIs(t, err, retail.ErrForbidden)
	assert.Equal(t, "Only Finance can verify sales", err.Error())

	for _, caller := range []retail.Identity{finance, admin} {
		s, err := e.ToggleVerified(ctx, caller, sale.ID, true)
		require.NoError(t, err)
		assert.True(t, s.Verified)
		s, err = e.ToggleVerified(ctx, caller, sale.ID, false)
		require.NoError(t, err)
		assert.False(t, s.Verified)
	}
}

func TestToggleVerified_Idempotent(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	seedItem(t, e, "Widget", 10)
	sale := sell(t, e, staff, "Widget", 1)

	first, err := e.ToggleVerified(ctx, finance, sale.ID, true)
	require.NoError(t, err)
	second, err := e.ToggleVerified(ctx, finance, sale.ID, true)
	require.NoError(t, err)

	assert.Equal(t, *first, *second)

	entries, err := e.AuditTrail(ctx, admin, retail.AuditFilter{
		SaleID: &sale.ID, Actions: []retail.AuditAction{retail.AuditSaleVerified},
	})
	require.NoError(t, err)
	assert.Len(t, entries, 1, "a no-op toggle is not audited")
}

func TestPatchSale_CombinedGatesUsePriorState(t *testing.T) {
	// GIVEN: a verified sale
	// WHEN: finance un-verifies and edits the amount in one request
	// THEN: the edit gate sees the stored (verified) state and refuses;
	//       nothing is written

	e, s := newTestEngine(t)
	ctx := context.Background()
	seedItem(t, e, "Widget", 10)
	sale := sell(t, e, staff, "Widget", 1)
	_, err := e.ToggleVerified(ctx, finance, sale.ID, true)
	require.NoError(t, err)

	amount := decimal.NewFromInt(1)
	_, err = e.PatchSale(ctx, finance, sale.ID, retail.SalePatch{Verified: ptr(false), Amount: &amount})
	assert.ErrorIs(t, err, retail.ErrForbidden)

	stored, err := s.GetSale(ctx, sale.ID)
	require.NoError(t, err)
	assert.True(t, stored.Verified)

	// staff fails the verify gate before the edit gate is consulted
	_, err = e.PatchSale(ctx, staff, sale.ID, retail.SalePatch{Verified: ptr(false), Note: ptr("x")})
	assert.Equal(t, "Only Finance can verify sales", err.Error())
}

func TestPatchSale_Empty(t *testing.T) {
	e, _ := newTestEngine(t)
	seedItem(t, e, "Widget", 10)
	sale := sell(t, e, staff, "Widget", 1)

	_, err := e.PatchSale(context.Background(), admin, sale.ID, retail.SalePatch{})

	assert.ErrorIs(t, err, retail.ErrValidation)
}

// =============================================================================
// INVENTORY
// =============================================================================

func TestCreateItem_Validation(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	tests := []struct {
		name string
		in   retail.NewItem
	}{
		{"blank name", retail.NewItem{Name: " ", Quantity: 1}},
		{"negative quantity", retail.NewItem{Name: "Widget", Quantity: -1}},
		{"negative price", retail.NewItem{Name: "Widget", Price: decimal.NewFromInt(-1)}},
		{"negative threshold", retail.NewItem{Name: "Widget", LowStockThreshold: ptr(-1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.CreateItem(ctx, staff, tt.in)
			assert.ErrorIs(t, err, retail.ErrValidation)
		})
	}
}

func TestCreateItem_Defaults(t *testing.T) {
	e, _ := newTestEngine(t)
	e.LowStockThreshold = 3

	item, err := e.CreateItem(context.Background(), finance, retail.NewItem{Name: " Widget ", Quantity: 2})
	require.NoError(t, err)

	assert.Equal(t, "Widget", item.Name)
	assert.Equal(t, retail.DefaultCategory, item.Category)
	assert.Equal(t, 3, item.LowStockThreshold)
	assert.True(t, item.LowStock())
}

func TestCreateItem_DuplicateName(t *testing.T) {
	e, _ := newTestEngine(t)
	seedItem(t, e, "Widget", 1)

	_, err := e.CreateItem(context.Background(), staff, retail.NewItem{Name: "WIDGET"})

	assert.ErrorIs(t, err, retail.ErrConflict)
}

func TestCreateItem_RequiresIdentity(t *testing.T) {
	e, _ := newTestEngine(t)

	_, err := e.CreateItem(context.Background(), anon, retail.NewItem{Name: "Widget"})

	assert.ErrorIs(t, err, retail.ErrUnauthenticated)
}

func TestUpdateItem_AdminOnly(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	widget := seedItem(t, e, "Widget", 1)

	for _, caller := range []retail.Identity{staff, finance} {
		_, err := e.UpdateItem(ctx, caller, widget.ID, retail.ItemPatch{Description: ptr("x")})
		assert.ErrorIs(t, err, retail.ErrForbidden)
		assert.ErrorIs(t, e.DeleteItem(ctx, caller, widget.ID), retail.ErrForbidden)
		_, err = e.AdjustStock(ctx, caller, widget.ID, 5, "count")
		assert.ErrorIs(t, err, retail.ErrForbidden)
	}
}

func TestUpdateItem_QuantityAndRename(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()
	widget := seedItem(t, e, "Widget", 10)
	seedItem(t, e, "Gadget", 1)

	updated, err := e.UpdateItem(ctx, admin, widget.ID, retail.ItemPatch{
		Quantity: ptr(4),
		Price:    ptr(decimal.RequireFromString("3.10")),
	})
	require.NoError(t, err)
	assert.Equal(t, 4, updated.Quantity)
	assert.True(t, updated.Price.Equal(decimal.RequireFromString("3.10")))
	assert.Equal(t, 4, stockOf(t, s, widget.ID))

	_, err = e.UpdateItem(ctx, admin, widget.ID, retail.ItemPatch{Name: ptr("gadget")})
	assert.ErrorIs(t, err, retail.ErrConflict)

	_, err = e.UpdateItem(ctx, admin, widget.ID, retail.ItemPatch{Quantity: ptr(-1)})
	assert.ErrorIs(t, err, retail.ErrValidation)

	_, err = e.UpdateItem(ctx, admin, "missing", retail.ItemPatch{Quantity: ptr(1)})
	assert.ErrorIs(t, err, retail.ErrNotFound)
}

func TestUpdateItem_QuantityIsAbsolute(t *testing.T) {
	// GIVEN: 10 units, 3 sold, on a transactional store
	// WHEN: an admin sets quantity to 20 while sales keep coming in
	// THEN: every sale lands wholly before or after the set, never in between

	e, s := newTestEngine(t)
	ctx := context.Background()
	widget := seedItem(t, e, "Widget", 10)
	sell(t, e, staff, "Widget", 3)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = e.CreateSale(ctx, staff, retail.NewSale{Item: "Widget", Quantity: 2})
	}()
	updated, err := e.UpdateItem(ctx, admin, widget.ID, retail.ItemPatch{Quantity: ptr(20)})
	wg.Wait()

	require.NoError(t, err)
	assert.Equal(t, 20, updated.Quantity)
	assert.Contains(t, []int{18, 20}, stockOf(t, s, widget.ID))
}

func TestAdjustStock(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()
	widget := seedItem(t, e, "Widget", 5)

	item, err := e.AdjustStock(ctx, admin, widget.ID, 7, "delivery")
	require.NoError(t, err)
	assert.Equal(t, 12, item.Quantity)

	_, err = e.AdjustStock(ctx, admin, widget.ID, -13, "shrinkage")
	var insufficient *retail.InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, 12, insufficient.Available)

	_, err = e.AdjustStock(ctx, admin, widget.ID, 0, "")
	assert.ErrorIs(t, err, retail.ErrValidation)

	assert.Equal(t, 12, stockOf(t, s, widget.ID))
}

func TestDeleteItem_KeepsSales(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()
	widget := seedItem(t, e, "Widget", 5)
	sale := sell(t, e, staff, "Widget", 1)

	require.NoError(t, e.DeleteItem(ctx, admin, widget.ID))

	kept, err := s.GetSale(ctx, sale.ID)
	require.NoError(t, err)
	assert.NotNil(t, kept)
	assert.ErrorIs(t, e.DeleteItem(ctx, admin, widget.ID), retail.ErrNotFound)
}

// =============================================================================
// AUDIT
// =============================================================================

func TestAuditTrail_AdminOnly(t *testing.T) {
	e, _ := newTestEngine(t)

	_, err := e.AuditTrail(context.Background(), finance, retail.AuditFilter{})

	assert.ErrorIs(t, err, retail.ErrForbidden)
}

func TestAuditTrail_RecordsSaleLifecycle(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	seedItem(t, e, "Widget", 5)
	sale := sell(t, e, staff, "Widget", 2)
	_, err := e.ToggleVerified(ctx, finance, sale.ID, true)
	require.NoError(t, err)
	_, err = e.DeleteSale(ctx, admin, sale.ID)
	require.NoError(t, err)

	entries, err := e.AuditTrail(ctx, admin, retail.AuditFilter{SaleID: &sale.ID})
	require.NoError(t, err)

	var actions []retail.AuditAction
	for _, entry := range entries {
		actions = append(actions, entry.Action)
	}
	assert.Equal(t, []retail.AuditAction{
		retail.AuditSaleDeleted,
		retail.AuditStockRestored,
		retail.AuditSaleVerified,
		retail.AuditSaleRecorded,
	}, actions)
	assert.Equal(t, "admin@shop.test", entries[0].Actor)
	assert.Equal(t, "staff@shop.test", entries[3].Actor)
}

// =============================================================================
// OBSERVER
// =============================================================================

type recordingObserver struct {
	mu       sync.Mutex
	recorded int
	rejected []string
	deleted  []bool
}

func (o *recordingObserver) SaleRecorded(retail.Sale) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.recorded++
}

func (o *recordingObserver) SaleRejected(reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.rejected = append(o.rejected, reason)
}

func (o *recordingObserver) SaleDeleted(_ retail.Sale, restored bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.deleted = append(o.deleted, restored)
}

func TestObserver(t *testing.T) {
	e, _ := newTestEngine(t)
	obs := &recordingObserver{}
	e.Observer = obs
	ctx := context.Background()
	seedItem(t, e, "Widget", 2)

	in := retail.NewSale{Item: "Widget", Quantity: 1, IdempotencyKey: "k1"}
	res, err := e.CreateSale(ctx, staff, in)
	require.NoError(t, err)
	_, err = e.CreateSale(ctx, staff, in)
	require.NoError(t, err)
	_, err = e.CreateSale(ctx, staff, retail.NewSale{Item: "Widget", Quantity: 9})
	require.Error(t, err)
	_, err = e.CreateSale(ctx, staff, retail.NewSale{Item: "Nope", Quantity: 1})
	require.Error(t, err)
	_, err = e.DeleteSale(ctx, admin, res.Sale.ID)
	require.NoError(t, err)

	assert.Equal(t, 1, obs.recorded, "replays are not counted")
	assert.Equal(t, []string{"insufficient_stock", "item_not_found"}, obs.rejected)
	assert.Equal(t, []bool{true}, obs.deleted)
}
