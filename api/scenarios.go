/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built data sets that populate the stockroom with realistic
	inventory and sales. Every record goes through the engine, so stock,
	sales and the audit trail stay consistent exactly as if staff had
	entered them.

AVAILABLE SCENARIOS:

	corner-shop:    A small shop mid-week, some sales verified
	low-stock:      Several items at or under their alert level
	restock-audit:  Sales whose items were renamed or discontinued, then
	                deleted, showing restore-by-id and skipped restores

HOW SCENARIOS WORK:
 1. Reset the store (items, sales and audit; accounts are kept)
 2. Create items through the engine
 3. Record sales as demo staff (stock decrements)
 4. Verify, rename, delete as the loading admin

USAGE VIA API:

	POST /api/admin/scenarios/load
	{"scenario_id": "corner-shop"}

USAGE VIA CLI:

	stockroom seed-demo --scenario corner-shop

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description and loader

NOTE:

	Scenarios wipe data. The routes are only mounted when DEMO_SCENARIOS is
	on, which is the default outside production.

SEE ALSO:
  - scheduler.go: the low-stock scenario is what the monitor alerts on
*/
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"
	"github.com/warp/stockroom/logger"
	"github.com/warp/stockroom/retail"
)

// Resetter is implemented by stores that can wipe demo data.
type Resetter interface {
	Reset(ctx context.Context) error
}

// demoStaff records demo sales so created_by differs from the admin who
// verifies them.
var demoStaff = retail.Identity{UserID: "demo-staff", Email: "staff@demo.local", Role: retail.RoleStaff}

type scenario struct {
	ScenarioDTO
	load func(ctx context.Context, e *retail.Engine, admin retail.Identity) error
}

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []scenario{
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "corner-shop",
			Name:        "Corner Shop",
			Description: "Eight items across four categories, a week of sales, half verified",
			Category:    "inventory",
		},
		load: loadCornerShopScenario,
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "low-stock",
			Name:        "Low Stock",
			Description: "Fast sellers drawn down to or under their alert level",
			Category:    "inventory",
		},
		load: loadLowStockScenario,
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "restock-audit",
			Name:        "Restock Audit",
			Description: "Deleted sales against renamed and discontinued items",
			Category:    "reconciliation",
		},
		load: loadRestockAuditScenario,
	},
}

func findScenario(id string) (scenario, bool) {
	for _, s := range scenarios {
		if s.ID == id {
			return s, true
		}
	}
	return scenario{}, false
}

// ScenarioIDs lists the loadable scenario ids, in display order.
func ScenarioIDs() []string {
	ids := make([]string, len(scenarios))
	for i, s := range scenarios {
		ids[i] = s.ID
	}
	return ids
}

// =============================================================================
// HANDLERS
// =============================================================================

// ListScenarios returns available scenarios. Admin only.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	if err := retail.RequireAdmin(identityFrom(r.Context()), retail.MsgAdminsOnly); err != nil {
		writeError(w, r, err)
		return
	}
	dtos := make([]ScenarioDTO, len(scenarios))
	for i, s := range scenarios {
		dtos[i] = s.ScenarioDTO
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	if err := retail.RequireAdmin(identityFrom(r.Context()), retail.MsgAdminsOnly); err != nil {
		writeError(w, r, err)
		return
	}
	h.scenarioMu.Lock()
	current := h.currentScenario
	h.scenarioMu.Unlock()

	if s, ok := findScenario(current); ok {
		writeJSON(w, http.StatusOK, s.ScenarioDTO)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario wipes the store and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := h.decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	if err := h.ApplyScenario(r.Context(), identityFrom(r.Context()), req.ScenarioID); err != nil {
		writeError(w, r, err)
		return
	}

	s, _ := findScenario(req.ScenarioID)
	writeJSON(w, http.StatusOK, s.ScenarioDTO)
}

// ApplyScenario resets the store and runs the scenario's loader as caller,
// who must be an admin.
func (h *Handler) ApplyScenario(ctx context.Context, caller retail.Identity, id string) error {
	if err := retail.RequireAdmin(caller, "Only admins can load demo data"); err != nil {
		return err
	}
	s, ok := findScenario(id)
	if !ok {
		return &retail.ValidationError{Field: "scenario_id", Message: "Unknown scenario: " + id}
	}
	resetter, ok := h.Store.(Resetter)
	if !ok {
		return fmt.Errorf("store %T cannot be reset", h.Store)
	}

	h.scenarioMu.Lock()
	defer h.scenarioMu.Unlock()

	if err := resetter.Reset(ctx); err != nil {
		return fmt.Errorf("reset store: %w", err)
	}
	h.currentScenario = ""
	if err := s.load(ctx, h.Engine, caller); err != nil {
		return fmt.Errorf("load scenario %s: %w", id, err)
	}
	h.currentScenario = id

	logger.WithCtx(ctx).Info("scenario loaded", "scenario", id, "actor", caller.Actor())
	return nil
}

// =============================================================================
// LOADERS
// =============================================================================

type demoItem struct {
	name      string
	category  string
	price     string
	quantity  int
	threshold int
}

type demoSale struct {
	item     string
	quantity int
	amount   string
	verified bool
}

func createItems(ctx context.Context, e *retail.Engine, caller retail.Identity, items []demoItem) (map[string]retail.ItemID, error) {
	ids := make(map[string]retail.ItemID, len(items))
	for _, d := range items {
		threshold := d.threshold
		item, err := e.CreateItem(ctx, caller, retail.NewItem{
			Name:              d.name,
			Price:             decimal.RequireFromString(d.price),
			Quantity:          d.quantity,
			Category:          d.category,
			LowStockThreshold: &threshold,
		})
		if err != nil {
			return nil, fmt.Errorf("create %s: %w", d.name, err)
		}
		ids[d.name] = item.ID
	}
	return ids, nil
}

func recordSales(ctx context.Context, e *retail.Engine, admin retail.Identity, items []demoItem, sales []demoSale) ([]retail.Sale, error) {
	categories := make(map[string]string, len(items))
	for _, d := range items {
		categories[d.name] = d.category
	}

	recorded := make([]retail.Sale, 0, len(sales))
	for _, d := range sales {
		res, err := e.CreateSale(ctx, demoStaff, retail.NewSale{
			Item:     d.item,
			Quantity: d.quantity,
			Amount:   decimal.RequireFromString(d.amount),
			Category: categories[d.item],
		})
		if err != nil {
			return nil, fmt.Errorf("sell %d %s: %w", d.quantity, d.item, err)
		}
		sale := res.Sale
		if d.verified {
			v, err := e.ToggleVerified(ctx, admin, sale.ID, true)
			if err != nil {
				return nil, fmt.Errorf("verify sale %s: %w", sale.ID, err)
			}
			sale = *v
		}
		recorded = append(recorded, sale)
	}
	return recorded, nil
}

var cornerShopItems = []demoItem{
	{"Espresso Beans 1kg", "Grocery", "18.50", 40, 8},
	{"Oat Milk 1L", "Grocery", "2.20", 60, 12},
	{"Ceramic Mug", "Homeware", "7.00", 25, 5},
	{"French Press", "Homeware", "24.00", 10, 3},
	{"Notebook A5", "Stationery", "4.50", 50, 10},
	{"Gel Pen Pack", "Stationery", "3.25", 80, 15},
	{"Tote Bag", "Accessories", "9.90", 30, 5},
	{"Reusable Cup", "Accessories", "12.00", 20, 5},
}

func loadCornerShopScenario(ctx context.Context, e *retail.Engine, admin retail.Identity) error {
	if _, err := createItems(ctx, e, admin, cornerShopItems); err != nil {
		return err
	}
	_, err := recordSales(ctx, e, admin, cornerShopItems, []demoSale{
		{"Espresso Beans 1kg", 3, "55.50", true},
		{"Oat Milk 1L", 6, "13.20", true},
		{"Ceramic Mug", 2, "14.00", true},
		{"Notebook A5", 4, "18.00", true},
		{"Gel Pen Pack", 5, "16.25", false},
		{"French Press", 1, "24.00", false},
		{"Tote Bag", 2, "19.80", false},
		{"Oat Milk 1L", 10, "20.00", false}, // bulk discount
	})
	return err
}

var lowStockItems = []demoItem{
	{"AA Batteries 4-pack", "Electronics", "5.99", 12, 10},
	{"USB-C Cable", "Electronics", "8.50", 9, 5},
	{"Phone Charger", "Electronics", "19.00", 6, 4},
	{"Sticky Notes", "Stationery", "2.10", 30, 10},
}

func loadLowStockScenario(ctx context.Context, e *retail.Engine, admin retail.Identity) error {
	if _, err := createItems(ctx, e, admin, lowStockItems); err != nil {
		return err
	}
	// Leaves batteries at 3, cables at 5 (not below 5), chargers at 0.
	_, err := recordSales(ctx, e, admin, lowStockItems, []demoSale{
		{"AA Batteries 4-pack", 5, "29.95", true},
		{"AA Batteries 4-pack", 4, "23.96", false},
		{"USB-C Cable", 4, "34.00", true},
		{"Phone Charger", 6, "114.00", false},
		{"Sticky Notes", 3, "6.30", true},
	})
	return err
}

var restockAuditItems = []demoItem{
	{"Garden Gloves", "Garden", "6.50", 20, 5},
	{"Seed Tray", "Garden", "3.00", 15, 5},
	{"Watering Can", "Garden", "14.00", 8, 2},
}

func loadRestockAuditScenario(ctx context.Context, e *retail.Engine, admin retail.Identity) error {
	ids, err := createItems(ctx, e, admin, restockAuditItems)
	if err != nil {
		return err
	}
	sales, err := recordSales(ctx, e, admin, restockAuditItems, []demoSale{
		{"Garden Gloves", 2, "13.00", true},
		{"Garden Gloves", 1, "6.50", false},
		{"Seed Tray", 4, "12.00", false},
		{"Watering Can", 1, "14.00", true},
	})
	if err != nil {
		return err
	}

	// Gloves are renamed after being sold; the deleted sale still finds
	// the item by id and puts the stock back.
	renamed := "Gardening Gloves"
	if _, err := e.UpdateItem(ctx, admin, ids["Garden Gloves"], retail.ItemPatch{Name: &renamed}); err != nil {
		return err
	}
	if _, err := e.DeleteSale(ctx, admin, sales[1].ID); err != nil {
		return err
	}

	// Seed trays are discontinued; deleting their sale skips restoration.
	if err := e.DeleteItem(ctx, admin, ids["Seed Tray"]); err != nil {
		return err
	}
	if _, err := e.DeleteSale(ctx, admin, sales[2].ID); err != nil {
		return err
	}
	return nil
}
