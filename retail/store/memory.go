// Package store provides in-memory retail.Store implementations.
package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/warp/stockroom/retail"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory is a retail.Store without transaction support. Each method is
// atomic on its own; multi-step protocols against it rely on compensation.
type Memory struct {
	mu    sync.RWMutex
	state *state
}

func NewMemory() *Memory {
	return &Memory{state: newState()}
}

type state struct {
	items map[retail.ItemID]retail.InventoryItem
	sales map[retail.SaleID]retail.Sale
	users map[retail.UserID]retail.UserProfile
	audit []retail.AuditEntry
}

func newState() *state {
	return &state{
		items: make(map[retail.ItemID]retail.InventoryItem),
		sales: make(map[retail.SaleID]retail.Sale),
		users: make(map[retail.UserID]retail.UserProfile),
	}
}

func (m *Memory) CreateItem(ctx context.Context, item retail.InventoryItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.CreateItem(ctx, item)
}

func (m *Memory) GetItem(ctx context.Context, id retail.ItemID) (*retail.InventoryItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.GetItem(ctx, id)
}

func (m *Memory) FindItemByName(ctx context.Context, name string) (*retail.InventoryItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.FindItemByName(ctx, name)
}

func (m *Memory) ListItems(ctx context.Context) ([]retail.InventoryItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.ListItems(ctx)
}

func (m *Memory) UpdateItem(ctx context.Context, item retail.InventoryItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.UpdateItem(ctx, item)
}

func (m *Memory) DeleteItem(ctx context.Context, id retail.ItemID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.DeleteItem(ctx, id)
}

func (m *Memory) AdjustQuantity(ctx context.Context, id retail.ItemID, delta int) (*retail.InventoryItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.AdjustQuantity(ctx, id, delta)
}

func (m *Memory) CreateSale(ctx context.Context, sale retail.Sale) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.CreateSale(ctx, sale)
}

func (m *Memory) GetSale(ctx context.Context, id retail.SaleID) (*retail.Sale, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.GetSale(ctx, id)
}

func (m *Memory) GetSaleByIdempotencyKey(ctx context.Context, key string) (*retail.Sale, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.GetSaleByIdempotencyKey(ctx, key)
}

func (m *Memory) ListSales(ctx context.Context) ([]retail.Sale, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.ListSales(ctx)
}

func (m *Memory) UpdateSale(ctx context.Context, sale retail.Sale) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.UpdateSale(ctx, sale)
}

func (m *Memory) DeleteSale(ctx context.Context, id retail.SaleID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.DeleteSale(ctx, id)
}

func (m *Memory) CreateUser(ctx context.Context, user retail.UserProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.CreateUser(ctx, user)
}

func (m *Memory) GetUser(ctx context.Context, id retail.UserID) (*retail.UserProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.GetUser(ctx, id)
}

func (m *Memory) GetUserByEmail(ctx context.Context, email string) (*retail.UserProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.GetUserByEmail(ctx, email)
}

func (m *Memory) ListUsers(ctx context.Context) ([]retail.UserProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.ListUsers(ctx)
}

func (m *Memory) UpdateUserRole(ctx context.Context, id retail.UserID, role retail.Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.UpdateUserRole(ctx, id, role)
}

func (m *Memory) AppendAudit(ctx context.Context, entry retail.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.AppendAudit(ctx, entry)
}

func (m *Memory) QueryAudit(ctx context.Context, filter retail.AuditFilter) ([]retail.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.QueryAudit(ctx, filter)
}

// Reset clears items, sales and the audit log. Accounts are kept.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	users := m.state.users
	m.state = newState()
	m.state.users = users
	return nil
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn while holding the write lock. It is simulated with a
// snapshot that is restored if fn fails.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(retail.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.state.clone()
	if err := fn(tm.state); err != nil {
		tm.state = snapshot
		return err
	}
	return nil
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.items {
		c.items[k] = v
	}
	for k, v := range s.sales {
		c.sales[k] = v
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	c.audit = append([]retail.AuditEntry(nil), s.audit...)
	return c
}

// =============================================================================
// UNLOCKED STATE - implements retail.Store; callers hold the lock
// =============================================================================

func (s *state) CreateItem(_ context.Context, item retail.InventoryItem) error {
	if _, exists := s.items[item.ID]; exists {
		return &retail.ConflictError{Message: fmt.Sprintf("item %s already exists", item.ID)}
	}
	if other := s.findItemByName(item.Name); other != nil {
		return &retail.ConflictError{Message: fmt.Sprintf("An item named %q already exists", other.Name)}
	}
	s.items[item.ID] = item
	return nil
}

func (s *state) GetItem(_ context.Context, id retail.ItemID) (*retail.InventoryItem, error) {
	item, ok := s.items[id]
	if !ok {
		return nil, nil
	}
	return &item, nil
}

func (s *state) FindItemByName(_ context.Context, name string) (*retail.InventoryItem, error) {
	return s.findItemByName(name), nil
}

func (s *state) findItemByName(name string) *retail.InventoryItem {
	for _, item := range s.items {
		if strings.EqualFold(item.Name, name) {
			found := item
			return &found
		}
	}
	return nil
}

func (s *state) ListItems(_ context.Context) ([]retail.InventoryItem, error) {
	items := make([]retail.InventoryItem, 0, len(s.items))
	for _, item := range s.items {
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool {
		return strings.ToLower(items[i].Name) < strings.ToLower(items[j].Name)
	})
	return items, nil
}

func (s *state) UpdateItem(_ context.Context, item retail.InventoryItem) error {
	current, ok := s.items[item.ID]
	if !ok {
		return &retail.NotFoundError{Kind: "Item", ID: string(item.ID)}
	}
	if other := s.findItemByName(item.Name); other != nil && other.ID != item.ID {
		return &retail.ConflictError{Message: fmt.Sprintf("An item named %q already exists", other.Name)}
	}
	item.Quantity = current.Quantity
	s.items[item.ID] = item
	return nil
}

func (s *state) DeleteItem(_ context.Context, id retail.ItemID) error {
	if _, ok := s.items[id]; !ok {
		return &retail.NotFoundError{Kind: "Item", ID: string(id)}
	}
	delete(s.items, id)
	return nil
}

func (s *state) AdjustQuantity(_ context.Context, id retail.ItemID, delta int) (*retail.InventoryItem, error) {
	item, ok := s.items[id]
	if !ok {
		return nil, &retail.NotFoundError{Kind: "Item", ID: string(id)}
	}
	if item.Quantity+delta < 0 {
		return nil, &retail.InsufficientStockError{
			ItemID: id, Item: item.Name, Available: item.Quantity, Requested: -delta,
		}
	}
	item.Quantity += delta
	s.items[id] = item
	return &item, nil
}

func (s *state) CreateSale(_ context.Context, sale retail.Sale) error {
	if _, exists := s.sales[sale.ID]; exists {
		return &retail.ConflictError{Message: fmt.Sprintf("sale %s already exists", sale.ID)}
	}
	if sale.IdempotencyKey != "" {
		if existing := s.saleByKey(sale.IdempotencyKey); existing != nil {
			return &retail.ConflictError{Message: "duplicate idempotency key"}
		}
	}
	s.sales[sale.ID] = sale
	return nil
}

func (s *state) GetSale(_ context.Context, id retail.SaleID) (*retail.Sale, error) {
	sale, ok := s.sales[id]
	if !ok {
		return nil, nil
	}
	return &sale, nil
}

func (s *state) GetSaleByIdempotencyKey(_ context.Context, key string) (*retail.Sale, error) {
	return s.saleByKey(key), nil
}

func (s *state) saleByKey(key string) *retail.Sale {
	for _, sale := range s.sales {
		if sale.IdempotencyKey == key {
			found := sale
			return &found
		}
	}
	return nil
}

func (s *state) ListSales(_ context.Context) ([]retail.Sale, error) {
	sales := make([]retail.Sale, 0, len(s.sales))
	for _, sale := range s.sales {
		sales = append(sales, sale)
	}
	sort.SliceStable(sales, func(i, j int) bool {
		return sales[i].CreatedAt.After(sales[j].CreatedAt)
	})
	return sales, nil
}

func (s *state) UpdateSale(_ context.Context, sale retail.Sale) error {
	if _, ok := s.sales[sale.ID]; !ok {
		return &retail.NotFoundError{Kind: "Sale", ID: string(sale.ID)}
	}
	s.sales[sale.ID] = sale
	return nil
}

func (s *state) DeleteSale(_ context.Context, id retail.SaleID) error {
	if _, ok := s.sales[id]; !ok {
		return &retail.NotFoundError{Kind: "Sale", ID: string(id)}
	}
	delete(s.sales, id)
	return nil
}

func (s *state) CreateUser(_ context.Context, user retail.UserProfile) error {
	for _, u := range s.users {
		if strings.EqualFold(u.Email, user.Email) {
			return &retail.ConflictError{Message: "User already exists"}
		}
	}
	s.users[user.ID] = user
	return nil
}

func (s *state) GetUser(_ context.Context, id retail.UserID) (*retail.UserProfile, error) {
	user, ok := s.users[id]
	if !ok {
		return nil, nil
	}
	return &user, nil
}

func (s *state) GetUserByEmail(_ context.Context, email string) (*retail.UserProfile, error) {
	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			found := u
			return &found, nil
		}
	}
	return nil, nil
}

func (s *state) ListUsers(_ context.Context) ([]retail.UserProfile, error) {
	users := make([]retail.UserProfile, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, u)
	}
	sort.SliceStable(users, func(i, j int) bool {
		return users[i].CreatedAt.After(users[j].CreatedAt)
	})
	return users, nil
}

func (s *state) UpdateUserRole(_ context.Context, id retail.UserID, role retail.Role) error {
	user, ok := s.users[id]
	if !ok {
		return &retail.NotFoundError{Kind: "User", ID: string(id)}
	}
	user.Role = role
	s.users[id] = user
	return nil
}

func (s *state) AppendAudit(_ context.Context, entry retail.AuditEntry) error {
	s.audit = append(s.audit, entry)
	return nil
}

func (s *state) QueryAudit(_ context.Context, f retail.AuditFilter) ([]retail.AuditEntry, error) {
	var result []retail.AuditEntry
	for i := len(s.audit) - 1; i >= 0; i-- {
		e := s.audit[i]
		if f.SaleID != nil && e.SaleID != *f.SaleID {
			continue
		}
		if f.ItemID != nil && e.ItemID != *f.ItemID {
			continue
		}
		if len(f.Actions) > 0 && !containsAction(f.Actions, e.Action) {
			continue
		}
		result = append(result, e)
		if f.Limit > 0 && len(result) == f.Limit {
			break
		}
	}
	return result, nil
}

func containsAction(actions []retail.AuditAction, a retail.AuditAction) bool {
	for _, x := range actions {
		if x == a {
			return true
		}
	}
	return false
}
