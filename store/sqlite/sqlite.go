/*
Package sqlite provides a SQLite-backed implementation of retail.TxStore.

PURPOSE:
  Persists inventory items, sales, users and the audit log. The same SQL
  works against PostgreSQL with minor dialect changes.

KEY TABLES:
  inventory_items: Stock on hand, one row per product
  sales:           Recorded sales, with the item id captured at creation
  users:           Back-office accounts and their roles
  audit_log:       Append-only record of every mutation

QUANTITY INTEGRITY:
  - quantity has CHECK (quantity >= 0)
  - AdjustQuantity is a single conditional UPDATE ... RETURNING, so the
    check and the write cannot be separated by another writer
  - UpdateItem never writes quantity

CONCURRENCY:
  The pool is capped at one connection. Writers are serialized by SQLite
  itself, and ":memory:" databases are shared by every caller. Inside
  WithTx every statement goes through the *sql.Tx; using the parent Store
  from inside fn would block on the pool.

WAL MODE:
  Opened with WAL and a busy timeout so a second process (the CLI) can
  read while the server writes.

USAGE:
  store, err := sqlite.New("./stockroom.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := retail.NewEngine(store, logger)

SEE ALSO:
  - retail/store.go: Interface definitions
  - retail/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/stockroom/retail"
)

// timeLayout has fixed width so TEXT ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store implements retail.TxStore using SQLite.
type Store struct {
	queries
	db *sql.DB
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{queries: queries{db: db, now: utcNow}, db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS inventory_items (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		price TEXT NOT NULL,
		quantity INTEGER NOT NULL CHECK (quantity >= 0),
		category TEXT NOT NULL,
		low_stock_threshold INTEGER NOT NULL DEFAULT 5,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Sales resolve stock by name, so names must be unambiguous
	CREATE UNIQUE INDEX IF NOT EXISTS idx_items_name
		ON inventory_items(name COLLATE NOCASE);

	-- No foreign key on item_id: deleting an item keeps its sales
	CREATE TABLE IF NOT EXISTS sales (
		id TEXT PRIMARY KEY,
		item_id TEXT,
		item TEXT NOT NULL,
		quantity INTEGER NOT NULL CHECK (quantity >= 1),
		amount TEXT NOT NULL,
		category TEXT NOT NULL,
		note TEXT NOT NULL DEFAULT '',
		verified INTEGER NOT NULL DEFAULT 0,
		idempotency_key TEXT UNIQUE,
		created_by TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sales_created_at
		ON sales(created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_sales_item_id
		ON sales(item_id) WHERE item_id IS NOT NULL;

	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL,
		role TEXT NOT NULL CHECK (role IN ('admin', 'finance', 'staff')),
		password_hash TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_users_email
		ON users(email COLLATE NOCASE);

	-- Append-only: no UPDATE or DELETE is ever issued against audit_log
	CREATE TABLE IF NOT EXISTS audit_log (
		id TEXT PRIMARY KEY,
		at TEXT NOT NULL,
		actor TEXT NOT NULL,
		action TEXT NOT NULL,
		sale_id TEXT,
		item_id TEXT,
		user_id TEXT,
		quantity INTEGER NOT NULL DEFAULT 0,
		detail TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_audit_sale
		ON audit_log(sale_id) WHERE sale_id IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_audit_item
		ON audit_log(item_id) WHERE item_id IS NOT NULL;
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE (retail.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store retail.Store) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&queries{db: sqlTx, now: s.now}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries implements retail.Store over a connection or a transaction.
type queries struct {
	db  dbtx
	now func() time.Time
}

// =============================================================================
// INVENTORY STORE
// =============================================================================

const itemColumns = `id, name, description, price, quantity, category, low_stock_threshold, created_at, updated_at`

func (q *queries) CreateItem(ctx context.Context, item retail.InventoryItem) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO inventory_items (`+itemColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		item.ID, item.Name, item.Description, item.Price.String(), item.Quantity,
		item.Category, item.LowStockThreshold,
		formatTime(item.CreatedAt), formatTime(item.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return &retail.ConflictError{Message: fmt.Sprintf("An item named %q already exists", item.Name)}
		}
		return fmt.Errorf("failed to insert item: %w", err)
	}
	return nil
}

func (q *queries) GetItem(ctx context.Context, id retail.ItemID) (*retail.InventoryItem, error) {
	row := q.db.QueryRowContext(ctx, "SELECT "+itemColumns+" FROM inventory_items WHERE id = ?", id)
	return scanItemRow(row)
}

func (q *queries) FindItemByName(ctx context.Context, name string) (*retail.InventoryItem, error) {
	row := q.db.QueryRowContext(ctx,
		"SELECT "+itemColumns+" FROM inventory_items WHERE name = ? COLLATE NOCASE", name)
	return scanItemRow(row)
}

func (q *queries) ListItems(ctx context.Context) ([]retail.InventoryItem, error) {
	rows, err := q.db.QueryContext(ctx,
		"SELECT "+itemColumns+" FROM inventory_items ORDER BY name COLLATE NOCASE ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}
	defer rows.Close()

	var items []retail.InventoryItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// UpdateItem writes every column except quantity.
func (q *queries) UpdateItem(ctx context.Context, item retail.InventoryItem) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE inventory_items
		SET name = ?, description = ?, price = ?, category = ?,
		    low_stock_threshold = ?, updated_at = ?
		WHERE id = ?
	`,
		item.Name, item.Description, item.Price.String(), item.Category,
		item.LowStockThreshold, formatTime(item.UpdatedAt), item.ID,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return &retail.ConflictError{Message: fmt.Sprintf("An item named %q already exists", item.Name)}
		}
		return fmt.Errorf("failed to update item: %w", err)
	}
	return requireRow(res, "Item", string(item.ID))
}

func (q *queries) DeleteItem(ctx context.Context, id retail.ItemID) error {
	res, err := q.db.ExecContext(ctx, "DELETE FROM inventory_items WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete item: %w", err)
	}
	return requireRow(res, "Item", string(id))
}

// AdjustQuantity is a check-and-set: the row only changes if the result
// stays non-negative.
func (q *queries) AdjustQuantity(ctx context.Context, id retail.ItemID, delta int) (*retail.InventoryItem, error) {
	row := q.db.QueryRowContext(ctx, `
		UPDATE inventory_items
		SET quantity = quantity + ?, updated_at = ?
		WHERE id = ? AND quantity + ? >= 0
		RETURNING `+itemColumns,
		delta, formatTime(q.now()), id, delta,
	)
	item, err := scanItemRow(row)
	if err != nil {
		return nil, fmt.Errorf("failed to adjust quantity: %w", err)
	}
	if item != nil {
		return item, nil
	}

	// Nothing matched: either the item is gone or the stock is short.
	current, err := q.GetItem(ctx, id)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, &retail.NotFoundError{Kind: "Item", ID: string(id)}
	}
	return nil, &retail.InsufficientStockError{
		ItemID:    id,
		Item:      current.Name,
		Available: current.Quantity,
		Requested: -delta,
	}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanItem(sc scanner) (retail.InventoryItem, error) {
	var (
		item                 retail.InventoryItem
		price                string
		createdAt, updatedAt string
	)
	err := sc.Scan(&item.ID, &item.Name, &item.Description, &price, &item.Quantity,
		&item.Category, &item.LowStockThreshold, &createdAt, &updatedAt)
	if err != nil {
		return item, err
	}
	if item.Price, err = decimal.NewFromString(price); err != nil {
		return item, fmt.Errorf("failed to parse price of item %s: %w", item.ID, err)
	}
	item.CreatedAt = parseTime(createdAt)
	item.UpdatedAt = parseTime(updatedAt)
	return item, nil
}

func scanItemRow(row *sql.Row) (*retail.InventoryItem, error) {
	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// =============================================================================
// SALE STORE
// =============================================================================

const saleColumns = `id, item_id, item, quantity, amount, category, note, verified, idempotency_key, created_by, created_at`

func (q *queries) CreateSale(ctx context.Context, sale retail.Sale) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO sales (`+saleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		sale.ID, nullString(string(sale.ItemID)), sale.Item, sale.Quantity,
		sale.Amount.String(), sale.Category, sale.Note, sale.Verified,
		nullString(sale.IdempotencyKey), sale.CreatedBy, formatTime(sale.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return &retail.ConflictError{Message: "duplicate idempotency key"}
		}
		return fmt.Errorf("failed to insert sale: %w", err)
	}
	return nil
}

func (q *queries) GetSale(ctx context.Context, id retail.SaleID) (*retail.Sale, error) {
	row := q.db.QueryRowContext(ctx, "SELECT "+saleColumns+" FROM sales WHERE id = ?", id)
	return scanSaleRow(row)
}

func (q *queries) GetSaleByIdempotencyKey(ctx context.Context, key string) (*retail.Sale, error) {
	row := q.db.QueryRowContext(ctx, "SELECT "+saleColumns+" FROM sales WHERE idempotency_key = ?", key)
	return scanSaleRow(row)
}

func (q *queries) ListSales(ctx context.Context) ([]retail.Sale, error) {
	rows, err := q.db.QueryContext(ctx,
		"SELECT "+saleColumns+" FROM sales ORDER BY created_at DESC, rowid DESC")
	if err != nil {
		return nil, fmt.Errorf("failed to query sales: %w", err)
	}
	defer rows.Close()

	var sales []retail.Sale
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		sales = append(sales, sale)
	}
	return sales, rows.Err()
}

func (q *queries) UpdateSale(ctx context.Context, sale retail.Sale) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE sales
		SET quantity = ?, amount = ?, category = ?, note = ?, verified = ?
		WHERE id = ?
	`,
		sale.Quantity, sale.Amount.String(), sale.Category, sale.Note, sale.Verified, sale.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update sale: %w", err)
	}
	return requireRow(res, "Sale", string(sale.ID))
}

func (q *queries) DeleteSale(ctx context.Context, id retail.SaleID) error {
	res, err := q.db.ExecContext(ctx, "DELETE FROM sales WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete sale: %w", err)
	}
	return requireRow(res, "Sale", string(id))
}

func scanSale(sc scanner) (retail.Sale, error) {
	var (
		sale           retail.Sale
		itemID         sql.NullString
		amount         string
		idempotencyKey sql.NullString
		createdAt      string
	)
	err := sc.Scan(&sale.ID, &itemID, &sale.Item, &sale.Quantity, &amount,
		&sale.Category, &sale.Note, &sale.Verified, &idempotencyKey,
		&sale.CreatedBy, &createdAt)
	if err != nil {
		return sale, err
	}
	if sale.Amount, err = decimal.NewFromString(amount); err != nil {
		return sale, fmt.Errorf("failed to parse amount of sale %s: %w", sale.ID, err)
	}
	sale.ItemID = retail.ItemID(itemID.String)
	sale.IdempotencyKey = idempotencyKey.String
	sale.CreatedAt = parseTime(createdAt)
	return sale, nil
}

func scanSaleRow(row *sql.Row) (*retail.Sale, error) {
	sale, err := scanSale(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sale, nil
}

// =============================================================================
// USER STORE
// =============================================================================

const userColumns = `id, email, role, password_hash, created_at`

func (q *queries) CreateUser(ctx context.Context, user retail.UserProfile) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?)
	`, user.ID, user.Email, user.Role, user.PasswordHash, formatTime(user.CreatedAt))
	if err != nil {
		if isUniqueConstraintError(err) {
			return &retail.ConflictError{Message: "User already exists"}
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

func (q *queries) GetUser(ctx context.Context, id retail.UserID) (*retail.UserProfile, error) {
	row := q.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE id = ?", id)
	return scanUserRow(row)
}

func (q *queries) GetUserByEmail(ctx context.Context, email string) (*retail.UserProfile, error) {
	row := q.db.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE email = ? COLLATE NOCASE", email)
	return scanUserRow(row)
}

func (q *queries) ListUsers(ctx context.Context) ([]retail.UserProfile, error) {
	rows, err := q.db.QueryContext(ctx,
		"SELECT "+userColumns+" FROM users ORDER BY created_at DESC, rowid DESC")
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	var users []retail.UserProfile
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

func (q *queries) UpdateUserRole(ctx context.Context, id retail.UserID, role retail.Role) error {
	res, err := q.db.ExecContext(ctx, "UPDATE users SET role = ? WHERE id = ?", role, id)
	if err != nil {
		return fmt.Errorf("failed to update user role: %w", err)
	}
	return requireRow(res, "User", string(id))
}

func scanUser(sc scanner) (retail.UserProfile, error) {
	var (
		user      retail.UserProfile
		createdAt string
	)
	if err := sc.Scan(&user.ID, &user.Email, &user.Role, &user.PasswordHash, &createdAt); err != nil {
		return user, err
	}
	user.CreatedAt = parseTime(createdAt)
	return user, nil
}

func scanUserRow(row *sql.Row) (*retail.UserProfile, error) {
	user, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// =============================================================================
// AUDIT LOG
// =============================================================================

func (q *queries) AppendAudit(ctx context.Context, e retail.AuditEntry) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, at, actor, action, sale_id, item_id, user_id, quantity, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.ID, formatTime(e.At), e.Actor, e.Action,
		nullString(string(e.SaleID)), nullString(string(e.ItemID)), nullString(string(e.UserID)),
		e.Quantity, e.Detail,
	)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

func (q *queries) QueryAudit(ctx context.Context, f retail.AuditFilter) ([]retail.AuditEntry, error) {
	var (
		where []string
		args  []any
	)
	if f.SaleID != nil {
		where = append(where, "sale_id = ?")
		args = append(args, *f.SaleID)
	}
	if f.ItemID != nil {
		where = append(where, "item_id = ?")
		args = append(args, *f.ItemID)
	}
	if len(f.Actions) > 0 {
		placeholders := make([]string, len(f.Actions))
		for i, a := range f.Actions {
			placeholders[i] = "?"
			args = append(args, a)
		}
		where = append(where, "action IN ("+strings.Join(placeholders, ", ")+")")
	}

	query := "SELECT id, at, actor, action, sale_id, item_id, user_id, quantity, detail FROM audit_log"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY at DESC, rowid DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	var entries []retail.AuditEntry
	for rows.Next() {
		var (
			e      retail.AuditEntry
			at     string
			saleID sql.NullString
			itemID sql.NullString
			userID sql.NullString
		)
		if err := rows.Scan(&e.ID, &at, &e.Actor, &e.Action, &saleID, &itemID, &userID, &e.Quantity, &e.Detail); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.At = parseTime(at)
		e.SaleID = retail.SaleID(saleID.String)
		e.ItemID = retail.ItemID(itemID.String)
		e.UserID = retail.UserID(userID.String)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears items, sales and the audit log (for testing/demo). Accounts
// are kept so the admin who loads a demo stays signed in.
func (s *Store) Reset(ctx context.Context) error {
	tables := []string{"sales", "inventory_items", "audit_log"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// Helper functions

func utcNow() time.Time { return time.Now().UTC() }

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func requireRow(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &retail.NotFoundError{Kind: kind, ID: id}
	}
	return nil
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
