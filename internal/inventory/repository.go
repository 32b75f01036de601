package inventory

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/storekeep/storekeep/internal/platform/db"
)

// Repository persists the stock ledger in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a read-committed transaction. Per-product
// serialisation comes from SELECT ... FOR UPDATE in GetStockForUpdate.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("inventory repository not initialised")
	}
	return db.WithTxOptions(ctx, r.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const refIDConstraint = "uq_stock_transactions_ref_id"

const entryColumns = `id, product_id, tx_type, direction, quantity, unit_price, total_amount,
	previous_stock, new_stock, reference, ref_id::text, COALESCE(supplier_id, 0),
	customer_name, customer_phone, customer_email, notes, actor_id, created_at`

// ListEntries returns one page of a product's ledger, newest first, and the total count.
func (r *Repository) ListEntries(ctx context.Context, productID int64, limit, offset int) ([]Entry, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM stock_transactions WHERE product_id=$1`, productID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, `SELECT `+entryColumns+`
FROM stock_transactions WHERE product_id=$1
ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3`, productID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var entries []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, 0, err
		}
		entries = append(entries, entry)
	}
	return entries, total, rows.Err()
}

// StockSummaries aggregates the signed ledger per product.
func (r *Repository) StockSummaries(ctx context.Context) ([]StockSummary, error) {
	rows, err := r.pool.Query(ctx, `SELECT p.id, p.sku, p.current_stock,
	COALESCE(SUM(t.direction * t.quantity), 0), COUNT(t.id)
FROM products p
LEFT JOIN stock_transactions t ON t.product_id = p.id
GROUP BY p.id, p.sku, p.current_stock
ORDER BY p.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []StockSummary
	for rows.Next() {
		var s StockSummary
		if err := rows.Scan(&s.ProductID, &s.SKU, &s.CurrentStock, &s.LedgerSum, &s.Entries); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *txRepository) GetStockForUpdate(ctx context.Context, productID int64) (StockRecord, error) {
	var rec StockRecord
	err := r.tx.QueryRow(ctx, `SELECT id, sku, current_stock, cost_price FROM products WHERE id=$1 FOR UPDATE`, productID).
		Scan(&rec.ProductID, &rec.SKU, &rec.CurrentStock, &rec.CostPrice)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StockRecord{}, ErrProductNotFound
		}
		return StockRecord{}, err
	}
	return rec, nil
}

func (r *txRepository) UpdateStock(ctx context.Context, productID, newStock int64) error {
	tag, err := r.tx.Exec(ctx, `UPDATE products SET current_stock=$2, updated_at=NOW() WHERE id=$1`, productID, newStock)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrProductNotFound
	}
	return nil
}

func (r *txRepository) EntryByRef(ctx context.Context, refID string) (Entry, bool, error) {
	entry, err := scanEntry(r.tx.QueryRow(ctx, `SELECT `+entryColumns+` FROM stock_transactions WHERE ref_id=$1`, refID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entry{}, false, nil
		}
		return Entry{}, false, err
	}
	return entry, true, nil
}

func (r *txRepository) InsertEntry(ctx context.Context, entry Entry) (Entry, error) {
	var customer Customer
	if entry.Customer != nil {
		customer = *entry.Customer
	}
	var supplierID *int64
	if entry.SupplierID > 0 {
		supplierID = &entry.SupplierID
	}
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_transactions
	(product_id, tx_type, direction, quantity, unit_price, total_amount, previous_stock, new_stock,
	 reference, ref_id, supplier_id, customer_name, customer_phone, customer_email, notes, actor_id, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
RETURNING id`,
		entry.ProductID, string(entry.Type), int16(entry.Direction), entry.Quantity, entry.UnitPrice, entry.TotalAmount,
		entry.PreviousStock, entry.NewStock, entry.Reference, entry.RefID, supplierID,
		customer.Name, customer.Phone, customer.Email, entry.Notes, entry.ActorID, entry.CreatedAt,
	).Scan(&entry.ID)
	if err != nil {
		// A concurrent mutation of another product committed the same key first.
		if db.IsUniqueViolation(err) && db.ConstraintName(err) == refIDConstraint {
			return Entry{}, &DuplicateMutationError{}
		}
		return Entry{}, err
	}
	return entry, nil
}

func scanEntry(row pgx.Row) (Entry, error) {
	var (
		e         Entry
		txType    string
		direction int16
		customer  Customer
	)
	err := row.Scan(&e.ID, &e.ProductID, &txType, &direction, &e.Quantity, &e.UnitPrice, &e.TotalAmount,
		&e.PreviousStock, &e.NewStock, &e.Reference, &e.RefID, &e.SupplierID,
		&customer.Name, &customer.Phone, &customer.Email, &e.Notes, &e.ActorID, &e.CreatedAt)
	if err != nil {
		return Entry{}, err
	}
	e.Type = TransactionType(txType)
	e.Direction = Direction(direction)
	if customer != (Customer{}) {
		e.Customer = &customer
	}
	return e, nil
}
