package sales

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/storekeep/storekeep/internal/platform/db"
	"github.com/storekeep/storekeep/internal/sequence"
	"github.com/storekeep/storekeep/internal/shared"
)

// PostgresRepository handles database operations for sales.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new sales repository.
func NewRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

const saleColumns = `id, invoice_number, customer_name, customer_phone, customer_email, customer_address,
	customer_gst_number, subtotal, total_discount, total_tax, grand_total, paid_amount, payment_status,
	payment_method, status, due_date, notes, sold_by, sale_date, created_at, updated_at`

func scanSale(row pgx.Row) (Sale, error) {
	var (
		s                             Sale
		paymentStatus, method, status string
	)
	err := row.Scan(&s.ID, &s.InvoiceNumber, &s.Customer.Name, &s.Customer.Phone, &s.Customer.Email, &s.Customer.Address,
		&s.Customer.GSTNumber, &s.Subtotal, &s.TotalDiscount, &s.TotalTax, &s.GrandTotal, &s.PaidAmount, &paymentStatus,
		&method, &status, &s.DueDate, &s.Notes, &s.SoldBy, &s.SaleDate, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Sale{}, ErrNotFound
		}
		return Sale{}, err
	}
	s.PaymentStatus = shared.PaymentStatus(paymentStatus)
	s.PaymentMethod = PaymentMethod(method)
	s.Status = Status(status)
	return s, nil
}

// CreateSale inserts the sale header and its lines in one transaction.
func (r *PostgresRepository) CreateSale(ctx context.Context, sale Sale) (Sale, error) {
	var id int64
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `INSERT INTO sales
	(invoice_number, customer_name, customer_phone, customer_email, customer_address, customer_gst_number,
	 subtotal, total_discount, total_tax, grand_total, paid_amount, payment_status, payment_method, status,
	 due_date, notes, sold_by, sale_date)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
RETURNING id`,
			sale.InvoiceNumber, sale.Customer.Name, sale.Customer.Phone, sale.Customer.Email, sale.Customer.Address,
			sale.Customer.GSTNumber, sale.Subtotal, sale.TotalDiscount, sale.TotalTax, sale.GrandTotal, sale.PaidAmount,
			string(sale.PaymentStatus), string(sale.PaymentMethod), string(sale.Status), sale.DueDate, sale.Notes,
			sale.SoldBy, sale.SaleDate).Scan(&id)
		if err != nil {
			if db.IsUniqueViolation(err) {
				return fmt.Errorf("sales: invoice %s: %w", sale.InvoiceNumber, shared.ErrDuplicate)
			}
			return err
		}
		batch := &pgx.Batch{}
		for _, l := range sale.Lines {
			batch.Queue(`INSERT INTO sale_items
	(sale_id, product_id, product_name, sku, quantity, unit_price, discount, tax_rate, tax_amount, total_price)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
				id, l.ProductID, l.ProductName, l.SKU, l.Quantity, l.UnitPrice, l.Discount, l.TaxRate, l.TaxAmount, l.TotalPrice)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return Sale{}, err
	}
	return r.GetSale(ctx, id)
}

// GetSale returns a sale with its lines.
func (r *PostgresRepository) GetSale(ctx context.Context, id int64) (Sale, error) {
	sale, err := scanSale(r.pool.QueryRow(ctx, `SELECT `+saleColumns+` FROM sales WHERE id=$1`, id))
	if err != nil {
		return Sale{}, err
	}
	lines, err := r.linesFor(ctx, []int64{id})
	if err != nil {
		return Sale{}, err
	}
	sale.Lines = lines[id]
	return sale, nil
}

func (r *PostgresRepository) linesFor(ctx context.Context, ids []int64) (map[int64][]Line, error) {
	rows, err := r.pool.Query(ctx, `SELECT sale_id, id, product_id, product_name, sku, quantity, unit_price,
	discount, tax_rate, tax_amount, total_price
FROM sale_items WHERE sale_id = ANY($1) ORDER BY id`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[int64][]Line, len(ids))
	for rows.Next() {
		var (
			saleID int64
			l      Line
		)
		if err := rows.Scan(&saleID, &l.ID, &l.ProductID, &l.ProductName, &l.SKU, &l.Quantity, &l.UnitPrice,
			&l.Discount, &l.TaxRate, &l.TaxAmount, &l.TotalPrice); err != nil {
			return nil, err
		}
		out[saleID] = append(out[saleID], l)
	}
	return out, rows.Err()
}

// SaveSale updates the header. Lines are immutable once created.
func (r *PostgresRepository) SaveSale(ctx context.Context, sale Sale) (Sale, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE sales SET
	customer_name=$2, customer_phone=$3, customer_email=$4, customer_address=$5, customer_gst_number=$6,
	subtotal=$7, total_discount=$8, total_tax=$9, grand_total=$10, paid_amount=$11, payment_status=$12,
	payment_method=$13, status=$14, due_date=$15, notes=$16, updated_at=NOW()
WHERE id=$1`,
		sale.ID, sale.Customer.Name, sale.Customer.Phone, sale.Customer.Email, sale.Customer.Address, sale.Customer.GSTNumber,
		sale.Subtotal, sale.TotalDiscount, sale.TotalTax, sale.GrandTotal, sale.PaidAmount, string(sale.PaymentStatus),
		string(sale.PaymentMethod), string(sale.Status), sale.DueDate, sale.Notes)
	if err != nil {
		return Sale{}, err
	}
	if tag.RowsAffected() == 0 {
		return Sale{}, ErrNotFound
	}
	return r.GetSale(ctx, sale.ID)
}

// ListSales returns a page of sales with lines, newest first.
func (r *PostgresRepository) ListSales(ctx context.Context, filter ListFilter) ([]Sale, int, error) {
	where := ` WHERE 1=1`
	args := []any{}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where += ` AND status = $` + strconv.Itoa(len(args))
	}
	if filter.PaymentStatus != "" {
		args = append(args, string(filter.PaymentStatus))
		where += ` AND payment_status = $` + strconv.Itoa(len(args))
	}
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		n := strconv.Itoa(len(args))
		where += ` AND (invoice_number ILIKE $` + n + ` OR customer_name ILIKE $` + n + ` OR customer_phone ILIKE $` + n + `)`
	}
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		where += ` AND sale_date >= $` + strconv.Itoa(len(args))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		where += ` AND sale_date <= $` + strconv.Itoa(len(args))
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM sales`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	args = append(args, filter.PerPage, shared.Offset(filter.Page, filter.PerPage))
	rows, err := r.pool.Query(ctx, `SELECT `+saleColumns+` FROM sales`+where+
		` ORDER BY sale_date DESC, id DESC LIMIT $`+strconv.Itoa(len(args)-1)+` OFFSET $`+strconv.Itoa(len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	var (
		sales []Sale
		ids   []int64
	)
	for rows.Next() {
		s, err := scanSale(rows)
		if err != nil {
			rows.Close()
			return nil, 0, err
		}
		sales = append(sales, s)
		ids = append(ids, s.ID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	if len(ids) == 0 {
		return sales, total, nil
	}
	lines, err := r.linesFor(ctx, ids)
	if err != nil {
		return nil, 0, err
	}
	for i := range sales {
		sales[i].Lines = lines[sales[i].ID]
	}
	return sales, total, nil
}

// HighestSuffix implements sequence.Seeder for invoice numbers.
func (r *PostgresRepository) HighestSuffix(ctx context.Context, _ string, prefix string) (int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT invoice_number FROM sales WHERE invoice_number LIKE $1 || '%'`, prefix)
	if err != nil {
		return 0, err
	}
	numbers, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return 0, err
	}
	return sequence.HighestSuffix(prefix, numbers), nil
}
