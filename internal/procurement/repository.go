package procurement

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

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const orderColumns = `id, order_number, supplier_id, order_date, expected_delivery_date, actual_delivery_date,
	status, subtotal, tax_amount, discount_amount, total_amount, paid_amount, payment_status,
	notes, created_by, COALESCE(received_by, 0), created_at, updated_at`

func scanOrder(row pgx.Row) (PurchaseOrder, error) {
	var (
		po            PurchaseOrder
		status        string
		paymentStatus string
	)
	err := row.Scan(&po.ID, &po.Number, &po.SupplierID, &po.OrderDate, &po.ExpectedDeliveryDate, &po.ActualDeliveryDate,
		&status, &po.Subtotal, &po.TaxAmount, &po.DiscountAmount, &po.TotalAmount, &po.PaidAmount, &paymentStatus,
		&po.Notes, &po.CreatedBy, &po.ReceivedBy, &po.CreatedAt, &po.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseOrder{}, ErrNotFound
		}
		return PurchaseOrder{}, err
	}
	po.Status = POStatus(status)
	po.PaymentStatus = shared.PaymentStatus(paymentStatus)
	return po, nil
}

func nullableID(id int64) *int64 {
	if id <= 0 {
		return nil
	}
	return &id
}

// CreatePurchaseOrder inserts the header and its lines in one transaction.
func (r *Repository) CreatePurchaseOrder(ctx context.Context, po PurchaseOrder) (PurchaseOrder, error) {
	var id int64
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `INSERT INTO purchase_orders
	(order_number, supplier_id, order_date, expected_delivery_date, status, subtotal, tax_amount,
	 discount_amount, total_amount, paid_amount, payment_status, notes, created_by)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
RETURNING id`,
			po.Number, po.SupplierID, po.OrderDate, po.ExpectedDeliveryDate, string(po.Status), po.Subtotal, po.TaxAmount,
			po.DiscountAmount, po.TotalAmount, po.PaidAmount, string(po.PaymentStatus), po.Notes, po.CreatedBy).Scan(&id)
		if err != nil {
			if db.IsUniqueViolation(err) {
				return fmt.Errorf("procurement: order number %s: %w", po.Number, shared.ErrDuplicate)
			}
			return err
		}
		for _, line := range po.Lines {
			if _, err := insertLine(ctx, tx, id, line); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	return r.GetPurchaseOrder(ctx, id)
}

func insertLine(ctx context.Context, tx pgx.Tx, orderID int64, line POLine) (int64, error) {
	var id int64
	err := tx.QueryRow(ctx, `INSERT INTO purchase_order_items
	(purchase_order_id, product_id, quantity, unit_price, total_price, received_quantity)
VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		orderID, line.ProductID, line.Quantity, line.UnitPrice, line.TotalPrice, line.ReceivedQuantity).Scan(&id)
	if err != nil && db.IsUniqueViolation(err) {
		return 0, fmt.Errorf("%w: product %d listed twice", ErrValidation, line.ProductID)
	}
	return id, err
}

// GetPurchaseOrder returns the order with its lines.
func (r *Repository) GetPurchaseOrder(ctx context.Context, id int64) (PurchaseOrder, error) {
	po, err := scanOrder(r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM purchase_orders WHERE id=$1`, id))
	if err != nil {
		return PurchaseOrder{}, err
	}
	lines, err := r.linesFor(ctx, []int64{id})
	if err != nil {
		return PurchaseOrder{}, err
	}
	po.Lines = lines[id]
	return po, nil
}

func (r *Repository) linesFor(ctx context.Context, ids []int64) (map[int64][]POLine, error) {
	rows, err := r.pool.Query(ctx, `SELECT purchase_order_id, id, product_id, quantity, unit_price, total_price, received_quantity
FROM purchase_order_items WHERE purchase_order_id = ANY($1) ORDER BY id`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[int64][]POLine, len(ids))
	for rows.Next() {
		var (
			orderID int64
			l       POLine
		)
		if err := rows.Scan(&orderID, &l.ID, &l.ProductID, &l.Quantity, &l.UnitPrice, &l.TotalPrice, &l.ReceivedQuantity); err != nil {
			return nil, err
		}
		out[orderID] = append(out[orderID], l)
	}
	return out, rows.Err()
}

// SavePurchaseOrder rewrites the header and reconciles lines: lines without an ID are
// inserted, known lines updated and lines no longer present removed.
func (r *Repository) SavePurchaseOrder(ctx context.Context, po PurchaseOrder) (PurchaseOrder, error) {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE purchase_orders SET
	supplier_id=$2, expected_delivery_date=$3, actual_delivery_date=$4, status=$5, subtotal=$6,
	tax_amount=$7, discount_amount=$8, total_amount=$9, paid_amount=$10, payment_status=$11,
	notes=$12, received_by=$13, updated_at=NOW()
WHERE id=$1`,
			po.ID, po.SupplierID, po.ExpectedDeliveryDate, po.ActualDeliveryDate, string(po.Status), po.Subtotal,
			po.TaxAmount, po.DiscountAmount, po.TotalAmount, po.PaidAmount, string(po.PaymentStatus),
			po.Notes, nullableID(po.ReceivedBy))
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}

		keep := make([]int64, 0, len(po.Lines))
		for _, l := range po.Lines {
			if l.ID > 0 {
				keep = append(keep, l.ID)
			}
		}
		if _, err := tx.Exec(ctx, `DELETE FROM purchase_order_items WHERE purchase_order_id=$1 AND NOT (id = ANY($2))`, po.ID, keep); err != nil {
			return err
		}
		for _, l := range po.Lines {
			if l.ID == 0 {
				if _, err := insertLine(ctx, tx, po.ID, l); err != nil {
					return err
				}
				continue
			}
			_, err := tx.Exec(ctx, `UPDATE purchase_order_items SET
	quantity=$3, unit_price=$4, total_price=$5, received_quantity=$6
WHERE id=$1 AND purchase_order_id=$2`, l.ID, po.ID, l.Quantity, l.UnitPrice, l.TotalPrice, l.ReceivedQuantity)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	return r.GetPurchaseOrder(ctx, po.ID)
}

// DeletePurchaseOrder removes the order; lines cascade.
func (r *Repository) DeletePurchaseOrder(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM purchase_orders WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListPurchaseOrders returns a page of orders with lines, newest first.
func (r *Repository) ListPurchaseOrders(ctx context.Context, filter ListFilter) ([]PurchaseOrder, int, error) {
	where := ` WHERE 1=1`
	args := []any{}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where += ` AND status = $` + strconv.Itoa(len(args))
	}
	if filter.SupplierID > 0 {
		args = append(args, filter.SupplierID)
		where += ` AND supplier_id = $` + strconv.Itoa(len(args))
	}
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		where += ` AND order_date >= $` + strconv.Itoa(len(args))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		where += ` AND order_date <= $` + strconv.Itoa(len(args))
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM purchase_orders`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, filter.PerPage, shared.Offset(filter.Page, filter.PerPage))
	rows, err := r.pool.Query(ctx, `SELECT `+orderColumns+` FROM purchase_orders`+where+
		` ORDER BY order_date DESC, id DESC LIMIT $`+strconv.Itoa(len(args)-1)+` OFFSET $`+strconv.Itoa(len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	var (
		orders []PurchaseOrder
		ids    []int64
	)
	for rows.Next() {
		po, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, 0, err
		}
		orders = append(orders, po)
		ids = append(ids, po.ID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	if len(ids) == 0 {
		return orders, total, nil
	}
	lines, err := r.linesFor(ctx, ids)
	if err != nil {
		return nil, 0, err
	}
	for i := range orders {
		orders[i].Lines = lines[orders[i].ID]
	}
	return orders, total, nil
}

// HighestSuffix implements sequence.Seeder for order numbers.
func (r *Repository) HighestSuffix(ctx context.Context, _ string, prefix string) (int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT order_number FROM purchase_orders WHERE order_number LIKE $1 || '%'`, prefix)
	if err != nil {
		return 0, err
	}
	numbers, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return 0, err
	}
	return sequence.HighestSuffix(prefix, numbers), nil
}
