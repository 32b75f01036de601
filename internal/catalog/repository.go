package catalog

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/storekeep/storekeep/internal/platform/db"
	"github.com/storekeep/storekeep/internal/shared"
)

// PostgresRepository persists products in PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs PostgresRepository.
func NewRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

const productColumns = `id, sku, COALESCE(barcode, ''), name, description, category_id, supplier_id, unit,
	cost_price, selling_price, tax_rate, current_stock, min_stock_level, max_stock_level, reorder_point,
	status, created_at, updated_at`

func scanProduct(row pgx.Row) (Product, error) {
	var (
		p      Product
		status string
	)
	err := row.Scan(&p.ID, &p.SKU, &p.Barcode, &p.Name, &p.Description, &p.CategoryID, &p.SupplierID, &p.Unit,
		&p.CostPrice, &p.SellingPrice, &p.TaxRate, &p.CurrentStock, &p.MinStockLevel, &p.MaxStockLevel, &p.ReorderPoint,
		&status, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, fmt.Errorf("catalog: product %w", shared.ErrNotFound)
		}
		return Product{}, err
	}
	p.Status = Status(status)
	return p, nil
}

func mapWriteError(err error) error {
	if db.IsUniqueViolation(err) {
		return fmt.Errorf("catalog: %s: %w", db.ConstraintName(err), shared.ErrDuplicate)
	}
	return err
}

func (r *PostgresRepository) CreateProduct(ctx context.Context, p Product) (Product, error) {
	row := r.pool.QueryRow(ctx, `INSERT INTO products
	(sku, barcode, name, description, category_id, supplier_id, unit, cost_price, selling_price, tax_rate,
	 current_stock, min_stock_level, max_stock_level, reorder_point, status)
VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, $8, $9, $10, 0, $11, $12, $13, $14)
RETURNING `+productColumns,
		p.SKU, p.Barcode, p.Name, p.Description, p.CategoryID, p.SupplierID, p.Unit, p.CostPrice, p.SellingPrice, p.TaxRate,
		p.MinStockLevel, p.MaxStockLevel, p.ReorderPoint, string(p.Status))
	created, err := scanProduct(row)
	if err != nil {
		return Product{}, mapWriteError(err)
	}
	return created, nil
}

func (r *PostgresRepository) GetProduct(ctx context.Context, id int64) (Product, error) {
	return scanProduct(r.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id=$1`, id))
}

func (r *PostgresRepository) GetProductBySKU(ctx context.Context, sku string) (Product, error) {
	return scanProduct(r.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE sku=$1`, sku))
}

func (r *PostgresRepository) GetProductByBarcode(ctx context.Context, barcode string) (Product, error) {
	return scanProduct(r.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE barcode=$1`, barcode))
}

// UpdateProduct writes every column except current_stock, which belongs to the ledger.
func (r *PostgresRepository) UpdateProduct(ctx context.Context, p Product) (Product, error) {
	row := r.pool.QueryRow(ctx, `UPDATE products SET
	barcode=NULLIF($2, ''), name=$3, description=$4, category_id=$5, supplier_id=$6, unit=$7,
	cost_price=$8, selling_price=$9, tax_rate=$10, min_stock_level=$11, max_stock_level=$12,
	reorder_point=$13, status=$14, updated_at=NOW()
WHERE id=$1
RETURNING `+productColumns,
		p.ID, p.Barcode, p.Name, p.Description, p.CategoryID, p.SupplierID, p.Unit,
		p.CostPrice, p.SellingPrice, p.TaxRate, p.MinStockLevel, p.MaxStockLevel, p.ReorderPoint, string(p.Status))
	updated, err := scanProduct(row)
	if err != nil {
		return Product{}, mapWriteError(err)
	}
	return updated, nil
}

func (r *PostgresRepository) DeleteProduct(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM products WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("catalog: product %w", shared.ErrNotFound)
	}
	return nil
}

func (r *PostgresRepository) CountLedgerEntries(ctx context.Context, productID int64) (int64, error) {
	var n int64
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM stock_transactions WHERE product_id=$1`, productID).Scan(&n)
	return n, err
}

func (r *PostgresRepository) ListProducts(ctx context.Context, filter ListFilter) ([]Product, int, error) {
	where := ` WHERE 1=1`
	args := []any{}
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		n := strconv.Itoa(len(args))
		where += ` AND (name ILIKE $` + n + ` OR sku ILIKE $` + n + ` OR barcode ILIKE $` + n + `)`
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where += ` AND status = $` + strconv.Itoa(len(args))
	}
	if filter.CategoryID > 0 {
		args = append(args, filter.CategoryID)
		where += ` AND category_id = $` + strconv.Itoa(len(args))
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM products`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, filter.PerPage, shared.Offset(filter.Page, filter.PerPage))
	query := `SELECT ` + productColumns + ` FROM products` + where +
		` ORDER BY name, id LIMIT $` + strconv.Itoa(len(args)-1) + ` OFFSET $` + strconv.Itoa(len(args))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var products []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, 0, err
		}
		products = append(products, p)
	}
	return products, total, rows.Err()
}

func (r *PostgresRepository) ListLowStock(ctx context.Context, limit int) ([]Product, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+productColumns+` FROM products
WHERE status='active' AND current_stock <= min_stock_level
ORDER BY current_stock, id LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var products []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}
