// Command seed loads demo products, a received purchase order and a few sales through
// the services, so every stock change lands in the ledger.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/storekeep/storekeep/internal/app"
	"github.com/storekeep/storekeep/internal/catalog"
	"github.com/storekeep/storekeep/internal/procurement"
	"github.com/storekeep/storekeep/internal/sales"
	"github.com/storekeep/storekeep/internal/shared"
)

const seedActor int64 = 1

func main() {
	ctx := context.Background()
	cfg, err := app.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c, err := app.Build(ctx, cfg, logger, nil)
	if err != nil {
		log.Fatalf("wire services: %v", err)
	}
	defer c.Close()

	// Phase 1: Catalog
	fmt.Println("→ Seeding products...")
	products, err := seedProducts(ctx, c.Catalog)
	if err != nil {
		log.Fatalf("seed products: %v", err)
	}

	// Phase 2: Procurement
	fmt.Println("→ Seeding purchase orders...")
	if err := seedProcurement(ctx, c.Procurement, products); err != nil {
		log.Fatalf("seed procurement: %v", err)
	}

	// Phase 3: Sales
	fmt.Println("→ Seeding sales...")
	if err := seedSales(ctx, c.Sales, products); err != nil {
		log.Fatalf("seed sales: %v", err)
	}

	fmt.Println("✓ Seed complete at", time.Now().Format(time.RFC3339))
}

// =============================================================================
// CATALOG
// =============================================================================

func seedProducts(ctx context.Context, svc *catalog.Service) ([]catalog.Product, error) {
	items := []struct {
		sku, barcode, name string
		cost, price, tax   string
		stock              int64
	}{
		{"RICE-5KG", "8901234500011", "Basmati Rice 5kg", "420.00", "499.00", "5", 40},
		{"OIL-1L", "8901234500028", "Sunflower Oil 1L", "120.00", "145.00", "5", 60},
		{"TEA-250", "8901234500035", "Assam Tea 250g", "95.00", "130.00", "5", 3},
		{"SOAP-100", "8901234500042", "Neem Soap 100g", "22.00", "35.00", "18", 0},
	}
	out := make([]catalog.Product, 0, len(items))
	for _, it := range items {
		p, err := svc.Create(ctx, catalog.CreateInput{
			SKU:          it.sku,
			Barcode:      it.barcode,
			Name:         it.name,
			CategoryID:   1,
			SupplierID:   1,
			CostPrice:    decimal.RequireFromString(it.cost),
			SellingPrice: decimal.RequireFromString(it.price),
			TaxRate:      decimal.RequireFromString(it.tax),
			InitialStock: it.stock,
			ActorID:      seedActor,
		})
		if errors.Is(err, shared.ErrDuplicate) {
			p, err = svc.GetBySKU(ctx, it.sku)
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", it.sku, err)
		}
		out = append(out, p)
	}
	return out, nil
}

// =============================================================================
// PROCUREMENT
// =============================================================================

func seedProcurement(ctx context.Context, svc *procurement.Service, products []catalog.Product) error {
	po, err := svc.Create(ctx, procurement.CreateInput{
		SupplierID: 1,
		Lines: []procurement.LineInput{
			{ProductID: products[2].ID, Quantity: 24, UnitPrice: products[2].CostPrice},
			{ProductID: products[3].ID, Quantity: 48, UnitPrice: products[3].CostPrice},
		},
		Notes:   "Opening replenishment",
		ActorID: seedActor,
	})
	if err != nil {
		return err
	}
	if _, err := svc.Confirm(ctx, po.ID, seedActor); err != nil {
		return err
	}
	_, err = svc.Receive(ctx, procurement.ReceiveInput{
		OrderID: po.ID,
		ActorID: seedActor,
		Items: []procurement.ReceiveItem{
			{ProductID: products[2].ID, Quantity: 24},
			{ProductID: products[3].ID, Quantity: 30},
		},
	})
	return err
}

// =============================================================================
// SALES
// =============================================================================

func seedSales(ctx context.Context, svc *sales.Service, products []catalog.Product) error {
	sale, err := svc.Create(ctx, sales.CreateInput{
		Customer:      sales.Customer{Name: "Walk-in Customer"},
		Lines:         []sales.LineInput{{ProductID: products[0].ID, Quantity: 2}, {ProductID: products[1].ID, Quantity: 3}},
		PaymentMethod: sales.PaymentCash,
		ActorID:       seedActor,
	})
	if err != nil {
		return err
	}
	if _, err := svc.RecordPayment(ctx, sales.PaymentInput{SaleID: sale.ID, Amount: sale.GrandTotal, ActorID: seedActor}); err != nil {
		return err
	}
	_, err = svc.Create(ctx, sales.CreateInput{
		Customer:      sales.Customer{Name: "Lakshmi Stores", Phone: "9800000000", GSTNumber: "29ABCDE1234F1Z5"},
		Lines:         []sales.LineInput{{ProductID: products[3].ID, Quantity: 12, Discount: decimal.NewFromInt(20)}},
		PaymentMethod: sales.PaymentCredit,
		ActorID:       seedActor,
	})
	return err
}
